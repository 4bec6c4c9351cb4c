package admin

import (
	"sync"

	"ringkv/internal/replication"
)

// DefaultResultCapacity is how many terminal transactions a Results keeps.
const DefaultResultCapacity = 1024

// Results remembers the most recent terminal transactions so clients can
// poll the outcome of an operation they issued. Its Record method is a
// replication.ResultFunc.
type Results struct {
	mu    sync.Mutex
	cap   int
	order []int64
	byID  map[int64]replication.Result
}

// NewResults creates a Results holding up to capacity entries.
func NewResults(capacity int) *Results {
	if capacity <= 0 {
		capacity = DefaultResultCapacity
	}
	return &Results{cap: capacity, byID: make(map[int64]replication.Result, capacity)}
}

// Record stores r, evicting the oldest entry when full.
func (r *Results) Record(res replication.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[res.TxID]; !ok {
		r.order = append(r.order, res.TxID)
	}
	r.byID[res.TxID] = res

	for len(r.order) > r.cap {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

// Get returns the result of transaction id.
func (r *Results) Get(id int64) (replication.Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.byID[id]
	return res, ok
}

// Len returns the number of stored results.
func (r *Results) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
