package quorum

import (
	"fmt"

	"ringkv/internal/address"
	"ringkv/internal/message"
)

// Outcome is the state of a tally.
type Outcome int

const (
	Pending Outcome = iota
	Success
	Failure
)

// String returns the string representation of Outcome.
func (o Outcome) String() string {
	switch o {
	case Pending:
		return "PENDING"
	case Success:
		return "SUCCESS"
	case Failure:
		return "FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Majority returns the default quorum for n replicas.
func Majority(n int) int {
	return n/2 + 1
}

// Write counts acknowledgements for a CREATE, UPDATE or DELETE.
// Each replica is counted at most once.
type Write struct {
	replicas int
	required int
	acks     int
	nacks    int
	seen     map[address.Address]bool
	outcome  Outcome
}

// NewWrite creates a tally over replicas repliers needing required acks.
// A non-positive required means a majority.
func NewWrite(replicas, required int) (*Write, error) {
	if replicas <= 0 {
		return nil, fmt.Errorf("quorum: no replicas")
	}
	if required <= 0 {
		required = Majority(replicas)
	}
	if required > replicas {
		return nil, fmt.Errorf("quorum: required W=%d exceeds replica count=%d", required, replicas)
	}
	return &Write{
		replicas: replicas,
		required: required,
		seen:     make(map[address.Address]bool, replicas),
	}, nil
}

// Record applies one reply. It returns the outcome after the reply and
// whether this reply moved the tally into a terminal outcome. Duplicate
// replies and replies after completion change nothing.
func (w *Write) Record(from address.Address, success bool) (Outcome, bool) {
	if w.outcome != Pending || w.seen[from] {
		return w.outcome, false
	}
	w.seen[from] = true

	if success {
		w.acks++
	} else {
		w.nacks++
	}

	switch {
	case w.acks >= w.required:
		w.outcome = Success
	case w.nacks > w.replicas-w.required:
		w.outcome = Failure
	default:
		return Pending, false
	}
	return w.outcome, true
}

// Outcome returns the current outcome.
func (w *Write) Outcome() Outcome { return w.outcome }

// Acks returns the number of successful replies counted.
func (w *Write) Acks() int { return w.acks }

// Nacks returns the number of failed replies counted.
func (w *Write) Nacks() int { return w.nacks }

// Required returns the number of acks needed.
func (w *Write) Required() int { return w.required }

// Read collects values for a READ. It succeeds once a majority of the
// replicas returned the same value that is not the miss sentinel, and fails
// once every replica replied without that happening.
type Read struct {
	replicas int
	required int
	values   []string
	seen     map[address.Address]bool
	outcome  Outcome
	value    string
}

// NewRead creates a read tally over replicas repliers.
func NewRead(replicas int) (*Read, error) {
	if replicas <= 0 {
		return nil, fmt.Errorf("quorum: no replicas")
	}
	return &Read{
		replicas: replicas,
		required: Majority(replicas),
		seen:     make(map[address.Address]bool, replicas),
	}, nil
}

// Record applies one returned value, with the same contract as
// Write.Record.
func (r *Read) Record(from address.Address, value string) (Outcome, bool) {
	if r.outcome != Pending || r.seen[from] {
		return r.outcome, false
	}
	r.seen[from] = true
	r.values = append(r.values, value)

	if value != message.MissSentinel {
		n := 0
		for _, v := range r.values {
			if v == value {
				n++
			}
		}
		if n >= r.required {
			r.outcome = Success
			r.value = value
			return r.outcome, true
		}
	}

	if len(r.values) == r.replicas {
		r.outcome = Failure
		return r.outcome, true
	}
	return Pending, false
}

// Outcome returns the current outcome.
func (r *Read) Outcome() Outcome { return r.outcome }

// Value returns the agreed value once the tally succeeded.
func (r *Read) Value() string { return r.value }

// Values returns the values received so far in arrival order.
func (r *Read) Values() []string {
	return append([]string(nil), r.values...)
}
