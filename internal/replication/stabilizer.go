package replication

import (
	"github.com/sirupsen/logrus"

	"ringkv/internal/address"
	"ringkv/internal/ring"
	"ringkv/internal/storage"
)

// Stabilizer re-replicates the local table after a ring change so every
// key lives on exactly the replicas of the new ring.
type Stabilizer struct {
	self  address.Address
	store storage.Store
	coord *Coordinator
	log   *logrus.Entry
}

// NewStabilizer creates a stabilizer that issues its transactions through
// coord.
func NewStabilizer(self address.Address, store storage.Store, coord *Coordinator, log *logrus.Entry) *Stabilizer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Stabilizer{
		self:  self,
		store: store,
		coord: coord,
		log:   log.WithFields(logrus.Fields{"node": self.String(), "component": "stabilizer"}),
	}
}

// Stabilize runs one pass for ch. For every local key it deletes the key
// from old neighbours outside the new triple, upserts it onto the new
// triple and drops the local copy if this node is no longer a replica.
// Keys are left alone while the new ring is too small to replicate.
func (s *Stabilizer) Stabilize(ch ring.Change) {
	rows := s.store.Snapshot()
	if ch.New.Len() < ring.ReplicationFactor {
		s.log.WithFields(logrus.Fields{"ring_size": ch.New.Len(), "keys": len(rows)}).Warn("Ring too small, skipping stabilization")
		return
	}

	stale := union(ch.HasMyReplicas, ch.HaveReplicasOf)
	var moved, dropped int

	for _, row := range rows {
		targets := ch.New.FindReplicas(row.Key)

		var purge []address.Address
		for _, n := range stale {
			if n != s.self && !contains(targets, n) {
				purge = append(purge, n)
			}
		}
		if len(purge) > 0 {
			if _, err := s.coord.Purge(row.Key, purge); err != nil {
				s.log.WithError(err).WithField("key", row.Key).Warn("Purge not issued")
			}
		}

		if _, err := s.coord.Replicate(row.Key, row.Value, targets); err != nil {
			s.log.WithError(err).WithField("key", row.Key).Warn("Re-replication not issued")
			continue
		}
		moved++

		if !contains(targets, s.self) {
			if err := s.store.Delete(row.Key); err == nil {
				dropped++
			}
		}
	}

	s.log.WithFields(logrus.Fields{
		"ring_size":  ch.New.Len(),
		"keys":       len(rows),
		"replicated": moved,
		"dropped":    dropped,
		"stale":      len(stale),
	}).Info("Stabilization pass complete")
}

func union(a, b []address.Address) []address.Address {
	out := make([]address.Address, 0, len(a)+len(b))
	for _, x := range a {
		if !contains(out, x) {
			out = append(out, x)
		}
	}
	for _, x := range b {
		if !contains(out, x) {
			out = append(out, x)
		}
	}
	return out
}

func contains(list []address.Address, a address.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}
