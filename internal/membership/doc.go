// Package membership implements heartbeat gossip membership with
// timeout-based failure detection.
//
// A node joins through a well-known introducer, then once per tick bumps its
// own heartbeat, evicts members it has not heard a newer heartbeat from within
// the fail timeout, and pushes its whole member table to a few random
// members. Timestamps in the table are always local receipt ticks, never
// gossiped ones, so clock skew between nodes cannot cause false evictions.
//
// Removal is immediate on timeout; there is no suspect phase.
package membership
