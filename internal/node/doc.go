// Package node runs one cluster member.
//
// A Node owns the membership service, the ring manager, the local table,
// the coordinator and the replica handlers of one address, and drives them
// from Tick: refresh the ring (stabilizing on change), drain the inbox,
// gossip, then time out stale transactions. Tick and the client operations
// are serialized by a single mutex, so a node is safe to drive from one
// goroutine while an admin server reads it from others.
package node
