// Package replication implements quorum CRUD over a key's replica triple.
//
// Coordinator is the client-facing side: it fans a request out to the
// replicas, tracks one transaction per request and resolves it on a 2-of-3
// quorum or a timeout. Replica applies requests to the local table and
// replies exactly once. Stabilizer re-replicates the local table whenever
// the ring changes.
//
// None of the types here are safe for concurrent use; the owning node
// serializes every call.
package replication
