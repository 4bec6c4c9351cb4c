// Package ring implements the consistent hashing ring that places keys on
// replica triples.
//
// Node addresses and keys share a small hash space. A Ring is an immutable
// snapshot sorted by node hash; Manager rebuilds it whenever membership
// drifts and tracks the neighbours that replicate the local node's keys.
package ring
