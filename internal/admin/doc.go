// Package admin serves the HTTP debug and client API of a single node:
// membership, ring and local table views, key-value operations and the
// Prometheus metrics endpoint.
package admin
