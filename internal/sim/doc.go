// Package sim runs a whole cluster in one process over the lossy in-memory
// network, one shared tick clock driving every node. It is the application
// driver behind "ringkv simulate" and the cluster-level tests.
package sim
