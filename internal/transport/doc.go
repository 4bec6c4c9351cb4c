// Package transport defines the contract between a node and the network:
// best-effort Send to an address, and a per-address FIFO inbox the node
// drains once per tick.
//
// Network is an in-memory implementation used by simulations and tests. It
// can drop messages at a configurable rate and can take nodes down, after
// which everything addressed to them is discarded.
package transport
