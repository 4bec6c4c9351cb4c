// Package eventlog receives the structured events a node emits: members
// joining and leaving a node's view, and the outcome of every key-value
// operation on both the coordinator and the replica side.
package eventlog
