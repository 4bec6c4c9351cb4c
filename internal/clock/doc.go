// Package clock provides the discrete time source that drives every node.
// Time is a monotonically increasing tick counter shared by the membership
// protocol (member timestamps) and the coordinator (transaction timeouts).
package clock
