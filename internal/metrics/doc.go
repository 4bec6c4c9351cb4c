// Package metrics exposes node and cluster activity as Prometheus metrics.
package metrics
