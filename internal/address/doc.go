// Package address defines the endpoint identity shared by every layer of a
// ringkv node: the membership table, the ring and the wire messages.
package address
