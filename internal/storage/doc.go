// Package storage provides the local key-value table each replica keeps.
// Creates fail on existing keys and updates or deletes fail on missing ones;
// the replication layer turns those errors into negative replies.
package storage
