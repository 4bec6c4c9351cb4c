// Package quorum tallies replica replies for one transaction.
// It handles replier dedup and decides when a write or read quorum is met
// or can no longer be met.
package quorum
