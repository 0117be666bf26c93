// Package quorum provides fan-out coordination for replica reads and writes.
// It handles concurrent fetches, spare substitution, timeouts, and early
// cancellation once enough replicas have answered.
package quorum
