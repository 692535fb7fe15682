// Package session holds the per-connection mutable state of an audio stream:
// the live and scratch buffers, the in-band configuration, and the counters
// read by the metrics collaborator.
package session
