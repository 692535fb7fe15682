// Package buffering decides when accumulated session audio becomes a
// finalized chunk and drives it through voice detection and transcription.
package buffering
