// Package audio provides PCM framing helpers: WAV encoding of raw sample
// buffers for engines that upload or materialize audio files.
package audio
