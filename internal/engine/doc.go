// Package engine defines the capability contracts for voice activity
// detection and speech recognition backends, plus the registries used to
// select an implementation by name at startup.
package engine
