// Package vad provides voice activity detection backends.
//
// Backends register themselves with the engine registry in init, so
// importing this package for side effects makes its detectors available
// by name.
package vad
