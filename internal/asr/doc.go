// Package asr provides speech recognition backends.
//
// Backends register themselves with the engine registry in init, so
// importing this package for side effects makes its clients available
// by name.
package asr
