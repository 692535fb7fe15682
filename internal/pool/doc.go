// Package pool provides the fixed-capacity pool of speech recognition
// engines shared by all sessions, and the startup sizing logic that derives
// the capacity from available accelerator memory.
package pool
