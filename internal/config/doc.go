// Package config provides configuration loading and validation for the
// transcription streaming service. It handles YAML-based configuration with
// struct validation; the entire surface is fixed at process startup.
package config
