// Package server contains the WebSocket streaming endpoint and the
// monitoring HTTP API.
package server
