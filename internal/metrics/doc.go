// Package metrics provides Prometheus instrumentation and the periodic
// publish loop for service-level gauges.
package metrics
