// Package telemetry wires OpenTelemetry exporters, meters, and Prometheus
// collectors for the response optimizer.
//
// It centralises trace provider setup, records compression and serialization
// metrics, and offers enrichment helpers that attach optimization outcomes to
// spans so operators can correlate payload savings with upstream behaviour.
package telemetry
