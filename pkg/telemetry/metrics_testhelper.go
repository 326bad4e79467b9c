package telemetry

import "sync"

// ResetMetricsForTest clears cached metric instruments so tests can
// reinitialize them against a fresh MeterProvider. This is intended for
// use in test code only.
func ResetMetricsForTest() {
	metricsOnce = sync.Once{}
	metricsInitErr = nil
	compressionCounter = nil
	compressionBytesIn = nil
	compressionBytesOut = nil
	compressionRatioHist = nil
	compressionLatencyHist = nil
	serializationCounter = nil
	serializationBytesHist = nil
	serializationOversized = nil
	serializationLatencyHist = nil
}
