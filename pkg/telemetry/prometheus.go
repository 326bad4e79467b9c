package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/polis-shape/pkg/domain"
)

// StatsSource exposes a snapshot of the compression counters.
type StatsSource interface {
	CompressionStats() domain.CompressionStats
}

// StatsCollector exports a StatsSource as Prometheus metrics. Values are read
// at scrape time, so a reset of the source shows up as a counter reset.
type StatsCollector struct {
	source StatsSource

	requests        *prometheus.Desc
	compressed      *prometheus.Desc
	bytesOriginal   *prometheus.Desc
	bytesCompressed *prometheus.Desc
	avgRatio        *prometheus.Desc
	compressionRate *prometheus.Desc
	avgSavings      *prometheus.Desc
}

// NewStatsCollector creates a collector reading from source.
func NewStatsCollector(source StatsSource) *StatsCollector {
	return &StatsCollector{
		source: source,
		requests: prometheus.NewDesc(
			"shape_compression_requests_total",
			"Compression attempts that passed the enabled and threshold gates",
			nil, nil,
		),
		compressed: prometheus.NewDesc(
			"shape_compression_compressed_total",
			"Successful compressions",
			nil, nil,
		),
		bytesOriginal: prometheus.NewDesc(
			"shape_compression_original_bytes_total",
			"Bytes before compression, summed over successful compressions",
			nil, nil,
		),
		bytesCompressed: prometheus.NewDesc(
			"shape_compression_compressed_bytes_total",
			"Bytes after compression, summed over successful compressions",
			nil, nil,
		),
		avgRatio: prometheus.NewDesc(
			"shape_compression_ratio",
			"Aggregate fraction of bytes saved over all successful compressions",
			nil, nil,
		),
		compressionRate: prometheus.NewDesc(
			"shape_compression_rate_percent",
			"Percentage of attempts that produced a compressed body",
			nil, nil,
		),
		avgSavings: prometheus.NewDesc(
			"shape_compression_avg_savings_bytes",
			"Average bytes saved per successful compression",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.compressed
	ch <- c.bytesOriginal
	ch <- c.bytesCompressed
	ch <- c.avgRatio
	ch <- c.compressionRate
	ch <- c.avgSavings
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.source.CompressionStats()
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(stats.Requests))
	ch <- prometheus.MustNewConstMetric(c.compressed, prometheus.CounterValue, float64(stats.Compressed))
	ch <- prometheus.MustNewConstMetric(c.bytesOriginal, prometheus.CounterValue, float64(stats.BytesOriginal))
	ch <- prometheus.MustNewConstMetric(c.bytesCompressed, prometheus.CounterValue, float64(stats.BytesCompressed))
	ch <- prometheus.MustNewConstMetric(c.avgRatio, prometheus.GaugeValue, stats.AvgCompressionRatio)
	ch <- prometheus.MustNewConstMetric(c.compressionRate, prometheus.GaugeValue, stats.CompressionRate)
	ch <- prometheus.MustNewConstMetric(c.avgSavings, prometheus.GaugeValue, stats.AvgSavings)
}

// NewRegistry returns a registry with the stats collector and the standard
// Go and process collectors registered.
func NewRegistry(source StatsSource) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewStatsCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry
}

// Handler returns the /metrics HTTP handler for registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
