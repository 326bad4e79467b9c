package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-shape/pkg/domain"
)

type staticStats domain.CompressionStats

func (s staticStats) CompressionStats() domain.CompressionStats {
	return domain.CompressionStats(s)
}

func TestStatsCollector_Gather(t *testing.T) {
	source := staticStats{
		Requests:            4,
		Compressed:          2,
		BytesOriginal:       4000,
		BytesCompressed:     2000,
		AvgCompressionRatio: 0.5,
		CompressionRate:     50,
		AvgSavings:          1000,
	}
	registry := NewRegistry(source)

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[family.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[family.GetName()] = m.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 4.0, values["shape_compression_requests_total"])
	assert.Equal(t, 2.0, values["shape_compression_compressed_total"])
	assert.Equal(t, 4000.0, values["shape_compression_original_bytes_total"])
	assert.Equal(t, 2000.0, values["shape_compression_compressed_bytes_total"])
	assert.Equal(t, 0.5, values["shape_compression_ratio"])
	assert.Equal(t, 50.0, values["shape_compression_rate_percent"])
	assert.Equal(t, 1000.0, values["shape_compression_avg_savings_bytes"])
	assert.Contains(t, values, "go_goroutines")
}

func TestHandler(t *testing.T) {
	server := httptest.NewServer(Handler(NewRegistry(staticStats{Requests: 7})))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "shape_compression_requests_total 7")
}
