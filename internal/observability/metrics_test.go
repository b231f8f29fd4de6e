package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandlerExposesCollectors(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Capture.RecordChunk("buffered")
	m.Kapture.RecordKapture("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `kapt_capture_chunks_total{status="buffered"} 1`)
	assert.Contains(t, body, `kapt_kaptures_total{status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
