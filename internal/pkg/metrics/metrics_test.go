package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/pkg/metrics"
)

func counterValue(t *testing.T, operation, outcome string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.IngestionOperations.WithLabelValues(operation, outcome).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordIngestion(t *testing.T) {
	before := counterValue(t, "pulse", metrics.OutcomeNotFound)
	metrics.RecordIngestion("pulse", metrics.OutcomeNotFound)
	metrics.RecordIngestion("pulse", metrics.OutcomeNotFound)
	assert.Equal(t, 2.0, counterValue(t, "pulse", metrics.OutcomeNotFound)-before)
}

func TestHandlerExposesCollectors(t *testing.T) {
	metrics.ObserveQuery("geo_stats", time.Now().Add(-10*time.Millisecond))
	metrics.SessionsCreated.Inc()

	app := fiber.New()
	app.Get("/metrics", metrics.Handler())

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `sitepulse_query_duration_seconds_count{query="geo_stats"}`)
	assert.Contains(t, string(body), "sitepulse_sessions_created_total")
}
