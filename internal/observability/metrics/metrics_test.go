package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("usage_type", "call_minutes"),
		attribute.String("phone_number", "15551234567"),
		attribute.String("outcome", "accepted"),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("usage_type"), attrs[0].Key)
	assert.Equal(t, attribute.Key("outcome"), attrs[1].Key)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordUsage(context.Background(), "call_minutes", 3)
	m.RecordWebhookDelivery(context.Background(), "call.ended", "failed", 0)
	m.RecordRateLimitDenied(context.Background(), "ingest", "rate_limited")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "voxbill"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordUsage(context.Background(), "sms_inbound", 1)
	m.RecordProviderEvent(context.Background(), "call.ended", "accepted")
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m, err := NewHTTPMetricsWith(reg)
	require.NoError(t, err)

	again, err := NewHTTPMetricsWith(reg)
	require.NoError(t, err)
	assert.Same(t, m.requests, again.requests)

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.requests.WithLabelValues("/health", http.MethodGet, "200")))
}
