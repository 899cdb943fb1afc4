package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMeter sets up a meter provider backed by a manual reader so
// tests can collect what the middleware recorded.
func setupTestMeter(t *testing.T) (*sdkmetric.MeterProvider, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
	})

	return mp, reader
}

// collectMetrics collects metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
	return rm
}

// findMetricByName finds a metric by name in the collected metrics.
func findMetricByName(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumDataPoints totals all data points of an int64 sum metric.
func sumDataPoints(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s should be an int64 sum", m.Name)

	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func newMetricsRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(mw)
	router.GET("/recon/queue", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"records": []string{}})
	})
	router.GET("/recon/:nvc_code", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"nvc_code": c.Param("nvc_code")})
	})
	router.POST("/sync/trigger", func(c *gin.Context) {
		c.JSON(http.StatusAccepted, gin.H{"started": true})
	})
	router.GET("/missing", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return router
}

func TestHTTPMetrics_Disabled(t *testing.T) {
	cfg := HTTPMetricsConfig{Enabled: false}
	router := newMetricsRouter(HTTPMetrics(cfg))

	req := httptest.NewRequest(http.MethodGet, "/recon/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Disabled config degrades to a pass-through
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPMetrics_NilMeterProvider(t *testing.T) {
	cfg := HTTPMetricsConfig{Enabled: true, MeterProvider: nil}
	router := newMetricsRouter(HTTPMetrics(cfg))

	req := httptest.NewRequest(http.MethodGet, "/recon/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPMetricsWithMeter_Disabled(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), false))

	req := httptest.NewRequest(http.MethodGet, "/recon/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	rm := collectMetrics(t, reader)
	assert.Nil(t, findMetricByName(rm, "http_server_request_total"))
}

func TestHTTPMetricsWithMeter_RequestCounter(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/recon/queue", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	rm := collectMetrics(t, reader)
	counter := findMetricByName(rm, "http_server_request_total")
	require.NotNil(t, counter)
	assert.Equal(t, int64(3), sumDataPoints(t, counter))

	sum, ok := counter.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.NotEmpty(t, sum.DataPoints)

	attrs := sum.DataPoints[0].Attributes
	method, _ := attrs.Value(attribute.Key("http.method"))
	assert.Equal(t, "GET", method.AsString())
	route, _ := attrs.Value(attribute.Key("http.route"))
	assert.Equal(t, "/recon/queue", route.AsString())
	status, _ := attrs.Value(attribute.Key("http.status_code"))
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())
}

func TestHTTPMetricsWithMeter_DifferentStatusCodes(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	for _, path := range []string{"/recon/queue", "/missing"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	rm := collectMetrics(t, reader)
	counter := findMetricByName(rm, "http_server_request_total")
	require.NotNil(t, counter)

	sum, ok := counter.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	// One series per route/status pair
	assert.Len(t, sum.DataPoints, 2)

	seen := map[int64]bool{}
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("http.status_code"))
		seen[status.AsInt64()] = true
	}
	assert.True(t, seen[http.StatusOK])
	assert.True(t, seen[http.StatusNotFound])
}

func TestHTTPMetricsWithMeter_RoutePatternNotRawPath(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	// Two different NVC codes must land on the same series
	for _, code := range []string{"NVC7KVAR66CR", "NVC7KXYZ99AB"} {
		req := httptest.NewRequest(http.MethodGet, "/recon/"+code, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
	}

	rm := collectMetrics(t, reader)
	counter := findMetricByName(rm, "http_server_request_total")
	require.NotNil(t, counter)

	sum, ok := counter.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)

	route, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("http.route"))
	assert.Equal(t, "/recon/:nvc_code", route.AsString())
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func TestHTTPMetricsWithMeter_UnmatchedRoute(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	req := httptest.NewRequest(http.MethodGet, "/no/such/route", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	rm := collectMetrics(t, reader)
	counter := findMetricByName(rm, "http_server_request_total")
	require.NotNil(t, counter)

	sum, ok := counter.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)

	route, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("http.route"))
	assert.Equal(t, "unknown", route.AsString())
}

func TestHTTPMetricsWithMeter_RequestDuration(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	req := httptest.NewRequest(http.MethodPost, "/sync/trigger", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	rm := collectMetrics(t, reader)
	duration := findMetricByName(rm, "http_server_request_duration_seconds")
	require.NotNil(t, duration)

	hist, ok := duration.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)

	// Duration series carry only method and route, not status
	_, hasStatus := hist.DataPoints[0].Attributes.Value(attribute.Key("http.status_code"))
	assert.False(t, hasStatus)
}

func TestHTTPMetricsWithMeter_RequestSize(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	body := strings.NewReader(`{"source": "emails"}`)
	req := httptest.NewRequest(http.MethodPost, "/sync/trigger", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	rm := collectMetrics(t, reader)
	size := findMetricByName(rm, "http_server_request_size_bytes")
	require.NotNil(t, size)

	hist, ok := size.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, float64(20), hist.DataPoints[0].Sum)
}

func TestHTTPMetricsWithMeter_ResponseSize(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	req := httptest.NewRequest(http.MethodGet, "/recon/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	rm := collectMetrics(t, reader)
	size := findMetricByName(rm, "http_server_response_size_bytes")
	require.NotNil(t, size)

	hist, ok := size.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Greater(t, hist.DataPoints[0].Sum, float64(0))
}

func TestHTTPMetricsWithMeter_ActiveRequests(t *testing.T) {
	mp, reader := setupTestMeter(t)
	router := newMetricsRouter(HTTPMetricsWithMeter(mp.Meter("http.server"), true))

	req := httptest.NewRequest(http.MethodGet, "/recon/queue", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	rm := collectMetrics(t, reader)
	active := findMetricByName(rm, "http_server_active_requests")
	require.NotNil(t, active)

	// Increment and decrement cancel out once the request completes
	assert.Equal(t, int64(0), sumDataPoints(t, active))
}

func TestGetRequestSize(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("uses content length when present", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, "/sync/trigger", strings.NewReader("0123456789"))
		assert.Equal(t, int64(10), getRequestSize(c))
	})

	t.Run("returns zero without a body", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/recon/queue", nil)
		assert.Equal(t, int64(0), getRequestSize(c))
	})
}

func TestHTTPMetricsStatusGroup(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{204, "2xx"},
		{301, "3xx"},
		{304, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "other"},
		{0, "other"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, HTTPMetricsStatusGroup(tt.status), "status %d", tt.status)
	}
}

func TestParseStatusCode(t *testing.T) {
	assert.Equal(t, 200, ParseStatusCode("200"))
	assert.Equal(t, 404, ParseStatusCode("404"))
	assert.Equal(t, 0, ParseStatusCode("not-a-code"))
	assert.Equal(t, 0, ParseStatusCode(""))
}

func TestHTTPMetricsResponseWriter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	writer := &HTTPMetricsResponseWriter{ResponseWriter: c.Writer}

	n, err := writer.Write([]byte("queue payload"))
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, 13, writer.BytesWritten())

	_, err = writer.Write([]byte(" more"))
	require.NoError(t, err)
	assert.Equal(t, 18, writer.BytesWritten())
}

func TestDefaultHTTPMetricsConfig(t *testing.T) {
	cfg := DefaultHTTPMetricsConfig()

	assert.Equal(t, "payops-recon", cfg.ServiceName)
	assert.True(t, cfg.Enabled)
	assert.Nil(t, cfg.MeterProvider)
}
