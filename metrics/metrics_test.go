package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m Meter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	m, err := New(&Config{Enabled: false})
	require.NoError(t, err)
	_, ok := m.(*noopMeter)
	assert.True(t, ok)

	m, err = New(NewDevDefaultConfig("pubsub-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	_, ok = m.(*meterImpl)
	assert.True(t, ok)
}

func TestInstrumentsExported(t *testing.T) {
	ctx := context.Background()
	m, err := New(NewDevDefaultConfig("pubsub-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(ctx) })

	counter, err := m.Counter("pubsub_test_ops_total", "ops")
	require.NoError(t, err)
	counter.Inc(ctx, L("op", "set"))
	counter.Add(ctx, 2, L("op", "refresh"))

	gauge, err := m.Gauge("pubsub_test_tracked", "tracked endpoints")
	require.NoError(t, err)
	gauge.Set(ctx, 3, L("table", "publications"))
	gauge.Inc(ctx, L("table", "publications"))
	gauge.Dec(ctx, L("table", "subscriptions"))

	hist, err := m.Histogram("pubsub_test_watch_seconds", "watch latency", WithUnit("s"), WithBuckets([]float64{0.1, 1}))
	require.NoError(t, err)
	hist.Record(ctx, 0.5)

	body := scrape(t, m)
	assert.Contains(t, body, "pubsub_test_ops")
	assert.Contains(t, body, `op="refresh"`)
	assert.Contains(t, body, "pubsub_test_tracked")
	assert.Contains(t, body, "pubsub_test_watch_seconds")
}

func TestNoopMeter(t *testing.T) {
	ctx := context.Background()
	m := Discard()
	c, err := m.Counter("x", "x")
	require.NoError(t, err)
	c.Inc(ctx)
	g, err := m.Gauge("y", "y")
	require.NoError(t, err)
	g.Dec(ctx)
	h, err := m.Histogram("z", "z")
	require.NoError(t, err)
	h.Record(ctx, 1)
	assert.NoError(t, m.Shutdown(ctx))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLabelHelpers(t *testing.T) {
	assert.Equal(t, Label{Key: "k", Value: "v"}, L("k", "v"))
	assert.Equal(t, "", labelKey(nil))
	assert.Equal(t, "a=1|b=2", labelKey([]Label{L("a", "1"), L("b", "2")}))
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeError, Outcome(errors.New("x")))
	assert.Equal(t, "4xx", HTTPStatusClass(404))
	assert.Equal(t, "unknown", HTTPStatusClass(42))
	assert.Equal(t, OutcomeError, HTTPOutcome(500))
}

func TestGinHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, err := New(NewDevDefaultConfig("pubsub-test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	hm, err := NewHTTPServerMetrics(m, "pubsubd")
	require.NoError(t, err)

	r := gin.New()
	r.Use(GinHTTPMiddleware(hm))
	r.GET("/status", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/status", "/missing"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m)
	assert.Contains(t, body, `route="/status"`)
	assert.Contains(t, body, `route="unknown"`)

	_, err = NewHTTPServerMetrics(nil, "x")
	assert.Error(t, err)
}
