package observability_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Additional-Code/ordergate/internal/config"
	"github.com/Additional-Code/ordergate/internal/observability"
)

func TestDisabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{Observability: config.Observability{ServiceName: "ordergate"}}

	mgr, err := observability.NewManager(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart().RequireStop()

	assert.False(t, mgr.TracingEnabled())
	assert.False(t, mgr.MetricsEnabled())
	assert.Nil(t, mgr.MetricsHandler())
}

func TestStdoutTracing(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := config.Config{Observability: config.Observability{
		ServiceName:   "ordergate",
		EnableTracing: true,
		TraceExporter: "stdout",
	}}

	mgr, err := observability.NewManager(lc, cfg, zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart().RequireStop()

	assert.True(t, mgr.TracingEnabled())
}

func TestOTLPRequiresEndpoint(t *testing.T) {
	cfg := config.Config{Observability: config.Observability{
		ServiceName:   "ordergate",
		EnableTracing: true,
		TraceExporter: "otlp",
	}}

	_, err := observability.NewManager(fxtest.NewLifecycle(t), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "OBS_OTLP_ENDPOINT")
}

func prometheusConfig() config.Config {
	return config.Config{
		Observability: config.Observability{
			ServiceName:     "ordergate",
			EnableMetrics:   true,
			MetricsExporter: "prometheus",
			PrometheusPath:  "/metrics",
		},
		Backend: config.Backend{OrderEntity: "lifelines_order"},
		GraphQL: config.GraphQL{Path: "/graphql"},
	}
}

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestPrometheusDurationBuckets(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	mgr, err := observability.NewManager(lc, prometheusConfig(), zap.NewNop())
	require.NoError(t, err)
	lc.RequireStart()
	defer lc.RequireStop()

	require.True(t, mgr.MetricsEnabled())
	assert.Equal(t, "/metrics", mgr.PrometheusPath())

	hist, err := mgr.MeterProvider().Meter("test").Float64Histogram("graphql.operation.duration", metric.WithUnit("s"))
	require.NoError(t, err)
	hist.Record(context.Background(), 0.02)

	body := scrape(t, mgr.MetricsHandler())
	assert.Contains(t, body, "graphql_operation_duration")
	assert.Contains(t, body, `le="0.025"`)
	assert.Contains(t, body, "go_goroutines")
	assert.Contains(t, body, `ordergate_backend_entity="lifelines_order"`)
}

func TestManagersKeepSeparateRegistries(t *testing.T) {
	first, err := observability.NewManager(fxtest.NewLifecycle(t), prometheusConfig(), zap.NewNop())
	require.NoError(t, err)
	second, err := observability.NewManager(fxtest.NewLifecycle(t), prometheusConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, first.MetricsHandler())
	assert.NotNil(t, second.MetricsHandler())
	require.NoError(t, first.Shutdown(context.Background()))
	require.NoError(t, second.Shutdown(context.Background()))
}
