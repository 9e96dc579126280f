package infrastructure

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"synthcontrol/internal/config"
	"synthcontrol/internal/shared/testutil"
)

func testTelemetryConfig() config.TelemetryConfig {
	return config.TelemetryConfig{
		ServiceName:    "synthcontrol-test",
		ServiceVersion: "v0.0.0",
		Environment:    "test",
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		SampleRatio:    1.0,
	}
}

func shutdown(t *testing.T, tel *Telemetry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestInitializeTelemetry(t *testing.T) {
	logger, handler := testutil.NewTestLogger(t)

	var traces bytes.Buffer
	tel, err := InitializeTelemetry(testTelemetryConfig(), logger, &traces)
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.TracerProvider)
	assert.NotNil(t, tel.Tracer)
	assert.NotNil(t, tel.MeterProvider)
	assert.NotNil(t, tel.Meter)
	assert.NotNil(t, tel.Registry)

	testutil.AssertLogContains(t, handler, slog.LevelInfo, "initializing OpenTelemetry")
	testutil.AssertLogAttr(t, handler, "service", "synthcontrol-test")

	shutdown(t, tel)
}

func TestTelemetryConfiguration(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*config.TelemetryConfig)
		wantTracing bool
		wantMetrics bool
		wantErr     bool
	}{
		{"all exporters", func(*config.TelemetryConfig) {}, true, true, false},
		{"disabled tracing", func(c *config.TelemetryConfig) { c.TraceExporter = "none" }, false, true, false},
		{"disabled metrics", func(c *config.TelemetryConfig) { c.MetricExporter = "none" }, true, false, false},
		{"unknown trace exporter", func(c *config.TelemetryConfig) { c.TraceExporter = "otlp" }, false, false, true},
		{"unknown metric exporter", func(c *config.TelemetryConfig) { c.MetricExporter = "statsd" }, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testTelemetryConfig()
			tt.mutate(&cfg)

			tel, err := InitializeTelemetry(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), io.Discard)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.wantTracing, tel.TracerProvider != nil)
			assert.Equal(t, tt.wantMetrics, tel.MeterProvider != nil)
			// disabled exporters still hand out usable instruments
			assert.NotNil(t, tel.Tracer)
			assert.NotNil(t, tel.Meter)

			shutdown(t, tel)
		})
	}
}

func TestStdoutTraces(t *testing.T) {
	var traces bytes.Buffer
	tel, err := InitializeTelemetry(testTelemetryConfig(), nil, &traces)
	require.NoError(t, err)

	ctx, span := tel.Tracer.Start(context.Background(), "synth.Fit")
	traceID := TraceIDFromContext(ctx)
	span.End()

	assert.NotEmpty(t, traceID)
	assert.Equal(t, span.SpanContext().TraceID().String(), traceID)
	assert.Empty(t, TraceIDFromContext(context.Background()))

	// shutdown flushes the batcher
	shutdown(t, tel)
	assert.Contains(t, traces.String(), "synth.Fit")
	assert.Contains(t, traces.String(), traceID)
}

func TestMetricsHandler(t *testing.T) {
	tel, err := InitializeTelemetry(testTelemetryConfig(), nil, io.Discard)
	require.NoError(t, err)
	defer shutdown(t, tel)

	counter, err := tel.Meter.Int64Counter("test_solves_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	server := httptest.NewServer(tel.MetricsHandler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Contains(t, string(body), "test_solves")
}

func TestMetricsHandler_Disabled(t *testing.T) {
	cfg := testTelemetryConfig()
	cfg.MetricExporter = "none"
	tel, err := InitializeTelemetry(cfg, nil, io.Discard)
	require.NoError(t, err)
	defer shutdown(t, tel)

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstallGlobal(t *testing.T) {
	prevTracer := otel.GetTracerProvider()
	prevMeter := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTracer)
		otel.SetMeterProvider(prevMeter)
	})

	tel, err := InitializeTelemetry(testTelemetryConfig(), nil, io.Discard)
	require.NoError(t, err)
	defer shutdown(t, tel)

	tel.InstallGlobal()
	assert.Same(t, tel.TracerProvider, otel.GetTracerProvider())
	assert.Same(t, tel.MeterProvider, otel.GetMeterProvider())
}

func BenchmarkTraceOperations(b *testing.B) {
	tel, err := InitializeTelemetry(testTelemetryConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), io.Discard)
	require.NoError(b, err)
	defer tel.Shutdown(context.Background())

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, span := tel.Tracer.Start(ctx, "bench")
		span.End()
	}
}
