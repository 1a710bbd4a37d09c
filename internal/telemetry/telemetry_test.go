package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/matrixflow/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

// saveAndRestoreGlobalProvider snapshots the global tracer provider
// and restores it via t.Cleanup so tests don't leak state.
func saveAndRestoreGlobalProvider(t *testing.T) {
	t.Helper()
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func TestInit_Disabled(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	p, err := Init(config.TelemetryConfig{Enabled: false}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.tp, "TracerProvider should be nil when disabled")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_Enabled(t *testing.T) {
	saveAndRestoreGlobalProvider(t)

	cfg := config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "matrixflow-test",
		SampleRate:   0.5,
	}
	p, err := Init(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NotNil(t, p.tp)

	_, isSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, isSDK, "global TracerProvider should be *sdktrace.TracerProvider")

	// No collector is running; only verify shutdown finishes.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestInitWithExporter_RecordsSpans(t *testing.T) {
	saveAndRestoreGlobalProvider(t)
	exporter := tracetest.NewInMemoryExporter()

	p, err := initWithExporter(config.TelemetryConfig{ServiceName: "matrixflow-test", SampleRate: 1}, exporter)
	require.NoError(t, err)

	_, span := otel.Tracer("matrixflow/test").Start(context.Background(), "job")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "job", spans[0].Name)
}

func TestProviders_Shutdown_Nil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestVersion(t *testing.T) {
	// Test binaries report "(devel)", so Version falls back to "dev".
	assert.Equal(t, "dev", Version())

	version = "v1.2.3"
	t.Cleanup(func() { version = "" })
	assert.Equal(t, "v1.2.3", Version())
}
