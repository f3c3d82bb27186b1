package tracing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kandev/agentmux/internal/common/logger"
)

// fileLogger writes JSON logs to a temp file so tests can read them back.
func fileLogger(t *testing.T) (*logger.Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracing.log")
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "json", OutputPath: path})
	require.NoError(t, err)
	return log, path
}

func readLog(t *testing.T, log *logger.Logger, path string) string {
	t.Helper()
	_ = log.Sync()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    endpoint
		wantErr bool
	}{
		{in: "http://localhost:4318", want: endpoint{host: "localhost:4318", insecure: true}},
		{in: "https://collector.example.com", want: endpoint{host: "collector.example.com"}},
		{in: "https://collector.example.com/otel/v1/traces/", want: endpoint{host: "collector.example.com", path: "/otel/v1/traces"}},
		{in: "collector:4318", want: endpoint{host: "collector:4318", insecure: true}},
		{in: "grpc://collector:4317", wantErr: true},
		{in: "http://", wantErr: true},
		{in: "collector:4318/v1/traces", wantErr: true},
		{in: "http://bad host:4318", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseEndpoint(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInitWithoutEndpointStaysNoop(t *testing.T) {
	log, _ := fileLogger(t)
	require.NoError(t, Init(context.Background(), Options{}, log))

	_, isNoop := Tracer("test").(noop.Tracer)
	assert.True(t, isNoop)

	ctx, span := TraceSpawn(context.Background(), "tmux", "a1")
	assert.NotNil(t, ctx)
	TraceResult(span, errors.New("boom"))
	span.End()
	assert.NoError(t, Shutdown(context.Background()))
}

func TestInitRejectsInvalidEndpoint(t *testing.T) {
	log, path := fileLogger(t)

	err := Init(context.Background(), Options{Endpoint: "grpc://collector:4317"}, log)
	require.Error(t, err)

	_, isNoop := Tracer("test").(noop.Tracer)
	assert.True(t, isNoop, "tracing must stay disabled after a failed init")

	out := readLog(t, log, path)
	assert.Contains(t, out, "tracing disabled, invalid exporter endpoint")
	assert.Contains(t, out, "grpc://collector:4317")
}

func TestInitAndShutdown(t *testing.T) {
	log, path := fileLogger(t)

	// The exporter connects lazily, so no collector is needed until spans
	// are flushed.
	require.NoError(t, Init(context.Background(), Options{Endpoint: "http://127.0.0.1:1", ServiceName: "agentmux-test"}, log))
	_, isNoop := Tracer("test").(noop.Tracer)
	assert.False(t, isNoop)
	assert.Contains(t, readLog(t, log, path), "agentmux-test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = Shutdown(ctx)

	_, isNoop = Tracer("test").(noop.Tracer)
	assert.True(t, isNoop)
}
