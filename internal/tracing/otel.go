// Package tracing provides the shared OTel tracer for the execution backends.
//
// Tracing stays a no-op until Init is called with a collector endpoint.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/kandev/agentmux/internal/common/logger"
)

// DefaultServiceName is reported when Options.ServiceName is empty.
const DefaultServiceName = "agentmux"

// Options configures the span exporter.
type Options struct {
	// Endpoint is the OTLP/HTTP collector, either a URL such as
	// https://collector:4318 or a bare host:port (plain HTTP).
	// Empty disables tracing.
	Endpoint    string
	ServiceName string
}

var (
	mu             sync.RWMutex
	tracerProvider trace.TracerProvider = noop.NewTracerProvider()
	sdkProvider    *sdktrace.TracerProvider
)

// Init installs an exporting tracer provider for opts. Any provider from an
// earlier Init is shut down first. On error tracing stays disabled and the
// cause is logged.
func Init(ctx context.Context, opts Options, log *logger.Logger) error {
	if err := Shutdown(ctx); err != nil {
		log.Warn("failed to shut down previous tracer provider", zap.Error(err))
	}
	if opts.Endpoint == "" {
		log.Debug("tracing disabled, no exporter endpoint configured")
		return nil
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultServiceName
	}

	ep, err := parseEndpoint(opts.Endpoint)
	if err != nil {
		log.Warn("tracing disabled, invalid exporter endpoint",
			zap.String("endpoint", opts.Endpoint), zap.Error(err))
		return err
	}

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(ep.host)}
	if ep.path != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithURLPath(ep.path))
	}
	if ep.insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		log.Warn("tracing disabled, failed to create exporter",
			zap.String("endpoint", opts.Endpoint), zap.Error(err))
		return fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(opts.ServiceName)))
	if err != nil {
		log.Warn("failed to build trace resource, using default", zap.Error(err))
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	mu.Lock()
	sdkProvider = provider
	tracerProvider = provider
	mu.Unlock()
	otel.SetTracerProvider(provider)

	log.Info("tracing enabled",
		zap.String("endpoint", ep.host+ep.path),
		zap.String("service", opts.ServiceName))
	return nil
}

type endpoint struct {
	host     string
	path     string
	insecure bool
}

// parseEndpoint splits a collector address into the parts otlptracehttp
// takes separately.
func parseEndpoint(raw string) (endpoint, error) {
	if !strings.Contains(raw, "://") {
		if strings.ContainsAny(raw, "/ ") {
			return endpoint{}, fmt.Errorf("endpoint %q is neither a URL nor host:port", raw)
		}
		return endpoint{host: raw, insecure: true}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("parse endpoint: %w", err)
	}
	var ep endpoint
	switch u.Scheme {
	case "http":
		ep.insecure = true
	case "https":
	default:
		return endpoint{}, fmt.Errorf("endpoint scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return endpoint{}, fmt.Errorf("endpoint %q has no host", raw)
	}
	ep.host = u.Host
	if p := strings.TrimRight(u.Path, "/"); p != "" {
		ep.path = p
	}
	return ep, nil
}

// Tracer returns a named tracer. No-op when tracing is disabled.
func Tracer(name string) trace.Tracer {
	mu.RLock()
	defer mu.RUnlock()
	return tracerProvider.Tracer(name)
}

// Shutdown flushes pending spans and reverts to the no-op provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	provider := sdkProvider
	sdkProvider = nil
	tracerProvider = noop.NewTracerProvider()
	mu.Unlock()

	if provider != nil {
		return provider.Shutdown(ctx)
	}
	return nil
}
