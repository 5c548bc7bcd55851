// Package otel provides OpenTelemetry tracer provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mrzor/fiberstate/internal/config"
	"go.uber.org/zap"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// logProxy records the proxy the HTTP exporter will go through, if any.
func logProxy(logger *zap.Logger) {
	httpProxy := os.Getenv("HTTP_PROXY")
	if httpProxy == "" {
		httpProxy = os.Getenv("http_proxy")
	}
	httpsProxy := os.Getenv("HTTPS_PROXY")
	if httpsProxy == "" {
		httpsProxy = os.Getenv("https_proxy")
	}

	if httpProxy != "" || httpsProxy != "" {
		logger.Info("Proxy configuration", zap.String("http_proxy", httpProxy), zap.String("https_proxy", httpsProxy))
	}
}

// InitProvider initializes the OpenTelemetry tracer provider.
//
// Note: Uses OTLP/HTTP protocol. The HTTP client automatically honors HTTP_PROXY,
// HTTPS_PROXY, and NO_PROXY environment variables through Go's standard net/http transport.
func InitProvider(cfg *config.OTELConfig, version string, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint, insecure := cfg.Endpoint()

	logger.Info("OTEL configuration",
		zap.String("service_name", cfg.ServiceName),
		zap.String("endpoint", endpoint),
		zap.Bool("insecure", insecure),
		zap.Int("target_pid", cfg.TargetPid),
		zap.String("resource_attributes", cfg.ResourceAttributes))
	logProxy(logger)

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if headers := cfg.ExporterHeaders(); len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	resourceAttrs := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	}

	customAttrs := cfg.Resource()
	if len(customAttrs) > 0 {
		resourceAttrs = append(resourceAttrs, resource.WithAttributes(customAttrs...))
	}

	res, err := resource.New(ctx, resourceAttrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	return tp, nil
}

// ShutdownProvider gracefully shuts down the tracer provider, flushing any remaining spans.
func ShutdownProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}

	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return nil
}
