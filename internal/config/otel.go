package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultOTLPEndpoint is the OTLP/HTTP collector used when no endpoint is set.
const DefaultOTLPEndpoint = "localhost:4318"

// TargetPidAttribute names the resource attribute carrying the inspected pid.
const TargetPidAttribute = "fiberstate.target.pid"

// OTELConfig holds the span exporter settings of fiberstate-inspect.
type OTELConfig struct {
	ServiceName        string `env:"OTEL_SERVICE_NAME" envDefault:"fiberstate-inspect"`
	ResourceAttributes string `env:"OTEL_RESOURCE_ATTRIBUTES"`
	ExporterEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TracesEndpoint     string `env:"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"`
	Headers            string `env:"OTEL_EXPORTER_OTLP_HEADERS"`

	// TargetPid is the inspected process, recorded on the resource when set.
	TargetPid int `env:"-"`
}

// ParseOTELConfig reads OTELConfig from the standard OTEL_* variables.
func ParseOTELConfig() (*OTELConfig, error) {
	var cfg OTELConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse OTEL config: %w", err)
	}
	return &cfg, nil
}

// Endpoint returns the collector host:port and whether to use plain HTTP.
// The traces endpoint wins over the general one. An https:// scheme turns on
// TLS; a bare host:port or http:// does not.
func (c *OTELConfig) Endpoint() (hostPort string, insecure bool) {
	raw := c.TracesEndpoint
	if raw == "" {
		raw = c.ExporterEndpoint
	}
	if raw == "" {
		return DefaultOTLPEndpoint, true
	}

	if rest, ok := strings.CutPrefix(raw, "https://"); ok {
		return strings.TrimSuffix(rest, "/"), false
	}
	return strings.TrimSuffix(strings.TrimPrefix(raw, "http://"), "/"), true
}

// ExporterHeaders parses OTEL_EXPORTER_OTLP_HEADERS (key=value,...).
func (c *OTELConfig) ExporterHeaders() map[string]string {
	headers := make(map[string]string)
	for key, value := range splitKeyValues(c.Headers) {
		headers[key] = value
	}
	return headers
}

// Resource returns OTEL_RESOURCE_ATTRIBUTES plus the target pid. Values are
// percent-decoded; malformed entries are skipped.
func (c *OTELConfig) Resource() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	for key, value := range splitKeyValues(c.ResourceAttributes) {
		attrs = append(attrs, attribute.String(key, value))
	}
	if c.TargetPid > 0 {
		attrs = append(attrs, attribute.Int(TargetPidAttribute, c.TargetPid))
	}
	return attrs
}

// splitKeyValues yields the entries of a W3C-baggage-style key=value list in
// order.
func splitKeyValues(s string) func(yield func(string, string) bool) {
	return func(yield func(string, string) bool) {
		if s == "" {
			return
		}
		for _, pair := range strings.Split(s, ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				continue
			}
			value = strings.TrimSpace(value)
			if decoded, err := url.PathUnescape(value); err == nil {
				value = decoded
			}
			if !yield(key, value) {
				return
			}
		}
	}
}
