package output

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrzor/fiberstate/internal/attributes"
	"github.com/mrzor/fiberstate/internal/threadstate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SpanName is the name of the span emitted for every context interval.
const SpanName = "fiber.context"

// OTELSpanInfo holds an open span and the attributes computed at its start.
type OTELSpanInfo struct {
	Span     trace.Span
	Warnings []attribute.KeyValue
}

// OTELFormatter formats context intervals as OpenTelemetry spans.
type OTELFormatter struct {
	tracer   trace.Tracer
	renderer *Renderer
	custom   *attributes.Evaluator
	traceID  *attributes.TraceIDEvaluator
	parentID *attributes.ParentIDEvaluator
	logger   *zap.Logger

	mu    sync.Mutex
	spans map[uint32]*OTELSpanInfo // thread -> open span
}

// NewOTELFormatter creates a new OTELFormatter. The evaluators may be nil.
func NewOTELFormatter(
	tracer trace.Tracer,
	renderer *Renderer,
	custom *attributes.Evaluator,
	traceID *attributes.TraceIDEvaluator,
	parentID *attributes.ParentIDEvaluator,
	logger *zap.Logger,
) *OTELFormatter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OTELFormatter{
		tracer:   tracer,
		renderer: renderer,
		custom:   custom,
		traceID:  traceID,
		parentID: parentID,
		logger:   logger,
		spans:    make(map[uint32]*OTELSpanInfo),
	}
}

func (f *OTELFormatter) observation(c *threadstate.Context) *attributes.Observation {
	return &attributes.Observation{
		Thread: c.ThreadID,
		Size:   c.Size,
		Values: f.renderer.Render(c.Pairs),
	}
}

// HandleContextStart opens a span for the context.
func (f *OTELFormatter) HandleContextStart(c *threadstate.Context) error {
	obs := f.observation(c)
	parentCtx, warnings := f.parentContext(obs)

	_, span := f.tracer.Start(parentCtx, SpanName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(c.Start),
	)

	f.mu.Lock()
	defer f.mu.Unlock()
	if prev, ok := f.spans[c.ThreadID]; ok {
		// Start without an end means an event was lost; do not leak the span.
		prev.Span.End(trace.WithTimestamp(c.Start))
	}
	f.spans[c.ThreadID] = &OTELSpanInfo{Span: span, Warnings: warnings}
	return nil
}

// HandleContextEnd sets the span attributes and ends it.
func (f *OTELFormatter) HandleContextEnd(c *threadstate.Context, issues []string) error {
	f.mu.Lock()
	spanInfo, ok := f.spans[c.ThreadID]
	delete(f.spans, c.ThreadID)
	f.mu.Unlock()
	if !ok {
		// Context started before the formatter was attached
		return nil
	}

	obs := f.observation(c)

	attrs := []attribute.KeyValue{
		attribute.Int("fiber.thread_id", int(c.ThreadID)),
		attribute.String("fiber.state.addr", hexAddr(c.Addr)),
		attribute.Int("fiber.state.size", c.Size),
		attribute.Int64("fiber.context.duration_ns", c.Duration().Nanoseconds()),
	}
	for name, value := range obs.Values {
		attrs = append(attrs, attribute.String("fiber.context."+sanitizeAttributeName(name), value))
	}

	if f.custom != nil {
		customAttrs, err := f.custom.EvaluateCustomAttributes(obs)
		if err != nil {
			issues = append(issues, err.Error())
		}
		attrs = append(attrs, customAttrs...)
	}

	attrs = append(attrs, spanInfo.Warnings...)
	for i, issue := range issues {
		attrs = append(attrs, attribute.String(fmt.Sprintf("_tracing_warning_%d", i), issue))
	}

	spanInfo.Span.SetAttributes(attrs...)
	spanInfo.Span.End(trace.WithTimestamp(c.End))
	return nil
}

// parentContext builds the remote parent from the trace-id and parent-id
// expressions. Without a trace id the span starts a trace of its own.
func (f *OTELFormatter) parentContext(obs *attributes.Observation) (context.Context, []attribute.KeyValue) {
	ctx := context.Background()
	if f.traceID == nil {
		return ctx, nil
	}

	var warnings []attribute.KeyValue
	traceID, w, err := f.traceID.EvaluateAndValidate(obs)
	if err != nil {
		f.logger.Warn("evaluating trace id", zap.Uint32("thread", obs.Thread), zap.Error(err))
		return ctx, []attribute.KeyValue{attribute.String("_trace_id_error", err.Error())}
	}
	warnings = append(warnings, w...)
	if !traceID.IsValid() {
		return ctx, warnings
	}

	var spanID trace.SpanID
	if f.parentID != nil {
		id, w, err := f.parentID.EvaluateAndValidate(obs)
		if err != nil {
			f.logger.Warn("evaluating parent id", zap.Uint32("thread", obs.Thread), zap.Error(err))
			warnings = append(warnings, attribute.String("_parent_id_error", err.Error()))
		}
		warnings = append(warnings, w...)
		spanID = id
	}
	if !spanID.IsValid() {
		// The SDK ignores a remote parent with an invalid span id.
		copy(spanID[:], traceID[8:])
		if !spanID.IsValid() {
			spanID[7] = 1
		}
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, parent), warnings
}

// OpenSpans returns the number of contexts with an open span.
func (f *OTELFormatter) OpenSpans() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spans)
}

// sanitizeAttributeName replaces any character not in [a-zA-Z0-9_] with underscore.
func sanitizeAttributeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}

func hexAddr(addr uint64) string {
	return fmt.Sprintf("%#x", addr)
}
