package output

import (
	"testing"

	"github.com/mrzor/fiberstate/internal/attributes"
	"github.com/mrzor/fiberstate/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return rec, tp
}

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	out := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[string(kv.Key)] = kv.Value
	}
	return out
}

func TestOTELFormatter_SpanPerContext(t *testing.T) {
	rec, tp := newRecordingTracer(t)
	f := NewOTELFormatter(tp.Tracer("test"), testRenderer(), nil, nil, nil, nil)

	c := testContext()
	require.NoError(t, f.HandleContextStart(c))
	assert.Equal(t, 1, f.OpenSpans())
	assert.Empty(t, rec.Ended())

	require.NoError(t, f.HandleContextEnd(c, []string{"table 0x1 changed while reading"}))
	assert.Zero(t, f.OpenSpans())

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]

	assert.Equal(t, SpanName, span.Name())
	assert.Equal(t, c.Start, span.StartTime())
	assert.Equal(t, c.End, span.EndTime())

	attrs := attrMap(span.Attributes())
	assert.Equal(t, int64(3), attrs["fiber.thread_id"].AsInt64())
	assert.Equal(t, "0x7f0000001000", attrs["fiber.state.addr"].AsString())
	assert.Equal(t, int64(2), attrs["fiber.state.size"].AsInt64())
	assert.Equal(t, "1234", attrs["fiber.context.request_id"].AsString())
	assert.Equal(t, ":get", attrs["fiber.context.verb"].AsString())
	assert.Equal(t, "table 0x1 changed while reading", attrs["_tracing_warning_0"].AsString())
}

func TestOTELFormatter_EndWithoutStart(t *testing.T) {
	rec, tp := newRecordingTracer(t)
	f := NewOTELFormatter(tp.Tracer("test"), testRenderer(), nil, nil, nil, nil)

	require.NoError(t, f.HandleContextEnd(testContext(), nil))
	assert.Empty(t, rec.Ended())
}

func TestOTELFormatter_RestartEndsOpenSpan(t *testing.T) {
	rec, tp := newRecordingTracer(t)
	f := NewOTELFormatter(tp.Tracer("test"), testRenderer(), nil, nil, nil, nil)

	require.NoError(t, f.HandleContextStart(testContext()))
	require.NoError(t, f.HandleContextStart(testContext()))

	assert.Len(t, rec.Ended(), 1)
	assert.Equal(t, 1, f.OpenSpans())
}

func TestOTELFormatter_CustomAttributes(t *testing.T) {
	rec, tp := newRecordingTracer(t)

	custom, err := attributes.NewEvaluator([]config.CustomAttribute{
		{Name: "request", Expression: `ctx["request_id"]`},
		{Name: "thread_size", Expression: `thread * 10 + size`},
	}, nil)
	require.NoError(t, err)

	f := NewOTELFormatter(tp.Tracer("test"), testRenderer(), custom, nil, nil, nil)

	c := testContext()
	require.NoError(t, f.HandleContextStart(c))
	require.NoError(t, f.HandleContextEnd(c, nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "1234", attrs["request"].AsString())
	assert.Equal(t, int64(32), attrs["thread_size"].AsInt64())
}

func TestOTELFormatter_TraceAndParentID(t *testing.T) {
	rec, tp := newRecordingTracer(t)

	traceID, err := attributes.NewTraceIDEvaluator(`"0af7651916cd43dd8448eb211c80319c"`)
	require.NoError(t, err)
	parentID, err := attributes.NewParentIDEvaluator(`"b7ad6b7169203331"`)
	require.NoError(t, err)

	f := NewOTELFormatter(tp.Tracer("test"), testRenderer(), nil, traceID, parentID, nil)

	c := testContext()
	require.NoError(t, f.HandleContextStart(c))
	require.NoError(t, f.HandleContextEnd(c, nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
	assert.True(t, spans[0].Parent().IsRemote())
}

func TestOTELFormatter_HashedTraceID(t *testing.T) {
	rec, tp := newRecordingTracer(t)

	traceID, err := attributes.NewTraceIDEvaluator(`ctx["request_id"]`)
	require.NoError(t, err)

	f := NewOTELFormatter(tp.Tracer("test"), testRenderer(), nil, traceID, nil, nil)

	c := testContext()
	require.NoError(t, f.HandleContextStart(c))
	require.NoError(t, f.HandleContextEnd(c, nil))
	require.NoError(t, f.HandleContextStart(c))
	require.NoError(t, f.HandleContextEnd(c, nil))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[0].SpanContext().TraceID(), spans[1].SpanContext().TraceID(),
		"contexts with the same request share a trace")
	assert.True(t, spans[0].Parent().SpanID().IsValid())

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "1234", attrs["_trace_id_expr_result"].AsString())
}

func TestSanitizeAttributeName(t *testing.T) {
	assert.Equal(t, "request_id", sanitizeAttributeName("request_id"))
	assert.Equal(t, "http_verb_", sanitizeAttributeName("http.verb?"))
}
