package attributes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// idProgram is a compiled id expression; a nil program means none was given.
type idProgram struct {
	program *vm.Program
	rawExpr string
}

func newIDProgram(kind, exprStr string) (idProgram, error) {
	if exprStr == "" {
		return idProgram{}, nil
	}
	program, err := compile(exprStr)
	if err != nil {
		return idProgram{}, fmt.Errorf("failed to compile %s expression: %w", kind, err)
	}
	return idProgram{program: program, rawExpr: exprStr}, nil
}

// run evaluates the expression and renders the result as a string.
func (p idProgram) run(kind string, obs *Observation) (string, error) {
	if obs == nil {
		return "", fmt.Errorf("no observation available")
	}
	output, err := expr.Run(p.program, obs.env())
	if err != nil {
		return "", fmt.Errorf("failed to evaluate %s expression: %w", kind, err)
	}
	return fmt.Sprint(output), nil
}

// TraceIDEvaluator handles evaluation and validation of trace ID expressions.
// Contexts that share a request id land in one trace with an expression such
// as ctx["request_id"].
type TraceIDEvaluator struct {
	idProgram
}

// NewTraceIDEvaluator creates a new trace ID evaluator.
// If exprStr is empty, the evaluator will generate random trace IDs.
func NewTraceIDEvaluator(exprStr string) (*TraceIDEvaluator, error) {
	p, err := newIDProgram("trace-id", exprStr)
	if err != nil {
		return nil, err
	}
	return &TraceIDEvaluator{idProgram: p}, nil
}

// EvaluateAndValidate evaluates the trace-id expression and validates the result.
// Returns the trace ID, any warnings to attach to the span, and an error.
// If no expression is configured, returns a zero trace ID (caller should generate random).
func (e *TraceIDEvaluator) EvaluateAndValidate(obs *Observation) (trace.TraceID, []attribute.KeyValue, error) {
	if e.program == nil {
		return trace.TraceID{}, nil, nil
	}

	resultStr, err := e.run("trace-id", obs)
	if err != nil {
		return trace.TraceID{}, nil, err
	}

	if len(resultStr) == 32 {
		if traceID, err := trace.TraceIDFromHex(resultStr); err == nil {
			return traceID, nil, nil
		}
	}

	// Not a trace id: the first 16 bytes of its SHA-256 are.
	hash := sha256.Sum256([]byte(resultStr))
	traceID, err := trace.TraceIDFromHex(hex.EncodeToString(hash[:16]))
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to create trace ID from hash: %w", err)
	}

	warnings := []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", resultStr),
		attribute.String("_trace_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 32-char hex trace ID, used SHA-256 hash instead", resultStr)),
	}
	return traceID, warnings, nil
}

// ParentIDEvaluator handles evaluation and validation of parent span ID expressions.
type ParentIDEvaluator struct {
	idProgram
}

// NewParentIDEvaluator creates a new parent ID evaluator.
// If exprStr is empty, the evaluator will return no parent ID (zero span ID).
func NewParentIDEvaluator(exprStr string) (*ParentIDEvaluator, error) {
	p, err := newIDProgram("parent-id", exprStr)
	if err != nil {
		return nil, err
	}
	return &ParentIDEvaluator{idProgram: p}, nil
}

// EvaluateAndValidate evaluates the parent-id expression and validates the result.
// If no expression is configured or the result is invalid, returns zero span ID (no parent).
func (e *ParentIDEvaluator) EvaluateAndValidate(obs *Observation) (trace.SpanID, []attribute.KeyValue, error) {
	if e.program == nil {
		return trace.SpanID{}, nil, nil
	}

	resultStr, err := e.run("parent-id", obs)
	if err != nil {
		return trace.SpanID{}, nil, err
	}

	if len(resultStr) == 16 {
		if spanID, err := trace.SpanIDFromHex(resultStr); err == nil {
			return spanID, nil, nil
		}
	}

	warnings := []attribute.KeyValue{
		attribute.String("_parent_id_expr_result", resultStr),
		attribute.String("_parent_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 16-char hex span ID, using null parent ID instead", resultStr)),
	}
	return trace.SpanID{}, warnings, nil
}
