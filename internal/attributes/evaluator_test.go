package attributes

import (
	"testing"

	"github.com/mrzor/fiberstate/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

func testObservation() *Observation {
	return &Observation{
		Thread: 3,
		Size:   2,
		Values: map[string]string{"request_id": "abc123", "user_id": "42"},
	}
}

func TestEvaluator_Simple(t *testing.T) {
	attrs := []config.CustomAttribute{
		{Name: "request", Expression: `ctx["request_id"]`},
		{Name: "thread.id", Expression: `thread`},
		{Name: "is.user", Expression: `ctx["user_id"] == "42"`},
	}

	evaluator, err := NewEvaluator(attrs, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	result, err := evaluator.EvaluateCustomAttributes(testObservation())
	if err != nil {
		t.Fatalf("EvaluateCustomAttributes() error = %v", err)
	}

	if len(result) != 3 {
		t.Fatalf("Expected 3 attributes, got %d", len(result))
	}
	if result[0].Key != "request" || result[0].Value.AsString() != "abc123" {
		t.Errorf("result[0] = %v, want request=abc123", result[0])
	}
	if result[1].Value.Type() != attribute.INT64 || result[1].Value.AsInt64() != 3 {
		t.Errorf("result[1] = %v, want integer 3", result[1])
	}
	if result[2].Value.Type() != attribute.BOOL || !result[2].Value.AsBool() {
		t.Errorf("result[2] = %v, want true", result[2])
	}
}

func TestEvaluator_MapExpansion(t *testing.T) {
	attrs := []config.CustomAttribute{
		{Name: "fiber.ctx", Expression: `ctx`},
	}

	evaluator, err := NewEvaluator(attrs, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	obs := testObservation()
	obs.Values["end-point"] = "/api/users"

	result, err := evaluator.EvaluateCustomAttributes(obs)
	if err != nil {
		t.Fatalf("EvaluateCustomAttributes() error = %v", err)
	}

	want := []attribute.KeyValue{
		attribute.String("fiber.ctx.end_point", "/api/users"),
		attribute.String("fiber.ctx.request_id", "abc123"),
		attribute.String("fiber.ctx.user_id", "42"),
	}
	if len(result) != len(want) {
		t.Fatalf("Expected %d attributes, got %d", len(want), len(result))
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("result[%d] = %v, want %v", i, result[i], want[i])
		}
	}
}

func TestSanitizeAttributeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "simple"},
		{"with-dash", "with_dash"},
		{"with.dot", "with_dot"},
		{"with space", "with_space"},
		{"special!@#$%", "special_____"},
		{"mixed-123.test", "mixed_123_test"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := sanitizeAttributeName(tt.input)
			if got != tt.want {
				t.Errorf("sanitizeAttributeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestEvaluator_InvalidExpression(t *testing.T) {
	attrs := []config.CustomAttribute{
		{Name: "bad", Expression: `invalid syntax here`},
	}

	if _, err := NewEvaluator(attrs, nil); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func TestEvaluator_UnknownVariable(t *testing.T) {
	attrs := []config.CustomAttribute{
		{Name: "old", Expression: `env["HOME"]`},
	}

	if _, err := NewEvaluator(attrs, nil); err == nil {
		t.Error("Expected compile error for a variable outside the environment")
	}
}

func TestEvaluator_MissingKey(t *testing.T) {
	attrs := []config.CustomAttribute{
		{Name: "exists", Expression: `ctx["request_id"]`},
		{Name: "missing", Expression: `ctx["MISSING"]`},
	}

	evaluator, err := NewEvaluator(attrs, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	result, err := evaluator.EvaluateCustomAttributes(testObservation())
	if err != nil {
		t.Fatalf("EvaluateCustomAttributes() error = %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("Expected 2 attributes, got %d", len(result))
	}
	if result[1].Value.AsString() != "" {
		t.Errorf("result[1].Value = %q, want empty string", result[1].Value.AsString())
	}
}

func TestEvaluator_RuntimeErrorSkipsAttribute(t *testing.T) {
	attrs := []config.CustomAttribute{
		{Name: "number", Expression: `int(ctx["request_id"])`},
		{Name: "request", Expression: `ctx["request_id"]`},
	}

	evaluator, err := NewEvaluator(attrs, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	result, err := evaluator.EvaluateCustomAttributes(testObservation())
	if err != nil {
		t.Fatalf("EvaluateCustomAttributes() error = %v", err)
	}
	if len(result) != 1 || result[0].Key != "request" {
		t.Errorf("Expected only the request attribute, got %v", result)
	}
}

func TestEvaluator_NilObservation(t *testing.T) {
	attrs := []config.CustomAttribute{
		{Name: "test", Expression: `ctx["FOO"]`},
	}

	evaluator, err := NewEvaluator(attrs, nil)
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	result, err := evaluator.EvaluateCustomAttributes(nil)
	if err != nil {
		t.Fatalf("EvaluateCustomAttributes(nil) error = %v", err)
	}
	if result != nil {
		t.Error("Expected nil result for nil observation")
	}
}
