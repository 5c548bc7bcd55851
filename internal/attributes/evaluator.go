package attributes

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mrzor/fiberstate/internal/config"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Evaluator handles compilation and evaluation of custom attribute expressions.
type Evaluator struct {
	customAttrs   []config.CustomAttribute
	compiledExprs []*vm.Program
	logger        *zap.Logger
}

// NewEvaluator creates a new attribute evaluator.
// It pre-compiles all custom attribute expressions for efficiency.
func NewEvaluator(customAttrs []config.CustomAttribute, logger *zap.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	compiledExprs := make([]*vm.Program, len(customAttrs))
	for i, attr := range customAttrs {
		program, err := compile(attr.Expression)
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for attribute %q: %w", attr.Name, err)
		}
		compiledExprs[i] = program
	}

	return &Evaluator{
		customAttrs:   customAttrs,
		compiledExprs: compiledExprs,
		logger:        logger,
	}, nil
}

// EvaluateCustomAttributes evaluates custom attribute expressions for one
// observed context. Expressions that fail at runtime are skipped.
func (e *Evaluator) EvaluateCustomAttributes(obs *Observation) ([]attribute.KeyValue, error) {
	if len(e.customAttrs) == 0 {
		return nil, nil
	}

	if obs == nil {
		return nil, nil
	}

	env := obs.env()

	var attrs []attribute.KeyValue
	for i, customAttr := range e.customAttrs {
		output, err := expr.Run(e.compiledExprs[i], env)
		if err != nil {
			e.logger.Warn("Failed to evaluate attribute expression",
				zap.String("attribute", customAttr.Name),
				zap.Error(err))
			continue
		}

		// Maps expand to one attribute per key, in key order.
		outputValue := reflect.ValueOf(output)
		if outputValue.Kind() != reflect.Map {
			attrs = append(attrs, toAttribute(customAttr.Name, output))
			continue
		}

		keys := outputValue.MapKeys()
		names := make([]string, len(keys))
		for k, key := range keys {
			names[k] = fmt.Sprint(key.Interface())
		}
		order := make([]int, len(keys))
		for k := range order {
			order[k] = k
		}
		sort.Slice(order, func(a, b int) bool { return names[order[a]] < names[order[b]] })

		for _, k := range order {
			attrName := customAttr.Name + "." + sanitizeAttributeName(names[k])
			attrs = append(attrs, toAttribute(attrName, outputValue.MapIndex(keys[k]).Interface()))
		}
	}

	return attrs, nil
}

// toAttribute keeps integers and booleans typed and renders anything else,
// including nested collections, as a string.
func toAttribute(name string, v interface{}) attribute.KeyValue {
	switch x := v.(type) {
	case int:
		return attribute.Int(name, x)
	case int64:
		return attribute.Int64(name, x)
	case bool:
		return attribute.Bool(name, x)
	case float64:
		return attribute.Float64(name, x)
	default:
		return attribute.String(name, fmt.Sprint(v))
	}
}

// sanitizeAttributeName replaces non-alphanumeric characters with underscores.
// This ensures attribute names are safe for OpenTelemetry.
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
