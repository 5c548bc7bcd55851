package output

import (
	"testing"

	"github.com/mrzor/fiberstate/gc"
	"github.com/mrzor/fiberstate/managed"
	"github.com/mrzor/fiberstate/state"
	"github.com/stretchr/testify/assert"
)

func TestRenderer_Value(t *testing.T) {
	r := NewRenderer(map[uint32]string{1: "request_id", 2: "get"})

	tests := []struct {
		name string
		ref  gc.Ref
		want string
	}{
		{"nil", managed.Nil, "nil"},
		{"integer", managed.Int(42), "42"},
		{"negative integer", managed.Int(-7), "-7"},
		{"known symbol", managed.Symbol(2), ":get"},
		{"unknown symbol", managed.Symbol(9), ":#9"},
		{"object", 0x40, "#<ref 0x40>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Value(tt.ref))
		})
	}
}

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer(map[uint32]string{1: "request_id", 2: "verb", 3: "get"})

	got := r.Render([]state.Pair{
		{Key: 1, Value: managed.Int(1234)},
		{Key: 2, Value: managed.Symbol(3)},
		{Key: 8, Value: managed.Int(1)},
	})

	assert.Equal(t, map[string]string{
		"request_id": "1234",
		"verb":       ":get",
		"#8":         "1",
	}, got)
}

func TestRenderer_NilSymbols(t *testing.T) {
	r := NewRenderer(nil)
	assert.Equal(t, "#3", r.Key(3))
}
