package managed

import (
	"math"
	"testing"

	"github.com/mrzor/fiberstate/gc"
	"github.com/stretchr/testify/assert"
)

func TestInt_RoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -42, math.MaxInt64 >> 1, math.MinInt64 >> 1} {
		r := Int(n)
		assert.True(t, IsInt(r), "%d", n)
		assert.False(t, IsSymbol(r))
		assert.False(t, IsObject(r))
		assert.Equal(t, n, IntValue(r))
		assert.Equal(t, KindInt, KindOf(r))
	}
}

func TestSymbol_RoundTrip(t *testing.T) {
	r := Symbol(7)
	assert.True(t, IsSymbol(r))
	assert.False(t, IsInt(r))
	assert.False(t, IsObject(r))
	assert.Equal(t, uint32(7), SymbolID(r))
	assert.Equal(t, KindSymbol, KindOf(r))
}

func TestObjectRef(t *testing.T) {
	r := objectRef(0)
	assert.NotEqual(t, Nil, r)
	assert.True(t, IsObject(r))
	assert.Equal(t, 0, slotOf(r))
	assert.Equal(t, 5, slotOf(objectRef(5)))
	assert.Equal(t, KindObject, KindOf(r))

	assert.False(t, IsObject(Nil))
	assert.Equal(t, KindNil, KindOf(Nil))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "symbol", KindSymbol.String())
	assert.Equal(t, "integer", KindInt.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}

func TestSymbolTable(t *testing.T) {
	st := NewSymbolTable()

	a := st.Intern("request_id")
	b := st.Intern("user_id")
	assert.Equal(t, uint32(1), a, "ids start at 1")
	assert.Equal(t, uint32(2), b)
	assert.Equal(t, a, st.Intern("request_id"))

	id, ok := st.Lookup("user_id")
	assert.True(t, ok)
	assert.Equal(t, b, id)
	_, ok = st.Lookup("missing")
	assert.False(t, ok)

	assert.Equal(t, "request_id", st.Name(a))
	assert.Equal(t, "", st.Name(0))
	assert.Equal(t, "", st.Name(99))
	assert.Equal(t, 2, st.Len())
	assert.Equal(t, map[uint32]string{1: "request_id", 2: "user_id"}, st.All())

	assert.Equal(t, Symbol(a), st.Ref("request_id"))
	assert.Equal(t, gc.Ref(0b110), st.Ref("request_id"))
}
