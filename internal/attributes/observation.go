package attributes

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Observation is the rendered view of one context that expressions see.
type Observation struct {
	Thread uint32
	Size   int
	Values map[string]string
}

func (o *Observation) env() map[string]interface{} {
	values := o.Values
	if values == nil {
		values = map[string]string{}
	}
	return map[string]interface{}{
		"ctx":    values,
		"thread": int(o.Thread),
		"size":   o.Size,
	}
}

// compile type-checks exprStr against the observation environment.
func compile(exprStr string) (*vm.Program, error) {
	exprEnv := map[string]interface{}{
		"ctx":    map[string]string{},
		"thread": 0,
		"size":   0,
	}
	return expr.Compile(exprStr, expr.Env(exprEnv))
}
