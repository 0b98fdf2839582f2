package expr

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zclconf/go-cty/cty"
)

// DefaultCacheSize bounds the number of distinct expression strings a
// Compiler keeps parsed.
const DefaultCacheSize = 512

// Expr is a compiled spec expression. It is immutable after compilation and
// safe to evaluate from multiple goroutines.
type Expr struct {
	Source string
	Refs   Refs
	// Err is set when the expression cannot be parsed or uses a construct
	// the evaluator does not support.
	Err error

	parsed hclsyntax.Expression
}

// Supported reports whether the expression can be evaluated statically.
func (e *Expr) Supported() bool {
	return e != nil && e.Err == nil
}

// Value evaluates the expression in the given context.
func (e *Expr) Value(ctx *hcl.EvalContext) (cty.Value, error) {
	if e.Err != nil {
		return cty.NilVal, e.Err
	}
	v, err := eval(e.parsed, ctx)
	if err != nil {
		return cty.NilVal, fmt.Errorf("evaluating %q: %w", e.Source, err)
	}
	if !v.IsWhollyKnown() {
		return cty.NilVal, fmt.Errorf("evaluating %q: result is not known statically", e.Source)
	}
	return v, nil
}

// Compiler compiles expression strings. Specs frequently repeat the same
// expression text across group instances, so results are cached by source.
type Compiler struct {
	cache *lru.Cache[string, *Expr]
}

// NewCompiler creates a compiler whose cache holds up to size entries.
func NewCompiler(size int) *Compiler {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *Expr](size)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(fmt.Errorf("expr: failed to create cache: %w", err))
	}
	return &Compiler{cache: cache}
}

// Compile parses src. It never fails outright: problems are recorded on the
// returned Expr's Err so callers can classify rather than abort.
func (c *Compiler) Compile(src string) *Expr {
	if e, ok := c.cache.Get(src); ok {
		return e
	}
	e := compile(src)
	c.cache.Add(src, e)
	return e
}

func compile(src string) *Expr {
	e := &Expr{Source: src}
	parsed, diags := hclsyntax.ParseExpression([]byte(toHCL(src)), "expression", hcl.InitialPos)
	if diags.HasErrors() {
		e.Err = fmt.Errorf("cannot parse expression %q: %s", src, diags.Error())
		return e
	}
	e.parsed = parsed
	e.Refs, e.Err = extractRefs(parsed)
	return e
}
