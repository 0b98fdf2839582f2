package expr

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsyntax"
)

// Refs lists what an expression reads from its environment.
type Refs struct {
	// Signals are the root names of variable traversals, i.e. signal references.
	Signals []string
	// Data are dataset names passed as literals to data-access functions.
	Data []string
	// Functions are the names of every function called.
	Functions []string
	// RuntimeOnly are references to contexts that only exist while a
	// renderer is running (event, item, group, parent).
	RuntimeOnly []string
	// Modifies are datasets named by modify() calls.
	Modifies []string
	// UsesDatum is true when the expression reads the current row.
	UsesDatum bool
}

// rowVariables are bound per row by the transform that evaluates the expression.
var rowVariables = map[string]bool{"datum": true}

var runtimeVariables = map[string]bool{
	"event":  true,
	"item":   true,
	"group":  true,
	"parent": true,
}

// dataFunctions take a dataset name as their first argument.
var dataFunctions = map[string]bool{
	"data":               true,
	"indata":             true,
	"modify":             true,
	"vlSelectionTest":    true,
	"vlSelectionResolve": true,
}

// extractRefs walks a parsed expression to find every variable root and
// function call. The returned slices are sorted to ensure a deterministic
// order. Constructs the evaluator cannot honour are reported as an error,
// but the references are still returned so that dependency edges exist.
func extractRefs(expr hclsyntax.Expression) (Refs, error) {
	signals := make(map[string]struct{})
	runtime := make(map[string]struct{})
	data := make(map[string]struct{})
	modifies := make(map[string]struct{})
	functions := make(map[string]struct{})
	var refs Refs
	var problems []string

	for _, traversal := range expr.Variables() {
		root := traversal.RootName()
		switch {
		case rowVariables[root]:
			refs.UsesDatum = true
		case runtimeVariables[root]:
			runtime[root] = struct{}{}
		case constants[root]:
		default:
			signals[root] = struct{}{}
		}
	}

	walkExpr(expr, func(node hclsyntax.Expression) {
		switch e := node.(type) {
		case *hclsyntax.FunctionCallExpr:
			functions[e.Name] = struct{}{}
			if !knownFunction(e.Name) {
				problems = append(problems, fmt.Sprintf("unknown function %s()", e.Name))
			}
			if !dataFunctions[e.Name] {
				return
			}
			if len(e.Args) == 0 {
				problems = append(problems, fmt.Sprintf("%s() requires a dataset name", e.Name))
				return
			}
			name, ok := literalString(e.Args[0])
			if !ok {
				problems = append(problems, fmt.Sprintf("%s() requires a literal dataset name", e.Name))
				return
			}
			data[name] = struct{}{}
			switch e.Name {
			case "modify":
				modifies[name] = struct{}{}
			case "vlSelectionTest":
				if msg := checkSelectionTest(e.Args); msg != "" {
					problems = append(problems, msg)
				}
			}
		}
	})

	refs.Signals = sortedKeys(signals)
	refs.RuntimeOnly = sortedKeys(runtime)
	refs.Data = sortedKeys(data)
	refs.Modifies = sortedKeys(modifies)
	refs.Functions = sortedKeys(functions)

	if len(problems) > 0 {
		return refs, fmt.Errorf("unsupported expression: %s", strings.Join(problems, "; "))
	}
	return refs, nil
}

// checkSelectionTest requires the row argument to be datum itself and the
// optional operation to be a literal.
func checkSelectionTest(args []hclsyntax.Expression) string {
	if len(args) < 2 || len(args) > 3 {
		return fmt.Sprintf("vlSelectionTest() takes 2 or 3 arguments, got %d", len(args))
	}
	row, ok := args[1].(*hclsyntax.ScopeTraversalExpr)
	if !ok || len(row.Traversal) != 1 || !rowVariables[row.Traversal.RootName()] {
		return "the second argument of vlSelectionTest() must be datum"
	}
	if len(args) == 3 {
		if op, ok := literalString(args[2]); !ok || !selectionOps[op] {
			return "the third argument of vlSelectionTest() must be 'union' or 'intersect'"
		}
	}
	return ""
}

// walkExpr recursively visits every node of the syntax tree.
func walkExpr(expr hclsyntax.Expression, visit func(hclsyntax.Expression)) {
	if expr == nil {
		return
	}
	visit(expr)
	switch e := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		for _, arg := range e.Args {
			walkExpr(arg, visit)
		}
	case *hclsyntax.BinaryOpExpr:
		walkExpr(e.LHS, visit)
		walkExpr(e.RHS, visit)
	case *hclsyntax.ConditionalExpr:
		walkExpr(e.Condition, visit)
		walkExpr(e.TrueResult, visit)
		walkExpr(e.FalseResult, visit)
	case *hclsyntax.UnaryOpExpr:
		walkExpr(e.Val, visit)
	case *hclsyntax.TemplateExpr:
		for _, part := range e.Parts {
			walkExpr(part, visit)
		}
	case *hclsyntax.TemplateWrapExpr:
		walkExpr(e.Wrapped, visit)
	case *hclsyntax.TupleConsExpr:
		for _, item := range e.Exprs {
			walkExpr(item, visit)
		}
	case *hclsyntax.ObjectConsExpr:
		for _, item := range e.Items {
			walkExpr(item.KeyExpr, visit)
			walkExpr(item.ValueExpr, visit)
		}
	case *hclsyntax.ObjectConsKeyExpr:
		walkExpr(e.Wrapped, visit)
	case *hclsyntax.ForExpr:
		walkExpr(e.CollExpr, visit)
		walkExpr(e.KeyExpr, visit)
		walkExpr(e.ValExpr, visit)
		walkExpr(e.CondExpr, visit)
	case *hclsyntax.IndexExpr:
		walkExpr(e.Collection, visit)
		walkExpr(e.Key, visit)
	case *hclsyntax.RelativeTraversalExpr:
		walkExpr(e.Source, visit)
	case *hclsyntax.SplatExpr:
		walkExpr(e.Source, visit)
		walkExpr(e.Each, visit)
	case *hclsyntax.ParenthesesExpr:
		walkExpr(e.Expression, visit)
	}
}

func literalString(expr hclsyntax.Expression) (string, bool) {
	tmpl, ok := expr.(*hclsyntax.TemplateExpr)
	if !ok || !tmpl.IsStringLiteral() {
		return "", false
	}
	v, diags := tmpl.Value(nil)
	if diags.HasErrors() || v.IsNull() || !v.IsKnown() {
		return "", false
	}
	return v.AsString(), true
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
