package hcl

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/burstmake/internal/registry"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

var actionFunctions = map[string]function.Function{
	"join":      stdlib.JoinFunc,
	"upper":     stdlib.UpperFunc,
	"lower":     stdlib.LowerFunc,
	"format":    stdlib.FormatFunc,
	"replace":   stdlib.ReplaceFunc,
	"trimspace": stdlib.TrimSpaceFunc,
	"element":   stdlib.ElementFunc,
	"length":    stdlib.LengthFunc,
}

// exprAction is a `shell` attribute kept unevaluated until a job is known.
type exprAction struct {
	expr   hcl.Expression
	source string
}

var _ registry.Action = (*exprAction)(nil)

func newExprAction(expr hcl.Expression, src []byte) *exprAction {
	rng := expr.Range()
	source := ""
	if rng.End.Byte <= len(src) && rng.Start.Byte <= rng.End.Byte {
		source = string(src[rng.Start.Byte:rng.End.Byte])
	}
	return &exprAction{expr: expr, source: source}
}

// Render evaluates the expression against the job's values.
func (a *exprAction) Render(ac registry.ActionContext) (string, error) {
	val, diags := a.expr.Value(evalContext(ac))
	if diags.HasErrors() {
		return "", fmt.Errorf("failed to evaluate shell for rule %s: %w", ac.Rule, diags)
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("shell for rule %s must be a string: %w", ac.Rule, err)
	}
	if str.IsNull() || !str.IsKnown() {
		return "", fmt.Errorf("shell for rule %s evaluated to null", ac.Rule)
	}
	return str.AsString(), nil
}

func (a *exprAction) String() string {
	return strings.TrimSpace(a.source)
}

func evalContext(ac registry.ActionContext) *hcl.EvalContext {
	wildcards := make(map[string]cty.Value, len(ac.Wildcards))
	for k, v := range ac.Wildcards {
		wildcards[k] = cty.StringVal(v)
	}
	resources := make(map[string]cty.Value, len(ac.Resources))
	for k, v := range ac.Resources {
		resources[k] = cty.NumberIntVal(int64(v))
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"input":     toCtyStrings(ac.Inputs),
			"output":    toCtyStrings(ac.Outputs),
			"wildcards": cty.ObjectVal(wildcards),
			"resources": cty.ObjectVal(resources),
			"threads":   cty.NumberIntVal(int64(ac.Threads)),
			"rule":      cty.StringVal(ac.Rule),
		},
		Functions: actionFunctions,
	}
}
