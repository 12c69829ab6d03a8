package agentruntime

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
)

// customGateKey is the AgentConfig.Custom entry a tenant sets to layer an
// extra eligibility rule on top of the fixed candidate-selection rules,
// e.g. `{"gate_expr": "churn_score > 40 && segment != \"dormant\""}`.
const customGateKey = "gate_expr"

// EvaluateCustomGate compiles and runs the tenant's configured gate
// expression, if any, against env. A state with no gate_expr configured
// always passes. Expressions are compiled fresh on every call rather than
// cached, since gate_expr changes take effect immediately and candidate
// volumes are small enough that recompilation cost is not a concern.
func (r *Runtime) EvaluateCustomGate(ctx context.Context, tenantID, agentName string, env map[string]any) (bool, error) {
	state, err := r.getOrCreate(ctx, tenantID, agentName)
	if err != nil {
		return false, err
	}

	raw, ok := state.Config.Custom[customGateKey]
	if !ok {
		return true, nil
	}
	code, ok := raw.(string)
	if !ok || code == "" {
		return true, nil
	}

	program, err := expr.Compile(code, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("agentruntime: compile gate_expr for %s/%s: %w", tenantID, agentName, err)
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("agentruntime: run gate_expr for %s/%s: %w", tenantID, agentName, err)
	}
	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("agentruntime: gate_expr for %s/%s did not return bool", tenantID, agentName)
	}
	return result, nil
}
