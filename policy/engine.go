// Package policy evaluates submission policy for agent runs.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.run_policy.decision"),
		rego.Module("run_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the run submission policy.
// Input is a map with keys: agent_type, query, file_id.
// Returns the decision (allow or block).
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy defines a default, so an empty result means the
		// module itself is broken. Fail closed.
		return "block", nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "block", nil
}

// DefaultPolicy allows the registered agent types and blocks everything else.
const DefaultPolicy = `
package run_policy

default decision := "block"

decision := "allow" if {
	input.agent_type in {"deal_analyst", "doc_reviewer", "risk_advisor"}
}
`
