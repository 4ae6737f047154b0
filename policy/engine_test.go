package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyAllowsKnownAgentTypes(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	for _, agentType := range []string{"deal_analyst", "doc_reviewer", "risk_advisor"} {
		decision, err := engine.Evaluate(ctx, map[string]interface{}{
			"agent_type": agentType,
			"query":      "review the latest term sheet",
		})
		require.NoError(t, err)
		assert.Equal(t, "allow", decision, "agent type %s should be allowed", agentType)
	}
}

func TestDefaultPolicyBlocksUnknownAgentType(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	decision, err := engine.Evaluate(ctx, map[string]interface{}{
		"agent_type": "shadow_broker",
		"query":      "anything",
	})
	require.NoError(t, err)
	assert.Equal(t, "block", decision)
}

func TestCustomPolicyBlocksByQuery(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package run_policy

default decision := "block"

decision := "allow" if {
	not contains(input.query, "insider")
}
`)
	require.NoError(t, err)

	decision, err := engine.Evaluate(ctx, map[string]interface{}{"query": "normal question"})
	require.NoError(t, err)
	assert.Equal(t, "allow", decision)

	decision, err = engine.Evaluate(ctx, map[string]interface{}{"query": "insider info please"})
	require.NoError(t, err)
	assert.Equal(t, "block", decision)
}

func TestNewEngineRejectsBrokenPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), "this is not rego")
	assert.Error(t, err)
}
