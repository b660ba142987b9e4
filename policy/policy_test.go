package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"disputeflow/errs"
)

func TestOracleRule(t *testing.T) {
	ctx := context.Background()
	eval, err := NewEvaluator()
	require.NoError(t, err)
	rule, err := NewRule(eval, DefaultOracleRule)
	require.NoError(t, err)

	tests := []struct {
		name   string
		caller Caller
		denied bool
	}{
		{name: "oracle", caller: Caller{ID: "ai-1", Role: "oracle"}},
		{name: "member", caller: Caller{ID: "alice", Role: "member"}, denied: true},
		{name: "anonymous", caller: Caller{}, denied: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.Check(ctx, tt.caller)
			if !tt.denied {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrDenied)
			assert.ErrorIs(t, err, errs.ErrUnauthorized)
		})
	}
}

func TestCustomRuleByID(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	rule, err := NewRule(eval, `caller.role == "oracle" && caller.id.startsWith("ai-")`)
	require.NoError(t, err)

	assert.NoError(t, rule.Check(context.Background(), Caller{ID: "ai-7", Role: "oracle"}))
	assert.Error(t, rule.Check(context.Background(), Caller{ID: "human", Role: "oracle"}))
}

func TestRejectsBadRules(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	_, err = NewRule(eval, `caller.role ==`)
	assert.Error(t, err)

	_, err = NewRule(eval, `caller.id`)
	assert.Error(t, err)
}

func TestProgramCache(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		ok, err := eval.Allow(context.Background(), DefaultAdminRule, Caller{Role: "admin"})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Len(t, eval.cache, 1)
}
