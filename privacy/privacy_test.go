package privacy_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/privacy"
	"github.com/syssam/veloql/querylanguage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockQuery implements privacy.Query for testing.
type mockQuery struct {
	op     veloql.Op
	entity string
	id     string
	item   veloql.Item
}

func (q *mockQuery) Entity() string { return q.entity }
func (q *mockQuery) Op() veloql.Op  { return q.op }
func (q *mockQuery) ID() string     { return q.id }
func (q *mockQuery) Field(_ context.Context, name string) (any, bool) {
	v, ok := q.item[name]
	return v, ok
}

// mockMutation implements privacy.Mutation for testing.
type mockMutation struct {
	mockQuery
	input veloql.Item
}

func (m *mockMutation) Input() veloql.Item { return m.input }

// TestDecisionErrors tests the decision error types and formatting.
func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name      string
		decision  error
		wantAllow bool
		wantDeny  bool
		wantSkip  bool
	}{
		{name: "allow_decision", decision: privacy.Allow, wantAllow: true},
		{name: "deny_decision", decision: privacy.Deny, wantDeny: true},
		{name: "skip_decision", decision: privacy.Skip, wantSkip: true},
		{name: "allowf", decision: privacy.Allowf("reason %d", 1), wantAllow: true},
		{name: "denyf", decision: privacy.Denyf("reason %s", "x"), wantDeny: true},
		{name: "skipf", decision: privacy.Skipf("reason"), wantSkip: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAllow, errors.Is(tt.decision, privacy.Allow))
			assert.Equal(t, tt.wantDeny, errors.Is(tt.decision, privacy.Deny))
			assert.Equal(t, tt.wantSkip, errors.Is(tt.decision, privacy.Skip))
		})
	}
	assert.Equal(t, "reason x: veloql/privacy: deny rule", privacy.Denyf("reason %s", "x").Error())
}

// TestAlwaysRules tests AlwaysAllowRule and AlwaysDenyRule.
func TestAlwaysRules(t *testing.T) {
	ctx := context.Background()

	t.Run("AlwaysAllowRule", func(t *testing.T) {
		rule := privacy.AlwaysAllowRule()
		assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Allow)
		assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Allow)
	})

	t.Run("AlwaysDenyRule", func(t *testing.T) {
		rule := privacy.AlwaysDenyRule()
		assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
		assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Deny)
	})
}

// TestOnMutationOperation tests scoping a rule to operations.
func TestOnMutationOperation(t *testing.T) {
	rule := privacy.OnMutationOperation(privacy.AlwaysDenyRule(), veloql.OpDelete)

	del := &mockMutation{mockQuery: mockQuery{op: veloql.OpDelete}}
	assert.ErrorIs(t, rule.EvalMutation(context.Background(), del), privacy.Deny)

	create := &mockMutation{mockQuery: mockQuery{op: veloql.OpCreate}}
	assert.ErrorIs(t, rule.EvalMutation(context.Background(), create), privacy.Skip)

	qrule := privacy.OnQueryOperation(privacy.AlwaysDenyRule(), veloql.OpStatsQuery)
	assert.ErrorIs(t, qrule.EvalQuery(context.Background(), &mockQuery{op: veloql.OpStatsQuery}), privacy.Deny)
	assert.ErrorIs(t, qrule.EvalQuery(context.Background(), &mockQuery{op: veloql.OpTypesQuery}), privacy.Skip)
}

// TestDenyMutationOperationRule tests the operation deny rule.
func TestDenyMutationOperationRule(t *testing.T) {
	rule := privacy.DenyMutationOperationRule(veloql.OpUpdate)
	err := rule.EvalMutation(context.Background(), &mockMutation{mockQuery: mockQuery{op: veloql.OpUpdate}})
	require.Error(t, err)
	assert.ErrorIs(t, err, privacy.Deny)
	assert.Contains(t, err.Error(), "operation OpUpdate is not allowed")
}

// TestDecisionContext tests forcing a decision through the context.
func TestDecisionContext(t *testing.T) {
	t.Run("nil_and_skip_keep_parent", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, privacy.DecisionContext(ctx, nil))
		assert.Equal(t, ctx, privacy.DecisionContext(ctx, privacy.Skip))
	})

	t.Run("allow_overrides_policy", func(t *testing.T) {
		ctx := privacy.DecisionContext(context.Background(), privacy.Allow)
		decision, ok := privacy.DecisionFromContext(ctx)
		assert.True(t, ok)
		assert.NoError(t, decision)

		policy := privacy.Policy{Query: privacy.QueryPolicy{privacy.AlwaysDenyRule()}}
		assert.NoError(t, policy.EvalQuery(ctx, &mockQuery{}))
	})

	t.Run("deny_overrides_policy", func(t *testing.T) {
		ctx := privacy.DecisionContext(context.Background(), privacy.Denyf("maintenance"))
		policy := privacy.Policy{Mutation: privacy.MutationPolicy{privacy.AlwaysAllowRule()}}
		assert.ErrorIs(t, policy.EvalMutation(ctx, &mockMutation{}), privacy.Deny)
	})
}

// TestQueryPolicy tests rule chain evaluation.
func TestQueryPolicy(t *testing.T) {
	deny := errors.New("custom denial")
	tests := []struct {
		name    string
		policy  privacy.QueryPolicy
		wantErr error
	}{
		{name: "empty_policy_allows", policy: nil},
		{name: "all_skip_allows", policy: privacy.QueryPolicy{skipRule(), skipRule()}},
		{name: "allow_stops_chain", policy: privacy.QueryPolicy{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}},
		{name: "deny_stops_chain", policy: privacy.QueryPolicy{skipRule(), privacy.AlwaysDenyRule(), privacy.AlwaysAllowRule()}, wantErr: privacy.Deny},
		{name: "custom_error_is_returned", policy: privacy.QueryPolicy{privacy.QueryRuleFunc(func(context.Context, privacy.Query) error { return deny })}, wantErr: deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.EvalQuery(context.Background(), &mockQuery{})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// TestMutationPolicy tests mutation rule chains.
func TestMutationPolicy(t *testing.T) {
	policy := privacy.MutationPolicy{
		privacy.DenyIfNoViewer(),
		privacy.HasRole("admin"),
		privacy.AlwaysDenyRule(),
	}
	m := &mockMutation{mockQuery: mockQuery{op: veloql.OpCreate}}

	assert.ErrorIs(t, policy.EvalMutation(context.Background(), m), privacy.Deny)

	admin := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1", Roles: []string{"admin"}})
	assert.NoError(t, policy.EvalMutation(admin, m))

	user := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u2", Roles: []string{"user"}})
	assert.ErrorIs(t, policy.EvalMutation(user, m), privacy.Deny)
}

// TestPolicies tests combining policies.
func TestPolicies(t *testing.T) {
	policies := privacy.Policies{
		{Query: privacy.QueryPolicy{skipRule()}},
		{Query: privacy.QueryPolicy{privacy.AlwaysAllowRule()}},
		{Query: privacy.QueryPolicy{privacy.AlwaysDenyRule()}},
	}
	assert.NoError(t, policies.EvalQuery(context.Background(), &mockQuery{}))

	policies = privacy.Policies{
		{Mutation: privacy.MutationPolicy{privacy.AlwaysDenyRule()}},
		{Mutation: privacy.MutationPolicy{privacy.AlwaysAllowRule()}},
	}
	assert.ErrorIs(t, policies.EvalMutation(context.Background(), &mockMutation{}), privacy.Deny)

	assert.NoError(t, privacy.Policies{{}, {}}.EvalQuery(context.Background(), &mockQuery{}))
}

// TestPoliciesPolicy tests merging policies into one entity policy.
func TestPoliciesPolicy(t *testing.T) {
	tenant := privacy.FilterFunc(func(context.Context, privacy.Query) (querylanguage.P, error) {
		return querylanguage.FieldEQ("tenantId", "t1"), nil
	})
	policy := privacy.Policies{
		{
			Query:    privacy.QueryPolicy{privacy.HasRole("admin")},
			Mutation: privacy.MutationPolicy{privacy.HasRole("admin")},
			Filter:   privacy.FilterPolicy{tenant},
		},
		*privacy.RolePolicy([]string{"reader"}, []string{"editor"}, nil),
	}.Policy()

	admin := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1", Roles: []string{"admin"}})
	reader := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u2", Roles: []string{"reader"}})
	save := &mockMutation{mockQuery: mockQuery{op: veloql.OpCreate}}

	assert.NoError(t, policy.EvalQuery(admin, &mockQuery{op: veloql.OpTypesQuery}))
	assert.NoError(t, policy.EvalMutation(admin, save))
	assert.NoError(t, policy.EvalQuery(reader, &mockQuery{op: veloql.OpTypesQuery}))
	assert.ErrorIs(t, policy.EvalMutation(reader, save), privacy.Deny)

	p, err := policy.Filter.Predicate(reader, &mockQuery{})
	require.NoError(t, err)
	assert.Equal(t, `tenantId == "t1"`, p.String())
}

// TestFilterPolicy tests filter predicate contribution.
func TestFilterPolicy(t *testing.T) {
	static := func(p querylanguage.P) privacy.FilterRule {
		return privacy.FilterFunc(func(context.Context, privacy.Query) (querylanguage.P, error) {
			return p, nil
		})
	}

	t.Run("conjoins_predicates", func(t *testing.T) {
		policy := privacy.FilterPolicy{
			static(querylanguage.FieldEQ("tenantId", "t1")),
			privacy.FilterFunc(func(context.Context, privacy.Query) (querylanguage.P, error) { return nil, privacy.Skip }),
			static(querylanguage.FieldEQ("archived", false)),
		}
		p, err := policy.Predicate(context.Background(), &mockQuery{})
		require.NoError(t, err)
		assert.Equal(t, `tenantId == "t1" && archived == false`, p.String())
	})

	t.Run("deny_rejects_read", func(t *testing.T) {
		policy := privacy.FilterPolicy{privacy.OwnerFilter("ownerId")}
		_, err := policy.Predicate(context.Background(), &mockQuery{})
		assert.ErrorIs(t, err, privacy.Deny)
	})

	t.Run("empty_policy_contributes_nothing", func(t *testing.T) {
		p, err := privacy.FilterPolicy(nil).Predicate(context.Background(), &mockQuery{})
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("allow_decision_skips_filters", func(t *testing.T) {
		ctx := privacy.DecisionContext(context.Background(), privacy.Allow)
		p, err := privacy.FilterPolicy{privacy.OwnerFilter("ownerId")}.Predicate(ctx, &mockQuery{})
		require.NoError(t, err)
		assert.Nil(t, p)
	})
}

func skipRule() privacy.QueryMutationRule {
	return privacy.ContextQueryMutationRule(func(context.Context) error {
		return fmt.Errorf("abstain: %w", privacy.Skip)
	})
}
