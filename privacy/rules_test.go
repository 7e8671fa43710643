package privacy_test

import (
	"context"
	"testing"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/privacy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSimpleViewer tests the SimpleViewer implementation.
func TestSimpleViewer(t *testing.T) {
	viewer := &privacy.SimpleViewer{
		UserID:   "user-123",
		Roles:    []string{"admin", "user"},
		TenantID: "tenant-abc",
	}

	assert.Equal(t, "user-123", viewer.GetID())
	assert.Equal(t, []string{"admin", "user"}, viewer.GetRoles())
	assert.Equal(t, "tenant-abc", viewer.GetTenantID())
}

// TestViewerContext tests viewer context functions.
func TestViewerContext(t *testing.T) {
	t.Run("WithViewer_and_ViewerFromContext", func(t *testing.T) {
		viewer := &privacy.SimpleViewer{UserID: "user-123"}
		ctx := privacy.WithViewer(context.Background(), viewer)

		retrieved := privacy.ViewerFromContext(ctx)
		require.NotNil(t, retrieved)
		assert.Equal(t, "user-123", retrieved.GetID())
	})

	t.Run("ViewerFromContext_returns_nil_without_viewer", func(t *testing.T) {
		assert.Nil(t, privacy.ViewerFromContext(context.Background()))
	})

	t.Run("ViewerFromContext_returns_nil_with_wrong_type", func(t *testing.T) {
		type wrongKey struct{}
		ctx := context.WithValue(context.Background(), wrongKey{}, "not a viewer")
		assert.Nil(t, privacy.ViewerFromContext(ctx))
	})
}

// TestDenyIfNoViewer tests the DenyIfNoViewer rule.
func TestDenyIfNoViewer(t *testing.T) {
	rule := privacy.DenyIfNoViewer()

	t.Run("denies_without_viewer", func(t *testing.T) {
		ctx := context.Background()
		assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
		assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Deny)
	})

	t.Run("skips_with_viewer", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "user-123"})
		assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Skip)
		assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), privacy.Skip)
	})
}

// TestHasRole tests the HasRole rule.
func TestHasRole(t *testing.T) {
	tests := []struct {
		name       string
		role       string
		viewer     *privacy.SimpleViewer
		wantResult error
	}{
		{
			name:       "allows_with_matching_role",
			role:       "admin",
			viewer:     &privacy.SimpleViewer{UserID: "u1", Roles: []string{"admin", "user"}},
			wantResult: privacy.Allow,
		},
		{
			name:       "skips_without_matching_role",
			role:       "superadmin",
			viewer:     &privacy.SimpleViewer{UserID: "u1", Roles: []string{"admin", "user"}},
			wantResult: privacy.Skip,
		},
		{
			name:       "skips_without_viewer",
			role:       "admin",
			wantResult: privacy.Skip,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := privacy.HasRole(tt.role)
			ctx := context.Background()
			if tt.viewer != nil {
				ctx = privacy.WithViewer(ctx, tt.viewer)
			}
			assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), tt.wantResult)
			assert.ErrorIs(t, rule.EvalMutation(ctx, &mockMutation{}), tt.wantResult)
		})
	}
}

// TestRequireAnyRole tests the strict role rule.
func TestRequireAnyRole(t *testing.T) {
	rule := privacy.RequireAnyRole("editor", "admin")

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"admin"}})
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Allow)

	ctx = privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"guest"}})
	assert.ErrorIs(t, rule.EvalQuery(ctx, &mockQuery{}), privacy.Deny)
	assert.ErrorIs(t, rule.EvalQuery(context.Background(), &mockQuery{}), privacy.Deny)
}

// TestIsOwner tests ownership checks on stored items and payloads.
func TestIsOwner(t *testing.T) {
	rule := privacy.IsOwner("ownerId")
	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1"})

	t.Run("query_owner_allows", func(t *testing.T) {
		q := &mockQuery{op: veloql.OpTypeQuery, id: "c1", item: veloql.Item{"ownerId": "u1"}}
		assert.ErrorIs(t, rule.EvalQuery(ctx, q), privacy.Allow)
	})

	t.Run("query_other_owner_skips", func(t *testing.T) {
		q := &mockQuery{op: veloql.OpTypeQuery, id: "c1", item: veloql.Item{"ownerId": "u2"}}
		assert.ErrorIs(t, rule.EvalQuery(ctx, q), privacy.Skip)
	})

	t.Run("mutation_payload_is_consulted_first", func(t *testing.T) {
		m := &mockMutation{
			mockQuery: mockQuery{op: veloql.OpUpdate, item: veloql.Item{"ownerId": "u1"}},
			input:     veloql.Item{"ownerId": "u2"},
		}
		assert.ErrorIs(t, rule.EvalMutation(ctx, m), privacy.Skip)
	})

	t.Run("mutation_falls_back_to_stored_item", func(t *testing.T) {
		m := &mockMutation{
			mockQuery: mockQuery{op: veloql.OpDelete, item: veloql.Item{"ownerId": "u1"}},
		}
		assert.ErrorIs(t, rule.EvalMutation(ctx, m), privacy.Allow)
	})

	t.Run("skips_without_viewer", func(t *testing.T) {
		q := &mockQuery{item: veloql.Item{"ownerId": "u1"}}
		assert.ErrorIs(t, rule.EvalQuery(context.Background(), q), privacy.Skip)
	})
}

// TestTenantRules tests tenant isolation rules.
func TestTenantRules(t *testing.T) {
	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1", TenantID: "t1"})

	rule := privacy.TenantRule("tenantId")
	match := &mockMutation{mockQuery: mockQuery{op: veloql.OpCreate}, input: veloql.Item{"tenantId": "t1"}}
	assert.ErrorIs(t, rule.EvalMutation(ctx, match), privacy.Allow)

	mismatch := &mockMutation{mockQuery: mockQuery{op: veloql.OpCreate}, input: veloql.Item{"tenantId": "t2"}}
	assert.ErrorIs(t, rule.EvalMutation(ctx, mismatch), privacy.Deny)

	stored := &mockMutation{mockQuery: mockQuery{op: veloql.OpDelete, item: veloql.Item{"tenantId": "t1"}}}
	assert.ErrorIs(t, rule.EvalMutation(ctx, stored), privacy.Allow)

	p, err := privacy.TenantFilter("tenantId").FilterQuery(ctx, &mockQuery{})
	require.NoError(t, err)
	assert.Equal(t, `tenantId == "t1"`, p.String())

	noTenant := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u1"})
	_, err = privacy.TenantFilter("tenantId").FilterQuery(noTenant, &mockQuery{})
	assert.ErrorIs(t, err, privacy.Deny)
}

// TestRolePolicy tests the permissions shorthand.
func TestRolePolicy(t *testing.T) {
	policy := privacy.RolePolicy([]string{"user", "admin"}, []string{"admin"}, nil)

	user := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"user"}})
	assert.NoError(t, policy.EvalQuery(user, &mockQuery{op: veloql.OpTypesQuery}))
	assert.ErrorIs(t, policy.EvalMutation(user, &mockMutation{mockQuery: mockQuery{op: veloql.OpCreate}}), privacy.Deny)
	assert.NoError(t, policy.EvalMutation(user, &mockMutation{mockQuery: mockQuery{op: veloql.OpDelete}}))

	admin := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{Roles: []string{"admin"}})
	assert.NoError(t, policy.EvalMutation(admin, &mockMutation{mockQuery: mockQuery{op: veloql.OpUpdate}}))

	assert.ErrorIs(t, policy.EvalQuery(context.Background(), &mockQuery{op: veloql.OpTypeQuery}), privacy.Deny)
}
