package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/querylanguage"
)

// Viewer represents the authenticated user making a request.
// This interface should be implemented by application-specific user types.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant identifier for multi-tenancy.
	// Returns empty string if not applicable.
	GetTenantID() string
}

// viewerCtxKey is the context key for storing the viewer.
type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context.
// Returns nil if no viewer is present.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
// Use this for testing or simple use cases.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string {
	return v.UserID
}

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string {
	return v.Roles
}

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string {
	return v.TenantID
}

// DenyIfNoViewer returns a rule that denies access if no viewer is present in the context.
// This is typically used as the first rule in a policy to require authentication.
func DenyIfNoViewer() QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the specified role.
// Skips if the viewer doesn't have the role (allows next rule to evaluate).
func HasRole(role string) QueryMutationRule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows access if the viewer has any of the specified roles.
// Skips if the viewer doesn't have any of the roles (allows next rule to evaluate).
//
// Example:
//
//	privacy.Policy{
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.HasAnyRole("admin", "moderator"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	}
func HasAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if viewerHasAny(ctx, roles) {
			return Allow
		}
		return Skip
	})
}

// RequireAnyRole returns a rule that allows access if the viewer has any of
// the specified roles and denies it otherwise.
func RequireAnyRole(roles ...string) QueryMutationRule {
	return ContextQueryMutationRule(func(ctx context.Context) error {
		if viewerHasAny(ctx, roles) {
			return Allow
		}
		return Denyf("privacy: one of the roles %v required", roles)
	})
}

func viewerHasAny(ctx context.Context, roles []string) bool {
	viewer := ViewerFromContext(ctx)
	if viewer == nil {
		return false
	}
	viewerRoles := viewer.GetRoles()
	for _, role := range roles {
		if slices.Contains(viewerRoles, role) {
			return true
		}
	}
	return false
}

// IsOwner returns a rule that allows access if the viewer owns the target
// item: the item's field value matches the viewer's ID. On saves the
// payload is consulted before the stored item.
//
// Example:
//
//	privacy.Policy{
//	    Mutation: privacy.MutationPolicy{
//	        privacy.DenyIfNoViewer(),
//	        privacy.IsOwner("ownerId"),
//	        privacy.AlwaysDenyRule(),
//	    },
//	}
func IsOwner(field string) QueryMutationRule {
	return ownerRule{field: field}
}

type ownerRule struct {
	field string
}

func (r ownerRule) EvalQuery(ctx context.Context, q Query) error {
	viewer := ViewerFromContext(ctx)
	if viewer == nil {
		return Skip
	}
	value, ok := q.Field(ctx, r.field)
	if !ok {
		return Skip
	}
	if toString(value) == viewer.GetID() {
		return Allow
	}
	return Skip
}

func (r ownerRule) EvalMutation(ctx context.Context, m Mutation) error {
	viewer := ViewerFromContext(ctx)
	if viewer == nil {
		return Skip
	}
	if in := m.Input(); in != nil {
		if value, ok := in[r.field]; ok {
			if toString(value) == viewer.GetID() {
				return Allow
			}
			return Skip
		}
	}
	return r.EvalQuery(ctx, m)
}

// OwnerFilter returns a filter rule scoping list reads to the items whose
// field equals the viewer's ID. Reads without a viewer are denied.
func OwnerFilter(field string) FilterRule {
	return FilterFunc(func(ctx context.Context, _ Query) (querylanguage.P, error) {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return nil, Denyf("privacy: viewer required for owner-filtered query")
		}
		return querylanguage.FieldEQ(field, viewer.GetID()), nil
	})
}

// TenantRule returns a mutation rule that allows access if the viewer's tenant
// matches the item's tenant. Used for multi-tenant isolation.
func TenantRule(field string) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		viewerTenant := viewer.GetTenantID()
		if viewerTenant == "" {
			return Skip
		}
		value, ok := m.Input()[field]
		if !ok {
			if value, ok = m.Field(ctx, field); !ok {
				return Skip
			}
		}
		if toString(value) == viewerTenant {
			return Allow
		}
		return Denyf("privacy: tenant mismatch")
	})
}

// TenantFilter returns a filter rule scoping list reads to the viewer's
// tenant. Reads without a viewer or tenant are denied.
func TenantFilter(field string) FilterRule {
	return FilterFunc(func(ctx context.Context, _ Query) (querylanguage.P, error) {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return nil, Denyf("privacy: viewer required for tenant-filtered query")
		}
		if viewer.GetTenantID() == "" {
			return nil, Denyf("privacy: tenant required")
		}
		return querylanguage.FieldEQ(field, viewer.GetTenantID()), nil
	})
}

// RolePolicy builds a policy from role lists per operation group, in the
// shape of the YAML permissions shorthand. An empty list leaves the group
// unrestricted.
func RolePolicy(read, save, del []string) *Policy {
	p := &Policy{}
	if len(read) > 0 {
		p.Query = QueryPolicy{RequireAnyRole(read...)}
	}
	if len(save) > 0 {
		p.Mutation = append(p.Mutation, OnMutationOperation(RequireAnyRole(save...), veloql.OpSave))
	}
	if len(del) > 0 {
		p.Mutation = append(p.Mutation, OnMutationOperation(RequireAnyRole(del...), veloql.OpDelete))
	}
	return p
}

func toString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
