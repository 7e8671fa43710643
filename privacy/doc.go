// Package privacy provides the permission rule types and helpers used by
// entity declarations.
//
// # Core Concepts
//
//   - Policy: query, mutation and filter rule chains attached to an entity
//   - Rule: a function returning Allow, Deny, or Skip decisions
//   - Viewer: the current user attached to the request context
//
// # Defining Policies
//
//	cfg.Entities["car"] = &config.Entity{
//	    Permissions: &privacy.Policy{
//	        Query: privacy.QueryPolicy{
//	            privacy.AlwaysAllowRule(),
//	        },
//	        Mutation: privacy.MutationPolicy{
//	            privacy.DenyIfNoViewer(),
//	            privacy.HasRole("admin"),
//	            privacy.IsOwner("ownerId"),
//	            privacy.AlwaysDenyRule(),
//	        },
//	        Filter: privacy.FilterPolicy{
//	            privacy.TenantFilter("tenantId"),
//	        },
//	    },
//	}
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow: grants access and stops evaluation
//   - Deny: denies access and stops evaluation
//   - Skip: continues to the next rule
//
// If all rules return Skip the operation is allowed. End a chain with
// AlwaysDenyRule to deny by default.
//
// Filter rules contribute predicates that are conjoined with the filter of
// every list read, scoping it to what the viewer may see.
//
// # Viewer
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{
//	    UserID:   "user-123",
//	    Roles:    []string{"admin"},
//	    TenantID: "tenant-abc",
//	})
//
// A decision can be forced for a whole request, e.g. for seeding:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
package privacy
