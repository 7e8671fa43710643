// Package privacy provides sets of types and helpers for writing permission
// rules in entity declarations, and deal with their evaluation at runtime.
package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/veloql"
	"github.com/syssam/veloql/querylanguage"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from policy rules to indicate
// how the policy evaluation should proceed. Use errors.Is() to check
// for these values:
//
//	if errors.Is(err, privacy.Allow) { ... }
//	if errors.Is(err, privacy.Deny) { ... }
//	if errors.Is(err, privacy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("veloql/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("veloql/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("veloql/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

type (
	// Query describes a read being authorized.
	Query interface {
		// Entity returns the entity name.
		Entity() string
		// Op returns the read operation.
		Op() veloql.Op
		// ID returns the id of a single-item read, empty otherwise.
		ID() string
		// Field returns a field of the target item of a single-item read.
		// The item is loaded on first use.
		Field(ctx context.Context, name string) (any, bool)
	}

	// Mutation describes a write being authorized.
	Mutation interface {
		Query
		// Input returns the payload of a save, nil for deletes.
		Input() veloql.Item
	}
)

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a query/mutation rule from a context evaluation function.
// The provided function receives the context and should return Allow, Deny, Skip, or nil.
// Returning nil is equivalent to returning Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return contextDecision{eval}
}

type (
	// QueryRule defines the interface deciding whether a read is allowed.
	QueryRule interface {
		EvalQuery(context.Context, Query) error
	}

	// QueryPolicy combines multiple query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule defines the interface deciding whether a write is allowed.
	MutationRule interface {
		EvalMutation(context.Context, Mutation) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule is an interface which groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// QueryRuleFunc type is an adapter which allows the use of
// ordinary functions as query rules.
type QueryRuleFunc func(context.Context, Query) error

// EvalQuery returns f(ctx, q).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, q Query) error {
	return f(ctx, q)
}

// MutationRuleFunc type is an adapter which allows the use of
// ordinary functions as mutation rules.
type MutationRuleFunc func(context.Context, Mutation) error

// EvalMutation returns f(ctx, m).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, m Mutation) error {
	return f(ctx, m)
}

// OnMutationOperation evaluates the given rule only on a given mutation operation.
func OnMutationOperation(rule MutationRule, op veloql.Op) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, m Mutation) error {
		if m.Op().Is(op) {
			return rule.EvalMutation(ctx, m)
		}
		return Skip
	})
}

// OnQueryOperation evaluates the given rule only on a given read operation.
func OnQueryOperation(rule QueryRule, op veloql.Op) QueryRule {
	return QueryRuleFunc(func(ctx context.Context, q Query) error {
		if q.Op().Is(op) {
			return rule.EvalQuery(ctx, q)
		}
		return Skip
	})
}

// DenyMutationOperationRule returns a rule denying specified mutation operation.
func DenyMutationOperationRule(op veloql.Op) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, m Mutation) error {
		return Denyf("veloql/privacy: operation %s is not allowed", m.Op())
	})
	return OnMutationOperation(rule, op)
}

// Policy groups query, mutation and filter policies of an entity.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
	// Filter scopes list reads to what the viewer may see.
	Filter FilterPolicy
}

// EvalQuery forwards evaluation to the query policy.
func (p Policy) EvalQuery(ctx context.Context, q Query) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	return p.Query.EvalQuery(ctx, q)
}

// EvalMutation forwards evaluation to the mutation policy.
func (p Policy) EvalMutation(ctx context.Context, m Mutation) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	return p.Mutation.EvalMutation(ctx, m)
}

// Policies combines multiple policies into a single policy.
type Policies []Policy

// EvalQuery evaluates the query policies. If the Allow error is returned
// from one of the policies, it stops the evaluation with a nil error.
func (policies Policies) EvalQuery(ctx context.Context, q Query) error {
	return policies.eval(ctx, func(policy Policy) error {
		return policy.Query.decide(ctx, q)
	})
}

// EvalMutation evaluates the mutation policies. If the Allow error is returned
// from one of the policies, it stops the evaluation with a nil error.
func (policies Policies) EvalMutation(ctx context.Context, m Mutation) error {
	return policies.eval(ctx, func(policy Policy) error {
		return policy.Mutation.decide(ctx, m)
	})
}

// Policy returns policies as one entity policy. Query and mutation
// decisions come from the first deciding policy; the filter rules of all
// policies are conjoined.
func (policies Policies) Policy() *Policy {
	p := &Policy{
		Query:    QueryPolicy{policies},
		Mutation: MutationPolicy{policies},
	}
	for _, policy := range policies {
		p.Filter = append(p.Filter, policy.Filter...)
	}
	return p
}

func (policies Policies) eval(ctx context.Context, eval func(Policy) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := eval(policy); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// EvalQuery evaluates a query against a query policy.
func (policies QueryPolicy) EvalQuery(ctx context.Context, q Query) error {
	if decision := policies.decide(ctx, q); !errors.Is(decision, Allow) {
		return decision
	}
	return nil
}

// decide returns the first Allow or Deny decision of the rules, nil when
// every rule skipped.
func (policies QueryPolicy) decide(ctx context.Context, q Query) error {
	for _, policy := range policies {
		switch decision := policy.EvalQuery(ctx, q); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates a mutation against a mutation policy.
func (policies MutationPolicy) EvalMutation(ctx context.Context, m Mutation) error {
	if decision := policies.decide(ctx, m); !errors.Is(decision, Allow) {
		return decision
	}
	return nil
}

func (policies MutationPolicy) decide(ctx context.Context, m Mutation) error {
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, m); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, Query) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, Mutation) error {
	return f.decision
}

type contextDecision struct {
	eval func(context.Context) error
}

func (c contextDecision) EvalQuery(ctx context.Context, _ Query) error {
	return c.eval(ctx)
}

func (c contextDecision) EvalMutation(ctx context.Context, _ Mutation) error {
	return c.eval(ctx)
}

// FilterRule contributes a predicate that scopes a list read. A rule
// returns Skip (or a nil predicate) to contribute nothing, and Deny to
// reject the read.
type FilterRule interface {
	FilterQuery(context.Context, Query) (querylanguage.P, error)
}

// FilterPolicy combines filter rules. The contributed predicates are
// conjoined.
type FilterPolicy []FilterRule

// Predicate evaluates all rules and conjoins their predicates.
func (policies FilterPolicy) Predicate(ctx context.Context, q Query) (querylanguage.P, error) {
	if decision, ok := DecisionFromContext(ctx); ok {
		return nil, decision
	}
	var ps []querylanguage.P
	for _, rule := range policies {
		p, err := rule.FilterQuery(ctx, q)
		switch {
		case err == nil || errors.Is(err, Skip):
		case errors.Is(err, Allow):
			return querylanguage.Conjoin(ps...), nil
		default:
			return nil, err
		}
		if p != nil {
			ps = append(ps, p)
		}
	}
	return querylanguage.Conjoin(ps...), nil
}

// FilterFunc is an adapter that allows using ordinary functions as filter
// rules.
//
// Example usage:
//
//	privacy.FilterFunc(func(ctx context.Context, q privacy.Query) (querylanguage.P, error) {
//	    return querylanguage.FieldEQ("workspaceId", workspaceID(ctx)), nil
//	})
type FilterFunc func(context.Context, Query) (querylanguage.P, error)

// FilterQuery returns f(ctx, q).
func (f FilterFunc) FilterQuery(ctx context.Context, q Query) (querylanguage.P, error) {
	return f(ctx, q)
}

var (
	_ QueryMutationRule = fixedDecision{}
	_ QueryMutationRule = Policies(nil)
	_ FilterRule        = FilterFunc(nil)
)
