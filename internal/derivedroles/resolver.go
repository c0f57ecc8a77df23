// Package derivedroles is the Derived-Roles Resolver (C4): it expands a
// principal's base role set with every derived role whose parent-role
// pattern and condition apply for a given request.
//
// Grounded on internal/derived_roles/resolver.go's overall shape (graph of
// definitions, CEL-bound condition evaluation) but replaces its one-pass
// topological-sort-then-evaluate algorithm with the monotonic fixed-point
// iteration spec.md §4.4 requires, and its AND-logic parent match with the
// OR-logic types.DerivedRoleDefinition.MatchesAnyParent.
package derivedroles

import (
	"sort"

	"github.com/authz-engine/go-core/internal/expr"
	"github.com/authz-engine/go-core/pkg/types"
)

// RoleSet is the resolved, order-independent set of role names (base plus
// derived) that apply to a principal for one request.
type RoleSet map[string]bool

// Slice returns the set as a sorted slice, for deterministic output.
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Has reports whether role is a member of the set.
func (s RoleSet) Has(role string) bool {
	return s[role]
}

// Intersects reports whether any of roles is a member of the set.
func (s RoleSet) Intersects(roles []string) bool {
	for _, r := range roles {
		if s[r] {
			return true
		}
	}
	return false
}

// Resolver computes RoleSet values against a fixed corpus of derived-role
// definitions, using a shared expression evaluator for conditions.
type Resolver struct {
	definitions []*types.DerivedRoleDefinition
	exprEval    *expr.Evaluator
}

// New builds a Resolver over definitions. The caller is expected to have
// already validated the corpus (no cycles, no duplicate names) via
// internal/policyvalidate — Resolve does not re-check either.
func New(definitions []*types.DerivedRoleDefinition, exprEval *expr.Evaluator) *Resolver {
	return &Resolver{definitions: definitions, exprEval: exprEval}
}

// Resolve computes the applicable RoleSet for one principal/resource pair.
//
// This is the monotonic fixed-point algorithm of spec.md §4.4: start from
// the principal's base roles, then repeatedly scan every derived-role
// definition not yet accepted, accepting any whose parent-role pattern
// matches a role already in the set AND whose condition evaluates true.
// Repeat until a full pass adds nothing. Acyclicity (guaranteed upstream by
// the validator's cycle check) bounds this to at most len(definitions)+1
// passes, since each pass that makes progress accepts at least one
// previously-unaccepted definition and the last pass adds nothing.
func (r *Resolver) Resolve(principal *types.Principal, resource *types.Resource) (RoleSet, *expr.EvaluationError) {
	set := make(RoleSet, len(principal.Roles))
	for _, role := range principal.Roles {
		set[role] = true
	}

	accepted := make(map[string]bool, len(r.definitions))

	for {
		progressed := false

		for _, def := range r.definitions {
			if accepted[def.Name] {
				continue
			}
			if !def.MatchesAnyParent(set.Slice()) {
				continue
			}

			ok, eerr := r.evaluateCondition(def, principal, resource)
			if eerr != nil {
				return nil, eerr
			}
			if !ok {
				continue
			}

			set[def.Name] = true
			accepted[def.Name] = true
			progressed = true
		}

		if !progressed {
			break
		}
	}

	return set, nil
}

func (r *Resolver) evaluateCondition(def *types.DerivedRoleDefinition, principal *types.Principal, resource *types.Resource) (bool, *expr.EvaluationError) {
	if def.Condition == nil || def.Condition.Expression == "" {
		return true, nil
	}

	ctx := &expr.BindContext{
		Principal: principal.ToMap(),
		Resource:  map[string]interface{}{},
	}
	if resource != nil {
		ctx.Resource = resource.ToMap()
	}

	return r.exprEval.Evaluate(def.Condition.Expression, ctx)
}
