// Package policyindex is the Policy Index (C5): an immutable, pre-compiled
// view over a validated document corpus, built once and never mutated.
//
// Grounded on internal/engine/engine.go's Config/New construction step and
// internal/policy/store.go's Store interface — but deliberately trimmed to
// a read-only structure. The teacher's Store exposes Add/Remove/Reload;
// spec.md's lifecycle is batch-load-then-freeze (SPEC_FULL.md §3.2), so
// this package has no mutators at all. A host that needs hot-reload builds
// a new Index and swaps the pointer (spec.md §9's concurrency note).
package policyindex

import (
	"fmt"

	"github.com/authz-engine/go-core/internal/derivedroles"
	"github.com/authz-engine/go-core/internal/expr"
	"github.com/authz-engine/go-core/internal/wildcard"
	"github.com/authz-engine/go-core/pkg/types"
)

// CompiledRule is an authored Rule plus its pre-compiled action matchers.
// Its condition is compiled at Build time into the shared evaluator's
// cache, so Check never re-parses anything.
type CompiledRule struct {
	Source     *types.Rule
	PolicyName string
	actions    []compiledAction
}

// compiledAction pairs a pre-compiled wildcard.Matcher with the rule-
// authoring "*" bypass (which matches any action outright and needs no
// segment matcher at all).
type compiledAction struct {
	matchAny bool
	matcher  wildcard.Matcher
}

func compileActions(patterns []string) []compiledAction {
	compiled := make([]compiledAction, len(patterns))
	for i, p := range patterns {
		if p == "*" {
			compiled[i] = compiledAction{matchAny: true}
			continue
		}
		compiled[i] = compiledAction{matcher: wildcard.Compile(p)}
	}
	return compiled
}

// Matches reports whether action satisfies this rule's action patterns,
// using the matchers compiled once at Build time (spec.md §4.5).
func (c *CompiledRule) Matches(action string) bool {
	for _, a := range c.actions {
		if a.matchAny || a.matcher.Match(action) {
			return true
		}
	}
	return false
}

// CompiledDerivedRole pairs a derived-role definition with the policy name
// it was declared in, for provenance.
type CompiledDerivedRole struct {
	Definition *types.DerivedRoleDefinition
	PolicyName string
}

// Index is the immutable, pre-compiled policy corpus the Decision Engine
// evaluates against.
type Index struct {
	resourcePolicies  map[string][]*CompiledRule            // resource kind -> ordered rules
	derivedRoles      map[string]*CompiledDerivedRole        // name -> definition
	derivedRoleList   []*types.DerivedRoleDefinition          // authoring-order, for the resolver
	principalPolicies map[string]map[string][]*CompiledRule  // principal id -> resource kind -> ordered rules
	exprEval          *expr.Evaluator
}

// Stats summarizes the loaded corpus, per spec.md §4.5.
type Stats struct {
	ResourcePolicyCount  int
	DerivedRolePolicy    int
	PrincipalPolicyCount int
	DistinctResourceKinds int
}

// Build validates nothing (the caller runs internal/policyvalidate first)
// and compiles docs into an immutable Index. Each condition expression is
// parsed exactly once here and each action pattern is compiled into its
// matcher here, so the hot Check path never re-parses either. Derived-role
// parent-role patterns are not compiled: they are stored as written and
// matched from their strings when the Resolver runs.
func Build(docs []*types.Document, exprEval *expr.Evaluator) (*Index, error) {
	idx := &Index{
		resourcePolicies:  make(map[string][]*CompiledRule),
		derivedRoles:      make(map[string]*CompiledDerivedRole),
		principalPolicies: make(map[string]map[string][]*CompiledRule),
		exprEval:          exprEval,
	}

	for _, doc := range docs {
		switch doc.Kind {
		case types.KindResourcePolicy:
			if doc.ResourcePolicy == nil {
				continue
			}
			kind := doc.ResourcePolicy.Resource
			for _, rule := range doc.ResourcePolicy.Rules {
				if err := idx.precompileCondition(rule, doc.Metadata.Name); err != nil {
					return nil, err
				}
				idx.resourcePolicies[kind] = append(idx.resourcePolicies[kind], &CompiledRule{
					Source:     rule,
					PolicyName: doc.Metadata.Name,
					actions:    compileActions(rule.Actions),
				})
			}

		case types.KindDerivedRoles:
			if doc.DerivedRoles == nil {
				continue
			}
			for _, def := range doc.DerivedRoles.Definitions {
				if def.Condition != nil && def.Condition.Expression != "" {
					if _, eerr := idx.exprEval.Compile(def.Condition.Expression); eerr != nil {
						return nil, fmt.Errorf("compiling derived role %q condition: %s", def.Name, eerr.Message)
					}
				}
				idx.derivedRoles[def.Name] = &CompiledDerivedRole{Definition: def, PolicyName: doc.Metadata.Name}
				idx.derivedRoleList = append(idx.derivedRoleList, def)
			}

		case types.KindPrincipalPolicy:
			if doc.PrincipalPolicy == nil {
				continue
			}
			principalID := doc.PrincipalPolicy.Principal
			if idx.principalPolicies[principalID] == nil {
				idx.principalPolicies[principalID] = make(map[string][]*CompiledRule)
			}
			for resourceKind, rules := range doc.PrincipalPolicy.Rules {
				for _, rule := range rules {
					if err := idx.precompileCondition(rule, doc.Metadata.Name); err != nil {
						return nil, err
					}
					idx.principalPolicies[principalID][resourceKind] = append(idx.principalPolicies[principalID][resourceKind], &CompiledRule{
						Source:     rule,
						PolicyName: doc.Metadata.Name,
						actions:    compileActions(rule.Actions),
					})
				}
			}
		}
	}

	return idx, nil
}

func (idx *Index) precompileCondition(rule *types.Rule, policyName string) error {
	if rule.Condition == nil || rule.Condition.Expression == "" {
		return nil
	}
	if _, eerr := idx.exprEval.Compile(rule.Condition.Expression); eerr != nil {
		return fmt.Errorf("compiling condition in policy %q: %s", policyName, eerr.Message)
	}
	return nil
}

// RulesForResourceKind returns the authoring-order rule sequence for a
// resource kind, or nil if no resource policy was loaded for it.
func (idx *Index) RulesForResourceKind(kind string) []*CompiledRule {
	return idx.resourcePolicies[kind]
}

// RulesForPrincipal returns the authoring-order rule sequence declared by
// a principal policy for the given principal id and resource kind, or nil
// if none exists. Principal-policy rules are scoped by resource kind
// (spec.md §3: "principal-scoped rules indexed by resource kind"), so a
// rule authored under one resource kind never applies to another.
func (idx *Index) RulesForPrincipal(principalID, resourceKind string) []*CompiledRule {
	byKind := idx.principalPolicies[principalID]
	if byKind == nil {
		return nil
	}
	return byKind[resourceKind]
}

// DerivedRoleDefinitions returns every loaded derived-role definition, in
// authoring order, for the Resolver to iterate.
func (idx *Index) DerivedRoleDefinitions() []*types.DerivedRoleDefinition {
	return idx.derivedRoleList
}

// NewResolver builds a derivedroles.Resolver over this Index's definitions.
func (idx *Index) NewResolver() *derivedroles.Resolver {
	return derivedroles.New(idx.derivedRoleList, idx.exprEval)
}

// Evaluator exposes the shared expression evaluator so the engine can
// evaluate rule conditions without recompiling them.
func (idx *Index) Evaluator() *expr.Evaluator {
	return idx.exprEval
}

// Stats reports corpus-level counts.
func (idx *Index) Stats() Stats {
	resourcePolicyNames := make(map[string]bool)
	for _, rules := range idx.resourcePolicies {
		for _, rule := range rules {
			resourcePolicyNames[rule.PolicyName] = true
		}
	}
	derivedRolePolicyNames := make(map[string]bool)
	for _, dr := range idx.derivedRoles {
		derivedRolePolicyNames[dr.PolicyName] = true
	}

	return Stats{
		ResourcePolicyCount:   len(resourcePolicyNames),
		DerivedRolePolicy:     len(derivedRolePolicyNames),
		PrincipalPolicyCount:  len(idx.principalPolicies),
		DistinctResourceKinds: len(idx.resourcePolicies),
	}
}
