// Package policyvalidate is the Policy Validator (C3): static validation
// of a policy document tree, producing a structured ValidationReport.
//
// Grounded on internal/policy/validator.go (validateBasicStructure,
// validateRules, isValidIdentifier/isValidAction, checkForConflicts,
// ValidateRuleConsistency) and internal/derived_roles/validator.go
// (checkCircularDependencies' three-color DFS, checkParentRoleValidity).
package policyvalidate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/authz-engine/go-core/internal/expr"
	"github.com/authz-engine/go-core/pkg/types"
)

// Validator performs structural, syntactic, and semantic policy checks.
type Validator struct {
	exprEval *expr.Evaluator
	structV  *validator.Validate
}

// New creates a Validator backed by a fresh expression evaluator used only
// for CEL syntax checking (never for evaluation against live data).
func New() (*Validator, error) {
	ev, err := expr.NewEvaluator(expr.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("building expression evaluator: %w", err)
	}
	return &Validator{exprEval: ev, structV: validator.New(validator.WithRequiredStructEnabled())}, nil
}

// Validate validates a single document in isolation: structural and
// syntactic checks plus any semantic check that does not require
// cross-document context (e.g. cycle detection scoped to definitions
// contained within this one document).
func (v *Validator) Validate(doc *types.Document, opts types.ValidatorOptions) *types.ValidationReport {
	return v.ValidateAll([]*types.Document{doc}, opts)
}

// ValidateAll validates a batch of documents together, aggregating errors
// and cross-referencing derived-role names across the whole corpus — the
// batch is rejected atomically on any error, per spec.md's Lifecycle note.
func (v *Validator) ValidateAll(docs []*types.Document, opts types.ValidatorOptions) *types.ValidationReport {
	report := types.NewValidationReport()

	var allDerivedRoles []*types.DerivedRoleDefinition
	derivedRoleNames := make(map[string]bool)

	for _, doc := range docs {
		v.validateDocumentStructure(doc, opts, report)

		switch doc.Kind {
		case types.KindResourcePolicy:
			if doc.ResourcePolicy != nil {
				v.validateRules(doc.Metadata.Name, doc.ResourcePolicy.Rules, opts, report)
			}
		case types.KindPrincipalPolicy:
			if doc.PrincipalPolicy != nil {
				for _, rules := range doc.PrincipalPolicy.Rules {
					v.validateRules(doc.Metadata.Name, rules, opts, report)
				}
			}
		case types.KindDerivedRoles:
			if doc.DerivedRoles != nil {
				for _, d := range doc.DerivedRoles.Definitions {
					allDerivedRoles = append(allDerivedRoles, d)
					if derivedRoleNames[d.Name] {
						report.AddError(types.ValidationError{
							Code:       types.CodeDuplicateDefinition,
							Path:       "definitions",
							Message:    fmt.Sprintf("duplicate derived role name: %q", d.Name),
							PolicyName: doc.Metadata.Name,
						})
					}
					derivedRoleNames[d.Name] = true
				}
			}
		}
	}

	v.validateDerivedRoleDefinitions(allDerivedRoles, derivedRoleNames, opts, report)

	if len(opts.AvailableDerivedRoles) > 0 {
		for _, name := range opts.AvailableDerivedRoles {
			derivedRoleNames[name] = true
		}
	}
	v.checkUndefinedDerivedRoleReferences(docs, derivedRoleNames, report)

	return report
}

func (v *Validator) validateDocumentStructure(doc *types.Document, opts types.ValidatorOptions, report *types.ValidationReport) {
	if doc == nil {
		report.AddError(types.ValidationError{Code: types.CodeMissingRequiredField, Path: "$", Message: "document is nil"})
		return
	}

	// Struct-tag pass catches gross shape errors (missing apiVersion, an
	// out-of-enum kind) before the field-specific checks below run; it is
	// a cheap first filter, not a replacement for them.
	if verr := v.structV.Struct(doc); verr != nil {
		if fieldErrs, ok := verr.(validator.ValidationErrors); ok {
			for _, fe := range fieldErrs {
				report.AddError(types.ValidationError{
					Code:       types.CodeMissingRequiredField,
					Path:       fe.Namespace(),
					Message:    fmt.Sprintf("failed %q validation", fe.Tag()),
					PolicyName: doc.Metadata.Name,
				})
			}
		}
	}

	if doc.APIVersion != types.APIVersion {
		report.AddError(types.ValidationError{
			Code:       types.CodeInvalidAPIVersion,
			Path:       "apiVersion",
			Message:    fmt.Sprintf("invalid apiVersion %q", doc.APIVersion),
			Suggestion: types.APIVersion,
			PolicyName: doc.Metadata.Name,
		})
	}

	switch doc.Kind {
	case types.KindResourcePolicy, types.KindDerivedRoles, types.KindPrincipalPolicy:
	default:
		report.AddError(types.ValidationError{
			Code:       types.CodeInvalidKind,
			Path:       "kind",
			Message:    fmt.Sprintf("invalid kind %q", doc.Kind),
			Suggestion: closestKind(string(doc.Kind)),
			PolicyName: doc.Metadata.Name,
		})
	}

	if doc.Metadata.Name == "" {
		report.AddError(types.ValidationError{Code: types.CodeMissingRequiredField, Path: "metadata.name", Message: "metadata.name is required"})
	} else if !isValidIdentifier(doc.Metadata.Name) {
		report.AddError(types.ValidationError{Code: types.CodeInvalidPolicyName, Path: "metadata.name", Message: fmt.Sprintf("invalid policy name %q", doc.Metadata.Name), PolicyName: doc.Metadata.Name})
	}

	switch doc.Kind {
	case types.KindResourcePolicy:
		if doc.ResourcePolicy == nil {
			report.AddError(types.ValidationError{Code: types.CodeMissingRequiredField, Path: "resourcePolicy", Message: "resourcePolicy spec is required", PolicyName: doc.Metadata.Name})
			return
		}
		if doc.ResourcePolicy.Resource == "" {
			report.AddError(types.ValidationError{Code: types.CodeMissingRequiredField, Path: "resourcePolicy.resource", Message: "resource is required", PolicyName: doc.Metadata.Name})
		} else if !isValidIdentifier(doc.ResourcePolicy.Resource) {
			report.AddError(types.ValidationError{Code: types.CodeInvalidResourceName, Path: "resourcePolicy.resource", Message: fmt.Sprintf("invalid resource name %q", doc.ResourcePolicy.Resource), PolicyName: doc.Metadata.Name})
		}
		if len(doc.ResourcePolicy.Rules) == 0 {
			report.AddError(types.ValidationError{Code: types.CodeEmptyArray, Path: "resourcePolicy.rules", Message: "rules must be non-empty", PolicyName: doc.Metadata.Name})
		}
	case types.KindDerivedRoles:
		if doc.DerivedRoles == nil || len(doc.DerivedRoles.Definitions) == 0 {
			report.AddError(types.ValidationError{Code: types.CodeEmptyArray, Path: "derivedRoles.definitions", Message: "definitions must be non-empty", PolicyName: doc.Metadata.Name})
		}
	case types.KindPrincipalPolicy:
		if doc.PrincipalPolicy == nil {
			report.AddError(types.ValidationError{Code: types.CodeMissingRequiredField, Path: "principalPolicy", Message: "principalPolicy spec is required", PolicyName: doc.Metadata.Name})
			return
		}
		if doc.PrincipalPolicy.Principal == "" {
			report.AddError(types.ValidationError{Code: types.CodeMissingRequiredField, Path: "principalPolicy.principal", Message: "principal is required", PolicyName: doc.Metadata.Name})
		}
		if len(doc.PrincipalPolicy.Rules) == 0 {
			report.AddError(types.ValidationError{Code: types.CodeEmptyArray, Path: "principalPolicy.rules", Message: "rules must be non-empty", PolicyName: doc.Metadata.Name})
		}
	}
}

func (v *Validator) validateRules(policyName string, rules []*types.Rule, opts types.ValidatorOptions, report *types.ValidationReport) {
	seenNames := make(map[string]bool)

	for i, rule := range rules {
		path := fmt.Sprintf("rules[%d]", i)

		if rule.Name != "" {
			if seenNames[rule.Name] {
				report.AddError(types.ValidationError{Code: types.CodeDuplicateDefinition, Path: path + ".name", Message: fmt.Sprintf("duplicate rule name %q", rule.Name), PolicyName: policyName})
			}
			seenNames[rule.Name] = true
		}

		if len(rule.Actions) == 0 {
			report.AddError(types.ValidationError{Code: types.CodeEmptyArray, Path: path + ".actions", Message: "actions must be non-empty", PolicyName: policyName})
		}
		for _, action := range rule.Actions {
			if !isValidActionPattern(action) {
				report.AddError(types.ValidationError{Code: types.CodeInvalidActionName, Path: path + ".actions", Message: fmt.Sprintf("invalid action pattern %q", action), PolicyName: policyName})
			}
		}

		if rule.Effect != types.EffectAllow && rule.Effect != types.EffectDeny {
			report.AddError(types.ValidationError{
				Code:       types.CodeInvalidEffect,
				Path:       path + ".effect",
				Message:    fmt.Sprintf("invalid effect %q", rule.Effect),
				Suggestion: "allow or deny",
				PolicyName: policyName,
			})
		}

		for _, role := range rule.Roles {
			if !isValidIdentifier(role) {
				report.AddError(types.ValidationError{Code: types.CodeInvalidRoleName, Path: path + ".roles", Message: fmt.Sprintf("invalid role name %q", role), PolicyName: policyName})
			}
			if reservedKeywords[role] {
				report.AddError(types.ValidationError{Code: types.CodeReservedKeyword, Path: path + ".roles", Message: fmt.Sprintf("role name %q is a reserved keyword", role), PolicyName: policyName})
			}
		}

		if opts.ValidateCEL && rule.Condition != nil {
			v.validateCondition(path+".condition", rule.Condition, opts, report, policyName)
		}

		if opts.Strict && len(rule.Roles) == 0 && len(rule.DerivedRoles) == 0 {
			report.AddWarning(types.ValidationError{Code: types.CodeMissingRequiredField, Path: path, Message: "rule with no roles or derivedRoles applies to all principals", PolicyName: policyName})
		}
	}

	if opts.Strict {
		for _, w := range unreachableRuleWarnings(policyName, rules) {
			report.AddWarning(w)
		}
	}
}

func (v *Validator) validateCondition(path string, cond *types.Condition, opts types.ValidatorOptions, report *types.ValidationReport, policyName string) {
	expression := strings.TrimSpace(cond.Expression)
	if expression == "" {
		report.AddError(types.ValidationError{Code: types.CodeEmptyExpression, Path: path, Message: "condition expression is empty", PolicyName: policyName})
		return
	}

	if _, cerr := v.exprEval.Compile(cond.Expression); cerr != nil {
		suggestion := ""
		if strings.Contains(cond.Expression, "===") {
			suggestion = "use == instead of ==="
		}
		report.AddError(types.ValidationError{
			Code:       types.CodeInvalidCELSyntax,
			Path:       path,
			Message:    cerr.Message,
			Suggestion: suggestion,
			PolicyName: policyName,
		})
		return
	}

	if opts.WarnOnUnknownVariables {
		for _, root := range referencedRoots(cond.Expression) {
			if !isKnownRoot(root, opts.KnownVariables) {
				report.AddWarning(types.ValidationError{Code: types.CodeUnknownVariable, Path: path, Message: fmt.Sprintf("identifier root %q is outside the known variable set", root), PolicyName: policyName})
			}
		}
	}
}

// unreachableRuleWarnings flags a rule that can never be reached because
// an earlier allow rule with overlapping actions always wins first.
func unreachableRuleWarnings(policyName string, rules []*types.Rule) []types.ValidationError {
	var warnings []types.ValidationError
	for i, rule := range rules {
		if rule.Effect != types.EffectDeny {
			continue
		}
		for j := 0; j < i; j++ {
			prev := rules[j]
			if prev.Effect == types.EffectAllow && hasOverlappingActions(rule.Actions, prev.Actions) {
				warnings = append(warnings, types.ValidationError{
					Code:       types.CodeMissingRequiredField,
					Path:       fmt.Sprintf("rules[%d]", i),
					Message:    fmt.Sprintf("rule %d may be unreachable: earlier allow rule %d has overlapping actions", i, j),
					PolicyName: policyName,
				})
				break
			}
		}
	}
	return warnings
}

func hasOverlappingActions(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == "*" || y == "*" || x == y {
				return true
			}
		}
	}
	return false
}

// referencedRoots is a conservative, syntax-unaware scan for bare
// identifier roots (principal/resource/request/context or anything else)
// that appear before a "." in the expression text.
func referencedRoots(expression string) []string {
	var roots []string
	seen := map[string]bool{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			root := cur.String()
			if !seen[root] {
				seen[root] = true
				roots = append(roots, root)
			}
			cur.Reset()
		}
	}
	for _, r := range expression {
		switch {
		case r == '.' || r == '(' || r == ')' || r == ' ' || r == '!' || r == '&' || r == '|' || r == '=' || r == '<' || r == '>':
			flush()
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || (r >= '0' && r <= '9'):
			cur.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return roots
}

// validateDerivedRoleDefinitions validates each definition individually
// and then checks for circular dependencies across the whole set, via the
// same three-color DFS the teacher's checkCircularDependencies used.
func (v *Validator) validateDerivedRoleDefinitions(defs []*types.DerivedRoleDefinition, names map[string]bool, opts types.ValidatorOptions, report *types.ValidationReport) {
	for _, d := range defs {
		if d.Name == "" {
			report.AddError(types.ValidationError{Code: types.CodeMissingRequiredField, Path: "definitions[].name", Message: "derived role name is required"})
		} else if !isValidIdentifier(d.Name) {
			report.AddError(types.ValidationError{Code: types.CodeInvalidRoleName, Path: "definitions[].name", Message: fmt.Sprintf("invalid derived role name %q", d.Name)})
		}
		if len(d.ParentRoles) == 0 {
			report.AddError(types.ValidationError{Code: types.CodeEmptyArray, Path: "definitions[].parentRoles", Message: fmt.Sprintf("derived role %q must declare at least one parent role", d.Name)})
		}
		for _, parent := range d.ParentRoles {
			if parent == d.Name {
				report.AddError(types.ValidationError{Code: types.CodeInvalidParentRole, Path: "definitions[].parentRoles", Message: fmt.Sprintf("derived role %q cannot name itself as a parent role", d.Name)})
			}
			if strings.Contains(parent, "*") && !types.IsWildcardParentPattern(parent) {
				report.AddError(types.ValidationError{Code: types.CodeInvalidParentRole, Path: "definitions[].parentRoles", Message: fmt.Sprintf("invalid parent role wildcard %q: only \"*\" or a trailing \"prefix:*\" are permitted", parent)})
			}
		}
		if d.Condition != nil && opts.ValidateCEL {
			v.validateCondition("definitions[].condition", d.Condition, opts, report, d.Name)
		}
	}

	if cyclePath := detectCycle(defs, names); cyclePath != "" {
		report.AddError(types.ValidationError{
			Code:    types.CodeCircularDependency,
			Path:    "definitions",
			Message: fmt.Sprintf("circular dependency detected: %s", cyclePath),
		})
	}
}

// detectCycle builds the dependency graph (an edge from a definition to
// each parent that is itself a derived role name) and walks it with a
// three-color DFS, returning the cycle path as "a -> b -> a" or "" if none.
func detectCycle(defs []*types.DerivedRoleDefinition, derivedRoleNames map[string]bool) string {
	graph := make(map[string][]string, len(defs))
	for _, d := range defs {
		for _, parent := range d.ParentRoles {
			if derivedRoleNames[parent] {
				graph[d.Name] = append(graph[d.Name], parent)
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	state := make(map[string]int)
	var cycle string

	var dfs func(node string, path []string)
	dfs = func(node string, path []string) {
		if cycle != "" {
			return
		}
		if state[node] == gray {
			cycle = strings.Join(append(path, node), " -> ")
			return
		}
		if state[node] == black {
			return
		}
		state[node] = gray
		path = append(path, node)
		for _, dep := range graph[node] {
			dfs(dep, path)
			if cycle != "" {
				return
			}
		}
		state[node] = black
	}

	for _, d := range defs {
		if state[d.Name] == white {
			dfs(d.Name, nil)
			if cycle != "" {
				return cycle
			}
		}
	}
	return ""
}

// checkUndefinedDerivedRoleReferences flags any resource-policy rule that
// names a derivedRoles entry with no matching definition in the batch (or in
// ValidatorOptions.AvailableDerivedRoles, for cross-file validation of a
// single resource policy against an already-loaded index).
func (v *Validator) checkUndefinedDerivedRoleReferences(docs []*types.Document, knownNames map[string]bool, report *types.ValidationReport) {
	for _, doc := range docs {
		if doc.Kind != types.KindResourcePolicy || doc.ResourcePolicy == nil {
			continue
		}
		for i, rule := range doc.ResourcePolicy.Rules {
			for _, dr := range rule.DerivedRoles {
				if !knownNames[dr] {
					report.AddError(types.ValidationError{
						Code:       types.CodeUndefinedDerivedRole,
						Path:       fmt.Sprintf("rules[%d].derivedRoles", i),
						Message:    fmt.Sprintf("undefined derived role %q", dr),
						PolicyName: doc.Metadata.Name,
					})
				}
			}
		}
	}
}

func isKnownRoot(root string, known []string) bool {
	switch root {
	case "principal", "resource", "request", "context", "true", "false", "null":
		return true
	}
	for _, k := range known {
		if k == root {
			return true
		}
	}
	return false
}
