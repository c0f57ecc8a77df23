package policyvalidate_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authz-engine/go-core/internal/policyvalidate"
	"github.com/authz-engine/go-core/pkg/types"
)

func newValidator(t *testing.T) *policyvalidate.Validator {
	t.Helper()
	v, err := policyvalidate.New()
	require.NoError(t, err)
	return v
}

func hasCode(report *types.ValidationReport, code types.ErrorCode) bool {
	for _, e := range report.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// TestValidate_CircularDerivedRoles covers spec.md scenario 5: A -> B -> C -> A.
func TestValidate_CircularDerivedRoles(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.KindDerivedRoles,
		Metadata:   types.Metadata{Name: "cyclic-roles"},
		DerivedRoles: &types.DerivedRolesSpec{
			Definitions: []*types.DerivedRoleDefinition{
				{Name: "A", ParentRoles: []string{"B"}},
				{Name: "B", ParentRoles: []string{"C"}},
				{Name: "C", ParentRoles: []string{"A"}},
			},
		},
	}

	report := v.Validate(doc, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeCircularDependency))
}

func TestValidate_ValidDerivedRoles(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.KindDerivedRoles,
		Metadata:   types.Metadata{Name: "owner-roles"},
		DerivedRoles: &types.DerivedRolesSpec{
			Definitions: []*types.DerivedRoleDefinition{
				{Name: "owner", ParentRoles: []string{"user"}, Condition: &types.Condition{Expression: "resource.attributes.ownerId == principal.id"}},
			},
		},
	}

	report := v.Validate(doc, types.DefaultValidatorOptions())
	require.True(t, report.Valid)
	require.Empty(t, report.Errors)
}

func TestValidate_InvalidKindSuggestsClosest(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.Kind("ResourcePolcy"),
		Metadata:   types.Metadata{Name: "typo-kind"},
	}

	report := v.Validate(doc, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeInvalidKind))

	var found bool
	for _, e := range report.Errors {
		if e.Code == types.CodeInvalidKind {
			require.Equal(t, "ResourcePolicy", e.Suggestion)
			found = true
		}
	}
	require.True(t, found)
}

func TestValidate_EmptyRulesRejected(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion:     types.APIVersion,
		Kind:           types.KindResourcePolicy,
		Metadata:       types.Metadata{Name: "no-rules"},
		ResourcePolicy: &types.ResourcePolicySpec{Resource: "document"},
	}

	report := v.Validate(doc, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeEmptyArray))
}

func TestValidate_InvalidEffectRejected(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.KindResourcePolicy,
		Metadata:   types.Metadata{Name: "bad-effect"},
		ResourcePolicy: &types.ResourcePolicySpec{
			Resource: "document",
			Rules: []*types.Rule{
				{Actions: []string{"read"}, Effect: types.Effect("ALLOW"), Roles: []string{"viewer"}},
			},
		},
	}

	report := v.Validate(doc, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeInvalidEffect))
}

func TestValidate_InvalidCELSyntax(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.KindResourcePolicy,
		Metadata:   types.Metadata{Name: "bad-condition"},
		ResourcePolicy: &types.ResourcePolicySpec{
			Resource: "document",
			Rules: []*types.Rule{
				{
					Actions:   []string{"read"},
					Effect:    types.EffectAllow,
					Roles:     []string{"viewer"},
					Condition: &types.Condition{Expression: "resource.attributes.ownerId =="},
				},
			},
		},
	}

	report := v.Validate(doc, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeInvalidCELSyntax))
}

func TestValidateAll_UndefinedDerivedRoleReference(t *testing.T) {
	v := newValidator(t)

	resourceDoc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.KindResourcePolicy,
		Metadata:   types.Metadata{Name: "documents"},
		ResourcePolicy: &types.ResourcePolicySpec{
			Resource: "document",
			Rules: []*types.Rule{
				{Actions: []string{"delete"}, Effect: types.EffectAllow, DerivedRoles: []string{"owner"}},
			},
		},
	}

	report := v.ValidateAll([]*types.Document{resourceDoc}, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeUndefinedDerivedRole))
}

func TestValidateAll_DuplicateDerivedRoleName(t *testing.T) {
	v := newValidator(t)

	doc1 := &types.Document{
		APIVersion:   types.APIVersion,
		Kind:         types.KindDerivedRoles,
		Metadata:     types.Metadata{Name: "roles-a"},
		DerivedRoles: &types.DerivedRolesSpec{Definitions: []*types.DerivedRoleDefinition{{Name: "owner", ParentRoles: []string{"user"}}}},
	}
	doc2 := &types.Document{
		APIVersion:   types.APIVersion,
		Kind:         types.KindDerivedRoles,
		Metadata:     types.Metadata{Name: "roles-b"},
		DerivedRoles: &types.DerivedRolesSpec{Definitions: []*types.DerivedRoleDefinition{{Name: "owner", ParentRoles: []string{"admin"}}}},
	}

	report := v.ValidateAll([]*types.Document{doc1, doc2}, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeDuplicateDefinition))
}

func TestValidate_SelfReferencingParentRoleRejected(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.KindDerivedRoles,
		Metadata:   types.Metadata{Name: "self-ref"},
		DerivedRoles: &types.DerivedRolesSpec{
			Definitions: []*types.DerivedRoleDefinition{
				{Name: "owner", ParentRoles: []string{"owner"}},
			},
		},
	}

	report := v.Validate(doc, types.DefaultValidatorOptions())
	require.False(t, report.Valid)
	require.True(t, hasCode(report, types.CodeInvalidParentRole))
}

func TestValidate_StrictModeWarnsOnRuleWithNoRoles(t *testing.T) {
	v := newValidator(t)

	doc := &types.Document{
		APIVersion: types.APIVersion,
		Kind:       types.KindResourcePolicy,
		Metadata:   types.Metadata{Name: "wide-open"},
		ResourcePolicy: &types.ResourcePolicySpec{
			Resource: "document",
			Rules: []*types.Rule{
				{Actions: []string{"read"}, Effect: types.EffectAllow},
			},
		},
	}

	opts := types.DefaultValidatorOptions()
	opts.Strict = true
	report := v.Validate(doc, opts)
	require.True(t, report.Valid)
	require.NotEmpty(t, report.Warnings)
}
