// Package types provides the shared data model for the authorization
// decision engine: requests, responses, and the policy document tree.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Effect is the outcome a matching rule contributes to a decision.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Principal is the acting identity making a request.
type Principal struct {
	ID         string                 `json:"id" yaml:"id" validate:"required"`
	Roles      []string               `json:"roles" yaml:"roles"`
	Attributes map[string]interface{} `json:"attributes" yaml:"attributes"`
}

// HasRole reports whether the principal carries a given base role exactly.
func (p *Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasRoleAny reports whether the principal's base role set intersects any
// of candidates.
func (p *Principal) HasRoleAny(candidates []string) bool {
	for _, c := range candidates {
		if p.HasRole(c) {
			return true
		}
	}
	return false
}

// ToMap converts Principal to the map shape CEL conditions bind against.
func (p *Principal) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":         p.ID,
		"roles":      p.Roles,
		"attributes": p.Attributes,
		"attr":       p.Attributes,
	}
}

// Resource is the object of the request.
type Resource struct {
	Kind       string                 `json:"kind" yaml:"kind" validate:"required"`
	ID         string                 `json:"id" yaml:"id" validate:"required"`
	Attributes map[string]interface{} `json:"attributes" yaml:"attributes"`
}

// ToMap converts Resource to the map shape CEL conditions bind against.
func (r *Resource) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"kind":       r.Kind,
		"id":         r.ID,
		"attributes": r.Attributes,
		"attr":       r.Attributes,
	}
}

// CheckRequest is an authorization check request for one or more actions.
type CheckRequest struct {
	RequestID       string                 `json:"requestId,omitempty"`
	Principal       *Principal             `json:"principal" validate:"required"`
	Resource        *Resource              `json:"resource" validate:"required"`
	Actions         []string               `json:"actions" validate:"required,min=1,dive,required"`
	Context         map[string]interface{} `json:"context,omitempty"`
	IncludeMetadata bool                   `json:"includeMetadata,omitempty"`
}

// CacheKey produces a stable key for this request, sorting roles and
// actions so that any ordering hashes identically.
func (r *CheckRequest) CacheKey() string {
	roles := make([]string, len(r.Principal.Roles))
	copy(roles, r.Principal.Roles)
	sort.Strings(roles)

	actions := make([]string, len(r.Actions))
	copy(actions, r.Actions)
	sort.Strings(actions)

	key := strings.Join([]string{
		r.Principal.ID,
		strings.Join(roles, ","),
		r.Resource.Kind,
		r.Resource.ID,
		strings.Join(actions, ","),
	}, ":")
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:16])
}

// CheckResponse carries the decision for every requested action.
type CheckResponse struct {
	RequestID string                  `json:"requestId"`
	Results   map[string]ActionResult `json:"results"`
	Meta      ResponseMetadata        `json:"meta"`
}

// ActionResult is the decision for a single action.
type ActionResult struct {
	Effect Effect            `json:"effect"`
	Policy string            `json:"policy,omitempty"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// IsAllowed reports whether the effect is allow.
func (r *ActionResult) IsAllowed() bool {
	return r.Effect == EffectAllow
}

// ResponseMetadata carries evaluation provenance for a CheckResponse.
type ResponseMetadata struct {
	EvaluationDurationMs float64  `json:"evaluationDurationMs"`
	PoliciesEvaluated    []string `json:"policiesEvaluated"`
}

// Condition is a side-effect-free boolean expression over
// {principal, resource, request}.
type Condition struct {
	Expression string `json:"expression" yaml:"expression"`
}

// Rule is an authored tuple of actions, effect, roles/derived-roles, and
// an optional condition, inside a resource or principal policy.
type Rule struct {
	Name         string     `json:"name,omitempty" yaml:"name,omitempty"`
	Actions      []string   `json:"actions" yaml:"actions"`
	Effect       Effect     `json:"effect" yaml:"effect"`
	Roles        []string   `json:"roles,omitempty" yaml:"roles,omitempty"`
	DerivedRoles []string   `json:"derivedRoles,omitempty" yaml:"derivedRoles,omitempty"`
	Condition    *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// Kind discriminates the three policy document variants.
type Kind string

const (
	KindResourcePolicy  Kind = "ResourcePolicy"
	KindDerivedRoles    Kind = "DerivedRoles"
	KindPrincipalPolicy Kind = "PrincipalPolicy"
)

// APIVersion is the only accepted apiVersion value for a policy document.
const APIVersion = "authz.engine/v1"

// Metadata is shared across every policy document kind.
type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// ResourcePolicySpec is the payload of a ResourcePolicy document.
type ResourcePolicySpec struct {
	Resource string  `json:"resource" yaml:"resource"`
	Rules    []*Rule `json:"rules" yaml:"rules"`
}

// DerivedRolesSpec is the payload of a DerivedRoles document.
type DerivedRolesSpec struct {
	Definitions []*DerivedRoleDefinition `json:"definitions" yaml:"definitions"`
}

// PrincipalPolicySpec is the payload of a PrincipalPolicy document. Rules
// are indexed by the resource kind they apply to.
type PrincipalPolicySpec struct {
	Principal string             `json:"principal" yaml:"principal"`
	Version   string             `json:"version,omitempty" yaml:"version,omitempty"`
	Rules     map[string][]*Rule `json:"rules" yaml:"rules"`
}

// Document is a tagged variant over the three policy kinds. Exactly one
// of ResourcePolicy, DerivedRoles, or PrincipalPolicy is populated,
// matching Kind.
type Document struct {
	APIVersion string   `json:"apiVersion" yaml:"apiVersion" validate:"required"`
	Kind       Kind     `json:"kind" yaml:"kind" validate:"required,oneof=ResourcePolicy DerivedRoles PrincipalPolicy"`
	Metadata   Metadata `json:"metadata" yaml:"metadata"`

	ResourcePolicy  *ResourcePolicySpec   `json:"resourcePolicy,omitempty" yaml:"resourcePolicy,omitempty"`
	DerivedRoles    *DerivedRolesSpec     `json:"derivedRoles,omitempty" yaml:"derivedRoles,omitempty"`
	PrincipalPolicy *PrincipalPolicySpec  `json:"principalPolicy,omitempty" yaml:"principalPolicy,omitempty"`
}
