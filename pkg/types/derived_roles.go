// Package types provides the shared data model for the authorization
// decision engine.
package types

import (
	"fmt"
	"strings"
)

// DerivedRoleDefinition is a role computed at request time from a set of
// parent-role patterns plus a condition over principal/resource attributes.
type DerivedRoleDefinition struct {
	Name        string     `json:"name" yaml:"name"`
	ParentRoles []string   `json:"parentRoles" yaml:"parentRoles"`
	Condition   *Condition `json:"condition" yaml:"condition"`
}

// MatchesAnyParent reports whether any of the definition's parent-role
// patterns matches any role in the supplied set (OR logic across
// parentRoles): a single matching pattern is sufficient.
func (d *DerivedRoleDefinition) MatchesAnyParent(roles []string) bool {
	for _, pattern := range d.ParentRoles {
		for _, role := range roles {
			if matchesPattern(role, pattern) {
				return true
			}
		}
	}
	return false
}

// Validate checks the structural validity of a derived role definition,
// independent of cross-reference and cycle checks performed over the
// whole corpus.
func (d *DerivedRoleDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("derived role name cannot be empty")
	}
	if len(d.ParentRoles) == 0 {
		return fmt.Errorf("derived role %q must have at least one parent role", d.Name)
	}
	for _, parentRole := range d.ParentRoles {
		if parentRole == "" {
			return fmt.Errorf("derived role %q has empty parent role", d.Name)
		}
		if strings.Count(parentRole, "*") > 1 {
			return fmt.Errorf("derived role %q has invalid parent role pattern %q (multiple wildcards not supported)", d.Name, parentRole)
		}
	}
	return nil
}

// matchesPattern checks if a role matches a wildcard pattern. Supports:
//  1. Exact match: "admin" matches "admin"
//  2. Universal wildcard: "*" matches any role
//  3. Prefix wildcard: "admin:*" matches "admin:read", "admin:write"
func matchesPattern(role, pattern string) bool {
	if role == pattern {
		return true
	}
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, ":*") {
		prefix := strings.TrimSuffix(pattern, ":*")
		return strings.HasPrefix(role, prefix+":")
	}
	return false
}

// IsWildcardParentPattern reports whether a parent-role pattern is one of
// the permitted wildcard forms: the bare "*" or a trailing "prefix:*". It
// returns false for plain role names and for any other placement of "*".
func IsWildcardParentPattern(pattern string) bool {
	return pattern == "*" || strings.HasSuffix(pattern, ":*")
}
