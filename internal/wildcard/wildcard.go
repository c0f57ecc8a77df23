// Package wildcard implements the colon-segment action pattern matcher.
// Grounded on pkg/types' matchesPattern helper for derived-role parent
// patterns, generalized to the full per-segment grammar rule actions use:
// mid-pattern wildcards, trailing wildcards, and the bare "*" convention.
package wildcard

import "strings"

// Matcher is a pre-compiled pattern. Compile once at policy-index build
// time; Match is then an O(segments) walk with no further allocation
// beyond the one-time split of the candidate action string.
type Matcher struct {
	segments         []string
	trailingWildcard bool
}

// Compile builds a Matcher for a pattern string.
func Compile(pattern string) Matcher {
	segs := strings.Split(pattern, ":")
	return Matcher{
		segments:         segs,
		trailingWildcard: len(segs) > 0 && segs[len(segs)-1] == "*",
	}
}

// Matches compiles pattern and matches it against action in one call.
// Prefer Compile+Match when matching the same pattern repeatedly.
func Matches(pattern, action string) bool {
	return Compile(pattern).Match(action)
}

// Match reports whether action satisfies this pattern.
//
// A bare "*" pattern (no colons) matches any single-segment action only;
// it never matches a multi-segment action. A trailing wildcard
// ("prefix:*", "a:*:*") matches exactly one non-empty action segment
// beyond the literal prefix, with one exception: an empty segment (a
// literal double colon) followed by exactly one non-empty segment is also
// consumed, so "prefix:*" matches "prefix::read" but not "prefix:" or
// "prefix:read:extra". A wildcard that is not the pattern's last segment ("a:*:b")
// consumes exactly one non-empty action segment, so segment counts must
// match exactly in that case.
func (m Matcher) Match(action string) bool {
	if len(m.segments) == 1 && m.segments[0] == "*" {
		return action != "" && !strings.Contains(action, ":")
	}

	actionSegs := strings.Split(action, ":")

	if m.trailingWildcard {
		prefixLen := len(m.segments) - 1
		if len(actionSegs) < prefixLen {
			return false
		}
		for i := 0; i < prefixLen; i++ {
			if !segmentMatches(m.segments[i], actionSegs[i]) {
				return false
			}
		}
		tail := actionSegs[prefixLen:]
		switch len(tail) {
		case 1:
			return tail[0] != ""
		case 2:
			return tail[0] == "" && tail[1] != ""
		default:
			return false
		}
	}

	if len(m.segments) != len(actionSegs) {
		return false
	}
	for i, seg := range m.segments {
		if !segmentMatches(seg, actionSegs[i]) {
			return false
		}
	}
	return true
}

func segmentMatches(patternSeg, actionSeg string) bool {
	if patternSeg == "*" {
		return actionSeg != ""
	}
	return patternSeg == actionSeg
}

// RuleActionMatches implements the rule-authoring convention: a literal
// "*" entry in a rule's action list means "match any action whatsoever"
// and bypasses segment matching entirely. Every other entry in patterns
// is matched against action via Matches.
func RuleActionMatches(patterns []string, action string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
		if Matches(p, action) {
			return true
		}
	}
	return false
}
