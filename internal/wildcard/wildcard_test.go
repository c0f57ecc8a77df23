package wildcard_test

import (
	"testing"

	"github.com/authz-engine/go-core/internal/wildcard"
	"github.com/stretchr/testify/assert"
)

func TestMatches_BareWildcard(t *testing.T) {
	assert.True(t, wildcard.Matches("*", "read"))
	assert.False(t, wildcard.Matches("*", "documents:read"), "bare * must not match multi-segment actions")
}

func TestMatches_TrailingWildcard(t *testing.T) {
	assert.True(t, wildcard.Matches("documents:*", "documents:read"))
	assert.False(t, wildcard.Matches("documents:*", "documents:read:extra"))
}

func TestMatches_SuffixWildcard(t *testing.T) {
	assert.True(t, wildcard.Matches("*:read", "documents:read"))
	assert.False(t, wildcard.Matches("*:read", "documents:write"))
}

func TestMatches_MidSegmentNonGreedy(t *testing.T) {
	t.Run("matches exactly one segment", func(t *testing.T) {
		assert.True(t, wildcard.Matches("api:*:read", "api:users:read"))
	})
	t.Run("does not match two segments", func(t *testing.T) {
		assert.False(t, wildcard.Matches("api:*:read", "api:users:posts:read"))
	})
}

func TestMatches_CaseSensitive(t *testing.T) {
	assert.False(t, wildcard.Matches("documents:*", "Documents:read"))
}

func TestMatches_EmptyTrailingSegmentOpenQuestion(t *testing.T) {
	t.Run("bare trailing colon is rejected", func(t *testing.T) {
		assert.False(t, wildcard.Matches("prefix:*", "prefix:"))
	})
	t.Run("empty middle segment consumed by wildcard when more content follows", func(t *testing.T) {
		assert.True(t, wildcard.Matches("prefix:*", "prefix::read"))
	})
}

func TestMatches_LiteralAsteriskInActionText(t *testing.T) {
	assert.True(t, wildcard.Matches("prefix:*", "prefix:*"))
}

func TestRuleActionMatches(t *testing.T) {
	assert.True(t, wildcard.RuleActionMatches([]string{"*"}, "anything:goes:here"))
	assert.True(t, wildcard.RuleActionMatches([]string{"documents:read"}, "documents:read"))
	assert.False(t, wildcard.RuleActionMatches([]string{"documents:read"}, "documents:write"))
}
