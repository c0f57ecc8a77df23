package derivedroles

import (
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/authz-engine/go-core/pkg/types"
)

// Cache is the Resolver's per-request memoization layer: a short-lived,
// thread-safe cache of resolved RoleSets keyed by
// (principalId, sorted(principal.roles), resource.kind, resource.id), as
// spec.md §4.4 requires. Callers construct one per incoming request and
// discard it afterward — this is not a long-lived, cross-request cache.
//
// Grounded on internal/derived_roles/cache.go's Get/Set/Clear/Size shape,
// generalized from its principal-scope-aware SHA256 key (scope is out of
// scope here, see DESIGN.md) to xxhash, matching the enrichment pack's
// request-hot-path hashing choice.
type Cache struct {
	mu      sync.RWMutex
	entries map[uint64]RoleSet
	hits    uint64
	misses  uint64
}

// NewCache returns an empty Cache, ready for one request's worth of calls.
func NewCache() *Cache {
	return &Cache{entries: make(map[uint64]RoleSet)}
}

// GetOrCompute returns the cached RoleSet for (principal, resource) if
// present, else calls compute, stores, and returns its result. A non-nil
// *expr.EvaluationError from compute is never cached.
func (c *Cache) GetOrCompute(principal *types.Principal, resource *types.Resource, compute func() (RoleSet, error)) (RoleSet, error) {
	key := cacheKey(principal, resource)

	c.mu.RLock()
	if set, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.recordHit()
		return set, nil
	}
	c.mu.RUnlock()

	c.recordMiss()
	set, err := compute()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = set
	c.mu.Unlock()

	return set, nil
}

// Clear empties the cache, preserving hit/miss counters. Call this between
// requests if a Cache instance is being reused rather than reconstructed.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]RoleSet)
}

// Size returns the current number of memoized entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns (hits, misses) observed so far.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// cacheKey canonicalizes (principalId, sorted roles, resource.kind,
// resource.id) into an xxhash digest, matching spec.md §4.4's
// memoization-key definition exactly.
func cacheKey(principal *types.Principal, resource *types.Resource) uint64 {
	roles := make([]string, len(principal.Roles))
	copy(roles, principal.Roles)
	sort.Strings(roles)

	var b strings.Builder
	b.WriteString(principal.ID)
	b.WriteByte(0)
	b.WriteString(strings.Join(roles, ","))
	b.WriteByte(0)
	if resource != nil {
		b.WriteString(resource.Kind)
		b.WriteByte(0)
		b.WriteString(resource.ID)
	}

	return xxhash.Sum64String(b.String())
}
