package derivedroles_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/authz-engine/go-core/internal/derivedroles"
	"github.com/authz-engine/go-core/pkg/types"
)

func TestCache_GetOrComputeMemoizesWithinRequest(t *testing.T) {
	cache := derivedroles.NewCache()
	principal := &types.Principal{ID: "u1", Roles: []string{"user"}}
	resource := &types.Resource{Kind: "document", ID: "d1"}

	calls := 0
	compute := func() (derivedroles.RoleSet, error) {
		calls++
		return derivedroles.RoleSet{"user": true}, nil
	}

	_, err := cache.GetOrCompute(principal, resource, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(principal, resource, compute)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	hits, misses := cache.Stats()
	require.Equal(t, uint64(1), hits)
	require.Equal(t, uint64(1), misses)
}

func TestCache_RoleOrderDoesNotAffectKey(t *testing.T) {
	cache := derivedroles.NewCache()
	resource := &types.Resource{Kind: "document", ID: "d1"}

	calls := 0
	compute := func() (derivedroles.RoleSet, error) {
		calls++
		return derivedroles.RoleSet{}, nil
	}

	p1 := &types.Principal{ID: "u1", Roles: []string{"admin", "user"}}
	p2 := &types.Principal{ID: "u1", Roles: []string{"user", "admin"}}

	_, err := cache.GetOrCompute(p1, resource, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(p2, resource, compute)
	require.NoError(t, err)

	require.Equal(t, 1, calls, "sorted roles must canonicalize the cache key regardless of input order")
}

func TestCache_DifferentResourceIsDifferentKey(t *testing.T) {
	cache := derivedroles.NewCache()
	principal := &types.Principal{ID: "u1", Roles: []string{"user"}}

	calls := 0
	compute := func() (derivedroles.RoleSet, error) {
		calls++
		return derivedroles.RoleSet{}, nil
	}

	_, err := cache.GetOrCompute(principal, &types.Resource{Kind: "document", ID: "d1"}, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(principal, &types.Resource{Kind: "document", ID: "d2"}, compute)
	require.NoError(t, err)

	require.Equal(t, 2, calls)
	require.Equal(t, 2, cache.Size())
}

func TestCache_Clear(t *testing.T) {
	cache := derivedroles.NewCache()
	principal := &types.Principal{ID: "u1", Roles: []string{"user"}}
	resource := &types.Resource{Kind: "document", ID: "d1"}

	_, err := cache.GetOrCompute(principal, resource, func() (derivedroles.RoleSet, error) {
		return derivedroles.RoleSet{}, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, cache.Size())

	cache.Clear()
	require.Equal(t, 0, cache.Size())
}
