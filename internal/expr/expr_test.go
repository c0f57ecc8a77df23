package expr_test

import (
	"testing"

	"github.com/authz-engine/go-core/internal/expr"
	"github.com/stretchr/testify/require"
)

func newEvaluator(t *testing.T) *expr.Evaluator {
	t.Helper()
	ev, err := expr.NewEvaluator(expr.DefaultConfig())
	require.NoError(t, err)
	return ev
}

func TestEvaluate_Basic(t *testing.T) {
	ev := newEvaluator(t)
	ctx := &expr.BindContext{
		Principal: map[string]interface{}{"id": "u1"},
		Resource:  map[string]interface{}{"attributes": map[string]interface{}{"ownerId": "u1"}},
	}

	ok, err := ev.Evaluate(`resource.attributes.ownerId == principal.id`, ctx)
	require.Nil(t, err)
	require.True(t, ok)
}

func TestEvaluate_OwnerMismatch(t *testing.T) {
	ev := newEvaluator(t)
	ctx := &expr.BindContext{
		Principal: map[string]interface{}{"id": "u1"},
		Resource:  map[string]interface{}{"attributes": map[string]interface{}{"ownerId": "u2"}},
	}

	ok, err := ev.Evaluate(`resource.attributes.ownerId == principal.id`, ctx)
	require.Nil(t, err)
	require.False(t, ok)
}

func TestEvaluate_SyntaxError(t *testing.T) {
	ev := newEvaluator(t)
	ctx := &expr.BindContext{Principal: map[string]interface{}{}, Resource: map[string]interface{}{}}

	_, err := ev.Evaluate(`principal.id ==`, ctx)
	require.NotNil(t, err)
	require.Equal(t, expr.InvalidSyntax, err.Kind)
}

func TestEvaluate_NonBooleanResult(t *testing.T) {
	ev := newEvaluator(t)
	ctx := &expr.BindContext{Principal: map[string]interface{}{"id": "u1"}, Resource: map[string]interface{}{}}

	_, err := ev.Evaluate(`principal.id`, ctx)
	require.NotNil(t, err)
	require.Equal(t, expr.TypeMismatch, err.Kind)
}

func TestEvaluate_TooLong(t *testing.T) {
	cfg := expr.DefaultConfig()
	cfg.MaxExpressionLength = 10
	ev, err := expr.NewEvaluator(cfg)
	require.NoError(t, err)

	_, eerr := ev.Evaluate(`principal.id == resource.attributes.ownerId`, &expr.BindContext{
		Principal: map[string]interface{}{}, Resource: map[string]interface{}{},
	})
	require.NotNil(t, eerr)
	require.Equal(t, expr.TooComplex, eerr.Kind)
}

func TestEvaluate_BooleanCombinators(t *testing.T) {
	ev := newEvaluator(t)
	ctx := &expr.BindContext{
		Principal: map[string]interface{}{"id": "u1"},
		Resource:  map[string]interface{}{"attributes": map[string]interface{}{"ownerId": "u1", "published": true}},
	}

	ok, err := ev.Evaluate(`resource.attributes.ownerId == principal.id && resource.attributes.published`, ctx)
	require.Nil(t, err)
	require.True(t, ok)
}

func TestCompile_CachesBySourceText(t *testing.T) {
	ev := newEvaluator(t)
	prog1, err1 := ev.Compile(`principal.id == "u1"`)
	prog2, err2 := ev.Compile(`principal.id == "u1"`)
	require.Nil(t, err1)
	require.Nil(t, err2)
	require.Same(t, prog1, prog2)
}
