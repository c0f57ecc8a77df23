package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_RecordDecisionIncrementsByPolicy(t *testing.T) {
	r := NewPrometheusRecorder("authz_test_decisions")

	r.RecordDecision("documents", 5*time.Microsecond)
	r.RecordDecision("documents", 8*time.Microsecond)
	r.RecordDecision("default-deny", 2*time.Microsecond)

	require.Equal(t, float64(2), testutil.ToFloat64(r.decisionsTotal.WithLabelValues("documents")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.decisionsTotal.WithLabelValues("default-deny")))
}

func TestPrometheusRecorder_RecordEvaluationError(t *testing.T) {
	r := NewPrometheusRecorder("authz_test_errors")

	r.RecordEvaluationError()
	r.RecordEvaluationError()

	require.Equal(t, float64(2), testutil.ToFloat64(r.evaluationErrors))
}

func TestPrometheusRecorder_RecordDerivedRoleCache(t *testing.T) {
	r := NewPrometheusRecorder("authz_test_cache")

	r.RecordDerivedRoleCache(true)
	r.RecordDerivedRoleCache(true)
	r.RecordDerivedRoleCache(false)

	require.Equal(t, float64(2), testutil.ToFloat64(r.derivedRoleCache.WithLabelValues("hit")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.derivedRoleCache.WithLabelValues("miss")))
}

func TestPrometheusRecorder_RegistryExposed(t *testing.T) {
	r := NewPrometheusRecorder("authz_test_registry")
	require.NotNil(t, r.Registry())
}
