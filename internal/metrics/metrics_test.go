package metrics

import (
	"testing"
	"time"
)

func TestNoOp_DiscardsEverything(t *testing.T) {
	r := NoOp()
	// No panics or observable state; this exercises the interface contract.
	r.RecordDecision("allow", 10*time.Microsecond)
	r.RecordEvaluationError()
	r.RecordDerivedRoleCache(true)
	r.RecordDerivedRoleCache(false)
}

func TestRecorder_InterfaceSatisfiedByPrometheusRecorder(t *testing.T) {
	var _ Recorder = NewPrometheusRecorder("authz_test_metrics")
}
