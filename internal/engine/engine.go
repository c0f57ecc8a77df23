// Package engine is the top-level Engine API (spec.md §6.1) wrapping the
// Decision Engine (C6): policy loading and the synchronous, re-entrant
// check(CheckRequest) -> CheckResponse contract of spec.md §4.6.
//
// Grounded on internal/engine/engine.go's Check/evaluateWithPriority/
// evaluatePolicyTier shape, generalized to spec.md's exact combination
// rule (global deny-override, with principal-policy allow never
// overridden by a resource-policy deny — see DESIGN.md's Open Question
// resolution) rather than the teacher's first-tier-wins shortcut. The
// teacher's CheckBatch (goroutine fan-out across requests) is not carried
// forward: spec.md §5 requires check to be synchronous per call, and
// nothing in this package needs to parallelize within one call.
package engine

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/authz-engine/go-core/internal/derivedroles"
	"github.com/authz-engine/go-core/internal/expr"
	"github.com/authz-engine/go-core/internal/metrics"
	"github.com/authz-engine/go-core/internal/policyindex"
	"github.com/authz-engine/go-core/pkg/types"
)

// EngineConfig configures the expression evaluator embedded in the Engine
// and mirrors the teacher's engine.Config/DefaultConfig shape.
type EngineConfig struct {
	MaxExpressionLength int
	MaxNestingDepth     int
	MaxCostBudget       uint64
	EvalTimeout         time.Duration
}

// DefaultEngineConfig mirrors Sentinel-Gate's CEL adapter defaults, as
// internal/expr.DefaultConfig also does.
func DefaultEngineConfig() EngineConfig {
	cfg := expr.DefaultConfig()
	return EngineConfig{
		MaxExpressionLength: cfg.MaxExpressionLength,
		MaxNestingDepth:     cfg.MaxNestingDepth,
		MaxCostBudget:       cfg.MaxCostBudget,
		EvalTimeout:         cfg.EvalTimeout,
	}
}

func (c EngineConfig) toExprConfig() expr.Config {
	return expr.Config{
		MaxExpressionLength: c.MaxExpressionLength,
		MaxNestingDepth:     c.MaxNestingDepth,
		MaxCostBudget:       c.MaxCostBudget,
		EvalTimeout:         c.EvalTimeout,
	}
}

// Stats reports corpus-level counts, per spec.md §6.1.
type Stats struct {
	ResourcePolicies     int
	DerivedRolesPolicies int
	Resources            int
}

// Engine is the top-level authorization decision engine: policy loading
// plus the synchronous Check entry point.
type Engine struct {
	exprEval *expr.Evaluator
	logger   *zap.Logger
	recorder metrics.Recorder
	cfg      EngineConfig

	resourceDocs    []*types.Document
	derivedRoleDocs []*types.Document
	principalDocs   []*types.Document
	index           *policyindex.Index
}

// New builds an Engine with no policies loaded. A nil logger defaults to
// zap.NewNop(), matching cmd/authz-server/main.go's optional-logger style.
// Use WithRecorder to attach metrics; by default the Engine records nothing.
func New(cfg EngineConfig, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ev, err := expr.NewEvaluator(cfg.toExprConfig())
	if err != nil {
		return nil, err
	}

	e := &Engine{exprEval: ev, logger: logger, recorder: metrics.NoOp(), cfg: cfg}
	if err := e.rebuild(); err != nil {
		return nil, err
	}
	return e, nil
}

// WithRecorder attaches a metrics.Recorder, replacing the no-op default.
func (e *Engine) WithRecorder(recorder metrics.Recorder) *Engine {
	if recorder != nil {
		e.recorder = recorder
	}
	return e
}

// LoadResourcePolicies adds ResourcePolicy documents to the corpus and
// rebuilds the Policy Index. Documents are expected to have already
// passed internal/policyvalidate.
func (e *Engine) LoadResourcePolicies(docs []*types.Document) error {
	e.resourceDocs = append(e.resourceDocs, docs...)
	return e.rebuild()
}

// LoadDerivedRolesPolicies adds DerivedRoles documents to the corpus and
// rebuilds the Policy Index.
func (e *Engine) LoadDerivedRolesPolicies(docs []*types.Document) error {
	e.derivedRoleDocs = append(e.derivedRoleDocs, docs...)
	return e.rebuild()
}

// LoadPrincipalPolicies adds PrincipalPolicy documents to the corpus and
// rebuilds the Policy Index.
func (e *Engine) LoadPrincipalPolicies(docs []*types.Document) error {
	e.principalDocs = append(e.principalDocs, docs...)
	return e.rebuild()
}

// ClearPolicies empties the corpus entirely.
func (e *Engine) ClearPolicies() error {
	e.resourceDocs = nil
	e.derivedRoleDocs = nil
	e.principalDocs = nil
	return e.rebuild()
}

func (e *Engine) rebuild() error {
	all := make([]*types.Document, 0, len(e.resourceDocs)+len(e.derivedRoleDocs)+len(e.principalDocs))
	all = append(all, e.resourceDocs...)
	all = append(all, e.derivedRoleDocs...)
	all = append(all, e.principalDocs...)

	idx, err := policyindex.Build(all, e.exprEval)
	if err != nil {
		e.logger.Warn("policy index build failed", zap.Error(err))
		return err
	}
	e.index = idx
	e.logger.Info("policy index built",
		zap.Int("resourcePolicies", len(e.resourceDocs)),
		zap.Int("derivedRolesPolicies", len(e.derivedRoleDocs)),
		zap.Int("principalPolicies", len(e.principalDocs)),
	)
	return nil
}

// Stats reports corpus-level counts, per spec.md §6.1.
func (e *Engine) Stats() Stats {
	s := e.index.Stats()
	return Stats{
		ResourcePolicies:     s.ResourcePolicyCount,
		DerivedRolesPolicies: s.DerivedRolePolicy,
		Resources:            s.DistinctResourceKinds,
	}
}

// Check evaluates req against the loaded policy corpus, implementing
// spec.md §4.6 exactly: deny-override combination within each action,
// principal-policy priority (a principal-policy deny is final and
// short-circuits; a principal-policy allow is never overridden by a
// resource-policy deny — see DESIGN.md's Open Question resolution), and
// fail-closed behavior on any evaluator error.
func (e *Engine) Check(req *types.CheckRequest) *types.CheckResponse {
	checkStart := time.Now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	results := make(map[string]types.ActionResult, len(req.Actions))
	if len(req.Actions) == 0 {
		return &types.CheckResponse{
			RequestID: requestID,
			Results:   results,
			Meta:      types.ResponseMetadata{EvaluationDurationMs: elapsedMs(checkStart)},
		}
	}

	resolver := e.index.NewResolver()
	cache := derivedroles.NewCache()
	var policiesEvaluated []string

	resolveRoles := func() (derivedroles.RoleSet, *expr.EvaluationError) {
		hitsBefore, _ := cache.Stats()
		set, err := cache.GetOrCompute(req.Principal, req.Resource, func() (derivedroles.RoleSet, error) {
			s, eerr := resolver.Resolve(req.Principal, req.Resource)
			if eerr != nil {
				return nil, eerr
			}
			return s, nil
		})
		hitsAfter, _ := cache.Stats()
		e.recorder.RecordDerivedRoleCache(hitsAfter > hitsBefore)
		if err != nil {
			if eerr, ok := err.(*expr.EvaluationError); ok {
				return nil, eerr
			}
			return nil, &expr.EvaluationError{Kind: expr.TypeMismatch, Message: err.Error()}
		}
		return set, nil
	}

	principalRules := e.index.RulesForPrincipal(req.Principal.ID, req.Resource.Kind)
	resourceRules := e.index.RulesForResourceKind(req.Resource.Kind)

	for _, action := range req.Actions {
		start := time.Now()
		result, evaluated, fatal := e.checkAction(req, action, principalRules, resourceRules, resolveRoles)
		results[action] = result
		policiesEvaluated = append(policiesEvaluated, evaluated...)
		e.recorder.RecordDecision(result.Policy, time.Since(start))
		if fatal {
			e.recorder.RecordEvaluationError()
			e.logger.Warn("condition evaluation failed, failing closed", zap.String("action", action))
		}
	}

	return &types.CheckResponse{
		RequestID: requestID,
		Results:   results,
		Meta: types.ResponseMetadata{
			EvaluationDurationMs: elapsedMs(checkStart),
			PoliciesEvaluated:    dedupe(policiesEvaluated),
		},
	}
}

// elapsedMs reports milliseconds elapsed since start, for
// ResponseMetadata.EvaluationDurationMs.
func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// checkAction resolves one action's decision. It returns the policy names
// consulted (for response.meta.policiesEvaluated) and whether an evaluator
// error forced a fail-closed deny.
func (e *Engine) checkAction(
	req *types.CheckRequest,
	action string,
	principalRules []*policyindex.CompiledRule,
	resourceRules []*policyindex.CompiledRule,
	resolveRoles func() (derivedroles.RoleSet, *expr.EvaluationError),
) (types.ActionResult, []string, bool) {
	if resourceRules == nil && principalRules == nil {
		return types.ActionResult{Effect: types.EffectDeny, Policy: "default-deny"}, nil, false
	}

	// Principal policies are evaluated first and take absolute priority:
	// a deny there is final; an allow there is never overridden by a
	// resource-policy deny (spec.md §4.6's principal-policy note).
	if len(principalRules) > 0 {
		result, evaluated, fatal, decided := e.evaluateTier(req, action, principalRules, resolveRoles)
		if fatal {
			return result, evaluated, true
		}
		if decided && result.Effect == types.EffectDeny {
			return result, evaluated, false
		}
		if decided && result.Effect == types.EffectAllow {
			return result, evaluated, false
		}
	}

	result, evaluated, fatal, decided := e.evaluateTier(req, action, resourceRules, resolveRoles)
	if fatal {
		return result, evaluated, true
	}
	if decided {
		return result, evaluated, false
	}
	return types.ActionResult{Effect: types.EffectDeny, Policy: "default-deny"}, evaluated, false
}

// evaluateTier applies deny-override combination across one sequence of
// rules (either the principal tier or the resource tier) for one action.
func (e *Engine) evaluateTier(
	req *types.CheckRequest,
	action string,
	rules []*policyindex.CompiledRule,
	resolveRoles func() (derivedroles.RoleSet, *expr.EvaluationError),
) (result types.ActionResult, evaluated []string, fatal bool, decided bool) {
	var firstAllow *types.ActionResult
	var firstAllowPolicy string

	for _, rule := range rules {
		if rule.PolicyName != "" {
			evaluated = append(evaluated, rule.PolicyName)
		}

		if !rule.Matches(action) {
			continue
		}

		roleMatch := req.Principal.HasRoleAny(rule.Source.Roles)
		derivedMatch := false
		if len(rule.Source.DerivedRoles) > 0 {
			roles, eerr := resolveRoles()
			if eerr != nil {
				return types.ActionResult{Effect: types.EffectDeny, Meta: map[string]string{"error": eerr.Error()}}, evaluated, true, true
			}
			derivedMatch = roles.Intersects(rule.Source.DerivedRoles)
		}

		applicable := roleMatch || derivedMatch || (len(rule.Source.Roles) == 0 && len(rule.Source.DerivedRoles) == 0)
		if !applicable {
			continue
		}

		if rule.Source.Condition != nil && rule.Source.Condition.Expression != "" {
			ctx := &expr.BindContext{
				Principal: req.Principal.ToMap(),
				Resource:  req.Resource.ToMap(),
				Request:   req.Context,
			}
			ok, eerr := e.exprEval.Evaluate(rule.Source.Condition.Expression, ctx)
			if eerr != nil {
				return types.ActionResult{Effect: types.EffectDeny, Meta: map[string]string{"error": eerr.Error()}}, evaluated, true, true
			}
			if !ok {
				continue
			}
		}

		if rule.Source.Effect == types.EffectDeny {
			meta := map[string]string{"matchedRule": ruleLabel(rule)}
			return types.ActionResult{Effect: types.EffectDeny, Policy: rule.PolicyName, Meta: meta}, evaluated, false, true
		}

		if firstAllow == nil {
			meta := map[string]string{"matchedRule": ruleLabel(rule)}
			r := types.ActionResult{Effect: types.EffectAllow, Policy: rule.PolicyName, Meta: meta}
			firstAllow = &r
			firstAllowPolicy = rule.PolicyName
		}
	}

	if firstAllow != nil {
		_ = firstAllowPolicy
		return *firstAllow, evaluated, false, true
	}

	return types.ActionResult{}, evaluated, false, false
}

func ruleLabel(rule *policyindex.CompiledRule) string {
	if rule.Source.Name != "" {
		return rule.Source.Name
	}
	return ""
}

func dedupe(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
