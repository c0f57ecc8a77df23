// Package expr is the condition expression evaluator (C1). It compiles and
// evaluates the small boolean expression grammar conditions use, over a
// bound {principal, resource, request} context.
//
// Grounded on internal/cel/engine.go's Engine/EvalContext shape, but built
// on cel-go's newer cel.Variable API (as internal/policy/validator.go and
// the pack's Sentinel-Gate universal_env.go both do) rather than the older
// decls/exprpb API, so this module never needs google.golang.org/genproto
// as a direct dependency.
package expr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// ErrorKind enumerates the evaluation error taxonomy.
type ErrorKind string

const (
	InvalidSyntax     ErrorKind = "InvalidSyntax"
	UnknownIdentifier ErrorKind = "UnknownIdentifier"
	TypeMismatch      ErrorKind = "TypeMismatch"
	DivisionByZero    ErrorKind = "DivisionByZero" // reserved, unused: a CEL division-by-zero runtime error is reported as TypeMismatch
	TooComplex        ErrorKind = "TooComplex"
)

// Location is a best-effort source position within the expression text.
type Location struct {
	Line   int
	Column int
}

// EvaluationError is the run-time error taxonomy C1 raises. It is never an
// exception: every Evaluate call returns either (bool, nil) or
// (false, *EvaluationError).
type EvaluationError struct {
	Kind     ErrorKind
	Location *Location
	Message  string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// BindContext is the read-only view over a request's principal/resource
// (and, where applicable, request-scoped context) that conditions
// evaluate against.
type BindContext struct {
	Principal map[string]interface{}
	Resource  map[string]interface{}
	Request   map[string]interface{}
}

func (c *BindContext) vars() map[string]interface{} {
	request := c.Request
	if request == nil {
		request = map[string]interface{}{}
	}
	return map[string]interface{}{
		"principal": c.Principal,
		"resource":  c.Resource,
		"request":   request,
		"context":   request,
	}
}

// Config bounds evaluator resource usage.
type Config struct {
	MaxExpressionLength int
	MaxNestingDepth     int
	MaxCostBudget       uint64
	EvalTimeout         time.Duration
}

// DefaultConfig mirrors the guard values Sentinel-Gate's CEL adapter uses.
func DefaultConfig() Config {
	return Config{
		MaxExpressionLength: 1024,
		MaxNestingDepth:     50,
		MaxCostBudget:       100_000,
		EvalTimeout:         5 * time.Second,
	}
}

// Evaluator compiles and evaluates conditions, caching compiled programs
// by source text so that index-build-time compilation amortizes across
// every request that reaches the same rule.
type Evaluator struct {
	env      *cel.Env
	cfg      Config
	programs sync.Map // map[string]cel.Program
}

// NewEvaluator builds an Evaluator with the standard principal/resource/
// request/context variable bindings.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("principal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("resource", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("request", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("building CEL environment: %w", err)
	}
	return &Evaluator{env: env, cfg: cfg}, nil
}

// Compile parses and type-checks exprText, caching the resulting program
// by source text. Call this at policy-index build time so Evaluate never
// pays parse cost again.
func (e *Evaluator) Compile(exprText string) (cel.Program, *EvaluationError) {
	if prog, ok := e.programs.Load(exprText); ok {
		return prog.(cel.Program), nil
	}

	if len(exprText) > e.cfg.MaxExpressionLength {
		return nil, &EvaluationError{Kind: TooComplex, Message: fmt.Sprintf("expression exceeds %d characters", e.cfg.MaxExpressionLength)}
	}
	if depth := nestingDepth(exprText); depth > e.cfg.MaxNestingDepth {
		return nil, &EvaluationError{Kind: TooComplex, Message: fmt.Sprintf("expression nesting depth %d exceeds limit %d", depth, e.cfg.MaxNestingDepth)}
	}

	parsed, issues := e.env.Parse(exprText)
	if issues != nil && issues.Err() != nil {
		return nil, classifyIssue(issues.Err())
	}

	checked, issues := e.env.Check(parsed)
	if issues != nil && issues.Err() != nil {
		return nil, classifyIssue(issues.Err())
	}

	if checked.OutputType() != cel.BoolType {
		return nil, &EvaluationError{Kind: TypeMismatch, Message: fmt.Sprintf("condition must evaluate to bool, got %v", checked.OutputType())}
	}

	prog, err := e.env.Program(checked, cel.CostLimit(e.cfg.MaxCostBudget))
	if err != nil {
		return nil, &EvaluationError{Kind: InvalidSyntax, Message: err.Error()}
	}

	e.programs.Store(exprText, prog)
	return prog, nil
}

// Evaluate compiles (or reuses a cached compile of) exprText and runs it
// against ctx, bounding wall-clock work with the configured timeout.
func (e *Evaluator) Evaluate(exprText string, ctx *BindContext) (bool, *EvaluationError) {
	prog, cerr := e.Compile(exprText)
	if cerr != nil {
		return false, cerr
	}

	runCtx := context.Background()
	var cancel context.CancelFunc
	if e.cfg.EvalTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, e.cfg.EvalTimeout)
		defer cancel()
	}

	result, _, err := prog.ContextEval(runCtx, ctx.vars())
	if err != nil {
		if isMissingPathError(err) {
			// A missing map key under the untyped principal/resource/request
			// maps is "undefined", which compares equal to nothing and
			// propagates as false in boolean positions rather than aborting
			// evaluation of the remaining rules.
			return false, nil
		}
		return false, classifyRuntimeError(err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, &EvaluationError{Kind: TypeMismatch, Message: "expression did not evaluate to a boolean"}
	}
	return boolVal, nil
}

// ClearCache drops all compiled programs.
func (e *Evaluator) ClearCache() {
	e.programs = sync.Map{}
}

func classifyIssue(err error) *EvaluationError {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "==="):
		return &EvaluationError{Kind: InvalidSyntax, Message: msg, Location: bestEffortLocation(msg)}
	case strings.Contains(lower, "undeclared reference"), strings.Contains(lower, "undefined field"):
		return &EvaluationError{Kind: UnknownIdentifier, Message: msg, Location: bestEffortLocation(msg)}
	case strings.Contains(lower, "found no matching overload"), strings.Contains(lower, "no such overload"), strings.Contains(lower, "expected type"):
		return &EvaluationError{Kind: TypeMismatch, Message: msg, Location: bestEffortLocation(msg)}
	case strings.Contains(lower, "syntax error"), strings.Contains(lower, "mismatched input"), strings.Contains(lower, "unexpected token"), strings.Contains(lower, "extraneous input"):
		return &EvaluationError{Kind: InvalidSyntax, Message: msg, Location: bestEffortLocation(msg)}
	default:
		return &EvaluationError{Kind: InvalidSyntax, Message: msg, Location: bestEffortLocation(msg)}
	}
}

func classifyRuntimeError(err error) *EvaluationError {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "actual cost limit exceeded"):
		return &EvaluationError{Kind: TooComplex, Message: err.Error()}
	case strings.Contains(lower, "no such overload"), strings.Contains(lower, "unsupported"):
		return &EvaluationError{Kind: TypeMismatch, Message: err.Error()}
	default:
		return &EvaluationError{Kind: TypeMismatch, Message: err.Error()}
	}
}

// isMissingPathError reports whether a runtime evaluation error is cel-go's
// "no such key"/"no such attribute" class, raised when a condition indexes
// through an absent key on the untyped principal/resource/request maps.
// spec.md §4.1 treats this as undefined rather than a fatal error.
func isMissingPathError(err error) bool {
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "no such key") || strings.Contains(lower, "no such attribute")
}

// bestEffortLocation extracts a "line:column" prefix cel-go sometimes
// embeds in its error text; absence is not itself an error.
func bestEffortLocation(msg string) *Location {
	var line, col int
	if n, err := fmt.Sscanf(msg, "ERROR: <input>:%d:%d", &line, &col); err == nil && n == 2 {
		return &Location{Line: line, Column: col}
	}
	return nil
}

// nestingDepth is a cheap structural guard: counts maximum paren/bracket
// nesting in the raw source, ahead of a full parse.
func nestingDepth(exprText string) int {
	depth, max := 0, 0
	for _, r := range exprText {
		switch r {
		case '(', '[', '{':
			depth++
			if depth > max {
				max = depth
			}
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return max
}
