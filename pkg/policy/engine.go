package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/workorders/pkg/stores"
)

// Engine evaluates Rego policies against workorders.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	limits   Limits
	logger   zerolog.Logger
	now      func() time.Time
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine with the built-in policies loaded. Limits are
// published to policies as data.workorders.limits.
func NewEngine(logger zerolog.Logger, limits Limits) (*Engine, error) {
	store := inmem.NewFromObject(map[string]interface{}{
		"workorders": map[string]interface{}{
			"limits": map[string]interface{}{
				"max_cpu":    limits.MaxCPU,
				"max_ram_mb": limits.MaxRAMMB,
				"max_disks":  limits.MaxDisks,
			},
		},
	})

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    store,
		limits:   limits,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	ctx := context.Background()
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}
	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")

	return e, nil
}

// Review evaluates every enabled policy against wo. A policy that fails to
// evaluate is reported as a warning rather than an error.
func (e *Engine) Review(ctx context.Context, wo *stores.WorkOrder) (*Review, error) {
	if wo == nil {
		return nil, fmt.Errorf("workorder is nil")
	}
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &Input{
		WorkOrder: wo,
		Context: InputContext{
			Actor:     actorFromContext(ctx),
			Timestamp: e.now().UTC(),
		},
	}

	review := &Review{
		Allowed:     true,
		Violations:  []Finding{},
		Warnings:    []Finding{},
		EvaluatedAt: input.Context.Timestamp,
	}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		review.EvaluatedPolicies = append(review.EvaluatedPolicies, name)

		findings, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Int64("workorder_id", wo.ID).
				Msg("Policy evaluation failed")
			review.Warnings = append(review.Warnings, Finding{
				Policy:   name,
				Message:  fmt.Sprintf("Policy %s evaluation failed: %v", name, err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, f := range findings {
			if f.Severity.blocking() {
				review.Violations = append(review.Violations, f)
				review.Allowed = false
			} else {
				review.Warnings = append(review.Warnings, f)
			}
		}
	}

	duration := time.Since(start)
	review.Duration = duration.String()
	e.logger.Debug().
		Int64("workorder_id", wo.ID).
		Bool("allowed", review.Allowed).
		Int("violations", len(review.Violations)).
		Dur("duration", duration).
		Msg("Workorder review completed")

	return review, nil
}

// evaluatePolicy runs the prepared deny query of one policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Finding, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var findings []Finding
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			findings = append(findings, createFinding(cp.policy, d))
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Message < findings[j].Message
	})
	return findings, nil
}

// createFinding turns one deny entry into a Finding. Entries may be plain
// strings or objects with message, severity and field.
func createFinding(policy *Policy, result interface{}) Finding {
	f := Finding{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		f.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			f.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			f.Severity = Severity(sev)
		}
		if field, ok := v["field"].(string); ok {
			f.Field = field
		}
	default:
		f.Message = fmt.Sprintf("%v", result)
	}

	return f
}

// compileAndStorePolicy parses a policy and prepares its deny query.
// Callers hold e.mu or have exclusive access.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.LoadedAt.IsZero() {
		policy.LoadedAt = e.now().UTC()
	}
	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

// LoadPolicies compiles the policies found under paths and adds them to the
// engine. Nothing is added if any policy fails to compile.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.add(ctx, policies, false)
}

// ReplacePolicies swaps the loaded (non built-in) policies for policies.
// It is the reload hook used by Loader.Watch.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	return e.add(ctx, policies, true)
}

func (e *Engine) add(ctx context.Context, policies []Policy, replace bool) error {
	staged := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    e.store,
		logger:   e.logger,
		now:      e.now,
	}
	for i := range policies {
		p := policies[i]
		if err := staged.compileAndStorePolicy(ctx, &p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if replace {
		for name, cp := range e.policies {
			if !cp.policy.Builtin {
				delete(e.policies, name)
			}
		}
	}
	for name, cp := range staged.policies {
		if existing, ok := e.policies[name]; ok && existing.policy.Builtin {
			e.logger.Warn().Str("policy", name).Msg("Ignoring loaded policy that shadows a built-in policy")
			continue
		}
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(staged.policies)).
		Bool("replace", replace).
		Msg("Policies loaded successfully")
	return nil
}

// Watch loads paths, then reloads them whenever a policy file changes until
// ctx is done.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	if err := e.LoadPolicies(ctx, paths); err != nil {
		return err
	}
	return NewLoader(e.logger).Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplacePolicies(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// Limits returns the sizing ceilings published to policies.
func (e *Engine) Limits() Limits {
	return e.limits
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type actorKey struct{}

// WithActor records who asked for a review. Policies see it as
// input.context.actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return ""
}
