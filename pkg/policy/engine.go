package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/cloudverge/cloudverge/pkg/config"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

// Engine evaluates guardrail policies against desired state documents
// before the reconcilers touch anything.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	log      *telemetry.Logger
	events   *telemetry.EventPublisher
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(log *telemetry.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		log:      log.NewComponentLogger("policy-engine"),
	}

	for _, p := range BuiltinPolicies() {
		if err := e.compileAndStore(context.Background(), p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// WithEvents attaches an event publisher; every blocking violation found
// during evaluation is published on it.
func (e *Engine) WithEvents(events *telemetry.EventPublisher) *Engine {
	e.events = events
	return e
}

// LoadPolicies loads and compiles additional policies from files or
// directories. A policy with the name of a built-in replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.log)
	policies, err := loader.LoadFromPaths(paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range policies {
		if err := e.compileAndStore(ctx, p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}

	e.log.WithField("count", len(policies)).Info("policies loaded")
	return nil
}

// ReplacePolicies swaps the loaded file policies for a new set, keeping
// built-ins. Used by the watch-driven reload.
func (e *Engine) ReplacePolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	for _, p := range BuiltinPolicies() {
		if err := e.compileAndStore(ctx, p); err != nil {
			return err
		}
	}
	for _, p := range policies {
		if err := e.compileAndStore(ctx, p); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
		}
	}
	return nil
}

// EvaluateDocument evaluates every enabled policy against every group and
// instance declaration in the document.
func (e *Engine) EvaluateDocument(ctx context.Context, doc *config.Document) (*Result, error) {
	started := time.Now()

	var inputs []*Input
	evalCtx := &Context{
		Workspace: doc.Workspace.Name,
		Timestamp: started,
	}
	for i := range doc.Groups {
		group, err := NewGroupInput(doc.Groups[i])
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", doc.Groups[i].Name, err)
		}
		inputs = append(inputs, &Input{Group: group, Context: evalCtx})
	}
	for i := range doc.Instances {
		inputs = append(inputs, &Input{
			Instance: NewInstanceInput(doc.Instances[i]),
			Context:  evalCtx,
		})
	}

	return e.evaluate(ctx, inputs, started)
}

// EvaluateGroup evaluates every enabled policy against one group.
func (e *Engine) EvaluateGroup(ctx context.Context, spec config.GroupSpec) (*Result, error) {
	started := time.Now()
	group, err := NewGroupInput(spec)
	if err != nil {
		return nil, err
	}
	in := &Input{Group: group, Context: &Context{Timestamp: started}}
	return e.evaluate(ctx, []*Input{in}, started)
}

// EvaluateInstance evaluates every enabled policy against one instance.
func (e *Engine) EvaluateInstance(ctx context.Context, spec config.InstanceSpec) (*Result, error) {
	started := time.Now()
	in := &Input{Instance: NewInstanceInput(spec), Context: &Context{Timestamp: started}}
	return e.evaluate(ctx, []*Input{in}, started)
}

func (e *Engine) evaluate(ctx context.Context, inputs []*Input, started time.Time) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{Allowed: true}
	for _, name := range e.policyNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		for _, in := range inputs {
			violations, err := e.evaluateOne(ctx, cp, in)
			if err != nil {
				e.log.WithError(err).WithField("policy", name).Error("policy evaluation failed")
				return nil, fmt.Errorf("policy %s: %w", name, err)
			}
			for _, v := range violations {
				if v.Severity == SeverityError {
					result.Allowed = false
					result.Violations = append(result.Violations, v)
					if e.events != nil {
						_ = e.events.PublishPolicyViolation(v.Resource, v.Policy, v.Message)
					}
				} else {
					result.Warnings = append(result.Warnings, v)
				}
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(started)
	e.log.WithField("violations", len(result.Violations)).
		WithField("warnings", len(result.Warnings)).
		Debug("policy evaluation completed")
	return result, nil
}

// evaluateOne runs one prepared deny query against one input.
func (e *Engine) evaluateOne(ctx context.Context, cp *compiledPolicy, in *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denies, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denies {
				violations = append(violations, e.toViolation(cp.policy, d, in))
			}
		}
	}
	return violations, nil
}

// toViolation maps one deny result onto a Violation, letting the policy
// override severity and resource.
func (e *Engine) toViolation(policy *Policy, result interface{}, in *Input) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	switch {
	case in.Group != nil:
		v.Resource = in.Group.Name
	case in.Instance != nil:
		v.Resource = in.Instance.Name
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if res, ok := r["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}
	return v
}

// compileAndStore prepares the deny query for a policy. Callers hold the
// write lock.
func (e *Engine) compileAndStore(ctx context.Context, policy Policy) error {
	pkg := packageName(policy.Rego)
	query, err := rego.New(
		rego.Module(policy.Name+".rego", policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return err
	}

	p := policy
	e.policies[policy.Name] = &compiledPolicy{
		policy:   &p,
		query:    query,
		compiled: time.Now(),
	}
	return nil
}

// packageName extracts the package path from rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, "package "))
		}
	}
	return "cloudverge.policies"
}

func (e *Engine) policyNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies in name order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.policyNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}
