package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cloudverge/cloudverge/pkg/config"
	"github.com/cloudverge/cloudverge/pkg/rules"
)

const egressLockdownRego = `# Blocks world-open egress rules.
package cloudverge.policies.egresslockdown

import rego.v1

deny contains violation if {
	input.group
	some rule in input.group.egress
	some cidr in rule.cidr_ip
	cidr == "0.0.0.0/0"
	violation := {
		"message": sprintf("group %s allows unrestricted egress", [input.group.name]),
		"severity": "error",
		"resource": input.group.name,
	}
}`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadRegoFile(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "egress-lockdown.rego", egressLockdownRego)

	policies, err := NewLoader(testLogger(t)).LoadFromPaths([]string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "egress-lockdown" {
		t.Errorf("name should come from the file, got %q", p.Name)
	}
	if p.Description != "Blocks world-open egress rules." {
		t.Errorf("description should come from leading comments, got %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("bare rego files default to warning, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("loaded policies should be enabled")
	}
}

func TestLoadJSONPolicy(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "egress.json", `{
		"name": "egress-lockdown",
		"description": "Blocks world-open egress rules",
		"severity": "error",
		"enabled": true,
		"rego": "package cloudverge.policies.egresslockdown\n\nimport rego.v1\n\ndeny contains \"no\" if { false }"
	}`)

	policies, err := NewLoader(testLogger(t)).LoadFromPaths([]string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 || policies[0].Severity != SeverityError {
		t.Errorf("JSON metadata not honored: %+v", policies)
	}
}

func TestLoadDirectorySkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "good.rego", egressLockdownRego)
	writePolicy(t, dir, "broken.json", `{not json`)
	writePolicy(t, dir, "notes.txt", "ignored")

	policies, err := NewLoader(testLogger(t)).LoadFromPaths([]string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Errorf("expected the one good policy, got %d", len(policies))
	}
}

func TestEngineLoadsCustomPolicy(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "egress-lockdown.rego", egressLockdownRego)

	e := testEngine(t)
	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	group := config.GroupSpec{
		Name: "worker",
		Tags: map[string]string{"env": "staging"},
		RulesEgress: []rules.Spec{{
			Proto:  "tcp",
			Ports:  []rules.PortRange{{From: 443, To: 443}},
			CidrIP: []string{"0.0.0.0/0"},
		}},
	}

	result, err := e.EvaluateGroup(context.Background(), group)
	if err != nil {
		t.Fatalf("EvaluateGroup: %v", err)
	}
	if result.Allowed {
		t.Fatal("custom egress policy should block")
	}
	if result.Violations[0].Policy != "egress-lockdown" {
		t.Errorf("unexpected violation source: %+v", result.Violations)
	}
}

func TestReplacePoliciesKeepsBuiltins(t *testing.T) {
	e := testEngine(t)
	if err := e.ReplacePolicies(context.Background(), nil); err != nil {
		t.Fatalf("ReplacePolicies: %v", err)
	}
	if len(e.ListPolicies()) != len(BuiltinPolicies()) {
		t.Errorf("built-ins lost on replace: %d policies", len(e.ListPolicies()))
	}
}
