package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLDocument(t *testing.T) {
	path := writeSource(t, "site.yaml", `
workspace:
  name: staging
  region: eu-west-1

groups:
  - name: web
    description: public web tier
    vpc_id: vpc-0a1b2c3d
    rules:
      - proto: tcp
        ports: [80, 443]
        cidr_ip: 0.0.0.0/0

instances:
  - name: web-1
    image_id: ami-0abcdef12
    instance_type: t3.micro
    filters:
      tag:env: staging
`)

	doc, err := NewLoader().Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := doc.Err(); err != nil {
		t.Fatalf("document has errors: %v", err)
	}

	if doc.Workspace.Name != "staging" || doc.Workspace.Region != "eu-west-1" {
		t.Errorf("unexpected workspace: %+v", doc.Workspace)
	}
	if len(doc.Groups) != 1 || len(doc.Instances) != 1 {
		t.Fatalf("expected 1 group and 1 instance, got %d and %d", len(doc.Groups), len(doc.Instances))
	}

	group := doc.Groups[0]
	if len(group.Rules) != 1 || len(group.Rules[0].Ports) != 2 {
		t.Errorf("ports shorthand not decoded: %+v", group.Rules)
	}
	if group.Rules[0].CidrIP[0] != "0.0.0.0/0" {
		t.Errorf("scalar cidr_ip not coerced to a list: %+v", group.Rules[0].CidrIP)
	}

	instance := doc.Instances[0]
	if got := instance.Filters["tag:env"]; len(got) != 1 || got[0] != "staging" {
		t.Errorf("scalar filter not coerced to a list: %+v", instance.Filters)
	}
}

func TestLoadYAMLRejectsUnknownFields(t *testing.T) {
	path := writeSource(t, "site.yaml", `
workspace:
  name: staging
grups:
  - name: web
`)

	doc, err := NewLoader().Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Err() == nil {
		t.Fatal("expected an error for the misspelled top-level field")
	}
}

func TestLoadYAMLRejectsUnknownRuleParameter(t *testing.T) {
	path := writeSource(t, "site.yaml", `
groups:
  - name: web
    rules:
      - proto: tcp
        prots: 80
`)

	doc, err := NewLoader().Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Err() == nil {
		t.Fatal("expected an error for the misspelled rule parameter")
	}
}

func TestLoadCUEDocument(t *testing.T) {
	path := writeSource(t, "site.cue", `
workspace: {
	name:   "staging"
	region: "eu-west-1"
}

groups: web: {
	description: "public web tier"
	rules: [{proto: "tcp", ports: [80, 443], cidr_ip: "0.0.0.0/0"}]
}
`)

	doc, err := NewLoader().Load(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := doc.Err(); err != nil {
		t.Fatalf("document has errors: %v", err)
	}

	if len(doc.Groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(doc.Groups))
	}
	// The struct key supplies the group name.
	if doc.Groups[0].Name != "web" {
		t.Errorf("expected group name from struct key, got %q", doc.Groups[0].Name)
	}
	if len(doc.Groups[0].Rules) != 1 || len(doc.Groups[0].Rules[0].Ports) != 2 {
		t.Errorf("ports shorthand not decoded from CUE: %+v", doc.Groups[0].Rules)
	}
}

func TestLoadStarlarkDocument(t *testing.T) {
	yamlPath := writeSource(t, "site.yaml", `
workspace:
  name: staging
  variables:
    office_cidr: 203.0.113.0/24
`)
	starPath := writeSource(t, "shards.star", `
groups = [{
    "name": "shard-%d" % i,
    "description": "shard tier",
    "rules": [{"proto": "tcp", "ports": 9000 + i, "cidr_ip": vars["office_cidr"]}],
} for i in range(3)]
`)

	doc, err := NewLoader().Load(context.Background(), []string{yamlPath, starPath})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := doc.Err(); err != nil {
		t.Fatalf("document has errors: %v", err)
	}

	if len(doc.Groups) != 3 {
		t.Fatalf("expected 3 generated groups, got %d", len(doc.Groups))
	}
	if doc.Groups[2].Name != "shard-2" {
		t.Errorf("unexpected generated name %q", doc.Groups[2].Name)
	}
	rule := doc.Groups[1].Rules[0]
	if rule.Ports[0].From != 9001 || rule.CidrIP[0] != "203.0.113.0/24" {
		t.Errorf("script did not see workspace variables: %+v", rule)
	}
}

func TestLoadMergesAndDetectsDuplicates(t *testing.T) {
	a := writeSource(t, "a.yaml", `
workspace:
  name: staging
groups:
  - name: web
    vpc_id: vpc-1
`)
	b := writeSource(t, "b.yaml", `
groups:
  - name: web
    vpc_id: vpc-1
`)

	doc, err := NewLoader().Load(context.Background(), []string{a, b})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Err() == nil {
		t.Fatal("expected a duplicate group error")
	}

	// Same name in another VPC is a distinct group.
	c := writeSource(t, "c.yaml", `
groups:
  - name: web
    vpc_id: vpc-2
`)
	doc, err = NewLoader().Load(context.Background(), []string{a, c})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := doc.Err(); err != nil {
		t.Fatalf("distinct VPCs should not collide: %v", err)
	}
	if len(doc.Groups) != 2 {
		t.Errorf("expected 2 groups, got %d", len(doc.Groups))
	}
}

func TestLoadConflictingWorkspaceNames(t *testing.T) {
	a := writeSource(t, "a.yaml", "workspace: {name: staging}\n")
	b := writeSource(t, "b.yaml", "workspace: {name: production}\n")

	doc, err := NewLoader().Load(context.Background(), []string{a, b})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Err() == nil {
		t.Fatal("expected conflicting workspace names to be rejected")
	}
}

func TestGroupSpecDesiredDefaults(t *testing.T) {
	group := GroupSpec{Name: "web"}
	desired := group.Desired()

	if !desired.PurgeRules || !desired.PurgeRulesEgress || !desired.PurgeTags {
		t.Errorf("purge flags should default on: %+v", desired)
	}
	if desired.Absent {
		t.Error("state should default to present")
	}
	if desired.RulesEgress != nil {
		t.Error("unset rules_egress must stay nil")
	}

	off := false
	group = GroupSpec{Name: "web", State: "absent", PurgeRules: &off}
	desired = group.Desired()
	if desired.PurgeRules {
		t.Error("explicit purge_rules=false was overridden")
	}
	if !desired.Absent {
		t.Error("state absent not carried over")
	}
}

func TestGroupSpecEgressNilVersusEmpty(t *testing.T) {
	unset := writeSource(t, "unset.yaml", `
groups:
  - name: web
`)
	empty := writeSource(t, "empty.yaml", `
groups:
  - name: web
    rules_egress: []
`)

	doc, err := NewLoader().Load(context.Background(), []string{unset})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Groups[0].Desired().RulesEgress != nil {
		t.Error("omitted rules_egress should convert to nil")
	}

	doc, err = NewLoader().Load(context.Background(), []string{empty})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := doc.Groups[0].Desired().RulesEgress; got == nil || len(got) != 0 {
		t.Errorf("explicit empty rules_egress must stay non-nil empty, got %#v", got)
	}
}

func TestInstanceSpecDesiredDefaults(t *testing.T) {
	instance := InstanceSpec{Name: "web-1"}
	desired := instance.Desired()

	if desired.PurgeTags {
		t.Error("instance purge_tags should default off")
	}
	if desired.State != "" {
		t.Errorf("unset state should stay empty for the engine default, got %q", desired.State)
	}
}
