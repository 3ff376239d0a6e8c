package policy

import (
	"time"

	"github.com/cloudverge/cloudverge/pkg/config"
	"github.com/cloudverge/cloudverge/pkg/rules"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that block a run.
	SeverityError Severity = "error"
)

// Policy is a rego rule set with its metadata.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is where the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Resource names the offending declaration (group or instance name).
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable finding.
	Message string `json:"message"`

	// Severity is the finding's severity.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating policies against a document.
type Result struct {
	// Allowed is false when any violation carries error severity.
	Allowed bool `json:"allowed"`

	// Violations are error findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document fed to a policy. Exactly one of Group and
// Instance is set.
type Input struct {
	// Group is the security group under evaluation.
	Group *GroupInput `json:"group,omitempty"`

	// Instance is the instance declaration under evaluation.
	Instance *InstanceInput `json:"instance,omitempty"`

	// Context carries evaluation context.
	Context *Context `json:"context"`
}

// GroupInput is the policy-facing view of a group declaration. Rules are
// normalized before evaluation, so each entry has exactly one port range
// and one source.
type GroupInput struct {
	Name        string            `json:"name"`
	VpcID       string            `json:"vpc_id,omitempty"`
	Description string            `json:"description,omitempty"`
	State       string            `json:"state,omitempty"`
	Ingress     []rules.Spec      `json:"ingress,omitempty"`
	Egress      []rules.Spec      `json:"egress,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// InstanceInput is the policy-facing view of an instance declaration.
type InstanceInput struct {
	Name                  string            `json:"name,omitempty"`
	State                 string            `json:"state,omitempty"`
	ImageID               string            `json:"image_id,omitempty"`
	InstanceType          string            `json:"instance_type,omitempty"`
	SubnetID              string            `json:"subnet_id,omitempty"`
	SecurityGroupIDs      []string          `json:"security_group_ids,omitempty"`
	SecurityGroups        []string          `json:"security_groups,omitempty"`
	AssignPublicIP        *bool             `json:"assign_public_ip,omitempty"`
	DisableAPITermination *bool             `json:"disable_api_termination,omitempty"`
	Tags                  map[string]string `json:"tags,omitempty"`
}

// Context provides evaluation context.
type Context struct {
	// Workspace is the workspace name.
	Workspace string `json:"workspace,omitempty"`

	// CheckMode indicates a plan-only run.
	CheckMode bool `json:"check_mode"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// NewGroupInput builds the policy input for a group declaration,
// normalizing its rules so policies see one port range and one source per
// entry.
func NewGroupInput(spec config.GroupSpec) (*GroupInput, error) {
	ingress, err := rules.Normalize(spec.Rules)
	if err != nil {
		return nil, err
	}
	egress, err := rules.Normalize(spec.RulesEgress)
	if err != nil {
		return nil, err
	}

	in := &GroupInput{
		Name:        spec.Name,
		VpcID:       spec.VpcID,
		Description: spec.Description,
		State:       spec.State,
		Tags:        spec.Tags,
	}
	if ingress != nil {
		in.Ingress = ingress.Specs
	}
	if egress != nil {
		in.Egress = egress.Specs
	}
	return in, nil
}

// NewInstanceInput builds the policy input for an instance declaration.
func NewInstanceInput(spec config.InstanceSpec) *InstanceInput {
	return &InstanceInput{
		Name:                  spec.Name,
		State:                 spec.State,
		ImageID:               spec.ImageID,
		InstanceType:          spec.InstanceType,
		SubnetID:              spec.SubnetID,
		SecurityGroupIDs:      spec.SecurityGroupIDs,
		SecurityGroups:        spec.SecurityGroups,
		AssignPublicIP:        spec.AssignPublicIP,
		DisableAPITermination: spec.DisableAPITermination,
		Tags:                  spec.Tags,
	}
}
