package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/rules"
)

// GroupSpec is a security group declaration as it appears in a desired
// state document.
type GroupSpec struct {
	// Name is the group name, the primary identity within a VPC.
	Name string `json:"name" validate:"required_without=GroupID"`

	// GroupID optionally pins the group by id instead of name.
	GroupID string `json:"group_id,omitempty"`

	// Description is the group description. Required when the group does
	// not exist yet; immutable afterwards.
	Description string `json:"description,omitempty"`

	// VpcID is the VPC the group lives in. Empty targets the default VPC.
	VpcID string `json:"vpc_id,omitempty"`

	// State is "present" or "absent". Defaults to present.
	State string `json:"state,omitempty" validate:"omitempty,oneof=present absent"`

	// Rules is the desired inbound rule set.
	Rules []rules.Spec `json:"rules,omitempty"`

	// RulesEgress is the desired outbound rule set. Leaving it out keeps
	// the VPC default allow-all egress; an explicit empty list purges all
	// outbound rules.
	RulesEgress []rules.Spec `json:"rules_egress,omitempty"`

	// PurgeRules revokes inbound rules not listed in Rules. Defaults to
	// true.
	PurgeRules *bool `json:"purge_rules,omitempty"`

	// PurgeRulesEgress revokes outbound rules not listed in RulesEgress.
	// Defaults to true, but only takes effect when RulesEgress is given.
	PurgeRulesEgress *bool `json:"purge_rules_egress,omitempty"`

	// Tags is the desired tag set.
	Tags map[string]string `json:"tags,omitempty"`

	// PurgeTags deletes tags not listed in Tags. Defaults to true.
	PurgeTags *bool `json:"purge_tags,omitempty"`
}

// Desired converts the spec to the engine's desired state form, applying
// document defaults.
func (g GroupSpec) Desired() engine.GroupDesired {
	return engine.GroupDesired{
		Name:             g.Name,
		GroupID:          g.GroupID,
		Description:      g.Description,
		VpcID:            g.VpcID,
		Absent:           g.State == "absent",
		Rules:            g.Rules,
		RulesEgress:      g.RulesEgress,
		PurgeRules:       boolDefault(g.PurgeRules, true),
		PurgeRulesEgress: boolDefault(g.PurgeRulesEgress, true),
		Tags:             g.Tags,
		PurgeTags:        boolDefault(g.PurgeTags, true),
	}
}

// Filters selects instances by provider filters. Each value accepts a
// scalar or a list in the document.
type Filters map[string][]string

// UnmarshalJSON accepts scalar-or-list filter values.
func (f *Filters) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filters must be a mapping: %w", err)
	}

	out := make(Filters, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case []interface{}:
			vals := make([]string, 0, len(t))
			for _, e := range t {
				vals = append(vals, fmt.Sprintf("%v", e))
			}
			out[k] = vals
		case nil:
			out[k] = nil
		default:
			out[k] = []string{fmt.Sprintf("%v", t)}
		}
	}
	*f = out
	return nil
}

// InstanceSpec is an EC2 instance declaration as it appears in a desired
// state document.
type InstanceSpec struct {
	// InstanceIDs pins specific instances.
	InstanceIDs []string `json:"instance_ids,omitempty"`

	// Filters selects instances by provider filters (e.g. "tag:env").
	Filters Filters `json:"filters,omitempty"`

	// Name matches and tags instances by their Name tag.
	Name string `json:"name,omitempty"`

	// State is the desired lifecycle state. Defaults to running.
	State string `json:"state,omitempty" validate:"omitempty,oneof=present running stopped restarted terminated"`

	// ImageID is the AMI to launch from. Required when launching.
	ImageID string `json:"image_id,omitempty"`

	// InstanceType is the type to launch with.
	InstanceType string `json:"instance_type,omitempty"`

	// KeyName is the SSH key pair name.
	KeyName string `json:"key_name,omitempty"`

	// SubnetID is the subnet to launch into.
	SubnetID string `json:"subnet_id,omitempty"`

	// SecurityGroupIDs attach groups by id at launch.
	SecurityGroupIDs []string `json:"security_group_ids,omitempty"`

	// SecurityGroups attach groups by name at launch.
	SecurityGroups []string `json:"security_groups,omitempty"`

	// IAMProfile is an instance profile name or ARN.
	IAMProfile string `json:"iam_profile,omitempty"`

	// UserData is plain-text user data.
	UserData string `json:"user_data,omitempty"`

	// AssignPublicIP requests a public address on the launch interface.
	AssignPublicIP *bool `json:"assign_public_ip,omitempty"`

	// EbsOptimized is the desired EBS optimization flag.
	EbsOptimized *bool `json:"ebs_optimized,omitempty"`

	// DisableAPITermination is the desired termination protection flag.
	DisableAPITermination *bool `json:"disable_api_termination,omitempty"`

	// Tags is the desired tag set.
	Tags map[string]string `json:"tags,omitempty"`

	// PurgeTags deletes tags not listed in Tags. Defaults to false:
	// instances routinely carry tags owned by other tooling.
	PurgeTags *bool `json:"purge_tags,omitempty"`
}

// Desired converts the spec to the engine's desired state form.
func (i InstanceSpec) Desired() engine.InstanceDesired {
	return engine.InstanceDesired{
		InstanceIDs:           i.InstanceIDs,
		Filters:               i.Filters,
		Name:                  i.Name,
		State:                 engine.InstanceState(i.State),
		ImageID:               i.ImageID,
		InstanceType:          i.InstanceType,
		KeyName:               i.KeyName,
		SubnetID:              i.SubnetID,
		SecurityGroupIDs:      i.SecurityGroupIDs,
		SecurityGroups:        i.SecurityGroups,
		IAMProfile:            i.IAMProfile,
		UserData:              i.UserData,
		AssignPublicIP:        i.AssignPublicIP,
		EbsOptimized:          i.EbsOptimized,
		DisableAPITermination: i.DisableAPITermination,
		Tags:                  i.Tags,
		PurgeTags:             boolDefault(i.PurgeTags, false),
	}
}

// PolicyConfig configures policy enforcement for a workspace.
type PolicyConfig struct {
	// Enabled turns policy evaluation on.
	Enabled bool `json:"enabled"`

	// Paths lists additional rego policy files or directories. The
	// built-in policies always apply when enabled.
	Paths []string `json:"paths,omitempty"`

	// OnViolation specifies whether warning findings block a run (warn,
	// fail). Defaults to warn. Error findings always block.
	OnViolation string `json:"on_violation,omitempty" validate:"omitempty,oneof=warn fail"`
}

// WorkspaceConfig identifies the workspace and the account it targets.
type WorkspaceConfig struct {
	// Name is the workspace name.
	Name string `json:"name" validate:"required"`

	// Region is the AWS region to operate in.
	Region string `json:"region,omitempty"`

	// Profile is the shared-config credentials profile.
	Profile string `json:"profile,omitempty"`

	// EndpointURL overrides the service endpoint, for localstack.
	EndpointURL string `json:"endpoint_url,omitempty"`

	// StorePath is the run history database path. Empty uses the default
	// under the user config directory.
	StorePath string `json:"store_path,omitempty"`

	// Policy configures policy enforcement.
	Policy *PolicyConfig `json:"policy,omitempty"`

	// Variables are workspace-level variables, passed as input to
	// scripted documents.
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// Document is a fully parsed desired state document: the workspace plus
// every group and instance declaration from all sources.
type Document struct {
	// Workspace is the workspace configuration.
	Workspace WorkspaceConfig `json:"workspace"`

	// Groups are the security group declarations, in document order.
	Groups []GroupSpec `json:"groups,omitempty"`

	// Instances are the instance declarations, in document order.
	Instances []InstanceSpec `json:"instances,omitempty"`

	// SourceFiles are the files that contributed to this document.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the document was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists validation errors found while parsing.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError is a parse or validation error with source location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the document path to the error (e.g. "groups[2].rules").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning).
	Severity string `json:"severity"`
}

func (e ValidationError) String() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		if loc != "" {
			loc += " "
		}
		loc += e.Path
	}
	if loc == "" {
		return e.Message
	}
	return loc + ": " + e.Message
}

func boolDefault(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
