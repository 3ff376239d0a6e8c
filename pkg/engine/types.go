package engine

import (
	"time"

	"github.com/cloudverge/cloudverge/pkg/rules"
)

// ActionType identifies a mutating operation a reconciler performed, or
// would perform in check mode.
type ActionType string

const (
	ActionCreateGroup        ActionType = "create_group"
	ActionDeleteGroup        ActionType = "delete_group"
	ActionAuthorize          ActionType = "authorize"
	ActionRevoke             ActionType = "revoke"
	ActionUpdateDescriptions ActionType = "update_descriptions"
	ActionTag                ActionType = "tag"
	ActionUntag              ActionType = "untag"
	ActionLaunch             ActionType = "launch"
	ActionStart              ActionType = "start"
	ActionStop               ActionType = "stop"
	ActionTerminate          ActionType = "terminate"
	ActionModifyAttribute    ActionType = "modify_attribute"
)

// Direction identifies which rule set of a group an action applies to.
type Direction string

const (
	DirectionIngress Direction = "ingress"
	DirectionEgress  Direction = "egress"
)

// Action records one mutating step of a reconciliation. In check mode the
// same records are produced but nothing is sent to the provider.
type Action struct {
	// Type is the operation performed.
	Type ActionType `json:"type"`

	// Resource is the id of the resource acted on.
	Resource string `json:"resource"`

	// Direction is set for rule operations (ingress or egress).
	Direction Direction `json:"direction,omitempty"`

	// Detail is a human-readable summary of the change.
	Detail string `json:"detail,omitempty"`

	// Count is the number of rules or tags affected, if applicable.
	Count int `json:"count,omitempty"`
}

// GroupResult is the outcome of reconciling a single security group.
type GroupResult struct {
	// GroupID is the id of the reconciled group. Empty in check mode when
	// the group does not exist yet.
	GroupID string `json:"group_id,omitempty"`

	// GroupName is the name of the reconciled group.
	GroupName string `json:"group_name"`

	// Description is the group description.
	Description string `json:"description,omitempty"`

	// VpcID is the VPC the group belongs to, empty for EC2-Classic.
	VpcID string `json:"vpc_id,omitempty"`

	// OwnerID is the account owning the group.
	OwnerID string `json:"owner_id,omitempty"`

	// Changed reports whether any mutating call was made or, in check
	// mode, would have been made.
	Changed bool `json:"changed"`

	// Created reports whether the group itself was created by this run.
	Created bool `json:"created,omitempty"`

	// Absent reports that the group was removed or does not exist, for
	// absent-state reconciliations.
	Absent bool `json:"absent,omitempty"`

	// IngressRules is the converged inbound rule set.
	IngressRules []rules.Rule `json:"ingress_rules,omitempty"`

	// EgressRules is the converged outbound rule set.
	EgressRules []rules.Rule `json:"egress_rules,omitempty"`

	// Tags is the converged tag set.
	Tags map[string]string `json:"tags,omitempty"`

	// Actions lists the mutating steps taken, in order.
	Actions []Action `json:"actions,omitempty"`

	// Warnings lists non-fatal conditions encountered during the run.
	Warnings []string `json:"warnings,omitempty"`
}

// InstanceSnapshot is the subset of instance state reported on results.
type InstanceSnapshot struct {
	// InstanceID is the instance id.
	InstanceID string `json:"instance_id"`

	// State is the instance lifecycle state name (running, stopped, ...).
	State string `json:"state"`

	// InstanceType is the instance type.
	InstanceType string `json:"instance_type,omitempty"`

	// SubnetID is the subnet the instance runs in.
	SubnetID string `json:"subnet_id,omitempty"`

	// VpcID is the VPC the instance runs in.
	VpcID string `json:"vpc_id,omitempty"`

	// PublicIP is the public IPv4 address, if any.
	PublicIP string `json:"public_ip,omitempty"`

	// PrivateIP is the primary private IPv4 address.
	PrivateIP string `json:"private_ip,omitempty"`

	// Tags is the instance tag set.
	Tags map[string]string `json:"tags,omitempty"`
}

// InstanceResult is the outcome of reconciling a set of EC2 instances.
type InstanceResult struct {
	// InstanceIDs lists the instances the reconciliation applied to.
	InstanceIDs []string `json:"instance_ids,omitempty"`

	// Changed reports whether any mutating call was made or, in check
	// mode, would have been made.
	Changed bool `json:"changed"`

	// Instances is the final observed state of each instance.
	Instances []InstanceSnapshot `json:"instances,omitempty"`

	// Actions lists the mutating steps taken, in order.
	Actions []Action `json:"actions,omitempty"`

	// Warnings lists non-fatal conditions encountered during the run.
	Warnings []string `json:"warnings,omitempty"`
}

// RunStatus represents the overall outcome of a reconciliation run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPartial   RunStatus = "partial"
)

// Validate checks that the status is a known value.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusPartial:
		return nil
	}
	return NewPermanentError("invalid run status: "+string(s), nil).WithCode(ErrCodeValidation)
}

// RunSummary aggregates counters across a run for reporting and storage.
type RunSummary struct {
	// GroupsTotal is the number of group specs in the workspace.
	GroupsTotal int `json:"groups_total"`

	// GroupsChanged is the number of groups that required changes.
	GroupsChanged int `json:"groups_changed"`

	// GroupsCreated is the number of groups created.
	GroupsCreated int `json:"groups_created"`

	// InstancesTotal is the number of instance specs in the workspace.
	InstancesTotal int `json:"instances_total"`

	// InstancesChanged is the number of instance specs that required changes.
	InstancesChanged int `json:"instances_changed"`

	// RulesAuthorized is the total number of rules added.
	RulesAuthorized int `json:"rules_authorized"`

	// RulesRevoked is the total number of rules removed.
	RulesRevoked int `json:"rules_revoked"`

	// Errors is the number of resources that failed to converge.
	Errors int `json:"errors"`
}

// Run is a single reconciliation run across a workspace.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Workspace is the workspace file or directory the run was loaded from.
	Workspace string `json:"workspace,omitempty"`

	// CheckMode reports whether the run was a dry run.
	CheckMode bool `json:"check_mode"`

	// Status is the overall run outcome.
	Status RunStatus `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// FinishedAt is when the run completed, zero while running.
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Groups holds per-group outcomes.
	Groups []GroupResult `json:"groups,omitempty"`

	// Instances holds per-spec instance outcomes.
	Instances []InstanceResult `json:"instances,omitempty"`

	// Summary aggregates counters across the run.
	Summary RunSummary `json:"summary"`
}
