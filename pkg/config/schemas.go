package config

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.RegisterSchema("workspace", builtinWorkspaceSchema)
	// The group schema references #Rule, so the two compile together.
	sr.RegisterSchema("group", builtinGroupSchema+builtinRuleSchema)
	sr.RegisterSchema("instance", builtinInstanceSchema)
	sr.RegisterSchema("rule", builtinRuleSchema)

	return sr
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	// Schemas are written as a single definition; validation unifies data
	// against the definition, not the enclosing file value.
	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to inspect schema %s: %w", name, err)
	}
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			sr.schemas[name] = iter.Value()
			return nil
		}
	}

	return fmt.Errorf("schema %s contains no definition", name)
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// Built-in schema definitions

const builtinWorkspaceSchema = `
#Workspace: {
	// Name is the workspace name
	name: string & =~"^[a-zA-Z0-9_-]+$"

	// Region is the AWS region
	region?: string & =~"^[a-z]{2}(-[a-z]+)+-[0-9]$"

	// Profile is the shared-config credentials profile
	profile?: string

	// EndpointURL overrides the service endpoint
	endpoint_url?: string

	// StorePath is the run history database path
	store_path?: string

	// Policy configures policy enforcement
	policy?: {
		enabled: bool
		paths?: [...string]
		on_violation?: "warn" | "fail"
	}

	// Variables are workspace-level variables
	variables?: {[string]: _}
}
`

const builtinGroupSchema = `
#Group: {
	// Name is the group name
	name?: string
	group_id?: string & =~"^sg-[0-9a-f]+$"
	description?: string
	vpc_id?: string & =~"^vpc-[0-9a-f]+$"
	state?: "present" | "absent"
	rules?: [...#Rule]
	rules_egress?: [...#Rule]
	purge_rules?: bool
	purge_rules_egress?: bool
	tags?: {[string]: string}
	purge_tags?: bool
}
`

const builtinInstanceSchema = `
#Instance: {
	instance_ids?: [...string & =~"^i-[0-9a-f]+$"]
	filters?: {[string]: _}
	name?: string
	state?: "present" | "running" | "stopped" | "restarted" | "terminated"
	image_id?: string & =~"^ami-[0-9a-f]+$"
	instance_type?: string
	key_name?: string
	subnet_id?: string & =~"^subnet-[0-9a-f]+$"
	security_group_ids?: [...string]
	security_groups?: [...string]
	iam_profile?: string
	user_data?: string
	assign_public_ip?: bool
	ebs_optimized?: bool
	disable_api_termination?: bool
	tags?: {[string]: string}
	purge_tags?: bool
}
`

const builtinRuleSchema = `
#Rule: {
	// Proto is a protocol name, number, or "-1"/"all"
	proto: string | int
	from_port?: int & >=-1 & <=65535
	to_port?: int & >=-1 & <=65535
	ports?: [...(int | string)] | int | string
	cidr_ip?: [...string] | string
	cidr_ipv6?: [...string] | string
	group_id?: [...string] | string
	group_name?: [...string] | string
	ip_prefix?: [...string] | string
	group_desc?: string
	rule_desc?: string
}
`

// ValidateWorkspace validates a workspace configuration against the
// workspace schema.
func (sr *SchemaRegistry) ValidateWorkspace(workspace WorkspaceConfig) error {
	return sr.ValidateAgainstSchema("workspace", workspace)
}

// ValidateGroup validates a group declaration against the group schema.
func (sr *SchemaRegistry) ValidateGroup(group GroupSpec) error {
	return sr.ValidateAgainstSchema("group", group)
}

// ValidateInstance validates an instance declaration against the instance
// schema.
func (sr *SchemaRegistry) ValidateInstance(instance InstanceSpec) error {
	return sr.ValidateAgainstSchema("instance", instance)
}
