package policy

// BuiltinPolicies returns the built-in guardrail policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		openAdminPortsPolicy(),
		openAllProtocolsPolicy(),
		requiredTagsPolicy(),
		publicInstancePolicy(),
		terminationProtectionPolicy(),
	}
}

// openAdminPortsPolicy blocks world-reachable management ports.
func openAdminPortsPolicy() Policy {
	return Policy{
		Name:        "open-admin-ports",
		Description: "Blocks ingress rules that expose SSH or RDP to the world",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"network", "exposure"},
		Rego: `package cloudverge.policies.adminports

import rego.v1

admin_ports := [22, 3389]

world_open(rule) if {
	some cidr in rule.cidr_ip
	cidr == "0.0.0.0/0"
}

world_open(rule) if {
	some cidr in rule.cidr_ipv6
	cidr == "::/0"
}

covers_port(rule, port) if {
	rule.proto == "tcp"
	rule.from_port <= port
	rule.to_port >= port
}

# A tcp rule without ports covers everything.
covers_port(rule, _) if {
	rule.proto == "tcp"
	not rule.from_port
}

deny contains violation if {
	input.group
	some rule in input.group.ingress
	world_open(rule)
	some port in admin_ports
	covers_port(rule, port)
	violation := {
		"message": sprintf("group %s exposes port %d to the world", [input.group.name, port]),
		"severity": "error",
		"resource": input.group.name,
	}
}`,
	}
}

// openAllProtocolsPolicy flags all-protocol world-open rules.
func openAllProtocolsPolicy() Policy {
	return Policy{
		Name:        "open-all-protocols",
		Description: "Flags ingress rules that open every protocol to the world",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"network", "exposure"},
		Rego: `package cloudverge.policies.allprotocols

import rego.v1

world_open(rule) if {
	some cidr in rule.cidr_ip
	cidr == "0.0.0.0/0"
}

world_open(rule) if {
	some cidr in rule.cidr_ipv6
	cidr == "::/0"
}

deny contains violation if {
	input.group
	some rule in input.group.ingress
	rule.proto == "-1"
	world_open(rule)
	violation := {
		"message": sprintf("group %s opens all protocols to the world", [input.group.name]),
		"severity": "warning",
		"resource": input.group.name,
	}
}`,
	}
}

// requiredTagsPolicy warns about declarations missing the env tag.
func requiredTagsPolicy() Policy {
	return Policy{
		Name:        "required-tags",
		Description: "Warns when groups or instances carry no env tag",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"tags", "metadata"},
		Rego: `package cloudverge.policies.tags

import rego.v1

deny contains violation if {
	input.group
	input.group.state != "absent"
	not input.group.tags.env
	violation := {
		"message": sprintf("group %s has no env tag", [input.group.name]),
		"severity": "warning",
		"resource": input.group.name,
	}
}

deny contains violation if {
	input.instance
	input.instance.state != "terminated"
	not input.instance.tags.env
	violation := {
		"message": sprintf("instance %s has no env tag", [input.instance.name]),
		"severity": "warning",
		"resource": input.instance.name,
	}
}`,
	}
}

// publicInstancePolicy flags public instances launched without any
// security group selection.
func publicInstancePolicy() Policy {
	return Policy{
		Name:        "public-instance",
		Description: "Flags instances that request a public IP without naming their security groups",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"network", "exposure"},
		Rego: `package cloudverge.policies.publicinstance

import rego.v1

deny contains violation if {
	input.instance
	input.instance.assign_public_ip == true
	count(object.get(input.instance, "security_group_ids", [])) == 0
	count(object.get(input.instance, "security_groups", [])) == 0
	violation := {
		"message": sprintf("instance %s requests a public IP but names no security groups", [input.instance.name]),
		"severity": "warning",
		"resource": input.instance.name,
	}
}`,
	}
}

// terminationProtectionPolicy warns about unprotected production
// instances.
func terminationProtectionPolicy() Policy {
	return Policy{
		Name:        "termination-protection",
		Description: "Warns when production-tagged instances do not enable termination protection",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"safety", "production"},
		Rego: `package cloudverge.policies.termination

import rego.v1

deny contains violation if {
	input.instance
	input.instance.tags.env == "production"
	input.instance.state != "terminated"
	not input.instance.disable_api_termination == true
	violation := {
		"message": sprintf("production instance %s has no termination protection", [input.instance.name]),
		"severity": "warning",
		"resource": input.instance.name,
	}
}`,
	}
}
