// Package policy evaluates guardrail policies against desired state
// documents before anything is applied.
//
// Policies are rego modules (rego.v1 syntax) whose deny rules produce
// findings. The engine feeds each group and instance declaration to every
// enabled policy; group rules are normalized first, so a policy always
// sees one port range and one source per rule entry.
//
// Five built-in policies ship with the engine:
//
//   - open-admin-ports (error): ingress exposing SSH or RDP to the world
//   - open-all-protocols (warning): all-protocol ingress from the world
//   - required-tags (warning): declarations without an env tag
//   - public-instance (warning): public IP requested with no groups named
//   - termination-protection (warning): unprotected production instances
//
// Additional policies load from .rego files (metadata inferred) or .json
// definitions (full metadata), and can be hot-reloaded with Loader.Watch.
//
// A deny result may be a plain string or an object carrying message,
// severity, and resource keys:
//
//	deny contains violation if {
//	    input.group
//	    some rule in input.group.ingress
//	    rule.proto == "-1"
//	    violation := {
//	        "message":  "all-protocol rules are not allowed here",
//	        "severity": "error",
//	        "resource": input.group.name,
//	    }
//	}
//
// Error-severity findings make the result not Allowed; the caller decides
// whether warnings block, per the workspace's on_violation setting.
package policy
