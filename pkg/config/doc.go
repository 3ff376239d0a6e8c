// Package config loads desired state documents for cloudverge.
//
// A document declares a workspace, a set of security groups, and a set of
// EC2 instances. Three source formats feed the same document model:
//
//   - CUE files and directories, parsed with the CUE toolchain and
//     validated against built-in schemas
//   - YAML files, for teams that prefer plain data
//   - Starlark scripts, for procedural generation of declarations
//
// All three routes decode through the same JSON form, so the rule and
// filter shorthand (scalar-or-list sources, "from-to" port ranges) works
// identically everywhere.
//
// A typical YAML document:
//
//	workspace:
//	  name: staging
//	  region: eu-west-1
//
//	groups:
//	  - name: web
//	    description: public web tier
//	    vpc_id: vpc-0a1b2c3d
//	    rules:
//	      - proto: tcp
//	        ports: [80, 443]
//	        cidr_ip: 0.0.0.0/0
//
//	instances:
//	  - name: web-1
//	    image_id: ami-0abcdef12
//	    instance_type: t3.micro
//	    security_groups: [web]
//
// A Starlark script exports the same top-level names as globals and
// receives workspace variables as the predeclared "vars" dict:
//
//	groups = [{
//	    "name": "shard-%d" % i,
//	    "description": "shard tier",
//	    "rules": [{"proto": "tcp", "ports": 9000 + i, "cidr_ip": vars["office_cidr"]}],
//	} for i in range(4)]
//
// Load merges all sources into one Document; the reconcilers consume the
// engine-facing form produced by GroupSpec.Desired and
// InstanceSpec.Desired. Parse and validation problems accumulate in
// Document.Errors with file positions where the source format provides
// them.
package config
