// Package rules implements the canonical security group rule model:
// loose rule specifications are validated and expanded into one rule per
// (port range, protocol, target) tuple, and canonical rule sets are diffed
// to produce the authorize/revoke batches needed to converge a group.
package rules
