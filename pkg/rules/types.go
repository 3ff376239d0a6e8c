package rules

import (
	"fmt"
	"regexp"
	"strings"
)

// TargetType identifies what kind of source/destination a rule points at.
type TargetType string

const (
	// TargetIPv4 is an IPv4 CIDR block.
	TargetIPv4 TargetType = "ipv4"

	// TargetIPv6 is an IPv6 CIDR block.
	TargetIPv6 TargetType = "ipv6"

	// TargetGroup is a reference to another security group.
	TargetGroup TargetType = "group"

	// TargetPrefixList is a managed prefix list id.
	TargetPrefixList TargetType = "ip_prefix"
)

// ProtocolAll is the canonical wire value for "all protocols".
const ProtocolAll = "-1"

// Valid reports whether t is a recognized target type.
func (t TargetType) Valid() bool {
	switch t {
	case TargetIPv4, TargetIPv6, TargetGroup, TargetPrefixList:
		return true
	}
	return false
}

// foreignGroupPattern matches "owner-id/sg-id/group-name" references to
// security groups owned by another account.
var foreignGroupPattern = regexp.MustCompile(`^(\S+)/(sg-\S+)/(\S+)$`)

// GroupRef identifies a security group rule target. For groups in the local
// account only GroupID (or GroupName, before resolution) is set. Foreign
// groups carry the full (owner, id, name) triple and are never looked up.
type GroupRef struct {
	OwnerID   string `json:"owner_id,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
}

// Foreign reports whether the reference crosses an account boundary.
func (g GroupRef) Foreign() bool {
	return g.OwnerID != ""
}

// ParseGroupRef parses a group_id value, which is either a plain sg- id or a
// foreign "owner/sg-id/name" triple.
func ParseGroupRef(s string) GroupRef {
	if m := foreignGroupPattern.FindStringSubmatch(s); m != nil {
		return GroupRef{OwnerID: m[1], GroupID: m[2], GroupName: m[3]}
	}
	return GroupRef{GroupID: s}
}

func (g GroupRef) String() string {
	if g.Foreign() {
		return g.OwnerID + "/" + g.GroupID + "/" + g.GroupName
	}
	if g.GroupID != "" {
		return g.GroupID
	}
	return g.GroupName
}

// key is the identity used for diffing. The provider reports foreign grants
// as (owner, id) pairs with no name, so the name never participates once an
// id is known; a name-only reference has nothing else to key on.
func (g GroupRef) key() string {
	if g.GroupID == "" {
		return g.GroupName
	}
	if g.Foreign() {
		return g.OwnerID + "/" + g.GroupID
	}
	return g.GroupID
}

// Rule is the canonical form of a single security group permission: one port
// range, one protocol, one target. FromPort and ToPort are nil if and only if
// the protocol is ProtocolAll.
type Rule struct {
	FromPort    *int32     `json:"from_port,omitempty"`
	ToPort      *int32     `json:"to_port,omitempty"`
	Protocol    string     `json:"protocol"`
	TargetType  TargetType `json:"target_type"`
	Target      string     `json:"target,omitempty"`
	Group       GroupRef   `json:"group,omitempty"`
	Description string     `json:"description,omitempty"`
}

// Key returns the canonical identity of the rule excluding its description.
// Two rules with equal keys address the same permission; a differing
// description is reconciled with an update call, not revoke+authorize.
func (r Rule) Key() string {
	var b strings.Builder
	b.WriteString(r.Protocol)
	b.WriteByte('|')
	b.WriteString(formatPort(r.FromPort))
	b.WriteByte('|')
	b.WriteString(formatPort(r.ToPort))
	b.WriteByte('|')
	b.WriteString(string(r.TargetType))
	b.WriteByte('|')
	if r.TargetType == TargetGroup {
		b.WriteString(r.Group.key())
	} else {
		b.WriteString(r.Target)
	}
	return b.String()
}

func (r Rule) String() string {
	if r.Description == "" {
		return r.Key()
	}
	return r.Key() + " (" + r.Description + ")"
}

// PortRange is a single inclusive from/to port pair produced by expanding the
// shorthand "ports" field of a rule specification.
type PortRange struct {
	From int32
	To   int32
}

func formatPort(p *int32) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *p)
}

// int32p is a convenience for building rules and tests.
func int32p(v int32) *int32 { return &v }

// Int32 returns a pointer to v.
func Int32(v int32) *int32 { return int32p(v) }
