package engine

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloudverge/cloudverge/pkg/rules"
)

// GroupIndex is a lookup table over the security groups visible to the
// account, keyed by id and by (name, vpc). Group names are only unique
// within a VPC, so name lookups are always VPC-scoped.
type GroupIndex struct {
	byID   map[string]ec2types.SecurityGroup
	byName map[string]ec2types.SecurityGroup
}

// NewGroupIndex builds an index from a DescribeSecurityGroups listing.
func NewGroupIndex(groups []ec2types.SecurityGroup) *GroupIndex {
	idx := &GroupIndex{
		byID:   make(map[string]ec2types.SecurityGroup, len(groups)),
		byName: make(map[string]ec2types.SecurityGroup, len(groups)),
	}
	for _, g := range groups {
		idx.Add(g)
	}
	return idx
}

// Add inserts or replaces a group in the index.
func (idx *GroupIndex) Add(g ec2types.SecurityGroup) {
	idx.byID[aws.ToString(g.GroupId)] = g
	idx.byName[nameKey(aws.ToString(g.GroupName), aws.ToString(g.VpcId))] = g
}

// ByID returns the group with the given id.
func (idx *GroupIndex) ByID(id string) (ec2types.SecurityGroup, bool) {
	g, ok := idx.byID[id]
	return g, ok
}

// ByName returns the group with the given name in the given VPC. An empty
// vpcID matches EC2-Classic groups.
func (idx *GroupIndex) ByName(name, vpcID string) (ec2types.SecurityGroup, bool) {
	g, ok := idx.byName[nameKey(name, vpcID)]
	return g, ok
}

// ByNameAny returns every group with the given name regardless of VPC.
// Used when the caller did not pin a VPC; more than one match is ambiguous.
func (idx *GroupIndex) ByNameAny(name string) []ec2types.SecurityGroup {
	var out []ec2types.SecurityGroup
	for _, g := range idx.byID {
		if aws.ToString(g.GroupName) == name {
			out = append(out, g)
		}
	}
	return out
}

func nameKey(name, vpcID string) string {
	return name + "\x00" + vpcID
}

// GroupStub describes a security group that desired rules reference by name
// but that does not exist yet. Resolution reports stubs; creating them is an
// apply-phase action so that check mode stays side-effect free.
type GroupStub struct {
	// Name is the referenced group name.
	Name string `json:"name"`

	// Description is the description the group will be created with,
	// taken from the referencing rule's group_desc.
	Description string `json:"description"`

	// VpcID is the VPC the group will be created in.
	VpcID string `json:"vpc_id,omitempty"`
}

// ResolveContext carries the identity of the group under reconciliation and
// the view of existing groups that name references resolve against.
type ResolveContext struct {
	// OwnerID is the account id rules are resolved for.
	OwnerID string

	// GroupName is the name of the group being reconciled. Rules naming
	// it resolve to a self-reference.
	GroupName string

	// GroupID is the id of the group being reconciled, empty until it has
	// been created.
	GroupID string

	// VpcID scopes name lookups. Empty for EC2-Classic.
	VpcID string

	// Index is the view of existing groups.
	Index *GroupIndex
}

// Resolution is the outcome of resolving one direction's rule specs.
type Resolution struct {
	// Rules are the fully expanded rules. Rules referencing a group in
	// Missing carry a name-only GroupRef until the group exists.
	Rules []rules.Rule

	// Missing lists referenced groups that need to be created before the
	// rules can be submitted, deduplicated by name.
	Missing []GroupStub
}

// Resolve translates normalized rule specs into concrete rules. It is pure:
// unknown group names become Missing stubs rather than created groups, and
// the caller decides whether creating them is permitted.
//
// Specs must already be normalized: exactly one source field with exactly
// one value, ports expanded onto from_port/to_port.
func Resolve(specs []rules.Spec, rctx ResolveContext) (*Resolution, error) {
	res := &Resolution{}
	missing := make(map[string]bool)

	for i := range specs {
		spec := &specs[i]
		rule := rules.Rule{
			Protocol:    spec.Proto,
			FromPort:    spec.FromPort,
			ToPort:      spec.ToPort,
			Description: spec.RuleDesc,
		}

		switch {
		case len(spec.CidrIP) == 1:
			rule.TargetType = rules.TargetIPv4
			rule.Target = spec.CidrIP[0]

		case len(spec.CidrIPv6) == 1:
			rule.TargetType = rules.TargetIPv6
			rule.Target = spec.CidrIPv6[0]

		case len(spec.IPPrefix) == 1:
			rule.TargetType = rules.TargetPrefixList
			rule.Target = spec.IPPrefix[0]

		case len(spec.GroupID) == 1:
			rule.TargetType = rules.TargetGroup
			rule.Group = rules.ParseGroupRef(spec.GroupID[0])

		case len(spec.GroupName) == 1:
			ref, err := resolveGroupName(spec.GroupName[0], spec.GroupDesc, rctx, res, missing)
			if err != nil {
				return nil, err
			}
			rule.TargetType = rules.TargetGroup
			rule.Group = ref

		default:
			return nil, NewPermanentError(
				fmt.Sprintf("rule %d has no source after normalization", i), nil).
				WithCode(ErrCodeValidation)
		}

		res.Rules = append(res.Rules, rule)
	}

	return res, nil
}

// resolveGroupName maps a group name onto an existing group, the group under
// reconciliation, or a creation stub.
func resolveGroupName(name, desc string, rctx ResolveContext, res *Resolution, missing map[string]bool) (rules.GroupRef, error) {
	if name == rctx.GroupName {
		// Self-reference. The id is empty before the group exists; the
		// driver re-resolves after creating it.
		return rules.GroupRef{GroupID: rctx.GroupID, GroupName: stripIfResolved(name, rctx.GroupID)}, nil
	}

	if g, ok := rctx.Index.ByName(name, rctx.VpcID); ok {
		return rules.GroupRef{GroupID: aws.ToString(g.GroupId)}, nil
	}

	// The referenced group does not exist. It will be created with the
	// rule's group_desc, which is therefore mandatory here.
	if desc == "" {
		return rules.GroupRef{}, NewPermanentError(
			fmt.Sprintf("group %q not found and would be automatically created by rule, but no description was provided", name), nil).
			WithCode(ErrCodeValidation).
			WithResource(name)
	}
	if !missing[name] {
		missing[name] = true
		res.Missing = append(res.Missing, GroupStub{Name: name, Description: desc, VpcID: rctx.VpcID})
	}
	return rules.GroupRef{GroupName: name}, nil
}

// stripIfResolved clears the name fallback once an id is known, so rule keys
// are stable across the pre- and post-creation passes.
func stripIfResolved(name, id string) string {
	if id != "" {
		return ""
	}
	return name
}

// Resolved reports whether every rule in the resolution has a concrete
// target, i.e. no group reference is still name-only.
func (r *Resolution) Resolved() bool {
	for _, rule := range r.Rules {
		if rule.TargetType == rules.TargetGroup && !rule.Group.Foreign() && rule.Group.GroupID == "" {
			return false
		}
	}
	return true
}
