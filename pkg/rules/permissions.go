package rules

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// ToPermission serializes a canonical rule into the wire permission shape.
// One permission carries exactly one grant; batching stays at the call site
// where failures can be attributed to individual rules.
func ToPermission(r Rule) ec2types.IpPermission {
	perm := ec2types.IpPermission{
		IpProtocol: aws.String(r.Protocol),
		FromPort:   r.FromPort,
		ToPort:     r.ToPort,
	}

	switch r.TargetType {
	case TargetIPv4:
		rng := ec2types.IpRange{CidrIp: aws.String(r.Target)}
		if r.Description != "" {
			rng.Description = aws.String(r.Description)
		}
		perm.IpRanges = []ec2types.IpRange{rng}
	case TargetIPv6:
		rng := ec2types.Ipv6Range{CidrIpv6: aws.String(r.Target)}
		if r.Description != "" {
			rng.Description = aws.String(r.Description)
		}
		perm.Ipv6Ranges = []ec2types.Ipv6Range{rng}
	case TargetPrefixList:
		pl := ec2types.PrefixListId{PrefixListId: aws.String(r.Target)}
		if r.Description != "" {
			pl.Description = aws.String(r.Description)
		}
		perm.PrefixListIds = []ec2types.PrefixListId{pl}
	case TargetGroup:
		pair := ec2types.UserIdGroupPair{}
		if r.Group.Foreign() {
			pair.UserId = aws.String(r.Group.OwnerID)
			pair.GroupId = aws.String(r.Group.GroupID)
			pair.GroupName = aws.String(r.Group.GroupName)
		} else {
			pair.GroupId = aws.String(r.Group.GroupID)
		}
		if r.Description != "" {
			pair.Description = aws.String(r.Description)
		}
		perm.UserIdGroupPairs = []ec2types.UserIdGroupPair{pair}
	}
	return perm
}

// ToPermissions serializes a batch of rules, one permission each.
func ToPermissions(rules []Rule) []ec2types.IpPermission {
	perms := make([]ec2types.IpPermission, 0, len(rules))
	for _, r := range rules {
		perms = append(perms, ToPermission(r))
	}
	return perms
}

// FromPermission expands a wire permission into canonical rules, one per
// grant. ownerID is the account owning the described group; group grants
// from any other account become foreign references.
func FromPermission(perm ec2types.IpPermission, ownerID string) []Rule {
	protocol := aws.ToString(perm.IpProtocol)
	var out []Rule

	base := Rule{
		FromPort: perm.FromPort,
		ToPort:   perm.ToPort,
		Protocol: protocol,
	}

	for _, rng := range perm.IpRanges {
		r := base
		r.TargetType = TargetIPv4
		r.Target = aws.ToString(rng.CidrIp)
		r.Description = aws.ToString(rng.Description)
		out = append(out, r)
	}
	for _, rng := range perm.Ipv6Ranges {
		r := base
		r.TargetType = TargetIPv6
		r.Target = aws.ToString(rng.CidrIpv6)
		r.Description = aws.ToString(rng.Description)
		out = append(out, r)
	}
	for _, pl := range perm.PrefixListIds {
		r := base
		r.TargetType = TargetPrefixList
		r.Target = aws.ToString(pl.PrefixListId)
		r.Description = aws.ToString(pl.Description)
		out = append(out, r)
	}
	for _, pair := range perm.UserIdGroupPairs {
		r := base
		r.TargetType = TargetGroup
		r.Group = GroupRef{
			GroupID:   aws.ToString(pair.GroupId),
			GroupName: aws.ToString(pair.GroupName),
		}
		if userID := aws.ToString(pair.UserId); userID != "" && userID != ownerID {
			r.Group.OwnerID = userID
		} else {
			// Local references compare by id alone.
			r.Group.GroupName = ""
		}
		r.Description = aws.ToString(pair.Description)
		out = append(out, r)
	}
	return out
}

// FromPermissions expands a list of wire permissions into canonical rules.
func FromPermissions(perms []ec2types.IpPermission, ownerID string) []Rule {
	var out []Rule
	for _, perm := range perms {
		out = append(out, FromPermission(perm, ownerID)...)
	}
	return out
}
