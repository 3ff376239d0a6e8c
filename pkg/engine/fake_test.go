package engine

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/cloudverge/cloudverge/pkg/rules"
)

const fakeOwnerID = "123456789012"

// fakeEC2 is an in-memory EC2 control plane. Mutating calls change the
// stored state immediately so waiters converge on their first poll, and
// every call is recorded for assertions.
type fakeEC2 struct {
	groups    map[string]*ec2types.SecurityGroup
	instances map[string]*ec2types.Instance
	vpcs      []ec2types.Vpc
	subnets   []ec2types.Subnet

	// disableAPITermination mirrors the attribute store, which is not part
	// of the instance description.
	disableAPITermination map[string]bool

	calls  []string
	nextID int
}

func newFakeEC2() *fakeEC2 {
	return &fakeEC2{
		groups:                make(map[string]*ec2types.SecurityGroup),
		instances:             make(map[string]*ec2types.Instance),
		disableAPITermination: make(map[string]bool),
	}
}

func (f *fakeEC2) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeEC2) mutatingCalls() []string {
	var out []string
	for _, c := range f.calls {
		switch c {
		case "DescribeSecurityGroups", "DescribeInstances", "DescribeVpcs",
			"DescribeSubnets", "DescribeInstanceAttribute":
		default:
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeEC2) addGroup(id, name, desc, vpcID string, tags map[string]string) *ec2types.SecurityGroup {
	g := &ec2types.SecurityGroup{
		GroupId:     aws.String(id),
		GroupName:   aws.String(name),
		Description: aws.String(desc),
		OwnerId:     aws.String(fakeOwnerID),
		Tags:        TagsToEC2(tags),
	}
	if vpcID != "" {
		g.VpcId = aws.String(vpcID)
		// VPC groups come with the provider default egress rule.
		g.IpPermissionsEgress = rules.ToPermissions([]rules.Rule{{
			Protocol: rules.ProtocolAll, TargetType: rules.TargetIPv4, Target: "0.0.0.0/0",
		}})
	}
	f.groups[id] = g
	return g
}

func (f *fakeEC2) addInstance(id string, state ec2types.InstanceStateName, tags map[string]string) *ec2types.Instance {
	inst := &ec2types.Instance{
		InstanceId:   aws.String(id),
		State:        &ec2types.InstanceState{Name: state},
		InstanceType: ec2types.InstanceTypeT3Micro,
		Tags:         TagsToEC2(tags),
	}
	f.instances[id] = inst
	return inst
}

func (f *fakeEC2) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.record("DescribeSecurityGroups")
	out := &ec2.DescribeSecurityGroupsOutput{}
	if len(params.GroupIds) > 0 {
		for _, id := range params.GroupIds {
			if g, ok := f.groups[id]; ok {
				out.SecurityGroups = append(out.SecurityGroups, *g)
			}
		}
		return out, nil
	}
	if len(params.Filters) > 0 {
		var names, vpcIDs []string
		for _, flt := range params.Filters {
			switch aws.ToString(flt.Name) {
			case "group-name":
				names = flt.Values
			case "vpc-id":
				vpcIDs = flt.Values
			}
		}
		for _, g := range f.groups {
			if matchValue(names, aws.ToString(g.GroupName)) && matchValue(vpcIDs, aws.ToString(g.VpcId)) {
				out.SecurityGroups = append(out.SecurityGroups, *g)
			}
		}
		return out, nil
	}
	for _, g := range f.groups {
		out.SecurityGroups = append(out.SecurityGroups, *g)
	}
	return out, nil
}

func matchValue(values []string, v string) bool {
	if len(values) == 0 {
		return true
	}
	for _, want := range values {
		if want == v {
			return true
		}
	}
	return false
}

func (f *fakeEC2) CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	f.record("CreateSecurityGroup")
	f.nextID++
	id := fmt.Sprintf("sg-fake%04d", f.nextID)
	f.addGroup(id, aws.ToString(params.GroupName), aws.ToString(params.Description),
		aws.ToString(params.VpcId), nil)
	return &ec2.CreateSecurityGroupOutput{GroupId: aws.String(id)}, nil
}

func (f *fakeEC2) DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	f.record("DeleteSecurityGroup")
	delete(f.groups, aws.ToString(params.GroupId))
	return &ec2.DeleteSecurityGroupOutput{}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	f.record("AuthorizeSecurityGroupIngress")
	g := f.groups[aws.ToString(params.GroupId)]
	g.IpPermissions = append(g.IpPermissions, params.IpPermissions...)
	return &ec2.AuthorizeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) AuthorizeSecurityGroupEgress(ctx context.Context, params *ec2.AuthorizeSecurityGroupEgressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupEgressOutput, error) {
	f.record("AuthorizeSecurityGroupEgress")
	g := f.groups[aws.ToString(params.GroupId)]
	g.IpPermissionsEgress = append(g.IpPermissionsEgress, params.IpPermissions...)
	return &ec2.AuthorizeSecurityGroupEgressOutput{}, nil
}

func (f *fakeEC2) RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error) {
	f.record("RevokeSecurityGroupIngress")
	g := f.groups[aws.ToString(params.GroupId)]
	g.IpPermissions = removePermissions(g.IpPermissions, params.IpPermissions)
	return &ec2.RevokeSecurityGroupIngressOutput{}, nil
}

func (f *fakeEC2) RevokeSecurityGroupEgress(ctx context.Context, params *ec2.RevokeSecurityGroupEgressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupEgressOutput, error) {
	f.record("RevokeSecurityGroupEgress")
	g := f.groups[aws.ToString(params.GroupId)]
	g.IpPermissionsEgress = removePermissions(g.IpPermissionsEgress, params.IpPermissions)
	return &ec2.RevokeSecurityGroupEgressOutput{}, nil
}

// removePermissions filters out permissions whose canonical keys appear in
// the revoked set.
func removePermissions(current, revoked []ec2types.IpPermission) []ec2types.IpPermission {
	gone := make(map[string]bool)
	for _, r := range rules.FromPermissions(revoked, fakeOwnerID) {
		gone[r.Key()] = true
	}
	var kept []ec2types.IpPermission
	for _, perm := range current {
		keep := false
		for _, r := range rules.FromPermission(perm, fakeOwnerID) {
			if !gone[r.Key()] {
				keep = true
			}
		}
		if keep {
			kept = append(kept, perm)
		}
	}
	return kept
}

func (f *fakeEC2) UpdateSecurityGroupRuleDescriptionsIngress(ctx context.Context, params *ec2.UpdateSecurityGroupRuleDescriptionsIngressInput, optFns ...func(*ec2.Options)) (*ec2.UpdateSecurityGroupRuleDescriptionsIngressOutput, error) {
	f.record("UpdateSecurityGroupRuleDescriptionsIngress")
	return &ec2.UpdateSecurityGroupRuleDescriptionsIngressOutput{}, nil
}

func (f *fakeEC2) UpdateSecurityGroupRuleDescriptionsEgress(ctx context.Context, params *ec2.UpdateSecurityGroupRuleDescriptionsEgressInput, optFns ...func(*ec2.Options)) (*ec2.UpdateSecurityGroupRuleDescriptionsEgressOutput, error) {
	f.record("UpdateSecurityGroupRuleDescriptionsEgress")
	return &ec2.UpdateSecurityGroupRuleDescriptionsEgressOutput{}, nil
}

func (f *fakeEC2) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.record("CreateTags")
	for _, id := range params.Resources {
		if g, ok := f.groups[id]; ok {
			tags := TagsFromEC2(g.Tags)
			if tags == nil {
				tags = make(map[string]string)
			}
			for k, v := range TagsFromEC2(params.Tags) {
				tags[k] = v
			}
			g.Tags = TagsToEC2(tags)
		}
		if inst, ok := f.instances[id]; ok {
			tags := TagsFromEC2(inst.Tags)
			if tags == nil {
				tags = make(map[string]string)
			}
			for k, v := range TagsFromEC2(params.Tags) {
				tags[k] = v
			}
			inst.Tags = TagsToEC2(tags)
		}
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) DeleteTags(ctx context.Context, params *ec2.DeleteTagsInput, optFns ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error) {
	f.record("DeleteTags")
	for _, id := range params.Resources {
		if g, ok := f.groups[id]; ok {
			tags := TagsFromEC2(g.Tags)
			for _, t := range params.Tags {
				delete(tags, aws.ToString(t.Key))
			}
			g.Tags = TagsToEC2(tags)
		}
		if inst, ok := f.instances[id]; ok {
			tags := TagsFromEC2(inst.Tags)
			for _, t := range params.Tags {
				delete(tags, aws.ToString(t.Key))
			}
			inst.Tags = TagsToEC2(tags)
		}
	}
	return &ec2.DeleteTagsOutput{}, nil
}

func (f *fakeEC2) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	f.record("DescribeVpcs")
	return &ec2.DescribeVpcsOutput{Vpcs: f.vpcs}, nil
}

func (f *fakeEC2) DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	f.record("DescribeSubnets")
	if len(params.SubnetIds) > 0 {
		out := &ec2.DescribeSubnetsOutput{}
		for _, s := range f.subnets {
			if matchValue(params.SubnetIds, aws.ToString(s.SubnetId)) {
				out.Subnets = append(out.Subnets, s)
			}
		}
		return out, nil
	}
	return &ec2.DescribeSubnetsOutput{Subnets: f.subnets}, nil
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.record("DescribeInstances")
	var states, nameTags []string
	for _, flt := range params.Filters {
		switch aws.ToString(flt.Name) {
		case "instance-state-name":
			states = flt.Values
		case "tag:Name":
			nameTags = flt.Values
		}
	}

	var matched []ec2types.Instance
	for _, inst := range f.instances {
		if len(params.InstanceIds) > 0 && !matchValue(params.InstanceIds, aws.ToString(inst.InstanceId)) {
			continue
		}
		if len(states) > 0 && !matchValue(states, string(inst.State.Name)) {
			continue
		}
		if len(nameTags) > 0 && !matchValue(nameTags, TagsFromEC2(inst.Tags)["Name"]) {
			continue
		}
		matched = append(matched, *inst)
	}
	out := &ec2.DescribeInstancesOutput{}
	if len(matched) > 0 {
		out.Reservations = []ec2types.Reservation{{Instances: matched}}
	}
	return out, nil
}

func (f *fakeEC2) DescribeInstanceAttribute(ctx context.Context, params *ec2.DescribeInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error) {
	f.record("DescribeInstanceAttribute")
	id := aws.ToString(params.InstanceId)
	return &ec2.DescribeInstanceAttributeOutput{
		InstanceId:            params.InstanceId,
		DisableApiTermination: &ec2types.AttributeBooleanValue{Value: aws.Bool(f.disableAPITermination[id])},
	}, nil
}

func (f *fakeEC2) ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	f.record("ModifyInstanceAttribute")
	id := aws.ToString(params.InstanceId)
	if params.DisableApiTermination != nil {
		f.disableAPITermination[id] = aws.ToBool(params.DisableApiTermination.Value)
	}
	if params.EbsOptimized != nil {
		if inst, ok := f.instances[id]; ok {
			inst.EbsOptimized = params.EbsOptimized.Value
		}
	}
	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

func (f *fakeEC2) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.record("RunInstances")
	f.nextID++
	id := fmt.Sprintf("i-fake%04d", f.nextID)
	inst := &ec2types.Instance{
		InstanceId:   aws.String(id),
		ImageId:      params.ImageId,
		InstanceType: params.InstanceType,
		State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
		SubnetId:     params.SubnetId,
	}
	for _, spec := range params.TagSpecifications {
		if spec.ResourceType == ec2types.ResourceTypeInstance {
			inst.Tags = append(inst.Tags, spec.Tags...)
		}
	}
	f.instances[id] = inst
	return &ec2.RunInstancesOutput{Instances: []ec2types.Instance{*inst}}, nil
}

func (f *fakeEC2) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	f.record("StartInstances")
	for _, id := range params.InstanceIds {
		f.instances[id].State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning}
	}
	return &ec2.StartInstancesOutput{}, nil
}

func (f *fakeEC2) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.record("StopInstances")
	for _, id := range params.InstanceIds {
		f.instances[id].State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped}
	}
	return &ec2.StopInstancesOutput{}, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.record("TerminateInstances")
	for _, id := range params.InstanceIds {
		f.instances[id].State = &ec2types.InstanceState{Name: ec2types.InstanceStateNameTerminated}
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

// fakeIAM resolves instance profile names to ARNs.
type fakeIAM struct {
	profiles map[string]string
}

func (f *fakeIAM) GetInstanceProfile(ctx context.Context, params *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error) {
	name := aws.ToString(params.InstanceProfileName)
	arn, ok := f.profiles[name]
	if !ok {
		return nil, fmt.Errorf("instance profile %s not found", name)
	}
	return &iam.GetInstanceProfileOutput{
		InstanceProfile: &iamtypes.InstanceProfile{Arn: aws.String(arn)},
	}, nil
}
