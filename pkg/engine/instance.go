package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

// InstanceState is a desired instance lifecycle state.
type InstanceState string

const (
	// InstanceStatePresent ensures the instances exist, without forcing a
	// particular run state.
	InstanceStatePresent InstanceState = "present"

	// InstanceStateRunning ensures the instances exist and are running.
	InstanceStateRunning InstanceState = "running"

	// InstanceStateStopped ensures the instances exist and are stopped.
	InstanceStateStopped InstanceState = "stopped"

	// InstanceStateRestarted stops and starts running instances.
	InstanceStateRestarted InstanceState = "restarted"

	// InstanceStateTerminated terminates the instances.
	InstanceStateTerminated InstanceState = "terminated"
)

// Validate checks that the state is a known value.
func (s InstanceState) Validate() error {
	switch s {
	case InstanceStatePresent, InstanceStateRunning, InstanceStateStopped,
		InstanceStateRestarted, InstanceStateTerminated:
		return nil
	}
	return NewPermanentError("invalid instance state: "+string(s), nil).WithCode(ErrCodeValidation)
}

// InstanceDesired is the desired state for a set of EC2 instances. Existing
// instances are matched by id, by filters, or by Name tag; when none match
// and the state wants them present, a new instance is launched from the
// launch fields.
type InstanceDesired struct {
	// InstanceIDs pins specific instances.
	InstanceIDs []string

	// Filters selects instances by provider filters (e.g. "tag:env").
	Filters map[string][]string

	// Name matches and tags instances by their Name tag.
	Name string

	// State is the desired lifecycle state.
	State InstanceState

	// ImageID is the AMI to launch from. Required when launching.
	ImageID string

	// InstanceType is the type to launch with.
	InstanceType string

	// KeyName is the SSH key pair name.
	KeyName string

	// SubnetID is the subnet to launch into. Empty picks a default subnet
	// of the default VPC.
	SubnetID string

	// SecurityGroupIDs attach groups by id at launch.
	SecurityGroupIDs []string

	// SecurityGroups attach groups by name at launch, resolved within the
	// launch subnet's VPC.
	SecurityGroups []string

	// IAMProfile is an instance profile name or ARN. Bare names are
	// resolved through IAM.
	IAMProfile string

	// UserData is plain-text user data, encoded before launch.
	UserData string

	// AssignPublicIP requests a public address on the launch interface.
	AssignPublicIP *bool

	// EbsOptimized is the desired EBS optimization flag.
	EbsOptimized *bool

	// DisableAPITermination is the desired termination protection flag.
	DisableAPITermination *bool

	// Tags is the desired tag set. Name is merged in automatically.
	Tags map[string]string

	// PurgeTags deletes tags not named in Tags.
	PurgeTags bool
}

// InstanceReconciler converges EC2 instances toward a desired state:
// existence, lifecycle state, mutable attributes, and tags.
type InstanceReconciler struct {
	api EC2API
	iam IAMAPI
	log *telemetry.Logger

	// waitTimeout bounds every instance state waiter.
	waitTimeout time.Duration
}

// NewInstanceReconciler creates a reconciler on top of the given API handles.
func NewInstanceReconciler(api EC2API, iamAPI IAMAPI, log *telemetry.Logger) *InstanceReconciler {
	return &InstanceReconciler{
		api:         api,
		iam:         iamAPI,
		log:         log.NewComponentLogger("instance-reconciler"),
		waitTimeout: 10 * time.Minute,
	}
}

// Reconcile drives the matched instances to the desired state.
func (r *InstanceReconciler) Reconcile(ctx context.Context, desired InstanceDesired, opts ReconcileOptions) (*InstanceResult, error) {
	if desired.State == "" {
		desired.State = InstanceStateRunning
	}
	if err := desired.State.Validate(); err != nil {
		return nil, err
	}
	if len(desired.InstanceIDs) == 0 && len(desired.Filters) == 0 && desired.Name == "" {
		return nil, NewPermanentError(
			"instance spec needs instance_ids, filters, or a name to match on", nil).
			WithCode(ErrCodeValidation)
	}

	result := &InstanceResult{}

	instances, err := r.findInstances(ctx, desired)
	if err != nil {
		return nil, err
	}

	if len(instances) == 0 {
		if desired.State == InstanceStateTerminated {
			return result, nil
		}
		launched, err := r.launch(ctx, desired, result, opts)
		if err != nil {
			return nil, err
		}
		instances = launched
	} else {
		if err := r.transition(ctx, instances, desired.State, result, opts); err != nil {
			return nil, err
		}
		if err := r.reconcileAttributes(ctx, instances, desired, result, opts); err != nil {
			return nil, err
		}
		if desired.AssignPublicIP != nil {
			result.Warnings = append(result.Warnings,
				"public IP assignment cannot be changed after launch, ignoring for existing instances")
		}
	}

	if desired.State != InstanceStateTerminated {
		if err := r.reconcileInstanceTags(ctx, instances, desired, result, opts); err != nil {
			return nil, err
		}
	}

	// Re-read for final snapshots unless nothing exists yet (check mode
	// launch) or everything is gone.
	ids := instanceIDs(instances)
	result.InstanceIDs = ids
	if len(ids) > 0 && !opts.CheckMode {
		final, err := r.describeByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		result.Instances = snapshots(final)
	} else {
		result.Instances = snapshots(instances)
	}
	return result, nil
}

// findInstances matches existing instances by id, filters, or Name tag.
// Terminated instances never match; they are gone for reconciliation
// purposes.
func (r *InstanceReconciler) findInstances(ctx context.Context, desired InstanceDesired) ([]ec2types.Instance, error) {
	input := &ec2.DescribeInstancesInput{}
	if len(desired.InstanceIDs) > 0 {
		input.InstanceIds = desired.InstanceIDs
	} else {
		var filters []ec2types.Filter
		keys := make([]string, 0, len(desired.Filters))
		for k := range desired.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			filters = append(filters, ec2types.Filter{Name: aws.String(k), Values: desired.Filters[k]})
		}
		if desired.Name != "" {
			filters = append(filters, ec2types.Filter{Name: aws.String("tag:Name"), Values: []string{desired.Name}})
		}
		filters = append(filters, ec2types.Filter{
			Name:   aws.String("instance-state-name"),
			Values: []string{"pending", "running", "stopping", "stopped", "shutting-down"},
		})
		input.Filters = filters
	}

	var out []ec2types.Instance
	var token *string
	for {
		input.NextToken = token
		resp, err := r.api.DescribeInstances(ctx, input)
		if err != nil {
			cerr := classify("DescribeInstances", err)
			// Pinned ids that are gone count as no match when terminating.
			if IsNotFound(cerr) && desired.State == InstanceStateTerminated {
				return nil, nil
			}
			return nil, cerr
		}
		for _, res := range resp.Reservations {
			for _, inst := range res.Instances {
				if stateName(inst) != string(ec2types.InstanceStateNameTerminated) {
					out = append(out, inst)
				}
			}
		}
		if resp.NextToken == nil {
			break
		}
		token = resp.NextToken
	}
	return out, nil
}

func (r *InstanceReconciler) describeByIDs(ctx context.Context, ids []string) ([]ec2types.Instance, error) {
	out, err := r.api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids})
	if err != nil {
		return nil, classify("DescribeInstances", err)
	}
	var instances []ec2types.Instance
	for _, res := range out.Reservations {
		instances = append(instances, res.Instances...)
	}
	return instances, nil
}

// launch creates a new instance from the launch fields of the spec.
func (r *InstanceReconciler) launch(ctx context.Context, desired InstanceDesired, result *InstanceResult, opts ReconcileOptions) ([]ec2types.Instance, error) {
	if desired.ImageID == "" {
		return nil, NewPermanentError(
			"no instances matched and an image_id is required to launch one", nil).
			WithCode(ErrCodeValidation)
	}

	result.Changed = true
	result.Actions = append(result.Actions, Action{
		Type:     ActionLaunch,
		Resource: desired.Name,
		Detail:   fmt.Sprintf("launch %s from %s", desired.InstanceType, desired.ImageID),
	})
	if opts.CheckMode {
		return nil, nil
	}

	subnetID := desired.SubnetID
	if subnetID == "" {
		var err error
		if subnetID, err = r.defaultSubnet(ctx); err != nil {
			return nil, err
		}
	}
	groupIDs, err := r.resolveSecurityGroups(ctx, desired, subnetID)
	if err != nil {
		return nil, err
	}

	input := &ec2.RunInstancesInput{
		ImageId:  aws.String(desired.ImageID),
		MinCount: aws.Int32(1),
		MaxCount: aws.Int32(1),
	}
	if desired.InstanceType != "" {
		input.InstanceType = ec2types.InstanceType(desired.InstanceType)
	}
	if desired.KeyName != "" {
		input.KeyName = aws.String(desired.KeyName)
	}
	if desired.EbsOptimized != nil {
		input.EbsOptimized = desired.EbsOptimized
	}
	if desired.DisableAPITermination != nil {
		input.DisableApiTermination = desired.DisableAPITermination
	}
	if desired.UserData != "" {
		input.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(desired.UserData)))
	}
	if desired.IAMProfile != "" {
		arn, err := r.resolveInstanceProfile(ctx, desired.IAMProfile)
		if err != nil {
			return nil, err
		}
		input.IamInstanceProfile = &ec2types.IamInstanceProfileSpecification{Arn: aws.String(arn)}
	}

	// A public-IP request forces an explicit interface spec; subnet and
	// groups then belong on the interface, not the top level.
	if desired.AssignPublicIP != nil {
		input.NetworkInterfaces = []ec2types.InstanceNetworkInterfaceSpecification{{
			DeviceIndex:              aws.Int32(0),
			AssociatePublicIpAddress: desired.AssignPublicIP,
			SubnetId:                 aws.String(subnetID),
			Groups:                   groupIDs,
		}}
	} else {
		input.SubnetId = aws.String(subnetID)
		input.SecurityGroupIds = groupIDs
	}

	if tags := launchTags(desired); len(tags) > 0 {
		input.TagSpecifications = []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         TagsToEC2(tags),
		}}
	}

	out, err := r.api.RunInstances(ctx, input)
	if err != nil {
		return nil, classify("RunInstances", err)
	}
	instances := out.Instances
	ids := instanceIDs(instances)
	r.log.WithField("instance_ids", ids).Info("launched instance")

	if desired.State == InstanceStateRunning || desired.State == InstanceStatePresent {
		if err := r.waitRunning(ctx, ids); err != nil {
			return nil, err
		}
	} else if desired.State == InstanceStateStopped {
		if _, err := r.api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: ids}); err != nil {
			return nil, classify("StopInstances", err)
		}
		if err := r.waitStopped(ctx, ids); err != nil {
			return nil, err
		}
	}
	return instances, nil
}

// transition moves existing instances into the desired lifecycle state.
func (r *InstanceReconciler) transition(ctx context.Context, instances []ec2types.Instance, state InstanceState, result *InstanceResult, opts ReconcileOptions) error {
	running := idsInState(instances, ec2types.InstanceStateNameRunning)
	stopped := idsInState(instances, ec2types.InstanceStateNameStopped)
	all := instanceIDs(instances)

	switch state {
	case InstanceStatePresent:
		return nil

	case InstanceStateRunning:
		if len(stopped) == 0 {
			return nil
		}
		result.Changed = true
		result.Actions = append(result.Actions, Action{
			Type: ActionStart, Resource: strings.Join(stopped, ","), Count: len(stopped),
		})
		if opts.CheckMode {
			return nil
		}
		if _, err := r.api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: stopped}); err != nil {
			return classify("StartInstances", err)
		}
		return r.waitRunning(ctx, stopped)

	case InstanceStateStopped:
		if len(running) == 0 {
			return nil
		}
		result.Changed = true
		result.Actions = append(result.Actions, Action{
			Type: ActionStop, Resource: strings.Join(running, ","), Count: len(running),
		})
		if opts.CheckMode {
			return nil
		}
		if _, err := r.api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: running}); err != nil {
			return classify("StopInstances", err)
		}
		return r.waitStopped(ctx, running)

	case InstanceStateRestarted:
		result.Changed = true
		result.Actions = append(result.Actions, Action{
			Type: ActionStop, Resource: strings.Join(all, ","), Count: len(all),
		}, Action{
			Type: ActionStart, Resource: strings.Join(all, ","), Count: len(all),
		})
		if opts.CheckMode {
			return nil
		}
		if len(running) > 0 {
			if _, err := r.api.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: running}); err != nil {
				return classify("StopInstances", err)
			}
			if err := r.waitStopped(ctx, running); err != nil {
				return err
			}
		}
		if _, err := r.api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: all}); err != nil {
			return classify("StartInstances", err)
		}
		return r.waitRunning(ctx, all)

	case InstanceStateTerminated:
		result.Changed = true
		result.Actions = append(result.Actions, Action{
			Type: ActionTerminate, Resource: strings.Join(all, ","), Count: len(all),
		})
		if opts.CheckMode {
			return nil
		}
		if _, err := r.api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: all}); err != nil {
			return classify("TerminateInstances", err)
		}
		return r.waitTerminated(ctx, all)
	}
	return nil
}

// reconcileAttributes converges the mutable attributes that require a
// dedicated describe/modify attribute call pair.
func (r *InstanceReconciler) reconcileAttributes(ctx context.Context, instances []ec2types.Instance, desired InstanceDesired, result *InstanceResult, opts ReconcileOptions) error {
	for _, inst := range instances {
		id := aws.ToString(inst.InstanceId)

		if desired.EbsOptimized != nil {
			current := aws.ToBool(inst.EbsOptimized)
			if current != *desired.EbsOptimized {
				result.Changed = true
				result.Actions = append(result.Actions, Action{
					Type: ActionModifyAttribute, Resource: id,
					Detail: fmt.Sprintf("ebs_optimized %t -> %t", current, *desired.EbsOptimized),
				})
				if !opts.CheckMode {
					_, err := r.api.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
						InstanceId:   aws.String(id),
						EbsOptimized: &ec2types.AttributeBooleanValue{Value: desired.EbsOptimized},
					})
					if err != nil {
						return classify("ModifyInstanceAttribute", err).WithResource(id)
					}
				}
			}
		}

		if desired.DisableAPITermination != nil {
			// Not part of the instance description, needs its own read.
			attr, err := r.api.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
				InstanceId: aws.String(id),
				Attribute:  ec2types.InstanceAttributeNameDisableApiTermination,
			})
			if err != nil {
				return classify("DescribeInstanceAttribute", err).WithResource(id)
			}
			current := attr.DisableApiTermination != nil && aws.ToBool(attr.DisableApiTermination.Value)
			if current != *desired.DisableAPITermination {
				result.Changed = true
				result.Actions = append(result.Actions, Action{
					Type: ActionModifyAttribute, Resource: id,
					Detail: fmt.Sprintf("disable_api_termination %t -> %t", current, *desired.DisableAPITermination),
				})
				if !opts.CheckMode {
					_, err := r.api.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
						InstanceId:            aws.String(id),
						DisableApiTermination: &ec2types.AttributeBooleanValue{Value: desired.DisableAPITermination},
					})
					if err != nil {
						return classify("ModifyInstanceAttribute", err).WithResource(id)
					}
				}
			}
		}
	}
	return nil
}

// reconcileInstanceTags converges tags across all matched instances.
func (r *InstanceReconciler) reconcileInstanceTags(ctx context.Context, instances []ec2types.Instance, desired InstanceDesired, result *InstanceResult, opts ReconcileOptions) error {
	want := launchTags(desired)
	if len(want) == 0 && !desired.PurgeTags {
		return nil
	}

	for _, inst := range instances {
		id := aws.ToString(inst.InstanceId)
		current := TagsFromEC2(inst.Tags)

		toSet, toRemove := DiffTags(want, current, desired.PurgeTags)
		if len(toSet) == 0 && len(toRemove) == 0 {
			continue
		}
		result.Changed = true

		if len(toSet) > 0 {
			result.Actions = append(result.Actions, Action{Type: ActionTag, Resource: id, Count: len(toSet)})
			if !opts.CheckMode {
				_, err := r.api.CreateTags(ctx, &ec2.CreateTagsInput{
					Resources: []string{id}, Tags: TagsToEC2(toSet),
				})
				if err != nil {
					return classify("CreateTags", err).WithResource(id)
				}
			}
		}
		if len(toRemove) > 0 {
			result.Actions = append(result.Actions, Action{Type: ActionUntag, Resource: id, Count: len(toRemove)})
			if !opts.CheckMode {
				tags := make([]ec2types.Tag, 0, len(toRemove))
				for _, k := range toRemove {
					tags = append(tags, ec2types.Tag{Key: aws.String(k)})
				}
				_, err := r.api.DeleteTags(ctx, &ec2.DeleteTagsInput{
					Resources: []string{id}, Tags: tags,
				})
				if err != nil {
					return classify("DeleteTags", err).WithResource(id)
				}
			}
		}
	}
	return nil
}

// defaultSubnet discovers the default VPC and picks its first default
// subnet, sorted by availability zone for determinism.
func (r *InstanceReconciler) defaultSubnet(ctx context.Context) (string, error) {
	vpcs, err := r.api.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{{Name: aws.String("isDefault"), Values: []string{"true"}}},
	})
	if err != nil {
		return "", classify("DescribeVpcs", err)
	}
	if len(vpcs.Vpcs) == 0 {
		return "", NewPermanentError(
			"no subnet_id given and the account has no default VPC", nil).
			WithCode(ErrCodeValidation)
	}
	vpcID := aws.ToString(vpcs.Vpcs[0].VpcId)

	subnets, err := r.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
			{Name: aws.String("default-for-az"), Values: []string{"true"}},
		},
	})
	if err != nil {
		return "", classify("DescribeSubnets", err)
	}
	if len(subnets.Subnets) == 0 {
		return "", NewPermanentError(
			fmt.Sprintf("default VPC %s has no default subnets", vpcID), nil).
			WithCode(ErrCodeValidation)
	}
	sorted := subnets.Subnets
	sort.Slice(sorted, func(i, j int) bool {
		return aws.ToString(sorted[i].AvailabilityZone) < aws.ToString(sorted[j].AvailabilityZone)
	})
	return aws.ToString(sorted[0].SubnetId), nil
}

// resolveSecurityGroups maps group names onto ids within the launch VPC.
func (r *InstanceReconciler) resolveSecurityGroups(ctx context.Context, desired InstanceDesired, subnetID string) ([]string, error) {
	ids := append([]string(nil), desired.SecurityGroupIDs...)
	if len(desired.SecurityGroups) == 0 {
		return ids, nil
	}

	subnets, err := r.api.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{
		SubnetIds: []string{subnetID},
	})
	if err != nil {
		return nil, classify("DescribeSubnets", err)
	}
	if len(subnets.Subnets) == 0 {
		return nil, NewPermanentError("subnet "+subnetID+" not found", nil).
			WithCode(ErrCodeNotFound).WithResource(subnetID)
	}
	vpcID := aws.ToString(subnets.Subnets[0].VpcId)

	groups, err := r.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("group-name"), Values: desired.SecurityGroups},
			{Name: aws.String("vpc-id"), Values: []string{vpcID}},
		},
	})
	if err != nil {
		return nil, classify("DescribeSecurityGroups", err)
	}
	found := make(map[string]string, len(groups.SecurityGroups))
	for _, g := range groups.SecurityGroups {
		found[aws.ToString(g.GroupName)] = aws.ToString(g.GroupId)
	}
	for _, name := range desired.SecurityGroups {
		id, ok := found[name]
		if !ok {
			return nil, NewPermanentError(
				fmt.Sprintf("security group %q not found in vpc %s", name, vpcID), nil).
				WithCode(ErrCodeNotFound).WithResource(name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// resolveInstanceProfile turns a bare instance profile name into its ARN.
func (r *InstanceReconciler) resolveInstanceProfile(ctx context.Context, profile string) (string, error) {
	if strings.HasPrefix(profile, "arn:") {
		return profile, nil
	}
	out, err := r.iam.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: aws.String(profile),
	})
	if err != nil {
		return "", classify("GetInstanceProfile", err).WithResource(profile)
	}
	return aws.ToString(out.InstanceProfile.Arn), nil
}

func (r *InstanceReconciler) waitRunning(ctx context.Context, ids []string) error {
	waiter := ec2.NewInstanceRunningWaiter(r.api)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids}, r.waitTimeout); err != nil {
		return NewTransientError("instances did not reach running state", err).WithCode(ErrCodeTimeout)
	}
	return nil
}

func (r *InstanceReconciler) waitStopped(ctx context.Context, ids []string) error {
	waiter := ec2.NewInstanceStoppedWaiter(r.api)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids}, r.waitTimeout); err != nil {
		return NewTransientError("instances did not reach stopped state", err).WithCode(ErrCodeTimeout)
	}
	return nil
}

func (r *InstanceReconciler) waitTerminated(ctx context.Context, ids []string) error {
	waiter := ec2.NewInstanceTerminatedWaiter(r.api)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: ids}, r.waitTimeout); err != nil {
		return NewTransientError("instances did not reach terminated state", err).WithCode(ErrCodeTimeout)
	}
	return nil
}

// launchTags merges the Name tag into the desired tag set.
func launchTags(desired InstanceDesired) map[string]string {
	if desired.Name == "" {
		return desired.Tags
	}
	tags := make(map[string]string, len(desired.Tags)+1)
	for k, v := range desired.Tags {
		tags[k] = v
	}
	if _, ok := tags["Name"]; !ok {
		tags["Name"] = desired.Name
	}
	return tags
}

func instanceIDs(instances []ec2types.Instance) []string {
	ids := make([]string, 0, len(instances))
	for _, inst := range instances {
		ids = append(ids, aws.ToString(inst.InstanceId))
	}
	return ids
}

func idsInState(instances []ec2types.Instance, state ec2types.InstanceStateName) []string {
	var ids []string
	for _, inst := range instances {
		if stateName(inst) == string(state) {
			ids = append(ids, aws.ToString(inst.InstanceId))
		}
	}
	return ids
}

func stateName(inst ec2types.Instance) string {
	if inst.State == nil {
		return ""
	}
	return string(inst.State.Name)
}

func snapshots(instances []ec2types.Instance) []InstanceSnapshot {
	out := make([]InstanceSnapshot, 0, len(instances))
	for _, inst := range instances {
		out = append(out, InstanceSnapshot{
			InstanceID:   aws.ToString(inst.InstanceId),
			State:        stateName(inst),
			InstanceType: string(inst.InstanceType),
			SubnetID:     aws.ToString(inst.SubnetId),
			VpcID:        aws.ToString(inst.VpcId),
			PublicIP:     aws.ToString(inst.PublicIpAddress),
			PrivateIP:    aws.ToString(inst.PrivateIpAddress),
			Tags:         TagsFromEC2(inst.Tags),
		})
	}
	return out
}
