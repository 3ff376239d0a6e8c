package engine

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloudverge/cloudverge/pkg/rules"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

// GroupDesired is the desired state for one security group.
type GroupDesired struct {
	// Name is the group name, the primary identity.
	Name string

	// GroupID optionally pins the group by id instead of name.
	GroupID string

	// Description is the group description. Immutable after creation.
	Description string

	// VpcID is the VPC to create the group in and to scope name lookups.
	// Empty targets the default VPC.
	VpcID string

	// Absent requests deletion of the group.
	Absent bool

	// Rules is the desired inbound rule set.
	Rules []rules.Spec

	// RulesEgress is the desired outbound rule set. nil means unspecified:
	// the VPC default allow-all egress is left in place and strays are not
	// purged. An explicit empty list purges everything.
	RulesEgress []rules.Spec

	// PurgeRules revokes inbound rules not named in Rules.
	PurgeRules bool

	// PurgeRulesEgress revokes outbound rules not named in RulesEgress.
	// Only effective when RulesEgress is specified.
	PurgeRulesEgress bool

	// Tags is the desired tag set.
	Tags map[string]string

	// PurgeTags deletes tags not named in Tags.
	PurgeTags bool
}

// ReconcileOptions control a reconciliation pass.
type ReconcileOptions struct {
	// CheckMode computes and records all actions without mutating anything.
	CheckMode bool
}

// GroupReconciler converges a single security group toward its desired
// state: existence, inbound and outbound rules, and tags.
type GroupReconciler struct {
	api    EC2API
	waiter *RuleWaiter
	log    *telemetry.Logger
}

// NewGroupReconciler creates a reconciler on top of the given API handle.
func NewGroupReconciler(api EC2API, log *telemetry.Logger) *GroupReconciler {
	return &GroupReconciler{
		api:    api,
		waiter: NewRuleWaiter(api, log),
		log:    log.NewComponentLogger("group-reconciler"),
	}
}

// Reconcile drives one group to its desired state and reports what changed.
func (r *GroupReconciler) Reconcile(ctx context.Context, desired GroupDesired, opts ReconcileOptions) (*GroupResult, error) {
	log := r.log.WithField("group_name", desired.Name)
	result := &GroupResult{
		GroupName:   desired.Name,
		Description: desired.Description,
		VpcID:       desired.VpcID,
	}

	index, ownerID, err := r.describeAll(ctx)
	if err != nil {
		return nil, err
	}
	result.OwnerID = ownerID

	group, err := r.findGroup(index, desired)
	if err != nil {
		return nil, err
	}

	if desired.Absent {
		return r.reconcileAbsent(ctx, group, result, opts)
	}

	created := false
	if group == nil {
		log.Info("group does not exist, creating")
		group, err = r.createGroup(ctx, desired, index, result, opts)
		if err != nil {
			return nil, err
		}
		created = true
		result.Changed = true
		result.Created = true
	} else {
		result.GroupID = aws.ToString(group.GroupId)
		result.VpcID = aws.ToString(group.VpcId)
		if ownerID == "" {
			result.OwnerID = aws.ToString(group.OwnerId)
		}
		if desired.Description != "" && aws.ToString(group.Description) != desired.Description {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("group description %q differs from desired %q and cannot be changed without recreating the group",
					aws.ToString(group.Description), desired.Description))
		}
	}

	// In check mode a missing group was never created; reconcile against an
	// empty synthetic state so the rest of the plan is still reported.
	if group == nil {
		group = &ec2types.SecurityGroup{
			GroupName: aws.String(desired.Name),
		}
		if desired.VpcID != "" {
			group.VpcId = aws.String(desired.VpcID)
		}
	}

	if err := r.reconcileRules(ctx, desired, group, index, result, created, opts); err != nil {
		return nil, err
	}
	if err := r.reconcileTags(ctx, desired, group, result, opts); err != nil {
		return nil, err
	}

	log.WithField("changed", result.Changed).Info("group reconciled")
	return result, nil
}

// describeAll loads every visible security group into an index and derives
// the local account id from the listing.
func (r *GroupReconciler) describeAll(ctx context.Context) (*GroupIndex, string, error) {
	index := NewGroupIndex(nil)
	ownerID := ""

	var token *string
	for {
		out, err := r.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			NextToken: token,
		})
		if err != nil {
			return nil, "", classify("DescribeSecurityGroups", err)
		}
		for _, g := range out.SecurityGroups {
			index.Add(g)
			if ownerID == "" {
				ownerID = aws.ToString(g.OwnerId)
			}
		}
		if out.NextToken == nil {
			break
		}
		token = out.NextToken
	}
	return index, ownerID, nil
}

// findGroup locates the reconciled group by id or by name. A bare name with
// no VPC that matches groups in several VPCs is ambiguous and rejected.
func (r *GroupReconciler) findGroup(index *GroupIndex, desired GroupDesired) (*ec2types.SecurityGroup, error) {
	if desired.GroupID != "" {
		if g, ok := index.ByID(desired.GroupID); ok {
			return &g, nil
		}
		return nil, nil
	}
	if desired.VpcID != "" {
		if g, ok := index.ByName(desired.Name, desired.VpcID); ok {
			return &g, nil
		}
		return nil, nil
	}

	matches := index.ByNameAny(desired.Name)
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return &matches[0], nil
	default:
		return nil, NewPermanentError(
			fmt.Sprintf("group name %q matches %d groups across VPCs, specify vpc_id", desired.Name, len(matches)), nil).
			WithCode(ErrCodeValidation).
			WithResource(desired.Name)
	}
}

func (r *GroupReconciler) reconcileAbsent(ctx context.Context, group *ec2types.SecurityGroup, result *GroupResult, opts ReconcileOptions) (*GroupResult, error) {
	result.Absent = true
	if group == nil {
		return result, nil
	}

	groupID := aws.ToString(group.GroupId)
	result.GroupID = groupID
	result.Changed = true
	result.Actions = append(result.Actions, Action{Type: ActionDeleteGroup, Resource: groupID})

	if opts.CheckMode {
		return result, nil
	}
	if _, err := r.api.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{
		GroupId: aws.String(groupID),
	}); err != nil {
		return nil, classify("DeleteSecurityGroup", err).WithResource(groupID)
	}
	return result, nil
}

// createGroup creates the reconciled group itself and waits for it to become
// visible. In check mode it only records the action and returns nil.
func (r *GroupReconciler) createGroup(ctx context.Context, desired GroupDesired, index *GroupIndex, result *GroupResult, opts ReconcileOptions) (*ec2types.SecurityGroup, error) {
	if desired.Description == "" {
		return nil, NewPermanentError(
			fmt.Sprintf("group %q does not exist and cannot be created without a description", desired.Name), nil).
			WithCode(ErrCodeValidation).
			WithResource(desired.Name)
	}

	result.Actions = append(result.Actions, Action{
		Type:     ActionCreateGroup,
		Resource: desired.Name,
		Detail:   fmt.Sprintf("create group %q in vpc %q", desired.Name, desired.VpcID),
	})
	if opts.CheckMode {
		return nil, nil
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:   aws.String(desired.Name),
		Description: aws.String(desired.Description),
	}
	if desired.VpcID != "" {
		input.VpcId = aws.String(desired.VpcID)
	}
	out, err := r.api.CreateSecurityGroup(ctx, input)
	if err != nil {
		return nil, classify("CreateSecurityGroup", err).WithResource(desired.Name)
	}

	group, err := r.waiter.WaitForGroup(ctx, aws.ToString(out.GroupId))
	if err != nil {
		return nil, err
	}
	index.Add(*group)
	result.GroupID = aws.ToString(group.GroupId)
	result.VpcID = aws.ToString(group.VpcId)
	if result.OwnerID == "" {
		result.OwnerID = aws.ToString(group.OwnerId)
	}
	return group, nil
}

// reconcileRules converges both rule sets of the group.
func (r *GroupReconciler) reconcileRules(ctx context.Context, desired GroupDesired, group *ec2types.SecurityGroup, index *GroupIndex, result *GroupResult, created bool, opts ReconcileOptions) error {
	groupID := aws.ToString(group.GroupId)
	vpcID := aws.ToString(group.VpcId)
	ownerID := result.OwnerID

	normIn, err := rules.Normalize(desired.Rules)
	if err != nil {
		return err
	}
	egressSpecs := desired.RulesEgress
	egressSpecified := desired.RulesEgress != nil
	normOut, err := rules.Normalize(egressSpecs)
	if err != nil {
		return err
	}
	if normIn != nil {
		result.Warnings = append(result.Warnings, normIn.Warnings...)
	}
	if normOut != nil {
		result.Warnings = append(result.Warnings, normOut.Warnings...)
	}

	rctx := ResolveContext{
		OwnerID:   ownerID,
		GroupName: desired.Name,
		GroupID:   groupID,
		VpcID:     vpcID,
		Index:     index,
	}

	resIn, err := Resolve(specsOf(normIn), rctx)
	if err != nil {
		return err
	}
	resOut, err := Resolve(specsOf(normOut), rctx)
	if err != nil {
		return err
	}

	if err := r.createMissing(ctx, mergeStubs(resIn.Missing, resOut.Missing), index, result, opts); err != nil {
		return err
	}
	// Re-resolve once referenced groups exist so every rule carries an id.
	if !opts.CheckMode && (len(resIn.Missing) > 0 || len(resOut.Missing) > 0 || groupID == "") {
		if resIn, err = Resolve(specsOf(normIn), rctx); err != nil {
			return err
		}
		if resOut, err = Resolve(specsOf(normOut), rctx); err != nil {
			return err
		}
	}

	desiredIn := resIn.Rules
	desiredOut := resOut.Rules

	// A VPC group with no egress specified keeps the provider default
	// allow-all rule; purging strays is disabled in that case.
	purgeIn := desired.PurgeRules
	purgeOut := desired.PurgeRulesEgress && egressSpecified
	if !egressSpecified && vpcID != "" {
		desiredOut = append(desiredOut, defaultEgressRule())
	}

	currentIn := rules.FromPermissions(group.IpPermissions, ownerID)
	currentOut := rules.FromPermissions(group.IpPermissionsEgress, ownerID)

	diffIn := rules.Compute(desiredIn, currentIn, purgeIn)
	diffOut := rules.Compute(desiredOut, currentOut, purgeOut)

	if err := r.applyRuleDiff(ctx, groupID, DirectionIngress, diffIn, result, opts); err != nil {
		return err
	}
	if err := r.applyRuleDiff(ctx, groupID, DirectionEgress, diffOut, result, opts); err != nil {
		return err
	}

	mutated := !diffIn.Empty() || !diffOut.Empty()
	if mutated {
		result.Changed = true
	}

	switch {
	case opts.CheckMode:
		result.IngressRules = desiredIn
		result.EgressRules = desiredOut
	case mutated || created:
		final, err := r.waiter.Wait(ctx, groupID, ownerID, desiredIn, desiredOut, purgeIn, purgeOut)
		if err != nil {
			return err
		}
		*group = *final
		result.IngressRules = rules.FromPermissions(final.IpPermissions, ownerID)
		result.EgressRules = rules.FromPermissions(final.IpPermissionsEgress, ownerID)
	default:
		result.IngressRules = currentIn
		result.EgressRules = currentOut
	}
	return nil
}

// createMissing creates groups that rules reference by name but that do not
// exist. Each is an explicit action so check mode reports it.
func (r *GroupReconciler) createMissing(ctx context.Context, stubs []GroupStub, index *GroupIndex, result *GroupResult, opts ReconcileOptions) error {
	for _, stub := range stubs {
		result.Changed = true
		result.Actions = append(result.Actions, Action{
			Type:     ActionCreateGroup,
			Resource: stub.Name,
			Detail:   fmt.Sprintf("create referenced group %q in vpc %q", stub.Name, stub.VpcID),
		})
		if opts.CheckMode {
			continue
		}

		input := &ec2.CreateSecurityGroupInput{
			GroupName:   aws.String(stub.Name),
			Description: aws.String(stub.Description),
		}
		if stub.VpcID != "" {
			input.VpcId = aws.String(stub.VpcID)
		}
		out, err := r.api.CreateSecurityGroup(ctx, input)
		if err != nil {
			return classify("CreateSecurityGroup", err).WithResource(stub.Name)
		}
		created, err := r.waiter.WaitForGroup(ctx, aws.ToString(out.GroupId))
		if err != nil {
			return err
		}
		index.Add(*created)
		r.log.WithField("group_id", aws.ToString(created.GroupId)).
			Infof("created referenced group %q", stub.Name)
	}
	return nil
}

// applyRuleDiff submits one direction's authorize, revoke, and description
// updates, recording an action per call.
func (r *GroupReconciler) applyRuleDiff(ctx context.Context, groupID string, dir Direction, diff rules.Diff, result *GroupResult, opts ReconcileOptions) error {
	if len(diff.Authorize) > 0 {
		result.Actions = append(result.Actions, Action{
			Type: ActionAuthorize, Resource: groupID, Direction: dir,
			Detail: summarizeRules(diff.Authorize), Count: len(diff.Authorize),
		})
		if !opts.CheckMode {
			if err := r.authorize(ctx, groupID, dir, diff.Authorize); err != nil {
				return err
			}
		}
	}
	if len(diff.Revoke) > 0 {
		result.Actions = append(result.Actions, Action{
			Type: ActionRevoke, Resource: groupID, Direction: dir,
			Detail: summarizeRules(diff.Revoke), Count: len(diff.Revoke),
		})
		if !opts.CheckMode {
			if err := r.revoke(ctx, groupID, dir, diff.Revoke); err != nil {
				return err
			}
		}
	}
	if len(diff.UpdateDescriptions) > 0 {
		result.Actions = append(result.Actions, Action{
			Type: ActionUpdateDescriptions, Resource: groupID, Direction: dir,
			Count: len(diff.UpdateDescriptions),
		})
		result.Changed = true
		if !opts.CheckMode {
			if err := r.updateDescriptions(ctx, groupID, dir, diff.UpdateDescriptions); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *GroupReconciler) authorize(ctx context.Context, groupID string, dir Direction, rs []rules.Rule) error {
	perms := rules.ToPermissions(rs)
	if dir == DirectionIngress {
		_, err := r.api.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId: aws.String(groupID), IpPermissions: perms,
		})
		if err != nil {
			return classify("AuthorizeSecurityGroupIngress", err).WithResource(groupID)
		}
		return nil
	}
	_, err := r.api.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
		GroupId: aws.String(groupID), IpPermissions: perms,
	})
	if err != nil {
		return classify("AuthorizeSecurityGroupEgress", err).WithResource(groupID)
	}
	return nil
}

func (r *GroupReconciler) revoke(ctx context.Context, groupID string, dir Direction, rs []rules.Rule) error {
	perms := rules.ToPermissions(rs)
	if dir == DirectionIngress {
		_, err := r.api.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId: aws.String(groupID), IpPermissions: perms,
		})
		if err != nil {
			return classify("RevokeSecurityGroupIngress", err).WithResource(groupID)
		}
		return nil
	}
	_, err := r.api.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
		GroupId: aws.String(groupID), IpPermissions: perms,
	})
	if err != nil {
		return classify("RevokeSecurityGroupEgress", err).WithResource(groupID)
	}
	return nil
}

func (r *GroupReconciler) updateDescriptions(ctx context.Context, groupID string, dir Direction, rs []rules.Rule) error {
	perms := rules.ToPermissions(rs)
	if dir == DirectionIngress {
		_, err := r.api.UpdateSecurityGroupRuleDescriptionsIngress(ctx, &ec2.UpdateSecurityGroupRuleDescriptionsIngressInput{
			GroupId: aws.String(groupID), IpPermissions: perms,
		})
		if err != nil {
			return classify("UpdateSecurityGroupRuleDescriptionsIngress", err).WithResource(groupID)
		}
		return nil
	}
	_, err := r.api.UpdateSecurityGroupRuleDescriptionsEgress(ctx, &ec2.UpdateSecurityGroupRuleDescriptionsEgressInput{
		GroupId: aws.String(groupID), IpPermissions: perms,
	})
	if err != nil {
		return classify("UpdateSecurityGroupRuleDescriptionsEgress", err).WithResource(groupID)
	}
	return nil
}

// reconcileTags converges the tag set of the group.
func (r *GroupReconciler) reconcileTags(ctx context.Context, desired GroupDesired, group *ec2types.SecurityGroup, result *GroupResult, opts ReconcileOptions) error {
	groupID := aws.ToString(group.GroupId)
	current := TagsFromEC2(group.Tags)

	toSet, toRemove := DiffTags(desired.Tags, current, desired.PurgeTags)
	if len(toSet) == 0 && len(toRemove) == 0 {
		result.Tags = current
		return nil
	}
	result.Changed = true

	if len(toSet) > 0 {
		result.Actions = append(result.Actions, Action{
			Type: ActionTag, Resource: groupID, Count: len(toSet),
		})
		if !opts.CheckMode {
			_, err := r.api.CreateTags(ctx, &ec2.CreateTagsInput{
				Resources: []string{groupID},
				Tags:      TagsToEC2(toSet),
			})
			if err != nil {
				return classify("CreateTags", err).WithResource(groupID)
			}
		}
	}
	if len(toRemove) > 0 {
		result.Actions = append(result.Actions, Action{
			Type: ActionUntag, Resource: groupID, Count: len(toRemove),
		})
		if !opts.CheckMode {
			tags := make([]ec2types.Tag, 0, len(toRemove))
			for _, k := range toRemove {
				tags = append(tags, ec2types.Tag{Key: aws.String(k)})
			}
			_, err := r.api.DeleteTags(ctx, &ec2.DeleteTagsInput{
				Resources: []string{groupID},
				Tags:      tags,
			})
			if err != nil {
				return classify("DeleteTags", err).WithResource(groupID)
			}
		}
	}

	final := make(map[string]string, len(current)+len(toSet))
	for k, v := range current {
		final[k] = v
	}
	for k, v := range toSet {
		final[k] = v
	}
	for _, k := range toRemove {
		delete(final, k)
	}
	result.Tags = final
	return nil
}

// defaultEgressRule is the VPC default allow-all outbound rule.
func defaultEgressRule() rules.Rule {
	return rules.Rule{
		Protocol:   rules.ProtocolAll,
		TargetType: rules.TargetIPv4,
		Target:     "0.0.0.0/0",
	}
}

func specsOf(n *rules.NormalizeResult) []rules.Spec {
	if n == nil {
		return nil
	}
	return n.Specs
}

func mergeStubs(a, b []GroupStub) []GroupStub {
	seen := make(map[string]bool, len(a))
	out := make([]GroupStub, 0, len(a)+len(b))
	for _, s := range append(a, b...) {
		if !seen[s.Name] {
			seen[s.Name] = true
			out = append(out, s)
		}
	}
	return out
}

func summarizeRules(rs []rules.Rule) string {
	if len(rs) == 1 {
		return rs[0].Key()
	}
	return fmt.Sprintf("%s and %d more", rs[0].Key(), len(rs)-1)
}
