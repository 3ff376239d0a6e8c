package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cenkalti/backoff/v4"

	"github.com/cloudverge/cloudverge/pkg/rules"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

const (
	defaultWaitTries    = 6
	defaultWaitInterval = 2 * time.Second
)

// RuleWaiter polls a security group after mutating calls until the remote
// rule sets reflect what was submitted. Rule changes propagate with a lag,
// so a read issued immediately after a write can miss them.
type RuleWaiter struct {
	api      EC2API
	log      *telemetry.Logger
	maxTries uint64
	interval time.Duration
}

// NewRuleWaiter creates a waiter with default polling parameters.
func NewRuleWaiter(api EC2API, log *telemetry.Logger) *RuleWaiter {
	return &RuleWaiter{
		api:      api,
		log:      log.NewComponentLogger("rule-waiter"),
		maxTries: defaultWaitTries,
		interval: defaultWaitInterval,
	}
}

// Wait polls until both rule sets of the group converge, returning the final
// remote state. With purge the remote set must equal the desired set; without
// it, the remote set must contain the desired set. A group that never
// converges within the retry budget is reported with the differing rule keys.
func (w *RuleWaiter) Wait(ctx context.Context, groupID, ownerID string,
	ingress, egress []rules.Rule, purgeIngress, purgeEgress bool) (*ec2types.SecurityGroup, error) {

	var group *ec2types.SecurityGroup
	var lastDiff []string

	operation := func() error {
		out, err := w.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			GroupIds: []string{groupID},
		})
		if err != nil {
			cerr := ClassifyAWS("DescribeSecurityGroups", err)
			if IsRetryable(cerr) {
				return cerr
			}
			return backoff.Permanent(cerr)
		}
		if len(out.SecurityGroups) != 1 {
			return NewTransientError(fmt.Sprintf("group %s not visible yet", groupID), nil)
		}
		g := out.SecurityGroups[0]

		remoteIn := rules.FromPermissions(g.IpPermissions, ownerID)
		remoteOut := rules.FromPermissions(g.IpPermissionsEgress, ownerID)

		var diff []string
		if !converged(ingress, remoteIn, purgeIngress) {
			diff = append(diff, rules.SymmetricDifference(ingress, remoteIn)...)
		}
		if !converged(egress, remoteOut, purgeEgress) {
			diff = append(diff, rules.SymmetricDifference(egress, remoteOut)...)
		}
		if len(diff) > 0 {
			lastDiff = diff
			w.log.WithField("group_id", groupID).
				Debugf("rules not yet propagated, %d keys differ", len(diff))
			return NewTransientError("rules not yet propagated", nil)
		}

		group = &g
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), w.maxTries-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if len(lastDiff) > 0 {
			return nil, NewPermanentError(
				fmt.Sprintf("group %s rules failed to converge after %d tries, differing: %s",
					groupID, w.maxTries, strings.Join(lastDiff, ", ")), err).
				WithResource(groupID).
				WithCode(ErrCodeTimeout)
		}
		return nil, err
	}
	return group, nil
}

// WaitForGroup polls until a freshly created group is visible by id and
// returns it. Creation is subject to the same propagation lag as rules.
func (w *RuleWaiter) WaitForGroup(ctx context.Context, groupID string) (*ec2types.SecurityGroup, error) {
	var group *ec2types.SecurityGroup

	operation := func() error {
		out, err := w.api.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
			GroupIds: []string{groupID},
		})
		if err != nil {
			cerr := ClassifyAWS("DescribeSecurityGroups", err)
			// A not-found right after creation is the propagation race,
			// not a real absence.
			if IsRetryable(cerr) || IsNotFound(cerr) {
				return cerr
			}
			return backoff.Permanent(cerr)
		}
		if len(out.SecurityGroups) != 1 {
			return NewTransientError(fmt.Sprintf("group %s not visible yet", groupID), nil)
		}
		group = &out.SecurityGroups[0]
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackOff(), w.maxTries-1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, NewTransientError(
			fmt.Sprintf("group %s did not become visible after creation", groupID), err).
			WithResource(groupID).
			WithCode(ErrCodeTimeout)
	}
	return group, nil
}

func (w *RuleWaiter) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.interval
	bo.MaxInterval = 30 * time.Second
	return bo
}

func converged(desired, remote []rules.Rule, purge bool) bool {
	if purge {
		return rules.SetEqual(desired, remote)
	}
	return rules.Superset(remote, desired)
}
