package ec2api

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/cenkalti/backoff/v4"

	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

const (
	defaultMaxRetries = 4
	initialInterval   = 500 * time.Millisecond
	maxInterval       = 20 * time.Second
)

// settings is the shared retry state of the service wrappers.
type settings struct {
	service    string
	log        *telemetry.Logger
	metrics    *telemetry.Metrics
	maxRetries uint64
	timeout    time.Duration
	interval   time.Duration
}

func newSettings(service string, cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) settings {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	return settings{
		service:    service,
		log:        log.NewComponentLogger(service + "-client"),
		metrics:    metrics,
		maxRetries: maxRetries,
		timeout:    cfg.Timeout,
		interval:   initialInterval,
	}
}

// call runs one API operation under the retry policy. Transient and
// throttled failures are retried with exponential backoff; everything else
// is returned classified. Conflicts are not retried here: a duplicate-rule
// submission will not resolve itself, the reconciler decides what it means.
func call[T any](ctx context.Context, s *settings, operation string, fn func(context.Context) (T, error)) (T, error) {
	var out T

	attempt := 0
	op := func() error {
		attempt++
		cctx := ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		timer := telemetry.NewTimer()
		res, err := fn(cctx)
		s.metrics.RecordAPICall(s.service, operation, timer.Duration())
		if err == nil {
			out = res
			return nil
		}

		s.metrics.RecordAPIError(s.service, operation)
		cerr := engine.ClassifyAWS(operation, err)
		s.metrics.RecordError(string(cerr.Class), cerr.Code)

		if engine.IsTransient(cerr) || engine.IsThrottled(cerr) {
			s.log.WithError(cerr).
				Debugf("%s failed (attempt %d), retrying", operation, attempt)
			return cerr
		}
		return backoff.Permanent(cerr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.interval
	bo.MaxInterval = maxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx)

	if err := backoff.Retry(op, policy); err != nil {
		return out, err
	}
	return out, nil
}

// Retryer wraps an EC2 client with the retry policy. It satisfies
// engine.EC2API, so the engine cannot tell it apart from the raw client.
type Retryer struct {
	api      engine.EC2API
	settings settings
}

// NewRetryer wraps an EC2 client.
func NewRetryer(api engine.EC2API, cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) *Retryer {
	return &Retryer{api: api, settings: newSettings("ec2", cfg, log, metrics)}
}

func (r *Retryer) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	return call(ctx, &r.settings, "DescribeSecurityGroups", func(ctx context.Context) (*ec2.DescribeSecurityGroupsOutput, error) {
		return r.api.DescribeSecurityGroups(ctx, params, optFns...)
	})
}

func (r *Retryer) CreateSecurityGroup(ctx context.Context, params *ec2.CreateSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.CreateSecurityGroupOutput, error) {
	return call(ctx, &r.settings, "CreateSecurityGroup", func(ctx context.Context) (*ec2.CreateSecurityGroupOutput, error) {
		return r.api.CreateSecurityGroup(ctx, params, optFns...)
	})
}

func (r *Retryer) DeleteSecurityGroup(ctx context.Context, params *ec2.DeleteSecurityGroupInput, optFns ...func(*ec2.Options)) (*ec2.DeleteSecurityGroupOutput, error) {
	return call(ctx, &r.settings, "DeleteSecurityGroup", func(ctx context.Context) (*ec2.DeleteSecurityGroupOutput, error) {
		return r.api.DeleteSecurityGroup(ctx, params, optFns...)
	})
}

func (r *Retryer) AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
	return call(ctx, &r.settings, "AuthorizeSecurityGroupIngress", func(ctx context.Context) (*ec2.AuthorizeSecurityGroupIngressOutput, error) {
		return r.api.AuthorizeSecurityGroupIngress(ctx, params, optFns...)
	})
}

func (r *Retryer) AuthorizeSecurityGroupEgress(ctx context.Context, params *ec2.AuthorizeSecurityGroupEgressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupEgressOutput, error) {
	return call(ctx, &r.settings, "AuthorizeSecurityGroupEgress", func(ctx context.Context) (*ec2.AuthorizeSecurityGroupEgressOutput, error) {
		return r.api.AuthorizeSecurityGroupEgress(ctx, params, optFns...)
	})
}

func (r *Retryer) RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error) {
	return call(ctx, &r.settings, "RevokeSecurityGroupIngress", func(ctx context.Context) (*ec2.RevokeSecurityGroupIngressOutput, error) {
		return r.api.RevokeSecurityGroupIngress(ctx, params, optFns...)
	})
}

func (r *Retryer) RevokeSecurityGroupEgress(ctx context.Context, params *ec2.RevokeSecurityGroupEgressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupEgressOutput, error) {
	return call(ctx, &r.settings, "RevokeSecurityGroupEgress", func(ctx context.Context) (*ec2.RevokeSecurityGroupEgressOutput, error) {
		return r.api.RevokeSecurityGroupEgress(ctx, params, optFns...)
	})
}

func (r *Retryer) UpdateSecurityGroupRuleDescriptionsIngress(ctx context.Context, params *ec2.UpdateSecurityGroupRuleDescriptionsIngressInput, optFns ...func(*ec2.Options)) (*ec2.UpdateSecurityGroupRuleDescriptionsIngressOutput, error) {
	return call(ctx, &r.settings, "UpdateSecurityGroupRuleDescriptionsIngress", func(ctx context.Context) (*ec2.UpdateSecurityGroupRuleDescriptionsIngressOutput, error) {
		return r.api.UpdateSecurityGroupRuleDescriptionsIngress(ctx, params, optFns...)
	})
}

func (r *Retryer) UpdateSecurityGroupRuleDescriptionsEgress(ctx context.Context, params *ec2.UpdateSecurityGroupRuleDescriptionsEgressInput, optFns ...func(*ec2.Options)) (*ec2.UpdateSecurityGroupRuleDescriptionsEgressOutput, error) {
	return call(ctx, &r.settings, "UpdateSecurityGroupRuleDescriptionsEgress", func(ctx context.Context) (*ec2.UpdateSecurityGroupRuleDescriptionsEgressOutput, error) {
		return r.api.UpdateSecurityGroupRuleDescriptionsEgress(ctx, params, optFns...)
	})
}

func (r *Retryer) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	return call(ctx, &r.settings, "CreateTags", func(ctx context.Context) (*ec2.CreateTagsOutput, error) {
		return r.api.CreateTags(ctx, params, optFns...)
	})
}

func (r *Retryer) DeleteTags(ctx context.Context, params *ec2.DeleteTagsInput, optFns ...func(*ec2.Options)) (*ec2.DeleteTagsOutput, error) {
	return call(ctx, &r.settings, "DeleteTags", func(ctx context.Context) (*ec2.DeleteTagsOutput, error) {
		return r.api.DeleteTags(ctx, params, optFns...)
	})
}

func (r *Retryer) DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	return call(ctx, &r.settings, "DescribeVpcs", func(ctx context.Context) (*ec2.DescribeVpcsOutput, error) {
		return r.api.DescribeVpcs(ctx, params, optFns...)
	})
}

func (r *Retryer) DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	return call(ctx, &r.settings, "DescribeSubnets", func(ctx context.Context) (*ec2.DescribeSubnetsOutput, error) {
		return r.api.DescribeSubnets(ctx, params, optFns...)
	})
}

func (r *Retryer) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return call(ctx, &r.settings, "DescribeInstances", func(ctx context.Context) (*ec2.DescribeInstancesOutput, error) {
		return r.api.DescribeInstances(ctx, params, optFns...)
	})
}

func (r *Retryer) DescribeInstanceAttribute(ctx context.Context, params *ec2.DescribeInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error) {
	return call(ctx, &r.settings, "DescribeInstanceAttribute", func(ctx context.Context) (*ec2.DescribeInstanceAttributeOutput, error) {
		return r.api.DescribeInstanceAttribute(ctx, params, optFns...)
	})
}

func (r *Retryer) ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	return call(ctx, &r.settings, "ModifyInstanceAttribute", func(ctx context.Context) (*ec2.ModifyInstanceAttributeOutput, error) {
		return r.api.ModifyInstanceAttribute(ctx, params, optFns...)
	})
}

func (r *Retryer) RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	return call(ctx, &r.settings, "RunInstances", func(ctx context.Context) (*ec2.RunInstancesOutput, error) {
		return r.api.RunInstances(ctx, params, optFns...)
	})
}

func (r *Retryer) StartInstances(ctx context.Context, params *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	return call(ctx, &r.settings, "StartInstances", func(ctx context.Context) (*ec2.StartInstancesOutput, error) {
		return r.api.StartInstances(ctx, params, optFns...)
	})
}

func (r *Retryer) StopInstances(ctx context.Context, params *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	return call(ctx, &r.settings, "StopInstances", func(ctx context.Context) (*ec2.StopInstancesOutput, error) {
		return r.api.StopInstances(ctx, params, optFns...)
	})
}

func (r *Retryer) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	return call(ctx, &r.settings, "TerminateInstances", func(ctx context.Context) (*ec2.TerminateInstancesOutput, error) {
		return r.api.TerminateInstances(ctx, params, optFns...)
	})
}

// IAMRetryer wraps an IAM client with the same retry policy. It satisfies
// engine.IAMAPI.
type IAMRetryer struct {
	api      engine.IAMAPI
	settings settings
}

// NewIAMRetryer wraps an IAM client.
func NewIAMRetryer(api engine.IAMAPI, cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) *IAMRetryer {
	return &IAMRetryer{api: api, settings: newSettings("iam", cfg, log, metrics)}
}

func (r *IAMRetryer) GetInstanceProfile(ctx context.Context, params *iam.GetInstanceProfileInput, optFns ...func(*iam.Options)) (*iam.GetInstanceProfileOutput, error) {
	return call(ctx, &r.settings, "GetInstanceProfile", func(ctx context.Context) (*iam.GetInstanceProfileOutput, error) {
		return r.api.GetInstanceProfile(ctx, params, optFns...)
	})
}
