// Package ec2api builds the AWS clients the engine runs against and wraps
// them with classified retry, logging, and call metrics. The engine only
// sees the engine.EC2API and engine.IAMAPI interfaces; this package is the
// single place real SDK clients are constructed.
package ec2api

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"

	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

// Config selects the AWS account and region to operate in.
type Config struct {
	// Region is the AWS region. Empty falls back to the SDK's resolution
	// chain (env, shared config, IMDS).
	Region string

	// Profile is the shared-config profile to use.
	Profile string

	// EndpointURL overrides the service endpoint, for localstack and tests.
	EndpointURL string

	// MaxRetries bounds the retry attempts per call. Zero uses the default.
	MaxRetries uint64

	// Timeout bounds each individual API call. Zero disables it.
	Timeout time.Duration
}

// Clients bundles the wrapped service clients the reconcilers need.
type Clients struct {
	// EC2 is the retry-wrapped EC2 client.
	EC2 engine.EC2API

	// IAM is the retry-wrapped IAM client.
	IAM engine.IAMAPI
}

// New resolves AWS credentials and builds wrapped clients. The SDK's own
// retryer is disabled: retry decisions belong to the wrapper, which
// understands the engine's error classes.
func New(ctx context.Context, cfg Config, log *telemetry.Logger, metrics *telemetry.Metrics) (*Clients, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, engine.NewPermanentError("loading AWS configuration", err).
			WithCode(engine.ErrCodeValidation)
	}

	var ec2Opts []func(*ec2.Options)
	var iamOpts []func(*iam.Options)
	if cfg.EndpointURL != "" {
		ec2Opts = append(ec2Opts, func(o *ec2.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
		iamOpts = append(iamOpts, func(o *iam.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &Clients{
		EC2: NewRetryer(ec2.NewFromConfig(awsCfg, ec2Opts...), cfg, log, metrics),
		IAM: NewIAMRetryer(iam.NewFromConfig(awsCfg, iamOpts...), cfg, log, metrics),
	}, nil
}
