package ec2api

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/smithy-go"

	"github.com/cloudverge/cloudverge/pkg/engine"
	"github.com/cloudverge/cloudverge/pkg/telemetry"
)

// flakyEC2 fails DescribeSecurityGroups a fixed number of times before
// succeeding. Only the methods a test touches are given behavior; the rest
// come from the embedded zero interface and must not be called.
type flakyEC2 struct {
	engine.EC2API

	failures int
	failWith error
	calls    int
}

func (f *flakyEC2) DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failWith
	}
	return &ec2.DescribeSecurityGroupsOutput{}, nil
}

func testSettings(t *testing.T) (*telemetry.Logger, *telemetry.Metrics) {
	t.Helper()
	log, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("creating test logger: %v", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("creating test metrics: %v", err)
	}
	return log, metrics
}

func newTestRetryer(api engine.EC2API, log *telemetry.Logger, metrics *telemetry.Metrics) *Retryer {
	r := NewRetryer(api, Config{}, log, metrics)
	r.settings.interval = time.Millisecond
	return r
}

func TestRetryerRetriesThrottling(t *testing.T) {
	log, metrics := testSettings(t)
	fake := &flakyEC2{
		failures: 2,
		failWith: &smithy.GenericAPIError{Code: "RequestLimitExceeded", Message: "slow down"},
	}
	r := newTestRetryer(fake, log, metrics)

	_, err := r.DescribeSecurityGroups(context.Background(), &ec2.DescribeSecurityGroupsInput{})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", fake.calls)
	}
}

func TestRetryerDoesNotRetryPermanent(t *testing.T) {
	log, metrics := testSettings(t)
	fake := &flakyEC2{
		failures: 10,
		failWith: &smithy.GenericAPIError{Code: "UnauthorizedOperation", Message: "nope"},
	}
	r := newTestRetryer(fake, log, metrics)

	_, err := r.DescribeSecurityGroups(context.Background(), &ec2.DescribeSecurityGroupsInput{})
	if err == nil {
		t.Fatal("expected a permanent error")
	}
	if fake.calls != 1 {
		t.Errorf("permanent errors must not retry, got %d attempts", fake.calls)
	}
	if !engine.IsPermanent(err) {
		t.Errorf("expected classified permanent error, got %v", err)
	}
}

func TestRetryerDoesNotRetryConflict(t *testing.T) {
	log, metrics := testSettings(t)
	fake := &flakyEC2{
		failures: 10,
		failWith: &smithy.GenericAPIError{Code: "InvalidPermission.Duplicate", Message: "already there"},
	}
	r := newTestRetryer(fake, log, metrics)

	_, err := r.DescribeSecurityGroups(context.Background(), &ec2.DescribeSecurityGroupsInput{})
	if err == nil {
		t.Fatal("expected a conflict error")
	}
	if fake.calls != 1 {
		t.Errorf("conflicts must surface without retry, got %d attempts", fake.calls)
	}
	if !engine.IsConflict(err) {
		t.Errorf("expected classified conflict, got %v", err)
	}
}

func TestRetryerExhaustsBudget(t *testing.T) {
	log, metrics := testSettings(t)
	fake := &flakyEC2{
		failures: 100,
		failWith: &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"},
	}
	r := newTestRetryer(fake, log, metrics)

	_, err := r.DescribeSecurityGroups(context.Background(), &ec2.DescribeSecurityGroupsInput{})
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !engine.IsThrottled(err) {
		t.Errorf("expected throttled error, got %v", err)
	}
	// maxRetries retries plus the initial attempt.
	if fake.calls != defaultMaxRetries+1 {
		t.Errorf("expected %d attempts, got %d", defaultMaxRetries+1, fake.calls)
	}
}

func TestRetryerHonorsContext(t *testing.T) {
	log, metrics := testSettings(t)
	fake := &flakyEC2{
		failures: 100,
		failWith: &smithy.GenericAPIError{Code: "Throttling", Message: "slow down"},
	}
	r := newTestRetryer(fake, log, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{}); err == nil {
		t.Fatal("expected error with canceled context")
	}
	if fake.calls > 2 {
		t.Errorf("canceled context should stop retries, got %d attempts", fake.calls)
	}
}
