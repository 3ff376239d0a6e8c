package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudverge/cloudverge/pkg/rules"
)

func testWaiter(t *testing.T, api EC2API) *RuleWaiter {
	t.Helper()
	w := NewRuleWaiter(api, testLogger(t))
	w.maxTries = 3
	w.interval = time.Millisecond
	return w
}

func TestWaiterReturnsConvergedGroup(t *testing.T) {
	fake := newFakeEC2()
	desired := []rules.Rule{{
		Protocol: "tcp", FromPort: rules.Int32(443), ToPort: rules.Int32(443),
		TargetType: rules.TargetIPv4, Target: "0.0.0.0/0",
	}}
	g := fake.addGroup("sg-fake0001", "web", "web servers", "vpc-1", nil)
	g.IpPermissions = rules.ToPermissions(desired)

	group, err := testWaiter(t, fake).Wait(context.Background(), "sg-fake0001", fakeOwnerID,
		desired, nil, true, false)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if group == nil || *group.GroupId != "sg-fake0001" {
		t.Fatalf("unexpected group: %+v", group)
	}
}

func TestWaiterTimeoutReportsDifference(t *testing.T) {
	fake := newFakeEC2()
	fake.addGroup("sg-fake0001", "web", "web servers", "vpc-1", nil)

	desired := []rules.Rule{{
		Protocol: "tcp", FromPort: rules.Int32(443), ToPort: rules.Int32(443),
		TargetType: rules.TargetIPv4, Target: "0.0.0.0/0",
	}}

	_, err := testWaiter(t, fake).Wait(context.Background(), "sg-fake0001", fakeOwnerID,
		desired, nil, true, false)
	if err == nil {
		t.Fatal("expected an error when rules never propagate")
	}

	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected an EngineError, got %T", err)
	}
	if engErr.Code != ErrCodeTimeout {
		t.Errorf("expected code %s, got %s", ErrCodeTimeout, engErr.Code)
	}
	if engErr.Resource != "sg-fake0001" {
		t.Errorf("expected resource sg-fake0001, got %q", engErr.Resource)
	}
	if !strings.Contains(err.Error(), desired[0].Key()) {
		t.Errorf("error should name the differing rule key %q: %v", desired[0].Key(), err)
	}
	if !IsPermanent(err) {
		t.Errorf("exhausted wait should be permanent: %v", err)
	}
}

func TestWaiterWithoutPurgeToleratesStrays(t *testing.T) {
	fake := newFakeEC2()
	desired := []rules.Rule{{
		Protocol: "tcp", FromPort: rules.Int32(443), ToPort: rules.Int32(443),
		TargetType: rules.TargetIPv4, Target: "0.0.0.0/0",
	}}
	stray := rules.Rule{
		Protocol: "tcp", FromPort: rules.Int32(22), ToPort: rules.Int32(22),
		TargetType: rules.TargetIPv4, Target: "10.0.0.0/8",
	}
	g := fake.addGroup("sg-fake0001", "web", "web servers", "vpc-1", nil)
	g.IpPermissions = rules.ToPermissions(append(desired, stray))

	if _, err := testWaiter(t, fake).Wait(context.Background(), "sg-fake0001", fakeOwnerID,
		desired, nil, false, false); err != nil {
		t.Fatalf("superset must satisfy a no-purge wait: %v", err)
	}
}

func TestWaitForGroupNotVisible(t *testing.T) {
	fake := newFakeEC2()

	_, err := testWaiter(t, fake).WaitForGroup(context.Background(), "sg-gone")
	if err == nil {
		t.Fatal("expected an error for a group that never appears")
	}
	var engErr *EngineError
	if !errors.As(err, &engErr) || engErr.Code != ErrCodeTimeout {
		t.Fatalf("expected a timeout-coded error, got %v", err)
	}
}
