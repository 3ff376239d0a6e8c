package engine

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloudverge/cloudverge/pkg/rules"
)

func testIndex() *GroupIndex {
	return NewGroupIndex([]ec2types.SecurityGroup{
		{
			GroupId:   aws.String("sg-db000001"),
			GroupName: aws.String("database"),
			VpcId:     aws.String("vpc-1"),
			OwnerId:   aws.String(fakeOwnerID),
		},
		{
			GroupId:   aws.String("sg-db000002"),
			GroupName: aws.String("database"),
			VpcId:     aws.String("vpc-2"),
			OwnerId:   aws.String(fakeOwnerID),
		},
	})
}

func testResolveContext() ResolveContext {
	return ResolveContext{
		OwnerID:   fakeOwnerID,
		GroupName: "web",
		GroupID:   "sg-web00001",
		VpcID:     "vpc-1",
		Index:     testIndex(),
	}
}

func TestResolveCIDRTargets(t *testing.T) {
	specs := []rules.Spec{
		{Proto: "tcp", FromPort: rules.Int32(443), ToPort: rules.Int32(443), CidrIP: []string{"0.0.0.0/0"}, RuleDesc: "https"},
		{Proto: "tcp", FromPort: rules.Int32(443), ToPort: rules.Int32(443), CidrIPv6: []string{"::/0"}},
		{Proto: "tcp", FromPort: rules.Int32(443), ToPort: rules.Int32(443), IPPrefix: []string{"pl-12345678"}},
	}

	res, err := Resolve(specs, testResolveContext())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(res.Rules) != 3 || len(res.Missing) != 0 {
		t.Fatalf("rules=%d missing=%d", len(res.Rules), len(res.Missing))
	}
	if res.Rules[0].TargetType != rules.TargetIPv4 || res.Rules[0].Description != "https" {
		t.Errorf("first rule = %+v", res.Rules[0])
	}
	if res.Rules[1].TargetType != rules.TargetIPv6 {
		t.Errorf("second rule = %+v", res.Rules[1])
	}
	if res.Rules[2].TargetType != rules.TargetPrefixList {
		t.Errorf("third rule = %+v", res.Rules[2])
	}
	if !res.Resolved() {
		t.Error("resolution with no group refs should be resolved")
	}
}

func TestResolveGroupByName(t *testing.T) {
	specs := []rules.Spec{{
		Proto: "tcp", FromPort: rules.Int32(5432), ToPort: rules.Int32(5432),
		GroupName: []string{"database"},
	}}

	res, err := Resolve(specs, testResolveContext())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	// Name lookups are VPC-scoped: vpc-1's copy of "database" wins.
	if got := res.Rules[0].Group.GroupID; got != "sg-db000001" {
		t.Errorf("resolved group id = %q", got)
	}
}

func TestResolveSelfReference(t *testing.T) {
	specs := []rules.Spec{{
		Proto: "tcp", FromPort: rules.Int32(0), ToPort: rules.Int32(65535),
		GroupName: []string{"web"},
	}}

	res, err := Resolve(specs, testResolveContext())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got := res.Rules[0].Group.GroupID; got != "sg-web00001" {
		t.Errorf("self reference should use own id, got %q", got)
	}
	if len(res.Missing) != 0 {
		t.Errorf("self reference must not require creation: %+v", res.Missing)
	}
}

func TestResolveSelfReferenceBeforeCreation(t *testing.T) {
	rctx := testResolveContext()
	rctx.GroupID = ""

	specs := []rules.Spec{{Proto: "tcp", FromPort: rules.Int32(80), ToPort: rules.Int32(80), GroupName: []string{"web"}}}
	res, err := Resolve(specs, rctx)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if res.Resolved() {
		t.Error("self reference without an id yet must report unresolved")
	}
	if len(res.Missing) != 0 {
		t.Errorf("the group under reconciliation is not a missing group: %+v", res.Missing)
	}
}

func TestResolveForeignGroup(t *testing.T) {
	specs := []rules.Spec{{
		Proto: "tcp", FromPort: rules.Int32(443), ToPort: rules.Int32(443),
		GroupID: []string{"999999999999/sg-87654321/peer"},
	}}

	res, err := Resolve(specs, testResolveContext())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	g := res.Rules[0].Group
	if !g.Foreign() || g.OwnerID != "999999999999" || g.GroupID != "sg-87654321" {
		t.Errorf("foreign ref = %+v", g)
	}
}

func TestResolveMissingGroupNeedsDescription(t *testing.T) {
	specs := []rules.Spec{{
		Proto: "tcp", FromPort: rules.Int32(6379), ToPort: rules.Int32(6379),
		GroupName: []string{"redis"},
	}}

	_, err := Resolve(specs, testResolveContext())
	if err == nil {
		t.Fatal("expected error for missing group without description")
	}
	if !IsPermanent(err) || !strings.Contains(err.Error(), "redis") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestResolveMissingGroupStub(t *testing.T) {
	specs := []rules.Spec{
		{Proto: "tcp", FromPort: rules.Int32(6379), ToPort: rules.Int32(6379),
			GroupName: []string{"redis"}, GroupDesc: "redis access"},
		{Proto: "tcp", FromPort: rules.Int32(26379), ToPort: rules.Int32(26379),
			GroupName: []string{"redis"}, GroupDesc: "redis access"},
	}

	res, err := Resolve(specs, testResolveContext())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if len(res.Missing) != 1 {
		t.Fatalf("expected one deduplicated stub, got %+v", res.Missing)
	}
	stub := res.Missing[0]
	if stub.Name != "redis" || stub.Description != "redis access" || stub.VpcID != "vpc-1" {
		t.Errorf("stub = %+v", stub)
	}
	if res.Resolved() {
		t.Error("rules referencing a missing group must report unresolved")
	}
}

func TestGroupIndexByNameAny(t *testing.T) {
	idx := testIndex()
	if got := len(idx.ByNameAny("database")); got != 2 {
		t.Errorf("expected 2 matches across VPCs, got %d", got)
	}
	if got := len(idx.ByNameAny("missing")); got != 0 {
		t.Errorf("expected no matches, got %d", got)
	}
}
