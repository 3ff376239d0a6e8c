package rules

import (
	"testing"

	"github.com/scylladb/go-set/strset"
)

func ipv4Rule(from, to int32, cidr, desc string) Rule {
	return Rule{
		FromPort:    Int32(from),
		ToPort:      Int32(to),
		Protocol:    "tcp",
		TargetType:  TargetIPv4,
		Target:      cidr,
		Description: desc,
	}
}

func TestComputeConverged(t *testing.T) {
	rules := []Rule{
		ipv4Rule(80, 80, "0.0.0.0/0", ""),
		ipv4Rule(443, 443, "0.0.0.0/0", ""),
	}

	diff := Compute(rules, rules, true)
	if !diff.Empty() {
		t.Errorf("expected empty diff for converged state, got %+v", diff)
	}
}

func TestComputeAddAndRevoke(t *testing.T) {
	desired := []Rule{
		ipv4Rule(80, 80, "0.0.0.0/0", ""),
		ipv4Rule(443, 443, "0.0.0.0/0", ""),
	}
	current := []Rule{
		ipv4Rule(80, 80, "0.0.0.0/0", ""),
		ipv4Rule(22, 22, "10.0.0.0/8", ""),
	}

	diff := Compute(desired, current, true)
	if len(diff.Authorize) != 1 || *diff.Authorize[0].FromPort != 443 {
		t.Errorf("expected single authorize for port 443, got %+v", diff.Authorize)
	}
	if len(diff.Revoke) != 1 || *diff.Revoke[0].FromPort != 22 {
		t.Errorf("expected single revoke for port 22, got %+v", diff.Revoke)
	}
}

func TestComputeWithoutPurgeKeepsStrays(t *testing.T) {
	desired := []Rule{ipv4Rule(443, 443, "0.0.0.0/0", "")}
	current := []Rule{ipv4Rule(22, 22, "10.0.0.0/8", "")}

	diff := Compute(desired, current, false)
	if len(diff.Revoke) != 0 {
		t.Errorf("expected no revokes without purge, got %+v", diff.Revoke)
	}
	if len(diff.Authorize) != 1 {
		t.Errorf("expected one authorize, got %+v", diff.Authorize)
	}
}

// With purge enabled, applying the diff to the current set must yield
// exactly the desired set; without purge, a superset of it.
func TestComputeSetInvariants(t *testing.T) {
	desired := []Rule{
		ipv4Rule(80, 80, "0.0.0.0/0", ""),
		ipv4Rule(443, 443, "0.0.0.0/0", ""),
		ipv4Rule(22, 22, "10.0.0.0/8", ""),
	}
	current := []Rule{
		ipv4Rule(80, 80, "0.0.0.0/0", ""),
		ipv4Rule(8080, 8080, "0.0.0.0/0", ""),
	}

	for _, purge := range []bool{true, false} {
		diff := Compute(desired, current, purge)

		after := strset.New()
		for _, r := range current {
			after.Add(r.Key())
		}
		for _, r := range diff.Authorize {
			after.Add(r.Key())
		}
		for _, r := range diff.Revoke {
			after.Remove(r.Key())
		}

		want := strset.New()
		for _, r := range desired {
			want.Add(r.Key())
		}

		if purge && !after.IsEqual(want) {
			t.Errorf("purge: applying diff did not converge: got %v, want %v", after.List(), want.List())
		}
		if !purge && !strset.Difference(want, after).IsEmpty() {
			t.Errorf("no purge: result %v is not a superset of desired %v", after.List(), want.List())
		}
	}
}

func TestComputeDescriptionOnlyChange(t *testing.T) {
	desired := []Rule{ipv4Rule(80, 80, "10.0.0.0/8", "allow http from internal")}
	current := []Rule{ipv4Rule(80, 80, "10.0.0.0/8", "old words")}

	diff := Compute(desired, current, true)
	if len(diff.Authorize) != 0 || len(diff.Revoke) != 0 {
		t.Errorf("description change must not authorize/revoke, got %+v", diff)
	}
	if len(diff.UpdateDescriptions) != 1 {
		t.Fatalf("expected one description update, got %d", len(diff.UpdateDescriptions))
	}
	if got := diff.UpdateDescriptions[0].Description; got != "allow http from internal" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestComputeEmptyDesiredDescriptionLeavesRemote(t *testing.T) {
	desired := []Rule{ipv4Rule(80, 80, "10.0.0.0/8", "")}
	current := []Rule{ipv4Rule(80, 80, "10.0.0.0/8", "existing")}

	diff := Compute(desired, current, true)
	if !diff.Empty() {
		t.Errorf("unset desired description must not produce changes, got %+v", diff)
	}
}

func TestSymmetricDifference(t *testing.T) {
	a := []Rule{ipv4Rule(80, 80, "0.0.0.0/0", "")}
	b := []Rule{ipv4Rule(443, 443, "0.0.0.0/0", "")}

	keys := SymmetricDifference(a, b)
	if len(keys) != 2 {
		t.Errorf("expected 2 differing keys, got %v", keys)
	}
	if !SetEqual(a, a) {
		t.Error("SetEqual(a, a) = false")
	}
	if Superset(b, a) {
		t.Error("b should not be a superset of a")
	}
}

func TestGroupRuleIdentity(t *testing.T) {
	local := Rule{
		Protocol:   "tcp",
		FromPort:   Int32(3306),
		ToPort:     Int32(3306),
		TargetType: TargetGroup,
		Group:      GroupRef{GroupID: "sg-87654321"},
	}
	foreign := Rule{
		Protocol:   "tcp",
		FromPort:   Int32(3306),
		ToPort:     Int32(3306),
		TargetType: TargetGroup,
		Group:      GroupRef{OwnerID: "123412341234", GroupID: "sg-87654321", GroupName: "exact-name-of-sg"},
	}
	if local.Key() == foreign.Key() {
		t.Error("local and foreign references to the same id must not collide")
	}

	diff := Compute([]Rule{local}, []Rule{local}, true)
	if !diff.Empty() {
		t.Errorf("identical group rules should not diff: %+v", diff)
	}
}

// DescribeSecurityGroups reports cross-account grants as (owner, id) pairs
// without a group name. A desired "owner/sg-id/name" triple must still match
// that remote form, or every run would revoke and re-authorize the rule.
func TestComputeForeignGroupConverged(t *testing.T) {
	desired := Rule{
		Protocol:   "tcp",
		FromPort:   Int32(443),
		ToPort:     Int32(443),
		TargetType: TargetGroup,
		Group:      ParseGroupRef("111122223333/sg-0123456789/partner-web"),
	}
	remote := desired
	remote.Group = GroupRef{OwnerID: "111122223333", GroupID: "sg-0123456789"}

	if desired.Key() != remote.Key() {
		t.Fatalf("foreign keys differ: desired %q, remote %q", desired.Key(), remote.Key())
	}

	diff := Compute([]Rule{desired}, []Rule{remote}, true)
	if !diff.Empty() {
		t.Errorf("converged foreign rule should not diff: %+v", diff)
	}
}
