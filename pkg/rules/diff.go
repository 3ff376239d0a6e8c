package rules

import (
	"sort"

	"github.com/scylladb/go-set/strset"
)

// Diff is the minimal set of mutating calls needed to converge a rule set.
// Description-only changes are carried separately so the permission is
// updated in place instead of leaving a window with no rule attached.
type Diff struct {
	Authorize          []Rule
	Revoke             []Rule
	UpdateDescriptions []Rule
}

// Empty reports whether converging requires no mutating calls.
func (d Diff) Empty() bool {
	return len(d.Authorize) == 0 && len(d.Revoke) == 0 && len(d.UpdateDescriptions) == 0
}

// Compute diffs desired against current rules, keyed by the canonical tuple
// excluding description. With purge, rules present remotely but not desired
// are revoked; without it they are left in place. The result is ordered
// deterministically by rule key.
func Compute(desired, current []Rule, purge bool) Diff {
	desiredByKey := indexByKey(desired)
	currentByKey := indexByKey(current)

	desiredKeys := keySet(desiredByKey)
	currentKeys := keySet(currentByKey)

	var diff Diff
	for _, key := range sortedKeys(strset.Difference(desiredKeys, currentKeys)) {
		diff.Authorize = append(diff.Authorize, desiredByKey[key])
	}
	if purge {
		for _, key := range sortedKeys(strset.Difference(currentKeys, desiredKeys)) {
			diff.Revoke = append(diff.Revoke, currentByKey[key])
		}
	}
	for _, key := range sortedKeys(strset.Intersection(desiredKeys, currentKeys)) {
		want := desiredByKey[key]
		have := currentByKey[key]
		if want.Description != "" && want.Description != have.Description {
			diff.UpdateDescriptions = append(diff.UpdateDescriptions, want)
		}
	}
	return diff
}

// SetEqual reports whether two rule sets contain the same canonical tuples.
func SetEqual(a, b []Rule) bool {
	return symmetricDifference(a, b).IsEmpty()
}

// Superset reports whether current contains every desired canonical tuple.
func Superset(current, desired []Rule) bool {
	return strset.Difference(keySet(indexByKey(desired)), keySet(indexByKey(current))).IsEmpty()
}

// SymmetricDifference returns the keys present in exactly one of the two
// sets, sorted. Used to report what failed to propagate.
func SymmetricDifference(a, b []Rule) []string {
	return sortedKeys(symmetricDifference(a, b))
}

func symmetricDifference(a, b []Rule) *strset.Set {
	return strset.SymmetricDifference(keySet(indexByKey(a)), keySet(indexByKey(b)))
}

func indexByKey(rules []Rule) map[string]Rule {
	byKey := make(map[string]Rule, len(rules))
	for _, r := range rules {
		byKey[r.Key()] = r
	}
	return byKey
}

func keySet(byKey map[string]Rule) *strset.Set {
	set := strset.NewWithSize(len(byKey))
	for key := range byKey {
		set.Add(key)
	}
	return set
}

func sortedKeys(set *strset.Set) []string {
	keys := set.List()
	sort.Strings(keys)
	return keys
}
