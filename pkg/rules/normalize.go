package rules

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
)

// NormalizeResult carries the expanded specifications plus any non-fatal
// warnings produced during normalization (e.g. CIDRs with host bits set).
type NormalizeResult struct {
	Specs    []Spec
	Warnings []string
}

// Normalize validates and fully expands a list of rule specifications so
// that each output spec has exactly one port range and exactly one source.
// Normalization is idempotent: normalizing an already-normalized list
// returns it unchanged.
func Normalize(specs []Spec) (*NormalizeResult, error) {
	if specs == nil {
		return nil, nil
	}

	result := &NormalizeResult{}
	for i := range specs {
		if err := validateSources(&specs[i]); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}

	expanded := expandSources(expandPorts(specs))
	for i := range expanded {
		canonicalizeProtocol(&expanded[i])
		warnings, err := normalizeCIDRs(&expanded[i])
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		result.Warnings = append(result.Warnings, warnings...)
	}

	result.Specs = deduplicate(expanded)
	return result, nil
}

// validateSources rejects specs that mix mutually exclusive source types.
// A spec names at most one of cidr_ip, cidr_ipv6, group_id, group_name,
// ip_prefix; multiple values of that one type are fine and expand later.
func validateSources(s *Spec) error {
	fields := s.sourceFields()
	if len(fields) > 1 {
		return fmt.Errorf("specify %s OR %s, not both", fields[0], fields[1])
	}
	return nil
}

// expandPorts turns the shorthand ports list into one spec per port range.
// When ports is present it overrides any from_port/to_port pair.
func expandPorts(specs []Spec) []Spec {
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		if len(s.Ports) == 0 {
			out = append(out, s)
			continue
		}
		for _, pr := range s.Ports {
			expanded := s
			expanded.Ports = nil
			expanded.FromPort = Int32(pr.From)
			expanded.ToPort = Int32(pr.To)
			out = append(out, expanded)
		}
	}
	return out
}

// expandSources turns a list-valued source field into one spec per value.
func expandSources(specs []Spec) []Spec {
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		fields := s.sourceFields()
		if len(fields) == 0 {
			out = append(out, s)
			continue
		}
		for _, value := range s.sourceValues(fields[0]) {
			expanded := s
			expanded.CidrIP = nil
			expanded.CidrIPv6 = nil
			expanded.GroupID = nil
			expanded.GroupName = nil
			expanded.IPPrefix = nil
			expanded.setSource(fields[0], value)
			out = append(out, expanded)
		}
	}
	return out
}

func (s *Spec) sourceValues(field string) []string {
	switch field {
	case "cidr_ip":
		return s.CidrIP
	case "cidr_ipv6":
		return s.CidrIPv6
	case "group_id":
		return s.GroupID
	case "group_name":
		return s.GroupName
	case "ip_prefix":
		return s.IPPrefix
	}
	return nil
}

func (s *Spec) setSource(field, value string) {
	switch field {
	case "cidr_ip":
		s.CidrIP = []string{value}
	case "cidr_ipv6":
		s.CidrIPv6 = []string{value}
	case "group_id":
		s.GroupID = []string{value}
	case "group_name":
		s.GroupName = []string{value}
	case "ip_prefix":
		s.IPPrefix = []string{value}
	}
}

// canonicalizeProtocol maps the "all protocols" aliases to ProtocolAll and
// clears the port range: AWS ignores ports on -1 and reports them unset, so
// carrying them would produce a permanent diff.
func canonicalizeProtocol(s *Spec) {
	if s.Proto == "all" || s.Proto == ProtocolAll {
		s.Proto = ProtocolAll
		s.FromPort = nil
		s.ToPort = nil
	}
}

// normalizeCIDRs strips host bits from CIDR sources, warning rather than
// failing to match long-standing provider-module behavior.
func normalizeCIDRs(s *Spec) ([]string, error) {
	var warnings []string
	for _, list := range []*[]string{&s.CidrIP, &s.CidrIPv6} {
		for i, cidr := range *list {
			if !strings.Contains(cidr, "/") {
				continue
			}
			prefix, err := netip.ParsePrefix(cidr)
			if err != nil {
				return nil, fmt.Errorf("invalid CIDR %q: %w", cidr, err)
			}
			masked := prefix.Masked()
			if masked != prefix {
				warnings = append(warnings, fmt.Sprintf(
					"CIDR %s has host bits set, using network address %s", cidr, masked))
				(*list)[i] = masked.String()
			}
		}
	}
	return warnings, nil
}

// deduplicate removes exact duplicates, keyed by canonical JSON form.
func deduplicate(specs []Spec) []Spec {
	seen := make(map[string]bool, len(specs))
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		key, err := json.Marshal(s)
		if err != nil {
			// Spec contains only marshalable fields.
			out = append(out, s)
			continue
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, s)
	}
	return out
}
