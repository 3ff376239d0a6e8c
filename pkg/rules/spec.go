package rules

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Spec is the loose, user-facing form of a rule as it appears in desired
// state documents. Shorthand fields expand to multiple canonical rules:
// "ports" accepts a scalar or a list of port numbers and "from-to" ranges,
// and every source field accepts a scalar or a list.
type Spec struct {
	Proto     string      `json:"proto"`
	FromPort  *int32      `json:"from_port,omitempty"`
	ToPort    *int32      `json:"to_port,omitempty"`
	Ports     []PortRange `json:"ports,omitempty"`
	CidrIP    []string    `json:"cidr_ip,omitempty"`
	CidrIPv6  []string    `json:"cidr_ipv6,omitempty"`
	GroupID   []string    `json:"group_id,omitempty"`
	GroupName []string    `json:"group_name,omitempty"`
	IPPrefix  []string    `json:"ip_prefix,omitempty"`
	GroupDesc string      `json:"group_desc,omitempty"`
	RuleDesc  string      `json:"rule_desc,omitempty"`
}

// specKeys is the closed set of keys a rule specification may carry.
// Anything else aborts validation before a remote call is made.
var specKeys = map[string]bool{
	"proto":      true,
	"from_port":  true,
	"to_port":    true,
	"ports":      true,
	"cidr_ip":    true,
	"cidr_ipv6":  true,
	"group_id":   true,
	"group_name": true,
	"ip_prefix":  true,
	"group_desc": true,
	"rule_desc":  true,
}

// UnmarshalJSON decodes a rule specification, rejecting unknown keys and
// accepting scalar-or-list shorthand for ports and source fields.
func (s *Spec) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rule must be a mapping: %w", err)
	}
	return s.fromMap(raw)
}

// UnmarshalYAML decodes a rule specification from YAML with the same
// strictness as UnmarshalJSON.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]interface{}
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("rule must be a mapping: %w", err)
	}
	return s.fromMap(raw)
}

func (s *Spec) fromMap(raw map[string]interface{}) error {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !specKeys[k] {
			return fmt.Errorf("invalid rule parameter %q", k)
		}
	}

	for _, k := range keys {
		v := raw[k]
		var err error
		switch k {
		case "proto":
			s.Proto, err = coerceString(v)
		case "from_port":
			s.FromPort, err = coercePortPtr(v)
		case "to_port":
			s.ToPort, err = coercePortPtr(v)
		case "ports":
			s.Ports, err = coercePorts(v)
		case "cidr_ip":
			s.CidrIP, err = coerceStrings(v)
		case "cidr_ipv6":
			s.CidrIPv6, err = coerceStrings(v)
		case "group_id":
			s.GroupID, err = coerceStrings(v)
		case "group_name":
			s.GroupName, err = coerceStrings(v)
		case "ip_prefix":
			s.IPPrefix, err = coerceStrings(v)
		case "group_desc":
			s.GroupDesc, err = coerceString(v)
		case "rule_desc":
			s.RuleDesc, err = coerceString(v)
		}
		if err != nil {
			return fmt.Errorf("rule parameter %q: %w", k, err)
		}
	}
	return nil
}

// sourceFields returns the names of the populated source fields.
func (s *Spec) sourceFields() []string {
	var fields []string
	if len(s.CidrIP) > 0 {
		fields = append(fields, "cidr_ip")
	}
	if len(s.CidrIPv6) > 0 {
		fields = append(fields, "cidr_ipv6")
	}
	if len(s.GroupID) > 0 {
		fields = append(fields, "group_id")
	}
	if len(s.GroupName) > 0 {
		fields = append(fields, "group_name")
	}
	if len(s.IPPrefix) > 0 {
		fields = append(fields, "ip_prefix")
	}
	return fields
}

// coerceString accepts strings and numbers; "proto: -1" arrives as a number
// from both YAML and JSON decoders.
func coerceString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatInt(int64(t), 10), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func coerceStrings(v interface{}) ([]string, error) {
	switch t := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, err := coerceString(e)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, nil
	default:
		s, err := coerceString(v)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	}
}

func coerceInt32(v interface{}) (int32, error) {
	switch t := v.(type) {
	case int:
		return int32(t), nil
	case int64:
		return int32(t), nil
	case float64:
		return int32(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", t)
		}
		return int32(n), nil
	default:
		return 0, fmt.Errorf("expected port number, got %T", v)
	}
}

func coercePortPtr(v interface{}) (*int32, error) {
	if v == nil {
		return nil, nil
	}
	n, err := coerceInt32(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// coercePorts parses the shorthand ports field: a scalar or list where each
// entry is a port number or a "from-to" range string.
func coercePorts(v interface{}) ([]PortRange, error) {
	entries, ok := v.([]interface{})
	if !ok {
		entries = []interface{}{v}
	}

	out := make([]PortRange, 0, len(entries))
	for _, e := range entries {
		if s, ok := e.(string); ok && strings.Contains(s, "-") {
			parts := strings.SplitN(s, "-", 2)
			from, err := coerceInt32(parts[0])
			if err != nil {
				return nil, err
			}
			to, err := coerceInt32(parts[1])
			if err != nil {
				return nil, err
			}
			out = append(out, PortRange{From: from, To: to})
			continue
		}
		n, err := coerceInt32(e)
		if err != nil {
			return nil, err
		}
		out = append(out, PortRange{From: n, To: n})
	}
	return out, nil
}
