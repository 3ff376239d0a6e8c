package rules

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeExpandsPorts(t *testing.T) {
	specs := []Spec{{
		Proto:  "tcp",
		Ports:  []PortRange{{From: 80, To: 80}, {From: 443, To: 443}},
		CidrIP: []string{"0.0.0.0/0"},
	}}

	result, err := Normalize(specs)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(result.Specs) != 2 {
		t.Fatalf("expected 2 expanded specs, got %d", len(result.Specs))
	}

	want := []Spec{
		{Proto: "tcp", FromPort: Int32(80), ToPort: Int32(80), CidrIP: []string{"0.0.0.0/0"}},
		{Proto: "tcp", FromPort: Int32(443), ToPort: Int32(443), CidrIP: []string{"0.0.0.0/0"}},
	}
	if diff := cmp.Diff(want, result.Specs); diff != "" {
		t.Errorf("expanded specs mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeExpandsPortRangeStrings(t *testing.T) {
	specs := []Spec{{
		Proto:  "tcp",
		Ports:  []PortRange{{From: 8080, To: 8099}},
		CidrIP: []string{"10.0.0.0/8"},
	}}

	result, err := Normalize(specs)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(result.Specs) != 1 {
		t.Fatalf("expected 1 spec, got %d", len(result.Specs))
	}
	got := result.Specs[0]
	if *got.FromPort != 8080 || *got.ToPort != 8099 {
		t.Errorf("expected port range 8080-8099, got %d-%d", *got.FromPort, *got.ToPort)
	}
}

func TestNormalizeExpandsSources(t *testing.T) {
	specs := []Spec{{
		Proto:    "tcp",
		FromPort: Int32(5665),
		ToPort:   Int32(5665),
		CidrIP:   []string{"172.16.1.0/24", "172.16.17.0/24"},
	}}

	result, err := Normalize(specs)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(result.Specs) != 2 {
		t.Fatalf("expected 2 specs after source expansion, got %d", len(result.Specs))
	}
	for _, s := range result.Specs {
		if len(s.CidrIP) != 1 {
			t.Errorf("expected single source per expanded spec, got %v", s.CidrIP)
		}
	}
}

func TestNormalizeAllProtocolClearsPorts(t *testing.T) {
	for _, proto := range []string{"all", "-1"} {
		specs := []Spec{{
			Proto:    proto,
			FromPort: Int32(10050),
			ToPort:   Int32(10050),
			CidrIP:   []string{"10.0.0.0/8"},
		}}

		result, err := Normalize(specs)
		if err != nil {
			t.Fatalf("Normalize(%q) returned error: %v", proto, err)
		}
		got := result.Specs[0]
		if got.Proto != ProtocolAll {
			t.Errorf("proto %q: expected canonical %q, got %q", proto, ProtocolAll, got.Proto)
		}
		if got.FromPort != nil || got.ToPort != nil {
			t.Errorf("proto %q: expected nil port range, got %v-%v", proto, got.FromPort, got.ToPort)
		}
	}
}

func TestNormalizeRejectsMixedSources(t *testing.T) {
	cases := []Spec{
		{Proto: "tcp", CidrIP: []string{"10.0.0.0/8"}, GroupID: []string{"sg-12345678"}},
		{Proto: "tcp", CidrIP: []string{"10.0.0.0/8"}, CidrIPv6: []string{"64:ff9b::/96"}},
		{Proto: "tcp", GroupName: []string{"other"}, IPPrefix: []string{"pl-12345678"}},
	}
	for _, spec := range cases {
		if _, err := Normalize([]Spec{spec}); err == nil {
			t.Errorf("expected mixed-source error for %+v", spec)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	specs := []Spec{
		{
			Proto:  "tcp",
			Ports:  []PortRange{{From: 80, To: 80}, {From: 443, To: 443}},
			CidrIP: []string{"0.0.0.0/0", "10.0.0.0/8"},
		},
		{Proto: "all", GroupName: []string{"self"}},
	}

	once, err := Normalize(specs)
	if err != nil {
		t.Fatalf("first Normalize: %v", err)
	}
	twice, err := Normalize(once.Specs)
	if err != nil {
		t.Fatalf("second Normalize: %v", err)
	}
	if diff := cmp.Diff(once.Specs, twice.Specs); diff != "" {
		t.Errorf("normalize is not idempotent (-once +twice):\n%s", diff)
	}
}

func TestNormalizeDeduplicates(t *testing.T) {
	specs := []Spec{
		{Proto: "tcp", FromPort: Int32(22), ToPort: Int32(22), CidrIP: []string{"10.0.0.0/8"}},
		{Proto: "tcp", Ports: []PortRange{{From: 22, To: 22}}, CidrIP: []string{"10.0.0.0/8"}},
	}

	result, err := Normalize(specs)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if len(result.Specs) != 1 {
		t.Errorf("expected duplicates to collapse to 1 spec, got %d", len(result.Specs))
	}
}

func TestNormalizeStripsHostBits(t *testing.T) {
	specs := []Spec{{
		Proto:    "tcp",
		FromPort: Int32(443),
		ToPort:   Int32(443),
		CidrIP:   []string{"10.1.2.3/8"},
	}}

	result, err := Normalize(specs)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if got := result.Specs[0].CidrIP[0]; got != "10.0.0.0/8" {
		t.Errorf("expected host bits stripped to 10.0.0.0/8, got %s", got)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "host bits") {
		t.Errorf("expected host-bits warning, got %v", result.Warnings)
	}
}

func TestNormalizeRejectsInvalidCIDR(t *testing.T) {
	specs := []Spec{{
		Proto:  "tcp",
		CidrIP: []string{"not-a-cidr/8"},
	}}
	if _, err := Normalize(specs); err == nil {
		t.Error("expected error for invalid CIDR")
	}
}

func TestNormalizeNilRules(t *testing.T) {
	result, err := Normalize(nil)
	if err != nil {
		t.Fatalf("Normalize(nil) returned error: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result for nil rules, got %+v", result)
	}
}
