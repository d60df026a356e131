// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import "testing"

func TestValidateNodeID(t *testing.T) {
	cfg := Default("")
	errs := cfg.Validate()
	found := false
	for _, e := range errs {
		if e.Field == "node_id" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected node_id validation error, got %v", errs)
	}
}

func TestValidateDefaultConfigIsClean(t *testing.T) {
	cfg := Default("node-a")
	if errs := cfg.Validate(); errs.HasErrors() {
		t.Fatalf("expected default config to be valid, got %v", errs)
	}
}

func TestValidateProbeThresholds(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ProbeConfig)
		wantErrs int
	}{
		{
			name:     "zero interval",
			mutate:   func(p *ProbeConfig) { p.IntervalSecs = 0 },
			wantErrs: 1,
		},
		{
			name:     "down below degraded",
			mutate:   func(p *ProbeConfig) { p.DownThreshold = p.DegradedThreshold - 1 },
			wantErrs: 1,
		},
		{
			name:     "valid",
			mutate:   func(p *ProbeConfig) {},
			wantErrs: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("node-a")
			tt.mutate(cfg.Probe)
			errs := cfg.validateProbe()
			if len(errs) != tt.wantErrs {
				t.Fatalf("got %d errors, want %d: %v", len(errs), tt.wantErrs, errs)
			}
		})
	}
}

func TestValidateProbeTargetAddress(t *testing.T) {
	cfg := Default("node-a")
	cfg.Probe.Targets = []ProbeTarget{
		{Name: "good-ip", Address: "1.1.1.1", Port: 443},
		{Name: "good-host", Address: "example.com", Port: 443},
		{Name: "bad", Address: "", Port: 443},
		{Name: "bad-port", Address: "1.1.1.1", Port: 0},
	}
	errs := cfg.validateProbe()
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
}

func TestValidateRoutingTableRange(t *testing.T) {
	cfg := Default("node-a")
	cfg.Routing.TableIDMax = cfg.Routing.TableIDMin - 1
	errs := cfg.validateRouting()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
}

func TestValidateGatewayListenAddr(t *testing.T) {
	cfg := Default("node-a")
	cfg.Gateway.ListenAddr = ""
	errs := cfg.validateGateway()
	if len(errs) != 1 {
		t.Fatalf("got %d errors, want 1: %v", len(errs), errs)
	}
}

func TestMatchesDestinationPattern(t *testing.T) {
	tests := []struct {
		pattern string
		host    string
		want    bool
	}{
		{"example.com", "example.com", true},
		{"example.com", "evil.example.com", false},
		{"*.example.com", "a.example.com", true},
		{"*.example.com", "a.b.example.com", true},
		{"*.example.com", "example.com", false},
		{"*", "anything.at.all", true},
	}

	for _, tt := range tests {
		if got := MatchesDestinationPattern(tt.pattern, tt.host); got != tt.want {
			t.Errorf("MatchesDestinationPattern(%q, %q) = %v, want %v", tt.pattern, tt.host, got, tt.want)
		}
	}
}

func TestValidationErrorsError(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "also bad"},
	}
	got := errs.Error()
	want := "a: bad; b: also bad"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
