// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package score

import (
	"testing"

	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/iface"
	"meshcore.dev/core/internal/probe"
)

func testScoringConfig() *config.ScoringConfig {
	return &config.ScoringConfig{
		WeightLatency:        40,
		WeightLoss:           30,
		WeightSuccess:        30,
		EnablePolicyBias:     true,
		PolicyBiasMultiplier: 1.0,
		MaxRTTMillis:         200,
		MaxLossPercent:       20,
	}
}

func TestScorePerfectHealth(t *testing.T) {
	h := probe.Health{Total: 10, Successful: 10, AvgRTTMillis: 0, LossPercent: 0}
	got := Score(h, iface.KindEthernet, testScoringConfig())
	// latency: 40*1=40, loss: 30*1=30, success: 30*1=30, policy: 100*1=100 -> 200
	if got != 200 {
		t.Fatalf("got %d, want 200", got)
	}
}

func TestScoreDisabledPolicyBias(t *testing.T) {
	cfg := testScoringConfig()
	cfg.EnablePolicyBias = false
	h := probe.Health{Total: 10, Successful: 10}
	got := Score(h, iface.KindEthernet, cfg)
	if got != 100 {
		t.Fatalf("got %d, want 100 (no policy bias)", got)
	}
}

func TestScoreClampsNegativeComponents(t *testing.T) {
	cfg := testScoringConfig()
	cfg.EnablePolicyBias = false
	// RTT far beyond max and loss far beyond max should clamp to 0, not negative.
	h := probe.Health{Total: 10, Successful: 0, Failed: 10, AvgRTTMillis: 10000, LossPercent: 100}
	got := Score(h, iface.KindWiFi, cfg)
	if got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

func TestScoreZeroTotalDoesNotDivideByZero(t *testing.T) {
	cfg := testScoringConfig()
	h := probe.Health{}
	got := Score(h, iface.KindLTE, cfg)
	if got > 1000 {
		t.Fatalf("suspiciously large score for zero-total health: %d", got)
	}
}

func TestWinnerHighestScoreWins(t *testing.T) {
	candidates := []Ranked{
		{Name: "eth0", Score: 150},
		{Name: "wlan0", Score: 200},
		{Name: "wwan0", Score: 90},
	}
	got, ok := Winner(candidates)
	if !ok || got.Name != "wlan0" {
		t.Fatalf("got %+v, want wlan0", got)
	}
}

func TestWinnerTieBreaksByName(t *testing.T) {
	candidates := []Ranked{
		{Name: "wlan0", Score: 200},
		{Name: "eth0", Score: 200},
	}
	got, ok := Winner(candidates)
	if !ok || got.Name != "eth0" {
		t.Fatalf("got %+v, want eth0 (lexicographic tie-break)", got)
	}
}

func TestWinnerEmpty(t *testing.T) {
	_, ok := Winner(nil)
	if ok {
		t.Fatalf("expected no winner for empty candidate list")
	}
}
