// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package score computes the pure, stateless scalar score used to rank
// interfaces for backhaul selection.
package score

import (
	"math"

	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/iface"
	"meshcore.dev/core/internal/probe"
)

// policyWeight is the fixed per-kind policy bias weight.
func policyWeight(k iface.Kind) float64 {
	switch k {
	case iface.KindEthernet:
		return 100
	case iface.KindWiFi:
		return 80
	case iface.KindLTE:
		return 60
	case iface.KindUSBTether:
		return 40
	default:
		return 0
	}
}

func clampPositive(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// Score computes a weighted scalar from current health, interface kind, and
// scoring configuration. Larger is better. Each of the four additive
// components is clamped to >= 0 before summing.
func Score(h probe.Health, kind iface.Kind, cfg *config.ScoringConfig) uint32 {
	latencyComponent := cfg.WeightLatency * clampPositive(1-h.AvgRTTMillis/cfg.MaxRTTMillis)
	lossComponent := cfg.WeightLoss * clampPositive(1-h.LossPercent/cfg.MaxLossPercent)

	total := h.Total
	if total == 0 {
		total = 1
	}
	successComponent := cfg.WeightSuccess * (float64(h.Successful) / float64(total))

	var policyBias float64
	if cfg.EnablePolicyBias {
		policyBias = policyWeight(kind) * cfg.PolicyBiasMultiplier
	}

	sum := latencyComponent + lossComponent + successComponent + policyBias
	if sum < 0 {
		sum = 0
	}
	return uint32(math.Round(sum))
}

// Ranked is one interface's score paired with its identity, used to
// determine the winning backhaul with a deterministic tie-break.
type Ranked struct {
	Name  string
	Score uint32
}

// Winner returns the highest-scoring entry in candidates. On an exact score
// tie, the lexicographically smaller interface name wins, making selection
// deterministic across runs.
func Winner(candidates []Ranked) (Ranked, bool) {
	var best Ranked
	found := false

	for _, c := range candidates {
		if !found {
			best = c
			found = true
			continue
		}
		if c.Score > best.Score || (c.Score == best.Score && c.Name < best.Name) {
			best = c
		}
	}

	return best, found
}
