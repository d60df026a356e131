// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validate checks the configuration for internal consistency. It does not
// touch the network or the filesystem.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors

	if c.NodeID == "" {
		errs = append(errs, ValidationError{Field: "node_id", Message: "must not be empty"})
	}

	errs = append(errs, c.validateProbe()...)
	errs = append(errs, c.validateScoring()...)
	errs = append(errs, c.validateHolddown()...)
	errs = append(errs, c.validateRouting()...)
	errs = append(errs, c.validateGateway()...)

	return errs
}

func (c *Config) validateProbe() ValidationErrors {
	var errs ValidationErrors
	p := c.Probe
	if p == nil {
		return errs
	}

	if p.IntervalSecs <= 0 {
		errs = append(errs, ValidationError{Field: "probe.interval_secs", Message: "must be positive"})
	}
	if p.TimeoutSecs <= 0 {
		errs = append(errs, ValidationError{Field: "probe.timeout_secs", Message: "must be positive"})
	}
	if p.DegradedThreshold <= 0 {
		errs = append(errs, ValidationError{Field: "probe.degraded_threshold", Message: "must be positive"})
	}
	if p.DownThreshold < p.DegradedThreshold {
		errs = append(errs, ValidationError{Field: "probe.down_threshold", Message: "must be >= degraded_threshold"})
	}
	for i, t := range p.Targets {
		field := fmt.Sprintf("probe.target[%d]", i)
		if t.Address == "" {
			errs = append(errs, ValidationError{Field: field + ".address", Message: "must not be empty"})
		} else if net.ParseIP(t.Address) == nil && !isPlausibleHostname(t.Address) {
			// Resolution is deferred to the prober; Validate only rejects
			// addresses that could never be a valid IP or hostname.
			errs = append(errs, ValidationError{Field: field + ".address", Message: fmt.Sprintf("not a valid IP or hostname: %s", t.Address)})
		}
		if t.Port <= 0 || t.Port > 65535 {
			errs = append(errs, ValidationError{Field: field + ".port", Message: "must be between 1 and 65535"})
		}
	}
	return errs
}

func (c *Config) validateScoring() ValidationErrors {
	var errs ValidationErrors
	s := c.Scoring
	if s == nil {
		return errs
	}
	if s.WeightLatency < 0 || s.WeightLoss < 0 || s.WeightSuccess < 0 {
		errs = append(errs, ValidationError{Field: "scoring", Message: "weights must not be negative"})
	}
	if s.MaxRTTMillis <= 0 {
		errs = append(errs, ValidationError{Field: "scoring.max_rtt_ms", Message: "must be positive"})
	}
	if s.MaxLossPercent <= 0 {
		errs = append(errs, ValidationError{Field: "scoring.max_loss_percent", Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateHolddown() ValidationErrors {
	var errs ValidationErrors
	h := c.Holddown
	if h == nil {
		return errs
	}
	if h.ProbingToUpSecs < 0 || h.UpToDegradedSecs < 0 || h.DegradedToDownSecs < 0 || h.DownToProbingSecs < 0 {
		errs = append(errs, ValidationError{Field: "holddown", Message: "durations must not be negative"})
	}
	return errs
}

func (c *Config) validateRouting() ValidationErrors {
	var errs ValidationErrors
	r := c.Routing
	if r == nil {
		return errs
	}
	if r.TableIDMin <= 0 || r.TableIDMax <= 0 {
		errs = append(errs, ValidationError{Field: "routing.table_id_min/max", Message: "must be positive"})
	}
	if r.TableIDMax < r.TableIDMin {
		errs = append(errs, ValidationError{Field: "routing.table_id_max", Message: "must be >= table_id_min"})
	}
	return errs
}

func (c *Config) validateGateway() ValidationErrors {
	var errs ValidationErrors
	g := c.Gateway
	if g == nil {
		return errs
	}
	if g.ListenAddr == "" {
		errs = append(errs, ValidationError{Field: "gateway.listen_addr", Message: "must not be empty"})
	}
	if g.ConnectTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{Field: "gateway.connect_timeout_secs", Message: "must be positive"})
	}
	if g.IdleTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{Field: "gateway.idle_timeout_secs", Message: "must be positive"})
	}
	if g.HandshakeReadTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{Field: "gateway.handshake_read_timeout_secs", Message: "must be positive"})
	}
	return errs
}

func isPlausibleHostname(s string) bool {
	if s == "" || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
	}
	return true
}

// MatchesDestinationPattern reports whether host matches pattern, where
// pattern is either an exact hostname/IP or a glob such as "*.example.com".
// Shared by the Session Gateway (C9) to evaluate a session's destination
// pattern against the address a client requests.
func MatchesDestinationPattern(pattern, host string) bool {
	if pattern == host {
		return true
	}
	matched, err := filepath.Match(pattern, host)
	if err != nil {
		return false
	}
	return matched
}
