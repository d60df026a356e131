// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"github.com/hashicorp/hcl/v2/hclsimple"

	"meshcore.dev/core/internal/errors"
)

// LoadFile reads and decodes an HCL configuration file at path, then
// applies defaults to any unset optional fields and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to decode config %s", path)
	}

	applyDefaults(cfg)

	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}

	return cfg, nil
}

// Load decodes HCL source held in memory, identified by filename only for
// diagnostic messages. Used by tests and by callers that already hold
// configuration bytes (e.g. fetched from a control plane).
func Load(filename string, src []byte) (*Config, error) {
	cfg := &Config{}
	if err := hclsimple.Decode(filename, src, nil, cfg); err != nil {
		return nil, errors.Wrapf(err, errors.KindValidation, "failed to decode config %s", filename)
	}

	applyDefaults(cfg)

	if errs := cfg.Validate(); errs.HasErrors() {
		return nil, errors.Wrap(errs, errors.KindValidation, "invalid configuration")
	}

	return cfg, nil
}

// applyDefaults fills in absent blocks with the values documented on the
// Config struct. Only the probe and gateway blocks are also merged field by
// field; any other block that is present is used as written, and the
// fields it leaves unset stay zero.
func applyDefaults(cfg *Config) {
	def := Default(cfg.NodeID)

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = def.SchemaVersion
	}
	if cfg.Probe == nil {
		cfg.Probe = def.Probe
	} else {
		mergeProbeDefaults(cfg.Probe, def.Probe)
	}
	if cfg.Scoring == nil {
		cfg.Scoring = def.Scoring
	}
	if cfg.Holddown == nil {
		cfg.Holddown = def.Holddown
	}
	if cfg.Routing == nil {
		cfg.Routing = def.Routing
	}
	if cfg.Keepalive == nil {
		cfg.Keepalive = def.Keepalive
	}
	if cfg.Gateway == nil {
		cfg.Gateway = def.Gateway
	} else {
		mergeGatewayDefaults(cfg.Gateway, def.Gateway)
	}
	if cfg.Logging == nil {
		cfg.Logging = def.Logging
	}
	if cfg.Metrics == nil {
		cfg.Metrics = def.Metrics
	}
	if cfg.Supervisor == nil {
		cfg.Supervisor = def.Supervisor
	}
}

func mergeProbeDefaults(p, def *ProbeConfig) {
	if p.IntervalSecs == 0 {
		p.IntervalSecs = def.IntervalSecs
	}
	if p.TimeoutSecs == 0 {
		p.TimeoutSecs = def.TimeoutSecs
	}
	if p.DegradedThreshold == 0 {
		p.DegradedThreshold = def.DegradedThreshold
	}
	if p.DownThreshold == 0 {
		p.DownThreshold = def.DownThreshold
	}
}

func mergeGatewayDefaults(g, def *GatewayConfig) {
	if g.ListenAddr == "" {
		g.ListenAddr = def.ListenAddr
	}
	if g.ConnectTimeoutSecs == 0 {
		g.ConnectTimeoutSecs = def.ConnectTimeoutSecs
	}
	if g.IdleTimeoutSecs == 0 {
		g.IdleTimeoutSecs = def.IdleTimeoutSecs
	}
	if g.HandshakeReadTimeoutSecs == 0 {
		g.HandshakeReadTimeoutSecs = def.HandshakeReadTimeoutSecs
	}
}
