// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config provides HCL configuration handling for meshcore nodes,
// covering the Multi-Backhaul Manager and the Mesh Peer Router + Session
// Gateway.
package config

import "time"

// CurrentSchemaVersion is the schema version written by this build.
const CurrentSchemaVersion = "1.0"

// Config is the top-level structure for a meshcore node's configuration.
type Config struct {
	// Schema version for backward compatibility.
	// @default: "1.0"
	SchemaVersion string `hcl:"schema_version,optional"`

	// NodeID uniquely identifies this node within the mesh.
	NodeID string `hcl:"node_id"`

	// NetworkNamespace, if set, is the named Linux network namespace that
	// interface discovery runs inside. Probing and route installation run
	// in the process's own namespace either way. Left empty, discovery also
	// runs in the process's own (default) namespace.
	NetworkNamespace string `hcl:"network_namespace,optional"`

	Probe     *ProbeConfig     `hcl:"probe,block"`
	Scoring   *ScoringConfig   `hcl:"scoring,block"`
	Holddown  *HolddownConfig  `hcl:"holddown,block"`
	Routing   *RoutingConfig   `hcl:"routing,block"`
	Keepalive *KeepaliveConfig `hcl:"keepalive,block"`
	Gateway   *GatewayConfig   `hcl:"gateway,block"`

	Logging    *LoggingConfig    `hcl:"logging,block"`
	Metrics    *MetricsConfig    `hcl:"metrics,block"`
	Supervisor *SupervisorConfig `hcl:"supervisor,block"`
}

// ProbeTarget is one TCP-connect probe destination.
type ProbeTarget struct {
	// Name identifies the target in logs and metrics.
	Name string `hcl:"name,label"`
	// Address is the target host or IP.
	Address string `hcl:"address"`
	// Port is the target TCP port.
	Port int `hcl:"port"`
}

// ProbeConfig configures the Health Prober (C2).
type ProbeConfig struct {
	// IntervalSecs is the period between probe iterations.
	// @default: 5
	IntervalSecs int `hcl:"interval_secs,optional"`
	// TimeoutSecs is the per-probe TCP connect timeout.
	// @default: 3
	TimeoutSecs int `hcl:"timeout_secs,optional"`
	// Targets is the list of probe destinations shared across interfaces.
	Targets []ProbeTarget `hcl:"target,block"`
	// DegradedThreshold is the consecutive-failure count that raises a
	// HealthDegraded event.
	// @default: 3
	DegradedThreshold int `hcl:"degraded_threshold,optional"`
	// DownThreshold is the consecutive-failure count that raises a
	// HealthBad event.
	// @default: 6
	DownThreshold int `hcl:"down_threshold,optional"`
}

// ScoringConfig configures the Scorer (C3).
type ScoringConfig struct {
	// @default: 40
	WeightLatency float64 `hcl:"weight_latency,optional"`
	// @default: 30
	WeightLoss float64 `hcl:"weight_loss,optional"`
	// @default: 30
	WeightSuccess float64 `hcl:"weight_success,optional"`
	// @default: true
	EnablePolicyBias bool `hcl:"enable_policy_bias,optional"`
	// @default: 1.0
	PolicyBiasMultiplier float64 `hcl:"policy_bias_multiplier,optional"`
	// @default: 200
	MaxRTTMillis float64 `hcl:"max_rtt_ms,optional"`
	// @default: 20
	MaxLossPercent float64 `hcl:"max_loss_percent,optional"`
}

// HolddownConfig configures the Lifecycle State Machine (C4), all in
// seconds.
type HolddownConfig struct {
	// @default: 10
	ProbingToUpSecs int `hcl:"probing_to_up,optional"`
	// @default: 15
	UpToDegradedSecs int `hcl:"up_to_degraded,optional"`
	// @default: 20
	DegradedToDownSecs int `hcl:"degraded_to_down,optional"`
	// @default: 30
	DownToProbingSecs int `hcl:"down_to_probing,optional"`
	// @default: 3
	MinStateDurationSecs int `hcl:"min_state_duration,optional"`
}

// RoutingConfig configures the Policy Routing Manager (C5).
type RoutingConfig struct {
	// MonitorOnly, when true (the default), simulates all route/rule
	// installation in memory without touching the kernel.
	// @default: true
	MonitorOnly bool `hcl:"monitor_only,optional"`
	// ExecuteCommands gates whether OS commands actually run when
	// MonitorOnly is false. Meaningless while MonitorOnly is true.
	// @default: true
	ExecuteCommands bool `hcl:"execute_commands,optional"`
	// TableIDMin/TableIDMax bound the pool of kernel policy-routing table
	// IDs handed out to active interfaces.
	// @default: 100
	TableIDMin int `hcl:"table_id_min,optional"`
	// @default: 199
	TableIDMax int `hcl:"table_id_max,optional"`
	// MainTablePriority is the RPDB rule priority for the main table
	// lookup (kept untouched unless MonitorOnly is false).
	// @default: 32766
	MainTablePriority int `hcl:"main_table_priority,optional"`
	// InterfaceTablePriority is the RPDB rule priority used for each
	// per-interface source-scoped rule.
	// @default: 100
	InterfaceTablePriority int `hcl:"interface_table_priority,optional"`
}

// KeepaliveConfig configures the Hardware Keepalive contract (C7).
type KeepaliveConfig struct {
	// @default: true
	Enabled bool `hcl:"enabled,optional"`
	// @default: 30
	IntervalSecs int `hcl:"interval_secs,optional"`
}

// GatewayConfig configures the Session Gateway data plane (C9) and the
// Session Registry seed file (C10).
type GatewayConfig struct {
	// ListenAddr is the TCP address the gateway accepts client connections
	// on, e.g. ":7777".
	ListenAddr string `hcl:"listen_addr,optional"`
	// @default: 10
	ConnectTimeoutSecs int `hcl:"connect_timeout_secs,optional"`
	// @default: 600
	IdleTimeoutSecs int `hcl:"idle_timeout_secs,optional"`
	// @default: 5
	HandshakeReadTimeoutSecs int `hcl:"handshake_read_timeout_secs,optional"`
	// SessionsFile optionally seeds the Session Registry at startup from a
	// JSON array of leases. Absence is not an error.
	SessionsFile string `hcl:"sessions_file,optional"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// @default: "info"
	Level string `hcl:"level,optional"`
	// @default: false
	JSON bool `hcl:"json,optional"`
	// @default: false
	SyslogEnabled bool   `hcl:"syslog_enabled,optional"`
	SyslogHost    string `hcl:"syslog_host,optional"`
	// @default: 514
	SyslogPort int `hcl:"syslog_port,optional"`
}

// MetricsConfig configures the Prometheus exporter (C12).
type MetricsConfig struct {
	// @default: false
	Enabled bool `hcl:"enabled,optional"`
	// @default: ":9200"
	ListenAddr string `hcl:"listen_addr,optional"`
}

// SupervisorConfig configures the Crash Supervisor (C11).
type SupervisorConfig struct {
	// @default: 3
	Threshold int `hcl:"threshold,optional"`
	// WindowSecs is the crash-counting window, in seconds.
	// @default: 300
	WindowSecs int `hcl:"window_secs,optional"`
	// StateDir is where supervisor.state is persisted across restarts.
	StateDir string `hcl:"state_dir,optional"`
}

// Default returns a Config with every optional field defaulted, matching
// the values documented on each field above.
func Default(nodeID string) *Config {
	return &Config{
		SchemaVersion: CurrentSchemaVersion,
		NodeID:        nodeID,
		Probe: &ProbeConfig{
			IntervalSecs:      5,
			TimeoutSecs:       3,
			DegradedThreshold: 3,
			DownThreshold:     6,
		},
		Scoring: &ScoringConfig{
			WeightLatency:        40,
			WeightLoss:           30,
			WeightSuccess:        30,
			EnablePolicyBias:     true,
			PolicyBiasMultiplier: 1.0,
			MaxRTTMillis:         200,
			MaxLossPercent:       20,
		},
		Holddown: &HolddownConfig{
			ProbingToUpSecs:      10,
			UpToDegradedSecs:     15,
			DegradedToDownSecs:   20,
			DownToProbingSecs:    30,
			MinStateDurationSecs: 3,
		},
		Routing: &RoutingConfig{
			MonitorOnly:            true,
			ExecuteCommands:        true,
			TableIDMin:             100,
			TableIDMax:             199,
			MainTablePriority:      32766,
			InterfaceTablePriority: 100,
		},
		Keepalive: &KeepaliveConfig{
			Enabled:      true,
			IntervalSecs: 30,
		},
		Gateway: &GatewayConfig{
			ListenAddr:               ":7777",
			ConnectTimeoutSecs:       10,
			IdleTimeoutSecs:          600,
			HandshakeReadTimeoutSecs: 5,
		},
		Logging: &LoggingConfig{
			Level:      "info",
			SyslogPort: 514,
		},
		Metrics: &MetricsConfig{
			ListenAddr: ":9200",
		},
		Supervisor: &SupervisorConfig{
			Threshold:  3,
			WindowSecs: 300,
		},
	}
}

// Interval returns the configured probe interval as a time.Duration.
func (c *ProbeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Timeout returns the configured probe connect timeout as a time.Duration.
func (c *ProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ConnectTimeout returns the configured upstream dial timeout as a
// time.Duration.
func (c *GatewayConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSecs) * time.Second
}

// IdleTimeout returns the configured tunnel idle timeout as a time.Duration.
func (c *GatewayConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

// HandshakeReadTimeout returns the configured handshake read deadline as a
// time.Duration.
func (c *GatewayConfig) HandshakeReadTimeout() time.Duration {
	return time.Duration(c.HandshakeReadTimeoutSecs) * time.Second
}
