// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"log/syslog"
)

// SyslogConfig configures an optional syslog fan-out for the structured
// logger. Disabled by default; operators opt in for centralized log
// collection of a fleet of nodes.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	// Facility is the RFC 3164 facility number (1 = user-level messages).
	Facility int
}

// DefaultSyslogConfig returns the disabled-by-default syslog configuration.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "meshcore",
		Facility: 1,
	}
}

// NewSyslogWriter dials a syslog daemon at cfg.Host:cfg.Port and returns a
// *syslog.Writer suitable as an additional io.Writer target for the
// structured logger. Defaults are applied for any zero-valued field other
// than Host, which is required.
func NewSyslogWriter(cfg SyslogConfig) (*syslog.Writer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("logging: syslog host is required when syslog is enabled")
	}
	if cfg.Port == 0 {
		cfg.Port = 514
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "udp"
	}
	if cfg.Tag == "" {
		cfg.Tag = "meshcore"
	}
	if cfg.Facility == 0 {
		cfg.Facility = 1
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	priority := syslog.Priority(cfg.Facility<<3) | syslog.LOG_INFO
	return syslog.Dial(cfg.Protocol, addr, priority, cfg.Tag)
}
