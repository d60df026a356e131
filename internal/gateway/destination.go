// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package gateway

import (
	"net"

	"meshcore.dev/core/internal/config"
)

// destinationAllowed reports whether destination (host:port) matches at
// least one entry in patterns (each itself a host-pattern:port pair). The
// port must match exactly; the host may be an exact match or a
// "*.suffix"-style glob, per config.MatchesDestinationPattern.
func destinationAllowed(patterns []string, destination string) bool {
	host, port, err := net.SplitHostPort(destination)
	if err != nil {
		return false
	}

	for _, p := range patterns {
		patternHost, patternPort, err := net.SplitHostPort(p)
		if err != nil {
			continue
		}
		if patternPort != port {
			continue
		}
		if config.MatchesDestinationPattern(patternHost, host) {
			return true
		}
	}
	return false
}
