// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package probe implements the per-interface health prober: bind-to-source
// TCP connect checks that feed the lifecycle state machine and the scorer.
package probe

import (
	"context"
	"net"
	"time"

	"meshcore.dev/core/internal/clock"
	"meshcore.dev/core/internal/errors"
)

// Target is one TCP-connect probe destination.
type Target struct {
	Name    string
	Address string
	Port    int
}

// Result is the outcome of a single probe attempt.
type Result struct {
	Target  Target
	OK      bool
	RTT     time.Duration
	Err     error
	At      time.Time
}

// Health is the rolling per-interface counter set maintained from Results.
// Transitions are monotonic in Total; Successful+Failed never exceeds Total.
type Health struct {
	Total              uint64
	Successful         uint64
	Failed             uint64
	AvgRTTMillis       float64
	LossPercent        float64
	ConsecutiveFailure uint64
}

// emaAlpha weights the most recent RTT sample against the running average.
const emaAlpha = 0.3

// Record folds one probe Result into Health, updating the exponentially
// weighted RTT average, loss percentage, and consecutive-failure streak.
func (h *Health) Record(r Result) {
	h.Total++
	if r.OK {
		h.Successful++
		h.ConsecutiveFailure = 0
		ms := float64(r.RTT.Microseconds()) / 1000.0
		if h.Successful == 1 {
			h.AvgRTTMillis = ms
		} else {
			h.AvgRTTMillis = emaAlpha*ms + (1-emaAlpha)*h.AvgRTTMillis
		}
	} else {
		h.Failed++
		h.ConsecutiveFailure++
	}

	if h.Total > 0 {
		h.LossPercent = 100 * float64(h.Failed) / float64(h.Total)
	}
}

// Dialer abstracts the bind-before-connect TCP dial so tests can substitute
// a fake without opening real sockets.
type Dialer interface {
	DialContext(ctx context.Context, localAddr string, target Target) (net.Conn, error)
}

// ErrBindFailed is returned when a probe cannot bind its socket to the
// interface's local address, e.g. the interface lost its address between
// discovery and probe. RealDialer also returns it for any other connect
// failure that is not a deadline expiry, such as a refused connection.
var ErrBindFailed = errors.New(errors.KindUnavailable, "bind to local address failed")

// ErrTimeout is returned when a probe's connect attempt exceeds its
// deadline.
var ErrTimeout = errors.New(errors.KindTimeout, "probe connect timed out")

// RealDialer binds a *net.Dialer to the interface's local IPv4 address
// before connecting. This is the only defense against "healthy because the
// other interface answered": a probe for interface X must traverse X.
type RealDialer struct{}

func (RealDialer) DialContext(ctx context.Context, localAddr string, target Target) (net.Conn, error) {
	local, err := net.ResolveTCPAddr("tcp4", localAddr+":0")
	if err != nil {
		return nil, errors.Wrap(ErrBindFailed, errors.KindUnavailable, err.Error())
	}

	d := &net.Dialer{LocalAddr: local}
	addr := net.JoinHostPort(target.Address, portString(target.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		if cctxErr := ctx.Err(); cctxErr != nil {
			return nil, errors.Wrap(ErrTimeout, errors.KindTimeout, err.Error())
		}
		return nil, errors.Wrap(ErrBindFailed, errors.KindUnavailable, err.Error())
	}
	return conn, nil
}

func portString(p int) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// Prober runs probes for a single interface's local address against a set
// of targets.
type Prober struct {
	dialer  Dialer
	timeout time.Duration
}

// NewProber returns a Prober using the real bind-before-connect dialer.
func NewProber(timeout time.Duration) *Prober {
	return &Prober{dialer: RealDialer{}, timeout: timeout}
}

// NewProberWithDialer returns a Prober using an injected Dialer, for tests.
func NewProberWithDialer(d Dialer, timeout time.Duration) *Prober {
	return &Prober{dialer: d, timeout: timeout}
}

// Probe attempts one TCP connect to target, bound to localIPv4. A context
// deadline or dial error is counted as a failure, never returned as an
// error to the caller: probe failure is purely internal per the error
// handling contract, translated into a failure counter upstream.
func (p *Prober) Probe(ctx context.Context, localIPv4 string, target Target) Result {
	start := clock.Now()

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dialer.DialContext(cctx, localIPv4, target)
	if err != nil {
		return Result{Target: target, OK: false, Err: err, At: start}
	}
	defer conn.Close()

	return Result{Target: target, OK: true, RTT: clock.Now().Sub(start), At: start}
}
