// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package lifecycle implements the per-interface state machine that turns
// raw health signals into hysteresis-gated Probing/Up/Degraded/Down
// transitions.
package lifecycle

import (
	"time"

	"meshcore.dev/core/internal/clock"
)

// State is one of the four lifecycle states an interface can occupy.
type State string

const (
	StateProbing  State = "probing"
	StateUp       State = "up"
	StateDegraded State = "degraded"
	StateDown     State = "down"
)

// Event is a signal fed into the state machine. Logical events are gated by
// holddown timers; CarrierLost is applied immediately.
type Event string

const (
	EventHealthGood      Event = "health_good"
	EventHealthDegraded  Event = "health_degraded"
	EventHealthBad       Event = "health_bad"
	EventCarrierLost     Event = "carrier_lost"
	EventCarrierRegained Event = "carrier_regained"
)

// Holddowns holds the per-transition dwell requirements as durations.
type Holddowns struct {
	ProbingToUp      time.Duration
	UpToDegraded     time.Duration
	DegradedToDown   time.Duration
	DownToProbing    time.Duration
	MinStateDuration time.Duration
}

// pendingEvent is an event queued while its gating holddown has not yet
// elapsed.
type pendingEvent struct {
	event   Event
	queued  time.Time
}

// Machine is a single interface's lifecycle state machine. It is not
// itself concurrent: callers must serialize access, matching the
// management loop's single-threaded event processing.
type Machine struct {
	name      string
	state     State
	enteredAt time.Time
	holddowns Holddowns
	pending   []pendingEvent
}

// NewMachine returns a Machine in the initial Probing state.
func NewMachine(name string, h Holddowns) *Machine {
	return &Machine{
		name:      name,
		state:     StateProbing,
		enteredAt: clock.Now(),
		holddowns: h,
	}
}

// State returns the machine's current, committed state.
func (m *Machine) State() State { return m.state }

// EnteredAt returns the time the current state was entered.
func (m *Machine) EnteredAt() time.Time { return m.enteredAt }

// dwell returns how long the machine has held its current state.
func (m *Machine) dwell(now time.Time) time.Duration {
	return now.Sub(m.enteredAt)
}

// transition commits a move to newState, resetting the dwell clock and
// discarding any queued events (they are now obsolete).
func (m *Machine) transition(newState State, now time.Time) {
	m.state = newState
	m.enteredAt = now
	m.pending = nil
}

// Feed processes one incoming event. CarrierLost always applies
// immediately, regardless of state or holddown. All other events are
// queued; Commit evaluates queued events against each holddown on every
// management-loop tick.
func (m *Machine) Feed(ev Event) {
	now := clock.Now()

	if ev == EventCarrierLost {
		m.transition(StateDown, now)
		return
	}

	// A later event overrides an earlier queued one of a different kind;
	// same-kind repeats just keep the original queue time so the holddown
	// clock isn't reset by a flapping duplicate.
	for _, p := range m.pending {
		if p.event == ev {
			return
		}
	}
	m.pending = append(m.pending[:0], pendingEvent{event: ev, queued: now})
}

// Commit evaluates the machine's pending queue against the current time,
// committing a transition if the relevant holddown (and the minimum state
// duration) has elapsed. It is idempotent when called with no new events.
func (m *Machine) Commit() {
	now := clock.Now()

	if m.dwell(now) < m.holddowns.MinStateDuration {
		return
	}
	if len(m.pending) == 0 {
		return
	}

	// Only the most recently queued pending event matters; earlier ones
	// were superseded by Feed's override rule, or are a duplicate.
	p := m.pending[len(m.pending)-1]
	age := now.Sub(p.queued)

	switch m.state {
	case StateProbing:
		switch p.event {
		case EventHealthGood:
			if age >= m.holddowns.ProbingToUp {
				m.transition(StateUp, now)
			}
		case EventHealthBad:
			if age >= m.holddowns.DegradedToDown {
				m.transition(StateDown, now)
			}
		}
	case StateUp:
		switch p.event {
		case EventHealthDegraded:
			if age >= m.holddowns.UpToDegraded {
				m.transition(StateDegraded, now)
			}
		case EventHealthBad:
			if age >= m.holddowns.DegradedToDown {
				m.transition(StateDown, now)
			}
		}
	case StateDegraded:
		switch p.event {
		case EventHealthGood:
			if age >= m.holddowns.ProbingToUp {
				m.transition(StateUp, now)
			}
		case EventHealthBad:
			if age >= m.holddowns.DegradedToDown {
				m.transition(StateDown, now)
			}
		}
	case StateDown:
		switch p.event {
		case EventHealthGood, EventCarrierRegained:
			if age >= m.holddowns.DownToProbing {
				m.transition(StateProbing, now)
			}
		}
	}
}
