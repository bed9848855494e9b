// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package supervisor

import "time"

// EventKind classifies supervisor events.
type EventKind int

// Event kinds.
const (
	// EventState reports a lifecycle transition.
	EventState EventKind = iota
	// EventOutput relays one line a worker wrote to stdout.
	EventOutput
	// EventError relays one line a worker wrote to stderr.
	EventError
	// EventExit reports that a worker process exited.
	EventExit
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventOutput:
		return "output"
	case EventError:
		return "error"
	case EventExit:
		return "exit"
	default:
		return "unknown"
	}
}

// Event is published on the supervisor's event stream.
type Event struct {
	Service string
	Kind    EventKind
	// State is set for EventState.
	State State
	// Line is set for EventOutput and EventError.
	Line string
	// ExitCode and Err are set for EventExit. ExitCode is -1 when the
	// process was killed by a signal or never started.
	ExitCode int
	Err      error
	// Delay is the backoff before the next launch, set when State is
	// StateRestarting.
	Delay time.Duration
	Time  time.Time
}
