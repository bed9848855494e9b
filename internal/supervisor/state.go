// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flicker Contributors

package supervisor

// State is the lifecycle state of a supervised service.
type State int

// Lifecycle states. ExitedClean and Failed are terminal.
const (
	StateStarting State = iota
	StateRunning
	StateExitedClean
	StateExitedError
	StateRestarting
	StateFailed
)

var stateNames = [...]string{
	StateStarting:    "starting",
	StateRunning:     "running",
	StateExitedClean: "exited_clean",
	StateExitedError: "exited_error",
	StateRestarting:  "restarting",
	StateFailed:      "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateExitedClean || s == StateFailed
}
