package svcgroup

import (
	"fmt"
	"strings"
	"time"
)

// Default paths and modes
const (
	// DefaultSystemctlPath is the default systemctl binary
	DefaultSystemctlPath = "/bin/systemctl"

	// DefaultUnitPattern renders a member identifier into a systemd unit name
	DefaultUnitPattern = "%s.service"

	// DefaultUnitDir is where group unit files are installed
	DefaultUnitDir = "/etc/systemd/system"

	// DefaultServiceDir is the default supervise service directory
	DefaultServiceDir = "/etc/service"

	// DefaultJobMode is the systemd job mode used by the D-Bus backend.
	// It matches what systemctl uses when --job-mode is not given.
	DefaultJobMode = "replace"

	// DefaultLockWait bounds how long the CLI waits for the group mutex
	DefaultLockWait = 250 * time.Millisecond

	// SuperviseDir is the subdirectory holding supervise control files
	SuperviseDir = "supervise"

	// ControlFile is the control socket/FIFO file name
	ControlFile = "control"
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created files
	FileMode = 0o644
)

// Operation is a lifecycle verb fanned out to every group member
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpStart asks the service manager to start a member
	OpStart
	// OpStop asks the service manager to stop a member
	OpStop
	// OpReload asks the service manager to reload a member
	OpReload
)

// Operation string constants
const (
	opUnknownStr = "unknown"
	opStartStr   = "start"
	opStopStr    = "stop"
	opReloadStr  = "reload"
)

// String returns the string representation of an Operation.
// It is also the systemctl verb for the operation.
func (op Operation) String() string {
	switch op {
	case OpStart:
		return opStartStr
	case OpStop:
		return opStopStr
	case OpReload:
		return opReloadStr
	default:
		return opUnknownStr
	}
}

// Byte returns the supervise control byte for this operation.
// runit, daemontools and s6 agree on these three.
func (op Operation) Byte() byte {
	switch op {
	case OpStart:
		return 'u'
	case OpStop:
		return 'd'
	case OpReload:
		return 'h'
	default:
		return 0
	}
}

// ParseOperation converts a verb into an Operation
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case opStartStr:
		return OpStart, nil
	case opStopStr:
		return OpStop, nil
	case opReloadStr:
		return OpReload, nil
	default:
		return OpUnknown, fmt.Errorf("unknown operation %q", s)
	}
}

// State is the derived lifecycle state of the group as a whole
type State int

const (
	// StateStopped means no start has been issued since the last stop
	StateStopped State = iota
	// StateStarted means start was dispatched and not yet followed by a stop
	StateStarted
)

// State string constants
const (
	stateStoppedStr = "stopped"
	stateStartedStr = "started"
)

// String returns the string representation of a State
func (s State) String() string {
	if s == StateStarted {
		return stateStartedStr
	}
	return stateStoppedStr
}

// ParseState converts the string form back into a State
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case stateStartedStr:
		return StateStarted, nil
	case stateStoppedStr, "":
		return StateStopped, nil
	default:
		return StateStopped, fmt.Errorf("unknown group state %q", s)
	}
}
