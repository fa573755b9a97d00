package svcgroup

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/util"
)

// BackendType selects how requests reach the service manager
type BackendType int

const (
	// BackendUnknown represents an unknown backend
	BackendUnknown BackendType = iota
	// BackendSystemctl runs the systemctl command
	BackendSystemctl
	// BackendDBus talks to systemd over D-Bus
	BackendDBus
	// BackendRunit writes runit supervise control bytes
	BackendRunit
	// BackendDaemontools writes daemontools supervise control bytes
	BackendDaemontools
	// BackendS6 writes s6 supervise control bytes
	BackendS6
)

// BackendType string constants
const (
	backendUnknownStr     = "unknown"
	backendSystemctlStr   = "systemctl"
	backendDBusStr        = "dbus"
	backendRunitStr       = "runit"
	backendDaemontoolsStr = "daemontools"
	backendS6Str          = "s6"
)

// String returns the string representation of BackendType
func (b BackendType) String() string {
	switch b {
	case BackendSystemctl:
		return backendSystemctlStr
	case BackendDBus:
		return backendDBusStr
	case BackendRunit:
		return backendRunitStr
	case BackendDaemontools:
		return backendDaemontoolsStr
	case BackendS6:
		return backendS6Str
	case BackendUnknown:
		fallthrough
	default:
		return backendUnknownStr
	}
}

// IsSupervise reports whether the backend writes supervise control files
func (b BackendType) IsSupervise() bool {
	return b == BackendRunit || b == BackendDaemontools || b == BackendS6
}

// ParseBackend converts a backend name into a BackendType.
// An empty name selects DetectBackend().
func ParseBackend(name string) (BackendType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return DetectBackend(), nil
	case backendSystemctlStr, "systemd":
		return BackendSystemctl, nil
	case backendDBusStr:
		return BackendDBus, nil
	case backendRunitStr:
		return BackendRunit, nil
	case backendDaemontoolsStr:
		return BackendDaemontools, nil
	case backendS6Str:
		return BackendS6, nil
	default:
		return BackendUnknown, &ConfigError{Field: "backend", Err: fmt.Errorf("%w %q", ErrUnknownBackend, name)}
	}
}

// DetectBackend picks systemctl when systemd is the running init system,
// runit otherwise
var DetectBackend = func() BackendType {
	if util.IsRunningSystemd() {
		return BackendSystemctl
	}
	return BackendRunit
}

// NewDispatcher creates the Dispatcher described by cfg
func NewDispatcher(cfg *Config) (Dispatcher, error) {
	switch cfg.Backend {
	case BackendSystemctl:
		d := NewSystemctlDispatcher().
			WithUnitPattern(cfg.UnitPattern).
			WithUser(cfg.Systemctl.User)
		if cfg.Systemctl.Command != "" {
			if _, err := d.WithCommandLine(cfg.Systemctl.Command); err != nil {
				return nil, err
			}
		}
		return d, nil
	case BackendDBus:
		factory := SystemBus
		if cfg.Systemctl.User {
			factory = UserBus
		}
		return NewDBusDispatcher(factory).
			WithUnitPattern(cfg.UnitPattern).
			WithMode(cfg.DBus.JobMode), nil
	case BackendRunit, BackendDaemontools, BackendS6:
		return NewSuperviseDispatcher(cfg.Backend, cfg.Supervise.ServiceDir), nil
	default:
		return nil, &ConfigError{Field: "backend", Err: fmt.Errorf("%w %q", ErrUnknownBackend, cfg.Backend)}
	}
}
