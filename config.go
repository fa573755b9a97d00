package svcgroup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes a service group and how to reach its service manager.
// It is normally loaded from a YAML file:
//
//	name: grr-server
//	description: GRR Service
//	after: [syslog.target, network.target]
//	wanted_by: [multi-user.target]
//	members: [ui, http_server, worker, worker2]
//	backend: systemctl
//	unit_pattern: grr-server@%s
type Config struct {
	// Name identifies the group (also names its unit and lock)
	Name string `yaml:"name"`
	// Description is the unit description
	Description string `yaml:"description"`
	// After lists units the group is ordered after
	After []string `yaml:"after"`
	// WantedBy lists install targets of the group unit
	WantedBy []string `yaml:"wanted_by"`
	// Members are the member identifiers in fan-out order
	Members []string `yaml:"members"`
	// Backend selects the dispatch backend
	Backend BackendType `yaml:"backend"`
	// UnitPattern renders a member into a systemd unit name
	UnitPattern string `yaml:"unit_pattern"`
	// Systemctl configures the systemctl and dbus backends
	Systemctl SystemctlConfig `yaml:"systemctl"`
	// DBus configures the dbus backend
	DBus DBusConfig `yaml:"dbus"`
	// Supervise configures the runit, daemontools and s6 backends
	Supervise SuperviseConfig `yaml:"supervise"`
	// StateFile persists the group state across invocations
	StateFile string `yaml:"state_file"`
	// DispatchTimeout bounds each delegate call (0 disables)
	DispatchTimeout Duration `yaml:"dispatch_timeout"`
	// Concurrency is the number of member dispatches in flight
	Concurrency int `yaml:"concurrency"`
	// ReloadWatch lists files whose changes trigger a reload in run mode
	ReloadWatch []string `yaml:"reload_watch"`
	// MetricsTextfile is a node-exporter textfile written after each operation
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// SystemctlConfig configures systemctl invocation
type SystemctlConfig struct {
	// Command is a shell-quoted command line, e.g. "sudo -n /bin/systemctl"
	Command string `yaml:"command"`
	// User targets the user service manager
	User bool `yaml:"user"`
}

// DBusConfig configures the D-Bus backend
type DBusConfig struct {
	// JobMode is the systemd job mode (default "replace")
	JobMode string `yaml:"job_mode"`
}

// SuperviseConfig configures supervise-style backends
type SuperviseConfig struct {
	// ServiceDir holds one service directory per member
	ServiceDir string `yaml:"service_dir"`
}

// Duration is a time.Duration that decodes from Go duration strings
type Duration time.Duration

// UnmarshalYAML accepts "10s" style strings and plain integers (nanoseconds)
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", s)
	}
	*d = Duration(n)
	return nil
}

// MarshalYAML renders the duration in Go syntax
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML decodes a backend name
func (b *BackendType) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseBackend(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalYAML renders the backend name
func (b BackendType) MarshalYAML() (interface{}, error) {
	return b.String(), nil
}

// LoadConfig reads and validates a group definition file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a YAML group definition
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return nil, ce
		}
		if errors.Is(err, io.EOF) {
			return nil, &ConfigError{Err: fmt.Errorf("empty document")}
		}
		return nil, &ConfigError{Err: err}
	}
	if cfg.Backend == BackendUnknown {
		cfg.Backend = DetectBackend()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and fills defaults
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ConfigError{Field: "name", Err: fmt.Errorf("required")}
	}
	if _, err := NewGroup(c.Name, c.Members...); err != nil {
		return err
	}
	if c.UnitPattern == "" {
		c.UnitPattern = DefaultUnitPattern
	}
	if strings.Count(c.UnitPattern, "%s") > 1 {
		return &ConfigError{Field: "unit_pattern", Err: fmt.Errorf("at most one %%s placeholder allowed")}
	}
	if c.DispatchTimeout < 0 {
		return &ConfigError{Field: "dispatch_timeout", Err: fmt.Errorf("must not be negative")}
	}
	if c.Concurrency < 0 {
		return &ConfigError{Field: "concurrency", Err: fmt.Errorf("must not be negative")}
	}
	if c.Description == "" {
		c.Description = c.Name
	}
	return nil
}

// Group builds the member group described by the configuration
func (c *Config) Group() (*Group, error) {
	return NewGroup(c.Name, c.Members...)
}
