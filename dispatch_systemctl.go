package svcgroup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// SystemctlDispatcher delegates requests to the systemctl command.
// Each request becomes one `systemctl [--user] [--no-block] <verb> <unit>` call.
type SystemctlDispatcher struct {
	// Command is the systemctl invocation, possibly prefixed by sudo
	// (e.g. []string{"sudo", "-n", "/bin/systemctl"})
	Command []string

	// UnitPattern renders a member into a unit name (see UnitName)
	UnitPattern string

	// User targets the calling user's service manager
	User bool

	// Env is appended to the process environment of every call
	Env []string
}

// NewSystemctlDispatcher creates a SystemctlDispatcher using the default
// systemctl binary and unit pattern
func NewSystemctlDispatcher() *SystemctlDispatcher {
	return &SystemctlDispatcher{
		Command:     []string{DefaultSystemctlPath},
		UnitPattern: DefaultUnitPattern,
	}
}

// WithCommandLine parses a shell-quoted command line such as
// "sudo -n /bin/systemctl" into Command
func (d *SystemctlDispatcher) WithCommandLine(line string) (*SystemctlDispatcher, error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return nil, &ConfigError{Field: "systemctl.command", Err: err}
	}
	if len(words) == 0 {
		return nil, &ConfigError{Field: "systemctl.command", Err: fmt.Errorf("empty command")}
	}
	d.Command = words
	return d, nil
}

// WithUnitPattern sets the unit name pattern
func (d *SystemctlDispatcher) WithUnitPattern(pattern string) *SystemctlDispatcher {
	d.UnitPattern = pattern
	return d
}

// WithUser selects the per-user service manager
func (d *SystemctlDispatcher) WithUser(user bool) *SystemctlDispatcher {
	d.User = user
	return d
}

// Args returns the argument vector for req, including the command itself
func (d *SystemctlDispatcher) Args(req Request) []string {
	args := make([]string, 0, len(d.Command)+4)
	args = append(args, d.Command...)
	if d.User {
		args = append(args, "--user")
	}
	if req.NoBlock {
		args = append(args, "--no-block")
	}
	args = append(args, req.Op.String(), UnitName(d.UnitPattern, req.Member))
	return args
}

// Dispatch runs systemctl for req. A non-zero exit status is returned as an
// error carrying systemctl's stderr.
func (d *SystemctlDispatcher) Dispatch(ctx context.Context, req Request) error {
	switch req.Op {
	case OpStart, OpStop, OpReload:
	default:
		return fmt.Errorf("unsupported operation: %v", req.Op)
	}
	if len(d.Command) == 0 {
		return fmt.Errorf("systemctl command not configured")
	}

	args := d.Args(req)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if len(d.Env) > 0 {
		cmd.Env = append(os.Environ(), d.Env...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return err
		}
		return fmt.Errorf("%w (stderr: %s)", err, msg)
	}
	return nil
}
