package svcgroup

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/kballard/go-shellquote"
)

// UnitOptions controls how the group's own systemd unit is rendered
type UnitOptions struct {
	// Binary, when set, makes the unit call this svcgroup binary instead of
	// issuing systemctl commands directly
	Binary string
	// ConfigPath is passed to Binary with --config
	ConfigPath string
	// SystemctlPath is used for direct systemctl lines (default /bin/systemctl)
	SystemctlPath string
}

// UnitFileName returns the file name of the group unit
func UnitFileName(cfg *Config) string {
	return cfg.Name + ".service"
}

// RenderUnit renders a oneshot unit that starts, stops and reloads the
// whole group and stays active after ExecStart exits
func RenderUnit(cfg *Config, opts UnitOptions) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	var unit strings.Builder

	unit.WriteString("[Unit]\n")
	unit.WriteString(fmt.Sprintf("Description=%s\n", cfg.Description))
	if len(cfg.After) > 0 {
		unit.WriteString(fmt.Sprintf("After=%s\n", strings.Join(cfg.After, " ")))
	}
	unit.WriteString("# Managed by svcgroup\n")
	unit.WriteString("\n")

	unit.WriteString("[Service]\n")
	unit.WriteString("Type=oneshot\n")
	unit.WriteString("RemainAfterExit=yes\n")
	for _, op := range []Operation{OpStart, OpStop, OpReload} {
		unit.WriteString(fmt.Sprintf("Exec%s=%s\n", directiveSuffix(op), execLine(cfg, opts, op)))
	}

	if len(cfg.WantedBy) > 0 {
		unit.WriteString("\n")
		unit.WriteString("[Install]\n")
		unit.WriteString(fmt.Sprintf("WantedBy=%s\n", strings.Join(cfg.WantedBy, " ")))
	}

	return unit.String(), nil
}

func directiveSuffix(op Operation) string {
	switch op {
	case OpStart:
		return "Start"
	case OpStop:
		return "Stop"
	default:
		return "Reload"
	}
}

func execLine(cfg *Config, opts UnitOptions, op Operation) string {
	if opts.Binary != "" {
		args := []string{opts.Binary}
		if opts.ConfigPath != "" {
			args = append(args, "--config", opts.ConfigPath)
		}
		args = append(args, op.String())
		return shellquote.Join(args...)
	}

	systemctl := opts.SystemctlPath
	if systemctl == "" {
		systemctl = DefaultSystemctlPath
	}
	args := []string{systemctl}
	if cfg.Systemctl.User {
		args = append(args, "--user")
	}
	args = append(args, "--no-block", op.String())
	for _, member := range cfg.Members {
		args = append(args, UnitName(cfg.UnitPattern, member))
	}
	return shellquote.Join(args...)
}

// UnitInstaller writes the group unit into a unit directory and reloads systemd
type UnitInstaller struct {
	// UnitDir is the directory where unit files are written
	UnitDir string
	// Systemctl is the systemctl command (possibly prefixed by sudo)
	Systemctl []string
	// SkipDaemonReload disables the daemon-reload after writing
	SkipDaemonReload bool
}

// NewUnitInstaller creates a UnitInstaller with default paths
func NewUnitInstaller() *UnitInstaller {
	return &UnitInstaller{
		UnitDir:   DefaultUnitDir,
		Systemctl: []string{DefaultSystemctlPath},
	}
}

// Install renders and atomically writes the unit, then runs daemon-reload.
// It returns the path written.
func (i *UnitInstaller) Install(ctx context.Context, cfg *Config, opts UnitOptions) (string, error) {
	content, err := RenderUnit(cfg, opts)
	if err != nil {
		return "", fmt.Errorf("generating unit file: %w", err)
	}

	unitPath := filepath.Join(i.UnitDir, UnitFileName(cfg))
	if err := renameio.WriteFile(unitPath, []byte(content), FileMode); err != nil {
		return "", fmt.Errorf("writing unit file: %w", err)
	}

	if i.SkipDaemonReload {
		return unitPath, nil
	}
	if err := i.daemonReload(ctx); err != nil {
		return unitPath, fmt.Errorf("reloading systemd: %w", err)
	}
	return unitPath, nil
}

// daemonReload runs systemctl daemon-reload
func (i *UnitInstaller) daemonReload(ctx context.Context) error {
	if len(i.Systemctl) == 0 {
		return fmt.Errorf("systemctl command not configured")
	}
	args := append(append([]string{}, i.Systemctl[1:]...), "daemon-reload")
	cmd := exec.CommandContext(ctx, i.Systemctl[0], args...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("daemon-reload failed: %w (output: %s)", err, out.String())
	}
	return nil
}
