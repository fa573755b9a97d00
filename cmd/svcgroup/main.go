// svcgroup starts, stops and reloads a group of services as one unit.
//
// It is meant to be called from the lifecycle hooks of a oneshot unit
// (ExecStart/ExecStop/ExecReload) or from any other init system hook:
//
//	svcgroup --config /etc/svcgroup/grr-server.yaml start
//
// Every command returns as soon as the service manager has accepted the
// requests for all members; it never waits for members to come up.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/axondata/go-svcgroup"
)

// Exit codes
const (
	exitFailure = 1
	exitUsage   = 2
)

const defaultConfigPath = "/etc/svcgroup/group.yaml"

// exitError carries the process exit status for an error
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

func usageError(format string, args ...interface{}) error {
	return &exitError{code: exitUsage, err: fmt.Errorf(format, args...)}
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "svcgroup: %v\n", err)
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(exitFailure)
	}
}

// options holds parsed global flags
type options struct {
	configPath string
	logLevel   string
	lockWait   time.Duration
	noLock     bool

	// unit and install
	binary    string
	direct    bool
	unitDir   string
	noReload  bool
	systemctl string
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("svcgroup", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(true)
	flagSet.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "group definition file")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.DurationVar(&opts.lockWait, "lock-wait", svcgroup.DefaultLockWait, "how long to wait for a concurrent svcgroup invocation")
	flagSet.BoolVar(&opts.noLock, "no-lock", false, "do not take the machine-wide group lock")
	flagSet.StringVar(&opts.binary, "binary", "", "unit/install: make the unit call this svcgroup binary")
	flagSet.BoolVar(&opts.direct, "direct", false, "unit/install: emit systemctl lines even if --binary is set")
	flagSet.StringVar(&opts.unitDir, "unit-dir", svcgroup.DefaultUnitDir, "install: unit directory")
	flagSet.BoolVar(&opts.noReload, "no-daemon-reload", false, "install: skip systemctl daemon-reload")
	flagSet.StringVar(&opts.systemctl, "systemctl", svcgroup.DefaultSystemctlPath, "unit/install: systemctl command")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return &exitError{code: exitUsage, err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) != 1 {
		printHelp(stderr, flagSet)
		return usageError("expected exactly one command, got %d", len(rest))
	}
	command := rest[0]

	if command == "version" {
		info := svcgroup.GetVersion()
		fmt.Fprintf(stdout, "svcgroup %s (backends: %s)\n", info.Version, strings.Join(info.Backends, ", "))
		return nil
	}

	logger, err := newLogger(stderr, opts.logLevel)
	if err != nil {
		return usageError("%v", err)
	}

	cfg, err := svcgroup.LoadConfig(opts.configPath)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}

	switch command {
	case "unit":
		content, err := svcgroup.RenderUnit(cfg, unitOptions(opts))
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		_, err = io.WriteString(stdout, content)
		return err
	case "install":
		return install(ctx, cfg, opts, stdout)
	case "status":
		return status(cfg, stdout)
	}

	op, err := svcgroup.ParseOperation(command)
	if err != nil && command != "run" {
		return usageError("unknown command %q", command)
	}

	reg := prometheus.NewRegistry()
	metrics, err := svcgroup.NewMetrics(reg)
	if err != nil {
		return err
	}

	ctrl, err := svcgroup.NewControllerFromConfig(cfg,
		svcgroup.WithLogger(logger),
		svcgroup.WithMetrics(metrics),
	)
	if err != nil {
		return &exitError{code: exitUsage, err: err}
	}
	defer func() { _ = ctrl.Close() }()

	g := &groupRunner{
		cfg:      cfg,
		ctrl:     ctrl,
		logger:   logger,
		registry: reg,
		lockWait: opts.lockWait,
		noLock:   opts.noLock,
	}

	if command == "run" {
		return g.foreground(ctx)
	}
	return g.do(ctx, op)
}

func newLogger(out io.Writer, level string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(lvl)
	logger.SetFormatter(&logrus.TextFormatter{
		DisableColors: true,
		FullTimestamp: true,
	})
	return logger, nil
}

func unitOptions(opts options) svcgroup.UnitOptions {
	u := svcgroup.UnitOptions{SystemctlPath: opts.systemctl}
	if opts.binary != "" && !opts.direct {
		u.Binary = opts.binary
		u.ConfigPath = opts.configPath
	}
	return u
}

func install(ctx context.Context, cfg *svcgroup.Config, opts options, stdout io.Writer) error {
	installer := svcgroup.NewUnitInstaller()
	installer.UnitDir = opts.unitDir
	installer.SkipDaemonReload = opts.noReload
	if opts.systemctl != "" {
		words, err := shellquote.Split(opts.systemctl)
		if err != nil {
			return usageError("--systemctl: %v", err)
		}
		installer.Systemctl = words
	}

	path, err := installer.Install(ctx, cfg, unitOptions(opts))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "installed %s\n", path)
	return nil
}

func status(cfg *svcgroup.Config, stdout io.Writer) error {
	if cfg.StateFile == "" {
		return usageError("status needs state_file in %s", cfg.Name)
	}
	state, err := svcgroup.NewFileStateStore(cfg.StateFile).Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %s\n", cfg.Name, state)
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `svcgroup: start, stop and reload a group of services as one unit.

Usage:
  svcgroup [flags] <command>

Commands:
  start     dispatch a non-blocking start to every member
  stop      dispatch a non-blocking stop to every member
  reload    dispatch a non-blocking reload to every member
  run       start, reload on SIGHUP or watched file changes, stop on SIGTERM
  status    print the recorded group state
  unit      print the systemd unit for the group
  install   write the systemd unit and run daemon-reload
  version   print version information

Flags:
`)
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
