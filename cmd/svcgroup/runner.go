package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/axondata/go-svcgroup"
)

// stopTimeout bounds the final stop dispatch in run mode
const stopTimeout = 30 * time.Second

// groupRunner executes controller operations for the CLI
type groupRunner struct {
	cfg      *svcgroup.Config
	ctrl     *svcgroup.Controller
	logger   logrus.FieldLogger
	registry *prometheus.Registry
	lockWait time.Duration
	noLock   bool

	// watchDebounce overrides svcgroup.DefaultReloadDebounce when set
	watchDebounce time.Duration
}

// do runs one operation under the machine-wide group lock
func (g *groupRunner) do(ctx context.Context, op svcgroup.Operation) error {
	err := g.locked(ctx, func() error {
		return g.ctrl.Do(ctx, op)
	})
	g.writeMetrics()
	if err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	return nil
}

// foreground starts the group and keeps it started until SIGINT or SIGTERM.
// SIGHUP and changes to the reload_watch files trigger a reload.
func (g *groupRunner) foreground(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if err := g.do(ctx, svcgroup.OpStart); err != nil {
		return err
	}

	var (
		events  <-chan svcgroup.ReloadEvent
		cleanup svcgroup.WatchCleanupFunc
	)
	if len(g.cfg.ReloadWatch) > 0 {
		ch, stop, err := g.watchReloads(ctx)
		if err != nil {
			g.logger.WithError(err).Warn("file watch disabled")
		} else {
			defer func() { _ = stop() }()
			events, cleanup = ch, stop
		}
	}

	for {
		select {
		case <-ctx.Done():
			// A watch-triggered reload may still be dispatching; the stop
			// would be rejected as busy until it returns.
			if cleanup != nil {
				if err := cleanup(); err != nil {
					g.logger.WithError(err).Warn("stopping file watch")
				}
			}

			g.logger.Info("stopping group")
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			err := g.do(stopCtx, svcgroup.OpStop)
			stopCancel()
			return err

		case <-hup:
			if err := g.do(ctx, svcgroup.OpReload); err != nil {
				g.logger.WithError(err).Error("reload failed")
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Err != nil {
				g.logger.WithError(ev.Err).WithField("path", ev.Path).Error("reload after file change failed")
			}
		}
	}
}

// watchReloads reloads the group under the group lock whenever a
// reload_watch file changes
func (g *groupRunner) watchReloads(ctx context.Context) (<-chan svcgroup.ReloadEvent, svcgroup.WatchCleanupFunc, error) {
	return svcgroup.WatchChanges(ctx, g.watchDebounce, func(ctx context.Context, path string) error {
		g.logger.WithField("path", path).Info("watched file changed, reloading")
		return g.do(ctx, svcgroup.OpReload)
	}, g.cfg.ReloadWatch...)
}

// locked runs fn while holding the group's machine-wide mutex
func (g *groupRunner) locked(ctx context.Context, fn func() error) error {
	if g.noLock {
		return fn()
	}

	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    lockName(g.cfg.Name),
		Clock:   clock.WallClock,
		Delay:   10 * time.Millisecond,
		Timeout: g.lockWait,
		Cancel:  ctx.Done(),
	})
	switch {
	case errors.Is(err, mutex.ErrTimeout):
		return svcgroup.ErrBusy
	case err != nil:
		return fmt.Errorf("acquiring group lock: %w", err)
	}
	defer releaser.Release()

	return fn()
}

func (g *groupRunner) writeMetrics() {
	if g.cfg.MetricsTextfile == "" {
		return
	}
	if err := prometheus.WriteToTextfile(g.cfg.MetricsTextfile, g.registry); err != nil {
		g.logger.WithError(err).Warn("writing metrics textfile")
	}
}

var lockNameInvalid = regexp.MustCompile(`[^a-z0-9.-]+`)

// maxLockName is the longest name juju/mutex accepts
const maxLockName = 40

// lockName turns a group name into a valid mutex name
func lockName(group string) string {
	name := "svcgroup-" + lockNameInvalid.ReplaceAllString(strings.ToLower(group), "-")
	if len(name) > maxLockName {
		name = name[:maxLockName]
	}
	return strings.TrimRight(name, "-.")
}
