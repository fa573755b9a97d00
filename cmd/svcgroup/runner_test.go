//go:build linux || darwin

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axondata/go-svcgroup"
)

// watchFile adds a reload_watch entry to the fixture config and returns it
func (f *fixture) watchFile(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(f.dir, "etc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "server.local.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o644))

	cfg, err := os.OpenFile(f.configPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	defer cfg.Close()
	_, err = cfg.WriteString("reload_watch:\n  - " + path + "\n")
	require.NoError(t, err)
	return path
}

func (f *fixture) clearControls(t *testing.T) {
	t.Helper()
	for _, m := range members {
		path := filepath.Join(f.serviceDir, m, svcgroup.SuperviseDir, svcgroup.ControlFile)
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
}

// allControls reports whether every member's control file holds want.
// It is safe to call from require.Eventually.
func (f *fixture) allControls(want string) bool {
	for _, m := range members {
		data, err := os.ReadFile(filepath.Join(f.serviceDir, m, svcgroup.SuperviseDir, svcgroup.ControlFile))
		if err != nil || string(data) != want {
			return false
		}
	}
	return true
}

// lockedBuffer is a bytes.Buffer safe for the logger and the test to share
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunForeground(t *testing.T) {
	f := newFixture(t, "grr-server", members...)
	watched := f.watchFile(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stdout, stderr lockedBuffer
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-c", f.configPath, "--log-level", "debug", "run"}, &stdout, &stderr)
	}()

	require.Eventually(t, func() bool { return f.allControls("u") }, 5*time.Second, 10*time.Millisecond,
		"start was not dispatched: %s", stderr.String())

	// SIGHUP reloads
	f.clearControls(t)
	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
	require.Eventually(t, func() bool { return f.allControls("h") }, 5*time.Second, 10*time.Millisecond,
		"SIGHUP did not reload: %s", stderr.String())

	// So does editing a watched file
	f.clearControls(t)
	require.NoError(t, os.WriteFile(watched, []byte("a: 2\n"), 0o644))
	require.Eventually(t, func() bool { return f.allControls("h") }, 5*time.Second, 10*time.Millisecond,
		"file change did not reload: %s", stderr.String())

	// Metrics are written after the watch-triggered reload
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(f.metrics)
		return err == nil && strings.Contains(string(data),
			`svcgroup_operations_total{group="grr-server",op="reload",result="success"} 2`)
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err, stderr.String())
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancellation")
	}

	assert.True(t, f.allControls("d"), "stop was not dispatched to every member")

	out, _, err := runCLI("-c", f.configPath, "status")
	require.NoError(t, err)
	assert.Equal(t, "grr-server: stopped\n", out)
}

// slowReloads records every request and holds reloads until release closes
type slowReloads struct {
	mu      sync.Mutex
	ops     []svcgroup.Operation
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *slowReloads) Dispatch(_ context.Context, req svcgroup.Request) error {
	if req.Op == svcgroup.OpReload {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, req.Op)
	return nil
}

func (s *slowReloads) Ops() []svcgroup.Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]svcgroup.Operation(nil), s.ops...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestForegroundStopsAfterInFlightReload(t *testing.T) {
	watched := filepath.Join(t.TempDir(), "grr.yaml")

	d := &slowReloads{entered: make(chan struct{}), release: make(chan struct{})}
	group, err := svcgroup.NewGroup("grr-server", members...)
	require.NoError(t, err)
	ctrl, err := svcgroup.NewController(group, d)
	require.NoError(t, err)

	g := &groupRunner{
		cfg:           &svcgroup.Config{Name: "grr-server", ReloadWatch: []string{watched}},
		ctrl:          ctrl,
		logger:        quietLogger(),
		registry:      prometheus.NewRegistry(),
		noLock:        true,
		watchDebounce: 10 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.foreground(ctx) }()

	require.Eventually(t, func() bool { return ctrl.State() == svcgroup.StateStarted }, 5*time.Second, 10*time.Millisecond)

	// Retry the write until the watcher is in place and the reload starts
	require.Eventually(t, func() bool {
		if err := os.WriteFile(watched, []byte("x"), 0o644); err != nil {
			return false
		}
		select {
		case <-d.entered:
			return true
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// Shut down while the reload is still dispatching
	cancel()
	time.AfterFunc(200*time.Millisecond, func() { close(d.release) })

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("foreground did not return")
	}

	assert.Equal(t, svcgroup.StateStopped, ctrl.State())
	ops := d.Ops()
	require.GreaterOrEqual(t, len(ops), len(members))
	for _, op := range ops[len(ops)-len(members):] {
		assert.Equal(t, svcgroup.OpStop, op)
	}
}

func TestWatchReloadsTakeGroupLock(t *testing.T) {
	name := "grr-watch-lock"
	f := newFixture(t, name, members...)
	watched := filepath.Join(t.TempDir(), "grr.yaml")

	cfg, err := svcgroup.LoadConfig(f.configPath)
	require.NoError(t, err)
	cfg.ReloadWatch = []string{watched}
	ctrl, err := svcgroup.NewControllerFromConfig(cfg)
	require.NoError(t, err)

	g := &groupRunner{
		cfg:           cfg,
		ctrl:          ctrl,
		logger:        quietLogger(),
		registry:      prometheus.NewRegistry(),
		lockWait:      50 * time.Millisecond,
		watchDebounce: 10 * time.Millisecond,
	}

	releaser, err := mutex.Acquire(mutex.Spec{
		Name:    lockName(name),
		Clock:   clock.WallClock,
		Delay:   10 * time.Millisecond,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	defer releaser.Release()

	events, cleanup, err := g.watchReloads(context.Background())
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	require.NoError(t, os.WriteFile(watched, []byte("x"), 0o644))

	select {
	case ev := <-events:
		assert.ErrorIs(t, ev.Err, svcgroup.ErrBusy)
		assert.Equal(t, watched, ev.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no event after file change")
	}
	assert.Equal(t, "", f.control(t, "ui"), "nothing is dispatched without the lock")
}
