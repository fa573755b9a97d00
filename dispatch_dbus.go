package svcgroup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
)

// DBusConn is the subset of the systemd D-Bus API used for dispatch.
// *dbus.Conn satisfies it.
type DBusConn interface {
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ReloadUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// DBusConnFactory opens a new connection to systemd
type DBusConnFactory func(ctx context.Context) (DBusConn, error)

// SystemBus connects to the system instance of systemd
func SystemBus(ctx context.Context) (DBusConn, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// UserBus connects to the calling user's instance of systemd
func UserBus(ctx context.Context) (DBusConn, error) {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// DBusDispatcher queues systemd jobs over D-Bus instead of spawning systemctl.
// The connection is opened on first use and reused until Close, or until a
// call fails for a reason other than a D-Bus error reply.
type DBusDispatcher struct {
	// UnitPattern renders a member into a unit name (see UnitName)
	UnitPattern string

	// Mode is the systemd job mode (replace, fail, ...)
	Mode string

	newConn DBusConnFactory

	mu   sync.Mutex
	conn DBusConn
}

// NewDBusDispatcher creates a DBusDispatcher. A nil factory selects the system bus.
func NewDBusDispatcher(factory DBusConnFactory) *DBusDispatcher {
	if factory == nil {
		factory = SystemBus
	}
	return &DBusDispatcher{
		UnitPattern: DefaultUnitPattern,
		Mode:        DefaultJobMode,
		newConn:     factory,
	}
}

// WithUnitPattern sets the unit name pattern
func (d *DBusDispatcher) WithUnitPattern(pattern string) *DBusDispatcher {
	d.UnitPattern = pattern
	return d
}

// WithMode sets the systemd job mode
func (d *DBusDispatcher) WithMode(mode string) *DBusDispatcher {
	if mode != "" {
		d.Mode = mode
	}
	return d
}

func (d *DBusDispatcher) connection(ctx context.Context) (DBusConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		return d.conn, nil
	}
	conn, err := d.newConn(ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to systemd: %w", err)
	}
	d.conn = conn
	return conn, nil
}

// Dispatch queues a start/stop/reload job for the member's unit.
// With NoBlock the call returns as soon as systemd accepted the job;
// otherwise it waits for the job result.
func (d *DBusDispatcher) Dispatch(ctx context.Context, req Request) error {
	conn, err := d.connection(ctx)
	if err != nil {
		return err
	}

	var call func(context.Context, string, string, chan<- string) (int, error)
	switch req.Op {
	case OpStart:
		call = conn.StartUnitContext
	case OpStop:
		call = conn.StopUnitContext
	case OpReload:
		call = conn.ReloadUnitContext
	default:
		return fmt.Errorf("unsupported operation: %v", req.Op)
	}

	unit := UnitName(d.UnitPattern, req.Member)

	// A nil channel tells go-systemd not to track the job.
	var resultCh chan string
	if !req.NoBlock {
		resultCh = make(chan string, 1)
	}

	if _, err := call(ctx, unit, d.Mode, resultCh); err != nil {
		if brokenConn(err) {
			d.drop(conn)
		}
		return fmt.Errorf("dbus %s request for %s: %w", req.Op, unit, err)
	}
	if resultCh == nil {
		return nil
	}

	select {
	case result := <-resultCh:
		if result != "done" {
			return fmt.Errorf("%w: %s %s: %s", ErrJobFailed, req.Op, unit, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// brokenConn reports whether err came from the transport rather than from
// systemd answering the call
func brokenConn(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reply godbus.Error
	if errors.As(err, &reply) {
		return false
	}
	var replyPtr *godbus.Error
	return !errors.As(err, &replyPtr)
}

// drop closes conn and forgets it so the next dispatch reconnects.
// A connection already replaced by another dispatch is left alone.
func (d *DBusDispatcher) drop(conn DBusConn) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != conn {
		return
	}
	d.conn.Close()
	d.conn = nil
}

// Close releases the D-Bus connection, if one was opened
func (d *DBusDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}
