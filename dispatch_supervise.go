//go:build linux || darwin

package svcgroup

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/axondata/go-svcgroup/internal/unix"
)

// SuperviseDispatcher delivers requests to runit, daemontools or s6 by
// writing one control byte to <ServiceDir>/<member>/supervise/control.
// The write never waits for the supervisor to act on it.
type SuperviseDispatcher struct {
	// Type is the supervision flavour (used for messages only)
	Type BackendType

	// ServiceDir is the directory holding one service directory per member
	ServiceDir string

	// DialTimeout bounds connecting to a control socket
	DialTimeout time.Duration

	// WriteTimeout bounds writing the control byte to a socket
	WriteTimeout time.Duration
}

// NewSuperviseDispatcher creates a SuperviseDispatcher for serviceDir
func NewSuperviseDispatcher(typ BackendType, serviceDir string) *SuperviseDispatcher {
	if serviceDir == "" {
		serviceDir = DefaultServiceDir
	}
	return &SuperviseDispatcher{
		Type:         typ,
		ServiceDir:   serviceDir,
		DialTimeout:  2 * time.Second,
		WriteTimeout: 1 * time.Second,
	}
}

// ControlPath returns the control endpoint for member
func (d *SuperviseDispatcher) ControlPath(member string) string {
	return filepath.Join(d.ServiceDir, member, SuperviseDir, ControlFile)
}

// Dispatch writes the control byte for req. It makes a single attempt:
// first as a unix socket client, then through the FIFO opened non-blocking,
// which fails straight away when no supervisor is reading.
func (d *SuperviseDispatcher) Dispatch(ctx context.Context, req Request) error {
	cmd := req.Op.Byte()
	if cmd == 0 {
		return fmt.Errorf("unsupported operation: %v", req.Op)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	controlPath := d.ControlPath(req.Member)

	dialer := net.Dialer{Timeout: d.DialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", controlPath)
	if err == nil {
		defer func() { _ = conn.Close() }()

		if d.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(d.WriteTimeout))
		}
		if _, err := conn.Write([]byte{cmd}); err != nil {
			return fmt.Errorf("writing %s control %q: %w", d.Type, controlPath, err)
		}
		return nil
	}

	file, err := os.OpenFile(controlPath, os.O_WRONLY|unix.ONonblock, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s control %q: %w", d.Type, controlPath, err)
		}
		return fmt.Errorf("%s control %q: %w: %v", d.Type, controlPath, ErrControlNotReady, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write([]byte{cmd}); err != nil {
		return fmt.Errorf("writing %s control %q: %w", d.Type, controlPath, err)
	}
	return nil
}
