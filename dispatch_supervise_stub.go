//go:build !linux && !darwin

package svcgroup

import (
	"context"
	"path/filepath"
)

// SuperviseDispatcher delivers requests to supervise control files (Unix only)
type SuperviseDispatcher struct {
	Type       BackendType
	ServiceDir string
}

// NewSuperviseDispatcher creates a SuperviseDispatcher (stub for unsupported platforms)
func NewSuperviseDispatcher(typ BackendType, serviceDir string) *SuperviseDispatcher {
	if serviceDir == "" {
		serviceDir = DefaultServiceDir
	}
	return &SuperviseDispatcher{Type: typ, ServiceDir: serviceDir}
}

// ControlPath returns the control endpoint for member
func (d *SuperviseDispatcher) ControlPath(member string) string {
	return filepath.Join(d.ServiceDir, member, SuperviseDir, ControlFile)
}

// Dispatch always fails on this platform
func (d *SuperviseDispatcher) Dispatch(_ context.Context, _ Request) error {
	return ErrUnsupportedPlatform
}
