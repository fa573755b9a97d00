package svcgroup

import (
	"context"
	"strings"
)

// Request is a single delegate call for one member
type Request struct {
	// Op is the lifecycle verb
	Op Operation
	// Member is the member identifier as configured in the group
	Member string
	// NoBlock asks the service manager to return once the request is queued
	NoBlock bool
}

// Dispatcher hands lifecycle requests to an external service manager.
// A nil error means the request was acknowledged, not that the member
// reached the requested state.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// DispatcherFunc adapts a function to the Dispatcher interface
type DispatcherFunc func(ctx context.Context, req Request) error

// Dispatch calls f(ctx, req)
func (f DispatcherFunc) Dispatch(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// UnitName renders member through pattern. A pattern without a %s
// placeholder is treated as a prefix.
func UnitName(pattern, member string) string {
	if pattern == "" {
		pattern = DefaultUnitPattern
	}
	if !strings.Contains(pattern, "%s") {
		return pattern + member
	}
	return strings.Replace(pattern, "%s", member, 1)
}
