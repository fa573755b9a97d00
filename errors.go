package svcgroup

import (
	"errors"
	"fmt"
)

// Common errors returned by svcgroup operations
var (
	// ErrEmptyGroup indicates a group was defined without members
	ErrEmptyGroup = errors.New("svcgroup: group has no members")

	// ErrDuplicateMember indicates a member identifier appears more than once
	ErrDuplicateMember = errors.New("svcgroup: duplicate member")

	// ErrBlankMember indicates an empty or whitespace-only member identifier
	ErrBlankMember = errors.New("svcgroup: blank member")

	// ErrInvalidMember indicates a member identifier that cannot name a
	// service directory or unit, such as one containing a path separator
	ErrInvalidMember = errors.New("svcgroup: invalid member")

	// ErrUnknownBackend indicates an unsupported dispatch backend name
	ErrUnknownBackend = errors.New("svcgroup: unknown backend")

	// ErrBusy indicates another lifecycle operation on the group is in progress
	ErrBusy = errors.New("svcgroup: operation already in progress")

	// ErrControlNotReady indicates the supervise control socket/FIFO is not accepting writes
	ErrControlNotReady = errors.New("svcgroup: control not accepting connections")

	// ErrUnsupportedPlatform indicates the backend is not available on this OS
	ErrUnsupportedPlatform = errors.New("svcgroup: backend not supported on this platform")

	// ErrJobFailed indicates a systemd job finished with a result other than "done"
	ErrJobFailed = errors.New("svcgroup: systemd job did not complete")
)

// ConfigError reports an invalid group definition or configuration.
// It is returned before any dispatch is attempted.
type ConfigError struct {
	// Field names the offending setting
	Field string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("svcgroup config: %v", e.Err)
	}
	return fmt.Sprintf("svcgroup config %s: %v", e.Field, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// DispatchError represents a failed delegate call for one member
type DispatchError struct {
	// Op is the operation that failed
	Op Operation
	// Member is the group member the request was for
	Member string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *DispatchError) Error() string {
	return fmt.Sprintf("svcgroup %s %q: %v", e.Op.String(), e.Member, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from bulk operations
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(m.Errors), m.Errors[0])
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

// Unwrap exposes the accumulated errors to errors.Is and errors.As
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// FailedMembers returns the members of every DispatchError in the collection
func (m *MultiError) FailedMembers() []string {
	var members []string
	for _, err := range m.Errors {
		var de *DispatchError
		if errors.As(err, &de) {
			members = append(members, de.Member)
		}
	}
	return members
}
