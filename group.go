package svcgroup

import (
	"strings"
)

// Group is an ordered, duplicate-free set of member service identifiers.
// It is immutable once constructed.
type Group struct {
	name    string
	members []string
}

// NewGroup validates members and returns a Group.
// Members are kept in the order given; that order is the fan-out order.
func NewGroup(name string, members ...string) (*Group, error) {
	if len(members) == 0 {
		return nil, &ConfigError{Field: "members", Err: ErrEmptyGroup}
	}

	seen := make(map[string]struct{}, len(members))
	ms := make([]string, 0, len(members))
	for _, m := range members {
		if strings.TrimSpace(m) == "" {
			return nil, &ConfigError{Field: "members", Err: ErrBlankMember}
		}
		// Members are joined onto service directories
		if strings.Contains(m, "/") || m == "." || m == ".." {
			return nil, &ConfigError{Field: "members", Err: &memberError{member: m, err: ErrInvalidMember}}
		}
		if _, dup := seen[m]; dup {
			return nil, &ConfigError{Field: "members", Err: &memberError{member: m, err: ErrDuplicateMember}}
		}
		seen[m] = struct{}{}
		ms = append(ms, m)
	}

	return &Group{name: name, members: ms}, nil
}

// Name returns the group name (may be empty)
func (g *Group) Name() string {
	return g.name
}

// Members returns a copy of the member identifiers in fan-out order
func (g *Group) Members() []string {
	out := make([]string, len(g.members))
	copy(out, g.members)
	return out
}

// Len returns the number of members
func (g *Group) Len() int {
	return len(g.members)
}

// Contains reports whether member belongs to the group
func (g *Group) Contains(member string) bool {
	for _, m := range g.members {
		if m == member {
			return true
		}
	}
	return false
}

// memberError attaches the offending identifier to a validation sentinel
type memberError struct {
	member string
	err    error
}

func (e *memberError) Error() string {
	return e.err.Error() + " " + `"` + e.member + `"`
}

func (e *memberError) Unwrap() error {
	return e.err
}
