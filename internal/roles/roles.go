package roles

import (
	"fmt"
	"sort"
)

// Role is a capability flag attached to an account.
type Role string

const (
	// Active marks an account that confirmed its email (or was trusted by a provider).
	Active Role = "ACTIVE"
	// NotActive marks an account still pending email confirmation.
	NotActive Role = "NOT_ACTIVE"
	// CanRename is a one-time grant allowing a login name change.
	CanRename Role = "CAN_RENAME"
)

// Valid reports whether the role belongs to the known vocabulary.
func (r Role) Valid() bool {
	switch r {
	case Active, NotActive, CanRename:
		return true
	}
	return false
}

// Set is a small set of capability flags. Every account holds exactly one of
// Active/NotActive at any time; Set maintains that pair atomically.
type Set struct {
	members map[Role]struct{}
}

// NewSet builds a set holding the given roles.
func NewSet(members ...Role) Set {
	s := Set{members: make(map[Role]struct{}, len(members))}
	for _, r := range members {
		s.members[r] = struct{}{}
	}
	return s
}

// FromStrings decodes a persisted role list. Unknown names are rejected.
func FromStrings(names []string) (Set, error) {
	s := Set{members: make(map[Role]struct{}, len(names))}
	for _, name := range names {
		r := Role(name)
		if !r.Valid() {
			return Set{}, fmt.Errorf("roles: unknown role %q", name)
		}
		s.members[r] = struct{}{}
	}
	return s, nil
}

// Has reports membership.
func (s Set) Has(r Role) bool {
	_, ok := s.members[r]
	return ok
}

// Add inserts a role.
func (s *Set) Add(r Role) {
	if s.members == nil {
		s.members = make(map[Role]struct{})
	}
	s.members[r] = struct{}{}
}

// Remove deletes a role.
func (s *Set) Remove(r Role) {
	delete(s.members, r)
}

// Activate swaps NotActive for Active in one step so the activation-pair
// invariant never observes an intermediate state.
func (s *Set) Activate() {
	s.Remove(NotActive)
	s.Add(Active)
}

// IsActive reports whether the account holds the Active flag.
func (s Set) IsActive() bool {
	return s.Has(Active)
}

// ActivationPairValid reports whether exactly one of Active/NotActive is held.
func (s Set) ActivationPairValid() bool {
	return s.Has(Active) != s.Has(NotActive)
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := Set{members: make(map[Role]struct{}, len(s.members))}
	for r := range s.members {
		out.members[r] = struct{}{}
	}
	return out
}

// Strings returns the members in stable order for persistence.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s.members))
	for r := range s.members {
		out = append(out, string(r))
	}
	sort.Strings(out)
	return out
}

// Len returns the member count.
func (s Set) Len() int {
	return len(s.members)
}
