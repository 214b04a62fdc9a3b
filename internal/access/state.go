package access

import (
	"maps"
	"slices"
	"time"
)

// User is the per-principal record, keyed by account id in State.Users.
type User struct {
	Handle     string    `json:"handle,omitempty"`
	AnonTag    int       `json:"anon_tag"`
	MutedUntil time.Time `json:"muted_until,omitzero"`
}

// State is the full persisted snapshot. Handle sets are kept sorted and
// free of duplicates.
type State struct {
	Allowed       []string                       `json:"allowed"`
	Admins        []string                       `json:"admins"`
	Permissions   map[string]map[Capability]bool `json:"permissions"`
	Users         map[string]User                `json:"users"`
	Banned        []string                       `json:"banned"`
	MessageCount  int64                          `json:"message_count"`
	AdminChatOnly bool                           `json:"admin_chat_enabled"`
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	cp := &State{
		Allowed:       slices.Clone(s.Allowed),
		Admins:        slices.Clone(s.Admins),
		Banned:        slices.Clone(s.Banned),
		Users:         maps.Clone(s.Users),
		MessageCount:  s.MessageCount,
		AdminChatOnly: s.AdminChatOnly,
		Permissions:   make(map[string]map[Capability]bool, len(s.Permissions)),
	}
	if cp.Users == nil {
		cp.Users = make(map[string]User)
	}
	for h, set := range s.Permissions {
		cp.Permissions[h] = maps.Clone(set)
	}
	return cp
}

// newState returns an empty state with every collection allocated.
func newState() *State {
	return &State{
		Allowed:     []string{},
		Admins:      []string{},
		Banned:      []string{},
		Permissions: make(map[string]map[Capability]bool),
		Users:       make(map[string]User),
	}
}

// normalize repairs a decoded state: sets are re-sorted and de-duplicated,
// invalid handles and unknown capabilities are dropped, nil maps are
// allocated.
func (s *State) normalize() {
	s.Allowed = normalizeSet(s.Allowed)
	s.Admins = normalizeSet(s.Admins)
	s.Banned = normalizeSet(s.Banned)
	if s.Users == nil {
		s.Users = make(map[string]User)
	}
	perms := make(map[string]map[Capability]bool, len(s.Permissions))
	for raw, set := range s.Permissions {
		h, err := NormalizeHandle(raw)
		if err != nil {
			continue
		}
		clean := perms[h]
		if clean == nil {
			clean = make(map[Capability]bool)
		}
		for c, on := range set {
			if c.Valid() {
				clean[c] = clean[c] || on
			}
		}
		perms[h] = clean
	}
	s.Permissions = perms
	for id, u := range s.Users {
		if u.Handle == "" {
			continue
		}
		if h, err := NormalizeHandle(u.Handle); err == nil {
			u.Handle = h
		} else {
			u.Handle = ""
		}
		u.MutedUntil = u.MutedUntil.UTC()
		s.Users[id] = u
	}
}

// seed enforces the bootstrap invariants: every bootstrap admin is an
// allowed admin holding every capability and is never banned. It reports
// whether anything changed.
func (s *State) seed(bootstrap []string) bool {
	changed := false
	for _, h := range bootstrap {
		if insertSorted(&s.Admins, h) {
			changed = true
		}
		if insertSorted(&s.Allowed, h) {
			changed = true
		}
		if removeSorted(&s.Banned, h) {
			changed = true
		}
		set := s.Permissions[h]
		if set == nil {
			set = make(map[Capability]bool, len(allCapabilities))
			s.Permissions[h] = set
		}
		for _, c := range allCapabilities {
			if !set[c] {
				set[c] = true
				changed = true
			}
		}
	}
	return changed
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, raw := range in {
		if h, err := NormalizeHandle(raw); err == nil {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func containsSorted(set []string, h string) bool {
	_, found := slices.BinarySearch(set, h)
	return found
}

func insertSorted(set *[]string, h string) bool {
	i, found := slices.BinarySearch(*set, h)
	if found {
		return false
	}
	*set = slices.Insert(*set, i, h)
	return true
}

func removeSorted(set *[]string, h string) bool {
	i, found := slices.BinarySearch(*set, h)
	if !found {
		return false
	}
	*set = slices.Delete(*set, i, i+1)
	return true
}
