// Package access implements the persistent access store: allow-list,
// administrators with granular capabilities, per-user records with stable
// anonymous tags, bans and mutes.
//
// The store owns the only mutable copy of the state. Every mutation is
// applied to a clone, persisted, and only then adopted, so a failed write
// leaves the last-good state in memory.
package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// MaxAnonTag is the upper bound (inclusive) of anonymous tags.
const MaxAnonTag = 99999

// errUnchanged short-circuits a mutation that would not alter the state.
var errUnchanged = errors.New("unchanged")

// Store is the persistent access store. It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	state     *State
	persister Persister
	bootstrap []string
	logger    *slog.Logger
	now       func() time.Time
	randTag   func() int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for load diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithTagSource overrides the anonymous tag generator. fn must return
// values in [1, MaxAnonTag].
func WithTagSource(fn func() int) Option {
	return func(s *Store) { s.randTag = fn }
}

// Stats summarises the state for the admin panel.
type Stats struct {
	Users         int   `json:"users"`
	Admins        int   `json:"admins"`
	Allowed       int   `json:"allowed"`
	Banned        int   `json:"banned"`
	Muted         int   `json:"muted"`
	Messages      int64 `json:"messages"`
	AdminChatOnly bool  `json:"admin_chat_only"`
}

// NewStore creates a store backed by p. bootstrap lists the administrators
// that always hold every capability; it must not be empty. The store starts
// with a seeded in-memory state; call Load to read the persisted one.
func NewStore(p Persister, bootstrap []string, opts ...Option) (*Store, error) {
	if len(bootstrap) == 0 {
		return nil, ErrNoBootstrapAdmin
	}
	boot := make([]string, 0, len(bootstrap))
	for _, raw := range bootstrap {
		h, err := NormalizeHandle(raw)
		if err != nil {
			return nil, fmt.Errorf("bootstrap admin: %w", err)
		}
		boot = append(boot, h)
	}
	slices.Sort(boot)
	boot = slices.Compact(boot)

	s := &Store{
		persister: p,
		bootstrap: boot,
		logger:    slog.Default(),
		now:       time.Now,
		randTag:   func() int { return rand.IntN(MaxAnonTag) + 1 },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = newState()
	s.state.seed(s.bootstrap)
	return s, nil
}

// Load replaces the in-memory state with the persisted one and returns a
// copy. A missing or unreadable snapshot yields a fresh state seeded with
// the bootstrap admins; read errors are logged, never returned.
func (s *Store) Load(ctx context.Context) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.persister.Load(ctx)
	persist := false
	switch {
	case errors.Is(err, ErrNoState):
		s.logger.Info("no persisted access state, starting fresh")
		st = newState()
		persist = true
	case err != nil:
		// Keep the unreadable file untouched until the next mutation.
		s.logger.Warn("persisted access state unreadable, starting fresh", "error", err)
		st = newState()
	default:
		st.normalize()
	}
	if st.seed(s.bootstrap) {
		persist = persist || err == nil
	}
	if persist {
		if err := s.persister.Save(ctx, st); err != nil {
			s.logger.Warn("persisting seeded access state failed", "error", err)
		}
	}
	s.state = st
	return *st.Clone()
}

// Save persists st as the complete new state and adopts it.
func (s *Store) Save(ctx context.Context, st State) error {
	next := st.Clone()
	next.normalize()
	next.seed(s.bootstrap)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(ctx, next)
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.state.Clone()
}

func (s *Store) commit(ctx context.Context, next *State) error {
	if err := s.persister.Save(ctx, next); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	s.state = next
	return nil
}

// mutate applies fn to a clone of the state and commits it. fn returning
// errUnchanged skips the write.
func (s *Store) mutate(ctx context.Context, fn func(st *State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	return s.commit(ctx, next)
}

// IsBootstrap reports whether handle is a bootstrap administrator.
func (s *Store) IsBootstrap(handle string) bool {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false
	}
	return containsSorted(s.bootstrap, h)
}

// IsAllowed reports whether handle is on the allow-list.
func (s *Store) IsAllowed(handle string) bool {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false
	}
	if containsSorted(s.bootstrap, h) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsSorted(s.state.Allowed, h)
}

// Grant adds handle to the allow-list. added is false when the handle was
// already allowed, in which case nothing is written.
func (s *Store) Grant(ctx context.Context, handle string) (added bool, err error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false, err
	}
	err = s.mutate(ctx, func(st *State) error {
		if !insertSorted(&st.Allowed, h) {
			return errUnchanged
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Revoke removes handle from the allow-list.
func (s *Store) Revoke(ctx context.Context, handle string) error {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return err
	}
	if containsSorted(s.bootstrap, h) {
		return fmt.Errorf("%w: %s is a bootstrap admin", ErrForbidden, h)
	}
	return s.mutate(ctx, func(st *State) error {
		if !removeSorted(&st.Allowed, h) {
			return fmt.Errorf("%w: %s is not allowed", ErrNotFound, h)
		}
		return nil
	})
}

// SetPermission enables or disables one capability for handle. Other
// capabilities of the handle are left untouched.
func (s *Store) SetPermission(ctx context.Context, handle string, c Capability, enabled bool) error {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return err
	}
	if !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, string(c))
	}
	if containsSorted(s.bootstrap, h) {
		if enabled {
			return nil
		}
		return fmt.Errorf("%w: cannot remove %s from bootstrap admin %s", ErrForbidden, c, h)
	}
	return s.mutate(ctx, func(st *State) error {
		set := st.Permissions[h]
		if cur, ok := set[c]; ok && cur == enabled {
			return errUnchanged
		}
		if set == nil {
			set = make(map[Capability]bool)
			st.Permissions[h] = set
		}
		set[c] = enabled
		return nil
	})
}

// TogglePermission flips one capability for handle and returns its new value.
func (s *Store) TogglePermission(ctx context.Context, handle string, c Capability) (bool, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false, err
	}
	if !c.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownCapability, string(c))
	}
	if containsSorted(s.bootstrap, h) {
		return true, fmt.Errorf("%w: cannot remove %s from bootstrap admin %s", ErrForbidden, c, h)
	}
	var enabled bool
	err = s.mutate(ctx, func(st *State) error {
		set := st.Permissions[h]
		if set == nil {
			set = make(map[Capability]bool)
			st.Permissions[h] = set
		}
		enabled = !set[c]
		set[c] = enabled
		return nil
	})
	return enabled, err
}

// Permissions returns the capability set of handle. Bootstrap admins hold
// every capability.
func (s *Store) Permissions(handle string) map[Capability]bool {
	out := make(map[Capability]bool, len(allCapabilities))
	h, err := NormalizeHandle(handle)
	if err != nil {
		return out
	}
	if containsSorted(s.bootstrap, h) {
		for _, c := range allCapabilities {
			out[c] = true
		}
		return out
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for c, on := range s.state.Permissions[h] {
		out[c] = on
	}
	return out
}

// HasCapability reports whether handle is an administrator holding c.
func (s *Store) HasCapability(handle string, c Capability) bool {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false
	}
	if containsSorted(s.bootstrap, h) {
		return c.Valid()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsSorted(s.state.Admins, h) && s.state.Permissions[h][c]
}

// IsAdmin reports whether handle is an administrator.
func (s *Store) IsAdmin(handle string) bool {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false
	}
	if containsSorted(s.bootstrap, h) {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsSorted(s.state.Admins, h)
}

// Admins returns the sorted administrator handles.
func (s *Store) Admins() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.state.Admins)
}

// AddAdmin makes handle an administrator with no capabilities. added is
// false when it already was one.
func (s *Store) AddAdmin(ctx context.Context, handle string) (added bool, err error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false, err
	}
	err = s.mutate(ctx, func(st *State) error {
		if !insertSorted(&st.Admins, h) {
			return errUnchanged
		}
		if st.Permissions[h] == nil {
			st.Permissions[h] = make(map[Capability]bool)
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// RemoveAdmin revokes administrator status and every capability of handle.
func (s *Store) RemoveAdmin(ctx context.Context, handle string) error {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return err
	}
	if containsSorted(s.bootstrap, h) {
		return fmt.Errorf("%w: %s is a bootstrap admin", ErrForbidden, h)
	}
	return s.mutate(ctx, func(st *State) error {
		if !removeSorted(&st.Admins, h) {
			return fmt.Errorf("%w: %s is not an admin", ErrNotFound, h)
		}
		delete(st.Permissions, h)
		return nil
	})
}

// Ban adds handle to the ban list. added is false when it was already banned.
func (s *Store) Ban(ctx context.Context, handle string) (added bool, err error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false, err
	}
	if containsSorted(s.bootstrap, h) {
		return false, fmt.Errorf("%w: %s is a bootstrap admin", ErrForbidden, h)
	}
	err = s.mutate(ctx, func(st *State) error {
		if !insertSorted(&st.Banned, h) {
			return errUnchanged
		}
		added = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return added, nil
}

// Unban removes handle from the ban list.
func (s *Store) Unban(ctx context.Context, handle string) error {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return err
	}
	return s.mutate(ctx, func(st *State) error {
		if !removeSorted(&st.Banned, h) {
			return fmt.Errorf("%w: %s is not banned", ErrNotFound, h)
		}
		return nil
	})
}

// IsBanned reports whether handle is on the ban list.
func (s *Store) IsBanned(handle string) bool {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return containsSorted(s.state.Banned, h)
}

// Register records the principal id on first contact, minting a unique
// anonymous tag. For a known principal it refreshes the handle. handle may
// be empty for accounts without a public username.
func (s *Store) Register(ctx context.Context, id, handle string) (u User, created bool, err error) {
	if id == "" {
		return User{}, false, fmt.Errorf("%w: empty principal id", ErrNotFound)
	}
	h, herr := NormalizeHandle(handle)
	if herr != nil {
		h = ""
	}

	s.mu.RLock()
	existing, ok := s.state.Users[id]
	s.mu.RUnlock()
	if ok && existing.Handle == h {
		return existing, false, nil
	}

	err = s.mutate(ctx, func(st *State) error {
		cur, ok := st.Users[id]
		if ok {
			if cur.Handle == h {
				u = cur
				return errUnchanged
			}
			cur.Handle = h
			st.Users[id] = cur
			u = cur
			return nil
		}
		tag, err := s.mintTag(st)
		if err != nil {
			return err
		}
		u = User{Handle: h, AnonTag: tag}
		st.Users[id] = u
		created = true
		return nil
	})
	if err != nil {
		return User{}, false, err
	}
	return u, created, nil
}

func (s *Store) mintTag(st *State) (int, error) {
	used := make(map[int]struct{}, len(st.Users))
	for _, u := range st.Users {
		used[u.AnonTag] = struct{}{}
	}
	for range 64 {
		tag := s.randTag()
		if tag < 1 || tag > MaxAnonTag {
			continue
		}
		if _, taken := used[tag]; !taken {
			return tag, nil
		}
	}
	for tag := 1; tag <= MaxAnonTag; tag++ {
		if _, taken := used[tag]; !taken {
			return tag, nil
		}
	}
	return 0, errors.New("access: anonymous tag space exhausted")
}

// Principal returns the record for id.
func (s *Store) Principal(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.Users[id]
	return u, ok
}

// FindByHandle returns the id and record of the principal using handle.
func (s *Store) FindByHandle(handle string) (string, User, error) {
	h, err := NormalizeHandle(handle)
	if err != nil {
		return "", User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range sortedIDs(s.state.Users) {
		if u := s.state.Users[id]; u.Handle == h {
			return id, u, nil
		}
	}
	return "", User{}, fmt.Errorf("%w: no user with handle %s", ErrNotFound, h)
}

// Users returns a copy of every principal record keyed by id.
func (s *Store) Users() map[string]User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.state.Users)
}

// UserIDs returns every registered principal id in ascending order.
func (s *Store) UserIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedIDs(s.state.Users)
}

// Mute silences principal id until the given instant.
func (s *Store) Mute(ctx context.Context, id string, until time.Time) error {
	return s.mutate(ctx, func(st *State) error {
		u, ok := st.Users[id]
		if !ok {
			return fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		if u.Handle != "" && containsSorted(s.bootstrap, u.Handle) {
			return fmt.Errorf("%w: %s is a bootstrap admin", ErrForbidden, u.Handle)
		}
		u.MutedUntil = until.UTC()
		st.Users[id] = u
		return nil
	})
}

// Unmute clears any mute on principal id.
func (s *Store) Unmute(ctx context.Context, id string) error {
	return s.mutate(ctx, func(st *State) error {
		u, ok := st.Users[id]
		if !ok {
			return fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
		if u.MutedUntil.IsZero() {
			return errUnchanged
		}
		u.MutedUntil = time.Time{}
		st.Users[id] = u
		return nil
	})
}

// IsMuted reports whether principal id is muted at now. The mute interval is
// half-open: a mute ending exactly at now has expired.
func (s *Store) IsMuted(id string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.state.Users[id]
	return ok && now.Before(u.MutedUntil)
}

// IncrementMessageCount bumps the relayed message counter.
func (s *Store) IncrementMessageCount(ctx context.Context) error {
	return s.mutate(ctx, func(st *State) error {
		st.MessageCount++
		return nil
	})
}

// SetAdminChatOnly switches the admin-only relay mode.
func (s *Store) SetAdminChatOnly(ctx context.Context, on bool) error {
	return s.mutate(ctx, func(st *State) error {
		if st.AdminChatOnly == on {
			return errUnchanged
		}
		st.AdminChatOnly = on
		return nil
	})
}

// AdminChatOnly reports whether only administrators may relay messages.
func (s *Store) AdminChatOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.AdminChatOnly
}

// Stats returns counters over the current state.
func (s *Store) Stats() Stats {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Users:         len(s.state.Users),
		Admins:        len(s.state.Admins),
		Allowed:       len(s.state.Allowed),
		Banned:        len(s.state.Banned),
		Messages:      s.state.MessageCount,
		AdminChatOnly: s.state.AdminChatOnly,
	}
	for _, u := range s.state.Users {
		if now.Before(u.MutedUntil) {
			st.Muted++
		}
	}
	return st
}

// Now returns the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}

func sortedIDs(users map[string]User) []string {
	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)
	return ids
}

// compareIDs orders numeric ids numerically and falls back to string order.
func compareIDs(a, b string) int {
	if len(a) != len(b) && isDigits(a) && isDigits(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
