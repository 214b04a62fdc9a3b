// Package conversation tracks, per principal, the single piece of free-text
// input the bot is waiting for next.
package conversation

import (
	"slices"
	"sync"
	"time"
)

// Kind names what the next free-text message from a principal means.
type Kind string

// Awaited is the pending input slot of one principal.
type Awaited struct {
	Kind    Kind
	Context string
	Since   time.Time
}

// Machine holds at most one Awaited per principal. State lives only in
// memory; a restart drops every pending prompt.
type Machine struct {
	mu      sync.Mutex
	pending map[string]Awaited
	now     func() time.Time
}

// New returns an empty Machine.
func New() *Machine {
	return &Machine{
		pending: make(map[string]Awaited),
		now:     time.Now,
	}
}

// Await sets the pending input of principal, replacing any earlier one.
func (m *Machine) Await(principal string, kind Kind, context string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[principal] = Awaited{Kind: kind, Context: context, Since: m.now()}
}

// Consume removes and returns the pending input of principal.
func (m *Machine) Consume(principal string) (Awaited, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pending[principal]
	if ok {
		delete(m.pending, principal)
	}
	return a, ok
}

// ConsumeKind consumes the pending input only if its kind is one of kinds.
// A pending input of another kind is left in place.
func (m *Machine) ConsumeKind(principal string, kinds ...Kind) (Awaited, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pending[principal]
	if !ok || !slices.Contains(kinds, a.Kind) {
		return Awaited{}, false
	}
	delete(m.pending, principal)
	return a, true
}

// Peek returns the pending input without consuming it.
func (m *Machine) Peek(principal string) (Awaited, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.pending[principal]
	return a, ok
}

// Clear drops any pending input of principal.
func (m *Machine) Clear(principal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, principal)
}

// Len returns the number of principals with a pending input.
func (m *Machine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Expire drops pending inputs older than maxAge and returns how many were
// removed.
func (m *Machine) Expire(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for p, a := range m.pending {
		if a.Since.Before(cutoff) {
			delete(m.pending, p)
			n++
		}
	}
	return n
}
