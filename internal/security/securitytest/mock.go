// Package securitytest provides test doubles for the security package.
package securitytest

import (
	"sync"

	"github.com/flemzord/relaybot/internal/security"
)

// NewTestCredentialStore returns a store holding the given key/value pairs.
// It panics on an odd number of arguments.
func NewTestCredentialStore(kvs ...string) *security.CredentialStore {
	if len(kvs)%2 != 0 {
		panic("securitytest: NewTestCredentialStore needs key/value pairs")
	}
	store := security.NewCredentialStore()
	for i := 0; i < len(kvs); i += 2 {
		store.Set(kvs[i], kvs[i+1])
	}
	return store
}

// AuditRecorder captures audit events in memory.
type AuditRecorder struct {
	mu     sync.Mutex
	events []security.AuditEvent
}

// NewAuditRecorder returns a recorder and an AuditLogger feeding it.
func NewAuditRecorder() (*AuditRecorder, *security.AuditLogger) {
	rec := &AuditRecorder{}
	logger := security.NewAuditLogger(security.AuditLoggerConfig{
		OnEvent: func(e security.AuditEvent) {
			rec.mu.Lock()
			rec.events = append(rec.events, e)
			rec.mu.Unlock()
		},
	})
	return rec, logger
}

// Events returns a copy of the recorded events.
func (r *AuditRecorder) Events() []security.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]security.AuditEvent(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *AuditRecorder) Types() []security.EventType {
	events := r.Events()
	out := make([]security.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}
