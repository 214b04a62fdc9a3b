// Package security holds the runtime secret store, log redaction, the
// moderation audit trail, subprocess environment sanitising and keyed
// rate limiting.
package security

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrMissingCredential is returned by Require when a credential is absent or empty.
var ErrMissingCredential = errors.New("missing credential")

type credentialContextKey struct{}

// CredentialStore is a thread-safe store for secrets loaded at startup
// (bot token, back-end API keys). Modules read from it instead of the
// environment.
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]string
}

// NewCredentialStore creates an empty credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]string)}
}

// Set stores a credential, replacing any previous value. An empty value
// removes the entry.
func (s *CredentialStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == "" {
		delete(s.creds, name)
		return
	}
	s.creds[name] = value
}

// Load copies every non-empty pair of m into the store.
func (s *CredentialStore) Load(m map[string]string) {
	for k, v := range m {
		s.Set(k, v)
	}
}

// Get returns the credential value and whether it exists.
func (s *CredentialStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.creds[name]
	return v, ok
}

// Require returns the credential or ErrMissingCredential.
func (s *CredentialStore) Require(name string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, name)
	}
	v, ok := s.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrMissingCredential, name)
	}
	return v, nil
}

// Has reports whether a credential with the given name exists.
func (s *CredentialStore) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Names returns the sorted credential names.
func (s *CredentialStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.creds))
	for name := range s.creds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns all credential values in no particular order.
// It feeds Redactor.SyncCredentials and SanitizedEnv.
func (s *CredentialStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.creds))
	for _, v := range s.creds {
		values = append(values, v)
	}
	return values
}

// Len returns the number of stored credentials.
func (s *CredentialStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.creds)
}

// WithCredentials returns a context carrying the credential store.
func WithCredentials(ctx context.Context, store *CredentialStore) context.Context {
	return context.WithValue(ctx, credentialContextKey{}, store)
}

// CredentialsFromContext returns the store attached by WithCredentials, or nil.
func CredentialsFromContext(ctx context.Context) *CredentialStore {
	store, _ := ctx.Value(credentialContextKey{}).(*CredentialStore)
	return store
}
