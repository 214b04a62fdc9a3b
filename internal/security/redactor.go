package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder replaces every redacted secret.
const RedactPlaceholder = "***REDACTED***"

// minLiteralLen skips literals short enough to cause false positives.
const minLiteralLen = 6

var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|key|credential)`)

// Redactor replaces known secret formats and registered literal values.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// AddPattern adds a compiled pattern.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral registers a literal secret. Short values are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if len(secret) < minLiteralLen {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = append(r.literals, secret)
}

// SyncCredentials replaces the literal set with the store's current values.
func (r *Redactor) SyncCredentials(store *CredentialStore) {
	values := store.Values()
	literals := make([]string, 0, len(values))
	for _, v := range values {
		if len(v) >= minLiteralLen {
			literals = append(literals, v)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.literals = literals
}

// Redact returns s with every pattern match and literal replaced.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	for _, lit := range literals {
		if strings.Contains(s, lit) {
			s = strings.ReplaceAll(s, lit, RedactPlaceholder)
		}
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}

// RedactMap walks a decoded JSON/YAML document in place. String values under
// secret-looking keys are replaced outright; other strings go through Redact.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		if s, ok := v.(string); ok && s != "" && secretKeyPattern.MatchString(k) {
			m[k] = RedactPlaceholder
			continue
		}
		switch val := v.(type) {
		case map[string]any:
			r.RedactMap(val)
		case []any:
			for _, item := range val {
				if sub, ok := item.(map[string]any); ok {
					r.RedactMap(sub)
				}
			}
		case string:
			m[k] = r.Redact(val)
		}
	}
}

// DefaultPatterns returns patterns for the token formats this bot handles.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Telegram bot token: <bot id>:<35 chars>
		regexp.MustCompile(`[0-9]{6,12}:[A-Za-z0-9_-]{35}\b`),
		// OpenAI, including project keys.
		regexp.MustCompile(`sk-(proj-)?[A-Za-z0-9_-]{20,}`),
		// HuggingFace user access token.
		regexp.MustCompile(`hf_[A-Za-z0-9]{30,}`),
		// Authorization header values.
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{16,}`),
	}
}
