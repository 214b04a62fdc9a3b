package security

import (
	"encoding/json"
	"io"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// EventType categorizes audit events.
type EventType string

// Moderation and access events recorded in the audit trail.
const (
	EventGrant           EventType = "grant"
	EventRevoke          EventType = "revoke"
	EventAdminAdd        EventType = "admin_add"
	EventAdminRemove     EventType = "admin_remove"
	EventPermToggle      EventType = "perm_toggle"
	EventBan             EventType = "ban"
	EventUnban           EventType = "unban"
	EventMute            EventType = "mute"
	EventBroadcast       EventType = "broadcast"
	EventImpersonate     EventType = "impersonate"
	EventPrivateReply    EventType = "private_reply"
	EventExport          EventType = "export"
	EventAdminChatToggle EventType = "admin_chat"
	EventForbidden       EventType = "forbidden"
	EventAuthFailure     EventType = "auth_failure"
)

// AuditEvent is a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Channel   string            `json:"channel,omitempty"`
	ActorID   string            `json:"actor_id,omitempty"`
	Actor     string            `json:"actor,omitempty"`
	Target    string            `json:"target,omitempty"`
	Detail    string            `json:"detail,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditLoggerConfig configures the audit logger.
type AuditLoggerConfig struct {
	// Writer receives one JSON object per line. Nil disables writing.
	Writer io.Writer

	// Redactor is applied to Detail and Metadata values.
	Redactor *Redactor

	// OnEvent is called for every event after redaction.
	OnEvent func(AuditEvent)

	// Now defaults to time.Now.
	Now func() time.Time
}

// AuditLogger writes audit events as JSONL.
type AuditLogger struct {
	writer   io.Writer
	redactor *Redactor
	onEvent  func(AuditEvent)
	now      func() time.Time
	mu       sync.Mutex
	failures atomic.Int64
}

// NewAuditLogger creates an audit logger.
func NewAuditLogger(cfg AuditLoggerConfig) *AuditLogger {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &AuditLogger{
		writer:   cfg.Writer,
		redactor: cfg.Redactor,
		onEvent:  cfg.OnEvent,
		now:      now,
	}
}

// Log stamps and writes an event. The caller's Metadata map is not mutated.
// A nil logger discards the event.
func (l *AuditLogger) Log(event AuditEvent) {
	if l == nil {
		return
	}
	event.Timestamp = l.now()
	if len(event.Metadata) > 0 {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if l.redactor != nil {
		event.Detail = l.redactor.Redact(event.Detail)
		for k, v := range event.Metadata {
			event.Metadata[k] = l.redactor.Redact(v)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.onEvent != nil {
		l.onEvent(event)
	}
	if l.writer != nil {
		if err := json.NewEncoder(l.writer).Encode(event); err != nil {
			l.failures.Add(1)
		}
	}
}

// WriteErrors returns how many events could not be written.
func (l *AuditLogger) WriteErrors() int64 {
	return l.failures.Load()
}
