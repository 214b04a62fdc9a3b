// Package channeltest provides an in-memory Channel for tests.
package channeltest

import (
	"context"
	"sync"

	"github.com/flemzord/relaybot/internal/channel"
	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/pkg/message"
)

// Recorder is a Channel that records every sent message. SendFunc, when
// set, decides the error returned for each message.
type Recorder struct {
	Name     string
	MaxLen   int
	Files    map[string][]byte
	SendFunc func(msg message.OutboundMessage) error

	mu    sync.Mutex
	sent  []message.OutboundMessage
	inbox func(message.InboundMessage) error
}

var (
	_ channel.Channel       = (*Recorder)(nil)
	_ channel.FileFetcher   = (*Recorder)(nil)
	_ channel.LengthLimited = (*Recorder)(nil)
)

// NewRecorder returns a recorder registered as name.
func NewRecorder(name string) *Recorder {
	return &Recorder{Name: name}
}

// ModuleInfo implements core.Module.
func (r *Recorder) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  core.ModuleID("channel." + r.Name),
		New: func() core.Module { return NewRecorder(r.Name) },
	}
}

// Send implements channel.Channel.
func (r *Recorder) Send(_ context.Context, msg message.OutboundMessage) error {
	if r.SendFunc != nil {
		if err := r.SendFunc(msg); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

// SetInbox implements channel.Channel.
func (r *Recorder) SetInbox(fn func(message.InboundMessage) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = fn
}

// Deliver pushes msg through the installed inbox.
func (r *Recorder) Deliver(msg message.InboundMessage) error {
	r.mu.Lock()
	fn := r.inbox
	r.mu.Unlock()
	if fn == nil {
		return channel.ErrNoInbox
	}
	return fn(msg)
}

// FetchFile implements channel.FileFetcher using Files keyed by FileID.
func (r *Recorder) FetchFile(_ context.Context, block message.ContentBlock) ([]byte, error) {
	data, ok := r.Files[block.FileID]
	if !ok {
		return nil, channel.ErrUnsupported
	}
	return data, nil
}

// MaxMessageLength implements channel.LengthLimited.
func (r *Recorder) MaxMessageLength() int { return r.MaxLen }

// Sent returns a copy of the recorded messages.
func (r *Recorder) Sent() []message.OutboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]message.OutboundMessage(nil), r.sent...)
}

// SentTo returns the messages addressed to chatID.
func (r *Recorder) SentTo(chatID string) []message.OutboundMessage {
	var out []message.OutboundMessage
	for _, m := range r.Sent() {
		if m.Chat.ID == chatID {
			out = append(out, m)
		}
	}
	return out
}

// Reset clears the recorded messages.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}
