// Package channel defines the bridge between messaging platforms and the
// router: the Channel interface, the outbound Dispatcher and text chunking.
package channel

import (
	"context"

	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/pkg/message"
)

// Channel connects one messaging platform to the router.
//
// A channel converts platform updates into InboundMessage values and pushes
// them through the inbox callback. Outbound replies arrive through Send.
type Channel interface {
	core.Module

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg message.OutboundMessage) error

	// SetInbox installs the callback used to hand inbound messages to the
	// router. It is called during wiring, before Start.
	SetInbox(fn func(msg message.InboundMessage) error)
}

// FileFetcher is implemented by channels that can download media a user
// sent (a Telegram file_id, for instance).
type FileFetcher interface {
	FetchFile(ctx context.Context, block message.ContentBlock) ([]byte, error)
}

// LengthLimited is implemented by channels with a maximum text length per
// message. The dispatcher splits longer replies.
type LengthLimited interface {
	MaxMessageLength() int
}
