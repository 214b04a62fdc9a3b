package channel

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/flemzord/relaybot/pkg/message"
)

// Dispatcher routes outbound messages to the registered channel named in
// msg.Channel and resolves inbound media through the same channel.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{channels: make(map[string]Channel)}
}

// Register adds a channel under name.
func (d *Dispatcher) Register(name string, ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.channels[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateChannel, name)
	}
	d.channels[name] = ch
	return nil
}

// Get returns the channel registered under name.
func (d *Dispatcher) Get(name string) (Channel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[name]
	return ch, ok
}

// Send delivers msg, splitting text that exceeds the channel's limit.
// The first failing chunk aborts the rest.
func (d *Dispatcher) Send(ctx context.Context, msg message.OutboundMessage) error {
	ch, ok := d.Get(msg.Channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoChannel, msg.Channel)
	}

	limit := 0
	if ll, ok := ch.(LengthLimited); ok {
		limit = ll.MaxMessageLength()
	}
	for _, part := range SplitMessage(msg, limit) {
		if err := ch.Send(ctx, part); err != nil {
			return err
		}
	}
	return nil
}

// FetchFile downloads media referenced by block from the named channel.
func (d *Dispatcher) FetchFile(ctx context.Context, channelName string, block message.ContentBlock) ([]byte, error) {
	ch, ok := d.Get(channelName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoChannel, channelName)
	}
	if block.HasInlineData() {
		return block.Data, nil
	}
	ff, ok := ch.(FileFetcher)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot fetch files", ErrUnsupported, channelName)
	}
	return ff.FetchFile(ctx, block)
}

// Channels returns the sorted names of all registered channels.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
