package telegram

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/relaybot/pkg/message"
)

const (
	maxConsecutivePollingErrors = 5
	errorPauseDuration          = 30 * time.Second
)

// Poller receives updates with getUpdates long polling.
type Poller struct {
	receiver
	config   Config
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// pause is the wait after maxConsecutivePollingErrors failures.
	pause time.Duration
}

// NewPoller creates a new Poller.
func NewPoller(client *Client, inbox func(message.InboundMessage) error, logger *slog.Logger, config Config) *Poller {
	return &Poller{
		receiver: receiver{client: client, inbox: inbox, logger: logger},
		config:   config,
		done:     make(chan struct{}),
		pause:    errorPauseDuration,
	}
}

// Start launches the polling loop in a goroutine.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.loop(ctx)
}

// Stop cancels the loop, including an in-flight getUpdates, and waits for
// it to finish. It is safe to call Stop multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
	})
	if p.cancel != nil {
		<-p.done
	}
}

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	var offset int
	var consecutiveErrors int

	for ctx.Err() == nil {
		updates, err := p.client.GetUpdates(ctx, GetUpdatesRequest{
			Offset:         offset,
			Timeout:        p.config.PollingTimeout,
			AllowedUpdates: p.config.AllowedUpdates,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			p.logger.Error("polling getUpdates failed",
				"error", err,
				"consecutive_errors", consecutiveErrors,
			)
			if consecutiveErrors >= maxConsecutivePollingErrors {
				p.logger.Warn("polling paused after consecutive errors", "pause", p.pause)
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.pause):
				}
				consecutiveErrors = 0
			}
			continue
		}

		consecutiveErrors = 0
		for i := range updates {
			offset = updates[i].UpdateID + 1
			_ = p.handle(ctx, &updates[i])
		}
	}
}
