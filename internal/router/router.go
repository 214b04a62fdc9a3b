package router

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/conversation"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/pkg/message"
)

const defaultInboxSize = 256

// ResponseSender delivers outbound messages through the channel named in
// msg.Channel.
type ResponseSender interface {
	Send(ctx context.Context, msg message.OutboundMessage) error
}

// FileResolver downloads the bytes behind a media block received on channel.
type FileResolver interface {
	FetchFile(ctx context.Context, channel string, block message.ContentBlock) ([]byte, error)
}

// Gateway is the slice of *gateway.Gateway the router uses.
type Gateway interface {
	Invoke(ctx context.Context, req gateway.Request, timeout time.Duration) (gateway.Artifact, error)
	Available(kind gateway.Kind) error
}

// Config holds the configuration for a Router.
type Config struct {
	Store        *access.Store
	Conversation *conversation.Machine
	Gateway      Gateway
	Sender       ResponseSender
	Files        FileResolver
	Audit        *security.AuditLogger
	Logger       *slog.Logger
	Registerer   prometheus.Registerer

	WorkerCount int
	InboxSize   int

	// RestrictGeneration limits generation and downloads to allowed handles.
	RestrictGeneration bool
	// DonateURL adds a link button to the main menu when set.
	DonateURL string
	// GatewayTimeout is passed to every invocation; zero uses the gateway default.
	GatewayTimeout time.Duration

	// Flood bounds inbound events per principal. Nil disables it.
	Flood *security.KeyedLimiter
	// Outbound paces relay and broadcast deliveries. Nil disables pacing.
	Outbound *security.KeyedLimiter

	// LogFile returns the path sent by SAVE_LOGS.
	LogFile func() (string, error)
	Now     func() time.Time
}

func (c Config) withDefaults() Config {
	if c.WorkerCount <= 0 {
		c.WorkerCount = DefaultWorkerCount
	}
	if c.InboxSize <= 0 {
		c.InboxSize = defaultInboxSize
	}
	if c.Conversation == nil {
		c.Conversation = conversation.New()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Router is the central dispatch layer. Events enter through Submit, are
// serialised per principal by the lane lock and handled by a worker pool.
type Router struct {
	config   Config
	store    *access.Store
	conv     *conversation.Machine
	logger   *slog.Logger
	metrics  *metrics
	buttons  map[string]buttonAction
	commands map[string]command
	awaited  map[conversation.Kind]awaitedHandler

	inbox    chan envelope
	inboxMu  sync.RWMutex
	laneLock *LaneLock
	pool     *WorkerPool
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  atomic.Bool
}

// NewRouter creates a new Router with the given configuration.
func NewRouter(cfg Config) (*Router, error) {
	cfg = cfg.withDefaults()
	if cfg.Store == nil {
		return nil, ErrNoStore
	}
	if cfg.Sender == nil {
		return nil, ErrNoResponseSender
	}

	r := &Router{
		config:   cfg,
		store:    cfg.Store,
		conv:     cfg.Conversation,
		logger:   cfg.Logger,
		metrics:  newMetrics(cfg.Registerer),
		inbox:    make(chan envelope, cfg.InboxSize),
		laneLock: NewLaneLock(),
		pool:     NewWorkerPool(cfg.WorkerCount),
	}
	r.buttons = r.buttonTable()
	r.commands = r.commandTable()
	r.awaited = r.awaitedTable()
	return r, nil
}

// Conversation returns the awaited-input state machine.
func (r *Router) Conversation() *conversation.Machine {
	return r.conv
}

// Start launches the worker pool and begins processing messages.
func (r *Router) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.inboxMu.Lock()
	if r.stopped.Load() {
		r.inboxMu.Unlock()
		cancel()
		r.logger.Warn("router: start ignored, router already stopped")
		return
	}
	r.cancel = cancel
	r.inboxMu.Unlock()

	r.pool.Start(ctx, r.inbox, r.process)
	r.logger.Info("router: started", "workers", r.pool.Size(), "inbox_size", r.config.InboxSize)
}

// Submit enqueues an inbound message for processing. It never blocks: a
// full inbox drops the message and returns ErrInboxFull.
func (r *Router) Submit(msg message.InboundMessage) error {
	r.inboxMu.RLock()
	defer r.inboxMu.RUnlock()

	if r.stopped.Load() {
		return ErrRouterStopped
	}

	key := msg.Sender.ID
	if key == "" {
		key = msg.Chat.ID
	}
	select {
	case r.inbox <- envelope{Message: msg, Key: key}:
		return nil
	default:
		r.metrics.dropped.Inc()
		r.logger.Warn("router: inbox full, message dropped",
			"channel", msg.Channel,
			"principal", key,
		)
		return ErrInboxFull
	}
}

// Stop closes the inbox, cancels in-flight handlers and waits for the
// workers to drain.
func (r *Router) Stop(_ context.Context) {
	r.stopOnce.Do(func() {
		r.logger.Info("router: stopping")

		r.inboxMu.Lock()
		r.stopped.Store(true)
		close(r.inbox)
		cancel := r.cancel
		r.inboxMu.Unlock()

		if cancel != nil {
			cancel()
		}

		r.pool.Wait()
		r.logger.Info("router: stopped")
	})
}

func (r *Router) process(ctx context.Context, env envelope) {
	r.laneLock.Acquire(env.Key)
	defer r.laneLock.Release(env.Key)

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("router: handler panicked",
				"principal", env.Key,
				"kind", string(env.Message.Kind),
				"panic", p,
				"stack", string(debug.Stack()),
			)
		}
	}()

	out := r.Handle(ctx, env.Message)
	r.logger.Debug("router: event handled",
		"principal", env.Key,
		"kind", string(env.Message.Kind),
		"outcome", string(out.Kind),
		"action", out.Action,
	)
}

// Handle runs one event to completion and returns its outcome. Any error
// is turned into a single reply to the sender; nothing is returned to the
// transport.
func (r *Router) Handle(ctx context.Context, msg message.InboundMessage) Outcome {
	started := time.Now()
	out := r.handle(ctx, msg)
	if out.Err != nil && out.Kind != OutcomeIgnored && !silent(out.Err) {
		if err := r.reply(ctx, msg, errorText(out.Err)); err != nil {
			r.logger.Warn("router: error reply failed", "principal", msg.Sender.ID, "error", err)
		}
	}
	if out.Err != nil {
		r.logger.Info("router: event failed",
			"principal", msg.Sender.ID,
			"action", out.Action,
			"outcome", string(out.Kind),
			"error", out.Err,
		)
	}
	r.metrics.observe(string(msg.Kind), out, time.Since(started))
	return out
}

// request is one event with its resolved sender.
type request struct {
	msg    message.InboundMessage
	id     string
	handle string
	user   access.User
}

func (r *Router) handle(ctx context.Context, msg message.InboundMessage) Outcome {
	if msg.Sender.ID == "" {
		return ignored("anonymous")
	}
	user, _, err := r.store.Register(ctx, msg.Sender.ID, msg.Sender.Handle())
	if err != nil {
		return done("register", err)
	}
	req := &request{msg: msg, id: msg.Sender.ID, handle: user.Handle, user: user}

	if err := r.config.Flood.Allow(req.id); err != nil {
		return rejected("flood", err)
	}
	if req.handle != "" && r.store.IsBanned(req.handle) {
		return rejected("moderation", ErrBanned)
	}
	if now := r.config.Now(); r.store.IsMuted(req.id, now) {
		return rejected("moderation", &mutedError{until: user.MutedUntil})
	}

	switch msg.Kind {
	case message.EventCommand:
		return r.handleCommand(ctx, req)
	case message.EventButton:
		return r.handleButton(ctx, req)
	case message.EventText:
		return r.handleText(ctx, req)
	case message.EventMedia:
		return r.handleMedia(ctx, req)
	default:
		return ignored(string(msg.Kind))
	}
}
