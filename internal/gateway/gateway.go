package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const tracerName = "github.com/flemzord/relaybot/internal/gateway"

// Defaults applied when Config fields are zero.
const (
	DefaultConcurrency = 2
	DefaultTimeout     = 60 * time.Second
)

// Config controls the gateway's resource bounds.
type Config struct {
	// Concurrency is the maximum number of invocations in flight
	// process-wide. Further callers wait in FIFO order.
	Concurrency int
	// Timeout is used when Invoke is called with a zero timeout.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithRegisterer registers the gateway metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(g *Gateway) { g.registerer = reg }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracer = tp.Tracer(tracerName) }
}

type registration struct {
	name    string
	backend Backend
}

// Gateway dispatches requests to registered back ends.
//
// Every invocation first acquires one of Concurrency slots, then runs under
// a hard timeout. The gateway never retries.
type Gateway struct {
	cfg        Config
	sem        *semaphore.Weighted
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *Metrics
	tracer     trace.Tracer

	mu       sync.RWMutex
	backends map[Kind]registration
}

// New creates a gateway.
func New(cfg Config, opts ...Option) *Gateway {
	cfg = cfg.withDefaults()
	g := &Gateway{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		backends: make(map[Kind]registration),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.metrics = NewMetrics(g.registerer)
	return g
}

// Concurrency returns the configured slot count.
func (g *Gateway) Concurrency() int {
	return g.cfg.Concurrency
}

// Register adds b for every kind it reports.
func (g *Gateway) Register(name string, b Backend) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	kinds := b.Kinds()
	for _, k := range kinds {
		if prev, ok := g.backends[k]; ok {
			return fmt.Errorf("%w: %s already served by %s", ErrDuplicateKind, k, prev.name)
		}
	}
	for _, k := range kinds {
		g.backends[k] = registration{name: name, backend: b}
	}
	g.logger.Info("backend registered", "backend", name, "kinds", kinds)
	return nil
}

// Kinds returns the kinds that have a registered back end.
func (g *Gateway) Kinds() []Kind {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Kind, 0, len(g.backends))
	for k := range g.backends {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Available returns nil when kind can be served, or an ErrConfig error.
func (g *Gateway) Available(kind Kind) error {
	_, err := g.lookup(kind)
	return err
}

func (g *Gateway) lookup(kind Kind) (registration, error) {
	g.mu.RLock()
	reg, ok := g.backends[kind]
	g.mu.RUnlock()
	if !ok {
		return registration{}, fmt.Errorf("%w: no backend for %s", ErrConfig, kind)
	}
	if av, ok := reg.backend.(Availability); ok {
		if err := av.Available(); err != nil {
			if !errors.Is(err, ErrConfig) {
				err = fmt.Errorf("%w: %s: %v", ErrConfig, reg.name, err)
			}
			return registration{}, err
		}
	}
	return reg, nil
}

type result struct {
	artifact Artifact
	err      error
}

// Invoke runs req on the back end serving req.Kind.
//
// The call waits for a free slot first; timeout (or the configured default
// when zero) starts once the slot is held. On expiry Invoke returns
// ErrTimeout and frees the slot even if the back end has not returned.
func (g *Gateway) Invoke(ctx context.Context, req Request, timeout time.Duration) (Artifact, error) {
	id := uuid.NewString()
	ctx, span := g.tracer.Start(ctx, "gateway.invoke", trace.WithAttributes(
		attribute.String("gateway.kind", string(req.Kind)),
		attribute.String("gateway.invocation_id", id),
	))
	defer span.End()

	art, err := g.invoke(ctx, id, req, timeout)
	outcome := Outcome(err)
	g.metrics.invocations.WithLabelValues(string(req.Kind), outcome).Inc()
	span.SetAttributes(attribute.String("gateway.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	return art, err
}

func (g *Gateway) invoke(ctx context.Context, id string, req Request, timeout time.Duration) (Artifact, error) {
	reg, err := g.lookup(req.Kind)
	if err != nil {
		return Artifact{}, err
	}
	logger := g.logger.With("invocation", id, "kind", string(req.Kind), "backend", reg.name)

	queued := time.Now()
	g.metrics.waiting.Inc()
	err = g.sem.Acquire(ctx, 1)
	g.metrics.waiting.Dec()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Artifact{}, fmt.Errorf("%w: no free slot before deadline", ErrTimeout)
		}
		return Artifact{}, err
	}
	defer g.sem.Release(1)
	g.metrics.queueWait.Observe(time.Since(queued).Seconds())
	g.metrics.inflight.Inc()
	defer g.metrics.inflight.Dec()

	if timeout <= 0 {
		timeout = g.cfg.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%w: %s panicked: %v", ErrRemote, reg.name, r)}
			}
		}()
		art, err := reg.backend.Invoke(callCtx, req)
		done <- result{artifact: art, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = result{err: callCtx.Err()}
	}
	g.metrics.duration.WithLabelValues(string(req.Kind)).Observe(time.Since(started).Seconds())

	if res.err == nil {
		logger.Debug("invocation succeeded", "elapsed", time.Since(started))
		return res.artifact, nil
	}

	err = classify(ctx, callCtx, reg.name, res.err)
	logger.Warn("invocation failed", "elapsed", time.Since(started), "error", err)
	return Artifact{}, err
}

// classify maps a back-end error onto the gateway taxonomy.
func classify(parent, call context.Context, backend string, err error) error {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return parent.Err()
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %s did not answer in time", ErrTimeout, backend)
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrRemote), errors.Is(err, ErrConfig):
		return err
	default:
		return &RemoteError{Backend: backend, Body: err.Error()}
	}
}
