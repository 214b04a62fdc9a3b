package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	kinds []Kind
	avail error
	fn    func(ctx context.Context, req Request) (Artifact, error)
}

func (f *fakeBackend) Kinds() []Kind { return f.kinds }

func (f *fakeBackend) Available() error { return f.avail }

func (f *fakeBackend) Invoke(ctx context.Context, req Request) (Artifact, error) {
	return f.fn(ctx, req)
}

func newTestGateway(t *testing.T, n int) *Gateway {
	t.Helper()
	return New(Config{Concurrency: n, Timeout: time.Second},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRegisterer(prometheus.NewRegistry()),
	)
}

func echoBackend(kinds ...Kind) *fakeBackend {
	return &fakeBackend{kinds: kinds, fn: func(_ context.Context, req Request) (Artifact, error) {
		return Artifact{Type: ArtifactText, Text: "echo: " + req.Prompt}, nil
	}}
}

func TestGateway_InvokeRoutesByKind(t *testing.T) {
	g := newTestGateway(t, 2)
	require.NoError(t, g.Register("echo", echoBackend(KindChat)))
	require.NoError(t, g.Register("img", &fakeBackend{
		kinds: []Kind{KindImage},
		fn: func(context.Context, Request) (Artifact, error) {
			return Artifact{Type: ArtifactImage, URL: "https://img.example/1.png"}, nil
		},
	}))

	art, err := g.Invoke(context.Background(), Request{Kind: KindChat, Prompt: "hi"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", art.Text)

	art, err = g.Invoke(context.Background(), Request{Kind: KindImage, Prompt: "cat"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/1.png", art.URL)
	assert.False(t, art.IsInline())

	assert.Equal(t, []Kind{KindChat, KindImage}, g.Kinds())
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.invocations.WithLabelValues("chat", "ok")))
}

func TestGateway_ConfigErrors(t *testing.T) {
	g := newTestGateway(t, 1)

	_, err := g.Invoke(context.Background(), Request{Kind: KindConvert}, 0)
	require.ErrorIs(t, err, ErrConfig)

	b := echoBackend(KindChat)
	b.avail = errors.New("OPENAI_API_KEY is not set")
	require.NoError(t, g.Register("openai", b))

	_, err = g.Invoke(context.Background(), Request{Kind: KindChat}, 0)
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	require.ErrorIs(t, g.Available(KindChat), ErrConfig)

	require.ErrorIs(t, g.Register("other", echoBackend(KindChat)), ErrDuplicateKind)
}

func TestGateway_BoundedConcurrency(t *testing.T) {
	g := newTestGateway(t, 2)

	started := make(chan string, 3)
	release := make(chan struct{})
	require.NoError(t, g.Register("slow", &fakeBackend{
		kinds: []Kind{KindImage},
		fn: func(_ context.Context, req Request) (Artifact, error) {
			started <- req.Prompt
			<-release
			return Artifact{Type: ArtifactText, Text: req.Prompt}, nil
		},
	}))

	errs := make(chan error, 3)
	for _, p := range []string{"a", "b", "c"} {
		go func() {
			_, err := g.Invoke(context.Background(), Request{Kind: KindImage, Prompt: p}, 5*time.Second)
			errs <- err
		}()
	}

	for range 2 {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("first two invocations did not start")
		}
	}
	select {
	case p := <-started:
		t.Fatalf("invocation %q started beyond the bound", p)
	case <-time.After(100 * time.Millisecond):
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(g.metrics.waiting) == 1
	}, time.Second, 5*time.Millisecond)

	release <- struct{}{}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("queued invocation did not start after a slot freed")
	}

	close(release)
	for range 3 {
		require.NoError(t, <-errs)
	}
}

func TestGateway_FIFOWaiters(t *testing.T) {
	g := newTestGateway(t, 1)

	order := make(chan string, 3)
	gate := make(chan struct{})
	require.NoError(t, g.Register("slow", &fakeBackend{
		kinds: []Kind{KindChat},
		fn: func(_ context.Context, req Request) (Artifact, error) {
			order <- req.Prompt
			if req.Prompt == "holder" {
				<-gate
			}
			return Artifact{}, nil
		},
	}))

	done := make(chan struct{}, 3)
	invoke := func(p string) {
		go func() {
			_, _ = g.Invoke(context.Background(), Request{Kind: KindChat, Prompt: p}, 5*time.Second)
			done <- struct{}{}
		}()
	}

	invoke("holder")
	require.Equal(t, "holder", <-order)
	invoke("first")
	require.Eventually(t, func() bool { return testutil.ToFloat64(g.metrics.waiting) == 1 }, time.Second, time.Millisecond)
	invoke("second")
	require.Eventually(t, func() bool { return testutil.ToFloat64(g.metrics.waiting) == 2 }, time.Second, time.Millisecond)

	close(gate)
	assert.Equal(t, "first", <-order)
	assert.Equal(t, "second", <-order)
	for range 3 {
		<-done
	}
}

func TestGateway_TimeoutReleasesSlot(t *testing.T) {
	g := newTestGateway(t, 1)

	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	require.NoError(t, g.Register("stubborn", &fakeBackend{
		kinds: []Kind{KindChat},
		fn: func(_ context.Context, req Request) (Artifact, error) {
			if req.Prompt == "hang" {
				<-hang // ignores cancellation
			}
			return Artifact{Type: ArtifactText, Text: "ok"}, nil
		},
	}))

	start := time.Now()
	_, err := g.Invoke(context.Background(), Request{Kind: KindChat, Prompt: "hang"}, 30*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.False(t, errors.Is(err, ErrRemote), "timeout must be distinct from remote errors")
	assert.Less(t, time.Since(start), time.Second)

	art, err := g.Invoke(context.Background(), Request{Kind: KindChat, Prompt: "quick"}, time.Second)
	require.NoError(t, err, "slot must be free after a timeout")
	assert.Equal(t, "ok", art.Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(g.metrics.invocations.WithLabelValues("chat", "timeout")))
}

func TestGateway_RemoteErrors(t *testing.T) {
	g := newTestGateway(t, 2)
	require.NoError(t, g.Register("upstream", &fakeBackend{
		kinds: []Kind{KindImage, KindChat, KindConvert},
		fn: func(_ context.Context, req Request) (Artifact, error) {
			switch req.Kind {
			case KindImage:
				return Artifact{}, NewRemoteError("deepai", 502, []byte(strings.Repeat("x", 2000)))
			case KindChat:
				return Artifact{}, errors.New("connection reset by peer")
			default:
				panic("nil pointer")
			}
		},
	}))

	_, err := g.Invoke(context.Background(), Request{Kind: KindImage}, 0)
	require.ErrorIs(t, err, ErrRemote)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 502, re.Status)
	assert.LessOrEqual(t, len(re.Body), maxErrorBody+3)

	_, err = g.Invoke(context.Background(), Request{Kind: KindChat}, 0)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = g.Invoke(context.Background(), Request{Kind: KindConvert}, 0)
	require.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "panicked")
}

func TestGateway_CallerCancellation(t *testing.T) {
	g := newTestGateway(t, 1)
	require.NoError(t, g.Register("blocking", &fakeBackend{
		kinds: []Kind{KindChat},
		fn: func(ctx context.Context, _ Request) (Artifact, error) {
			<-ctx.Done()
			return Artifact{}, ctx.Err()
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := g.Invoke(ctx, Request{Kind: KindChat}, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", Outcome(err))
}

func TestRequest_Param(t *testing.T) {
	r := Request{Params: map[string]string{"size": "512x512", "empty": ""}}
	assert.Equal(t, "512x512", r.Param("size", "1024x1024"))
	assert.Equal(t, "fallback", r.Param("empty", "fallback"))
	assert.Equal(t, "d", Request{}.Param("missing", "d"))
}
