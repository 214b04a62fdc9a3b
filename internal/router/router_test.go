package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/channel/channeltest"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/internal/security/securitytest"
	"github.com/flemzord/relaybot/pkg/message"
)

const testChannel = "telegram"

// Principal ids registered by newFixture, in tag order.
const (
	rootID  = "1"
	aliceID = "2"
	bobID   = "3"
	carolID = "4"
)

type fakeGateway struct {
	mu     sync.Mutex
	served map[gateway.Kind]bool
	result func(gateway.Request) (gateway.Artifact, error)
	calls  []gateway.Request
}

func newFakeGateway(kinds ...gateway.Kind) *fakeGateway {
	g := &fakeGateway{served: make(map[gateway.Kind]bool)}
	for _, k := range kinds {
		g.served[k] = true
	}
	g.result = func(req gateway.Request) (gateway.Artifact, error) {
		return gateway.Artifact{Type: gateway.ArtifactText, Text: "answer to " + req.Prompt}, nil
	}
	return g
}

func (g *fakeGateway) Available(kind gateway.Kind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.served[kind] {
		return fmt.Errorf("%w: no backend for %s", gateway.ErrConfig, kind)
	}
	return nil
}

func (g *fakeGateway) Invoke(_ context.Context, req gateway.Request, _ time.Duration) (gateway.Artifact, error) {
	if err := g.Available(req.Kind); err != nil {
		return gateway.Artifact{}, err
	}
	g.mu.Lock()
	g.calls = append(g.calls, req)
	result := g.result
	g.mu.Unlock()
	return result(req)
}

func (g *fakeGateway) Calls() []gateway.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.Request(nil), g.calls...)
}

type fileResolverFunc func(ctx context.Context, channel string, block message.ContentBlock) ([]byte, error)

func (f fileResolverFunc) FetchFile(ctx context.Context, channel string, block message.ContentBlock) ([]byte, error) {
	return f(ctx, channel, block)
}

type fixture struct {
	router *Router
	store  *access.Store
	sent   *channeltest.Recorder
	gw     *fakeGateway
	audit  *securitytest.AuditRecorder
	reg    *prometheus.Registry
	now    time.Time
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds a router over a file-backed store holding root (the
// bootstrap admin), alice, bob and carol.
func newFixture(t *testing.T, mods ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		sent: channeltest.NewRecorder(testChannel),
		gw:   newFakeGateway(),
		reg:  prometheus.NewRegistry(),
		now:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	tags := 0
	store, err := access.NewStore(
		access.NewFilePersister(filepath.Join(t.TempDir(), "state.json")),
		[]string{"@root"},
		access.WithLogger(discardLogger()),
		access.WithClock(clock),
		access.WithTagSource(func() int { tags++; return tags }),
	)
	require.NoError(t, err)
	store.Load(context.Background())
	for _, u := range []struct{ id, handle string }{
		{rootID, "@root"}, {aliceID, "@alice"}, {bobID, "@bob"}, {carolID, "@carol"},
	} {
		_, _, err := store.Register(context.Background(), u.id, u.handle)
		require.NoError(t, err)
	}
	f.store = store

	var auditLogger *security.AuditLogger
	f.audit, auditLogger = securitytest.NewAuditRecorder()

	cfg := Config{
		Store:      store,
		Gateway:    f.gw,
		Sender:     f.sent,
		Audit:      auditLogger,
		Logger:     discardLogger(),
		Registerer: f.reg,
		Now:        clock,
	}
	for _, mod := range mods {
		mod(&cfg)
	}
	f.router, err = NewRouter(cfg)
	require.NoError(t, err)
	return f
}

func inbound(id, username string, kind message.EventKind) message.InboundMessage {
	return message.InboundMessage{
		ID:      "m-" + id,
		Channel: testChannel,
		Kind:    kind,
		Sender:  message.Sender{ID: id, Username: username},
		Chat:    message.Chat{ID: id, Type: message.ChatDM},
	}
}

func (f *fixture) command(t *testing.T, id, username, name, args string) Outcome {
	t.Helper()
	msg := inbound(id, username, message.EventCommand)
	msg.Command, msg.Args = name, args
	return f.router.Handle(context.Background(), msg)
}

func (f *fixture) press(t *testing.T, id, username, payload string) Outcome {
	t.Helper()
	msg := inbound(id, username, message.EventButton)
	msg.Payload = payload
	return f.router.Handle(context.Background(), msg)
}

func (f *fixture) say(t *testing.T, id, username, text string) Outcome {
	t.Helper()
	msg := inbound(id, username, message.EventText)
	msg.Blocks = []message.ContentBlock{message.NewTextBlock(text)}
	return f.router.Handle(context.Background(), msg)
}

func (f *fixture) lastTextTo(t *testing.T, chatID string) string {
	t.Helper()
	msgs := f.sent.SentTo(chatID)
	require.NotEmpty(t, msgs, "no message sent to %s", chatID)
	last := msgs[len(msgs)-1]
	return last.TextContent()
}

func payloads(rows [][]message.Button) []string {
	var out []string
	for _, row := range rows {
		for _, b := range row {
			if b.Payload != "" {
				out = append(out, b.Payload)
			}
		}
	}
	return out
}

func TestNewRouter_RequiresStoreAndSender(t *testing.T) {
	_, err := NewRouter(Config{Sender: channeltest.NewRecorder("x")})
	assert.ErrorIs(t, err, ErrNoStore)

	f := newFixture(t)
	_, err = NewRouter(Config{Store: f.store})
	assert.ErrorIs(t, err, ErrNoResponseSender)
}

func TestHandle_StartShowsMenu(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DonateURL = "https://example.com/donate" })
	f.gw.served[gateway.KindChat] = true

	out := f.command(t, aliceID, "alice", "start", "")
	assert.Equal(t, OutcomePrompted, out.Kind)

	msgs := f.sent.SentTo(aliceID)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].TextContent(), "Anon#2")
	got := payloads(msgs[0].Keyboard)
	assert.Contains(t, got, "USER_SEND")
	assert.Contains(t, got, "GEN|chat")
	assert.NotContains(t, got, "GEN|image")
	assert.NotContains(t, got, "ADMIN_PANEL")
	assert.Equal(t, "https://example.com/donate", msgs[0].Keyboard[len(msgs[0].Keyboard)-1][0].URL)

	f.sent.Reset()
	f.command(t, rootID, "root", "start", "")
	assert.Contains(t, payloads(f.sent.SentTo(rootID)[0].Keyboard), "ADMIN_PANEL")
}

func TestHandle_RegistersNewPrincipal(t *testing.T) {
	f := newFixture(t)

	out := f.command(t, "99", "dave", "start", "")
	assert.Equal(t, OutcomePrompted, out.Kind)

	u, ok := f.store.Principal("99")
	require.True(t, ok)
	assert.Equal(t, "@dave", u.Handle)
	assert.Equal(t, 5, u.AnonTag)
}

func TestHandle_ToggleEnablesOnlyThatCapability(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddAdmin(context.Background(), "@alice")
	require.NoError(t, err)

	out := f.press(t, rootID, "root", "TOGGLE|@alice|broadcast")
	require.NoError(t, out.Err)
	assert.Equal(t, OutcomeAction, out.Kind)

	perms := f.store.Permissions("@alice")
	for _, c := range access.AllCapabilities() {
		assert.Equal(t, c == access.CapBroadcast, perms[c], "capability %s", c)
	}
	assert.True(t, f.store.HasCapability("@alice", access.CapBroadcast))

	kb := f.sent.SentTo(rootID)[0].Keyboard
	assert.Contains(t, payloads(kb), "TOGGLE|@alice|broadcast")
	assert.Equal(t, "✅ broadcast", kb[0][0].Text)
	assert.Equal(t, []security.EventType{security.EventPermToggle}, f.audit.Types())

	out = f.press(t, rootID, "root", "TOGGLE|@alice|broadcast")
	require.NoError(t, out.Err)
	assert.False(t, f.store.HasCapability("@alice", access.CapBroadcast))
}

func TestHandle_MalformedToggleIsRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.AddAdmin(context.Background(), "@bob")
	require.NoError(t, err)
	before := f.store.Snapshot()

	for _, payload := range []string{
		"TOGGLE|@bob",
		"TOGGLE",
		"TOGGLE|@bob|fly",
		"TOGGLE|b o b|broadcast",
		"TOGGLE|@bob|broadcast|extra",
	} {
		t.Run(payload, func(t *testing.T) {
			out := f.press(t, rootID, "root", payload)
			assert.Equal(t, OutcomeRejected, out.Kind)
			assert.ErrorIs(t, out.Err, ErrMalformed)
		})
	}
	assert.Equal(t, before, f.store.Snapshot())
}

func TestHandle_UnknownPayloadIsIgnored(t *testing.T) {
	f := newFixture(t)

	out := f.press(t, rootID, "root", "SELF_DESTRUCT|now")
	assert.Equal(t, OutcomeIgnored, out.Kind)
	assert.NoError(t, out.Err)
	assert.Empty(t, f.sent.Sent())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.router.metrics.events.WithLabelValues("button", "ignored")))
}

func TestHandle_ForbiddenIsDistinctFromUnknown(t *testing.T) {
	f := newFixture(t)

	out := f.press(t, aliceID, "alice", "BROADCAST")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrForbidden)
	assert.Contains(t, f.lastTextTo(t, aliceID), "not allowed")
	assert.Equal(t, []security.EventType{security.EventForbidden}, f.audit.Types())

	// An admin without the capability is refused as well.
	_, err := f.store.AddAdmin(context.Background(), "@alice")
	require.NoError(t, err)
	out = f.press(t, aliceID, "alice", "BROADCAST")
	assert.ErrorIs(t, out.Err, access.ErrForbidden)

	out = f.press(t, aliceID, "alice", "ADMIN_PANEL")
	assert.Equal(t, OutcomePrompted, out.Kind)
	assert.NotContains(t, payloads(f.sent.SentTo(aliceID)[2].Keyboard), "BROADCAST")
}

func TestHandle_BroadcastContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.sent.SendFunc = func(msg message.OutboundMessage) error {
		if msg.Chat.ID == bobID {
			return errors.New("blocked by user")
		}
		return nil
	}

	out := f.press(t, rootID, "root", "BROADCAST")
	require.Equal(t, OutcomePrompted, out.Kind)

	out = f.say(t, rootID, "root", "hello")
	require.NoError(t, out.Err)
	assert.Equal(t, OutcomeAction, out.Kind)
	require.NotNil(t, out.Broadcast)
	assert.Equal(t, 2, out.Broadcast.Delivered)
	require.Len(t, out.Broadcast.Failed, 1)
	assert.Equal(t, bobID, out.Broadcast.Failed[0].Principal)
	assert.Equal(t, 3, out.Broadcast.Total())

	assert.Equal(t, "📢 hello", f.lastTextTo(t, aliceID))
	assert.Equal(t, "📢 hello", f.lastTextTo(t, carolID))
	assert.Contains(t, f.lastTextTo(t, rootID), "delivered to 2, 1 failed")

	events := f.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, security.EventBroadcast, events[0].Type)
	assert.Equal(t, "1", events[0].Metadata["failed"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.router.metrics.deliveries.WithLabelValues("failed")))
}

func TestHandle_BannedAndMutedAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Ban(ctx, "@bob")
	require.NoError(t, err)
	out := f.command(t, bobID, "bob", "start", "")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, ErrBanned)

	require.NoError(t, f.store.Mute(ctx, aliceID, f.now.Add(10*time.Minute)))
	out = f.say(t, aliceID, "alice", "anyone there?")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, ErrMuted)
	assert.Contains(t, f.lastTextTo(t, aliceID), "muted until 2026-03-01 12:10 UTC")

	// The mute interval is half-open.
	f.now = f.now.Add(10 * time.Minute)
	out = f.command(t, aliceID, "alice", "start", "")
	assert.Equal(t, OutcomePrompted, out.Kind)
}

func TestHandle_RelayIsAnonymous(t *testing.T) {
	f := newFixture(t)

	out := f.press(t, aliceID, "alice", "USER_SEND")
	require.Equal(t, OutcomePrompted, out.Kind)
	assert.Equal(t, "relay", out.Action)

	out = f.say(t, aliceID, "alice", "hi all")
	require.NoError(t, out.Err)
	require.NotNil(t, out.Broadcast)
	assert.Equal(t, 3, out.Broadcast.Delivered)

	for _, id := range []string{rootID, bobID, carolID} {
		assert.Equal(t, "Anon#2: hi all", f.lastTextTo(t, id))
	}
	// Only admins holding private_reply get a reply button.
	rootMsgs := f.sent.SentTo(rootID)
	assert.Equal(t, []string{"REPLY|2"}, payloads(rootMsgs[len(rootMsgs)-1].Keyboard))
	assert.Empty(t, f.sent.SentTo(bobID)[0].Keyboard)
	assert.Equal(t, int64(1), f.store.Stats().Messages)

	// The relay state is consumed.
	f.sent.Reset()
	out = f.say(t, aliceID, "alice", "again")
	assert.Equal(t, "menu", out.Action)
	assert.Empty(t, f.sent.SentTo(bobID))
}

func TestHandle_RelaySkipsBannedRecipients(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Ban(context.Background(), "@carol")
	require.NoError(t, err)

	f.press(t, aliceID, "alice", "USER_SEND")
	out := f.say(t, aliceID, "alice", "psst")
	require.NotNil(t, out.Broadcast)
	assert.Equal(t, 2, out.Broadcast.Delivered)
	assert.Empty(t, f.sent.SentTo(carolID))
}

func TestHandle_AdminOnlyChat(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.SetAdminChatOnly(context.Background(), true))

	out := f.press(t, aliceID, "alice", "USER_SEND")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrForbidden)

	out = f.press(t, rootID, "root", "USER_SEND")
	assert.Equal(t, OutcomePrompted, out.Kind)

	out = f.press(t, rootID, "root", "TOGGLE_ADMIN_CHAT")
	require.NoError(t, out.Err)
	assert.False(t, f.store.AdminChatOnly())
	assert.Equal(t, []security.EventType{security.EventAdminChatToggle}, f.audit.Types())
}

func TestHandle_RestrictedGeneration(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.RestrictGeneration = true })
	f.gw.served[gateway.KindChat] = true

	out := f.command(t, aliceID, "alice", "ask", "what is go?")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrForbidden)
	assert.Empty(t, f.gw.Calls())

	out = f.command(t, rootID, "root", "allow", "@alice")
	require.NoError(t, out.Err)
	assert.True(t, f.store.IsAllowed("@alice"))

	out = f.command(t, aliceID, "alice", "ask", "what is go?")
	require.NoError(t, out.Err)
	assert.Equal(t, OutcomeAction, out.Kind)
	require.Len(t, f.gw.Calls(), 1)
	assert.Equal(t, gateway.KindChat, f.gw.Calls()[0].Kind)

	last := f.sent.SentTo(aliceID)
	reply := last[len(last)-1]
	assert.Equal(t, "answer to what is go?", reply.TextContent())
	assert.Equal(t, "m-"+aliceID, reply.ReplyToID)

	out = f.command(t, rootID, "root", "deny", "@alice")
	require.NoError(t, out.Err)
	assert.False(t, f.store.IsAllowed("@alice"))
	assert.Equal(t, []security.EventType{security.EventGrant, security.EventRevoke}, f.audit.Types())
}

func TestHandle_AllowRequiresManagePerms(t *testing.T) {
	f := newFixture(t)

	out := f.command(t, aliceID, "alice", "allow", "@bob")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrForbidden)
	assert.False(t, f.store.IsAllowed("@bob"))

	out = f.command(t, rootID, "root", "allow", "not a handle")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrInvalidHandle)
}

func TestHandle_PromptThenGenerate(t *testing.T) {
	f := newFixture(t)
	f.gw.served[gateway.KindImage] = true
	f.gw.result = func(gateway.Request) (gateway.Artifact, error) {
		return gateway.Artifact{Type: gateway.ArtifactImage, Data: []byte("png"), MIMEType: "image/png"}, nil
	}

	out := f.press(t, aliceID, "alice", "GEN|image")
	require.Equal(t, OutcomePrompted, out.Kind)
	assert.Equal(t, "image_prompt", out.Action)

	out = f.say(t, aliceID, "alice", "a red fox")
	require.NoError(t, out.Err)
	assert.Equal(t, "a red fox", f.gw.Calls()[0].Prompt)

	msgs := f.sent.SentTo(aliceID)
	last := msgs[len(msgs)-1]
	require.Len(t, last.Blocks, 1)
	assert.Equal(t, message.BlockImage, last.Blocks[0].Type)
	assert.Equal(t, []byte("png"), last.Blocks[0].Data)
	assert.Equal(t, "result.png", last.Blocks[0].FileName)

	out = f.press(t, aliceID, "alice", "GEN|video")
	assert.ErrorIs(t, out.Err, ErrMalformed)
}

func TestHandle_GatewayErrorsBecomeOneReply(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"timeout", fmt.Errorf("%w: openai did not answer in time", gateway.ErrTimeout), "took too long"},
		{"remote", gateway.NewRemoteError("openai", 429, []byte("quota exceeded")), "quota exceeded"},
		{"config", fmt.Errorf("%w: missing key", gateway.ErrConfig), "unavailable"},
		{"other", errors.New("boom"), "Something went wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gw.served[gateway.KindChat] = true
			f.gw.result = func(gateway.Request) (gateway.Artifact, error) {
				return gateway.Artifact{}, tt.err
			}

			out := f.command(t, aliceID, "alice", "ask", "hi")
			assert.Equal(t, OutcomeAction, out.Kind)
			assert.ErrorIs(t, out.Err, tt.err)

			msgs := f.sent.SentTo(aliceID)
			require.Len(t, msgs, 1)
			assert.Contains(t, msgs[0].TextContent(), tt.want)
		})
	}
}

func TestHandle_UnavailableBackend(t *testing.T) {
	f := newFixture(t)

	out := f.command(t, aliceID, "alice", "image", "")
	assert.ErrorIs(t, out.Err, gateway.ErrConfig)
	assert.Contains(t, f.lastTextTo(t, aliceID), "unavailable")
	_, pending := f.router.Conversation().Peek(aliceID)
	assert.False(t, pending)
}

func TestHandle_DownloadFlow(t *testing.T) {
	f := newFixture(t)
	f.gw.served[gateway.KindDownloadVideo] = true
	f.gw.served[gateway.KindDownloadAudio] = true
	f.gw.result = func(req gateway.Request) (gateway.Artifact, error) {
		return gateway.Artifact{Type: gateway.ArtifactVideo, URL: "https://cdn.example.com/v.mp4", Caption: "clip"}, nil
	}

	out := f.say(t, aliceID, "alice", "https://youtu.be/abc")
	require.Equal(t, OutcomePrompted, out.Kind)
	assert.Equal(t, []string{"DL|video", "DL|audio", "CANCEL"}, payloads(f.sent.SentTo(aliceID)[0].Keyboard))

	out = f.press(t, aliceID, "alice", "DL|video")
	require.NoError(t, out.Err)
	calls := f.gw.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, gateway.KindDownloadVideo, calls[0].Kind)
	assert.Equal(t, "https://youtu.be/abc", calls[0].Prompt)

	msgs := f.sent.SentTo(aliceID)
	last := msgs[len(msgs)-1]
	assert.Equal(t, message.BlockVideo, last.Blocks[0].Type)
	assert.Equal(t, "https://cdn.example.com/v.mp4", last.Blocks[0].URL)
	assert.Equal(t, "clip", last.Blocks[0].Caption)

	// The link was consumed.
	out = f.press(t, aliceID, "alice", "DL|audio")
	assert.Equal(t, OutcomeAction, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrNotFound)
}

func TestHandle_URLWithoutDownloaderShowsMenu(t *testing.T) {
	f := newFixture(t)

	out := f.say(t, aliceID, "alice", "https://youtu.be/abc")
	assert.Equal(t, OutcomePrompted, out.Kind)
	assert.Equal(t, "menu", out.Action)
}

func TestHandle_ConvertFlow(t *testing.T) {
	var fetched message.ContentBlock
	f := newFixture(t, func(c *Config) {
		c.Files = fileResolverFunc(func(_ context.Context, channel string, block message.ContentBlock) ([]byte, error) {
			fetched = block
			return []byte("wav-bytes"), nil
		})
	})
	f.gw.served[gateway.KindConvert] = true
	f.gw.result = func(req gateway.Request) (gateway.Artifact, error) {
		return gateway.Artifact{Type: gateway.ArtifactDocument, Data: []byte("mp3-bytes"), FileName: "song.mp3"}, nil
	}

	out := f.command(t, aliceID, "alice", "convert", "MP3")
	require.Equal(t, OutcomePrompted, out.Kind)

	// Text keeps the pending conversion.
	out = f.say(t, aliceID, "alice", "here it comes")
	assert.Equal(t, OutcomePrompted, out.Kind)
	assert.Contains(t, f.lastTextTo(t, aliceID), "send the file itself")

	media := inbound(aliceID, "alice", message.EventMedia)
	media.Blocks = []message.ContentBlock{{Type: message.BlockAudio, FileID: "f-1", FileName: "song.wav", MIMEType: "audio/wav"}}
	out = f.router.Handle(context.Background(), media)
	require.NoError(t, out.Err)
	assert.Equal(t, "f-1", fetched.FileID)

	calls := f.gw.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "mp3", calls[0].Prompt)
	require.NotNil(t, calls[0].Input)
	assert.Equal(t, []byte("wav-bytes"), calls[0].Input.Data)
	assert.Equal(t, "song.wav", calls[0].Input.FileName)

	msgs := f.sent.SentTo(aliceID)
	last := msgs[len(msgs)-1]
	assert.Equal(t, message.BlockFile, last.Blocks[0].Type)
	assert.Equal(t, "song.mp3", last.Blocks[0].FileName)
}

func TestHandle_ConvertRejectsBadFormat(t *testing.T) {
	f := newFixture(t)
	f.gw.served[gateway.KindConvert] = true

	for _, args := range []string{"", "m", "../etc", "mp3 wav"} {
		out := f.command(t, aliceID, "alice", "convert", args)
		assert.Equal(t, OutcomeRejected, out.Kind, args)
		assert.ErrorIs(t, out.Err, ErrMalformed, args)
	}
}

func TestHandle_MediaWithoutPendingConvertShowsMenu(t *testing.T) {
	f := newFixture(t)
	media := inbound(aliceID, "alice", message.EventMedia)
	media.Blocks = []message.ContentBlock{message.NewImageBlock("", "image/jpeg")}

	out := f.router.Handle(context.Background(), media)
	assert.Equal(t, "menu", out.Action)
}

func TestHandle_MuteFlow(t *testing.T) {
	f := newFixture(t)

	out := f.press(t, rootID, "root", "MUTE_USER")
	require.Equal(t, OutcomePrompted, out.Kind)

	out = f.say(t, rootID, "root", "@alice 5")
	require.NoError(t, out.Err)
	assert.True(t, f.store.IsMuted(aliceID, f.now.Add(4*time.Minute)))
	assert.False(t, f.store.IsMuted(aliceID, f.now.Add(5*time.Minute)))

	f.press(t, rootID, "root", "MUTE_USER")
	out = f.say(t, rootID, "root", "@alice 0")
	require.NoError(t, out.Err)
	assert.False(t, f.store.IsMuted(aliceID, f.now))

	f.press(t, rootID, "root", "MUTE_USER")
	out = f.say(t, rootID, "root", "@alice soon")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, ErrMalformed)

	// Bootstrap admins cannot be muted.
	f.press(t, rootID, "root", "MUTE_USER")
	out = f.say(t, rootID, "root", "@root 5")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrForbidden)

	assert.Equal(t, []security.EventType{security.EventMute, security.EventMute}, f.audit.Types())
}

func TestHandle_BanFlow(t *testing.T) {
	f := newFixture(t)

	f.press(t, rootID, "root", "BAN_USER")
	out := f.say(t, rootID, "root", "@Bob")
	require.NoError(t, out.Err)
	assert.True(t, f.store.IsBanned("@bob"))

	f.press(t, rootID, "root", "UNBAN_USER")
	out = f.say(t, rootID, "root", "bob")
	require.NoError(t, out.Err)
	assert.False(t, f.store.IsBanned("@bob"))

	f.press(t, rootID, "root", "UNBAN_USER")
	out = f.say(t, rootID, "root", "@bob")
	assert.ErrorIs(t, out.Err, access.ErrNotFound)
	assert.Contains(t, f.lastTextTo(t, rootID), "Not found")
}

func TestHandle_AdminManagement(t *testing.T) {
	f := newFixture(t)

	f.press(t, rootID, "root", "ADD_ADMIN")
	out := f.say(t, rootID, "root", "@alice")
	require.NoError(t, out.Err)
	assert.True(t, f.store.IsAdmin("@alice"))
	assert.Empty(t, f.store.Permissions("@alice"))

	f.press(t, rootID, "root", "SET_PERMS")
	out = f.say(t, rootID, "root", "@alice")
	require.NoError(t, out.Err)
	assert.Contains(t, payloads(f.sent.SentTo(rootID)[len(f.sent.SentTo(rootID))-1].Keyboard), "TOGGLE|@alice|stats")

	f.press(t, rootID, "root", "REMOVE_ADMIN")
	out = f.say(t, rootID, "root", "@root")
	assert.ErrorIs(t, out.Err, access.ErrForbidden)

	f.press(t, rootID, "root", "REMOVE_ADMIN")
	out = f.say(t, rootID, "root", "@alice")
	require.NoError(t, out.Err)
	assert.False(t, f.store.IsAdmin("@alice"))

	assert.Equal(t, []security.EventType{security.EventAdminAdd, security.EventAdminRemove}, f.audit.Types())
}

func TestHandle_CapabilityRecheckedOnConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.AddAdmin(ctx, "@alice")
	require.NoError(t, err)
	require.NoError(t, f.store.SetPermission(ctx, "@alice", access.CapBroadcast, true))

	out := f.press(t, aliceID, "alice", "BROADCAST")
	require.Equal(t, OutcomePrompted, out.Kind)
	require.NoError(t, f.store.SetPermission(ctx, "@alice", access.CapBroadcast, false))

	out = f.say(t, aliceID, "alice", "hello")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrForbidden)
	assert.Empty(t, f.sent.SentTo(bobID))
}

func TestHandle_ImpersonateAndPrivateReply(t *testing.T) {
	f := newFixture(t)

	f.press(t, rootID, "root", "IMPERSONATE")
	out := f.say(t, rootID, "root", "Santa ho ho ho")
	require.NoError(t, out.Err)
	assert.Equal(t, "Santa: ho ho ho", f.lastTextTo(t, bobID))
	assert.Equal(t, 3, out.Broadcast.Delivered)

	f.press(t, rootID, "root", "IMPERSONATE")
	out = f.say(t, rootID, "root", "Santa")
	assert.ErrorIs(t, out.Err, ErrMalformed)

	out = f.press(t, rootID, "root", "REPLY|"+aliceID)
	require.Equal(t, OutcomePrompted, out.Kind)
	out = f.say(t, rootID, "root", "thanks for the tip")
	require.NoError(t, out.Err)
	assert.Contains(t, f.lastTextTo(t, aliceID), "thanks for the tip")

	out = f.press(t, rootID, "root", "REPLY|404")
	assert.ErrorIs(t, out.Err, access.ErrNotFound)

	assert.Equal(t, []security.EventType{security.EventImpersonate, security.EventPrivateReply}, f.audit.Types())
}

func TestHandle_ExportAndLogs(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "relaybot.log")
	require.NoError(t, os.WriteFile(logPath, []byte("level=INFO msg=started\n"), 0o600))
	f := newFixture(t, func(c *Config) {
		c.LogFile = func() (string, error) { return logPath, nil }
	})

	out := f.press(t, rootID, "root", "EXPORT_DATA")
	require.NoError(t, out.Err)
	doc := f.sent.SentTo(rootID)[0].Blocks[0]
	assert.Equal(t, message.BlockFile, doc.Type)
	assert.Equal(t, "relaybot-state-20260301T120000Z.json", doc.FileName)
	var st access.State
	require.NoError(t, json.Unmarshal(doc.Data, &st))
	assert.Equal(t, []string{"@root"}, st.Admins)
	assert.Len(t, st.Users, 4)

	out = f.press(t, rootID, "root", "SAVE_LOGS")
	require.NoError(t, out.Err)
	logs := f.sent.SentTo(rootID)[1].Blocks[0]
	assert.Equal(t, "relaybot.log", logs.FileName)
	assert.Equal(t, "level=INFO msg=started\n", string(logs.Data))

	assert.Equal(t, []security.EventType{security.EventExport, security.EventExport}, f.audit.Types())
}

func TestHandle_StatsAndUsers(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Ban(context.Background(), "@carol")
	require.NoError(t, err)

	out := f.press(t, rootID, "root", "SHOW_STATS")
	require.NoError(t, out.Err)
	text := f.lastTextTo(t, rootID)
	assert.Contains(t, text, "Users: 4")
	assert.Contains(t, text, "Banned: 1")

	out = f.press(t, rootID, "root", "SHOW_USERS")
	require.NoError(t, out.Err)
	text = f.lastTextTo(t, rootID)
	assert.Contains(t, text, "4 users")
	assert.Contains(t, text, "@carol [banned]")

	out = f.press(t, rootID, "root", "SHOW_ADMINS")
	require.NoError(t, out.Err)
	assert.Contains(t, f.lastTextTo(t, rootID), "@root (owner)")
}

func TestHandle_CommandsMisc(t *testing.T) {
	f := newFixture(t)

	out := f.command(t, aliceID, "alice", "frobnicate", "")
	assert.Equal(t, OutcomeIgnored, out.Kind)

	out = f.command(t, aliceID, "alice", "admin", "")
	assert.ErrorIs(t, out.Err, access.ErrForbidden)

	out = f.command(t, aliceID, "alice", "help", "")
	require.NoError(t, out.Err)
	assert.Contains(t, f.lastTextTo(t, aliceID), "/convert")

	out = f.command(t, rootID, "root", "whoami", "")
	require.NoError(t, out.Err)
	assert.Contains(t, f.lastTextTo(t, rootID), "Admin @root with broadcast")

	// Commands may also arrive as raw text.
	msg := inbound(aliceID, "alice", message.EventCommand)
	msg.Blocks = []message.ContentBlock{message.NewTextBlock("/whoami@relaybot")}
	out = f.router.Handle(context.Background(), msg)
	require.NoError(t, out.Err)
	assert.Equal(t, "You are Anon#2.", f.lastTextTo(t, aliceID))

	f.press(t, aliceID, "alice", "USER_SEND")
	out = f.command(t, aliceID, "alice", "cancel", "")
	assert.Equal(t, OutcomePrompted, out.Kind)
	_, pending := f.router.Conversation().Peek(aliceID)
	assert.False(t, pending)
}

func TestHandle_FloodLimit(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Flood = security.NewKeyedLimiter(0.001, 2) })

	for range 2 {
		out := f.command(t, aliceID, "alice", "help", "")
		require.NoError(t, out.Err)
	}
	out := f.command(t, aliceID, "alice", "help", "")
	assert.Equal(t, OutcomeRejected, out.Kind)
	assert.ErrorIs(t, out.Err, security.ErrRateLimited)
	assert.Len(t, f.sent.SentTo(aliceID), 2, "flood rejections are silent")

	out = f.command(t, bobID, "bob", "help", "")
	assert.NoError(t, out.Err)
}

func TestHandle_StoreFailureReportsSaveError(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	store, err := access.NewStore(access.NewFilePersister(filepath.Join(dir, "missing", "sub", "state.json")), []string{"@root"})
	require.NoError(t, err)
	// Make the parent a file so every write fails.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "missing"), nil, 0o600))

	r, err := NewRouter(Config{Store: store, Sender: f.sent, Logger: discardLogger()})
	require.NoError(t, err)

	out := r.Handle(context.Background(), inbound(aliceID, "alice", message.EventCommand))
	assert.Equal(t, OutcomeAction, out.Kind)
	assert.ErrorIs(t, out.Err, access.ErrIO)
	assert.True(t, strings.Contains(f.lastTextTo(t, aliceID), "could not save"))
}
