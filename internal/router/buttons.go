package router

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/conversation"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/pkg/message"
)

// Arguments of the GEN and DL payloads.
const (
	genChat  = "chat"
	genImage = "image"
	dlVideo  = "video"
	dlAudio  = "audio"
)

type buttonAction struct {
	need  requirement
	arity int
	run   func(ctx context.Context, req *request, args []string) Outcome
}

func (r *Router) buttonTable() map[string]buttonAction {
	stats := requireCap(access.CapStats)
	perms := requireCap(access.CapManagePerms)
	mute := requireCap(access.CapMute)
	export := requireCap(access.CapExport)

	return map[string]buttonAction{
		payloadUserSend: {run: r.btnUserSend},
		payloadGenerate: {arity: 1, run: r.btnGenerate},
		payloadDownload: {arity: 1, run: r.btnDownload},
		payloadMenu:     {run: r.btnMenu},
		payloadCancel:   {run: r.btnCancel},

		payloadAdminPanel: {need: requireAdmin, run: r.showAdminPanel},
		payloadShowAdmins: {need: requireAdmin, run: r.btnShowAdmins},
		payloadShowUsers:  {need: stats, run: r.btnShowUsers},
		payloadShowStats:  {need: stats, run: r.btnShowStats},

		payloadAddAdmin:    {need: perms, run: r.askFor(awaitAddAdmin, "➕ Send the @username of the new admin.")},
		payloadRemoveAdmin: {need: perms, run: r.askFor(awaitRemoveAdmin, "➖ Send the @username of the admin to remove.")},
		payloadSetPerms:    {need: perms, run: r.askFor(awaitPermsHandle, "🔐 Send the @username of the admin whose permissions you want to edit.")},
		payloadToggle:      {need: perms, arity: 2, run: r.btnToggle},

		payloadMuteUser:  {need: mute, run: r.askFor(awaitMute, "🔇 Send \"@username minutes\". 0 minutes lifts the mute.")},
		payloadBanUser:   {need: mute, run: r.askFor(awaitBan, "⛔ Send the @username to ban.")},
		payloadUnbanUser: {need: mute, run: r.askFor(awaitUnban, "✅ Send the @username to unban.")},

		payloadExportData: {need: export, run: r.btnExport},
		payloadSaveLogs:   {need: export, run: r.btnSaveLogs},

		payloadBroadcast:       {need: requireCap(access.CapBroadcast), run: r.askFor(awaitBroadcast, "📢 Send the message to broadcast to everyone.")},
		payloadImpersonate:     {need: requireCap(access.CapImpersonate), run: r.askFor(awaitImpersonate, "🎭 Send \"<name> <message>\".")},
		payloadToggleAdminChat: {need: requireCap(access.CapAdminChat), run: r.btnToggleAdminChat},
		payloadReply:           {need: requireCap(access.CapPrivateReply), arity: 1, run: r.btnReply},
	}
}

// handleButton dispatches an "ACTION|arg|arg" payload. Unknown actions are
// ignored; known ones are authorised before their arguments are checked.
func (r *Router) handleButton(ctx context.Context, req *request) Outcome {
	action, rest, hasArgs := strings.Cut(req.msg.Payload, payloadSep)
	b, ok := r.buttons[action]
	if !ok {
		return ignored("button")
	}
	if err := r.authorize(req, action, b.need); err != nil {
		return rejected(action, err)
	}
	var args []string
	if hasArgs {
		args = strings.Split(rest, payloadSep)
	}
	if len(args) != b.arity {
		return rejected(action, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrMalformed, action, b.arity, len(args)))
	}
	return b.run(ctx, req, args)
}

// askFor returns a button handler that awaits kind with the given prompt.
func (r *Router) askFor(kind conversation.Kind, text string) func(context.Context, *request, []string) Outcome {
	return func(ctx context.Context, req *request, _ []string) Outcome {
		return r.prompt(ctx, req, kind, "", text)
	}
}

func (r *Router) btnUserSend(ctx context.Context, req *request, _ []string) Outcome {
	return r.startRelay(ctx, req)
}

func (r *Router) btnGenerate(ctx context.Context, req *request, args []string) Outcome {
	switch args[0] {
	case genChat, genImage:
		return r.startGeneration(ctx, req, args[0])
	default:
		return rejected(payloadGenerate, fmt.Errorf("%w: unknown generation %q", ErrMalformed, args[0]))
	}
}

func (r *Router) btnDownload(ctx context.Context, req *request, args []string) Outcome {
	var kind gateway.Kind
	switch args[0] {
	case dlVideo:
		kind = gateway.KindDownloadVideo
	case dlAudio:
		kind = gateway.KindDownloadAudio
	default:
		return rejected(payloadDownload, fmt.Errorf("%w: unknown download format %q", ErrMalformed, args[0]))
	}
	aw, ok := r.conv.ConsumeKind(req.id, awaitDownloadFormat)
	if !ok {
		return done(payloadDownload, fmt.Errorf("%w: no pending link, send it again", access.ErrNotFound))
	}
	return r.download(ctx, req, kind, aw.Context)
}

func (r *Router) btnMenu(ctx context.Context, req *request, _ []string) Outcome {
	r.conv.Clear(req.id)
	return r.showMainMenu(ctx, req, "")
}

func (r *Router) btnCancel(ctx context.Context, req *request, _ []string) Outcome {
	r.conv.Clear(req.id)
	return r.showMainMenu(ctx, req, "✖️ Cancelled.")
}

func (r *Router) showAdminPanel(ctx context.Context, req *request, _ []string) Outcome {
	r.conv.Clear(req.id)
	if err := r.reply(ctx, req.msg, "🛠 Admin panel", r.adminPanel(req)...); err != nil {
		return done(payloadAdminPanel, err)
	}
	return prompted(payloadAdminPanel)
}

func (r *Router) btnShowAdmins(ctx context.Context, req *request, _ []string) Outcome {
	admins := r.store.Admins()
	var sb strings.Builder
	sb.WriteString("🧑‍💼 Admins:")
	for _, h := range admins {
		sb.WriteString("\n• " + h)
		if r.store.IsBootstrap(h) {
			sb.WriteString(" (owner)")
		}
	}
	return done(payloadShowAdmins, r.reply(ctx, req.msg, sb.String(), message.Row(backButton(payloadAdminPanel))))
}

func (r *Router) btnShowUsers(ctx context.Context, req *request, _ []string) Outcome {
	users := r.store.Users()
	ids := r.store.UserIDs()
	now := r.config.Now()

	var sb strings.Builder
	fmt.Fprintf(&sb, "👥 %d users:", len(ids))
	for _, id := range ids {
		u := users[id]
		fmt.Fprintf(&sb, "\n• %s Anon#%d", id, u.AnonTag)
		if u.Handle != "" {
			sb.WriteString(" " + u.Handle)
			if r.store.IsBanned(u.Handle) {
				sb.WriteString(" [banned]")
			}
		}
		if now.Before(u.MutedUntil) {
			fmt.Fprintf(&sb, " [muted until %s]", formatUntil(u.MutedUntil))
		}
	}
	return done(payloadShowUsers, r.reply(ctx, req.msg, sb.String(), message.Row(backButton(payloadAdminPanel))))
}

func (r *Router) btnShowStats(ctx context.Context, req *request, _ []string) Outcome {
	st := r.store.Stats()
	mode := "off"
	if st.AdminChatOnly {
		mode = "on"
	}
	text := fmt.Sprintf("📊 Stats\nUsers: %d\nAdmins: %d\nAllowed: %d\nBanned: %d\nMuted: %d\nMessages relayed: %d\nAdmin-only chat: %s",
		st.Users, st.Admins, st.Allowed, st.Banned, st.Muted, st.Messages, mode)
	return done(payloadShowStats, r.reply(ctx, req.msg, text, message.Row(backButton(payloadAdminPanel))))
}

// btnToggle flips one capability. The handle and capability are checked
// before anything is written.
func (r *Router) btnToggle(ctx context.Context, req *request, args []string) Outcome {
	h, err := access.NormalizeHandle(args[0])
	if err != nil {
		return rejected(payloadToggle, fmt.Errorf("%w: %w", ErrMalformed, err))
	}
	c, err := access.ParseCapability(args[1])
	if err != nil {
		return rejected(payloadToggle, fmt.Errorf("%w: %w", ErrMalformed, err))
	}
	if !r.store.IsAdmin(h) {
		return done(payloadToggle, fmt.Errorf("%w: %s is not an admin", access.ErrNotFound, h))
	}
	enabled, err := r.store.TogglePermission(ctx, h, c)
	if err != nil {
		return done(payloadToggle, err)
	}
	r.audit(req, security.EventPermToggle, h, string(c), map[string]string{
		"capability": string(c),
		"enabled":    fmt.Sprint(enabled),
	})
	text := fmt.Sprintf("🔐 Permissions of %s", h)
	return done(payloadToggle, r.reply(ctx, req.msg, text, r.permissionsKeyboard(h)...))
}

func (r *Router) btnExport(ctx context.Context, req *request, _ []string) Outcome {
	snap := r.store.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return done(payloadExportData, err)
	}
	name := fmt.Sprintf("relaybot-state-%s.json", r.config.Now().UTC().Format("20060102T150405Z"))
	if err := r.sendDocument(ctx, req, data, "application/json", name, "💾 State export"); err != nil {
		return done(payloadExportData, err)
	}
	r.audit(req, security.EventExport, "", "state", map[string]string{"file": name})
	return done(payloadExportData, nil)
}

func (r *Router) btnSaveLogs(ctx context.Context, req *request, _ []string) Outcome {
	if r.config.LogFile == nil {
		return done(payloadSaveLogs, fmt.Errorf("%w: no log file configured", access.ErrNotFound))
	}
	path, err := r.config.LogFile()
	if err != nil {
		return done(payloadSaveLogs, fmt.Errorf("%w: %w", access.ErrNotFound, err))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return done(payloadSaveLogs, fmt.Errorf("%w: reading log file: %w", access.ErrNotFound, err))
	}
	if err := r.sendDocument(ctx, req, data, "text/plain", filepath.Base(path), "📜 Current log"); err != nil {
		return done(payloadSaveLogs, err)
	}
	r.audit(req, security.EventExport, "", "logs", map[string]string{"file": filepath.Base(path)})
	return done(payloadSaveLogs, nil)
}

func (r *Router) btnToggleAdminChat(ctx context.Context, req *request, _ []string) Outcome {
	on := !r.store.AdminChatOnly()
	if err := r.store.SetAdminChatOnly(ctx, on); err != nil {
		return done(payloadToggleAdminChat, err)
	}
	r.audit(req, security.EventAdminChatToggle, "", "", map[string]string{"enabled": fmt.Sprint(on)})
	text := "🗣 Admin-only chat is now off. Everyone can relay messages."
	if on {
		text = "🗣 Admin-only chat is now on. Only admins can relay messages."
	}
	return done(payloadToggleAdminChat, r.reply(ctx, req.msg, text, message.Row(backButton(payloadAdminPanel))))
}

func (r *Router) btnReply(ctx context.Context, req *request, args []string) Outcome {
	target := args[0]
	u, ok := r.store.Principal(target)
	if !ok {
		return done(payloadReply, fmt.Errorf("%w: user %s", access.ErrNotFound, target))
	}
	return r.prompt(ctx, req, awaitPrivateReply, target,
		fmt.Sprintf("↩️ Send your private reply to Anon#%d.", u.AnonTag))
}

func (r *Router) sendDocument(ctx context.Context, req *request, data []byte, mimeType, name, caption string) error {
	block := message.NewDataBlock(message.BlockFile, data, mimeType, name)
	block.Caption = caption
	return r.send(ctx, message.OutboundMessage{
		Channel: req.msg.Channel,
		Chat:    req.msg.Chat,
		Blocks:  []message.ContentBlock{block},
	})
}

// recipients returns every registered principal except the excluded ids,
// skipping banned handles.
func (r *Router) recipients(exclude ...string) []string {
	users := r.store.Users()
	out := make([]string, 0, len(users))
	for _, id := range r.store.UserIDs() {
		if slices.Contains(exclude, id) {
			continue
		}
		if h := users[id].Handle; h != "" && r.store.IsBanned(h) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func formatUntil(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04") + " UTC"
}
