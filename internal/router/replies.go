package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/conversation"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/pkg/message"
)

// Button payloads understood by handleButton.
const (
	payloadUserSend        = "USER_SEND"
	payloadGenerate        = "GEN"
	payloadDownload        = "DL"
	payloadMenu            = "MENU"
	payloadCancel          = "CANCEL"
	payloadAdminPanel      = "ADMIN_PANEL"
	payloadShowAdmins      = "SHOW_ADMINS"
	payloadShowUsers       = "SHOW_USERS"
	payloadShowStats       = "SHOW_STATS"
	payloadAddAdmin        = "ADD_ADMIN"
	payloadRemoveAdmin     = "REMOVE_ADMIN"
	payloadSetPerms        = "SET_PERMS"
	payloadToggle          = "TOGGLE"
	payloadMuteUser        = "MUTE_USER"
	payloadBanUser         = "BAN_USER"
	payloadUnbanUser       = "UNBAN_USER"
	payloadExportData      = "EXPORT_DATA"
	payloadSaveLogs        = "SAVE_LOGS"
	payloadBroadcast       = "BROADCAST"
	payloadImpersonate     = "IMPERSONATE"
	payloadToggleAdminChat = "TOGGLE_ADMIN_CHAT"
	payloadReply           = "REPLY"

	payloadSep = "|"
)

const helpText = `I relay messages anonymously between everyone talking to me.

/send - send an anonymous message
/ask <prompt> - ask the assistant
/image <prompt> - generate an image
/convert <format> - convert the next file you send
/download <url> - download a video or its audio
/whoami - show your anonymous tag
/cancel - abort what I am waiting for
/menu - show the main menu`

// mutedError carries the end of an active mute.
type mutedError struct {
	until time.Time
}

func (e *mutedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrMuted, e.until.UTC().Format(time.RFC3339))
}

func (e *mutedError) Unwrap() error { return ErrMuted }

// silent reports errors that get no reply.
func silent(err error) bool {
	return errors.Is(err, security.ErrRateLimited) || errors.Is(err, context.Canceled)
}

// errorText maps a handler error to the single line shown to the sender.
func errorText(err error) string {
	var remote *gateway.RemoteError
	var muted *mutedError
	switch {
	case errors.As(err, &muted):
		return "🔇 You are muted until " + formatUntil(muted.until) + "."
	case errors.Is(err, ErrBanned):
		return "⛔ You are banned from this bot."
	case errors.Is(err, ErrNoHandle):
		return "❌ You need a public username for this."
	case errors.Is(err, access.ErrForbidden):
		return "⛔ You are not allowed to do that."
	case errors.Is(err, access.ErrNotFound):
		return "❓ Not found: " + detail(err)
	case errors.Is(err, access.ErrInvalidHandle):
		return "❌ That is not a valid @username."
	case errors.Is(err, access.ErrUnknownCapability), errors.Is(err, ErrMalformed):
		return "❌ I could not understand that: " + detail(err)
	case errors.Is(err, access.ErrIO):
		return "⚠️ I could not save that change, please try again later."
	case errors.Is(err, gateway.ErrTimeout):
		return "⌛ The service took too long to answer. Please try again."
	case errors.As(err, &remote):
		return "⚠️ The service returned an error: " + remote.Body
	case errors.Is(err, gateway.ErrRemote):
		return "⚠️ The service returned an error."
	case errors.Is(err, gateway.ErrConfig):
		return "🚫 This feature is currently unavailable."
	case errors.Is(err, security.ErrRateLimited):
		return "🐢 Slow down a little."
	default:
		return "⚠️ Something went wrong."
	}
}

// detail strips sentinel prefixes, keeping the last segment of a wrapped error.
func detail(err error) string {
	s := err.Error()
	if i := strings.LastIndex(s, ": "); i >= 0 {
		return s[i+2:]
	}
	return s
}

// chatOf returns the direct chat with principal id. Telegram uses the
// account id as the private chat id.
func chatOf(id string) message.Chat {
	return message.Chat{ID: id, Type: message.ChatDM}
}

func (r *Router) send(ctx context.Context, out message.OutboundMessage) error {
	return r.config.Sender.Send(ctx, out)
}

// reply answers the sender in the chat the event came from.
func (r *Router) reply(ctx context.Context, msg message.InboundMessage, text string, rows ...[]message.Button) error {
	out := message.NewTextMessage(msg.Chat, text)
	out.Channel = msg.Channel
	if len(rows) > 0 {
		out = out.WithKeyboard(rows...)
	}
	return r.send(ctx, out)
}

// prompt moves req into the awaited state kind and asks for the input.
func (r *Router) prompt(ctx context.Context, req *request, kind conversation.Kind, hint, text string) Outcome {
	r.conv.Await(req.id, kind, hint)
	if err := r.reply(ctx, req.msg, text, message.Row(cancelButton())); err != nil {
		return done(string(kind), err)
	}
	return prompted(string(kind))
}

func button(text, payload string, args ...string) message.Button {
	if len(args) > 0 {
		payload += payloadSep + strings.Join(args, payloadSep)
	}
	return message.Button{Text: text, Payload: payload}
}

func cancelButton() message.Button {
	return button("✖️ Cancel", payloadCancel)
}

func backButton(payload string) message.Button {
	return button("⬅️ Back", payload)
}

// mainMenu lists what req may do. Generation buttons only appear when a
// back end can serve them.
func (r *Router) mainMenu(req *request) [][]message.Button {
	rows := [][]message.Button{message.Row(button("✉️ Send anonymous message", payloadUserSend))}

	var gen []message.Button
	if r.available(gateway.KindChat) == nil {
		gen = append(gen, button("💬 Ask", payloadGenerate, genChat))
	}
	if r.available(gateway.KindImage) == nil {
		gen = append(gen, button("🎨 Image", payloadGenerate, genImage))
	}
	if len(gen) > 0 {
		rows = append(rows, gen)
	}
	if r.store.IsAdmin(req.handle) {
		rows = append(rows, message.Row(button("🛠 Admin panel", payloadAdminPanel)))
	}
	if r.config.DonateURL != "" {
		rows = append(rows, message.Row(message.Button{Text: "❤️ Donate", URL: r.config.DonateURL}))
	}
	return rows
}

func (r *Router) showMainMenu(ctx context.Context, req *request, text string) Outcome {
	if text == "" {
		text = fmt.Sprintf("👋 You are Anon#%d. What would you like to do?", req.user.AnonTag)
	}
	if err := r.reply(ctx, req.msg, text, r.mainMenu(req)...); err != nil {
		return done("menu", err)
	}
	return prompted("menu")
}

// adminPanel lists the admin buttons backed by a capability req holds.
func (r *Router) adminPanel(req *request) [][]message.Button {
	type entry struct {
		text    string
		payload string
	}
	groups := []struct {
		need    access.Capability
		entries []entry
	}{
		{access.CapStats, []entry{{"👥 Users", payloadShowUsers}, {"📊 Stats", payloadShowStats}}},
		{access.CapManagePerms, []entry{{"➕ Add admin", payloadAddAdmin}, {"➖ Remove admin", payloadRemoveAdmin}, {"🔐 Permissions", payloadSetPerms}}},
		{access.CapMute, []entry{{"🔇 Mute", payloadMuteUser}, {"⛔ Ban", payloadBanUser}, {"✅ Unban", payloadUnbanUser}}},
		{access.CapBroadcast, []entry{{"📢 Broadcast", payloadBroadcast}}},
		{access.CapImpersonate, []entry{{"🎭 Impersonate", payloadImpersonate}}},
		{access.CapAdminChat, []entry{{"🗣 Toggle admin chat", payloadToggleAdminChat}}},
		{access.CapExport, []entry{{"💾 Export data", payloadExportData}, {"📜 Save logs", payloadSaveLogs}}},
	}

	rows := [][]message.Button{message.Row(button("🧑‍💼 Admins", payloadShowAdmins))}
	for _, g := range groups {
		if !r.store.HasCapability(req.handle, g.need) {
			continue
		}
		row := make([]message.Button, 0, len(g.entries))
		for _, e := range g.entries {
			row = append(row, button(e.text, e.payload))
		}
		rows = append(rows, row)
	}
	return append(rows, message.Row(backButton(payloadMenu)))
}

// permissionsKeyboard has one toggle per capability for handle.
func (r *Router) permissionsKeyboard(handle string) [][]message.Button {
	perms := r.store.Permissions(handle)
	caps := access.AllCapabilities()
	rows := make([][]message.Button, 0, len(caps)/2+2)
	var row []message.Button
	for _, c := range caps {
		mark := "❌"
		if perms[c] {
			mark = "✅"
		}
		row = append(row, button(mark+" "+string(c), payloadToggle, handle, string(c)))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return append(rows, message.Row(backButton(payloadAdminPanel)))
}

func downloadKeyboard() [][]message.Button {
	return [][]message.Button{
		message.Row(button("🎬 Video", payloadDownload, dlVideo), button("🎵 Audio", payloadDownload, dlAudio)),
		message.Row(cancelButton()),
	}
}
