package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/conversation"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
)

// Awaited input kinds.
const (
	awaitRelay          conversation.Kind = "relay"
	awaitAddAdmin       conversation.Kind = "add_admin"
	awaitRemoveAdmin    conversation.Kind = "remove_admin"
	awaitPermsHandle    conversation.Kind = "perms_handle"
	awaitMute           conversation.Kind = "mute"
	awaitBan            conversation.Kind = "ban"
	awaitUnban          conversation.Kind = "unban"
	awaitBroadcast      conversation.Kind = "broadcast"
	awaitImpersonate    conversation.Kind = "impersonate"
	awaitPrivateReply   conversation.Kind = "private_reply"
	awaitChatPrompt     conversation.Kind = "chat_prompt"
	awaitImagePrompt    conversation.Kind = "image_prompt"
	awaitConvertFile    conversation.Kind = "convert_file"
	awaitDownloadFormat conversation.Kind = "download_format"
)

// awaitedHandler consumes the text answering a prompt. need is checked
// again on consumption since capabilities may change in between.
type awaitedHandler struct {
	need requirement
	run  func(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome
}

func (r *Router) awaitedTable() map[conversation.Kind]awaitedHandler {
	perms := requireCap(access.CapManagePerms)
	mute := requireCap(access.CapMute)
	return map[conversation.Kind]awaitedHandler{
		awaitRelay:        {run: r.onRelay},
		awaitAddAdmin:     {need: perms, run: r.onAddAdmin},
		awaitRemoveAdmin:  {need: perms, run: r.onRemoveAdmin},
		awaitPermsHandle:  {need: perms, run: r.onPermsHandle},
		awaitMute:         {need: mute, run: r.onMute},
		awaitBan:          {need: mute, run: r.onBan},
		awaitUnban:        {need: mute, run: r.onUnban},
		awaitBroadcast:    {need: requireCap(access.CapBroadcast), run: r.onBroadcast},
		awaitImpersonate:  {need: requireCap(access.CapImpersonate), run: r.onImpersonate},
		awaitPrivateReply: {need: requireCap(access.CapPrivateReply), run: r.onPrivateReply},
		awaitChatPrompt:   {run: r.onChatPrompt},
		awaitImagePrompt:  {run: r.onImagePrompt},
	}
}

// handleText routes free text: to the pending prompt when there is one,
// otherwise to the download offer for links, otherwise to the main menu.
func (r *Router) handleText(ctx context.Context, req *request) Outcome {
	text := strings.TrimSpace(req.msg.TextContent())

	if aw, ok := r.conv.Consume(req.id); ok {
		switch aw.Kind {
		case awaitConvertFile:
			r.conv.Await(req.id, aw.Kind, aw.Context)
			if err := r.reply(ctx, req.msg, fmt.Sprintf("📎 Please send the file itself to convert it to %s.", aw.Context)); err != nil {
				return done(string(aw.Kind), err)
			}
			return prompted(string(aw.Kind))
		case awaitDownloadFormat:
			// A new message replaces the pending link.
		default:
			h, ok := r.awaited[aw.Kind]
			if !ok {
				r.logger.Warn("router: no handler for awaited input", "kind", string(aw.Kind))
				return ignored(string(aw.Kind))
			}
			if err := r.authorize(req, string(aw.Kind), h.need); err != nil {
				return rejected(string(aw.Kind), err)
			}
			return h.run(ctx, req, aw, text)
		}
	}

	if text == "" {
		return ignored("text")
	}
	if looksLikeURL(text) && r.downloadAvailable() == nil {
		return r.offerDownload(ctx, req, text)
	}
	return r.showMainMenu(ctx, req, "")
}

// handleMedia only accepts files answering /convert.
func (r *Router) handleMedia(ctx context.Context, req *request) Outcome {
	aw, ok := r.conv.ConsumeKind(req.id, awaitConvertFile)
	if !ok {
		return r.showMainMenu(ctx, req, "")
	}
	block, ok := req.msg.Media()
	if !ok {
		r.conv.Await(req.id, aw.Kind, aw.Context)
		return ignored(string(aw.Kind))
	}
	return r.convert(ctx, req, aw.Context, block)
}

func (r *Router) onChatPrompt(ctx context.Context, req *request, _ conversation.Awaited, text string) Outcome {
	return r.generate(ctx, req, gateway.KindChat, text)
}

func (r *Router) onImagePrompt(ctx context.Context, req *request, _ conversation.Awaited, text string) Outcome {
	return r.generate(ctx, req, gateway.KindImage, text)
}

func (r *Router) onAddAdmin(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	h, err := access.NormalizeHandle(text)
	if err != nil {
		return rejected(action, err)
	}
	added, err := r.store.AddAdmin(ctx, h)
	if err != nil {
		return done(action, err)
	}
	reply := fmt.Sprintf("ℹ️ %s is already an admin.", h)
	if added {
		r.audit(req, security.EventAdminAdd, h, "", nil)
		reply = fmt.Sprintf("✅ %s is now an admin with no permissions yet.", h)
	}
	return done(action, r.reply(ctx, req.msg, reply, r.adminPanel(req)...))
}

func (r *Router) onRemoveAdmin(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	h, err := access.NormalizeHandle(text)
	if err != nil {
		return rejected(action, err)
	}
	if err := r.store.RemoveAdmin(ctx, h); err != nil {
		return done(action, err)
	}
	r.audit(req, security.EventAdminRemove, h, "", nil)
	return done(action, r.reply(ctx, req.msg, fmt.Sprintf("✅ %s is no longer an admin.", h), r.adminPanel(req)...))
}

func (r *Router) onPermsHandle(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	h, err := access.NormalizeHandle(text)
	if err != nil {
		return rejected(action, err)
	}
	if !r.store.IsAdmin(h) {
		return done(action, fmt.Errorf("%w: %s is not an admin", access.ErrNotFound, h))
	}
	return done(action, r.reply(ctx, req.msg, fmt.Sprintf("🔐 Permissions of %s", h), r.permissionsKeyboard(h)...))
}
