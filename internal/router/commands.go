package router

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/pkg/message"
)

// formatPattern bounds the target of /convert to a plain extension.
var formatPattern = regexp.MustCompile(`^[a-z0-9]{2,5}$`)

// requirement is what the sender must hold to run an action.
type requirement struct {
	admin      bool
	capability access.Capability
}

var requireAdmin = requirement{admin: true}

func requireCap(c access.Capability) requirement {
	return requirement{capability: c}
}

// authorize checks need against req and records refusals in the audit log.
func (r *Router) authorize(req *request, action string, need requirement) error {
	var err error
	switch {
	case need.capability != "":
		if !r.store.HasCapability(req.handle, need.capability) {
			err = fmt.Errorf("%w: %s requires %s", access.ErrForbidden, action, need.capability)
		}
	case need.admin:
		if !r.store.IsAdmin(req.handle) {
			err = fmt.Errorf("%w: %s requires an admin", access.ErrForbidden, action)
		}
	}
	if err != nil {
		r.audit(req, security.EventForbidden, "", action, nil)
	}
	return err
}

func (r *Router) audit(req *request, typ security.EventType, target, detail string, meta map[string]string) {
	r.config.Audit.Log(security.AuditEvent{
		Type:     typ,
		Channel:  req.msg.Channel,
		ActorID:  req.id,
		Actor:    req.handle,
		Target:   target,
		Detail:   detail,
		Metadata: meta,
	})
}

type command struct {
	need requirement
	run  func(ctx context.Context, req *request, args string) Outcome
}

func (r *Router) commandTable() map[string]command {
	managePerms := requireCap(access.CapManagePerms)
	return map[string]command{
		"start":    {run: r.cmdStart},
		"menu":     {run: r.cmdStart},
		"help":     {run: r.cmdHelp},
		"cancel":   {run: r.cmdCancel},
		"send":     {run: r.cmdSend},
		"admin":    {need: requireAdmin, run: r.cmdAdmin},
		"ask":      {run: r.cmdAsk},
		"image":    {run: r.cmdImage},
		"convert":  {run: r.cmdConvert},
		"download": {run: r.cmdDownload},
		"allow":    {need: managePerms, run: r.cmdAllow},
		"deny":     {need: managePerms, run: r.cmdDeny},
		"whoami":   {run: r.cmdWhoami},
	}
}

func (r *Router) handleCommand(ctx context.Context, req *request) Outcome {
	name, args := req.msg.Command, req.msg.Args
	if name == "" {
		var ok bool
		if name, args, ok = message.ParseCommand(req.msg.TextContent()); !ok {
			return ignored("command")
		}
	}
	name = strings.ToLower(name)
	cmd, ok := r.commands[name]
	if !ok {
		return ignored(name)
	}
	if err := r.authorize(req, "/"+name, cmd.need); err != nil {
		return rejected(name, err)
	}
	return cmd.run(ctx, req, strings.TrimSpace(args))
}

func (r *Router) cmdStart(ctx context.Context, req *request, _ string) Outcome {
	r.conv.Clear(req.id)
	return r.showMainMenu(ctx, req, "")
}

func (r *Router) cmdHelp(ctx context.Context, req *request, _ string) Outcome {
	return done("help", r.reply(ctx, req.msg, helpText))
}

func (r *Router) cmdCancel(ctx context.Context, req *request, _ string) Outcome {
	r.conv.Clear(req.id)
	return r.showMainMenu(ctx, req, "✖️ Cancelled.")
}

func (r *Router) cmdSend(ctx context.Context, req *request, _ string) Outcome {
	return r.startRelay(ctx, req)
}

func (r *Router) cmdAdmin(ctx context.Context, req *request, _ string) Outcome {
	return r.showAdminPanel(ctx, req, nil)
}

func (r *Router) cmdAsk(ctx context.Context, req *request, args string) Outcome {
	if args == "" {
		return r.startGeneration(ctx, req, genChat)
	}
	return r.generate(ctx, req, gateway.KindChat, args)
}

func (r *Router) cmdImage(ctx context.Context, req *request, args string) Outcome {
	if args == "" {
		return r.startGeneration(ctx, req, genImage)
	}
	return r.generate(ctx, req, gateway.KindImage, args)
}

func (r *Router) cmdConvert(ctx context.Context, req *request, args string) Outcome {
	format := strings.TrimPrefix(strings.ToLower(args), ".")
	if !formatPattern.MatchString(format) {
		return rejected("convert", fmt.Errorf("%w: usage /convert <format>, for example /convert mp3", ErrMalformed))
	}
	if err := r.checkGeneration(req, gateway.KindConvert); err != nil {
		return done("convert", err)
	}
	return r.prompt(ctx, req, awaitConvertFile, format,
		fmt.Sprintf("📎 Send me the file to convert to %s.", format))
}

func (r *Router) cmdDownload(ctx context.Context, req *request, args string) Outcome {
	if !looksLikeURL(args) {
		return rejected("download", fmt.Errorf("%w: usage /download <url>", ErrMalformed))
	}
	return r.offerDownload(ctx, req, args)
}

func (r *Router) cmdAllow(ctx context.Context, req *request, args string) Outcome {
	h, err := access.NormalizeHandle(args)
	if err != nil {
		return rejected("allow", err)
	}
	added, err := r.store.Grant(ctx, h)
	if err != nil {
		return done("allow", err)
	}
	text := fmt.Sprintf("✅ %s may now use generation.", h)
	if !added {
		text = fmt.Sprintf("ℹ️ %s was already allowed.", h)
	} else {
		r.audit(req, security.EventGrant, h, "", nil)
	}
	return done("allow", r.reply(ctx, req.msg, text))
}

func (r *Router) cmdDeny(ctx context.Context, req *request, args string) Outcome {
	h, err := access.NormalizeHandle(args)
	if err != nil {
		return rejected("deny", err)
	}
	if err := r.store.Revoke(ctx, h); err != nil {
		return done("deny", err)
	}
	r.audit(req, security.EventRevoke, h, "", nil)
	return done("deny", r.reply(ctx, req.msg, fmt.Sprintf("🚫 %s may no longer use generation.", h)))
}

func (r *Router) cmdWhoami(ctx context.Context, req *request, _ string) Outcome {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are Anon#%d.", req.user.AnonTag)
	if r.store.IsAdmin(req.handle) {
		perms := r.store.Permissions(req.handle)
		var held []string
		for _, c := range access.AllCapabilities() {
			if perms[c] {
				held = append(held, string(c))
			}
		}
		fmt.Fprintf(&sb, "\nAdmin %s", req.handle)
		if len(held) > 0 {
			fmt.Fprintf(&sb, " with %s", strings.Join(held, ", "))
		}
		sb.WriteByte('.')
	}
	return done("whoami", r.reply(ctx, req.msg, sb.String()))
}

func looksLikeURL(s string) bool {
	s = strings.TrimSpace(s)
	return !strings.ContainsAny(s, " \n\t") &&
		(strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://"))
}
