package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/conversation"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/flemzord/relaybot/pkg/message"
)

// outboundKey is the single pacing bucket shared by every fan-out.
const outboundKey = "fanout"

// DeliveryFailure is one recipient a fan-out could not reach.
type DeliveryFailure struct {
	Principal string
	Err       error
}

// BroadcastSummary reports a fan-out. Delivery is collect-and-continue:
// one failed recipient never stops the others.
type BroadcastSummary struct {
	Delivered int
	Failed    []DeliveryFailure
}

// Total returns the number of recipients attempted.
func (s BroadcastSummary) Total() int {
	return s.Delivered + len(s.Failed)
}

func (s BroadcastSummary) String() string {
	if len(s.Failed) == 0 {
		return fmt.Sprintf("delivered to %d", s.Delivered)
	}
	return fmt.Sprintf("delivered to %d, %d failed", s.Delivered, len(s.Failed))
}

// fanOut sends build(id) to each recipient in order, paced by the outbound
// limiter. When ctx ends, the remaining recipients are reported as failed.
func (r *Router) fanOut(ctx context.Context, channel string, ids []string, build func(id string) message.OutboundMessage) BroadcastSummary {
	var sum BroadcastSummary
	for i, id := range ids {
		if err := r.config.Outbound.Wait(ctx, outboundKey); err != nil {
			for _, rest := range ids[i:] {
				sum.Failed = append(sum.Failed, DeliveryFailure{Principal: rest, Err: err})
			}
			r.metrics.deliveries.WithLabelValues("failed").Add(float64(len(ids) - i))
			break
		}
		out := build(id)
		out.Channel = channel
		if err := r.send(ctx, out); err != nil {
			r.logger.Warn("router: delivery failed", "recipient", id, "error", err)
			sum.Failed = append(sum.Failed, DeliveryFailure{Principal: id, Err: err})
			r.metrics.deliveries.WithLabelValues("failed").Inc()
			continue
		}
		sum.Delivered++
		r.metrics.deliveries.WithLabelValues("delivered").Inc()
	}
	return sum
}

func (r *Router) startRelay(ctx context.Context, req *request) Outcome {
	if r.store.AdminChatOnly() && !r.store.IsAdmin(req.handle) {
		return rejected(string(awaitRelay), fmt.Errorf("%w: only admins can send messages right now", access.ErrForbidden))
	}
	return r.prompt(ctx, req, awaitRelay, "", "✍️ Type the message to send anonymously.")
}

// onRelay sends text to every other principal under the sender's
// anonymous tag.
func (r *Router) onRelay(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	if text == "" {
		return rejected(action, fmt.Errorf("%w: only text can be relayed", ErrMalformed))
	}
	if r.store.AdminChatOnly() && !r.store.IsAdmin(req.handle) {
		return rejected(action, fmt.Errorf("%w: only admins can send messages right now", access.ErrForbidden))
	}

	body := fmt.Sprintf("Anon#%d: %s", req.user.AnonTag, text)
	users := r.store.Users()
	sum := r.fanOut(ctx, req.msg.Channel, r.recipients(req.id), func(id string) message.OutboundMessage {
		out := message.NewTextMessage(chatOf(id), body)
		if h := users[id].Handle; h != "" && r.store.HasCapability(h, access.CapPrivateReply) {
			out = out.WithKeyboard(message.Row(button("↩️ Reply", payloadReply, req.id)))
		}
		return out
	})
	if err := r.store.IncrementMessageCount(ctx); err != nil {
		r.logger.Warn("router: message counter not saved", "error", err)
	}

	out := done(action, r.reply(ctx, req.msg, "✅ Message sent, "+sum.String()+".", message.Row(button("✉️ Send another", payloadUserSend))))
	out.Broadcast = &sum
	return out
}

func (r *Router) onBroadcast(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	if text == "" {
		return rejected(action, fmt.Errorf("%w: empty broadcast", ErrMalformed))
	}
	sum := r.Broadcast(ctx, req.msg.Channel, req.id, "📢 "+text)
	r.audit(req, security.EventBroadcast, "", text, map[string]string{
		"delivered": strconv.Itoa(sum.Delivered),
		"failed":    strconv.Itoa(len(sum.Failed)),
	})
	out := done(action, r.reply(ctx, req.msg, "📢 Broadcast "+sum.String()+".", r.adminPanel(req)...))
	out.Broadcast = &sum
	return out
}

// Broadcast sends text to every registered, non-banned principal except
// the sender, continuing past individual failures.
func (r *Router) Broadcast(ctx context.Context, channel, sender, text string) BroadcastSummary {
	return r.fanOut(ctx, channel, r.recipients(sender), func(id string) message.OutboundMessage {
		return message.NewTextMessage(chatOf(id), text)
	})
}

// onImpersonate relays "<identity> <text>" under the given identity.
func (r *Router) onImpersonate(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	identity, body, ok := strings.Cut(text, " ")
	body = strings.TrimSpace(body)
	if !ok || identity == "" || body == "" {
		return rejected(action, fmt.Errorf("%w: expected \"<name> <message>\"", ErrMalformed))
	}
	sum := r.Broadcast(ctx, req.msg.Channel, req.id, identity+": "+body)
	r.audit(req, security.EventImpersonate, identity, body, map[string]string{
		"delivered": strconv.Itoa(sum.Delivered),
		"failed":    strconv.Itoa(len(sum.Failed)),
	})
	out := done(action, r.reply(ctx, req.msg, fmt.Sprintf("🎭 Sent as %s, %s.", identity, sum.String()), r.adminPanel(req)...))
	out.Broadcast = &sum
	return out
}

// onPrivateReply answers one anonymous sender; aw.Context is their id.
func (r *Router) onPrivateReply(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	if text == "" {
		return rejected(action, fmt.Errorf("%w: empty reply", ErrMalformed))
	}
	target, ok := r.store.Principal(aw.Context)
	if !ok {
		return done(action, fmt.Errorf("%w: user %s", access.ErrNotFound, aw.Context))
	}
	out := message.NewTextMessage(chatOf(aw.Context), "💬 Private reply from the admins: "+text)
	out.Channel = req.msg.Channel
	if err := r.send(ctx, out); err != nil {
		return done(action, err)
	}
	r.audit(req, security.EventPrivateReply, aw.Context, "", nil)
	return done(action, r.reply(ctx, req.msg, fmt.Sprintf("✅ Reply sent to Anon#%d.", target.AnonTag)))
}

// onMute parses "@handle minutes"; zero minutes lifts the mute.
func (r *Router) onMute(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return rejected(action, fmt.Errorf("%w: expected \"@username minutes\"", ErrMalformed))
	}
	minutes, err := strconv.Atoi(fields[1])
	if err != nil || minutes < 0 {
		return rejected(action, fmt.Errorf("%w: %q is not a number of minutes", ErrMalformed, fields[1]))
	}
	h, err := access.NormalizeHandle(fields[0])
	if err != nil {
		return rejected(action, err)
	}
	id, _, err := r.store.FindByHandle(h)
	if err != nil {
		return done(action, err)
	}

	var reply string
	if minutes == 0 {
		if err := r.store.Unmute(ctx, id); err != nil {
			return done(action, err)
		}
		reply = fmt.Sprintf("🔊 %s can talk again.", h)
	} else {
		until := r.config.Now().Add(time.Duration(minutes) * time.Minute)
		if err := r.store.Mute(ctx, id, until); err != nil {
			return done(action, err)
		}
		reply = fmt.Sprintf("🔇 %s is muted until %s.", h, formatUntil(until))
	}
	r.audit(req, security.EventMute, h, "", map[string]string{"minutes": strconv.Itoa(minutes)})
	return done(action, r.reply(ctx, req.msg, reply, r.adminPanel(req)...))
}

func (r *Router) onBan(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	h, err := access.NormalizeHandle(text)
	if err != nil {
		return rejected(action, err)
	}
	added, err := r.store.Ban(ctx, h)
	if err != nil {
		return done(action, err)
	}
	reply := fmt.Sprintf("ℹ️ %s was already banned.", h)
	if added {
		r.audit(req, security.EventBan, h, "", nil)
		reply = fmt.Sprintf("⛔ %s is banned.", h)
	}
	return done(action, r.reply(ctx, req.msg, reply, r.adminPanel(req)...))
}

func (r *Router) onUnban(ctx context.Context, req *request, aw conversation.Awaited, text string) Outcome {
	action := string(aw.Kind)
	h, err := access.NormalizeHandle(text)
	if err != nil {
		return rejected(action, err)
	}
	if err := r.store.Unban(ctx, h); err != nil {
		return done(action, err)
	}
	r.audit(req, security.EventUnban, h, "", nil)
	return done(action, r.reply(ctx, req.msg, fmt.Sprintf("✅ %s is no longer banned.", h), r.adminPanel(req)...))
}
