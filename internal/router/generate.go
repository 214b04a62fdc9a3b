package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/flemzord/relaybot/internal/access"
	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/pkg/message"
)

const workingText = "⏳ Working on it..."

// available reports whether kind can be served right now.
func (r *Router) available(kind gateway.Kind) error {
	if r.config.Gateway == nil {
		return fmt.Errorf("%w: no gateway", gateway.ErrConfig)
	}
	return r.config.Gateway.Available(kind)
}

// downloadAvailable is nil when at least one download kind is served.
func (r *Router) downloadAvailable() error {
	err := r.available(gateway.KindDownloadVideo)
	if err == nil {
		return nil
	}
	if r.available(gateway.KindDownloadAudio) == nil {
		return nil
	}
	return err
}

// checkGeneration applies the allow-list gate, then back-end availability.
func (r *Router) checkGeneration(req *request, kind gateway.Kind) error {
	if r.config.RestrictGeneration && !r.store.IsAllowed(req.handle) {
		return fmt.Errorf("%w: %s is reserved to allowed users", access.ErrForbidden, kind)
	}
	return r.available(kind)
}

// startGeneration prompts for a chat or image prompt.
func (r *Router) startGeneration(ctx context.Context, req *request, what string) Outcome {
	kind, await, text := gateway.KindChat, awaitChatPrompt, "💬 What would you like to ask?"
	if what == genImage {
		kind, await, text = gateway.KindImage, awaitImagePrompt, "🎨 Describe the image you want."
	}
	if err := r.checkGeneration(req, kind); err != nil {
		return done(string(await), err)
	}
	return r.prompt(ctx, req, await, "", text)
}

func (r *Router) generate(ctx context.Context, req *request, kind gateway.Kind, prompt string) Outcome {
	if err := r.checkGeneration(req, kind); err != nil {
		return done(string(kind), err)
	}
	if prompt == "" {
		return rejected(string(kind), fmt.Errorf("%w: empty prompt", ErrMalformed))
	}
	if kind != gateway.KindChat {
		r.working(ctx, req)
	}
	return r.invoke(ctx, req, gateway.Request{Kind: kind, Prompt: prompt})
}

func (r *Router) offerDownload(ctx context.Context, req *request, url string) Outcome {
	if r.config.RestrictGeneration && !r.store.IsAllowed(req.handle) {
		return rejected(string(awaitDownloadFormat), fmt.Errorf("%w: downloads are reserved to allowed users", access.ErrForbidden))
	}
	if err := r.downloadAvailable(); err != nil {
		return done(string(awaitDownloadFormat), err)
	}
	r.conv.Await(req.id, awaitDownloadFormat, url)
	if err := r.reply(ctx, req.msg, "🔗 What should I download from this link?", downloadKeyboard()...); err != nil {
		return done(string(awaitDownloadFormat), err)
	}
	return prompted(string(awaitDownloadFormat))
}

func (r *Router) download(ctx context.Context, req *request, kind gateway.Kind, url string) Outcome {
	if err := r.checkGeneration(req, kind); err != nil {
		return done(string(kind), err)
	}
	r.working(ctx, req)
	return r.invoke(ctx, req, gateway.Request{Kind: kind, Prompt: url})
}

// convert fetches the received file and asks the back end for format.
func (r *Router) convert(ctx context.Context, req *request, format string, block message.ContentBlock) Outcome {
	action := string(gateway.KindConvert)
	if err := r.checkGeneration(req, gateway.KindConvert); err != nil {
		return done(action, err)
	}
	data := block.Data
	if len(data) == 0 {
		if r.config.Files == nil {
			return done(action, fmt.Errorf("%w: cannot fetch files from %s", gateway.ErrConfig, req.msg.Channel))
		}
		var err error
		if data, err = r.config.Files.FetchFile(ctx, req.msg.Channel, block); err != nil {
			return done(action, fmt.Errorf("fetching file: %w", err))
		}
	}
	name := block.FileName
	if name == "" {
		name = "input." + defaultExtension(block.Type)
	}
	r.working(ctx, req)
	return r.invoke(ctx, req, gateway.Request{
		Kind:   gateway.KindConvert,
		Prompt: format,
		Input:  &gateway.Input{Data: data, FileName: name, MIMEType: block.MIMEType},
	})
}

func (r *Router) invoke(ctx context.Context, req *request, greq gateway.Request) Outcome {
	action := string(greq.Kind)
	art, err := r.config.Gateway.Invoke(ctx, greq, r.config.GatewayTimeout)
	if err != nil {
		return done(action, err)
	}
	return done(action, r.send(ctx, renderArtifact(req.msg, art)))
}

// working tells the sender a slow call started. Failures are only logged.
func (r *Router) working(ctx context.Context, req *request) {
	if err := r.reply(ctx, req.msg, workingText); err != nil {
		r.logger.Debug("router: progress message failed", "error", err)
	}
}

// renderArtifact turns a back-end result into a reply to msg.
func renderArtifact(msg message.InboundMessage, art gateway.Artifact) message.OutboundMessage {
	out := message.OutboundMessage{
		Channel:   msg.Channel,
		Chat:      msg.Chat,
		ReplyToID: msg.ID,
	}

	var typ message.BlockType
	switch art.Type {
	case gateway.ArtifactImage:
		typ = message.BlockImage
	case gateway.ArtifactAudio:
		typ = message.BlockAudio
	case gateway.ArtifactVideo:
		typ = message.BlockVideo
	case gateway.ArtifactDocument:
		typ = message.BlockFile
	default:
		text := strings.TrimSpace(art.Text)
		if text == "" {
			text = "🤷 The service returned an empty answer."
		}
		out.Blocks = []message.ContentBlock{message.NewTextBlock(text)}
		return out
	}

	block := message.ContentBlock{
		Type:     typ,
		URL:      art.URL,
		MIMEType: art.MIMEType,
		FileName: art.FileName,
		Caption:  art.Caption,
	}
	if art.IsInline() {
		block.Data = art.Data
		block.URL = ""
		if block.FileName == "" {
			block.FileName = "result." + defaultExtension(typ)
		}
	}
	out.Blocks = []message.ContentBlock{block}
	return out
}

func defaultExtension(t message.BlockType) string {
	switch t {
	case message.BlockImage:
		return "png"
	case message.BlockAudio:
		return "mp3"
	case message.BlockVideo:
		return "mp4"
	default:
		return "bin"
	}
}
