package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/flemzord/relaybot/internal/gateway"
)

// maxResponseSize is the maximum response body size (20 MB, enough for a
// base64 encoded image).
const maxResponseSize = 20 * 1024 * 1024

// Invoke implements gateway.Backend.
func (b *Backend) Invoke(ctx context.Context, req gateway.Request) (gateway.Artifact, error) {
	if err := b.Available(); err != nil {
		return gateway.Artifact{}, err
	}
	switch req.Kind {
	case gateway.KindChat:
		return b.chat(ctx, req)
	case gateway.KindImage:
		return b.image(ctx, req)
	default:
		return gateway.Artifact{}, fmt.Errorf("%w: openai does not serve %s", gateway.ErrConfig, req.Kind)
	}
}

func (b *Backend) chat(ctx context.Context, req gateway.Request) (gateway.Artifact, error) {
	cr := chatRequest{Model: req.Param("model", b.config.ChatModel)}
	if b.config.SystemPrompt != "" {
		cr.Messages = append(cr.Messages, chatMessage{Role: "system", Content: b.config.SystemPrompt})
	}
	cr.Messages = append(cr.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if b.config.MaxTokens > 0 {
		cr.MaxTokens = b.config.MaxTokens
	}

	var resp chatResponse
	if err := b.post(ctx, "/chat/completions", cr, &resp); err != nil {
		return gateway.Artifact{}, err
	}
	if len(resp.Choices) == 0 {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), http.StatusOK, []byte("response has no choices"))
	}
	return gateway.Artifact{
		Type: gateway.ArtifactText,
		Text: strings.TrimSpace(resp.Choices[0].Message.Content),
	}, nil
}

func (b *Backend) image(ctx context.Context, req gateway.Request) (gateway.Artifact, error) {
	ir := imageRequest{
		Model:  req.Param("model", b.config.ImageModel),
		Prompt: req.Prompt,
		N:      1,
		Size:   req.Param("size", b.config.ImageSize),
	}

	var resp imageResponse
	if err := b.post(ctx, "/images/generations", ir, &resp); err != nil {
		return gateway.Artifact{}, err
	}
	if len(resp.Data) == 0 {
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), http.StatusOK, []byte("response has no images"))
	}

	img := resp.Data[0]
	art := gateway.Artifact{
		Type:     gateway.ArtifactImage,
		MIMEType: "image/png",
		Caption:  img.RevisedPrompt,
	}
	switch {
	case img.URL != "":
		art.URL = img.URL
	case img.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), http.StatusOK, []byte("invalid base64 image: "+err.Error()))
		}
		art.Data = data
		art.FileName = "image.png"
	default:
		return gateway.Artifact{}, gateway.NewRemoteError(b.Name(), http.StatusOK, []byte("image has neither url nor data"))
	}
	return art, nil
}

// post sends payload as JSON to path and decodes a 2xx answer into out.
func (b *Backend) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(b.config.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+b.apiKey())

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return mapConnectionError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("openai: read response: %w", err)
	}
	if err := mapHTTPError(resp.StatusCode, raw); err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return gateway.NewRemoteError(b.Name(), resp.StatusCode, []byte("unreadable response: "+err.Error()))
	}
	return nil
}
