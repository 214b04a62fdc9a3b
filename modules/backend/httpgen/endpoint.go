package httpgen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/flemzord/relaybot/internal/gateway"
	"github.com/flemzord/relaybot/internal/security"
	"github.com/tidwall/gjson"
)

const maxResponseSize = 20 * 1024 * 1024

// Endpoint is one configured service, registered with the gateway as its
// own back end.
type Endpoint struct {
	config EndpointConfig
	client *http.Client
	creds  *security.CredentialStore
}

// NewEndpoint builds an endpoint. creds may be nil when the endpoint needs
// no credential.
func NewEndpoint(cfg EndpointConfig, client *http.Client, creds *security.CredentialStore) *Endpoint {
	cfg.defaults()
	if client == nil {
		client = http.DefaultClient
	}
	return &Endpoint{config: cfg, client: client, creds: creds}
}

// Name implements gateway.Named.
func (e *Endpoint) Name() string {
	return "httpgen." + e.config.Name
}

// Kinds implements gateway.Backend.
func (e *Endpoint) Kinds() []gateway.Kind {
	return []gateway.Kind{gateway.Kind(e.config.Kind)}
}

// Available implements gateway.Availability.
func (e *Endpoint) Available() error {
	if e.config.Credential != "" && e.secret() == "" {
		return fmt.Errorf("%w: %s: credential %s is not set", gateway.ErrConfig, e.Name(), e.config.Credential)
	}
	return nil
}

func (e *Endpoint) secret() string {
	if e.creds == nil {
		return ""
	}
	v, _ := e.creds.Get(e.config.Credential)
	return v
}

// Invoke implements gateway.Backend.
func (e *Endpoint) Invoke(ctx context.Context, req gateway.Request) (gateway.Artifact, error) {
	if err := e.Available(); err != nil {
		return gateway.Artifact{}, err
	}
	httpReq, err := e.newRequest(ctx, req)
	if err != nil {
		return gateway.Artifact{}, err
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return gateway.Artifact{}, err
		}
		return gateway.Artifact{}, fmt.Errorf("%w: %s: %w", gateway.ErrRemote, e.Name(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return gateway.Artifact{}, fmt.Errorf("%w: %s: read response: %w", gateway.ErrRemote, e.Name(), err)
	}
	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gateway.Artifact{}, gateway.NewRemoteError(e.Name(), resp.StatusCode, e.errorMessage(body))
	}
	return e.extract(resp.StatusCode, contentType, body)
}

func (e *Endpoint) newRequest(ctx context.Context, req gateway.Request) (*http.Request, error) {
	fields := e.render(req)

	var body io.Reader
	var contentType string
	switch e.config.Encoding {
	case EncodingForm:
		form := url.Values{}
		for k, v := range fields {
			form.Set(k, v)
		}
		body = strings.NewReader(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		raw, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("%s: marshal request: %w", e.Name(), err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, e.config.Method, e.config.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", e.Name(), err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	for k, v := range e.config.Headers {
		httpReq.Header.Set(k, v)
	}
	if e.config.Credential != "" {
		httpReq.Header.Set(e.config.AuthHeader, e.config.AuthPrefix+e.secret())
	}
	return httpReq, nil
}

// render substitutes placeholders in the configured body.
func (e *Endpoint) render(req gateway.Request) map[string]string {
	pairs := []string{"{{prompt}}", req.Prompt}
	for k, v := range req.Params {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)

	if len(e.config.Body) == 0 {
		return map[string]string{"prompt": req.Prompt}
	}
	out := make(map[string]string, len(e.config.Body))
	for k, v := range e.config.Body {
		out[k] = r.Replace(v)
	}
	return out
}

func (e *Endpoint) extract(status int, contentType string, body []byte) (gateway.Artifact, error) {
	art := gateway.Artifact{Type: artifactType(gateway.Kind(e.config.Kind)), MIMEType: e.config.MIMEType}

	if e.config.Response == ResponseRaw {
		mediaType, _, _ := mime.ParseMediaType(contentType)
		if mediaType == "application/json" || len(body) == 0 {
			return gateway.Artifact{}, gateway.NewRemoteError(e.Name(), status, e.errorMessage(body))
		}
		if art.MIMEType == "" {
			art.MIMEType = mediaType
		}
		art.Data = body
		return art, nil
	}

	if !gjson.ValidBytes(body) {
		return gateway.Artifact{}, gateway.NewRemoteError(e.Name(), status, []byte("response is not JSON"))
	}
	res := gjson.GetBytes(body, e.config.Path)
	if !res.Exists() || res.String() == "" {
		return gateway.Artifact{}, gateway.NewRemoteError(e.Name(), status, fmt.Appendf(nil, "no value at %q: %s", e.config.Path, e.errorMessage(body)))
	}

	switch e.config.Response {
	case ResponseURL:
		art.URL = res.String()
	case ResponseBase64:
		data, err := base64.StdEncoding.DecodeString(res.String())
		if err != nil {
			return gateway.Artifact{}, gateway.NewRemoteError(e.Name(), status, []byte("invalid base64: "+err.Error()))
		}
		art.Data = data
	default:
		art.Type = gateway.ArtifactText
		art.Text = res.String()
	}
	return art, nil
}

// errorMessage pulls a human-readable message out of an error body.
func (e *Endpoint) errorMessage(body []byte) []byte {
	if gjson.ValidBytes(body) {
		for _, p := range e.config.ErrorPaths {
			if r := gjson.GetBytes(body, p); r.Exists() && r.Type == gjson.String && r.String() != "" {
				return []byte(r.String())
			}
		}
	}
	return body
}

func artifactType(k gateway.Kind) gateway.ArtifactType {
	if k == gateway.KindChat {
		return gateway.ArtifactText
	}
	return gateway.ArtifactImage
}
