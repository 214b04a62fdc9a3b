// Package youtube implements the backend.youtube module, which downloads a
// YouTube video as a progressive mp4 or its best audio track.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/flemzord/relaybot/internal/core"
	"github.com/flemzord/relaybot/internal/gateway"
	ytdl "github.com/kkdai/youtube/v2"
	"gopkg.in/yaml.v3"
)

// ModuleID is the identifier under which the back end registers.
const ModuleID = "backend.youtube"

func init() {
	core.RegisterModule(&Backend{})
}

var (
	_ gateway.Backend   = (*Backend)(nil)
	_ gateway.Named     = (*Backend)(nil)
	_ core.Module       = (*Backend)(nil)
	_ core.Configurable = (*Backend)(nil)
	_ core.Provisioner  = (*Backend)(nil)
	_ core.Validator    = (*Backend)(nil)
)

// videoClient is the part of ytdl.Client the back end uses.
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*ytdl.Video, error)
	GetStreamContext(ctx context.Context, video *ytdl.Video, format *ytdl.Format) (io.ReadCloser, int64, error)
}

// Backend serves the download.video and download.audio kinds.
type Backend struct {
	config Config
	logger *slog.Logger
	client videoClient
}

// ModuleInfo implements core.Module.
func (b *Backend) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  ModuleID,
		New: func() core.Module { return &Backend{} },
	}
}

// Configure implements core.Configurable.
func (b *Backend) Configure(node *yaml.Node) error {
	if err := node.Decode(&b.config); err != nil {
		return err
	}
	b.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (b *Backend) Provision(ctx *core.AppContext) error {
	b.config.defaults()
	b.logger = ctx.Logger

	httpClient := &http.Client{Timeout: b.config.parsedTimeout()}
	if b.config.UserAgent != "" {
		httpClient.Transport = &userAgentTransport{base: http.DefaultTransport, agent: b.config.UserAgent}
	}
	b.client = &ytdl.Client{HTTPClient: httpClient}

	gw, ok := core.Service[*gateway.Gateway](ctx, core.ServiceGateway)
	if !ok {
		return errors.New("backend.youtube: gateway service not available")
	}
	if err := gw.Register(b.Name(), b); err != nil {
		return fmt.Errorf("backend.youtube: %w", err)
	}
	return nil
}

// Validate implements core.Validator.
func (b *Backend) Validate() error {
	return b.config.validate()
}

// Name implements gateway.Named.
func (b *Backend) Name() string {
	return "youtube"
}

// Kinds implements gateway.Backend.
func (b *Backend) Kinds() []gateway.Kind {
	return []gateway.Kind{gateway.KindDownloadVideo, gateway.KindDownloadAudio}
}

type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}
