package httpgen

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/flemzord/relaybot/internal/gateway"
)

// Response modes.
const (
	ResponseText   = "text"   // Path selects a string answer.
	ResponseURL    = "url"    // Path selects a link to the artifact.
	ResponseBase64 = "base64" // Path selects base64 encoded bytes.
	ResponseRaw    = "raw"    // The body is the artifact itself.
)

// Body encodings.
const (
	EncodingJSON = "json"
	EncodingForm = "form"
)

// Config holds the configuration for the httpgen module.
type Config struct {
	Timeout   string           `yaml:"timeout"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig describes one generation service reachable over HTTP.
//
// Body values may reference "{{prompt}}" and "{{<param>}}" placeholders,
// which are substituted from the gateway request.
type EndpointConfig struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	URL        string            `yaml:"url"`
	Method     string            `yaml:"method"`
	Encoding   string            `yaml:"encoding"`
	Headers    map[string]string `yaml:"headers"`
	AuthHeader string            `yaml:"auth_header"`
	AuthPrefix string            `yaml:"auth_prefix"`
	Credential string            `yaml:"credential"`
	Body       map[string]string `yaml:"body"`
	Response   string            `yaml:"response"`
	Path       string            `yaml:"path"`
	ErrorPaths []string          `yaml:"error_paths"`
	MIMEType   string            `yaml:"mime_type"`
}

func (c *Config) defaults() {
	if c.Timeout == "" {
		c.Timeout = "120s"
	}
	for i := range c.Endpoints {
		c.Endpoints[i].defaults()
	}
}

func (e *EndpointConfig) defaults() {
	if e.Method == "" {
		e.Method = "POST"
	}
	if e.Encoding == "" {
		e.Encoding = EncodingJSON
	}
	if e.Response == "" {
		e.Response = ResponseText
	}
	if e.AuthHeader == "" && e.Credential != "" {
		e.AuthHeader = "Authorization"
		e.AuthPrefix = "Bearer "
	}
	if len(e.ErrorPaths) == 0 {
		e.ErrorPaths = []string{"error.message", "error", "err", "detail"}
	}
	if e.Kind == "" {
		e.Kind = string(gateway.KindImage)
	}
}

func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

func (c *Config) validate() error {
	var errs []error
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err))
	}
	seen := make(map[string]bool)
	for i, e := range c.Endpoints {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("endpoints[%d]: name is required", i))
		} else if seen[e.Name] {
			errs = append(errs, fmt.Errorf("endpoints[%d]: duplicate name %q", i, e.Name))
		}
		seen[e.Name] = true
		if err := e.validate(); err != nil {
			errs = append(errs, fmt.Errorf("endpoints[%d] (%s): %w", i, e.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("backend.httpgen: %w", err)
	}
	return nil
}

func (e *EndpointConfig) validate() error {
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q must be an absolute http(s) URL", e.URL)
	}
	switch gateway.Kind(e.Kind) {
	case gateway.KindChat, gateway.KindImage:
	default:
		return fmt.Errorf("unsupported kind %q", e.Kind)
	}
	switch e.Encoding {
	case EncodingJSON, EncodingForm:
	default:
		return fmt.Errorf("unsupported encoding %q", e.Encoding)
	}
	switch e.Response {
	case ResponseText, ResponseURL, ResponseBase64:
		if e.Path == "" {
			return fmt.Errorf("response %q needs a path", e.Response)
		}
	case ResponseRaw:
	default:
		return fmt.Errorf("unsupported response %q", e.Response)
	}
	return nil
}
