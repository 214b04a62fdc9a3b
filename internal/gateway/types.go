// Package gateway wraps outbound calls to generation, conversion and
// download back ends behind one bounded, timed, error-translating entry point.
package gateway

import "context"

// Kind names a capability offered by back ends.
type Kind string

// Supported kinds.
const (
	KindChat          Kind = "chat"
	KindImage         Kind = "image"
	KindConvert       Kind = "convert"
	KindDownloadVideo Kind = "download.video"
	KindDownloadAudio Kind = "download.audio"
)

// Request is one invocation.
//
// Prompt carries the main textual payload: a prompt, a URL or a target
// format depending on Kind. Params holds optional knobs such as "size",
// "model" or "quality". Input is set for kinds that transform a file.
type Request struct {
	Kind   Kind
	Prompt string
	Params map[string]string
	Input  *Input
}

// Param returns Params[key] or def when absent.
func (r Request) Param(key, def string) string {
	if v, ok := r.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// Input is a file handed to a back end.
type Input struct {
	Data     []byte
	FileName string
	MIMEType string
}

// ArtifactType describes how an Artifact should be rendered.
type ArtifactType string

// Artifact types.
const (
	ArtifactText     ArtifactType = "text"
	ArtifactImage    ArtifactType = "image"
	ArtifactAudio    ArtifactType = "audio"
	ArtifactVideo    ArtifactType = "video"
	ArtifactDocument ArtifactType = "document"
)

// Artifact is the result of a successful invocation. Binary content is
// either a fetchable URL or inline Data; callers must handle both.
type Artifact struct {
	Type     ArtifactType
	Text     string
	URL      string
	Data     []byte
	MIMEType string
	FileName string
	Caption  string
}

// IsInline reports whether the artifact carries its bytes.
func (a Artifact) IsInline() bool {
	return len(a.Data) > 0
}

// Backend performs invocations for one or more kinds.
type Backend interface {
	Kinds() []Kind
	Invoke(ctx context.Context, req Request) (Artifact, error)
}

// Availability is implemented by back ends whose readiness depends on
// configuration. A non-nil error marks the back end unavailable; it should
// wrap ErrConfig.
type Availability interface {
	Available() error
}

// Named is implemented by back ends that report a name for logs and metrics.
type Named interface {
	Name() string
}
