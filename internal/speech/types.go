package speech

import (
	"context"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	FormatMP3  = "mp3"
	FormatOpus = "opus"
	FormatAAC  = "aac"
	FormatFLAC = "flac"
	FormatWAV  = "wav"
	FormatPCM  = "pcm"
)

const (
	maxInputSize = 4096 // characters accepted by the upstream per request
	minSpeed     = 0.25
	maxSpeed     = 4.0
)

// ErrInvalidRequest marks requests rejected before any upstream call.
var ErrInvalidRequest = errors.New("speech: invalid request")

type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language,omitempty"`
	Gender   string `json:"gender,omitempty"`
}

type SpeechRequest struct {
	Model  string  `json:"model"`
	Input  string  `json:"input"`
	Voice  string  `json:"voice"`
	Format string  `json:"response_format,omitempty"`
	Speed  float64 `json:"speed,omitempty"`
}

func (r *SpeechRequest) Validate() error {
	if r.Model == "" {
		return errors.Wrap(ErrInvalidRequest, "model is required")
	}
	if r.Voice == "" {
		return errors.Wrap(ErrInvalidRequest, "voice is required")
	}
	if strings.TrimSpace(r.Input) == "" {
		return errors.Wrap(ErrInvalidRequest, "input is required")
	}
	if n := len([]rune(r.Input)); n > maxInputSize {
		return errors.Wrapf(ErrInvalidRequest, "input too long (%d characters, max %d)", n, maxInputSize)
	}
	if r.Format != "" && !supportedFormat(r.Format) {
		return errors.Wrapf(ErrInvalidRequest, "unsupported response_format %q", r.Format)
	}
	if r.Speed != 0 && (r.Speed < minSpeed || r.Speed > maxSpeed) {
		return errors.Wrapf(ErrInvalidRequest, "speed must be between %.2f and %.1f", minSpeed, maxSpeed)
	}
	return nil
}

func supportedFormat(format string) bool {
	switch format {
	case FormatMP3, FormatOpus, FormatAAC, FormatFLAC, FormatWAV, FormatPCM:
		return true
	}
	return false
}

// Audio is a synthesized clip held in memory.
type Audio struct {
	ContentType string
	Data        []byte
}

// UpstreamError is a non-2xx answer from the speech provider.
type UpstreamError struct {
	Status  int
	Message string
	Type    string
}

func (e *UpstreamError) Error() string {
	if e.Type != "" {
		return "speech: upstream " + strconv.Itoa(e.Status) + ": " + e.Message + " (" + e.Type + ")"
	}
	return "speech: upstream " + strconv.Itoa(e.Status) + ": " + e.Message
}

type Client interface {
	ListVoices(ctx context.Context) ([]Voice, error)
	Synthesize(ctx context.Context, req *SpeechRequest) (*Audio, error)
}
