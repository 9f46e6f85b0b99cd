package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"voice-gateway/internal/cache"
	"voice-gateway/internal/speech"
	"voice-gateway/pkg/logging/logging"
)

// DefaultVoicesTTL is how long the upstream voice list stays cached.
const DefaultVoicesTTL = time.Hour

const voicesNamespace = "speech:voices"

// SpeechHandler serves the speech routes. The voice catalogue is cached;
// synthesized audio is not.
type SpeechHandler struct {
	client speech.Client
	voices func(ctx context.Context, _ struct{}) ([]speech.Voice, error)
}

func NewSpeechHandler(client speech.Client, c cache.Cache, voicesTTL time.Duration) *SpeechHandler {
	if voicesTTL <= 0 {
		voicesTTL = DefaultVoicesTTL
	}
	return &SpeechHandler{
		client: client,
		voices: cache.Wrap(c, func(ctx context.Context, _ struct{}) ([]speech.Voice, error) {
			return client.ListVoices(ctx)
		}, cache.WrapOptions[struct{}]{
			Namespace: voicesNamespace,
			TTL:       voicesTTL,
		}),
	}
}

// ListVoices handles GET /v1/voices.
func (h *SpeechHandler) ListVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.voices(r.Context(), struct{}{})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": voices})
}

// Synthesize handles POST /v1/speech and streams back the audio bytes.
func (h *SpeechHandler) Synthesize(w http.ResponseWriter, r *http.Request) {
	var req speech.SpeechRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	audio, err := h.client.Synthesize(r.Context(), &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", audio.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(audio.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio.Data)
}

func (h *SpeechHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var upstream *speech.UpstreamError
	switch {
	case errors.Is(err, speech.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &upstream) && upstream.Status >= 400 && upstream.Status < 500:
		writeError(w, http.StatusBadGateway, "upstream_rejected", upstream.Message)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "gateway_timeout", "")
	default:
		logging.L(r.Context()).Error("speech upstream error", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error", "")
	}
}
