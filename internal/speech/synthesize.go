package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Synthesize renders req.Input to audio. An empty model or format takes the
// client default.
func (c *client) Synthesize(parentCtx context.Context, req *SpeechRequest) (*Audio, error) {
	start := time.Now()

	if req == nil {
		return nil, errors.Wrap(ErrInvalidRequest, "request is nil")
	}

	pReq := *req
	if pReq.Model == "" {
		pReq.Model = c.cfg.Model
	}
	if pReq.Format == "" {
		pReq.Format = c.cfg.Format
	}
	if err := pReq.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(pReq)
	if err != nil {
		return nil, errors.Wrap(err, "speech: marshal request")
	}

	c.logger.Debug("speech request starting",
		zap.String("model", pReq.Model),
		zap.String("voice", pReq.Voice),
		zap.Int("input_chars", len([]rune(req.Input))),
	)

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.SynthesisTimeout)
	defer cancel()

	url := c.cfg.BaseURL + "/v1/audio/speech"
	resp, err := c.doWithRetry(ctx, "synthesize", func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "speech: build HTTP request")
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Content-Type", "application/json")
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		c.logger.Error("speech request failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxAudioBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "speech: read audio")
	}
	if int64(len(data)) > c.cfg.MaxAudioBytes {
		return nil, errors.Newf("speech: audio larger than %d bytes", c.cfg.MaxAudioBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = contentTypeFor(pReq.Format)
	}

	c.logger.Info("speech request completed",
		zap.String("model", pReq.Model),
		zap.String("voice", pReq.Voice),
		zap.Int("bytes", len(data)),
		zap.Duration("duration", time.Since(start)),
	)

	return &Audio{ContentType: contentType, Data: data}, nil
}

func contentTypeFor(format string) string {
	switch format {
	case FormatOpus:
		return "audio/ogg"
	case FormatAAC:
		return "audio/aac"
	case FormatFLAC:
		return "audio/flac"
	case FormatWAV:
		return "audio/wav"
	case FormatPCM:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}
