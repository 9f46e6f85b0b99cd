package speech

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ListVoices fetches the voices the upstream offers.
func (c *client) ListVoices(parentCtx context.Context) ([]Voice, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.VoicesTimeout)
	defer cancel()

	url := c.cfg.BaseURL + "/v1/voices"
	resp, err := c.doWithRetry(ctx, "list_voices", func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, errors.Wrap(err, "speech: build HTTP request")
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		httpReq.Header.Set("Accept", "application/json")
		return c.httpClient.Do(httpReq)
	})
	if err != nil {
		c.logger.Error("list voices failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	var list providerVoiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, errors.Wrap(err, "speech: decode voices")
	}

	voices := make([]Voice, 0, len(list.Data))
	for _, v := range list.Data {
		voices = append(voices, Voice{
			ID:       v.VoiceID,
			Name:     v.Name,
			Language: v.Language,
			Gender:   v.Gender,
		})
	}

	c.logger.Info("list voices completed",
		zap.Int("voices", len(voices)),
		zap.Duration("duration", time.Since(start)),
	)
	return voices, nil
}

// checkStatus turns a non-2xx response into an *UpstreamError.
func (c *client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var perr providerErrorResponse
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		c.logger.Error("speech provider error",
			zap.Int("status", resp.StatusCode),
			zap.String("error_type", perr.Error.Type),
			zap.String("error_message", perr.Error.Message),
		)
		return &UpstreamError{Status: resp.StatusCode, Message: perr.Error.Message, Type: perr.Error.Type}
	}

	c.logger.Error("speech upstream error",
		zap.Int("status", resp.StatusCode),
		zap.String("body", truncate(string(body), 200)),
	)
	return &UpstreamError{Status: resp.StatusCode, Message: truncate(string(body), 200)}
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
