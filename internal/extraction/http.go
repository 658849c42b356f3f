package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"dcops-backend/internal/retry"
)

// CallError is a failed provider request. Status is zero for transport
// failures.
type CallError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.Status, e.Body)
}

func (e *CallError) Unwrap() error { return e.Err }

// retryable reports whether another attempt may succeed.
func (e *CallError) retryable() bool {
	if e.Status == 0 {
		return true
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

const maxErrorBody = 512

type httpCaller struct {
	provider string
	settings Settings
}

func (c httpCaller) post(ctx context.Context, url string, headers map[string]string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return retry.WithExponentialBackoff(ctx, c.settings.Retry, c.settings.Logger, c.provider+" extraction", func() error {
		err := c.once(ctx, url, headers, data, out)
		if err == nil {
			return nil
		}
		if callErr, ok := err.(*CallError); ok && !callErr.retryable() {
			return retry.Permanent(err)
		}
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c httpCaller) once(ctx context.Context, url string, headers map[string]string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.settings.HTTPClient.Do(req)
	if err != nil {
		return &CallError{Provider: c.provider, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &CallError{Provider: c.provider, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("%s response decode: %w", c.provider, err))
	}
	return nil
}

func baseURL(configured, fallback string) string {
	if configured == "" {
		return fallback
	}
	return strings.TrimRight(configured, "/")
}

func mimeOrDefault(mime string) string {
	if mime == "" {
		return "image/png"
	}
	return mime
}
