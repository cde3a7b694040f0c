// Package offload calls the remote import function over HTTP. The function
// accepts a core.OffloadRequest as JSON and replies with a
// core.OffloadResponse; any non-2xx reply is an invocation error.
package offload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/onboard/internal/core"
	"github.com/JonMunkholm/onboard/internal/logging"
)

// maxErrorBody bounds how much of a failed reply is read into the error.
const maxErrorBody = 4096

// HTTPInvoker implements core.Invoker against an HTTP endpoint.
type HTTPInvoker struct {
	url    string
	token  string
	client *http.Client
}

// Option configures an HTTPInvoker.
type Option func(*HTTPInvoker)

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(i *HTTPInvoker) { i.token = token }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(i *HTTPInvoker) { i.client = c }
}

// NewHTTPInvoker creates an invoker for url. timeout bounds one call.
func NewHTTPInvoker(url string, timeout time.Duration, opts ...Option) *HTTPInvoker {
	i := &HTTPInvoker{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Invoke implements core.Invoker.
func (i *HTTPInvoker) Invoke(ctx context.Context, req core.OffloadRequest) (core.OffloadResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return core.OffloadResponse{}, fmt.Errorf("remote import function: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, bytes.NewReader(body))
	if err != nil {
		return core.OffloadResponse{}, fmt.Errorf("remote import function: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if i.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+i.token)
	}

	start := time.Now()
	resp, err := i.client.Do(httpReq)
	if err != nil {
		return core.OffloadResponse{}, fmt.Errorf("remote import function: %w", err)
	}
	defer resp.Body.Close()

	logging.FromContext(ctx).Debug("remote import function replied",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.OffloadResponse{}, fmt.Errorf("remote import function: status %d: %s",
			resp.StatusCode, errorDetail(resp.Body))
	}

	var out core.OffloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.OffloadResponse{}, fmt.Errorf("remote import function: decode response: %w", err)
	}
	return out, nil
}

// errorDetail extracts {"error": "..."} from a failed reply, falling back to
// the raw body text.
func errorDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return "no response body"
}

var _ core.Invoker = (*HTTPInvoker)(nil)
