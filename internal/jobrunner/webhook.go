package jobrunner

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout bounds webhook calls for jobs that never configured one.
const defaultTimeout = 30 * time.Second

// WebhookRequest describes one outbound call.
type WebhookRequest struct {
	URL     string
	Method  string
	Headers map[string]string

	// Body is attached only for POST/PUT/PATCH and only when non-empty.
	Body string

	// Timeout is the hard deadline; the call is aborted when it elapses.
	Timeout time.Duration
}

// WebhookResult is the raw outcome of one call, before classification.
type WebhookResult struct {
	StatusCode int
	StatusText string

	// Body is the response body, captured best-effort: a read failure does
	// not fail the call.
	Body string

	// Err is set for transport-level failures (DNS, refused connection,
	// timeout). HTTP error statuses are NOT errors at this layer.
	Err error

	Duration time.Duration
}

// Sender performs webhook calls. An interface so tests can fail the
// transport without a network.
type Sender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// Compile-time check to verify that HTTPSender implements Sender.
var _ Sender = (*HTTPSender)(nil)

// HTTPSender is the production Sender backed by net/http.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates a sender with a shared client. Per-call deadlines
// come from the request context, so the client itself carries no timeout.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{client: &http.Client{}}
}

// Send performs the call. The configured timeout is enforced via context so
// the underlying connection is torn down when it fires, never left dangling.
func (s *HTTPSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if hasBody(req.Method) && req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, req.Method, req.URL, body)
	if err != nil {
		return WebhookResult{Err: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	// Default content type first, then the job's own headers on top so a
	// configured Content-Type wins.
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return WebhookResult{Err: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	result := WebhookResult{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Duration:   time.Since(start),
	}

	// Best-effort body capture; a truncated or failed read is not a failed
	// execution. The byte-bounded prefix can end mid-rune; truncate repairs
	// that before the body is persisted.
	if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyChars+1)); readErr == nil {
		result.Body = string(raw)
	}
	result.Duration = time.Since(start)

	return result
}

// hasBody reports whether the method carries a request body.
func hasBody(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
