package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrTimeout is returned when the destination does not answer in time
var ErrTimeout = errors.New("webhook request timed out")

// DefaultMaxResponseBytes caps how much of a destination reply is read
const DefaultMaxResponseBytes int64 = 1 << 20

// ForwardRequest describes one call to a destination
type ForwardRequest struct {
	Method  string
	URL     string
	APIKey  string
	Body    json.RawMessage
	Timeout time.Duration
}

// Outcome is the destination's reply
type Outcome struct {
	StatusCode int
	Body       string
	Duration   time.Duration
}

// OK reports a 2xx reply
func (o *Outcome) OK() bool {
	return o.StatusCode >= 200 && o.StatusCode < 300
}

// Forwarder sends payloads to user destinations
type Forwarder struct {
	client           *http.Client
	maxResponseBytes int64
}

// NewForwarder creates a forwarder. A nil client gets NewHTTPClient(true).
func NewForwarder(client *http.Client, maxResponseBytes int64) *Forwarder {
	if client == nil {
		client = NewHTTPClient(true)
	}
	if maxResponseBytes <= 0 {
		maxResponseBytes = DefaultMaxResponseBytes
	}
	return &Forwarder{client: client, maxResponseBytes: maxResponseBytes}
}

// NewHTTPClient builds the outbound client. Redirects are returned to the
// caller instead of followed, and environment proxies are ignored so the
// dial guard sees the real destination.
func NewHTTPClient(resolveGuard bool) *http.Client {
	dialer := GuardedDialer(10 * time.Second)
	if !resolveGuard {
		dialer.Control = nil
	}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Forward issues the request and reads the reply. The call is aborted when
// req.Timeout elapses or ctx is cancelled.
func (f *Forwarder) Forward(ctx context.Context, req ForwardRequest) (*Outcome, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Method != http.MethodGet && req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("failed to read webhook response: %w", err))
	}

	return &Outcome{
		StatusCode: resp.StatusCode,
		Body:       string(data),
		Duration:   time.Since(start),
	}, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}
