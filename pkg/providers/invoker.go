package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"mindshare-hq/callisto/pkg/catalog"
)

// maxCapturedBody bounds how much of an error response body is retained
// for the event log.
const maxCapturedBody = 4096

// Invoker issues completion calls across all dialects through one
// pooled HTTP client. It performs no retries and holds no provider
// state; retry, rate-limit and circuit policy belong to the caller.
type Invoker struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewInvoker creates an Invoker. timeout is the per-call ceiling
// applied on top of whatever deadline the caller's context carries.
func NewInvoker(timeout time.Duration) *Invoker {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &Invoker{
		client:  &http.Client{Transport: transport},
		timeout: timeout,
		logger:  slog.Default().With("component", "providers.invoker"),
	}
}

// Invoke sends one completion call. On success it returns the
// normalized result; on failure the error is always a *CallError
// carrying the classified kind and the captured response body.
func (inv *Invoker) Invoke(ctx context.Context, req *Request) (*Result, error) {
	adapter, err := dialectFor(req.Provider.Dialect)
	if err != nil {
		return nil, &CallError{Provider: req.Provider.ID, Kind: KindNonRetryable, Message: err.Error(), Cause: err}
	}

	payload, err := adapter.body(req)
	if err != nil {
		return nil, &CallError{Provider: req.Provider.ID, Kind: KindNonRetryable, Message: "marshaling request", Cause: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, adapter.endpoint(req), bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Provider: req.Provider.ID, Kind: KindNonRetryable, Message: "building request", Cause: err}
	}
	for k, v := range adapter.headers(req) {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := inv.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		kind := KindTransient
		msg := "network error"
		if callCtx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("timeout after %s", inv.timeout)
		}
		return nil, &CallError{Provider: req.Provider.ID, Kind: kind, Message: msg, Cause: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, &CallError{Provider: req.Provider.ID, Kind: KindTransient, Message: "reading response body", Cause: err}
	}

	if httpResp.StatusCode >= 400 {
		captured := body
		if len(captured) > maxCapturedBody {
			captured = captured[:maxCapturedBody]
		}
		kind := classifyStatus(httpResp.StatusCode)
		inv.logger.Debug("provider returned error status",
			"provider", req.Provider.ID,
			"status", httpResp.StatusCode,
			"kind", string(kind),
		)
		return nil, &CallError{
			Provider:   req.Provider.ID,
			Kind:       kind,
			StatusCode: httpResp.StatusCode,
			Message:    http.StatusText(httpResp.StatusCode),
			Body:       string(captured),
		}
	}

	result, err := adapter.parse(req, body)
	if err != nil {
		captured := body
		if len(captured) > maxCapturedBody {
			captured = captured[:maxCapturedBody]
		}
		return nil, &CallError{
			Provider: req.Provider.ID,
			Kind:     KindNonRetryable,
			Message:  "malformed response",
			Body:     string(captured),
			Cause:    err,
		}
	}
	result.Latency = latency
	return result, nil
}

// Probe issues a minimal liveness call against a provider. The guardian
// uses it for critical-provider checks before full crawls.
func (inv *Invoker) Probe(ctx context.Context, provider catalog.Provider, key string) error {
	_, err := inv.Invoke(ctx, &Request{
		Provider:  provider,
		Key:       key,
		Prompt:    "Reply with the single word: ok",
		MaxTokens: 8,
	})
	return err
}

// Close releases idle connections.
func (inv *Invoker) Close() {
	inv.client.CloseIdleConnections()
}
