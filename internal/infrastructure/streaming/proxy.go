// Package streaming talks to the upstream Gemini/Antigravity endpoint:
// issuing the authenticated POST, handling the single auth-retry-then-disable
// dance, and pumping SSE bytes through to the caller (spec §4.4).
package streaming

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/antigravity-gateway/gateway/internal/domain/entity"
	"github.com/antigravity-gateway/gateway/internal/domain/service"
	apperrors "github.com/antigravity-gateway/gateway/pkg/errors"
	"github.com/antigravity-gateway/gateway/pkg/safego"
)

const (
	userAgent = "antigravity/1.11.3 windows/amd64"

	// DefaultTimeout covers ordinary chat-completion calls.
	DefaultTimeout = 120 * time.Second
	// ImageGenTimeout covers the non-stream image-generation upstream call.
	ImageGenTimeout = 300 * time.Second
	// ModelsTimeout covers the administrative model-listing call.
	ModelsTimeout = 30 * time.Second

	// DefaultHeartbeatInterval is how often the image-streaming wrapper
	// writes a comment heartbeat while the background task is in flight.
	DefaultHeartbeatInterval = 15 * time.Second
)

// Proxy wraps an *http.Client tuned like the teacher's gemini provider
// transport and drives the auth-retry/disable state machine against a
// service.TokenManager.
type Proxy struct {
	baseURL string
	client  *http.Client
	tokens  service.TokenManager
	logger  *zap.Logger
}

// New constructs a Proxy. baseURL is the upstream host, e.g.
// "https://antigravity.example.internal".
func New(baseURL string, tokens service.TokenManager, logger *zap.Logger) *Proxy {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Proxy{
		baseURL: baseURL,
		client:  &http.Client{Transport: transport},
		tokens:  tokens,
		logger:  logger.With(zap.String("component", "streaming-proxy")),
	}
}

func (p *Proxy) buildRequest(ctx context.Context, token, urlSuffix string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+urlSuffix, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("streaming: building upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

// do issues one attempt, returning the raw *http.Response without closing
// its body. Callers must close it.
func (p *Proxy) do(ctx context.Context, token, urlSuffix string, body []byte, timeout time.Duration) (*http.Response, error) {
	req, err := p.buildRequest(ctx, token, urlSuffix, body)
	if err != nil {
		return nil, err
	}

	client := p.client
	if timeout > 0 {
		clone := *p.client
		clone.Timeout = timeout
		client = &clone
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.New(apperrors.CodeTimeout, "upstream request timed out or was cancelled")
		}
		return nil, apperrors.New(apperrors.CodeUpstreamStatus, "upstream request failed: "+err.Error())
	}
	return resp, nil
}

// isAuthFailure reports whether status requires the single auth-retry.
func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

// exchange implements the shared auth-retry-then-disable state machine
// (spec §4.4 step 2-3) and returns the final response, already past any
// retry, for the caller to read/stream.
func (p *Proxy) exchange(ctx context.Context, project *entity.Project, envelope any, urlSuffix string, timeout time.Duration) (*http.Response, error) {
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("streaming: marshaling envelope: %w", err)
	}

	token, err := p.tokens.GetAccessToken(ctx, project)
	if err != nil {
		return nil, err
	}

	resp, err := p.do(ctx, token, urlSuffix, body, timeout)
	if err != nil {
		return nil, err
	}

	if !isAuthFailure(resp.StatusCode) {
		return resp, nil
	}
	resp.Body.Close()

	p.logger.Warn("upstream auth failure, retrying once",
		zap.String("project", project.ProjectID), zap.Int("status", resp.StatusCode))

	retryToken, err := p.tokens.HandleAuthError(ctx, project)
	if err != nil {
		return nil, err
	}

	resp, err = p.do(ctx, retryToken, urlSuffix, body, timeout)
	if err != nil {
		return nil, err
	}

	if isAuthFailure(resp.StatusCode) {
		resp.Body.Close()
		reason := fmt.Sprintf("upstream returned %d after auth retry", resp.StatusCode)
		p.tokens.Disable(ctx, project, reason)
		return nil, apperrors.New(apperrors.CodeUpstreamAuth, reason)
	}

	return resp, nil
}

// Send performs one non-stream exchange, returning the response body and
// status. A non-200 status (other than the retried auth failures) is
// returned together with the upstream body and a CodeUpstreamStatus
// AppError; on any other error the status is 0.
func (p *Proxy) Send(ctx context.Context, project *entity.Project, envelope any, urlSuffix string, timeout time.Duration) ([]byte, int, error) {
	resp, err := p.exchange(ctx, project, envelope, urlSuffix, timeout)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("streaming: reading upstream body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return respBody, resp.StatusCode, apperrors.New(apperrors.CodeUpstreamStatus,
			fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	return respBody, resp.StatusCode, nil
}

// Stream performs one SSE exchange, returning the live response body for
// the caller to scan. The returned ReadCloser is automatically closed if
// ctx is cancelled before the caller closes it itself.
func (p *Proxy) Stream(ctx context.Context, project *entity.Project, envelope any, urlSuffix string) (io.ReadCloser, error) {
	resp, err := p.exchange(ctx, project, envelope, urlSuffix, 0)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, apperrors.New(apperrors.CodeUpstreamStatus,
			fmt.Sprintf("upstream returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	return &cancelAwareBody{ReadCloser: resp.Body, ctx: ctx, logger: p.logger}, nil
}

// cancelAwareBody force-closes the underlying body as soon as ctx is done,
// mirroring the teacher's gemini provider's streamDone goroutine.
type cancelAwareBody struct {
	io.ReadCloser
	ctx    context.Context
	logger *zap.Logger
	closed chan struct{}
}

func (c *cancelAwareBody) Read(p []byte) (int, error) {
	if c.closed == nil {
		c.closed = make(chan struct{})
		safego.Go(c.logger, "stream-cancel-watcher", func() {
			select {
			case <-c.ctx.Done():
				c.ReadCloser.Close()
			case <-c.closed:
			}
		})
	}
	return c.ReadCloser.Read(p)
}

func (c *cancelAwareBody) Close() error {
	if c.closed != nil {
		close(c.closed)
	}
	return c.ReadCloser.Close()
}

// imageHeartbeatResult is the outcome of the background non-stream call
// driven by DoImageHeartbeat.
type imageHeartbeatResult struct {
	body   []byte
	status int
	err    error
}

// DoImageHeartbeat runs one non-stream Send in the background while
// invoking writeHeartbeat on every tick, until the background call
// completes or ctx is cancelled (spec §4.4 image-streaming wrapper, §5
// cancellation). On cancellation the background task's context is
// cancelled and its result is awaited with errors suppressed.
func (p *Proxy) DoImageHeartbeat(ctx context.Context, project *entity.Project, envelope any, urlSuffix string, heartbeatInterval time.Duration, writeHeartbeat func() error) ([]byte, int, error) {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}

	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan imageHeartbeatResult, 1)
	safego.Go(p.logger, "image-gen-heartbeat-task", func() {
		body, status, err := p.Send(bgCtx, project, envelope, urlSuffix, ImageGenTimeout)
		resultCh <- imageHeartbeatResult{body: body, status: status, err: err}
	})

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-resultCh
			return nil, 0, ctx.Err()

		case res := <-resultCh:
			return res.body, res.status, res.err

		case <-ticker.C:
			if err := writeHeartbeat(); err != nil {
				cancel()
				<-resultCh
				return nil, 0, err
			}
		}
	}
}
