// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package transport is the HTTP layer shared by the connector and IDP
// clients. It owns TLS client authentication, proxy selection, request
// pacing and per-request deadlines; callers only see Request and Response.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"golang.org/x/time/rate"
)

// DefaultTimeout applies when neither the request nor the config sets one.
const DefaultTimeout = 30 * time.Second

// DefaultMaxBodyBytes bounds a response body.
const DefaultMaxBodyBytes = 10 << 20

var (
	// ErrRequestFailed wraps every network level failure
	ErrRequestFailed = errors.New("transport: request failed")

	// ErrResponseTooLarge indicates a body over the configured limit
	ErrResponseTooLarge = errors.New("transport: response too large")

	// ErrInvalidRequest indicates a request that cannot be sent
	ErrInvalidRequest = errors.New("transport: invalid request")
)

// Request is one outbound HTTP call.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

// Response is the buffered result of a call. Non-2xx statuses are not errors.
type Response struct {
	Data    []byte
	Status  int
	Headers http.Header
}

// Transport sends requests.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	client  *http.Client
	config  Config
	limiter *rate.Limiter
	logger  logger.Logger
}

// New builds a transport for cfg, loading TLS material from disk.
func New(cfg Config, log logger.Logger) (*HTTPTransport, error) {
	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return nil, err
	}

	proxy, err := cfg.proxyFunc()
	if err != nil {
		return nil, err
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsConfig
	base.Proxy = proxy

	return NewWithClient(&http.Client{Transport: base}, cfg, log), nil
}

// NewWithClient wraps an existing client. Redirects are never followed so the
// caller can read Location headers.
func NewWithClient(client *http.Client, cfg Config, log logger.Logger) *HTTPTransport {
	if log == nil {
		log = logger.Nop()
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	t := &HTTPTransport{
		client: client,
		config: cfg,
		logger: log,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t
}

// Do sends req and buffers the response.
func (t *HTTPTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, ErrInvalidRequest
	}
	if _, err := url.Parse(req.URL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = t.config.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit: %v", ErrRequestFailed, err)
		}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for k, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	if t.config.AuthType == AuthBasic {
		httpReq.SetBasicAuth(t.config.Username, t.config.Password)
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		t.logger.Debug("request failed",
			logger.String("method", method),
			logger.String("url", req.URL),
			logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Warn("failed to close response body", logger.Error(closeErr))
		}
	}()

	limit := t.config.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrRequestFailed, err)
	}
	if int64(len(data)) > limit {
		return nil, ErrResponseTooLarge
	}

	t.logger.Debug("request done",
		logger.String("method", method),
		logger.String("url", req.URL),
		logger.Int("status", resp.StatusCode),
		logger.Any("duration", time.Since(start)))

	return &Response{
		Data:    data,
		Status:  resp.StatusCode,
		Headers: resp.Header,
	}, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() {
	t.client.CloseIdleConnections()
}
