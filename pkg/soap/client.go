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

// Package soap talks to the connector's SOAP services. Envelopes are rendered
// from embedded templates and responses are read with xmltag.
package soap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/discovery"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
	"github.com/jeremyhahn/go-konnektor/pkg/transport"
	"github.com/jeremyhahn/go-konnektor/pkg/xmltag"
)

// Default timeouts.
const (
	DefaultTimeout          = 30 * time.Second
	DefaultVerifyPinTimeout = 60 * time.Second
)

// ContentType is sent with every envelope.
const ContentType = "text/xml;charset=UTF-8"

// SOAP actions.
const (
	ActionExternalAuthenticate = "http://ws.gematik.de/conn/SignatureService/v7.4#ExternalAuthenticate"
	ActionVerifyPin            = "http://ws.gematik.de/conn/CardService/v8.1#VerifyPin"
	ActionGetPinStatus         = "http://ws.gematik.de/conn/CardService/v8.1#GetPinStatus"
	ActionReadCardCertificate  = "http://ws.gematik.de/conn/CertificateService/v6.0#ReadCardCertificate"
	ActionGetCards             = "http://ws.gematik.de/conn/EventService/v7.2#GetCards"
	ActionGetCardTerminals     = "http://ws.gematik.de/conn/EventService/v7.2#GetCardTerminals"
)

// EndpointResolver maps a service name to its discovered endpoint.
// *discovery.Resolver implements it.
type EndpointResolver interface {
	Resolve(ctx context.Context, service string) (string, error)
	IsPTV3(ctx context.Context) (bool, error)
}

// Config selects the connector address and timeouts. Host replaces the host
// of discovered endpoints; Port replaces their port when positive.
type Config struct {
	Host             string
	Port             int
	DefaultTimeout   time.Duration
	VerifyPinTimeout time.Duration
}

// Client issues connector operations.
type Client struct {
	config    Config
	resolver  EndpointResolver
	transport transport.Transport
	logger    logger.Logger
}

// NewClient creates a client. Zero timeouts take the defaults.
func NewClient(cfg Config, resolver EndpointResolver, t transport.Transport, log logger.Logger) *Client {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.VerifyPinTimeout <= 0 {
		cfg.VerifyPinTimeout = DefaultVerifyPinTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{config: cfg, resolver: resolver, transport: t, logger: log}
}

// endpoint resolves service and rewrites it onto the configured host.
func (c *Client) endpoint(ctx context.Context, service string) (string, error) {
	location, err := c.resolver.Resolve(ctx, service)
	if err != nil {
		return "", errcodes.Wrap(err, errcodes.ConnectorUnreachable)
	}
	return rewriteEndpoint(location, c.config.Host, c.config.Port)
}

func rewriteEndpoint(location, host string, port int) (string, error) {
	u, err := url.Parse(location)
	if err != nil || u.Host == "" {
		return "", errcodes.New(errcodes.ConnectorUnreachable).
			WithCause(fmt.Errorf("%w: %q", discovery.ErrServiceEndpoint, location))
	}
	if host == "" {
		host = u.Hostname()
	}
	p := u.Port()
	if port > 0 {
		p = strconv.Itoa(port)
	}
	if p == "" {
		u.Host = host
		if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
			u.Host = "[" + host + "]"
		}
	} else {
		u.Host = net.JoinHostPort(host, p)
	}
	return u.String(), nil
}

type call struct {
	op      string
	service string
	action  string
	name    string
	data    any
	timeout time.Duration
}

// do renders and posts an envelope and returns the parsed response. Faults,
// HTTP errors and unreadable bodies come back as errors.
func (c *Client) do(ctx context.Context, cl call) (_ *xmltag.Node, _ []byte, err error) {
	timer := metrics.StartTimer(cl.op)
	defer func() { timer.Done(err) }()

	body, err := render(cl.name, cl.data)
	if err != nil {
		return nil, nil, err
	}
	endpoint, err := c.endpoint(ctx, cl.service)
	if err != nil {
		return nil, nil, err
	}
	if cl.timeout <= 0 {
		cl.timeout = c.config.DefaultTimeout
	}

	log := logger.FromContext(ctx, c.logger).With(logger.Operation(cl.op))
	log.Debug("sending request", logger.String("endpoint", endpoint))

	resp, err := c.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: http.Header{
			"Content-Type": {ContentType},
			"SOAPAction":   {cl.action},
		},
		Body:    body,
		Timeout: cl.timeout,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, nil, errcodes.New(errcodes.Cancelled).WithCause(err)
		}
		log.Warn("connector unreachable", logger.Error(err))
		return nil, nil, errcodes.New(errcodes.ConnectorUnreachable).WithCause(err)
	}

	root, perr := xmltag.Parse(resp.Data)
	if perr == nil && isFault(root) {
		f := parseFault(cl.op, resp.Status, root, resp.Data)
		metrics.RecordFault(cl.op, f.Code)
		log.Warn("connector fault",
			logger.FaultCode(f.Code),
			logger.String("error_text", f.ErrorText),
			logger.String("severity", f.Severity))
		return nil, resp.Data, f
	}
	if resp.Status >= http.StatusBadRequest {
		return nil, resp.Data, errcodes.New(errcodes.UnexpectedHTTPStatus).
			WithCause(fmt.Errorf("%w: %d", ErrHTTPStatus, resp.Status))
	}
	if perr != nil {
		return nil, resp.Data, errcodes.New(errcodes.ResponseUnparsable).WithCause(perr)
	}
	log.Debug("response received", logger.Int("status", resp.Status))
	return root, resp.Data, nil
}
