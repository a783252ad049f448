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

// Package discovery resolves connector service endpoints from the service
// directory (connector.sds). A Resolver is the connector session: the
// directory is fetched once and served from memory until invalidated.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
	"github.com/jeremyhahn/go-konnektor/pkg/transport"
	"github.com/jeremyhahn/go-konnektor/pkg/xmltag"
)

// DefaultSDSPath is the well-known location of the service directory.
const DefaultSDSPath = "/connector.sds"

// Logical service names.
const (
	AuthSignatureService = "AuthSignatureService"
	CertificateService   = "CertificateService"
	EventService         = "EventService"
	CardService          = "CardService"
)

// ErrServiceEndpoint is returned for every discovery failure: unreachable
// connector, unparsable directory or a service missing from it.
var ErrServiceEndpoint = errors.New("discovery: service endpoint not available")

// Config locates the service directory.
type Config struct {
	Host    string
	Port    int
	SDSPath string
}

// URL returns the service directory URL.
func (c Config) URL() string {
	path := c.SDSPath
	if path == "" {
		path = DefaultSDSPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	host := c.Host
	if c.Port > 0 {
		host = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	}
	return "https://" + host + path
}

// EndpointMap is a parsed service directory.
type EndpointMap struct {
	Endpoints          map[string]string
	ProductTypeVersion string
}

// IsPTV3 reports whether the connector uses the PTV3 message family.
func (m *EndpointMap) IsPTV3() bool {
	return strings.HasPrefix(m.ProductTypeVersion, "3")
}

// Resolver caches one EndpointMap per connector session.
type Resolver struct {
	mu        sync.Mutex
	config    Config
	transport transport.Transport
	logger    logger.Logger
	current   *EndpointMap
}

// NewResolver creates a resolver. Nothing is fetched until first use.
func NewResolver(cfg Config, t transport.Transport, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Nop()
	}
	return &Resolver{
		config:    cfg,
		transport: t,
		logger:    log.With(logger.String("component", "discovery")),
	}
}

// Endpoints returns the cached map, fetching it first if needed. Concurrent
// callers share one fetch.
func (r *Resolver) Endpoints(ctx context.Context) (*EndpointMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return r.current, nil
	}
	m, err := r.fetch(ctx)
	if err != nil {
		metrics.RecordDiscovery(metrics.StatusError)
		return nil, err
	}
	metrics.RecordDiscovery(metrics.StatusSuccess)
	r.current = m
	return m, nil
}

// Resolve returns the absolute endpoint URL of service.
func (r *Resolver) Resolve(ctx context.Context, service string) (string, error) {
	m, err := r.Endpoints(ctx)
	if err != nil {
		return "", err
	}
	location, ok := m.Endpoints[service]
	if !ok || location == "" {
		return "", fmt.Errorf("%w: %s not in service directory", ErrServiceEndpoint, service)
	}
	return location, nil
}

// ProductTypeVersion returns the connector product type version.
func (r *Resolver) ProductTypeVersion(ctx context.Context) (string, error) {
	m, err := r.Endpoints(ctx)
	if err != nil {
		return "", err
	}
	return m.ProductTypeVersion, nil
}

// IsPTV3 reports whether the connector uses the PTV3 message family.
func (r *Resolver) IsPTV3(ctx context.Context) (bool, error) {
	m, err := r.Endpoints(ctx)
	if err != nil {
		return false, err
	}
	return m.IsPTV3(), nil
}

// Invalidate drops the cached map; the next call fetches again.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}

// Reconfigure replaces the directory location and, when t is non-nil, the
// transport. The cache is dropped if anything changed.
func (r *Resolver) Reconfigure(cfg Config, t transport.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg == r.config && t == nil {
		return
	}
	r.config = cfg
	if t != nil {
		r.transport = t
	}
	r.current = nil
	r.logger.Info("connector configuration changed", logger.String("sds_url", cfg.URL()))
}

// Config returns the current directory location.
func (r *Resolver) Config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.config
}

func (r *Resolver) fetch(ctx context.Context) (*EndpointMap, error) {
	url := r.config.URL()
	resp, err := r.transport.Do(ctx, &transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		r.logger.Warn("service directory unreachable", logger.String("url", url), logger.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrServiceEndpoint, err)
	}
	if resp.Status >= http.StatusBadRequest {
		r.logger.Warn("service directory request rejected",
			logger.String("url", url), logger.Int("status", resp.Status))
		return nil, fmt.Errorf("%w: HTTP %d", ErrServiceEndpoint, resp.Status)
	}

	endpoints := xmltag.ServiceEndpoints(resp.Data)
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: no endpoints in service directory", ErrServiceEndpoint)
	}
	m := &EndpointMap{
		Endpoints:          endpoints,
		ProductTypeVersion: xmltag.Text(resp.Data, "ProductTypeVersion"),
	}
	r.logger.Debug("service directory loaded",
		logger.Int("services", len(endpoints)),
		logger.String("ptv", m.ProductTypeVersion))
	return m, nil
}
