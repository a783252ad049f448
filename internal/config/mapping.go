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

package config

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/diagnostics"
	"github.com/jeremyhahn/go-konnektor/pkg/discovery"
	"github.com/jeremyhahn/go-konnektor/pkg/ratelimit"
	"github.com/jeremyhahn/go-konnektor/pkg/signing"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/jeremyhahn/go-konnektor/pkg/transport"
)

// TransportConfig returns the connector transport configuration.
func (c *Config) TransportConfig() transport.Config {
	cc := c.Connector
	return transport.Config{
		AuthType:           transport.AuthType(cc.Auth),
		Username:           cc.Username,
		Password:           cc.Password,
		CertFile:           cc.CertFile,
		KeyFile:            cc.KeyFile,
		KeyPassword:        cc.KeyPassword,
		PKCS12File:         cc.PKCS12File,
		PKCS12Password:     cc.PKCS12Password,
		CAFile:             cc.CAFile,
		RejectUnauthorized: cc.RejectUnauthorized,
		ProxyURL:           cc.ProxyURL,
		NoProxy:            cc.NoProxy,
		Timeout:            cc.Timeout,
		RequestsPerSecond:  cc.RequestsPerSecond,
		Burst:              cc.Burst,
	}
}

// IDPTransportConfig returns the transport configuration for IDP calls: no
// client authentication and always verified server certificates.
func (c *Config) IDPTransportConfig() transport.Config {
	return transport.Config{
		AuthType:           transport.AuthServer,
		RejectUnauthorized: true,
		ProxyURL:           c.Connector.ProxyURL,
		NoProxy:            c.Connector.NoProxy,
		Timeout:            c.Connector.Timeout,
	}
}

// DiscoveryConfig returns the service directory location.
func (c *Config) DiscoveryConfig() discovery.Config {
	return discovery.Config{
		Host:    c.Connector.Host,
		Port:    c.Connector.Port,
		SDSPath: c.Connector.SDSPath,
	}
}

// SOAPConfig returns the SOAP client configuration.
func (c *Config) SOAPConfig() soap.Config {
	return soap.Config{
		Host:             c.Connector.Host,
		Port:             c.Connector.Port,
		DefaultTimeout:   c.Connector.Timeout,
		VerifyPinTimeout: c.Connector.VerifyPinTimeout,
	}
}

// SOAPContext returns the connector call context.
func (c *Config) SOAPContext() soap.Context {
	return soap.Context{
		MandantID:      c.Context.MandantID,
		ClientSystemID: c.Context.ClientSystemID,
		WorkplaceID:    c.Context.WorkplaceID,
	}
}

// AuthOptions returns the authenticator options.
func (c *Config) AuthOptions() (cardauth.Options, error) {
	alg, err := signing.ParseAlgorithm(strings.ToUpper(c.Sign.Type))
	if err != nil {
		return cardauth.Options{}, err
	}
	return cardauth.Options{
		Context:   c.SOAPContext(),
		CertRef:   c.CertReader.CertRef,
		Algorithm: alg,
		RemotePin: c.RemotePin,
	}, nil
}

// ChallengeURL returns the configured IDP challenge URL, or "" when no IDP
// is configured.
func (c *Config) ChallengeURL() string {
	if c.IDP.BaseURL == "" {
		return ""
	}
	u, err := url.Parse(c.IDP.BaseURL)
	if err != nil {
		return ""
	}
	if c.IDP.ChallengePath != "" {
		u = u.JoinPath(c.IDP.ChallengePath)
	}
	return u.String()
}

// DiagnosticsConfig returns the function test configuration.
func (c *Config) DiagnosticsConfig() diagnostics.Config {
	cfg := diagnostics.Config{
		Context:   c.SOAPContext(),
		IDPs:      c.IDP.Reachability,
		UserAgent: c.IDP.UserAgent,
	}
	if c.Connector.CAFile != "" {
		cfg.CAFiles = append(cfg.CAFiles, c.Connector.CAFile)
	}
	return cfg
}

// RateLimitConfig returns the local API rate limit configuration.
func (c *Config) RateLimitConfig() *ratelimit.Config {
	return &ratelimit.Config{
		Enabled:           c.API.RateLimit.Enabled,
		RequestsPerMinute: c.API.RateLimit.RequestsPerMin,
		Burst:             c.API.RateLimit.Burst,
	}
}

// APIAddress returns the listen address of the local API.
func (c *Config) APIAddress() string {
	return net.JoinHostPort(c.API.Host, strconv.Itoa(c.API.Port))
}
