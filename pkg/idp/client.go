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

// Package idp is the client side of the IDP challenge/response exchange:
// discovery, challenge retrieval and submission of the signed challenge.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/transport"

	// registers BP256R1, the algorithm of the discovery document
	_ "github.com/jeremyhahn/go-konnektor/pkg/signing"
)

// DiscoveryPath is the well-known location of the discovery document.
const DiscoveryPath = "/.well-known/openid-configuration"

var (
	// ErrInvalidResponse indicates an IDP response missing required fields
	ErrInvalidResponse = errors.New("idp: invalid response")

	// ErrNoRedirect indicates a submission answered without Location header
	ErrNoRedirect = errors.New("idp: no redirect location")
)

// Discovery holds the claims of the signed discovery document used by the
// client.
type Discovery struct {
	jwt.RegisteredClaims
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	URIPukIdpEnc          string `json:"uri_puk_idp_enc"`
	URIPukIdpSig          string `json:"uri_puk_idp_sig"`
}

// UserConsent lists what the relying party asks the user to share.
type UserConsent struct {
	RequestedScopes map[string]string `json:"requested_scopes"`
	RequestedClaims map[string]string `json:"requested_claims"`
}

// Challenge is the authorization challenge to be signed with the card.
type Challenge struct {
	Challenge   string      `json:"challenge"`
	UserConsent UserConsent `json:"user_consent"`
}

// Error is an error reported by the IDP, either as JSON body or as query
// parameters of a redirect.
type Error struct {
	Status      int
	Code        string
	Description string
	GematikCode string
	URI         string
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "idp: %s", e.Code)
	if e.GematikCode != "" {
		fmt.Fprintf(&b, " (%s)", e.GematikCode)
	}
	if e.Description != "" {
		fmt.Fprintf(&b, ": %s", e.Description)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " [HTTP %d]", e.Status)
	}
	return b.String()
}

// Unwrap maps every IDP error to AUTHCL_0002.
func (e *Error) Unwrap() error {
	return errcodes.New(errcodes.IdpError)
}

// Client talks to an IDP.
type Client struct {
	transport transport.Transport
	userAgent string
	logger    logger.Logger
}

// NewClient creates a client sending userAgent with every request.
func NewClient(t transport.Transport, userAgent string, log logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{transport: t, userAgent: userAgent, logger: log}
}

// DiscoveryURL returns the discovery document location of an IDP base URL.
func DiscoveryURL(base string) string {
	return strings.TrimRight(base, "/") + DiscoveryPath
}

// SubmitEndpoint returns the endpoint the signed challenge of challengeURL
// is posted to: the challenge URL without query and fragment.
func SubmitEndpoint(challengeURL string) (string, error) {
	u, err := url.Parse(challengeURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", errcodes.New(errcodes.InvalidRedirectURI).AppendMessage(challengeURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, rawURL string) (*transport.Response, error) {
	resp, err := c.transport.Do(ctx, &transport.Request{
		Method: http.MethodGet,
		URL:    rawURL,
		Header: http.Header{"User-Agent": {c.userAgent}, "Accept": {"*/*"}},
	})
	if err != nil {
		return nil, errcodes.New(errcodes.IdpError).WithCause(err)
	}
	return resp, nil
}

// FetchDiscovery reads the discovery document. The document is a JWT; its
// claims are decoded without verifying the IDP signature.
func (c *Client) FetchDiscovery(ctx context.Context, rawURL string) (*Discovery, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, parseError(resp)
	}
	var d Discovery
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(string(resp.Data)), &d); err != nil {
		return nil, errcodes.New(errcodes.IdpError).
			WithCause(fmt.Errorf("%w: discovery document: %v", ErrInvalidResponse, err))
	}
	if d.AuthorizationEndpoint == "" {
		return nil, errcodes.New(errcodes.IdpError).
			WithCause(fmt.Errorf("%w: authorization_endpoint missing", ErrInvalidResponse))
	}
	c.logger.Debug("discovery document loaded", logger.String("authorization_endpoint", d.AuthorizationEndpoint))
	return &d, nil
}

// FetchEncryptionKey reads the IDP encryption key published at
// Discovery.URIPukIdpEnc.
func (c *Client) FetchEncryptionKey(ctx context.Context, rawURL string) (*jose.JSONWebKey, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, parseError(resp)
	}
	var key jose.JSONWebKey
	if err := key.UnmarshalJSON(resp.Data); err != nil {
		return nil, errcodes.New(errcodes.IdpError).
			WithCause(fmt.Errorf("%w: encryption key: %v", ErrInvalidResponse, err))
	}
	if !key.Valid() || !key.IsPublic() {
		return nil, errcodes.New(errcodes.IdpError).
			WithCause(fmt.Errorf("%w: encryption key is not a public key", ErrInvalidResponse))
	}
	return &key, nil
}

// FetchChallenge reads the challenge at rawURL. A redirect carrying error
// parameters is reported as *Error.
func (c *Client) FetchChallenge(ctx context.Context, rawURL string) (*Challenge, error) {
	resp, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if resp.Status >= http.StatusMultipleChoices {
		return nil, parseError(resp)
	}
	var ch Challenge
	if err := json.Unmarshal(resp.Data, &ch); err != nil {
		return nil, errcodes.New(errcodes.AuthResponseInvalid).WithCause(err)
	}
	if ch.Challenge == "" {
		return nil, errcodes.New(errcodes.AuthResponseInvalid).
			WithCause(fmt.Errorf("%w: challenge missing", ErrInvalidResponse))
	}
	c.logger.Info("challenge received")
	return &ch, nil
}

// SubmitSignedChallenge posts signed to endpoint and returns the redirect
// location the IDP answers with.
func (c *Client) SubmitSignedChallenge(ctx context.Context, endpoint, signed string) (string, error) {
	form := url.Values{"signed_challenge": {signed}}
	resp, err := c.transport.Do(ctx, &transport.Request{
		Method: http.MethodPost,
		URL:    endpoint,
		Header: http.Header{
			"Content-Type": {"application/x-www-form-urlencoded"},
			"User-Agent":   {c.userAgent},
		},
		Body: []byte(form.Encode()),
	})
	if err != nil {
		return "", errcodes.New(errcodes.IdpError).WithCause(err)
	}

	location := resp.Headers.Get("Location")
	if resp.Status >= http.StatusBadRequest {
		return "", parseError(resp)
	}
	if location == "" {
		return "", errcodes.New(errcodes.IdpError).
			WithCause(fmt.Errorf("%w: HTTP %d", ErrNoRedirect, resp.Status))
	}
	if e := errorFromLocation(location); e != nil {
		e.Status = resp.Status
		return "", e
	}
	c.logger.Info("signed challenge accepted", logger.Int("status", resp.Status))
	return location, nil
}

// parseError builds an *Error from a failed response: redirect parameters
// first, then a JSON body, then the bare status.
func parseError(resp *transport.Response) error {
	if loc := resp.Headers.Get("Location"); loc != "" {
		if e := errorFromLocation(loc); e != nil {
			e.Status = resp.Status
			return e
		}
	}
	e := &Error{Status: resp.Status, Code: http.StatusText(resp.Status), URI: resp.Headers.Get("error_uri")}
	var body struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
		GematikCode string `json:"gematik_code"`
		GematikText string `json:"gematik_error_text"`
	}
	if json.Unmarshal(resp.Data, &body) == nil && body.Error != "" {
		e.Code = body.Error
		e.Description = body.Description
		if e.Description == "" {
			e.Description = body.GematikText
		}
		e.GematikCode = body.GematikCode
	}
	return e
}

func errorFromLocation(location string) *Error {
	u, err := url.Parse(location)
	if err != nil {
		return nil
	}
	q := u.Query()
	if q.Get("error") == "" {
		return nil
	}
	return &Error{
		Code:        q.Get("error"),
		Description: q.Get("error_description"),
		GematikCode: q.Get("gematik_code"),
		URI:         q.Get("error_uri"),
	}
}
