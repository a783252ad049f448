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

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// DefaultHeader carries the API key.
const DefaultHeader = "X-API-Key"

// APIKeyAuthenticator accepts requests carrying a configured key in the
// X-API-Key header or as a bearer token. Keys are kept as SHA-256 digests
// and compared in constant time.
type APIKeyAuthenticator struct {
	keys       map[[sha256.Size]byte]string
	headerName string
}

// APIKeyConfig maps API keys to subjects.
type APIKeyConfig struct {
	Keys       map[string]string
	HeaderName string
}

// NewAPIKeyAuthenticator creates an authenticator for cfg.
func NewAPIKeyAuthenticator(cfg *APIKeyConfig) *APIKeyAuthenticator {
	if cfg == nil {
		cfg = &APIKeyConfig{}
	}
	header := cfg.HeaderName
	if header == "" {
		header = DefaultHeader
	}
	a := &APIKeyAuthenticator{
		keys:       make(map[[sha256.Size]byte]string, len(cfg.Keys)),
		headerName: header,
	}
	for key, subject := range cfg.Keys {
		a.AddKey(key, subject)
	}
	return a
}

// AddKey registers key for subject.
func (a *APIKeyAuthenticator) AddKey(key, subject string) {
	a.keys[sha256.Sum256([]byte(key))] = subject
}

// AuthenticateHTTP implements Authenticator.
func (a *APIKeyAuthenticator) AuthenticateHTTP(r *http.Request) (*Identity, error) {
	key := r.Header.Get(a.headerName)
	if key == "" {
		if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
			key = strings.TrimPrefix(v, "Bearer ")
		}
	}
	if key == "" {
		return nil, ErrNoCredentials
	}

	digest := sha256.Sum256([]byte(key))
	var subject string
	found := false
	for k, s := range a.keys {
		if subtle.ConstantTimeCompare(k[:], digest[:]) == 1 {
			subject = s
			found = true
		}
	}
	if !found {
		return nil, ErrInvalidCredentials
	}

	return &Identity{
		Subject: subject,
		Attributes: map[string]string{
			"auth_method": "apikey",
			"remote_addr": r.RemoteAddr,
		},
	}, nil
}

// Name returns the authenticator name.
func (a *APIKeyAuthenticator) Name() string {
	return "apikey"
}
