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

// Package auth authenticates callers of the local API.
package auth

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNoCredentials is returned when a request carries no API key
	ErrNoCredentials = errors.New("auth: no API key provided")

	// ErrInvalidCredentials is returned for unknown API keys
	ErrInvalidCredentials = errors.New("auth: invalid API key")
)

// Identity is an authenticated caller.
type Identity struct {
	// Subject names the caller, for example the practice management system.
	Subject string

	// Attributes carry metadata such as the auth method.
	Attributes map[string]string
}

// Authenticator authenticates HTTP requests.
type Authenticator interface {
	AuthenticateHTTP(r *http.Request) (*Identity, error)
	Name() string
}

type contextKey struct{}

// GetIdentity extracts the identity from a context.
func GetIdentity(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(contextKey{}).(*Identity); ok {
		return identity
	}
	return nil
}

// WithIdentity adds an identity to a context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// SubjectOf returns the subject of the identity in ctx, or "anonymous".
func SubjectOf(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil && id.Subject != "" {
		return id.Subject
	}
	return "anonymous"
}
