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

package rest

import (
	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/health"
	"github.com/jeremyhahn/go-konnektor/pkg/idp"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// VersionResponse represents the version response.
type VersionResponse struct {
	Version string `json:"version"`
}

// AuthenticateRequest asks for a challenge to be signed. Exactly one of
// Challenge and ChallengeURL is used; Challenge wins when both are set. With
// neither, the configured IDP challenge URL is used.
type AuthenticateRequest struct {
	CardType     string `json:"card_type"`
	Challenge    string `json:"challenge,omitempty"`
	ChallengeURL string `json:"challenge_url,omitempty"`
	CardHandle   string `json:"card_handle,omitempty"`
}

// SignedChallenge is the result for one card.
type SignedChallenge struct {
	CardType   soap.CardType `json:"card_type"`
	JWS        string        `json:"jws"`
	CardHandle string        `json:"card_handle"`
	UserID     string        `json:"user_id,omitempty"`
	Redirect   string        `json:"redirect,omitempty"`
}

// AuthenticateResponse carries one entry per signed card; MULTI yields HBA
// then SMC-B.
type AuthenticateResponse struct {
	Results     []SignedChallenge `json:"results"`
	UserConsent *idp.UserConsent  `json:"user_consent,omitempty"`
}

// TerminalsResponse lists card terminals.
type TerminalsResponse struct {
	Terminals []soap.CardTerminal `json:"terminals"`
}

// CardsResponse lists inserted cards.
type CardsResponse struct {
	Cards []soap.Card `json:"cards"`
}

// SessionsResponse lists card sessions.
type SessionsResponse struct {
	Sessions []cardauth.CardSession `json:"sessions"`
}

// HealthCheckResponse represents the response for health check endpoints.
type HealthCheckResponse struct {
	Status  health.Status        `json:"status"`
	Message string               `json:"message,omitempty"`
	Version string               `json:"version,omitempty"`
	Checks  []health.CheckResult `json:"checks,omitempty"`
}

// ErrorResponse represents an error response. Code, Class and Description
// are set for catalog errors.
type ErrorResponse struct {
	Error       string            `json:"error"`
	Message     string            `json:"message,omitempty"`
	Code        string            `json:"code,omitempty"`
	Class       string            `json:"class,omitempty"`
	Description string            `json:"description,omitempty"`
	Messages    []string          `json:"messages,omitempty"`
	Details     *errcodes.Details `json:"details,omitempty"`
	Status      int               `json:"status"`
}
