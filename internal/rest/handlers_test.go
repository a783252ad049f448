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
	"net/http"
	"testing"

	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/health"
	"github.com/jeremyhahn/go-konnektor/pkg/idp"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smcbResult(jws string) cardauth.Result {
	return cardauth.Result{
		CardType: soap.CardTypeSMCB,
		JWS:      jws,
		Session: cardauth.CardSession{
			CardType:   soap.CardTypeSMCB,
			CardHandle: "smcb-1",
			UserID:     "user-1",
		},
	}
}

func TestAuthenticate_WithChallenge(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.auth.results = []cardauth.Result{smcbResult("a.b.c")}

	w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate",
		AuthenticateRequest{CardType: "smc-b", Challenge: "challenge-1", CardHandle: "smcb-1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[AuthenticateResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, soap.CardTypeSMCB, resp.Results[0].CardType)
	assert.Equal(t, "a.b.c", resp.Results[0].JWS)
	assert.Equal(t, "smcb-1", resp.Results[0].CardHandle)
	assert.Equal(t, "user-1", resp.Results[0].UserID)
	assert.Empty(t, resp.Results[0].Redirect)
	assert.Nil(t, resp.UserConsent)

	require.Len(t, env.auth.requests, 1)
	assert.Equal(t, cardauth.Request{
		CardType:   soap.CardTypeSMCB,
		Challenge:  "challenge-1",
		CardHandle: "smcb-1",
	}, env.auth.requests[0])
	assert.Empty(t, env.idp.fetched)
}

func TestAuthenticate_WithChallengeURL(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.auth.results = []cardauth.Result{smcbResult("a.b.c")}
	env.idp.challenge = &idp.Challenge{
		Challenge:   "idp-challenge",
		UserConsent: idp.UserConsent{RequestedScopes: map[string]string{"openid": "Zugriff"}},
	}
	env.idp.redirect = "https://app.example/cb?code=xyz"

	w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate", AuthenticateRequest{
		CardType:     "SMC-B",
		ChallengeURL: "https://idp.example/sign_response?client_id=x&state=y",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[AuthenticateResponse](t, w)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://app.example/cb?code=xyz", resp.Results[0].Redirect)
	require.NotNil(t, resp.UserConsent)
	assert.Equal(t, "Zugriff", resp.UserConsent.RequestedScopes["openid"])

	assert.Equal(t, []string{"https://idp.example/sign_response?client_id=x&state=y"}, env.idp.fetched)
	assert.Equal(t, []string{"https://idp.example/sign_response"}, env.idp.endpoints)
	assert.Equal(t, []string{"a.b.c"}, env.idp.signed)
	assert.Equal(t, "idp-challenge", env.auth.requests[0].Challenge)
}

func TestAuthenticate_ConfiguredChallengeURL(t *testing.T) {
	s, env := newTestServer(t, func(c *Config) { c.ChallengeURL = "https://idp.example/auth" })
	env.auth.results = []cardauth.Result{smcbResult("a.b.c")}
	env.idp.challenge = &idp.Challenge{Challenge: "idp-challenge"}
	env.idp.redirect = "https://app.example/cb"

	w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate", AuthenticateRequest{CardType: "SMC-B"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"https://idp.example/auth"}, env.idp.fetched)
}

func TestAuthenticate_Multi(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.auth.results = []cardauth.Result{
		{CardType: soap.CardTypeHBA, JWS: "h.b.a"},
		smcbResult("s.m.c"),
	}

	w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate",
		AuthenticateRequest{CardType: "multi", Challenge: "c"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[AuthenticateResponse](t, w)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, soap.CardTypeHBA, resp.Results[0].CardType)
	assert.Equal(t, soap.CardTypeSMCB, resp.Results[1].CardType)
	assert.Equal(t, cardauth.CardTypeMulti, env.auth.requests[0].CardType)
}

func TestAuthenticate_MultiCardHint(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.auth.err = &cardauth.MultiCardHint{
		CardType: soap.CardTypeSMCB,
		Cards: []soap.Card{
			{CardHandle: "h1", CardType: soap.CardTypeSMCB, ICCSN: "80276001", CtID: "ct1", SlotID: "1"},
			{CardHandle: "h2", CardType: soap.CardTypeSMCB, ICCSN: "80276002", CtID: "ct1", SlotID: "2"},
		},
	}

	w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate",
		AuthenticateRequest{CardType: "SMC-B", Challenge: "c"})
	require.Equal(t, http.StatusConflict, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, string(errcodes.MultipleCards), resp.Code)
	assert.Equal(t, "hint", resp.Class)
	require.NotNil(t, resp.Details)
	assert.Equal(t, "SMC-B", resp.Details.CardType)
	require.Len(t, resp.Details.FoundCards, 2)
	assert.Equal(t, "h1", resp.Details.FoundCards[0].CardHandle)
	assert.Equal(t, "80276002", resp.Details.FoundCards[1].ICCSN)
}

func TestAuthenticate_InvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   errcodes.Code
	}{
		{"malformed json", "{", http.StatusBadRequest, errcodes.InvalidLauncherParameter},
		{"unknown card type", AuthenticateRequest{CardType: "EGK", Challenge: "c"}, http.StatusBadRequest, errcodes.InvalidLauncherParameter},
		{"no challenge", AuthenticateRequest{CardType: "HBA"}, http.StatusBadRequest, errcodes.InvalidLauncherParameter},
		{"bad card handle", AuthenticateRequest{CardType: "HBA", Challenge: "c", CardHandle: "a b"}, http.StatusBadRequest, errcodes.InvalidLauncherParameter},
		{"control characters", AuthenticateRequest{CardType: "HBA", Challenge: "c\x00"}, http.StatusBadRequest, errcodes.InvalidLauncherParameter},
		{"bad challenge url", AuthenticateRequest{CardType: "HBA", ChallengeURL: "ftp://idp"}, http.StatusBadRequest, errcodes.InvalidRedirectURI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, env := newTestServer(t, nil)
			w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, string(tt.code), decode[ErrorResponse](t, w).Code)
			assert.Empty(t, env.auth.requests)
		})
	}
}

func TestAuthenticate_NoIDPConfigured(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.IDP = nil })
	w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate",
		AuthenticateRequest{CardType: "HBA", ChallengeURL: "https://idp.example/auth"})
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestAuthenticate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   errcodes.Code
	}{
		{"connector fault", errcodes.Fault(errcodes.FaultCardHandleInvalid), http.StatusBadGateway, errcodes.ConnectorCardHandleInvalid},
		{"unreachable", errcodes.New(errcodes.ConnectorUnreachable), http.StatusServiceUnavailable, errcodes.ConnectorUnreachable},
		{"busy", errcodes.New(errcodes.CardSessionBusy), http.StatusLocked, errcodes.CardSessionBusy},
		{"pin blocked", errcodes.New(errcodes.PinBlocked), http.StatusUnprocessableEntity, errcodes.PinBlocked},
		{"cancelled", errcodes.New(errcodes.Cancelled), http.StatusRequestTimeout, errcodes.Cancelled},
		{"fatal", errcodes.New(errcodes.SigningFailed), http.StatusInternalServerError, errcodes.SigningFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, env := newTestServer(t, nil)
			env.auth.err = tt.err

			w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate",
				AuthenticateRequest{CardType: "HBA", Challenge: "c"})
			assert.Equal(t, tt.status, w.Code)
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, string(tt.code), resp.Code)
			assert.Equal(t, tt.status, resp.Status)
			assert.NotEmpty(t, resp.Description)
		})
	}
}

func TestAuthenticate_IDPFailures(t *testing.T) {
	t.Run("challenge fetch", func(t *testing.T) {
		s, env := newTestServer(t, nil)
		env.idp.fetchErr = &idp.Error{Status: http.StatusBadRequest, Code: "invalid_request"}

		w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate",
			AuthenticateRequest{CardType: "HBA", ChallengeURL: "https://idp.example/auth"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, string(errcodes.IdpError), decode[ErrorResponse](t, w).Code)
		assert.Empty(t, env.auth.requests)
	})

	t.Run("submission", func(t *testing.T) {
		s, env := newTestServer(t, nil)
		env.auth.results = []cardauth.Result{{CardType: soap.CardTypeHBA, JWS: "a.b.c"}}
		env.idp.challenge = &idp.Challenge{Challenge: "c"}
		env.idp.submitErr = errcodes.New(errcodes.IdpError)

		w := do(t, s.Handler(), http.MethodPost, "/api/v1/authenticate",
			AuthenticateRequest{CardType: "HBA", ChallengeURL: "https://idp.example/auth"})
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestTerminalsHandler(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.connector.terminals = []soap.CardTerminal{{CtID: "ct1", Name: "Praxis", Connected: true, WorkplaceIDs: []string{"wp1"}}}

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/terminals", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[TerminalsResponse](t, w)
	require.Len(t, resp.Terminals, 1)
	assert.Equal(t, "ct1", resp.Terminals[0].CtID)
	assert.Equal(t, testContext, env.connector.context)
}

func TestCardsHandler(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.connector.cards = []soap.Card{{CardHandle: "h1", CardType: soap.CardTypeHBA}}

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/cards?type=hba", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[CardsResponse](t, w).Cards, 1)
	assert.Equal(t, soap.CardTypeHBA, env.connector.cardType)

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/cards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, soap.CardTypeSMCB, env.connector.cardType)

	w = do(t, s.Handler(), http.MethodGet, "/api/v1/cards?type=MULTI", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCardsHandler_EmptyAndError(t *testing.T) {
	s, env := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/cards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"cards":[]}`, w.Body.String())

	env.connector.err = errcodes.New(errcodes.ConnectorUnreachable)
	w = do(t, s.Handler(), http.MethodGet, "/api/v1/cards", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSessionsAndLogout(t *testing.T) {
	s, env := newTestServer(t, nil)

	w := do(t, s.Handler(), http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[SessionsResponse](t, w).Sessions)

	w = do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/SMC-B", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/multi", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, s.Handler(), http.MethodDelete, "/api/v1/sessions/EGK", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, []soap.CardType{soap.CardTypeSMCB, cardauth.CardTypeMulti}, env.auth.loggedOut)
}

func TestHealthHandlers(t *testing.T) {
	s, env := newTestServer(t, nil)
	env.health.live = health.CheckResult{Name: "liveness", Status: health.StatusHealthy, Message: "alive"}

	w := do(t, s.Handler(), http.MethodGet, "/health/live", nil)
	require.Equal(t, http.StatusOK, w.Code)
	live := decode[HealthCheckResponse](t, w)
	assert.Equal(t, health.StatusHealthy, live.Status)
	assert.Equal(t, "1.2.3", live.Version)

	tests := []struct {
		status health.Status
		code   int
	}{
		{health.StatusHealthy, http.StatusOK},
		{health.StatusDegraded, http.StatusOK},
		{health.StatusUnhealthy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			env.health.report = health.Report{
				Status: tt.status,
				Checks: []health.CheckResult{{Name: "connector_reachability", Status: tt.status}},
			}
			w := do(t, s.Handler(), http.MethodGet, "/health/ready", nil)
			assert.Equal(t, tt.code, w.Code)
			resp := decode[HealthCheckResponse](t, w)
			assert.Equal(t, tt.status, resp.Status)
			assert.Len(t, resp.Checks, 1)
		})
	}
}

func TestHealthHandlers_NoChecker(t *testing.T) {
	s, _ := newTestServer(t, func(c *Config) { c.HealthChecker = nil })

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := do(t, s.Handler(), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestVersionHandler(t *testing.T) {
	s, _ := newTestServer(t, nil)
	w := do(t, s.Handler(), http.MethodGet, "/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.2.3", decode[VersionResponse](t, w).Version)
}
