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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/health"
	"github.com/jeremyhahn/go-konnektor/pkg/idp"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/stretchr/testify/require"
)

var testContext = soap.Context{MandantID: "m1", ClientSystemID: "cs1", WorkplaceID: "wp1"}

type fakeAuthenticator struct {
	mu        sync.Mutex
	results   []cardauth.Result
	err       error
	requests  []cardauth.Request
	sessions  *cardauth.SessionStore
	loggedOut []soap.CardType
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, req cardauth.Request) ([]cardauth.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeAuthenticator) Sessions() *cardauth.SessionStore {
	if f.sessions == nil {
		f.sessions = cardauth.NewSessionStore()
	}
	return f.sessions
}

func (f *fakeAuthenticator) Logout(cardType soap.CardType) {
	f.loggedOut = append(f.loggedOut, cardType)
}

type fakeConnector struct {
	terminals []soap.CardTerminal
	cards     []soap.Card
	err       error
	cardType  soap.CardType
	context   soap.Context
}

func (f *fakeConnector) GetCardTerminals(_ context.Context, cctx soap.Context) (*soap.CardTerminalsResult, error) {
	f.context = cctx
	if f.err != nil {
		return nil, f.err
	}
	return &soap.CardTerminalsResult{Status: "OK", Terminals: f.terminals}, nil
}

func (f *fakeConnector) GetCards(_ context.Context, req soap.GetCardsRequest) (*soap.CardsResult, error) {
	f.context = req.Context
	f.cardType = req.CardType
	if f.err != nil {
		return nil, f.err
	}
	return &soap.CardsResult{Status: "OK", Cards: f.cards}, nil
}

type fakeIDP struct {
	challenge *idp.Challenge
	fetchErr  error
	redirect  string
	submitErr error
	fetched   []string
	endpoints []string
	signed    []string
}

func (f *fakeIDP) FetchChallenge(_ context.Context, rawURL string) (*idp.Challenge, error) {
	f.fetched = append(f.fetched, rawURL)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.challenge, nil
}

func (f *fakeIDP) SubmitSignedChallenge(_ context.Context, endpoint, signed string) (string, error) {
	f.endpoints = append(f.endpoints, endpoint)
	f.signed = append(f.signed, signed)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.redirect, nil
}

type fakeHealth struct {
	live   health.CheckResult
	report health.Report
	runs   int
}

func (f *fakeHealth) Live(context.Context) health.CheckResult { return f.live }

func (f *fakeHealth) Run(context.Context) health.Report {
	f.runs++
	return f.report
}

type testEnv struct {
	auth      *fakeAuthenticator
	connector *fakeConnector
	idp       *fakeIDP
	health    *fakeHealth
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *testEnv) {
	t.Helper()
	env := &testEnv{
		auth:      &fakeAuthenticator{},
		connector: &fakeConnector{},
		idp:       &fakeIDP{},
		health:    &fakeHealth{},
	}
	cfg := &Config{
		Version:       "1.2.3",
		Context:       testContext,
		Authenticator: env.auth,
		Connector:     env.connector,
		IDP:           env.idp,
		HealthChecker: env.health,
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s, env
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
