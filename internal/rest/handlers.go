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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/health"
	"github.com/jeremyhahn/go-konnektor/pkg/idp"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// maxRequestBytes bounds a request body.
const maxRequestBytes = 64 << 10

// Authenticator signs challenges with inserted cards.
type Authenticator interface {
	Authenticate(ctx context.Context, req cardauth.Request) ([]cardauth.Result, error)
	Sessions() *cardauth.SessionStore
	Logout(cardType soap.CardType)
}

// Connector lists terminals and cards.
type Connector interface {
	GetCardTerminals(ctx context.Context, cctx soap.Context) (*soap.CardTerminalsResult, error)
	GetCards(ctx context.Context, req soap.GetCardsRequest) (*soap.CardsResult, error)
}

// IDPClient fetches challenges and submits signed ones.
type IDPClient interface {
	FetchChallenge(ctx context.Context, rawURL string) (*idp.Challenge, error)
	SubmitSignedChallenge(ctx context.Context, endpoint, signed string) (string, error)
}

// HealthChecker runs liveness and the function tests.
type HealthChecker interface {
	Live(ctx context.Context) health.CheckResult
	Run(ctx context.Context) health.Report
}

// HandlerContext holds the collaborators of the API handlers.
type HandlerContext struct {
	Version       string
	Context       soap.Context
	ChallengeURL  string
	Authenticator Authenticator
	Connector     Connector
	IDP           IDPClient
	HealthChecker HealthChecker
	logger        logger.Logger
}

func (h *HandlerContext) log(ctx context.Context) logger.Logger {
	return logger.FromContext(ctx, h.logger)
}

// VersionHandler handles GET /version requests.
func (h *HandlerContext) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, VersionResponse{Version: h.Version}, http.StatusOK)
}

func invalidParameter(msg string) *errcodes.Error {
	return errcodes.New(errcodes.InvalidLauncherParameter).AppendMessage(msg)
}

// parseCardType accepts HBA, SMC-B and, when multi is set, MULTI.
func parseCardType(s string, multi bool) (soap.CardType, error) {
	if multi && strings.EqualFold(strings.TrimSpace(s), string(cardauth.CardTypeMulti)) {
		return cardauth.CardTypeMulti, nil
	}
	ct, err := soap.ParseCardType(s)
	if err != nil {
		return "", invalidParameter(fmt.Sprintf("unsupported card type %q", SanitizeString(s)))
	}
	return ct, nil
}

// AuthenticateHandler handles POST /api/v1/authenticate requests.
//
// The challenge is either part of the request or fetched from an IDP. A
// fetched challenge is submitted back to the IDP once signed and the
// response carries the redirect the IDP answered with.
func (h *HandlerContext) AuthenticateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AuthenticateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		handleError(w, invalidParameter("request body is not valid JSON").WithCause(err))
		return
	}

	cardType, err := parseCardType(req.CardType, true)
	if err != nil {
		handleError(w, err)
		return
	}
	if req.CardHandle != "" {
		if err := ValidateCardHandle(req.CardHandle); err != nil {
			handleError(w, invalidParameter(err.Error()))
			return
		}
	}

	challenge := req.Challenge
	challengeURL := ""
	var consent *idp.UserConsent
	if challenge != "" {
		if err := ValidateChallenge(challenge); err != nil {
			handleError(w, invalidParameter(err.Error()))
			return
		}
	} else {
		challengeURL = req.ChallengeURL
		if challengeURL == "" {
			challengeURL = h.ChallengeURL
		}
		if challengeURL == "" {
			handleError(w, invalidParameter("challenge or challenge_url is required"))
			return
		}
		if err := ValidateChallengeURL(challengeURL); err != nil {
			handleError(w, errcodes.New(errcodes.InvalidRedirectURI).AppendMessage(err.Error()))
			return
		}
		if h.IDP == nil {
			writeErrorWithMessage(w, ErrNotConfigured, "no IDP client configured", http.StatusNotImplemented)
			return
		}
		ch, err := h.IDP.FetchChallenge(ctx, challengeURL)
		if err != nil {
			h.log(ctx).Warn("challenge fetch failed",
				logger.String("url", SanitizeString(challengeURL)), logger.Error(err))
			handleError(w, err)
			return
		}
		challenge = ch.Challenge
		consent = &ch.UserConsent
	}

	results, err := h.Authenticator.Authenticate(ctx, cardauth.Request{
		CardType:   cardType,
		Challenge:  challenge,
		CardHandle: req.CardHandle,
	})
	if err != nil {
		if errcodes.IsHint(err) {
			h.log(ctx).Info("card selection required", logger.CardType(string(cardType)))
		} else {
			h.log(ctx).Warn("authentication failed",
				logger.CardType(string(cardType)),
				logger.Code(string(errcodes.CodeOf(err))),
				logger.Error(err))
		}
		handleError(w, err)
		return
	}

	endpoint := ""
	if challengeURL != "" {
		if endpoint, err = idp.SubmitEndpoint(challengeURL); err != nil {
			handleError(w, err)
			return
		}
	}

	resp := AuthenticateResponse{
		Results:     make([]SignedChallenge, 0, len(results)),
		UserConsent: consent,
	}
	for _, res := range results {
		sc := SignedChallenge{
			CardType:   res.CardType,
			JWS:        res.JWS,
			CardHandle: res.Session.CardHandle,
			UserID:     res.Session.UserID,
		}
		if endpoint != "" {
			redirect, err := h.IDP.SubmitSignedChallenge(ctx, endpoint, res.JWS)
			if err != nil {
				h.log(ctx).Warn("signed challenge rejected",
					logger.CardType(string(res.CardType)), logger.Error(err))
				handleError(w, err)
				return
			}
			sc.Redirect = redirect
		}
		resp.Results = append(resp.Results, sc)
	}

	writeJSON(w, resp, http.StatusOK)
}

// TerminalsHandler handles GET /api/v1/terminals requests.
func (h *HandlerContext) TerminalsHandler(w http.ResponseWriter, r *http.Request) {
	res, err := h.Connector.GetCardTerminals(r.Context(), h.Context)
	if err != nil {
		handleError(w, err)
		return
	}
	terminals := res.Terminals
	if terminals == nil {
		terminals = []soap.CardTerminal{}
	}
	writeJSON(w, TerminalsResponse{Terminals: terminals}, http.StatusOK)
}

// CardsHandler handles GET /api/v1/cards?type= requests. The type defaults
// to SMC-B.
func (h *HandlerContext) CardsHandler(w http.ResponseWriter, r *http.Request) {
	cardType := soap.CardTypeSMCB
	if q := r.URL.Query().Get("type"); q != "" {
		ct, err := parseCardType(q, false)
		if err != nil {
			handleError(w, err)
			return
		}
		cardType = ct
	}

	res, err := h.Connector.GetCards(r.Context(), soap.GetCardsRequest{Context: h.Context, CardType: cardType})
	if err != nil {
		handleError(w, err)
		return
	}
	cards := res.Cards
	if cards == nil {
		cards = []soap.Card{}
	}
	writeJSON(w, CardsResponse{Cards: cards}, http.StatusOK)
}

// SessionsHandler handles GET /api/v1/sessions requests.
func (h *HandlerContext) SessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions := h.Authenticator.Sessions().All()
	if sessions == nil {
		sessions = []cardauth.CardSession{}
	}
	writeJSON(w, SessionsResponse{Sessions: sessions}, http.StatusOK)
}

// LogoutHandler handles DELETE /api/v1/sessions/{cardType} requests.
func (h *HandlerContext) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	cardType, err := parseCardType(chi.URLParam(r, "cardType"), true)
	if err != nil {
		handleError(w, err)
		return
	}
	h.Authenticator.Logout(cardType)
	h.log(r.Context()).Info("card session cleared", logger.CardType(string(cardType)))
	w.WriteHeader(http.StatusNoContent)
}
