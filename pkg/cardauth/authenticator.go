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

package cardauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
	"github.com/jeremyhahn/go-konnektor/pkg/signing"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// DefaultCertRef is the card certificate used for authentication.
const DefaultCertRef = "C.AUT"

// Connector is the subset of *soap.Client the orchestrator drives.
type Connector interface {
	GetCardTerminals(ctx context.Context, cctx soap.Context) (*soap.CardTerminalsResult, error)
	GetCards(ctx context.Context, req soap.GetCardsRequest) (*soap.CardsResult, error)
	GetPinStatus(ctx context.Context, req soap.PinRequest) (*soap.PinStatusResult, error)
	VerifyPin(ctx context.Context, req soap.PinRequest) (*soap.VerifyPinResult, error)
	ReadCardCertificate(ctx context.Context, req soap.ReadCertificateRequest) (*soap.CertificateResult, error)
	ExternalAuthenticate(ctx context.Context, req soap.ExternalAuthenticateRequest) (*soap.SignatureResult, error)
}

// UserIDs derives the stable user id of a card from its ICCSN.
type UserIDs interface {
	UserID(ctx context.Context, iccsn string) (string, error)
}

// Options configure an Authenticator.
type Options struct {
	// Context is sent with every operation.
	Context soap.Context

	// CertRef is the certificate read from the card, C.AUT by default.
	CertRef string

	// Algorithm is tried first when reading the certificate. ECC falls back
	// to RSA once; RSA is not retried.
	Algorithm signing.Algorithm

	// RemotePin allows VerifyPin for a VERIFIABLE SMC-B.
	RemotePin bool

	// Observer, when set, is called on every state change.
	Observer func(cardType soap.CardType, state State)
}

// Request is one authentication attempt.
type Request struct {
	// CardType is HBA, SMC-B or MULTI.
	CardType soap.CardType

	// Challenge is signed as the njwt claim.
	Challenge string

	// CardHandle skips card selection when several cards are inserted.
	CardHandle string
}

// Result is the signed challenge of one card.
type Result struct {
	CardType soap.CardType
	JWS      string
	Session  CardSession
}

// Authenticator runs authentication attempts against a connector.
type Authenticator struct {
	connector Connector
	sessions  *SessionStore
	ui        UI
	userIDs   UserIDs
	opts      Options
	logger    logger.Logger
}

// New creates an Authenticator. A nil ui behaves like Headless; userIDs may
// be nil, in which case no UserId is sent.
func New(connector Connector, sessions *SessionStore, ui UI, userIDs UserIDs, opts Options, log logger.Logger) *Authenticator {
	if sessions == nil {
		sessions = NewSessionStore()
	}
	if ui == nil {
		ui = Headless{}
	}
	if opts.CertRef == "" {
		opts.CertRef = DefaultCertRef
	}
	if opts.Algorithm == "" {
		opts.Algorithm = signing.AlgorithmECC
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Authenticator{
		connector: connector,
		sessions:  sessions,
		ui:        ui,
		userIDs:   userIDs,
		opts:      opts,
		logger:    log,
	}
}

// Sessions returns the session store.
func (a *Authenticator) Sessions() *SessionStore {
	return a.sessions
}

// Logout clears the session of cardType, or every session for MULTI.
func (a *Authenticator) Logout(cardType soap.CardType) {
	if cardType == CardTypeMulti {
		a.sessions.Reset()
		return
	}
	a.sessions.Clear(cardType)
}

// Authenticate signs req.Challenge with the card of req.CardType. MULTI signs
// with HBA and then SMC-B and returns both results.
func (a *Authenticator) Authenticate(ctx context.Context, req Request) ([]Result, error) {
	if req.Challenge == "" {
		return nil, errcodes.New(errcodes.InvalidLauncherParameter).AppendMessage("challenge is empty")
	}
	types := []soap.CardType{req.CardType}
	switch req.CardType {
	case CardTypeMulti:
		if req.CardHandle != "" {
			return nil, errcodes.New(errcodes.InvalidLauncherParameter).
				AppendMessage("card handle cannot be combined with MULTI")
		}
		types = []soap.CardType{soap.CardTypeHBA, soap.CardTypeSMCB}
	case soap.CardTypeHBA, soap.CardTypeSMCB:
	default:
		return nil, errcodes.New(errcodes.InvalidLauncherParameter).
			AppendMessage(fmt.Sprintf("unsupported card type %q", req.CardType))
	}

	results := make([]Result, 0, len(types))
	for _, ct := range types {
		res, err := a.authenticate(ctx, ct, req.Challenge, req.CardHandle)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}
	return results, nil
}

// attempt carries the mutable state of one card type's run.
type attempt struct {
	cardType  soap.CardType
	state     State
	cctx      soap.Context
	terminals []soap.CardTerminal
	card      soap.Card
	pin       soap.PinStatus
	alg       signing.Algorithm
	cert      string
	jws       string
	log       logger.Logger
}

func (a *Authenticator) authenticate(ctx context.Context, cardType soap.CardType, challenge, handle string) (_ *Result, err error) {
	started := time.Now()
	log := logger.FromContext(ctx, a.logger).With(logger.CardType(string(cardType)))
	at := &attempt{cardType: cardType, cctx: a.opts.Context, log: log}

	defer func() {
		code := "OK"
		if err != nil {
			code = string(errcodes.CodeOf(err))
		}
		metrics.RecordAuthentication(string(cardType), code, time.Since(started).Seconds())
	}()

	release, err := a.sessions.acquire(cardType)
	if err != nil {
		return nil, errcodes.New(errcodes.CardSessionBusy).WithCardType(string(cardType)).WithCause(err)
	}
	defer release()

	steps := []struct {
		state State
		run   func(context.Context, *attempt) error
	}{
		{StateDiscoverTerminals, a.discoverTerminals},
		{StateAcquireCardHandle, func(ctx context.Context, at *attempt) error { return a.acquireCardHandle(ctx, at, handle) }},
		{StateCheckPinStatus, a.checkPinStatus},
		{StateReadCertificate, a.readCertificate},
		{StateSignChallenge, func(ctx context.Context, at *attempt) error { return a.signChallenge(ctx, at, challenge) }},
	}
	for _, step := range steps {
		a.enter(at, step.state)
		if err := step.run(ctx, at); err != nil {
			return nil, a.fail(ctx, at, err)
		}
	}

	cs := CardSession{
		CardType:       cardType,
		CardHandle:     at.card.CardHandle,
		CtID:           at.card.CtID,
		SlotID:         at.card.SlotID,
		ICCSN:          at.card.ICCSN,
		CardHolderName: at.card.CardHolderName,
		UserID:         at.cctx.UserID,
		Certificate:    at.cert,
		PinStatus:      at.pin,
	}
	a.sessions.commit(cs)
	a.enter(at, StateDone)
	log.Info("authentication completed", logger.String("algorithm", string(at.alg)))
	return &Result{CardType: cardType, JWS: at.jws, Session: cs}, nil
}

func (a *Authenticator) enter(at *attempt, s State) {
	at.log.Debug("state change", logger.String("from", at.state.String()), logger.String("to", s.String()))
	at.state = s
	if a.opts.Observer != nil {
		a.opts.Observer(at.cardType, s)
	}
}

// fail moves the attempt to StateError and returns err as catalog error.
// Cancellation wins over whatever the step reported.
func (a *Authenticator) fail(ctx context.Context, at *attempt, err error) error {
	from := at.state
	a.enter(at, StateError)

	var hint *MultiCardHint
	if errors.As(err, &hint) {
		at.log.Info("multiple cards found", logger.Int("cards", len(hint.Cards)))
		return hint
	}

	var e *errcodes.Error
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		e = errcodes.New(errcodes.Cancelled).WithCause(err)
	default:
		e = errcodes.Wrap(err, errcodes.UnknownConnectorError)
	}
	e.WithCardType(string(at.cardType))

	fields := []logger.Field{logger.String("state", from.String()), logger.Code(string(e.Code())), logger.Error(err)}
	if e.Class() == errcodes.ClassFatal {
		at.log.Error("authentication failed", fields...)
	} else {
		at.log.Warn("authentication failed", fields...)
	}
	return e
}

func (a *Authenticator) discoverTerminals(ctx context.Context, at *attempt) error {
	res, err := a.connector.GetCardTerminals(ctx, at.cctx)
	if err != nil {
		return errcodes.Wrap(err, errcodes.TerminalsUnreadable)
	}
	if len(res.Terminals) == 0 {
		return errcodes.New(errcodes.NoCardTerminals)
	}
	at.terminals = res.Terminals
	return nil
}

func (a *Authenticator) acquireCardHandle(ctx context.Context, at *attempt, handle string) error {
	res, err := a.connector.GetCards(ctx, soap.GetCardsRequest{Context: at.cctx, CardType: at.cardType})
	if err != nil {
		return errcodes.Wrap(err, errcodes.CardHandleUnavailable)
	}

	var cards []soap.Card
	for _, c := range res.Cards {
		if c.CardType == "" || c.CardType == at.cardType {
			cards = append(cards, c)
		}
	}

	switch {
	case len(cards) == 0:
		a.ui.Notify(ctx, errcodes.New(errcodes.PlaceCards).WithCardType(string(at.cardType)))
		return errcodes.Fault(errcodes.FaultCardHandleInvalid).
			AppendMessage(fmt.Sprintf("no %s card inserted", at.cardType))
	case handle != "":
		card, ok := findCard(cards, handle)
		if !ok {
			return errcodes.Fault(errcodes.FaultCardHandleInvalid).
				WithFoundCards(Candidates(cards)).
				WithCause(fmt.Errorf("%w: %s", ErrUnknownCard, handle))
		}
		at.card = card
	case len(cards) == 1:
		at.card = cards[0]
	default:
		hint := &MultiCardHint{CardType: at.cardType, Cards: cards}
		selected, err := a.ui.SelectCard(ctx, hint)
		if err != nil {
			return err
		}
		card, ok := findCard(cards, selected.CardHandle)
		if !ok {
			return errcodes.Fault(errcodes.FaultCardHandleInvalid).
				WithFoundCards(Candidates(cards)).
				WithCause(fmt.Errorf("%w: %s", ErrUnknownCard, selected.CardHandle))
		}
		at.card = card
	}

	at.log = at.log.With(logger.CardHandle(at.card.CardHandle), logger.String("ct_id", at.card.CtID))
	if a.userIDs != nil && at.card.ICCSN != "" {
		id, err := a.userIDs.UserID(ctx, at.card.ICCSN)
		if err != nil {
			return errcodes.New(errcodes.ConfigReadFailed).WithCause(err)
		}
		at.cctx = at.cctx.WithUserID(id)
	}
	return nil
}

func findCard(cards []soap.Card, handle string) (soap.Card, bool) {
	for _, c := range cards {
		if c.CardHandle == handle {
			return c, true
		}
	}
	return soap.Card{}, false
}

func (a *Authenticator) pinRequest(at *attempt) soap.PinRequest {
	return soap.PinRequest{Context: at.cctx, CardHandle: at.card.CardHandle, PinType: at.cardType.PinType()}
}

func (a *Authenticator) checkPinStatus(ctx context.Context, at *attempt) error {
	res, err := a.connector.GetPinStatus(ctx, a.pinRequest(at))
	if err != nil {
		return errcodes.Wrap(err, errcodes.PinStatusFailed)
	}
	at.pin = res.PinStatus

	switch res.PinStatus {
	case soap.PinVerified:
		return nil
	case soap.PinVerifiable:
		if at.cardType == soap.CardTypeSMCB && !a.opts.RemotePin {
			return errcodes.New(errcodes.SmcbPinNotVerified)
		}
		a.enter(at, StateVerifyPin)
		return a.verifyPin(ctx, at)
	case soap.PinBlocked, soap.PinRejected:
		return errcodes.New(errcodes.PinBlocked).AppendMessage(string(res.PinStatus))
	case soap.PinTransportPin:
		return errcodes.New(errcodes.TransportPinActive)
	default:
		return errcodes.New(errcodes.PinStatusFailed).
			AppendMessage(fmt.Sprintf("PIN status %q", res.PinStatus))
	}
}

func (a *Authenticator) verifyPin(ctx context.Context, at *attempt) error {
	if !a.isLocalTerminal(at) {
		return errcodes.New(errcodes.RemotePinUnsupported).WithTerminal(at.card.CtID)
	}

	prompt := errcodes.New(errcodes.EnterPin).
		WithCardType(string(at.cardType)).
		WithTerminal(at.card.CtID)
	if err := a.ui.PromptPin(ctx, prompt); err != nil {
		return err
	}

	res, err := a.connector.VerifyPin(ctx, a.pinRequest(at))
	if err != nil {
		return errcodes.Wrap(err, errcodes.PinVerifyFailed)
	}
	switch res.PinResult {
	case "OK":
	case "WASBLOCKED", "NOWBLOCKED":
		return errcodes.New(errcodes.PinBlocked).AppendMessage(res.PinResult)
	case "TRANSPORT_PIN":
		return errcodes.New(errcodes.TransportPinActive)
	default:
		return errcodes.New(errcodes.PinVerifyFailed).
			AppendMessage(fmt.Sprintf("PinResult %q, left tries %q", res.PinResult, res.LeftTries))
	}

	status, err := a.connector.GetPinStatus(ctx, a.pinRequest(at))
	if err != nil {
		return errcodes.Wrap(err, errcodes.PinStatusFailed)
	}
	if status.PinStatus != soap.PinVerified {
		return errcodes.New(errcodes.PinVerifyFailed).
			AppendMessage(fmt.Sprintf("PIN status after verification %q", status.PinStatus))
	}
	at.pin = status.PinStatus
	return nil
}

// isLocalTerminal reports whether the card's terminal is bound to a
// workplace. PIN entry on other terminals is not supported.
func (a *Authenticator) isLocalTerminal(at *attempt) bool {
	for _, t := range at.terminals {
		if t.CtID == at.card.CtID {
			return t.HasWorkplace()
		}
	}
	return false
}

// certificateSteps lists the algorithms tried in order: ECC then RSA, or RSA
// alone.
func certificateSteps(first signing.Algorithm) []signing.Algorithm {
	if first == signing.AlgorithmECC {
		return []signing.Algorithm{signing.AlgorithmECC, signing.AlgorithmRSA}
	}
	return []signing.Algorithm{first}
}

func (a *Authenticator) readCertificate(ctx context.Context, at *attempt) error {
	var lastErr error
	for i, alg := range certificateSteps(a.opts.Algorithm) {
		if i > 0 {
			if ctx.Err() != nil {
				break
			}
			at.log.Warn("certificate read failed, retrying with RSA",
				logger.String("algorithm", string(alg)), logger.Error(lastErr))
			metrics.RecordSignatureFallback(string(at.cardType))
		}
		cert, err := a.readCertificateWith(ctx, at, alg)
		if err == nil {
			at.cert = cert
			at.alg = alg
			return nil
		}
		lastErr = err
	}
	// connector faults keep their own code
	return errcodes.Wrap(lastErr, errcodes.CertificateReadFailed)
}

func (a *Authenticator) readCertificateWith(ctx context.Context, at *attempt, alg signing.Algorithm) (string, error) {
	res, err := a.connector.ReadCardCertificate(ctx, soap.ReadCertificateRequest{
		Context:    at.cctx,
		CardHandle: at.card.CardHandle,
		CertRef:    a.opts.CertRef,
		Crypt:      alg,
	})
	if err != nil {
		return "", err
	}
	if err := signing.ValidateCertificate(res.Certificate); err != nil {
		return "", err
	}
	if err := signing.CheckAlgorithm(res.Certificate, alg); err != nil {
		return "", err
	}
	return res.Certificate, nil
}

func (a *Authenticator) signChallenge(ctx context.Context, at *attempt, challenge string) error {
	parts, err := signing.CreateUnsignedJWS(at.cert, challenge, at.alg)
	if err != nil {
		return errcodes.New(errcodes.JwsHashingFailed).WithCause(err)
	}

	res, err := a.connector.ExternalAuthenticate(ctx, soap.ExternalAuthenticateRequest{
		Context:    at.cctx,
		CardHandle: at.card.CardHandle,
		Sign:       soap.SignParamsFor(at.alg, parts.HashedChallenge),
	})
	if err != nil {
		return errcodes.Wrap(err, errcodes.SigningFailed)
	}

	jws, err := signing.Assemble(parts, res.Signature, at.alg)
	if err != nil {
		return errcodes.New(errcodes.SignatureInvalid).WithCause(err)
	}
	if err := signing.VerifyJWS(jws); err != nil {
		return errcodes.New(errcodes.JwsSignatureInvalid).WithCause(err)
	}
	at.jws = jws
	return nil
}
