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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/signing"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/stretchr/testify/require"
)

var testContext = soap.Context{MandantID: "mandant1", ClientSystemID: "client1", WorkplaceID: "workplace1"}

// fakeCard is a card with its keys.
type fakeCard struct {
	eccKey  *ecdsa.PrivateKey
	rsaKey  *rsa.PrivateKey
	eccCert string
	rsaCert string
}

func newFakeCard(t *testing.T) *fakeCard {
	t.Helper()
	eccKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &fakeCard{
		eccKey:  eccKey,
		rsaKey:  rsaKey,
		eccCert: selfSigned(t, &eccKey.PublicKey, eccKey),
		rsaCert: selfSigned(t, &rsaKey.PublicKey, rsaKey),
	}
}

func selfSigned(t *testing.T, pub, priv any) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Praxis Test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

// fakeConnector answers like a connector with one terminal per entry of
// terminals and the given cards.
type fakeConnector struct {
	t    *testing.T
	card *fakeCard

	mu          sync.Mutex
	terminals   []soap.CardTerminal
	cards       map[soap.CardType][]soap.Card
	pinStatus   map[soap.CardType][]soap.PinStatus
	pinResult   string
	certErr     map[signing.Algorithm]error
	errs        map[string]error
	signDigest  []byte
	calls       map[string]int
	lastContext soap.Context
	certCrypts  []signing.Algorithm
}

func newFakeConnector(t *testing.T) *fakeConnector {
	return &fakeConnector{
		t:    t,
		card: newFakeCard(t),
		terminals: []soap.CardTerminal{
			{CtID: "CT1", Name: "local", Connected: true, WorkplaceIDs: []string{"workplace1"}},
			{CtID: "CT2", Name: "remote", Connected: true},
		},
		cards: map[soap.CardType][]soap.Card{
			soap.CardTypeHBA:  {{CardHandle: "HBA-1", CardType: soap.CardTypeHBA, ICCSN: "80276001", CtID: "CT1", SlotID: "1"}},
			soap.CardTypeSMCB: {{CardHandle: "SMCB-1", CardType: soap.CardTypeSMCB, ICCSN: "80276002", CtID: "CT1", SlotID: "2"}},
		},
		pinStatus: map[soap.CardType][]soap.PinStatus{},
		pinResult: "OK",
		certErr:   map[signing.Algorithm]error{},
		errs:      map[string]error{},
		calls:     map[string]int{},
	}
}

func (f *fakeConnector) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// called counts op and returns the error configured for it.
func (f *fakeConnector) called(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.errs[op]
}

func (f *fakeConnector) GetCardTerminals(_ context.Context, cctx soap.Context) (*soap.CardTerminalsResult, error) {
	if err := f.called("GetCardTerminals"); err != nil {
		return nil, err
	}
	return &soap.CardTerminalsResult{Status: "OK", Terminals: f.terminals}, nil
}

func (f *fakeConnector) GetCards(_ context.Context, req soap.GetCardsRequest) (*soap.CardsResult, error) {
	if err := f.called("GetCards"); err != nil {
		return nil, err
	}
	return &soap.CardsResult{Status: "OK", Cards: f.cards[req.CardType]}, nil
}

func (f *fakeConnector) cardType(handle string) soap.CardType {
	for ct, cards := range f.cards {
		for _, c := range cards {
			if c.CardHandle == handle {
				return ct
			}
		}
	}
	f.t.Fatalf("unknown card handle %s", handle)
	return ""
}

// GetPinStatus pops the next configured status; the last one sticks.
// VERIFIED is the default.
func (f *fakeConnector) GetPinStatus(_ context.Context, req soap.PinRequest) (*soap.PinStatusResult, error) {
	if err := f.called("GetPinStatus"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ct := f.cardType(req.CardHandle)
	statuses := f.pinStatus[ct]
	status := soap.PinVerified
	if len(statuses) > 0 {
		status = statuses[0]
		if len(statuses) > 1 {
			f.pinStatus[ct] = statuses[1:]
		}
	}
	return &soap.PinStatusResult{Status: "OK", PinStatus: status}, nil
}

func (f *fakeConnector) VerifyPin(_ context.Context, req soap.PinRequest) (*soap.VerifyPinResult, error) {
	if err := f.called("VerifyPin"); err != nil {
		return nil, err
	}
	return &soap.VerifyPinResult{Status: "OK", PinResult: f.pinResult, LeftTries: "3"}, nil
}

func (f *fakeConnector) ReadCardCertificate(_ context.Context, req soap.ReadCertificateRequest) (*soap.CertificateResult, error) {
	if err := f.called("ReadCardCertificate"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.certCrypts = append(f.certCrypts, req.Crypt)
	f.lastContext = req.Context
	f.mu.Unlock()
	if err := f.certErr[req.Crypt]; err != nil {
		return nil, err
	}
	if req.Crypt == signing.AlgorithmECC {
		return &soap.CertificateResult{Status: "OK", Certificate: f.card.eccCert}, nil
	}
	return &soap.CertificateResult{Status: "OK", Certificate: f.card.rsaCert}, nil
}

func (f *fakeConnector) ExternalAuthenticate(_ context.Context, req soap.ExternalAuthenticateRequest) (*soap.SignatureResult, error) {
	if err := f.called("ExternalAuthenticate"); err != nil {
		return nil, err
	}
	digest, err := base64.StdEncoding.DecodeString(req.Sign.Base64Data)
	require.NoError(f.t, err)
	if f.signDigest != nil {
		digest = f.signDigest
	}

	var sig []byte
	switch req.Sign.SignatureType {
	case soap.SignatureTypeECC:
		sig, err = ecdsa.SignASN1(rand.Reader, f.card.eccKey, digest)
	case soap.SignatureTypeRSA:
		require.Equal(f.t, soap.SchemeRSASSAPSS, req.Sign.SignatureScheme)
		sig, err = rsa.SignPSS(rand.Reader, f.card.rsaKey, crypto.SHA256, digest,
			&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	default:
		f.t.Fatalf("unexpected signature type %s", req.Sign.SignatureType)
	}
	require.NoError(f.t, err)
	return &soap.SignatureResult{Status: "OK", Signature: base64.StdEncoding.EncodeToString(sig)}, nil
}

// scriptedUI records callbacks and answers SelectCard with pick.
type scriptedUI struct {
	mu      sync.Mutex
	pick    func(*MultiCardHint) (soap.Card, error)
	hints   []*MultiCardHint
	prompts []*errcodes.Error
	notices []*errcodes.Error
	pinErr  error
}

func (u *scriptedUI) SelectCard(_ context.Context, hint *MultiCardHint) (soap.Card, error) {
	u.mu.Lock()
	u.hints = append(u.hints, hint)
	u.mu.Unlock()
	return u.pick(hint)
}

func (u *scriptedUI) PromptPin(_ context.Context, prompt *errcodes.Error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.prompts = append(u.prompts, prompt)
	return u.pinErr
}

func (u *scriptedUI) Notify(_ context.Context, notice *errcodes.Error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.notices = append(u.notices, notice)
}

type staticUserIDs map[string]string

func (s staticUserIDs) UserID(_ context.Context, iccsn string) (string, error) {
	return s[iccsn], nil
}
