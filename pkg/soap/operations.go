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

package soap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-konnektor/pkg/discovery"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
	"github.com/jeremyhahn/go-konnektor/pkg/signing"
)

// GetCardTerminals lists the card terminals visible to ctx.
func (c *Client) GetCardTerminals(ctx context.Context, cctx Context) (*CardTerminalsResult, error) {
	if err := cctx.validate(); err != nil {
		return nil, err
	}
	root, raw, err := c.do(ctx, call{
		op:      metrics.OpGetCardTerminals,
		service: discovery.EventService,
		action:  ActionGetCardTerminals,
		name:    "GetCardTerminals",
		data:    struct{ Context Context }{cctx},
	})
	if err != nil {
		return nil, err
	}
	res := &CardTerminalsResult{Status: findText(root, "Result"), Raw: raw}
	for _, n := range root.FindAll("CardTerminal") {
		t := CardTerminal{
			CtID:      findText(n, "CtId"),
			Name:      findText(n, "Name"),
			Connected: strings.EqualFold(findText(n, "Connected"), "true"),
			IPAddress: findText(n, "IPV4Address"),
		}
		for _, w := range n.FindAll("WorkplaceId") {
			t.WorkplaceIDs = append(t.WorkplaceIDs, w.Text)
		}
		res.Terminals = append(res.Terminals, t)
	}
	return res, nil
}

// GetCards lists the inserted cards of one type.
func (c *Client) GetCards(ctx context.Context, req GetCardsRequest) (*CardsResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	root, raw, err := c.do(ctx, call{
		op:      metrics.OpGetCards,
		service: discovery.EventService,
		action:  ActionGetCards,
		name:    "GetCards",
		data:    req,
	})
	if err != nil {
		return nil, err
	}
	res := &CardsResult{Status: findText(root, "Result"), Raw: raw}
	for _, n := range root.FindAll("Card") {
		res.Cards = append(res.Cards, Card{
			CardHandle:     findText(n, "CardHandle"),
			CardType:       CardType(findText(n, "CardType")),
			ICCSN:          findText(n, "Iccsn"),
			CtID:           findText(n, "CtId"),
			SlotID:         findText(n, "SlotId"),
			CardHolderName: findText(n, "CardHolderName"),
			InsertTime:     findText(n, "InsertTime"),
		})
	}
	return res, nil
}

// GetPinStatus reads the status of a card PIN.
func (c *Client) GetPinStatus(ctx context.Context, req PinRequest) (*PinStatusResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	root, raw, err := c.do(ctx, call{
		op:      metrics.OpGetPinStatus,
		service: discovery.CardService,
		action:  ActionGetPinStatus,
		name:    "GetPinStatus",
		data:    req,
	})
	if err != nil {
		return nil, err
	}
	status := findText(root, "PinStatus")
	if status == "" {
		return nil, errcodes.New(errcodes.PinStatusFailed).
			WithCause(fmt.Errorf("%w: no PinStatus", ErrUnexpectedResponse))
	}
	return &PinStatusResult{
		Status:    findText(root, "Result"),
		PinStatus: PinStatus(status),
		LeftTries: findText(root, "LeftTries"),
		Raw:       raw,
	}, nil
}

// VerifyPin starts PIN entry at the card terminal. It blocks until the user
// finishes or the verify timeout elapses.
func (c *Client) VerifyPin(ctx context.Context, req PinRequest) (*VerifyPinResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	root, raw, err := c.do(ctx, call{
		op:      metrics.OpVerifyPin,
		service: discovery.CardService,
		action:  ActionVerifyPin,
		name:    "VerifyPin",
		data:    req,
		timeout: c.config.VerifyPinTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &VerifyPinResult{
		Status:    findText(root, "Result"),
		PinResult: findText(root, "PinResult"),
		LeftTries: findText(root, "LeftTries"),
		Raw:       raw,
	}, nil
}

// ReadCardCertificate reads a certificate from the card. The PTV3 envelope is
// used when the connector reports product type version 3.
func (c *Client) ReadCardCertificate(ctx context.Context, req ReadCertificateRequest) (*CertificateResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if req.Crypt == "" {
		req.Crypt = signing.AlgorithmRSA
	}
	ptv3, err := c.resolver.IsPTV3(ctx)
	if err != nil {
		return nil, errcodes.Wrap(err, errcodes.ConnectorUnreachable)
	}
	name := "ReadCardCertificatePTV4"
	if ptv3 {
		name = "ReadCardCertificatePTV3"
	}
	root, raw, err := c.do(ctx, call{
		op:      metrics.OpReadCardCertificate,
		service: discovery.CertificateService,
		action:  ActionReadCardCertificate,
		name:    name,
		data:    req,
	})
	if err != nil {
		return nil, err
	}
	cert := findText(root, "X509Certificate")
	if cert == "" {
		return nil, errcodes.New(errcodes.CertificateReadFailed).
			WithCause(fmt.Errorf("%w: no X509Certificate", ErrUnexpectedResponse))
	}
	return &CertificateResult{Status: findText(root, "Result"), Certificate: cert, Raw: raw}, nil
}

// ExternalAuthenticate has the card sign the given data.
func (c *Client) ExternalAuthenticate(ctx context.Context, req ExternalAuthenticateRequest) (*SignatureResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	root, raw, err := c.do(ctx, call{
		op:      metrics.OpExternalAuthenticate,
		service: discovery.AuthSignatureService,
		action:  ActionExternalAuthenticate,
		name:    "ExternalAuthenticate",
		data:    req,
	})
	if err != nil {
		return nil, err
	}
	sig := findText(root, "Base64Signature")
	if sig == "" {
		return nil, errcodes.New(errcodes.SigningFailed).
			WithCause(fmt.Errorf("%w: no Base64Signature", ErrUnexpectedResponse))
	}
	return &SignatureResult{Status: findText(root, "Result"), Signature: sig, Raw: raw}, nil
}

