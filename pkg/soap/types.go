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
	"fmt"
	"strings"

	"github.com/jeremyhahn/go-konnektor/pkg/signing"
)

// CardType is a connector card type.
type CardType string

const (
	// CardTypeHBA is the health professional card
	CardTypeHBA CardType = "HBA"
	// CardTypeSMCB is the institution card
	CardTypeSMCB CardType = "SMC-B"
)

// ParseCardType accepts HBA and SMC-B (also SMCB), case-insensitively.
func ParseCardType(s string) (CardType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "HBA":
		return CardTypeHBA, nil
	case "SMC-B", "SMCB":
		return CardTypeSMCB, nil
	default:
		return "", fmt.Errorf("%w: unsupported card type %q", ErrMissingParameter, s)
	}
}

// PinType returns the PIN reference verified for the card type.
func (c CardType) PinType() string {
	if c == CardTypeSMCB {
		return "PIN.SMC"
	}
	return "PIN.CH"
}

// PinStatus is the status reported by GetPinStatus.
type PinStatus string

// PIN states.
const (
	PinVerified     PinStatus = "VERIFIED"
	PinVerifiable   PinStatus = "VERIFIABLE"
	PinBlocked      PinStatus = "BLOCKED"
	PinRejected     PinStatus = "REJECTED"
	PinTransportPin PinStatus = "TRANSPORT_PIN"
	PinEmptyPin     PinStatus = "EMPTY_PIN"
	PinDisabled     PinStatus = "DISABLED"
)

// Context identifies the caller to the connector. Values are immutable per
// configured connector; use WithUserID to derive a per-card copy.
type Context struct {
	MandantID      string
	ClientSystemID string
	WorkplaceID    string
	UserID         string
}

// WithUserID returns a copy of c carrying userID.
func (c Context) WithUserID(userID string) Context {
	c.UserID = userID
	return c
}

func (c Context) validate() error {
	switch {
	case c.MandantID == "":
		return fmt.Errorf("%w: MandantId", ErrMissingParameter)
	case c.ClientSystemID == "":
		return fmt.Errorf("%w: ClientSystemId", ErrMissingParameter)
	case c.WorkplaceID == "":
		return fmt.Errorf("%w: WorkplaceId", ErrMissingParameter)
	}
	return nil
}

// Signature types and schemes sent with ExternalAuthenticate.
const (
	SignatureTypeECC = "urn:bsi:tr:03111:ecdsa"
	SignatureTypeRSA = "urn:ietf:rfc:3447"
	SchemeRSASSAPSS  = "RSASSA-PSS"
)

// SignParams is the OptionalInputs and payload of ExternalAuthenticate.
type SignParams struct {
	SignatureType   string
	SignatureScheme string
	Base64Data      string
}

// SignParamsFor returns the parameters for alg signing base64Data.
func SignParamsFor(alg signing.Algorithm, base64Data string) SignParams {
	if alg == signing.AlgorithmECC {
		return SignParams{SignatureType: SignatureTypeECC, Base64Data: base64Data}
	}
	return SignParams{
		SignatureType:   SignatureTypeRSA,
		SignatureScheme: SchemeRSASSAPSS,
		Base64Data:      base64Data,
	}
}

// GetCardsRequest lists inserted cards of one type.
type GetCardsRequest struct {
	Context  Context
	CardType CardType
}

func (r GetCardsRequest) validate() error {
	if err := r.Context.validate(); err != nil {
		return err
	}
	if r.CardType == "" {
		return fmt.Errorf("%w: CardType", ErrMissingParameter)
	}
	return nil
}

// PinRequest addresses a PIN of a card. PinType defaults from the card type
// at the call site.
type PinRequest struct {
	Context    Context
	CardHandle string
	PinType    string
}

func (r PinRequest) validate() error {
	if err := r.Context.validate(); err != nil {
		return err
	}
	if r.CardHandle == "" {
		return fmt.Errorf("%w: CardHandle", ErrMissingParameter)
	}
	if r.PinType == "" {
		return fmt.Errorf("%w: PinTyp", ErrMissingParameter)
	}
	return nil
}

// ReadCertificateRequest reads one certificate reference from a card. Crypt
// is only sent to PTV4 connectors.
type ReadCertificateRequest struct {
	Context    Context
	CardHandle string
	CertRef    string
	Crypt      signing.Algorithm
}

func (r ReadCertificateRequest) validate() error {
	if err := r.Context.validate(); err != nil {
		return err
	}
	if r.CardHandle == "" {
		return fmt.Errorf("%w: CardHandle", ErrMissingParameter)
	}
	if r.CertRef == "" {
		return fmt.Errorf("%w: CertRef", ErrMissingParameter)
	}
	return nil
}

// ExternalAuthenticateRequest asks the card to sign Sign.Base64Data.
type ExternalAuthenticateRequest struct {
	Context    Context
	CardHandle string
	Sign       SignParams
}

func (r ExternalAuthenticateRequest) validate() error {
	if err := r.Context.validate(); err != nil {
		return err
	}
	switch {
	case r.CardHandle == "":
		return fmt.Errorf("%w: CardHandle", ErrMissingParameter)
	case r.Sign.SignatureType == "":
		return fmt.Errorf("%w: SignatureType", ErrMissingParameter)
	case r.Sign.Base64Data == "":
		return fmt.Errorf("%w: Base64Data", ErrMissingParameter)
	}
	return nil
}

// Card is one entry of a GetCards response.
type Card struct {
	CardHandle     string   `json:"card_handle"`
	CardType       CardType `json:"card_type"`
	ICCSN          string   `json:"iccsn"`
	CtID           string   `json:"ct_id"`
	SlotID         string   `json:"slot_id"`
	CardHolderName string   `json:"card_holder_name,omitempty"`
	InsertTime     string   `json:"insert_time,omitempty"`
}

// CardTerminal is one entry of a GetCardTerminals response.
type CardTerminal struct {
	CtID         string   `json:"ct_id"`
	Name         string   `json:"name"`
	Connected    bool     `json:"connected"`
	IPAddress    string   `json:"ip_address,omitempty"`
	WorkplaceIDs []string `json:"workplace_ids"`
}

// HasWorkplace reports whether the terminal is bound to any workplace.
func (t CardTerminal) HasWorkplace() bool {
	for _, id := range t.WorkplaceIDs {
		if id != "" {
			return true
		}
	}
	return false
}

// CardTerminalsResult is the parsed GetCardTerminals response.
type CardTerminalsResult struct {
	Status    string
	Terminals []CardTerminal
	Raw       []byte
}

// CardsResult is the parsed GetCards response.
type CardsResult struct {
	Status string
	Cards  []Card
	Raw    []byte
}

// PinStatusResult is the parsed GetPinStatus response.
type PinStatusResult struct {
	Status    string
	PinStatus PinStatus
	LeftTries string
	Raw       []byte
}

// VerifyPinResult is the parsed VerifyPin response.
type VerifyPinResult struct {
	Status    string
	PinResult string
	LeftTries string
	Raw       []byte
}

// CertificateResult is the parsed ReadCardCertificate response.
type CertificateResult struct {
	Status      string
	Certificate string
	Raw         []byte
}

// SignatureResult is the parsed ExternalAuthenticate response.
type SignatureResult struct {
	Status    string
	Signature string
	Raw       []byte
}
