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

// Package signing builds the JWS the connector signs for the IDP.
//
// The connector never sees the JWS itself: it signs the SHA-256 digest of the
// signing input ("header.payload") with the card's authentication key. The
// returned signature is appended to form a compact JWS. ECC signatures arrive
// DER encoded and are converted to the raw r||s layout JOSE expects; RSA-PSS
// signatures are used as they are.
package signing

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Algorithm is the signature type requested from the connector.
type Algorithm string

const (
	// AlgorithmECC signs with the card's brainpoolP256r1 key.
	AlgorithmECC Algorithm = "ECC"
	// AlgorithmRSA signs with the card's RSA key using RSASSA-PSS.
	AlgorithmRSA Algorithm = "RSA"
)

// JOSE algorithm names.
const (
	AlgBP256R1 = "BP256R1"
	AlgPS256   = "PS256"
)

// ECCSignatureLength is the raw r||s length of a brainpoolP256r1 signature.
const ECCSignatureLength = 64

// ParseAlgorithm accepts ECC or RSA, case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToUpper(s) {
	case string(AlgorithmECC):
		return AlgorithmECC, nil
	case string(AlgorithmRSA):
		return AlgorithmRSA, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
	}
}

// JOSE returns the "alg" header value for a.
func (a Algorithm) JOSE() (string, error) {
	switch a {
	case AlgorithmECC:
		return AlgBP256R1, nil
	case AlgorithmRSA:
		return AlgPS256, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// Parts is an unsigned JWS.
type Parts struct {
	// Header is the base64url encoded protected header.
	Header string
	// Payload is the base64url encoded payload.
	Payload string
	// HashedChallenge is the standard base64 SHA-256 of the signing input.
	// This is what the connector signs.
	HashedChallenge string
}

// SigningInput returns "header.payload".
func (p Parts) SigningInput() string {
	return p.Header + "." + p.Payload
}

// Field order is part of the signed bytes.
type jwsHeader struct {
	Alg string   `json:"alg"`
	X5c []string `json:"x5c"`
	Typ string   `json:"typ"`
	Cty string   `json:"cty"`
}

type jwsPayload struct {
	NJWT string `json:"njwt"`
}

// CreateUnsignedJWS builds header, payload and digest for certificate and
// challenge. The result depends only on its inputs.
func CreateUnsignedJWS(certificate, challenge string, alg Algorithm) (Parts, error) {
	joseAlg, err := alg.JOSE()
	if err != nil {
		return Parts{}, err
	}
	header, err := encodeJSON(jwsHeader{
		Alg: joseAlg,
		X5c: []string{certificate},
		Typ: "JWT",
		Cty: "NJWT",
	})
	if err != nil {
		return Parts{}, fmt.Errorf("signing: encode header: %w", err)
	}
	payload, err := encodeJSON(jwsPayload{NJWT: challenge})
	if err != nil {
		return Parts{}, fmt.Errorf("signing: encode payload: %w", err)
	}
	p := Parts{Header: header, Payload: payload}
	digest := sha256.Sum256([]byte(p.SigningInput()))
	p.HashedChallenge = base64.StdEncoding.EncodeToString(digest[:])
	return p, nil
}

// encodeJSON marshals v without HTML escaping and base64url encodes it.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

// Assemble appends the connector signature to p. signature is the standard
// base64 value of the ExternalAuthenticate Base64Signature element.
func Assemble(p Parts, signature string, alg Algorithm) (string, error) {
	sig, err := Base64ToBase64URL(signature)
	if err != nil {
		return "", err
	}
	switch alg {
	case AlgorithmECC:
		sig, err = ConvertDERToConcatenated(sig, ECCSignatureLength)
		if err != nil {
			return "", err
		}
	case AlgorithmRSA:
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(alg))
	}
	return p.SigningInput() + "." + sig, nil
}

// Base64ToBase64URL re-encodes a standard base64 value (whitespace tolerated)
// as unpadded base64url.
func Base64ToBase64URL(s string) (string, error) {
	raw, err := decodeStd(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(raw) == 0 {
		return "", ErrInvalidSignature
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeStd(s string) ([]byte, error) {
	s = strings.Join(strings.Fields(s), "")
	return base64.StdEncoding.DecodeString(s)
}
