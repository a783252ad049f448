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

package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"math/big"
	"regexp"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// MaxJWSLength bounds a signed challenge.
const MaxJWSLength = 4096

var compactJWS = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+$`)

// SigningMethodBP256R1 is the ECDSA brainpoolP256r1/SHA-256 method with a raw
// r||s signature. The curve is taken from the key.
var SigningMethodBP256R1 = &SigningMethodBrainpool{}

func init() {
	jwt.RegisterSigningMethod(AlgBP256R1, func() jwt.SigningMethod {
		return SigningMethodBP256R1
	})
}

// SigningMethodBrainpool implements jwt.SigningMethod for BP256R1.
type SigningMethodBrainpool struct{}

// Alg returns BP256R1.
func (m *SigningMethodBrainpool) Alg() string {
	return AlgBP256R1
}

// Verify checks a raw r||s signature with an *ecdsa.PublicKey.
func (m *SigningMethodBrainpool) Verify(signingString string, sig []byte, key interface{}) error {
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return ErrInvalidKey
	}
	if len(sig) != ECCSignatureLength {
		return jwt.ErrSignatureInvalid
	}
	digest := sha256.Sum256([]byte(signingString))
	half := ECCSignatureLength / 2
	r := new(big.Int).SetBytes(sig[:half])
	s := new(big.Int).SetBytes(sig[half:])
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return jwt.ErrSignatureInvalid
	}
	return nil
}

// Sign produces a raw r||s signature with an *ecdsa.PrivateKey.
func (m *SigningMethodBrainpool) Sign(signingString string, key interface{}) ([]byte, error) {
	priv, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	digest := sha256.Sum256([]byte(signingString))
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, err
	}
	half := ECCSignatureLength / 2
	out := make([]byte, ECCSignatureLength)
	r.FillBytes(out[:half])
	s.FillBytes(out[half:])
	return out, nil
}

// ValidateJWS checks that jws is a well-formed compact JWS with a supported
// algorithm and an x5c header. The signature is not verified.
func ValidateJWS(jws string) error {
	if len(jws) == 0 || len(jws) > MaxJWSLength {
		return fmt.Errorf("%w: length %d", ErrInvalidJWS, len(jws))
	}
	if !compactJWS.MatchString(jws) {
		return fmt.Errorf("%w: not a compact serialization", ErrInvalidJWS)
	}
	token, _, err := jwt.NewParser().ParseUnverified(jws, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJWS, err)
	}
	switch token.Method.Alg() {
	case AlgBP256R1, AlgPS256:
	default:
		return fmt.Errorf("%w: unexpected alg %s", ErrInvalidJWS, token.Method.Alg())
	}
	if _, err := leafCertificate(token.Header); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJWS, err)
	}
	return nil
}

// VerifyJWS validates jws and verifies its signature with the leaf x5c
// certificate.
func VerifyJWS(jws string) error {
	if err := ValidateJWS(jws); err != nil {
		return err
	}
	token, _, err := jwt.NewParser().ParseUnverified(jws, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJWS, err)
	}
	cert, err := leafCertificate(token.Header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJWS, err)
	}
	if token.Method.Alg() == AlgPS256 {
		return verifyPS256(jws, cert)
	}
	return verifyBP256R1(jws, cert)
}

func verifyPS256(jws string, cert *x509.Certificate) error {
	obj, err := jose.ParseSigned(jws, []jose.SignatureAlgorithm{jose.PS256})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJWS, err)
	}
	if _, err := obj.Verify(cert.PublicKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJWS, err)
	}
	return nil
}

func verifyBP256R1(jws string, cert *x509.Certificate) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{AlgBP256R1}),
		jwt.WithoutClaimsValidation(),
	)
	_, err := parser.Parse(jws, func(*jwt.Token) (interface{}, error) {
		return cert.PublicKey, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJWS, err)
	}
	return nil
}

func leafCertificate(header map[string]interface{}) (*x509.Certificate, error) {
	chain, ok := header["x5c"].([]interface{})
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("missing x5c header")
	}
	leaf, ok := chain[0].(string)
	if !ok {
		return nil, fmt.Errorf("x5c entry is not a string")
	}
	return ParseCertificate(leaf)
}
