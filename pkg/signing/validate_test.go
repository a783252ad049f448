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
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func selfSigned(t *testing.T, pub, priv any) string {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Praxis Test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

// signRSA plays the connector: it signs the hashed challenge with RSASSA-PSS.
func signRSA(t *testing.T, key *rsa.PrivateKey, p Parts) string {
	t.Helper()
	digest, err := base64.StdEncoding.DecodeString(p.HashedChallenge)
	require.NoError(t, err)
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest,
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

// signECC plays the connector: it signs the hashed challenge and returns DER.
func signECC(t *testing.T, key *ecdsa.PrivateKey, p Parts) string {
	t.Helper()
	digest, err := base64.StdEncoding.DecodeString(p.HashedChallenge)
	require.NoError(t, err)
	der, err := ecdsa.SignASN1(rand.Reader, key, digest)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(der)
}

func TestVerifyJWS_RSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSigned(t, &key.PublicKey, key)

	p, err := CreateUnsignedJWS(cert, "idp-challenge", AlgorithmRSA)
	require.NoError(t, err)
	jws, err := Assemble(p, signRSA(t, key, p), AlgorithmRSA)
	require.NoError(t, err)

	require.NoError(t, ValidateJWS(jws))
	assert.NoError(t, VerifyJWS(jws))
}

func TestVerifyJWS_ECC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := selfSigned(t, &key.PublicKey, key)

	p, err := CreateUnsignedJWS(cert, "idp-challenge", AlgorithmECC)
	require.NoError(t, err)
	jws, err := Assemble(p, signECC(t, key, p), AlgorithmECC)
	require.NoError(t, err)

	require.NoError(t, ValidateJWS(jws))
	assert.NoError(t, VerifyJWS(jws))
}

func TestVerifyJWS_TamperedPayload(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := selfSigned(t, &key.PublicKey, key)

	p, err := CreateUnsignedJWS(cert, "idp-challenge", AlgorithmECC)
	require.NoError(t, err)
	jws, err := Assemble(p, signECC(t, key, p), AlgorithmECC)
	require.NoError(t, err)

	other, err := CreateUnsignedJWS(cert, "other-challenge", AlgorithmECC)
	require.NoError(t, err)
	tampered := strings.Replace(jws, p.Payload, other.Payload, 1)

	assert.NoError(t, ValidateJWS(tampered))
	assert.ErrorIs(t, VerifyJWS(tampered), ErrInvalidJWS)
}

func TestVerifyJWS_WrongKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	cert := selfSigned(t, &key.PublicKey, key)

	p, err := CreateUnsignedJWS(cert, "idp-challenge", AlgorithmRSA)
	require.NoError(t, err)
	jws, err := Assemble(p, signRSA(t, other, p), AlgorithmRSA)
	require.NoError(t, err)

	assert.ErrorIs(t, VerifyJWS(jws), ErrInvalidJWS)
}

func TestValidateJWS_Invalid(t *testing.T) {
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"njwt": "x"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noX5c, err := CreateUnsignedJWS("", "x", AlgorithmECC)
	require.NoError(t, err)

	tests := []struct {
		name string
		jws  string
	}{
		{"empty", ""},
		{"too long", strings.Repeat("a", MaxJWSLength+1)},
		{"two segments", "abc.def"},
		{"illegal characters", "ab+c.def.ghi"},
		{"garbage segments", "abc.def.ghi"},
		{"unsupported alg", hs},
		{"x5c not a certificate", noX5c.SigningInput() + ".c2ln"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateJWS(tt.jws), ErrInvalidJWS)
		})
	}
}

func TestSigningMethodBrainpool(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	m, ok := jwt.GetSigningMethod(AlgBP256R1).(*SigningMethodBrainpool)
	require.True(t, ok)
	assert.Equal(t, AlgBP256R1, m.Alg())

	sig, err := m.Sign("header.payload", key)
	require.NoError(t, err)
	assert.Len(t, sig, ECCSignatureLength)
	assert.NoError(t, m.Verify("header.payload", sig, &key.PublicKey))
	assert.ErrorIs(t, m.Verify("header.other", sig, &key.PublicKey), jwt.ErrSignatureInvalid)
	assert.ErrorIs(t, m.Verify("header.payload", sig[:10], &key.PublicKey), jwt.ErrSignatureInvalid)
	assert.ErrorIs(t, m.Verify("header.payload", sig, "not a key"), ErrInvalidKey)

	_, err = m.Sign("header.payload", "not a key")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestCertificateHelpers(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	eccCert := selfSigned(t, &ecKey.PublicKey, ecKey)
	rsaCert := selfSigned(t, &rsaKey.PublicKey, rsaKey)

	assert.NoError(t, ValidateCertificate(eccCert))
	assert.NoError(t, ValidateCertificate(rsaCert))
	assert.ErrorIs(t, ValidateCertificate("short"), ErrInvalidCertificate)
	assert.ErrorIs(t, ValidateCertificate(strings.Repeat("!", MinCertificateLength)), ErrInvalidCertificate)

	assert.NoError(t, CheckAlgorithm(eccCert, AlgorithmECC))
	assert.NoError(t, CheckAlgorithm(rsaCert, AlgorithmRSA))
	assert.ErrorIs(t, CheckAlgorithm(eccCert, AlgorithmRSA), ErrAlgorithmMismatch)
	assert.ErrorIs(t, CheckAlgorithm(rsaCert, AlgorithmECC), ErrAlgorithmMismatch)

	_, err = ParseCertificate(base64.StdEncoding.EncodeToString([]byte("not a certificate")))
	assert.ErrorIs(t, err, ErrInvalidCertificate)
}
