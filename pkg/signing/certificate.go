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
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/spilikin/go-brainpool"
)

// Bounds for a base64 card certificate as returned by ReadCardCertificate.
const (
	MinCertificateLength = 100
	MaxCertificateLength = 8000
)

// ValidateCertificate checks that cert looks like a base64 DER certificate.
func ValidateCertificate(cert string) error {
	if len(cert) < MinCertificateLength || len(cert) > MaxCertificateLength {
		return fmt.Errorf("%w: length %d", ErrInvalidCertificate, len(cert))
	}
	if _, err := decodeStd(cert); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	return nil
}

// ParseCertificate decodes a base64 DER card certificate. Brainpool
// certificates, which crypto/x509 rejects, are parsed with go-brainpool.
func ParseCertificate(cert string) (*x509.Certificate, error) {
	der, err := decodeStd(cert)
	if err != nil || len(der) == 0 {
		return nil, fmt.Errorf("%w: not base64 DER", ErrInvalidCertificate)
	}
	parsed, stdErr := x509.ParseCertificate(der)
	if stdErr == nil {
		return parsed, nil
	}
	parsed, bpErr := brainpool.ParseCertificate(der)
	if bpErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, errors.Join(stdErr, bpErr))
	}
	return parsed, nil
}

// AlgorithmOf returns the signature type matching the certificate key.
func AlgorithmOf(cert *x509.Certificate) (Algorithm, error) {
	switch cert.PublicKey.(type) {
	case *ecdsa.PublicKey:
		return AlgorithmECC, nil
	case *rsa.PublicKey:
		return AlgorithmRSA, nil
	}
	switch cert.PublicKeyAlgorithm {
	case x509.ECDSA:
		return AlgorithmECC, nil
	case x509.RSA:
		return AlgorithmRSA, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, cert.PublicKeyAlgorithm)
}

// CheckAlgorithm verifies that the key in cert matches alg.
func CheckAlgorithm(cert string, alg Algorithm) error {
	parsed, err := ParseCertificate(cert)
	if err != nil {
		return err
	}
	got, err := AlgorithmOf(parsed)
	if err != nil {
		return err
	}
	if got != alg {
		return fmt.Errorf("%w: certificate is %s, requested %s", ErrAlgorithmMismatch, got, alg)
	}
	return nil
}
