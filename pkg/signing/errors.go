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

import "errors"

var (
	// ErrInvalidECDSASignature is returned for anything that is not a DER
	// SEQUENCE of two INTEGERs fitting the requested output length.
	ErrInvalidECDSASignature = errors.New("Invalid format of ECDSA signature")

	// ErrInvalidOutputLength indicates a non-positive or odd raw signature length
	ErrInvalidOutputLength = errors.New("signing: invalid output length")

	// ErrUnsupportedAlgorithm indicates an unknown signature algorithm
	ErrUnsupportedAlgorithm = errors.New("signing: unsupported signature algorithm")

	// ErrInvalidSignature indicates the connector signature is not valid base64
	ErrInvalidSignature = errors.New("signing: invalid base64 signature")

	// ErrInvalidJWS indicates an assembled JWS is malformed
	ErrInvalidJWS = errors.New("signing: invalid JWS")

	// ErrInvalidCertificate indicates a card certificate that cannot be used
	ErrInvalidCertificate = errors.New("signing: invalid certificate")

	// ErrAlgorithmMismatch indicates the certificate key does not match the
	// requested signature type
	ErrAlgorithmMismatch = errors.New("signing: certificate key does not match signature type")

	// ErrInvalidKey indicates an unusable key for the signing method
	ErrInvalidKey = errors.New("signing: invalid key type")
)
