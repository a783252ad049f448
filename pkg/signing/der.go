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
	"encoding/base64"
	"strings"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// minDERLength is the shortest SEQUENCE{INTEGER, INTEGER} with one byte each
// plus room for the smallest real signature headers.
const minDERLength = 8

// ConvertDERToConcatenated converts a base64url DER ECDSA signature
// SEQUENCE{INTEGER r, INTEGER s} into base64url(r||s), each integer left
// padded to outputLength/2 bytes.
func ConvertDERToConcatenated(derBase64URL string, outputLength int) (string, error) {
	if outputLength <= 0 || outputLength%2 != 0 {
		return "", ErrInvalidOutputLength
	}
	der, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(derBase64URL, "="))
	if err != nil {
		return "", ErrInvalidECDSASignature
	}
	if len(der) < minDERLength || der[0] != 0x30 {
		return "", ErrInvalidECDSASignature
	}

	var seq, r, s cryptobyte.String
	in := cryptobyte.String(der)
	if !in.ReadASN1(&seq, asn1.SEQUENCE) || !in.Empty() {
		return "", ErrInvalidECDSASignature
	}
	if !seq.ReadASN1(&r, asn1.INTEGER) || !seq.ReadASN1(&s, asn1.INTEGER) || !seq.Empty() {
		return "", ErrInvalidECDSASignature
	}

	half := outputLength / 2
	rb, ok := fixedWidth(r, half)
	if !ok {
		return "", ErrInvalidECDSASignature
	}
	sb, ok := fixedWidth(s, half)
	if !ok {
		return "", ErrInvalidECDSASignature
	}

	out := make([]byte, 0, outputLength)
	out = append(out, rb...)
	out = append(out, sb...)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// fixedWidth strips leading zero bytes from an INTEGER body and left pads it to
// width. It fails for empty integers and values wider than width.
func fixedWidth(v []byte, width int) ([]byte, bool) {
	if len(v) == 0 {
		return nil, false
	}
	i := 0
	for i < len(v) && v[i] == 0 {
		i++
	}
	v = v[i:]
	if len(v) > width {
		return nil, false
	}
	out := make([]byte, width)
	copy(out[width-len(v):], v)
	return out, true
}
