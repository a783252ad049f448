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

import "errors"

var (
	// ErrMissingParameter indicates a request field required by the envelope is empty
	ErrMissingParameter = errors.New("soap: missing parameter")

	// ErrUnexpectedResponse indicates a response without the expected elements
	ErrUnexpectedResponse = errors.New("soap: unexpected response")

	// ErrHTTPStatus indicates an HTTP error status without a SOAP fault
	ErrHTTPStatus = errors.New("soap: unexpected HTTP status")
)
