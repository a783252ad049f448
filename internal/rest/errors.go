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

package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/jeremyhahn/go-konnektor/pkg/cardauth"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
)

// Common errors
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrNotConfigured  = errors.New("not configured")
)

// writeError writes a plain error response.
func writeError(w http.ResponseWriter, err error, statusCode int) {
	writeJSON(w, ErrorResponse{Error: err.Error(), Status: statusCode}, statusCode)
}

// writeErrorWithMessage writes an error response with a custom message.
func writeErrorWithMessage(w http.ResponseWriter, err error, message string, statusCode int) {
	writeJSON(w, ErrorResponse{Error: err.Error(), Message: message, Status: statusCode}, statusCode)
}

// statusFor maps a catalog error to an HTTP status.
func statusFor(e *errcodes.Error) int {
	switch e.Code() {
	case errcodes.InvalidLauncherParameter, errcodes.InvalidRedirectURI:
		return http.StatusBadRequest
	case errcodes.MultipleCards:
		return http.StatusConflict
	case errcodes.CardSessionBusy:
		return http.StatusLocked
	case errcodes.Cancelled, errcodes.ConnectorPinCancelled:
		return http.StatusRequestTimeout
	case errcodes.ConnectorUnreachable:
		return http.StatusServiceUnavailable
	case errcodes.IdpError, errcodes.AuthResponseInvalid, errcodes.UnexpectedHTTPStatus:
		return http.StatusBadGateway
	}
	if e.Details().FaultCode != "" {
		return http.StatusBadGateway
	}
	switch e.Class() {
	case errcodes.ClassWarning:
		return http.StatusUnprocessableEntity
	case errcodes.ClassHint:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// handleError maps err to a status code and writes the catalog response.
// Errors outside the catalog are reported as AUTHCL_1116.
func handleError(w http.ResponseWriter, err error) {
	if errors.Is(err, cardauth.ErrQueueClosed) {
		writeError(w, err, http.StatusServiceUnavailable)
		return
	}
	e := errcodes.Wrap(err, errcodes.UnknownConnectorError)
	entry := errcodes.Lookup(e.Code())
	statusCode := statusFor(e)
	writeJSON(w, ErrorResponse{
		Error:       err.Error(),
		Code:        string(e.Code()),
		Class:       e.Class().String(),
		Description: entry.Description,
		Messages:    e.Messages(),
		Details:     detailsOrNil(e.Details()),
		Status:      statusCode,
	}, statusCode)
}

func detailsOrNil(d errcodes.Details) *errcodes.Details {
	if d.FaultCode == "" && d.CardType == "" && d.Terminal == "" && len(d.FoundCards) == 0 {
		return nil
	}
	return &d
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
