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
	"net/http"

	"github.com/jeremyhahn/go-konnektor/pkg/correlation"
)

// CorrelationMiddleware attaches a correlation ID to the request context and
// echoes it in the response. X-Correlation-ID is preferred over
// X-Request-ID; malformed values are replaced by a fresh ID.
func (s *Server) CorrelationMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := correlation.FromHeader(r.Header)
			if correlationID == "" {
				correlationID = correlation.NewID()
			}

			r = r.WithContext(correlation.WithCorrelationID(r.Context(), correlationID))
			w.Header().Set(correlation.CorrelationIDHeader, correlationID)

			next.ServeHTTP(w, r)
		})
	}
}
