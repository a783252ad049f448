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

// Package rest serves the local authentication API.
//
// A caller holding an IDP challenge asks the API to sign it with an inserted
// card. The server drives the connector through the card authenticator and
// answers with the signed JWS, or with the IDP redirect when it fetched the
// challenge itself.
//
// # API Endpoints
//
// Authentication:
//   - POST /api/v1/authenticate - Sign a challenge with HBA, SMC-B or MULTI
//
// Connector:
//   - GET /api/v1/terminals - List card terminals
//   - GET /api/v1/cards?type=HBA - List inserted cards of a type
//
// Sessions:
//   - GET /api/v1/sessions - List card sessions of completed attempts
//   - DELETE /api/v1/sessions/{cardType} - Drop a card session (MULTI drops all)
//
// Health:
//   - GET /health/live - Liveness, never touches the connector
//   - GET /health/ready - Function tests against connector, cards and IDPs
//
// Errors are JSON objects carrying the AUTHCL code, its class and the
// structured details of the failure. A request that found several cards of
// the requested type answers 409 with the candidates; the caller repeats the
// request with one of their card handles.
package rest
