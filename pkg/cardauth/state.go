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

// Package cardauth drives a card through terminal discovery, card handle
// acquisition, PIN checks, certificate retrieval and challenge signing.
package cardauth

import (
	"errors"

	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// State is a step of an authentication attempt.
type State int

// Attempt states in execution order. StateError is reachable from any state.
const (
	StateDiscoverTerminals State = iota
	StateAcquireCardHandle
	StateCheckPinStatus
	StateVerifyPin
	StateReadCertificate
	StateSignChallenge
	StateDone
	StateError
)

var stateNames = [...]string{
	"DiscoverTerminals",
	"AcquireCardHandle",
	"CheckPinStatus",
	"VerifyPin",
	"ReadCertificate",
	"SignChallenge",
	"Done",
	"Error",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// CardTypeMulti requests HBA and SMC-B in one attempt.
const CardTypeMulti soap.CardType = "MULTI"

var (
	// ErrCardTypeBusy is returned while another attempt for the same card type runs
	ErrCardTypeBusy = errors.New("cardauth: card type busy")

	// ErrCancelled is returned by UI callbacks when the user aborts
	ErrCancelled = errors.New("cardauth: cancelled")

	// ErrQueueClosed is returned when submitting to a stopped queue
	ErrQueueClosed = errors.New("cardauth: queue closed")

	// ErrUnknownCard is returned when a selected card is not among the candidates
	ErrUnknownCard = errors.New("cardauth: card not among candidates")
)
