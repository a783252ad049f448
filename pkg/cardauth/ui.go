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

package cardauth

import (
	"context"
	"fmt"

	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// UI is implemented by the surrounding application. Every callback receives
// the attempt context and must return once it is done.
type UI interface {
	// SelectCard picks one of the candidates of a multi-card hint. Returning
	// ErrCancelled aborts the attempt.
	SelectCard(ctx context.Context, hint *MultiCardHint) (soap.Card, error)

	// PromptPin tells the user to enter the PIN at the card terminal. It is
	// called right before VerifyPin blocks on the terminal.
	PromptPin(ctx context.Context, prompt *errcodes.Error) error

	// Notify shows a hint or warning that does not need an answer.
	Notify(ctx context.Context, notice *errcodes.Error)
}

// MultiCardHint reports more than one inserted card of the requested type.
// It unwraps to the AUTHCL_1105 hint carrying the candidates.
type MultiCardHint struct {
	CardType soap.CardType
	Cards    []soap.Card
}

// Error implements error.
func (h *MultiCardHint) Error() string {
	return fmt.Sprintf("%d %s cards found", len(h.Cards), h.CardType)
}

// Unwrap returns the catalog hint.
func (h *MultiCardHint) Unwrap() error {
	return errcodes.New(errcodes.MultipleCards).
		WithCardType(string(h.CardType)).
		WithFoundCards(Candidates(h.Cards))
}

// Candidates converts cards to the catalog's candidate list.
func Candidates(cards []soap.Card) []errcodes.Candidate {
	out := make([]errcodes.Candidate, 0, len(cards))
	for _, c := range cards {
		out = append(out, errcodes.Candidate{
			CardType:       string(c.CardType),
			CardHandle:     c.CardHandle,
			CtID:           c.CtID,
			SlotID:         c.SlotID,
			ICCSN:          c.ICCSN,
			CardHolderName: c.CardHolderName,
		})
	}
	return out
}

// Headless is the UI of callers that cannot ask the user. A multi-card hint
// is returned to the caller, which retries with an explicit card handle.
type Headless struct{}

// SelectCard returns the hint as error.
func (Headless) SelectCard(_ context.Context, hint *MultiCardHint) (soap.Card, error) {
	return soap.Card{}, hint
}

// PromptPin does nothing; the terminal shows its own prompt.
func (Headless) PromptPin(context.Context, *errcodes.Error) error { return nil }

// Notify does nothing.
func (Headless) Notify(context.Context, *errcodes.Error) {}
