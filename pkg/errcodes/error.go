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

package errcodes

import (
	"errors"
	"fmt"
	"strings"
)

// Candidate is a card offered to the user when more than one card of the
// requested type is inserted.
type Candidate struct {
	CardType       string `json:"card_type"`
	CardHandle     string `json:"card_handle"`
	CtID           string `json:"ct_id"`
	SlotID         string `json:"slot_id"`
	ICCSN          string `json:"iccsn"`
	CardHolderName string `json:"card_holder_name,omitempty"`
}

// Details is the structured payload callers use to render a specific message.
type Details struct {
	FaultCode  string      `json:"fault_code,omitempty"`
	CardType   string      `json:"card_type,omitempty"`
	Terminal   string      `json:"terminal,omitempty"`
	FoundCards []Candidate `json:"found_cards,omitempty"`
}

// Error is a catalog error. The zero value is not usable; build one with New,
// Wrap or Fault.
type Error struct {
	code     Code
	messages []string
	cause    error
	details  Details
}

// New creates an error for code.
func New(code Code) *Error {
	return &Error{code: code}
}

// Wrap returns err unchanged when it already is (or wraps) an *Error, and
// otherwise wraps it under code.
func Wrap(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(code).WithCause(err)
}

// Fault builds the error for a connector fault code.
func Fault(faultCode string) *Error {
	e := New(FromFault(faultCode))
	e.details.FaultCode = faultCode
	return e
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	entry := Lookup(e.code)
	fmt.Fprintf(&b, "%s: %s", e.code, entry.Description)
	for i := len(e.messages) - 1; i >= 0; i-- {
		b.WriteString(": ")
		b.WriteString(e.messages[i])
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches other *Error values by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.code == t.code
}

// AppendMessage adds a descriptive message. Later messages are printed first.
func (e *Error) AppendMessage(msg string) *Error {
	if e == nil {
		return nil
	}
	e.messages = append(e.messages, msg)
	return e
}

// WithCause sets the low-level cause.
func (e *Error) WithCause(err error) *Error {
	if e == nil {
		return nil
	}
	e.cause = err
	return e
}

// WithCardType records the card type the error refers to.
func (e *Error) WithCardType(cardType string) *Error {
	if e == nil {
		return nil
	}
	e.details.CardType = cardType
	return e
}

// WithTerminal records the card terminal id the error refers to.
func (e *Error) WithTerminal(ctID string) *Error {
	if e == nil {
		return nil
	}
	e.details.Terminal = ctID
	return e
}

// WithFoundCards records the candidates of a multi-card situation.
func (e *Error) WithFoundCards(cards []Candidate) *Error {
	if e == nil {
		return nil
	}
	e.details.FoundCards = cards
	return e
}

// Code returns the catalog code.
func (e *Error) Code() Code {
	if e == nil {
		return ""
	}
	return e.code
}

// Class returns the catalog class of the code.
func (e *Error) Class() Class {
	return ClassOf(e.Code())
}

// Details returns the structured details.
func (e *Error) Details() Details {
	if e == nil {
		return Details{}
	}
	return e.details
}

// Messages returns the appended messages in insertion order.
func (e *Error) Messages() []string {
	if e == nil {
		return nil
	}
	return e.messages
}

// CodeOf extracts the catalog code from err, or "" if err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return ""
}

// IsHint reports whether err is a hint rather than an error.
func IsHint(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class() == ClassHint
}
