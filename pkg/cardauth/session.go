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
	"sort"
	"sync"

	"github.com/jeremyhahn/go-konnektor/pkg/metrics"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
)

// CardSession is the state kept for one card type after a successful attempt.
type CardSession struct {
	CardType       soap.CardType  `json:"card_type"`
	CardHandle     string         `json:"card_handle"`
	CtID           string         `json:"ct_id"`
	SlotID         string         `json:"slot_id"`
	ICCSN          string         `json:"iccsn"`
	CardHolderName string         `json:"card_holder_name,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Certificate    string         `json:"certificate"`
	PinStatus      soap.PinStatus `json:"pin_status"`
}

// SessionStore holds one CardSession per card type. A session is written
// once, at the end of an attempt, and only by the attempt holding the card
// type.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[soap.CardType]CardSession
	inflight map[soap.CardType]bool
	writes   int
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[soap.CardType]CardSession),
		inflight: make(map[soap.CardType]bool),
	}
}

// Get returns the session for cardType.
func (s *SessionStore) Get(cardType soap.CardType) (CardSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.sessions[cardType]
	return cs, ok
}

// All returns every session ordered by card type.
func (s *SessionStore) All() []CardSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CardSession, 0, len(s.sessions))
	for _, cs := range s.sessions {
		out = append(out, cs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CardType < out[j].CardType })
	return out
}

// Clear drops the session for cardType.
func (s *SessionStore) Clear(cardType soap.CardType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, cardType)
	metrics.SetCardSession(string(cardType), false)
}

// Reset drops every session.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ct := range s.sessions {
		metrics.SetCardSession(string(ct), false)
	}
	s.sessions = make(map[soap.CardType]CardSession)
}

// Writes returns the number of committed sessions since creation.
func (s *SessionStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// acquire marks cardType in flight. The returned func releases it.
func (s *SessionStore) acquire(cardType soap.CardType) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[cardType] {
		return nil, ErrCardTypeBusy
	}
	s.inflight[cardType] = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.inflight, cardType)
	}, nil
}

func (s *SessionStore) commit(cs CardSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cs.CardType] = cs
	s.writes++
	metrics.SetCardSession(string(cs.CardType), true)
}
