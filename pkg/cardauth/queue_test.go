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
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/go-konnektor/pkg/adapters/logger"
	"github.com/jeremyhahn/go-konnektor/pkg/errcodes"
	"github.com/jeremyhahn/go-konnektor/pkg/soap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsInOrder(t *testing.T) {
	q := NewQueue(8, logger.Nop())
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), func(context.Context) error {
			close(started)
			<-block
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-started

	for i := 1; i <= 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(context.Background(), func(context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		require.Eventually(t, func() bool { return q.Len() == i }, time.Second, time.Millisecond)
	}

	close(block)
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ReturnsJobError(t *testing.T) {
	q := NewQueue(0, nil)
	defer q.Close()

	want := errors.New("boom")
	assert.ErrorIs(t, q.Do(context.Background(), func(context.Context) error { return want }), want)
}

func TestQueue_CancelWhileWaiting(t *testing.T) {
	q := NewQueue(4, logger.Nop())
	defer q.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), func(context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	ran := false
	done := make(chan error, 1)
	go func() {
		done <- q.Do(ctx, func(context.Context) error {
			ran = true
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-done
	assert.Equal(t, errcodes.Cancelled, errcodes.CodeOf(err))

	close(block)
	require.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)
	assert.False(t, ran)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue(1, logger.Nop())
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Do(context.Background(), func(context.Context) error { return nil }), ErrQueueClosed)
}

func TestQueuedAuthenticator(t *testing.T) {
	q := NewQueue(2, logger.Nop())
	defer q.Close()

	fc := newFakeConnector(t)
	qa := NewQueued(newTestAuthenticator(fc, nil, Options{}), q)

	results, err := qa.Authenticate(context.Background(), Request{CardType: soap.CardTypeHBA, Challenge: "c"})
	require.NoError(t, err)
	assert.Len(t, results, 1)

	_, err = qa.Authenticate(context.Background(), Request{CardType: "eGK", Challenge: "c"})
	assert.Equal(t, errcodes.InvalidLauncherParameter, errcodes.CodeOf(err))
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore()

	_, ok := s.Get(soap.CardTypeHBA)
	assert.False(t, ok)

	s.commit(CardSession{CardType: soap.CardTypeSMCB, CardHandle: "S"})
	s.commit(CardSession{CardType: soap.CardTypeHBA, CardHandle: "H"})
	assert.Equal(t, 2, s.Writes())

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, soap.CardTypeHBA, all[0].CardType)

	release, err := s.acquire(soap.CardTypeHBA)
	require.NoError(t, err)
	_, err = s.acquire(soap.CardTypeHBA)
	assert.ErrorIs(t, err, ErrCardTypeBusy)
	release()
	release2, err := s.acquire(soap.CardTypeHBA)
	require.NoError(t, err)
	release2()

	s.Clear(soap.CardTypeHBA)
	_, ok = s.Get(soap.CardTypeHBA)
	assert.False(t, ok)

	s.Reset()
	assert.Empty(t, s.All())
	assert.Equal(t, 2, s.Writes())
}

func TestHeadless(t *testing.T) {
	hint := &MultiCardHint{CardType: soap.CardTypeHBA, Cards: []soap.Card{{CardHandle: "a"}, {CardHandle: "b"}}}
	_, err := Headless{}.SelectCard(context.Background(), hint)
	assert.Same(t, hint, err)
	assert.NoError(t, Headless{}.PromptPin(context.Background(), nil))
	assert.Equal(t, "2 HBA cards found", hint.Error())
}
