// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package events_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gatehouse/gatehouse/internal/events"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newNotifier(t *testing.T, opts ...events.Option) *events.Notifier {
	t.Helper()
	n, err := events.NewNotifier(discard(), opts...)
	require.NoError(t, err)
	return n
}

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return events.Event{}
	}
}

func assertNothing(t *testing.T, ch <-chan events.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Name)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestNameIsFailure(t *testing.T) {
	assert.True(t, events.LoginFailed.IsFailure())
	assert.True(t, events.PasswordResetRequestFailed.IsFailure())
	assert.False(t, events.UserLoggedIn.IsFailure())
	assert.False(t, events.PasswordResetRequested.IsFailure())
	assert.Equal(t, "auth.token.refreshed", events.TokenRefreshed.String())
}

func TestNewNotifierRequiresLogger(t *testing.T) {
	_, err := events.NewNotifier(nil)
	errutil.AssertErrorCode(t, err, "EVENTS_INVALID_CONFIG")
}

func TestSubscribeChanDeliversMatchingEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	n := newNotifier(t, events.WithClock(func() time.Time { return at }))
	defer n.Close()

	ch, sub, err := n.SubscribeChan("user.*")
	require.NoError(t, err)
	assert.Equal(t, "user.*", sub.Pattern())

	n.Publish(context.Background(), events.UserRegistered, events.Payload{UserID: "u1", Email: "a@example.com"})
	ev := receive(t, ch)
	assert.Equal(t, events.UserRegistered, ev.Name)
	assert.Equal(t, "u1", ev.Payload.UserID)
	assert.Equal(t, "a@example.com", ev.Payload.Email)
	assert.Equal(t, at, ev.At)
	assert.NotZero(t, ev.ID)

	// '*' does not cross a separator.
	n.Publish(context.Background(), events.PasswordResetRequested, events.Payload{Email: "a@example.com"})
	n.Publish(context.Background(), events.TokenRefreshed, events.Payload{UserID: "u1"})
	assertNothing(t, ch)
}

func TestPatterns(t *testing.T) {
	tests := []struct {
		pattern string
		name    events.Name
		want    bool
	}{
		{"user.**", events.PasswordResetCompleted, true},
		{"**.failed", events.LoginFailed, true},
		{"**.failed", events.UserLoggedIn, false},
		{"**", events.TokenRefreshed, true},
		{"auth.token.*", events.TokenRefreshed, true},
		{"user.{loggedin,loggedout}", events.UserLoggedOut, true},
		{"user.{loggedin,loggedout}", events.UserRegistered, false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+string(tt.name), func(t *testing.T) {
			n := newNotifier(t)
			defer n.Close()

			ch, _, err := n.SubscribeChan(tt.pattern)
			require.NoError(t, err)
			n.Publish(context.Background(), tt.name, events.Payload{})
			if tt.want {
				assert.Equal(t, tt.name, receive(t, ch).Name)
			} else {
				assertNothing(t, ch)
			}
		})
	}
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	n := newNotifier(t)
	defer n.Close()

	_, _, err := n.SubscribeChan("user.[")
	errutil.AssertErrorCode(t, err, "EVENTS_INVALID_PATTERN")

	_, err = n.Subscribe("user.*", nil)
	errutil.AssertErrorCode(t, err, "EVENTS_INVALID_HANDLER")
}

func TestHandlerReceivesEventsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := newNotifier(t)

	var mu sync.Mutex
	var got []events.Name
	_, err := n.Subscribe("**", func(_ context.Context, ev events.Event) {
		mu.Lock()
		got = append(got, ev.Name)
		mu.Unlock()
	})
	require.NoError(t, err)

	n.Publish(context.Background(), events.UserRegistered, events.Payload{})
	n.Publish(context.Background(), events.UserLoggedIn, events.Payload{})
	n.Publish(context.Background(), events.UserLoggedOut, events.Payload{})

	// Close drains queued events before returning.
	n.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Name{events.UserRegistered, events.UserLoggedIn, events.UserLoggedOut}, got)
}

func TestPanickingHandlerIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := newNotifier(t)

	_, err := n.Subscribe("user.*", func(context.Context, events.Event) {
		panic("boom")
	})
	require.NoError(t, err)
	ch, _, err := n.SubscribeChan("user.*")
	require.NoError(t, err)

	n.Publish(context.Background(), events.UserLoggedIn, events.Payload{UserID: "u1"})
	n.Publish(context.Background(), events.UserLoggedOut, events.Payload{UserID: "u1"})

	assert.Equal(t, events.UserLoggedIn, receive(t, ch).Name)
	assert.Equal(t, events.UserLoggedOut, receive(t, ch).Name)
	n.Close()
}

func TestFullMailboxDropsWithoutBlocking(t *testing.T) {
	var mu sync.Mutex
	var dropped []events.Name
	n := newNotifier(t,
		events.WithMailboxSize(1),
		events.WithOnDrop(func(ev events.Event) {
			mu.Lock()
			dropped = append(dropped, ev.Name)
			mu.Unlock()
		}),
	)
	defer n.Close()

	slow, _, err := n.SubscribeChan("**")
	require.NoError(t, err)
	fast, _, err := n.SubscribeChan("**")
	require.NoError(t, err)

	n.Publish(context.Background(), events.UserLoggedIn, events.Payload{})
	assert.Equal(t, events.UserLoggedIn, receive(t, fast).Name)

	n.Publish(context.Background(), events.UserLoggedOut, events.Payload{})
	assert.Equal(t, events.UserLoggedOut, receive(t, fast).Name)

	assert.Equal(t, events.UserLoggedIn, receive(t, slow).Name)
	assertNothing(t, slow)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.Name{events.UserLoggedOut}, dropped)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	n := newNotifier(t)
	defer n.Close()

	ch, sub, err := n.SubscribeChan("**")
	require.NoError(t, err)
	sub.Unsubscribe()
	sub.Unsubscribe()

	_, ok := <-ch
	assert.False(t, ok)

	n.Publish(context.Background(), events.UserLoggedIn, events.Payload{})
}

func TestCloseIsIdempotentAndStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := newNotifier(t)
	ch, _, err := n.SubscribeChan("**")
	require.NoError(t, err)

	n.Close()
	n.Close()

	_, ok := <-ch
	assert.False(t, ok)

	n.Publish(context.Background(), events.UserLoggedIn, events.Payload{})

	_, _, err = n.SubscribeChan("**")
	errutil.AssertErrorCode(t, err, "EVENTS_CLOSED")
}

func TestPublisherFunc(t *testing.T) {
	var got events.Name
	var p events.Publisher = events.PublisherFunc(func(_ context.Context, name events.Name, _ events.Payload) {
		got = name
	})
	p.Publish(context.Background(), events.EmailVerified, events.Payload{})
	assert.Equal(t, events.EmailVerified, got)
}
