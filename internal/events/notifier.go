// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package events

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultMailboxSize is the per-subscriber buffer.
const DefaultMailboxSize = 64

// Handler receives events on a subscriber's own goroutine.
type Handler func(ctx context.Context, event Event)

// Option configures a Notifier.
type Option func(*Notifier)

// WithMailboxSize sets the per-subscriber buffer.
func WithMailboxSize(n int) Option {
	return func(nt *Notifier) {
		if n > 0 {
			nt.mailbox = n
		}
	}
}

// WithOnDrop registers a callback invoked whenever an event is dropped
// because a subscriber's mailbox is full.
func WithOnDrop(fn func(Event)) Option {
	return func(nt *Notifier) {
		nt.onDrop = fn
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(nt *Notifier) {
		if now != nil {
			nt.now = now
		}
	}
}

// Notifier fans events out to pattern subscribers. Delivery is
// best-effort: each subscriber has a bounded mailbox, a full mailbox drops
// the event for that subscriber only, and a panicking handler is isolated.
type Notifier struct {
	log     *slog.Logger
	mailbox int
	onDrop  func(Event)
	now     func() time.Time

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewNotifier creates a Notifier.
func NewNotifier(logger *slog.Logger, opts ...Option) (*Notifier, error) {
	if logger == nil {
		return nil, oops.Code("EVENTS_INVALID_CONFIG").Errorf("logger is required")
	}
	n := &Notifier{
		log:     logger,
		mailbox: DefaultMailboxSize,
		now:     time.Now,
		subs:    make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Subscription is a registered interest in a set of event names.
type Subscription struct {
	pattern string
	matcher glob.Glob
	ch      chan Event
	n       *Notifier
	once    sync.Once
}

// Pattern returns the glob the subscription was created with.
func (s *Subscription) Pattern() string {
	return s.pattern
}

// Unsubscribe stops delivery. Events already queued are still handed to
// the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.n.remove(s)
}

// Subscribe registers handler for every event whose name matches pattern.
// Patterns use '.' as separator: "user.*" matches "user.registered" and
// "user.**" matches every user event.
func (n *Notifier) Subscribe(pattern string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, oops.Code("EVENTS_INVALID_HANDLER").With("pattern", pattern).Errorf("handler is required")
	}
	sub, err := n.add(pattern)
	if err != nil {
		return nil, err
	}

	n.wg.Add(1)
	go n.run(sub, handler)
	return sub, nil
}

// SubscribeChan returns a channel receiving every event matching pattern.
// The channel is closed on Unsubscribe or Close.
func (n *Notifier) SubscribeChan(pattern string) (<-chan Event, *Subscription, error) {
	sub, err := n.add(pattern)
	if err != nil {
		return nil, nil, err
	}
	return sub.ch, sub, nil
}

func (n *Notifier) add(pattern string) (*Subscription, error) {
	matcher, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, oops.Code("EVENTS_INVALID_PATTERN").With("pattern", pattern).Wrap(err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, oops.Code("EVENTS_CLOSED").Errorf("notifier is closed")
	}
	sub := &Subscription{
		pattern: pattern,
		matcher: matcher,
		ch:      make(chan Event, n.mailbox),
		n:       n,
	}
	n.subs[sub] = struct{}{}
	return sub, nil
}

func (n *Notifier) remove(sub *Subscription) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[sub]; !ok {
		return
	}
	delete(n.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}

func (n *Notifier) run(sub *Subscription, handler Handler) {
	defer n.wg.Done()
	for event := range sub.ch {
		n.deliver(sub, handler, event)
	}
}

func (n *Notifier) deliver(sub *Subscription, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			n.log.Error("event handler panicked",
				"event", string(event.Name),
				"pattern", sub.pattern,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()
	handler(context.Background(), event)
}

// Publish delivers an event to every matching subscriber without blocking.
// Publishing after Close is a no-op.
func (n *Notifier) Publish(_ context.Context, name Name, payload Payload) {
	event := Event{
		ID:      ulid.Make(),
		Name:    name,
		Payload: payload,
		At:      n.now(),
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for sub := range n.subs {
		if !sub.matcher.Match(string(name)) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			n.log.Warn("event dropped: subscriber mailbox full",
				"event", string(name),
				"event_id", event.ID.String(),
				"pattern", sub.pattern,
			)
			if n.onDrop != nil {
				n.onDrop(event)
			}
		}
	}
}

// Close unsubscribes everyone and waits for handlers to finish their
// queued events.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for sub := range n.subs {
		delete(n.subs, sub)
		sub.once.Do(func() { close(sub.ch) })
	}
	n.mu.Unlock()

	n.wg.Wait()
}

var _ Publisher = (*Notifier)(nil)
