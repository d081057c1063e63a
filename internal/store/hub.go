package store

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Change announces that a record was written or removed.
type Change struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
}

// Broker carries changes between server instances.
type Broker interface {
	Publish(ctx context.Context, change Change) error
	// Listen calls handle for every change published by any instance until ctx is done.
	Listen(ctx context.Context, handle func(Change)) error
}

// Snapshot is the full set of records matching a subscription's filter.
// For an ID filter it holds zero (removed) or one record.
type Snapshot struct {
	Documents []Document
}

// Document returns the single record of an ID subscription.
func (s Snapshot) Document() (*Document, bool) {
	if len(s.Documents) == 0 {
		return nil, false
	}
	d := s.Documents[0]
	return &d, true
}

type Lister interface {
	List(ctx context.Context, filter Filter) ([]Document, error)
}

// Hub turns changes into snapshots for the subscriptions they affect.
// Without a broker, Publish dispatches inline.
type Hub struct {
	lister Lister
	broker Broker
	log    *zap.Logger

	mu   sync.RWMutex
	subs map[*Subscription]struct{}
	taps []func(context.Context, Change)
}

func NewHub(lister Lister, broker Broker, log *zap.Logger) *Hub {
	return &Hub{
		lister: lister,
		broker: broker,
		log:    log,
		subs:   make(map[*Subscription]struct{}),
	}
}

func (h *Hub) Publish(ctx context.Context, change Change) {
	if h.broker == nil {
		h.Dispatch(ctx, change)
		return
	}
	if err := h.broker.Publish(ctx, change); err != nil {
		h.log.Warn("publish change failed", zap.String("document_id", change.ID), zap.Error(err))
	}
}

// Run consumes the broker until ctx is done. It is a no-op without a broker.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}
	return h.broker.Listen(ctx, func(c Change) {
		h.Dispatch(ctx, c)
	})
}

// Tap registers fn to see every dispatched change before subscriptions reload.
func (h *Hub) Tap(fn func(context.Context, Change)) {
	h.mu.Lock()
	h.taps = append(h.taps, fn)
	h.mu.Unlock()
}

func (h *Hub) Dispatch(ctx context.Context, change Change) {
	h.mu.RLock()
	taps := h.taps
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		if sub.filter.matchesChange(change) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, fn := range taps {
		fn(ctx, change)
	}
	for _, sub := range targets {
		docs, err := h.lister.List(ctx, sub.filter)
		if err != nil {
			h.log.Warn("reload subscription failed", zap.String("document_id", change.ID), zap.Error(err))
			continue
		}
		sub.offer(Snapshot{Documents: docs})
	}
}

// Subscribe registers first and then delivers the current set, so a change
// racing the initial read is delivered again rather than lost.
func (h *Hub) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	ch := make(chan Snapshot, 1)
	sub := &Subscription{C: ch, ch: ch, filter: filter, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	docs, err := h.lister.List(ctx, filter)
	if err != nil {
		sub.Close()
		return nil, err
	}
	sub.offer(Snapshot{Documents: docs})
	return sub, nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

// Subscription holds at most one undelivered snapshot. A newer one replaces it.
type Subscription struct {
	C <-chan Snapshot

	ch     chan Snapshot
	filter Filter
	hub    *Hub

	mu     sync.Mutex
	closed bool
}

func (s *Subscription) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.ch:
	default:
	}
	s.ch <- snap
}

// Close stops delivery and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.hub.remove(s)
	close(s.ch)
}
