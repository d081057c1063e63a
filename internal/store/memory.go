package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Memory keeps records in process. It backs tests and single-instance
// deployments without a database.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]Document
	hub  *Hub
	now  func() time.Time
}

func NewMemory(broker Broker, log *zap.Logger) *Memory {
	m := &Memory{
		docs: make(map[string]Document),
		now:  func() time.Time { return time.Now().UTC() },
	}
	m.hub = NewHub(m, broker, log)
	return m
}

// Hub exposes the change hub so the caller can Run it against a broker.
func (m *Memory) Hub() *Hub {
	return m.hub
}

func (m *Memory) Create(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	if _, ok := m.docs[doc.ID]; ok {
		m.mu.Unlock()
		return ErrAlreadyExists
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = m.now()
	}
	doc.Version = 1
	m.docs[doc.ID] = doc.Clone()
	m.mu.Unlock()

	m.hub.Publish(ctx, Change{ID: doc.ID, Owner: doc.Owner})
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := doc.Clone()
	return &out, nil
}

func (m *Memory) Update(ctx context.Context, id string, fields Fields) (*Document, error) {
	return m.update(ctx, id, fields, nil)
}

func (m *Memory) UpdateVersion(ctx context.Context, id string, version int64, fields Fields) (*Document, error) {
	return m.update(ctx, id, fields, &version)
}

func (m *Memory) update(ctx context.Context, id string, fields Fields, version *int64) (*Document, error) {
	m.mu.Lock()
	doc, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if version != nil && doc.Version != *version {
		m.mu.Unlock()
		return nil, ErrVersionConflict
	}
	fields.Apply(&doc)
	doc.UpdatedAt = m.now()
	doc.Version++
	m.docs[id] = doc
	out := doc.Clone()
	m.mu.Unlock()

	m.hub.Publish(ctx, Change{ID: id, Owner: doc.Owner})
	return &out, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	doc, ok := m.docs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.docs, id)
	m.mu.Unlock()

	m.hub.Publish(ctx, Change{ID: id, Owner: doc.Owner})
	return nil
}

// List returns matches ordered by most recently updated first.
func (m *Memory) List(_ context.Context, filter Filter) ([]Document, error) {
	m.mu.RLock()
	out := make([]Document, 0)
	for _, doc := range m.docs {
		if filter.Matches(&doc) {
			out = append(out, doc.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, filter Filter) (*Subscription, error) {
	return m.hub.Subscribe(ctx, filter)
}
