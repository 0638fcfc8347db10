// Package memory provides an in-memory implementation of audit.Store for
// testing and lightweight deployments. Records are lost when the process
// restarts. Optional LRU eviction limits memory usage.
package memory

import (
	"container/list"
	"context"
	"sort"
	"sync"

	"github.com/rhuss/starbox/pkg/audit"
)

// entry holds a stored record and its position in the LRU list.
type entry struct {
	rec     *audit.Record
	lruElem *list.Element
}

// Store is an in-memory audit.Store with optional LRU eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	lruList *list.List // front = most recently used, back = least recently used
	maxSize int        // 0 = unlimited
}

// Ensure Store implements audit.Store at compile time.
var _ audit.Store = (*Store)(nil)

// New creates a new in-memory store. If maxSize is 0, the store grows
// without limit. If maxSize > 0, the least recently used record is evicted
// when the limit is reached.
func New(maxSize int) *Store {
	return &Store{
		entries: make(map[string]*entry),
		lruList: list.New(),
		maxSize: maxSize,
	}
}

// Save stores a copy of rec. The tenant in the context overrides rec.Tenant.
func (s *Store) Save(ctx context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[rec.ID]; exists {
		return audit.ErrConflict
	}

	stored := *rec
	if tenantID := audit.GetTenant(ctx); tenantID != "" {
		stored.Tenant = tenantID
	}

	// Evict if at capacity.
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	elem := s.lruList.PushFront(rec.ID)
	s.entries[rec.ID] = &entry{rec: &stored, lruElem: elem}
	return nil
}

// Get retrieves a record by ID. Scoped by tenant when a tenant is present in
// the context.
func (s *Store) Get(ctx context.Context, id string) (*audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, audit.ErrNotFound
	}

	tenantID := audit.GetTenant(ctx)
	if tenantID != "" && e.rec.Tenant != tenantID {
		return nil, audit.ErrNotFound
	}

	s.lruList.MoveToFront(e.lruElem)
	out := *e.rec
	return &out, nil
}

// List returns records newest first, filtered by tenant and status.
func (s *Store) List(ctx context.Context, opts audit.ListOptions) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tenantID := audit.GetTenant(ctx)

	var matches []*audit.Record
	for _, e := range s.entries {
		if tenantID != "" && e.rec.Tenant != tenantID {
			continue
		}
		if opts.Status != "" && e.rec.Status != opts.Status {
			continue
		}
		out := *e.rec
		matches = append(matches, &out)
	}

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})

	if limit := audit.EffectiveLimit(opts.Limit); len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		matches = []*audit.Record{}
	}
	return matches, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HealthCheck always returns nil for the in-memory store.
func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

// evictOldest removes the least recently used entry.
// Must be called with s.mu held.
func (s *Store) evictOldest() {
	back := s.lruList.Back()
	if back == nil {
		return
	}

	id := back.Value.(string)
	s.lruList.Remove(back)
	delete(s.entries, id)
}
