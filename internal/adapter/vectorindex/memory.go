package vectorindex

import (
	"context"
	"sort"
	"sync"

	"mmrag/internal/domain"
)

// MemoryIndex is the in-process index. Each namespace holds an immutable
// record slice; writers build a new slice and swap it in under the write
// lock, so a query scans the slice it picked up without holding any lock
// and never observes a write that started after it.
type MemoryIndex struct {
	mu         sync.RWMutex
	namespaces map[string][]domain.Record
}

// NewMemoryIndex creates an empty in-process index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		namespaces: make(map[string][]domain.Record),
	}
}

// Upsert inserts rec or replaces the record with the same id.
func (m *MemoryIndex) Upsert(ctx context.Context, ns domain.Namespace, rec domain.Record) error {
	return m.upsert(ctx, ns, rec, nil)
}

// upsert validates rec against the current snapshot, runs commit while the
// write lock is held, and only then publishes the new snapshot. A commit
// error leaves the namespace untouched.
func (m *MemoryIndex) upsert(ctx context.Context, ns domain.Namespace, rec domain.Record, commit func(domain.Record) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ns.Validate(); err != nil {
		return err
	}
	if err := validateRecord(rec); err != nil {
		return err
	}
	rec = cloneRecord(rec)

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ns.Key()
	current := m.namespaces[key]
	if err := checkDimension(current, rec); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(rec); err != nil {
			return err
		}
	}

	next := make([]domain.Record, 0, len(current)+1)
	replaced := false
	for _, existing := range current {
		if existing.ID == rec.ID {
			next = append(next, rec)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, rec)
	}
	m.namespaces[key] = next
	return nil
}

// Query ranks the namespace snapshot current at call time.
func (m *MemoryIndex) Query(ctx context.Context, ns domain.Namespace, query domain.Embedding, topK int, filter *domain.Modality) ([]domain.SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ns.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	snapshot := m.namespaces[ns.Key()]
	m.mu.RUnlock()

	return Rank(snapshot, ns.Kind, query, topK, filter)
}

// Delete removes id from the namespace. Missing ids are not an error.
func (m *MemoryIndex) Delete(ctx context.Context, ns domain.Namespace, id string) error {
	return m.delete(ctx, ns, id, nil)
}

func (m *MemoryIndex) delete(ctx context.Context, ns domain.Namespace, id string, commit func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ns.Validate(); err != nil {
		return err
	}
	if id == "" {
		return domain.NewError(domain.KindInput, "record id must not be empty", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := ns.Key()
	current := m.namespaces[key]
	idx := -1
	for i, existing := range current {
		if existing.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}

	next := make([]domain.Record, 0, len(current)-1)
	next = append(next, current[:idx]...)
	next = append(next, current[idx+1:]...)
	if len(next) == 0 {
		delete(m.namespaces, key)
		return nil
	}
	m.namespaces[key] = next
	return nil
}

// Count returns the number of records in a namespace.
func (m *MemoryIndex) Count(ns domain.Namespace) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.namespaces[ns.Key()])
}

// Namespaces returns the keys of all non-empty namespaces, sorted.
func (m *MemoryIndex) Namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.namespaces))
	for k := range m.namespaces {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// load replaces a namespace wholesale. Used when restoring persisted state.
func (m *MemoryIndex) load(key string, records []domain.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(records) == 0 {
		delete(m.namespaces, key)
		return
	}
	m.namespaces[key] = records
}

// reset drops every namespace.
func (m *MemoryIndex) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.namespaces = make(map[string][]domain.Record)
}

// Close is a no-op.
func (m *MemoryIndex) Close() error {
	return nil
}
