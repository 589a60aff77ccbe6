// Package store holds the normalized in-process mirror of entities and
// mutual relations. All mutation happens through copy-on-write commits:
// every write builds a fresh snapshot and swaps it in atomically, so
// readers always observe a complete state, never a half-applied merge.
package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store is the single in-process mirror. Reads are lock free; commits
// are serialized by a mutex.
type Store struct {
	state  atomic.Pointer[State]
	mu     sync.Mutex
	logger ectologger.Logger
}

// New creates an empty store.
func New(logger ectologger.Logger) *Store {
	s := &Store{logger: logger}
	s.state.Store(NewState())
	return s
}

// Commit applies mutate to a copy of the current snapshot and swaps the
// copy in as the new state. Everything done inside one commit becomes
// visible together.
func (s *Store) Commit(ctx context.Context, mutate func(*State)) {
	_, span := tracing.StartSpan(ctx, "store.Store.Commit")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.Load().clone()
	mutate(next)
	s.state.Store(next)
}

// Restore replaces the whole mirror with previously exported slots.
func (s *Store) Restore(ctx context.Context, entities []EntitySlotExport, mutuals []MutualSlotExport) {
	s.Commit(ctx, func(state *State) {
		for _, exp := range entities {
			slot := state.entitySlot(exp.EntityType)
			for id, e := range exp.Records {
				slot.Records[id] = e
			}
			slot.LastKey = exp.LastKey
			slot.FirstFetched = exp.FirstFetched
		}
		for _, exp := range mutuals {
			slot := state.mutualSlot(exp.Key)
			for id, m := range exp.Records {
				slot.Records[id] = m
			}
			slot.LastKey = exp.LastKey
			slot.FirstFetched = exp.FirstFetched
		}
	})
}

func (s *Store) snapshot() *State {
	return s.state.Load()
}

// Entity returns the cached record for (entityType, id).
func (s *Store) Entity(entityType string, id string) (models.Entity, bool) {
	slot, ok := s.snapshot().Entities[entityType]
	if !ok {
		return models.Entity{}, false
	}
	e, ok := slot.Records[id]
	return e, ok
}

// Entities returns every cached record of the type, ordered by id.
func (s *Store) Entities(entityType string) []models.Entity {
	slot, ok := s.snapshot().Entities[entityType]
	if !ok {
		return nil
	}

	out := make([]models.Entity, 0, len(slot.Records))
	for _, e := range slot.Records {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SearchResults returns the transient results of the latest search.
func (s *Store) SearchResults(entityType string) []models.Entity {
	slot, ok := s.snapshot().Entities[entityType]
	if !ok {
		return nil
	}
	return slot.SearchResults
}

// EntityCursor returns the pagination cursor for the type, nil when the
// chain is exhausted or never started.
func (s *Store) EntityCursor(entityType string) *string {
	slot, ok := s.snapshot().Entities[entityType]
	if !ok {
		return nil
	}
	return slot.LastKey
}

// FirstFetched reports whether an initial list for the type completed.
func (s *Store) FirstFetched(entityType string) bool {
	slot, ok := s.snapshot().Entities[entityType]
	return ok && slot.FirstFetched
}

// Mutual returns the cached relation under the perspective key for the
// given target id.
func (s *Store) Mutual(key models.PerspectiveKey, targetID string) (models.Mutual, bool) {
	slot, ok := s.snapshot().Mutuals[key]
	if !ok {
		return models.Mutual{}, false
	}
	m, ok := slot.Records[targetID]
	return m, ok
}

// Mutuals returns every relation under the perspective key, ordered by
// target id.
func (s *Store) Mutuals(key models.PerspectiveKey) []models.Mutual {
	slot, ok := s.snapshot().Mutuals[key]
	if !ok {
		return nil
	}

	out := make([]models.Mutual, 0, len(slot.Records))
	for _, m := range slot.Records {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// MutualCursor returns the pagination cursor for the perspective key.
func (s *Store) MutualCursor(key models.PerspectiveKey) *string {
	slot, ok := s.snapshot().Mutuals[key]
	if !ok {
		return nil
	}
	return slot.LastKey
}

// MutualsFirstFetched reports whether an initial relation listing for
// the perspective key completed.
func (s *Store) MutualsFirstFetched(key models.PerspectiveKey) bool {
	slot, ok := s.snapshot().Mutuals[key]
	return ok && slot.FirstFetched
}

// EntitySlotExport is the persistence form of one entity slot. Search
// results are transient and never exported.
type EntitySlotExport struct {
	EntityType   string
	Records      map[string]models.Entity
	LastKey      *string
	FirstFetched bool
}

// MutualSlotExport is the persistence form of one perspective slot.
type MutualSlotExport struct {
	Key          models.PerspectiveKey
	Records      map[string]models.Mutual
	LastKey      *string
	FirstFetched bool
}

// Export copies the current snapshot into persistence form.
func (s *Store) Export() ([]EntitySlotExport, []MutualSlotExport) {
	state := s.snapshot()

	entities := make([]EntitySlotExport, 0, len(state.Entities))
	for entityType, slot := range state.Entities {
		records := make(map[string]models.Entity, len(slot.Records))
		for id, e := range slot.Records {
			records[id] = e
		}
		entities = append(entities, EntitySlotExport{
			EntityType:   entityType,
			Records:      records,
			LastKey:      slot.LastKey,
			FirstFetched: slot.FirstFetched,
		})
	}

	mutuals := make([]MutualSlotExport, 0, len(state.Mutuals))
	for key, slot := range state.Mutuals {
		records := make(map[string]models.Mutual, len(slot.Records))
		for id, m := range slot.Records {
			records[id] = m
		}
		mutuals = append(mutuals, MutualSlotExport{
			Key:          key,
			Records:      records,
			LastKey:      slot.LastKey,
			FirstFetched: slot.FirstFetched,
		})
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].EntityType < entities[j].EntityType })
	sort.Slice(mutuals, func(i, j int) bool { return mutuals[i].Key.String() < mutuals[j].Key.String() })

	return entities, mutuals
}
