package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracker"
)

// entityAPIStub implements remote.EntityAPI with per-operation call
// counts. Unset operations fail loudly so tests notice unexpected calls.
type entityAPIStub struct {
	mu    sync.Mutex
	calls map[string]int

	listFn   func(entityType string, params models.ListParams) (*models.EntityPage, error)
	searchFn func(entityType string, query string) ([]models.Entity, error)
	tagFn    func(entityType string, tagName string, params models.ListParams) (*models.TaggedPage, error)
	getFn    func(entityType string, id string) (*models.Entity, error)
	createFn func(entityType string, draft json.RawMessage) (*models.Entity, error)
	upsertFn func(entityType string, id string, draft json.RawMessage) (*models.Entity, error)
	editFn   func(entityType string, id string, partial json.RawMessage) (*models.Entity, error)
	deleteFn func(entityType string, id string) error
}

func newEntityAPIStub() *entityAPIStub {
	return &entityAPIStub{calls: make(map[string]int)}
}

func (s *entityAPIStub) count(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
}

func (s *entityAPIStub) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *entityAPIStub) List(_ context.Context, entityType string, params models.ListParams) (*models.EntityPage, error) {
	s.count("list")
	if s.listFn == nil {
		return nil, fmt.Errorf("unexpected List call")
	}
	return s.listFn(entityType, params)
}

func (s *entityAPIStub) Search(_ context.Context, entityType string, query string) ([]models.Entity, error) {
	s.count("search")
	if s.searchFn == nil {
		return nil, fmt.Errorf("unexpected Search call")
	}
	return s.searchFn(entityType, query)
}

func (s *entityAPIStub) ListByTag(_ context.Context, entityType string, tagName string, params models.ListParams) (*models.TaggedPage, error) {
	s.count("tag")
	if s.tagFn == nil {
		return nil, fmt.Errorf("unexpected ListByTag call")
	}
	return s.tagFn(entityType, tagName, params)
}

func (s *entityAPIStub) Get(_ context.Context, entityType string, id string) (*models.Entity, error) {
	s.count("get")
	if s.getFn == nil {
		return nil, fmt.Errorf("unexpected Get call")
	}
	return s.getFn(entityType, id)
}

func (s *entityAPIStub) Create(_ context.Context, entityType string, draft json.RawMessage) (*models.Entity, error) {
	s.count("create")
	if s.createFn == nil {
		return nil, fmt.Errorf("unexpected Create call")
	}
	return s.createFn(entityType, draft)
}

func (s *entityAPIStub) Upsert(_ context.Context, entityType string, id string, draft json.RawMessage) (*models.Entity, error) {
	s.count("upsert")
	if s.upsertFn == nil {
		return nil, fmt.Errorf("unexpected Upsert call")
	}
	return s.upsertFn(entityType, id, draft)
}

func (s *entityAPIStub) Edit(_ context.Context, entityType string, id string, partial json.RawMessage) (*models.Entity, error) {
	s.count("edit")
	if s.editFn == nil {
		return nil, fmt.Errorf("unexpected Edit call")
	}
	return s.editFn(entityType, id, partial)
}

func (s *entityAPIStub) Delete(_ context.Context, entityType string, id string) error {
	s.count("delete")
	if s.deleteFn == nil {
		return fmt.Errorf("unexpected Delete call")
	}
	return s.deleteFn(entityType, id)
}

// mutualAPIStub implements remote.MutualAPI the same way.
type mutualAPIStub struct {
	mu    sync.Mutex
	calls map[string]int

	listFn   func(byEntityType, entityType, byEntityID, chainQuery string) (*models.MutualPage, error)
	getFn    func(byEntityType, entityType, byEntityID, entityID string) (*models.Mutual, error)
	createFn func(byEntityType, entityType, byEntityID, entityID string, payload json.RawMessage) (*models.Mutual, error)
	editFn   func(byEntityType, entityType, byEntityID, entityID string, payload json.RawMessage) (*models.Mutual, error)
	deleteFn func(byEntityType, entityType, byEntityID, entityID string) (*models.DeleteMutualResult, error)
}

func newMutualAPIStub() *mutualAPIStub {
	return &mutualAPIStub{calls: make(map[string]int)}
}

func (s *mutualAPIStub) count(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++
}

func (s *mutualAPIStub) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *mutualAPIStub) ListByEntity(_ context.Context, byEntityType string, entityType string, byEntityID string, chainQuery string) (*models.MutualPage, error) {
	s.count("list")
	if s.listFn == nil {
		return nil, fmt.Errorf("unexpected ListByEntity call")
	}
	return s.listFn(byEntityType, entityType, byEntityID, chainQuery)
}

func (s *mutualAPIStub) Get(_ context.Context, byEntityType string, entityType string, byEntityID string, entityID string) (*models.Mutual, error) {
	s.count("get")
	if s.getFn == nil {
		return nil, fmt.Errorf("unexpected Get call")
	}
	return s.getFn(byEntityType, entityType, byEntityID, entityID)
}

func (s *mutualAPIStub) Create(_ context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error) {
	s.count("create")
	if s.createFn == nil {
		return nil, fmt.Errorf("unexpected Create call")
	}
	return s.createFn(byEntityType, entityType, byEntityID, entityID, payload)
}

func (s *mutualAPIStub) Edit(_ context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error) {
	s.count("edit")
	if s.editFn == nil {
		return nil, fmt.Errorf("unexpected Edit call")
	}
	return s.editFn(byEntityType, entityType, byEntityID, entityID, payload)
}

func (s *mutualAPIStub) Delete(_ context.Context, byEntityType string, entityType string, byEntityID string, entityID string) (*models.DeleteMutualResult, error) {
	s.count("delete")
	if s.deleteFn == nil {
		return nil, fmt.Errorf("unexpected Delete call")
	}
	return s.deleteFn(byEntityType, entityType, byEntityID, entityID)
}

func nopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestEngine(relations models.RelationConfig, entities *entityAPIStub, mutuals *mutualAPIStub) *Engine {
	logger := nopLogger()
	return NewEngine(logger, store.New(logger), tracker.New(logger), entities, mutuals, relations, nil)
}

func entityOf(entityType, id, data string) models.Entity {
	return models.Entity{ID: id, EntityType: entityType, Data: json.RawMessage(data)}
}

func mutualOf(byType, byID, entityType, entityID, payload string) models.Mutual {
	return models.Mutual{
		MutualID:     byID + ":" + entityID,
		ByEntityType: byType,
		ByEntityID:   byID,
		EntityType:   entityType,
		EntityID:     entityID,
		MutualData:   json.RawMessage(payload),
	}
}

func strptr(s string) *string { return &s }
