// Package syncer implements the synchronization operations that keep the
// local mirror consistent with the remote service: guarded fetches,
// atomic merges, bidirectional relation mirroring, and cascade cleanup.
package syncer

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/remote"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracker"
)

// SnapshotRepository persists mirror snapshots for warm starts.
type SnapshotRepository interface {
	SaveEntitySlots(ctx context.Context, slots []store.EntitySlotExport) error
	SaveMutualSlots(ctx context.Context, slots []store.MutualSlotExport) error
	LoadEntitySlots(ctx context.Context) ([]store.EntitySlotExport, error)
	LoadMutualSlots(ctx context.Context) ([]store.MutualSlotExport, error)
}

// Engine composes the store, tracker, and remote services into the
// read/write API consumers use. Reads go straight to the store; writes
// go remote first and are merged into the mirror on success.
type Engine struct {
	store     *store.Store
	tracker   *tracker.Tracker
	entities  remote.EntityAPI
	mutuals   remote.MutualAPI
	relations models.RelationConfig
	emitter   events.Emitter
	snapshots SnapshotRepository
	validate  *validator.Validate
	logger    ectologger.Logger
}

// NewEngine creates a sync engine. A nil emitter disables change events.
func NewEngine(
	logger ectologger.Logger,
	st *store.Store,
	tr *tracker.Tracker,
	entities remote.EntityAPI,
	mutuals remote.MutualAPI,
	relations models.RelationConfig,
	emitter events.Emitter,
) *Engine {
	if emitter == nil {
		emitter = events.Noop()
	}

	return &Engine{
		store:     st,
		tracker:   tr,
		entities:  entities,
		mutuals:   mutuals,
		relations: relations,
		emitter:   emitter,
		validate:  validator.New(),
		logger:    logger,
	}
}

// SetSnapshotRepository enables snapshot persistence.
func (e *Engine) SetSnapshotRepository(repo SnapshotRepository) {
	e.snapshots = repo
}

// Store exposes the mirror's read accessors.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Tracker exposes per request loading/error state.
func (e *Engine) Tracker() *tracker.Tracker {
	return e.tracker
}

// SaveSnapshot exports the current mirror to the snapshot repository.
func (e *Engine) SaveSnapshot(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.SaveSnapshot")
	defer span.End()

	if e.snapshots == nil {
		return fmt.Errorf("snapshot persistence is not configured")
	}

	entities, mutuals := e.store.Export()
	if err := e.snapshots.SaveEntitySlots(ctx, entities); err != nil {
		return fmt.Errorf("failed to save entity slots: %w", err)
	}
	if err := e.snapshots.SaveMutualSlots(ctx, mutuals); err != nil {
		return fmt.Errorf("failed to save mutual slots: %w", err)
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_slots": len(entities),
		"mutual_slots": len(mutuals),
	}).Info("saved mirror snapshot")

	return nil
}

// RestoreSnapshot loads a persisted mirror into the store, replacing
// nothing that is not present in the snapshot.
func (e *Engine) RestoreSnapshot(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.RestoreSnapshot")
	defer span.End()

	if e.snapshots == nil {
		return fmt.Errorf("snapshot persistence is not configured")
	}

	entities, err := e.snapshots.LoadEntitySlots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load entity slots: %w", err)
	}
	mutuals, err := e.snapshots.LoadMutualSlots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mutual slots: %w", err)
	}

	e.store.Restore(ctx, entities, mutuals)

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_slots": len(entities),
		"mutual_slots": len(mutuals),
	}).Info("restored mirror snapshot")

	return nil
}

type entityRef struct {
	EntityType string `validate:"required"`
	EntityID   string `validate:"required"`
}

type mutualRef struct {
	ByEntityType string `validate:"required"`
	ByEntityID   string `validate:"required"`
	EntityType   string `validate:"required"`
	EntityID     string `validate:"required"`
}

func (e *Engine) checkEntityRef(entityType, id string) error {
	if err := e.validate.Struct(entityRef{EntityType: entityType, EntityID: id}); err != nil {
		return fmt.Errorf("invalid entity reference: %w", err)
	}
	return nil
}

func (e *Engine) checkMutualRef(byEntityType, byEntityID, entityType, entityID string) error {
	ref := mutualRef{
		ByEntityType: byEntityType,
		ByEntityID:   byEntityID,
		EntityType:   entityType,
		EntityID:     entityID,
	}
	if err := e.validate.Struct(ref); err != nil {
		return fmt.Errorf("invalid mutual reference: %w", err)
	}
	return nil
}

func (e *Engine) emitEntity(ctx context.Context, eventType string, entity models.Entity) {
	if err := e.emitter.EmitEntity(ctx, eventType, entity); err != nil {
		e.logger.WithContext(ctx).WithError(err).Debugf("dropped %s event", eventType)
	}
}

func (e *Engine) emitMutual(ctx context.Context, eventType string, mutual models.Mutual) {
	if err := e.emitter.EmitMutual(ctx, eventType, mutual); err != nil {
		e.logger.WithContext(ctx).WithError(err).Debugf("dropped %s event", eventType)
	}
}
