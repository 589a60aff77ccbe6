package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ListMutualsOptions narrow a relation listing. ChainQuery is forwarded
// verbatim to the backend; listings with different chain queries are
// guarded independently.
type ListMutualsOptions struct {
	ChainQuery string
}

// ListMutuals fetches every target entity related to the owner, from the
// owner's perspective only. On success the returned relations replace
// the perspective slot and each denormalized target entity is merged
// into the entity store. The mirror perspective is never synthesized by
// a listing; it is only materialized through create, edit, or a local
// upsert.
func (e *Engine) ListMutuals(ctx context.Context, byEntityType string, entityType string, byEntityID string, opts ListMutualsOptions) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.ListMutuals")
	defer span.End()

	if byEntityType == "" || entityType == "" || byEntityID == "" {
		return fmt.Errorf("owner type, owner id, and target type are required")
	}

	perspective := models.PerspectiveKey{OwnerType: byEntityType, OwnerID: byEntityID, TargetType: entityType}
	key := mutualListKey(perspective, opts.ChainQuery)

	if opts.ChainQuery == "" && e.store.MutualsFirstFetched(perspective) {
		return nil
	}
	if e.tracker.LastError(key) != nil {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"perspective": perspective.String(),
		}).Debug("skipping mutual list, previous attempt failed")
		return nil
	}
	if !e.tracker.Begin(key) {
		return nil
	}

	page, err := e.mutuals.ListByEntity(ctx, byEntityType, entityType, byEntityID, opts.ChainQuery)
	if err != nil {
		e.tracker.Fail(key, err)
		return fmt.Errorf("failed to list %s mutuals: %w", perspective.String(), err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		for _, m := range page.Entities {
			state.PutEntity(m.Entity())
		}
		state.ReplaceMutualPage(perspective, page.Entities, page.LastKey)
	})
	e.tracker.Succeed(key)
	return nil
}

// GetMutualOptions tune GetMutual. When DefaultMutualData is set, a
// failed remote fetch is absorbed: a local-only relation with the
// default payload is cached instead and no error is returned.
type GetMutualOptions struct {
	DefaultMutualData json.RawMessage
}

// GetMutual returns the cached relation when present, otherwise fetches
// it. A fetched relation is written to the owner's perspective only and
// its denormalized payload is merged into the entity store, so one round
// trip yields both the relation and the target entity. A nil relation
// with a nil error means the guard short-circuited.
func (e *Engine) GetMutual(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string, opts GetMutualOptions) (*models.Mutual, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.GetMutual")
	defer span.End()

	if err := e.checkMutualRef(byEntityType, byEntityID, entityType, entityID); err != nil {
		return nil, err
	}

	perspective := models.PerspectiveKey{OwnerType: byEntityType, OwnerID: byEntityID, TargetType: entityType}
	if cached, ok := e.store.Mutual(perspective, entityID); ok {
		return &cached, nil
	}

	key := mutualGetKey(perspective, entityID)
	if e.tracker.LastError(key) != nil {
		// A recorded failure still honors the default: callers asking
		// for a fallback get one instead of a silent skip.
		if opts.DefaultMutualData != nil {
			fallback := e.localMutualFallback(ctx, byEntityType, entityType, byEntityID, entityID, opts.DefaultMutualData)
			e.tracker.Succeed(key)
			return &fallback, nil
		}
		return nil, nil
	}
	if !e.tracker.Begin(key) {
		return nil, nil
	}

	mutual, err := e.mutuals.Get(ctx, byEntityType, entityType, byEntityID, entityID)
	if err != nil {
		if opts.DefaultMutualData != nil {
			fallback := e.localMutualFallback(ctx, byEntityType, entityType, byEntityID, entityID, opts.DefaultMutualData)
			e.tracker.Succeed(key)
			return &fallback, nil
		}
		e.tracker.Fail(key, err)
		return nil, fmt.Errorf("failed to get mutual %s: %w", key.String(), err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutMutual(*mutual)
		state.PutEntity(mutual.Entity())
	})
	e.tracker.Succeed(key)
	return mutual, nil
}

// localMutualFallback caches a synthesized relation under the owner's
// perspective only. The mirror stays untouched: the relation was never
// confirmed by the backend.
func (e *Engine) localMutualFallback(ctx context.Context, byEntityType, entityType, byEntityID, entityID string, payload json.RawMessage) models.Mutual {
	now := time.Now().UTC()
	fallback := models.Mutual{
		MutualID:        fmt.Sprintf("%s-%s", byEntityID, entityID),
		ByEntityType:    byEntityType,
		ByEntityID:      byEntityID,
		EntityType:      entityType,
		EntityID:        entityID,
		MutualData:      payload,
		CreatedAt:       now,
		UpdatedAt:       now,
		MutualUpdatedAt: now,
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutMutual(fallback)
	})

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"mutual_id": fallback.MutualID,
	}).Debug("cached local fallback mutual after failed fetch")

	return fallback
}

// CreateMutual creates the relation remotely, then writes the returned
// record and its flipped mirror in one commit. Readers on either
// perspective see the relation appear at the same instant.
func (e *Engine) CreateMutual(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.CreateMutual")
	defer span.End()

	if err := e.checkMutualRef(byEntityType, byEntityID, entityType, entityID); err != nil {
		return nil, err
	}

	mutual, err := e.mutuals.Create(ctx, byEntityType, entityType, byEntityID, entityID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create mutual: %w", err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutMutualPair(*mutual)
	})
	e.emitMutual(ctx, events.MutualCreated, *mutual)

	return mutual, nil
}

// EditMutual updates the relation payload remotely, then overwrites both
// perspectives in one commit, same write pattern as CreateMutual.
func (e *Engine) EditMutual(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.EditMutual")
	defer span.End()

	if err := e.checkMutualRef(byEntityType, byEntityID, entityType, entityID); err != nil {
		return nil, err
	}

	mutual, err := e.mutuals.Edit(ctx, byEntityType, entityType, byEntityID, entityID, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to edit mutual: %w", err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutMutualPair(*mutual)
	})
	e.emitMutual(ctx, events.MutualUpdated, *mutual)

	return mutual, nil
}

// DeleteMutual removes the relation remotely, then clears both
// perspectives using the ids the backend confirms. Repeating the delete
// is a cache no-op.
func (e *Engine) DeleteMutual(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string) (*models.DeleteMutualResult, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.DeleteMutual")
	defer span.End()

	if err := e.checkMutualRef(byEntityType, byEntityID, entityType, entityID); err != nil {
		return nil, err
	}

	perspective := models.PerspectiveKey{OwnerType: byEntityType, OwnerID: byEntityID, TargetType: entityType}
	cached, _ := e.store.Mutual(perspective, entityID)

	result, err := e.mutuals.Delete(ctx, byEntityType, entityType, byEntityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete mutual: %w", err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.RemoveMutualPair(perspective, result.EntityID, result.ByEntityID)
	})
	e.tracker.Reset(mutualGetKey(perspective, entityID))

	if cached.MutualID == "" {
		cached = models.Mutual{
			ByEntityType: byEntityType,
			ByEntityID:   result.ByEntityID,
			EntityType:   entityType,
			EntityID:     result.EntityID,
		}
	}
	e.emitMutual(ctx, events.MutualDeleted, cached)

	return result, nil
}

// UpsertMutualLocal writes a caller constructed relation and its flipped
// mirror without a server round trip. Used for optimistic edits and
// derived writes; the backend is never consulted.
func (e *Engine) UpsertMutualLocal(ctx context.Context, mutual models.Mutual) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.UpsertMutualLocal")
	defer span.End()

	if err := e.checkMutualRef(mutual.ByEntityType, mutual.ByEntityID, mutual.EntityType, mutual.EntityID); err != nil {
		return err
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutMutualPair(mutual)
	})
	return nil
}

// DeleteMutualLocal removes a relation from both perspectives without a
// server round trip.
func (e *Engine) DeleteMutualLocal(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.DeleteMutualLocal")
	defer span.End()

	if err := e.checkMutualRef(byEntityType, byEntityID, entityType, entityID); err != nil {
		return err
	}

	perspective := models.PerspectiveKey{OwnerType: byEntityType, OwnerID: byEntityID, TargetType: entityType}
	e.store.Commit(ctx, func(state *store.State) {
		state.RemoveMutualPair(perspective, entityID, byEntityID)
	})
	return nil
}

// DeleteMutualsForEntity runs the relation cascade for an entity without
// touching the entity record itself. DeleteEntity calls the same purge
// as part of its commit; this entry point exists for callers reacting to
// deletions observed elsewhere.
func (e *Engine) DeleteMutualsForEntity(ctx context.Context, entityType string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.DeleteMutualsForEntity")
	defer span.End()

	if err := e.checkEntityRef(entityType, id); err != nil {
		return err
	}

	relatedTypes := e.relations.RelatedTypes(entityType)
	e.store.Commit(ctx, func(state *store.State) {
		state.PurgeEntityRelations(entityType, id, relatedTypes)
	})
	return nil
}
