package syncer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ListOptions control ListEntities. A nil Range keeps the merge
// semantics and the first-fetched guard; an explicit Range bypasses the
// guard and replaces the slot with the fetched page. All follows the
// cursor chain until the backend reports end of data.
type ListOptions struct {
	Range *models.ListParams
	All   bool
}

// ListEntities fetches the primary listing for an entity type. The
// fetch is guarded: if the type was already first-fetched without an
// explicit range, a fetch is in flight, or the previous attempt failed,
// it returns without issuing a request. Results land in one commit.
func (e *Engine) ListEntities(ctx context.Context, entityType string, opts ListOptions) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.ListEntities")
	defer span.End()

	if entityType == "" {
		return fmt.Errorf("entity type is required")
	}

	key := entityListKey(entityType)

	if opts.Range == nil && e.store.FirstFetched(entityType) {
		if opts.All {
			return e.drainEntityCursor(ctx, entityType)
		}
		return nil
	}
	if e.tracker.LastError(key) != nil {
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_type": entityType,
		}).Debug("skipping entity list, previous attempt failed")
		return nil
	}
	if !e.tracker.Begin(key) {
		return nil
	}

	params := models.ListParams{}
	if opts.Range != nil {
		params = *opts.Range
	}

	page, err := e.entities.List(ctx, entityType, params)
	if err != nil {
		e.tracker.Fail(key, err)
		return fmt.Errorf("failed to list %s entities: %w", entityType, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		if opts.Range != nil {
			state.ReplaceEntityPage(entityType, page.Data, page.LastKey)
		} else {
			state.MergeEntityPage(entityType, page.Data, page.LastKey)
		}
	})
	e.tracker.Succeed(key)

	if opts.All {
		return e.drainEntityCursor(ctx, entityType)
	}
	return nil
}

// ListMoreEntities fetches the next page of the cursor chain started by
// ListEntities. It is a no-op when the chain is exhausted, and falls
// back to a first fetch when no listing has happened yet.
func (e *Engine) ListMoreEntities(ctx context.Context, entityType string) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.ListMoreEntities")
	defer span.End()

	if entityType == "" {
		return fmt.Errorf("entity type is required")
	}

	if !e.store.FirstFetched(entityType) {
		return e.ListEntities(ctx, entityType, ListOptions{})
	}

	cursor := e.store.EntityCursor(entityType)
	if cursor == nil {
		return nil
	}

	key := entityListKey(entityType)
	if e.tracker.LastError(key) != nil {
		return nil
	}
	if !e.tracker.Begin(key) {
		return nil
	}

	page, err := e.entities.List(ctx, entityType, models.ListParams{LastKey: cursor})
	if err != nil {
		e.tracker.Fail(key, err)
		return fmt.Errorf("failed to list more %s entities: %w", entityType, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.AppendEntityPage(entityType, page.Data, page.LastKey)
	})
	e.tracker.Succeed(key)
	return nil
}

func (e *Engine) drainEntityCursor(ctx context.Context, entityType string) error {
	for e.store.EntityCursor(entityType) != nil {
		before := e.store.EntityCursor(entityType)
		if err := e.ListMoreEntities(ctx, entityType); err != nil {
			return err
		}
		after := e.store.EntityCursor(entityType)
		// A guard skip leaves the cursor untouched; stop instead of spinning.
		if after != nil && before != nil && *after == *before {
			return nil
		}
	}
	return nil
}

// SearchEntities runs a free text search. Search is never guarded:
// every call issues a request, even while another search for the type
// is in flight. Results replace the transient result list and merge
// into the canonical records; the tracker is updated per query so
// callers can still observe loading and error state.
func (e *Engine) SearchEntities(ctx context.Context, entityType string, query string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.SearchEntities")
	defer span.End()

	if entityType == "" {
		return nil, fmt.Errorf("entity type is required")
	}

	key := entitySearchKey(entityType, query)
	e.tracker.Begin(key)

	results, err := e.entities.Search(ctx, entityType, query)
	if err != nil {
		e.tracker.Fail(key, err)
		return nil, fmt.Errorf("failed to search %s entities: %w", entityType, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.SetSearchResults(entityType, results)
	})
	e.tracker.Succeed(key)
	return results, nil
}

// ListEntitiesByTag fetches one page of entities carrying the tag and
// merges them into the canonical records. The primary listing cursor and
// first-fetched flag are untouched; callers paginate with the returned
// page's LastKey.
func (e *Engine) ListEntitiesByTag(ctx context.Context, entityType string, tagName string, params models.ListParams) (*models.TaggedPage, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.ListEntitiesByTag")
	defer span.End()

	if entityType == "" || tagName == "" {
		return nil, fmt.Errorf("entity type and tag name are required")
	}

	key := entityTagKey(entityType, tagName)
	if e.tracker.LastError(key) != nil {
		return nil, nil
	}
	if !e.tracker.Begin(key) {
		return nil, nil
	}

	page, err := e.entities.ListByTag(ctx, entityType, tagName, params)
	if err != nil {
		e.tracker.Fail(key, err)
		return nil, fmt.Errorf("failed to list %s entities by tag %q: %w", entityType, tagName, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		for _, entity := range page.Entities {
			state.PutEntity(entity)
		}
	})
	e.tracker.Succeed(key)
	return page, nil
}

// GetEntity returns the cached record when present, otherwise performs
// a guarded fetch. A nil record with a nil error means the guard
// short-circuited: the fetch is in flight or previously failed.
func (e *Engine) GetEntity(ctx context.Context, entityType string, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.GetEntity")
	defer span.End()

	if err := e.checkEntityRef(entityType, id); err != nil {
		return nil, err
	}

	if cached, ok := e.store.Entity(entityType, id); ok {
		return &cached, nil
	}

	key := entityGetKey(entityType, id)
	if e.tracker.LastError(key) != nil {
		return nil, nil
	}
	if !e.tracker.Begin(key) {
		return nil, nil
	}

	entity, err := e.entities.Get(ctx, entityType, id)
	if err != nil {
		e.tracker.Fail(key, err)
		return nil, fmt.Errorf("failed to get %s entity: %w", entityType, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutEntity(*entity)
	})
	e.tracker.Succeed(key)
	return entity, nil
}

// CreateEntity creates the entity remotely and inserts the returned
// record, with its server assigned id, into the mirror. Remote failure
// leaves the cache untouched.
func (e *Engine) CreateEntity(ctx context.Context, entityType string, draft json.RawMessage) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.CreateEntity")
	defer span.End()

	if entityType == "" {
		return nil, fmt.Errorf("entity type is required")
	}

	entity, err := e.entities.Create(ctx, entityType, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s entity: %w", entityType, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutEntity(*entity)
	})
	e.emitEntity(ctx, events.EntityCreated, *entity)

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type": entityType,
		"entity_id":   entity.ID,
	}).Debug("created entity")

	return entity, nil
}

// UpsertEntity writes the full entity under a known id and overwrites
// the cached record with the server's response.
func (e *Engine) UpsertEntity(ctx context.Context, entityType string, id string, draft json.RawMessage) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.UpsertEntity")
	defer span.End()

	if err := e.checkEntityRef(entityType, id); err != nil {
		return nil, err
	}

	_, existed := e.store.Entity(entityType, id)

	entity, err := e.entities.Upsert(ctx, entityType, id, draft)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert %s entity: %w", entityType, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutEntity(*entity)
	})

	eventType := events.EntityCreated
	if existed {
		eventType = events.EntityUpdated
	}
	e.emitEntity(ctx, eventType, *entity)

	return entity, nil
}

// EditEntity applies a partial update and overwrites the cached record
// with the server's response.
func (e *Engine) EditEntity(ctx context.Context, entityType string, id string, partial json.RawMessage) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.EditEntity")
	defer span.End()

	if err := e.checkEntityRef(entityType, id); err != nil {
		return nil, err
	}

	entity, err := e.entities.Edit(ctx, entityType, id, partial)
	if err != nil {
		return nil, fmt.Errorf("failed to edit %s entity: %w", entityType, err)
	}

	e.store.Commit(ctx, func(state *store.State) {
		state.PutEntity(*entity)
	})
	e.emitEntity(ctx, events.EntityUpdated, *entity)

	return entity, nil
}

// DeleteEntity removes the entity remotely, then drops the record and
// cascades through every configured relation type: the entity's own
// perspective slots are purged and mirrored records naming it as the
// target are removed. Record removal and cascade land in one commit.
func (e *Engine) DeleteEntity(ctx context.Context, entityType string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "syncer.Engine.DeleteEntity")
	defer span.End()

	if err := e.checkEntityRef(entityType, id); err != nil {
		return err
	}

	cached, _ := e.store.Entity(entityType, id)

	if err := e.entities.Delete(ctx, entityType, id); err != nil {
		return fmt.Errorf("failed to delete %s entity: %w", entityType, err)
	}

	relatedTypes := e.relations.RelatedTypes(entityType)
	e.store.Commit(ctx, func(state *store.State) {
		state.RemoveEntity(entityType, id)
		state.PurgeEntityRelations(entityType, id, relatedTypes)
	})
	e.tracker.Reset(entityGetKey(entityType, id))

	if cached.ID == "" {
		cached = models.Entity{ID: id, EntityType: entityType}
	}
	e.emitEntity(ctx, events.EntityDeleted, cached)

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_type":   entityType,
		"entity_id":     id,
		"related_types": relatedTypes,
	}).Debug("deleted entity with relation cascade")

	return nil
}
