package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// EntityAPI is the entity service contract consumed by the sync engine.
type EntityAPI interface {
	List(ctx context.Context, entityType string, params models.ListParams) (*models.EntityPage, error)
	Search(ctx context.Context, entityType string, query string) ([]models.Entity, error)
	ListByTag(ctx context.Context, entityType string, tagName string, params models.ListParams) (*models.TaggedPage, error)
	Get(ctx context.Context, entityType string, id string) (*models.Entity, error)
	Create(ctx context.Context, entityType string, draft json.RawMessage) (*models.Entity, error)
	Upsert(ctx context.Context, entityType string, id string, draft json.RawMessage) (*models.Entity, error)
	Edit(ctx context.Context, entityType string, id string, partial json.RawMessage) (*models.Entity, error)
	Delete(ctx context.Context, entityType string, id string) error
}

// EntityService talks to the remote entity endpoints.
type EntityService struct {
	client *Client
	logger ectologger.Logger
}

// NewEntityService creates a new entity service client.
func NewEntityService(client *Client, logger ectologger.Logger) *EntityService {
	return &EntityService{
		client: client,
		logger: logger,
	}
}

func listQuery(params models.ListParams) url.Values {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Start != "" {
		query.Set("start", params.Start)
	}
	if params.End != "" {
		query.Set("end", params.End)
	}
	if params.LastKey != nil {
		query.Set("last_key", *params.LastKey)
	}
	return query
}

// List fetches one page of entities.
func (s *EntityService) List(ctx context.Context, entityType string, params models.ListParams) (*models.EntityPage, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.List")
	defer span.End()

	var page models.EntityPage
	path := fmt.Sprintf("/entities/%s", url.PathEscape(entityType))
	if err := s.client.get(ctx, path, listQuery(params), &page); err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	return &page, nil
}

// Search runs a free text search over the entity type.
func (s *EntityService) Search(ctx context.Context, entityType string, query string) ([]models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.Search")
	defer span.End()

	q := url.Values{}
	q.Set("q", query)

	var result models.SearchResult
	path := fmt.Sprintf("/entities/%s/search", url.PathEscape(entityType))
	if err := s.client.get(ctx, path, q, &result); err != nil {
		return nil, fmt.Errorf("failed to search entities: %w", err)
	}
	return result.Data, nil
}

// ListByTag fetches one page of entities carrying the tag.
func (s *EntityService) ListByTag(ctx context.Context, entityType string, tagName string, params models.ListParams) (*models.TaggedPage, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.ListByTag")
	defer span.End()

	var page models.TaggedPage
	path := fmt.Sprintf("/entities/%s/tags/%s", url.PathEscape(entityType), url.PathEscape(tagName))
	if err := s.client.get(ctx, path, listQuery(params), &page); err != nil {
		return nil, fmt.Errorf("failed to list entities by tag: %w", err)
	}
	return &page, nil
}

// Get fetches a single entity.
func (s *EntityService) Get(ctx context.Context, entityType string, id string) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.Get")
	defer span.End()

	var entity models.Entity
	path := fmt.Sprintf("/entities/%s/%s", url.PathEscape(entityType), url.PathEscape(id))
	if err := s.client.get(ctx, path, nil, &entity); err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &entity, nil
}

// Create creates an entity; the server assigns the id.
func (s *EntityService) Create(ctx context.Context, entityType string, draft json.RawMessage) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.Create")
	defer span.End()

	var entity models.Entity
	path := fmt.Sprintf("/entities/%s", url.PathEscape(entityType))
	if err := s.client.post(ctx, path, draft, &entity); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}
	return &entity, nil
}

// Upsert writes the full entity under a known id.
func (s *EntityService) Upsert(ctx context.Context, entityType string, id string, draft json.RawMessage) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.Upsert")
	defer span.End()

	var entity models.Entity
	path := fmt.Sprintf("/entities/%s/%s", url.PathEscape(entityType), url.PathEscape(id))
	if err := s.client.put(ctx, path, draft, &entity); err != nil {
		return nil, fmt.Errorf("failed to upsert entity: %w", err)
	}
	return &entity, nil
}

// Edit applies a partial update.
func (s *EntityService) Edit(ctx context.Context, entityType string, id string, partial json.RawMessage) (*models.Entity, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.Edit")
	defer span.End()

	var entity models.Entity
	path := fmt.Sprintf("/entities/%s/%s", url.PathEscape(entityType), url.PathEscape(id))
	if err := s.client.patch(ctx, path, partial, &entity); err != nil {
		return nil, fmt.Errorf("failed to edit entity: %w", err)
	}
	return &entity, nil
}

// Delete removes the entity remotely.
func (s *EntityService) Delete(ctx context.Context, entityType string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "remote.EntityService.Delete")
	defer span.End()

	path := fmt.Sprintf("/entities/%s/%s", url.PathEscape(entityType), url.PathEscape(id))
	if err := s.client.delete(ctx, path, nil); err != nil {
		return fmt.Errorf("failed to delete entity: %w", err)
	}
	return nil
}
