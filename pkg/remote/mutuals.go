package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MutualAPI is the mutual service contract consumed by the sync engine.
// All paths are addressed from the owner's perspective: byEntityType /
// byEntityID own the relation, entityType / entityID are the target.
type MutualAPI interface {
	ListByEntity(ctx context.Context, byEntityType string, entityType string, byEntityID string, chainQuery string) (*models.MutualPage, error)
	Get(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string) (*models.Mutual, error)
	Create(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error)
	Edit(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error)
	Delete(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string) (*models.DeleteMutualResult, error)
}

// MutualService talks to the remote mutual endpoints.
type MutualService struct {
	client *Client
	logger ectologger.Logger
}

// NewMutualService creates a new mutual service client.
func NewMutualService(client *Client, logger ectologger.Logger) *MutualService {
	return &MutualService{
		client: client,
		logger: logger,
	}
}

func mutualListPath(byEntityType, entityType, byEntityID string) string {
	return fmt.Sprintf("/mutuals/%s/%s/%s",
		url.PathEscape(byEntityType), url.PathEscape(entityType), url.PathEscape(byEntityID))
}

func mutualPath(byEntityType, entityType, byEntityID, entityID string) string {
	return mutualListPath(byEntityType, entityType, byEntityID) + "/" + url.PathEscape(entityID)
}

// ListByEntity fetches the target entities related to the owner,
// optionally narrowed by an opaque chain query.
func (s *MutualService) ListByEntity(ctx context.Context, byEntityType string, entityType string, byEntityID string, chainQuery string) (*models.MutualPage, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.MutualService.ListByEntity")
	defer span.End()

	var query url.Values
	if chainQuery != "" {
		query = url.Values{}
		query.Set("chain_query", chainQuery)
	}

	var page models.MutualPage
	if err := s.client.get(ctx, mutualListPath(byEntityType, entityType, byEntityID), query, &page); err != nil {
		return nil, fmt.Errorf("failed to list mutuals: %w", err)
	}
	return &page, nil
}

// Get fetches a single relation.
func (s *MutualService) Get(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string) (*models.Mutual, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.MutualService.Get")
	defer span.End()

	var mutual models.Mutual
	if err := s.client.get(ctx, mutualPath(byEntityType, entityType, byEntityID, entityID), nil, &mutual); err != nil {
		return nil, fmt.Errorf("failed to get mutual: %w", err)
	}
	return &mutual, nil
}

// Create creates the relation remotely.
func (s *MutualService) Create(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.MutualService.Create")
	defer span.End()

	var mutual models.Mutual
	if err := s.client.post(ctx, mutualPath(byEntityType, entityType, byEntityID, entityID), payload, &mutual); err != nil {
		return nil, fmt.Errorf("failed to create mutual: %w", err)
	}
	return &mutual, nil
}

// Edit updates the relation payload remotely.
func (s *MutualService) Edit(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string, payload json.RawMessage) (*models.Mutual, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.MutualService.Edit")
	defer span.End()

	var mutual models.Mutual
	if err := s.client.patch(ctx, mutualPath(byEntityType, entityType, byEntityID, entityID), payload, &mutual); err != nil {
		return nil, fmt.Errorf("failed to edit mutual: %w", err)
	}
	return &mutual, nil
}

// Delete removes the relation remotely and returns both participant ids.
func (s *MutualService) Delete(ctx context.Context, byEntityType string, entityType string, byEntityID string, entityID string) (*models.DeleteMutualResult, error) {
	ctx, span := tracing.StartSpan(ctx, "remote.MutualService.Delete")
	defer span.End()

	var result models.DeleteMutualResult
	if err := s.client.delete(ctx, mutualPath(byEntityType, entityType, byEntityID, entityID), &result); err != nil {
		return nil, fmt.Errorf("failed to delete mutual: %w", err)
	}
	return &result, nil
}
