// Package snapshot persists mirror slots to PostgreSQL so a process can
// warm-start from its last exported state.
package snapshot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	scopeEntity = "entity"
	scopeMutual = "mutual"
)

// Repository stores mirror slots in the cache_snapshots table, one row
// per slot. Saves replace the whole scope; partial snapshots are never
// written.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// New creates a snapshot repository.
func New(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type entityRow struct {
	SlotKey      string                                   `db:"slot_key"`
	Records      database.JSONB[map[string]models.Entity] `db:"records"`
	LastKey      *string                                  `db:"last_key"`
	FirstFetched bool                                     `db:"first_fetched"`
}

type mutualRow struct {
	SlotKey      string                                   `db:"slot_key"`
	Records      database.JSONB[map[string]models.Mutual] `db:"records"`
	LastKey      *string                                  `db:"last_key"`
	FirstFetched bool                                     `db:"first_fetched"`
}

// Key parts are escaped so ids containing the separator round-trip.
func mutualSlotKey(key models.PerspectiveKey) string {
	return url.QueryEscape(key.OwnerType) + "/" + url.QueryEscape(key.OwnerID) + "/" + url.QueryEscape(key.TargetType)
}

func parseMutualSlotKey(raw string) (models.PerspectiveKey, error) {
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return models.PerspectiveKey{}, fmt.Errorf("malformed mutual slot key %q", raw)
	}

	unescaped := make([]string, len(parts))
	for i, part := range parts {
		p, err := url.QueryUnescape(part)
		if err != nil || p == "" {
			return models.PerspectiveKey{}, fmt.Errorf("malformed mutual slot key %q", raw)
		}
		unescaped[i] = p
	}
	return models.PerspectiveKey{OwnerType: unescaped[0], OwnerID: unescaped[1], TargetType: unescaped[2]}, nil
}

// SaveEntitySlots replaces every persisted entity slot with the export.
func (r *Repository) SaveEntitySlots(ctx context.Context, slots []store.EntitySlotExport) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.SaveEntitySlots")
	defer span.End()

	if err := r.clearScope(ctx, scopeEntity); err != nil {
		return err
	}
	if len(slots) == 0 {
		return nil
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("cache_snapshots")
	ib.Cols("scope", "slot_key", "records", "last_key", "first_fetched")
	for _, slot := range slots {
		ib.Values(scopeEntity, slot.EntityType, database.JSONB[map[string]models.Entity]{Data: slot.Records}, slot.LastKey, slot.FirstFetched)
	}

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to save entity slots")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to save entity slots: %v", err)
	}
	return nil
}

// SaveMutualSlots replaces every persisted mutual slot with the export.
func (r *Repository) SaveMutualSlots(ctx context.Context, slots []store.MutualSlotExport) error {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.SaveMutualSlots")
	defer span.End()

	if err := r.clearScope(ctx, scopeMutual); err != nil {
		return err
	}
	if len(slots) == 0 {
		return nil
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("cache_snapshots")
	ib.Cols("scope", "slot_key", "records", "last_key", "first_fetched")
	for _, slot := range slots {
		ib.Values(scopeMutual, mutualSlotKey(slot.Key), database.JSONB[map[string]models.Mutual]{Data: slot.Records}, slot.LastKey, slot.FirstFetched)
	}

	query, args := ib.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to save mutual slots")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to save mutual slots: %v", err)
	}
	return nil
}

// LoadEntitySlots reads every persisted entity slot.
func (r *Repository) LoadEntitySlots(ctx context.Context) ([]store.EntitySlotExport, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.LoadEntitySlots")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("slot_key", "records", "last_key", "first_fetched")
	sb.From("cache_snapshots")
	sb.Where(sb.Equal("scope", scopeEntity))
	sb.OrderBy("slot_key")

	query, args := sb.Build()
	var rows []entityRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load entity slots")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to load entity slots: %v", err)
	}

	slots := make([]store.EntitySlotExport, 0, len(rows))
	for _, row := range rows {
		slots = append(slots, store.EntitySlotExport{
			EntityType:   row.SlotKey,
			Records:      row.Records.Data,
			LastKey:      row.LastKey,
			FirstFetched: row.FirstFetched,
		})
	}
	return slots, nil
}

// LoadMutualSlots reads every persisted mutual slot.
func (r *Repository) LoadMutualSlots(ctx context.Context) ([]store.MutualSlotExport, error) {
	ctx, span := tracing.StartSpan(ctx, "snapshot.Repository.LoadMutualSlots")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("slot_key", "records", "last_key", "first_fetched")
	sb.From("cache_snapshots")
	sb.Where(sb.Equal("scope", scopeMutual))
	sb.OrderBy("slot_key")

	query, args := sb.Build()
	var rows []mutualRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to load mutual slots")
		return nil, httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to load mutual slots: %v", err)
	}

	slots := make([]store.MutualSlotExport, 0, len(rows))
	for _, row := range rows {
		key, err := parseMutualSlotKey(row.SlotKey)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).Warn("Skipping malformed mutual slot row")
			continue
		}
		slots = append(slots, store.MutualSlotExport{
			Key:          key,
			Records:      row.Records.Data,
			LastKey:      row.LastKey,
			FirstFetched: row.FirstFetched,
		})
	}
	return slots, nil
}

func (r *Repository) clearScope(ctx context.Context, scope string) error {
	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom("cache_snapshots")
	db.Where(db.Equal("scope", scope))

	query, args := db.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"scope": scope}).Error("Failed to clear snapshot scope")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "failed to clear %s snapshots: %v", scope, err)
	}
	return nil
}
