package syncer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/internal/remotetest"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/remote"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracker"
)

func newIntegrationEngine(t *testing.T, relations models.RelationConfig) (*Engine, *remotetest.Server) {
	t.Helper()

	server := remotetest.New()
	t.Cleanup(server.Close)

	logger := nopLogger()
	client := remote.NewClient(remote.DefaultConfig(server.URL()), logger)
	engine := NewEngine(
		logger,
		store.New(logger),
		tracker.New(logger),
		remote.NewEntityService(client, logger),
		remote.NewMutualService(client, logger),
		relations,
		nil,
	)
	return engine, server
}

func TestIntegrationListPagination(t *testing.T) {
	engine, server := newIntegrationEngine(t, nil)
	server.PageSize = 2

	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		server.SeedEntity(models.Entity{ID: id, EntityType: "user", Data: json.RawMessage(`{}`)})
	}

	ctx := context.Background()
	require.NoError(t, engine.ListEntities(ctx, "user", ListOptions{}))
	assert.Len(t, engine.Store().Entities("user"), 2)
	require.NotNil(t, engine.Store().EntityCursor("user"))

	for engine.Store().EntityCursor("user") != nil {
		require.NoError(t, engine.ListMoreEntities(ctx, "user"))
	}

	got := engine.Store().Entities("user")
	assert.Len(t, got, 5, "cursor chain yields every record exactly once")
	assert.Equal(t, 3, server.Calls("list"))
}

func TestIntegrationListAll(t *testing.T) {
	engine, server := newIntegrationEngine(t, nil)
	server.PageSize = 2

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		server.SeedEntity(models.Entity{ID: id, EntityType: "doc", Data: json.RawMessage(`{}`)})
	}

	require.NoError(t, engine.ListEntities(context.Background(), "doc", ListOptions{All: true}))
	assert.Len(t, engine.Store().Entities("doc"), 5)
	assert.Nil(t, engine.Store().EntityCursor("doc"))
}

func TestIntegrationEntityLifecycle(t *testing.T) {
	engine, server := newIntegrationEngine(t, models.RelationConfig{"user": {"team"}, "team": {"user"}})
	ctx := context.Background()

	created, err := engine.CreateEntity(ctx, "user", json.RawMessage(`{"name":"ada"}`))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	edited, err := engine.EditEntity(ctx, "user", created.ID, json.RawMessage(`{"title":"dr"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada","title":"dr"}`, string(edited.Data), "edit merges shallowly on the backend")

	cached, ok := engine.Store().Entity("user", created.ID)
	require.True(t, ok)
	assert.JSONEq(t, string(edited.Data), string(cached.Data))

	require.NoError(t, engine.DeleteEntity(ctx, "user", created.ID))
	_, ok = engine.Store().Entity("user", created.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, server.Calls("get"), "lifecycle never needed a get")
}

func TestIntegrationGetGuardAfterFailure(t *testing.T) {
	engine, server := newIntegrationEngine(t, nil)
	ctx := context.Background()

	server.FailNext("get", 1)
	_, err := engine.GetEntity(ctx, "user", "missing")
	require.Error(t, err)

	// Guarded: the recorded failure suppresses the retry entirely.
	got, err := engine.GetEntity(ctx, "user", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, server.Calls("get"))
}

func TestIntegrationSearchAndTags(t *testing.T) {
	engine, server := newIntegrationEngine(t, nil)
	ctx := context.Background()

	server.SeedEntity(models.Entity{ID: "u1", EntityType: "user", Data: json.RawMessage(`{"name":"ada"}`)}, "vip")
	server.SeedEntity(models.Entity{ID: "u2", EntityType: "user", Data: json.RawMessage(`{"name":"grace"}`)})

	hits, err := engine.SearchEntities(ctx, "user", "ada")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "u1", hits[0].ID)

	page, err := engine.ListEntitiesByTag(ctx, "user", "vip", models.ListParams{})
	require.NoError(t, err)
	require.NotNil(t, page)
	require.Len(t, page.Entities, 1)

	assert.Len(t, engine.Store().Entities("user"), 2, "search and tag hits merge into the records")
	assert.False(t, engine.Store().FirstFetched("user"))
}

func TestIntegrationMutualLifecycle(t *testing.T) {
	engine, server := newIntegrationEngine(t, models.RelationConfig{"user": {"team"}, "team": {"user"}})
	ctx := context.Background()

	server.SeedEntity(models.Entity{ID: "u1", EntityType: "user", Data: json.RawMessage(`{}`)})
	server.SeedEntity(models.Entity{ID: "t1", EntityType: "team", Data: json.RawMessage(`{"name":"platform"}`)})

	created, err := engine.CreateMutual(ctx, "user", "team", "u1", "t1", json.RawMessage(`{"role":"admin"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"platform"}`, string(created.Data), "backend denormalizes the target payload")

	forward := models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}
	mirror := models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "user"}
	_, ok := engine.Store().Mutual(forward, "t1")
	require.True(t, ok)
	_, ok = engine.Store().Mutual(mirror, "u1")
	require.True(t, ok)

	_, err = engine.EditMutual(ctx, "user", "team", "u1", "t1", json.RawMessage(`{"role":"owner"}`))
	require.NoError(t, err)
	got, _ := engine.Store().Mutual(mirror, "u1")
	assert.JSONEq(t, `{"role":"owner"}`, string(got.MutualData))

	result, err := engine.DeleteMutual(ctx, "user", "team", "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", result.EntityID)

	_, ok = engine.Store().Mutual(forward, "t1")
	assert.False(t, ok)
	_, ok = engine.Store().Mutual(mirror, "u1")
	assert.False(t, ok)
}

func TestIntegrationListMutualsChainQuery(t *testing.T) {
	engine, server := newIntegrationEngine(t, nil)
	ctx := context.Background()

	server.SeedEntity(models.Entity{ID: "t1", EntityType: "team", Data: json.RawMessage(`{}`)})
	server.SeedEntity(models.Entity{ID: "t2", EntityType: "team", Data: json.RawMessage(`{}`)})
	server.SeedMutual(models.Mutual{
		MutualID: "m1", ByEntityType: "user", ByEntityID: "u1", EntityType: "team", EntityID: "t1",
		MutualData: json.RawMessage(`{"role":"admin"}`),
	})
	server.SeedMutual(models.Mutual{
		MutualID: "m2", ByEntityType: "user", ByEntityID: "u1", EntityType: "team", EntityID: "t2",
		MutualData: json.RawMessage(`{"role":"guest"}`),
	})

	require.NoError(t, engine.ListMutuals(ctx, "user", "team", "u1", ListMutualsOptions{ChainQuery: "admin"}))

	forward := models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}
	got := engine.Store().Mutuals(forward)
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].EntityID)
}

func TestIntegrationGetMutualDefaultFallback(t *testing.T) {
	engine, server := newIntegrationEngine(t, nil)
	ctx := context.Background()

	server.FailNext("mutual.get", 1)
	got, err := engine.GetMutual(ctx, "user", "team", "u1", "t1", GetMutualOptions{
		DefaultMutualData: json.RawMessage(`{"role":"guest"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1-t1", got.MutualID)

	cached, ok := engine.Store().Mutual(models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}, "t1")
	require.True(t, ok)
	assert.JSONEq(t, `{"role":"guest"}`, string(cached.MutualData))
}

func TestIntegrationDeleteEntityCascadesRemoteAndLocal(t *testing.T) {
	engine, server := newIntegrationEngine(t, models.RelationConfig{"user": {"team"}, "team": {"user"}})
	ctx := context.Background()

	server.SeedEntity(models.Entity{ID: "u1", EntityType: "user", Data: json.RawMessage(`{}`)})
	server.SeedEntity(models.Entity{ID: "t1", EntityType: "team", Data: json.RawMessage(`{}`)})
	_, err := engine.CreateMutual(ctx, "user", "team", "u1", "t1", json.RawMessage(`{"role":"admin"}`))
	require.NoError(t, err)

	require.NoError(t, engine.DeleteEntity(ctx, "team", "t1"))

	_, ok := engine.Store().Mutual(models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}, "t1")
	assert.False(t, ok)
	assert.Empty(t, engine.Store().Mutuals(models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "user"}))
}
