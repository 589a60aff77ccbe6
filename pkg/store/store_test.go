package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func newTestStore() *Store {
	return New(ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func entity(entityType, id string, data string) models.Entity {
	return models.Entity{ID: id, EntityType: entityType, Data: json.RawMessage(data)}
}

func mutual(byType, byID, entityType, entityID, payload string) models.Mutual {
	return models.Mutual{
		MutualID:     byID + "-" + entityID,
		ByEntityType: byType,
		ByEntityID:   byID,
		EntityType:   entityType,
		EntityID:     entityID,
		MutualData:   json.RawMessage(payload),
	}
}

func strptr(s string) *string { return &s }

func TestMergeEntityPage(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Commit(ctx, func(state *State) {
		state.PutEntity(entity("user", "u1", `{"v":1}`))
	})
	s.Commit(ctx, func(state *State) {
		state.MergeEntityPage("user", []models.Entity{
			entity("user", "u1", `{"v":2}`),
			entity("user", "u2", `{"v":1}`),
		}, strptr("u2"))
	})

	got, ok := s.Entity("user", "u1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":2}`, string(got.Data), "fetched records win on collision")
	assert.Len(t, s.Entities("user"), 2)
	require.NotNil(t, s.EntityCursor("user"))
	assert.Equal(t, "u2", *s.EntityCursor("user"))
	assert.True(t, s.FirstFetched("user"))
}

func TestReplaceEntityPage(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Commit(ctx, func(state *State) {
		state.MergeEntityPage("user", []models.Entity{entity("user", "u1", `{}`)}, nil)
	})
	s.Commit(ctx, func(state *State) {
		state.ReplaceEntityPage("user", []models.Entity{entity("user", "u9", `{}`)}, nil)
	})

	_, ok := s.Entity("user", "u1")
	assert.False(t, ok, "replace must drop records outside the page")
	_, ok = s.Entity("user", "u9")
	assert.True(t, ok)
}

func TestAppendEntityPageKeepsFlags(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Commit(ctx, func(state *State) {
		state.MergeEntityPage("user", []models.Entity{entity("user", "u1", `{}`)}, strptr("u1"))
	})
	s.Commit(ctx, func(state *State) {
		state.AppendEntityPage("user", []models.Entity{entity("user", "u2", `{}`)}, nil)
	})

	assert.True(t, s.FirstFetched("user"))
	assert.Nil(t, s.EntityCursor("user"), "exhausted chain clears the cursor")
	assert.Len(t, s.Entities("user"), 2)
}

func TestSearchResultsAreAdditiveAndTransient(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Commit(ctx, func(state *State) {
		state.MergeEntityPage("user", []models.Entity{entity("user", "u1", `{}`)}, nil)
	})
	s.Commit(ctx, func(state *State) {
		state.SetSearchResults("user", []models.Entity{entity("user", "u2", `{}`)})
	})

	assert.Len(t, s.SearchResults("user"), 1)
	assert.Len(t, s.Entities("user"), 2, "search hits merge into the canonical records")

	s.Commit(ctx, func(state *State) {
		state.SetSearchResults("user", nil)
	})
	assert.Empty(t, s.SearchResults("user"))
	assert.Len(t, s.Entities("user"), 2, "clearing search results never purges records")
}

func TestPutMutualPairWritesBothPerspectives(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	m := mutual("user", "u1", "team", "t1", `{"role":"admin"}`)
	m.Data = json.RawMessage(`{"name":"platform"}`)

	s.Commit(ctx, func(state *State) {
		state.PutMutualPair(m)
	})

	forward, ok := s.Mutual(models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}, "t1")
	require.True(t, ok)
	assert.Equal(t, "user", forward.ByEntityType)
	assert.JSONEq(t, `{"role":"admin"}`, string(forward.MutualData))

	mirror, ok := s.Mutual(models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "user"}, "u1")
	require.True(t, ok)
	assert.Equal(t, "team", mirror.ByEntityType)
	assert.Equal(t, "u1", mirror.EntityID)
	assert.JSONEq(t, `{"role":"admin"}`, string(mirror.MutualData))
	assert.Nil(t, mirror.Data)
}

func TestReplaceMutualPageLeavesMirrorAlone(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}

	s.Commit(ctx, func(state *State) {
		state.PutMutualPair(mutual("user", "u1", "team", "t0", `{}`))
	})
	s.Commit(ctx, func(state *State) {
		state.ReplaceMutualPage(key, []models.Mutual{mutual("user", "u1", "team", "t1", `{}`)}, nil)
	})

	_, ok := s.Mutual(key, "t0")
	assert.False(t, ok, "replace drops stale forward records")
	_, ok = s.Mutual(key, "t1")
	assert.True(t, ok)
	assert.True(t, s.MutualsFirstFetched(key))

	_, ok = s.Mutual(models.PerspectiveKey{OwnerType: "team", OwnerID: "t0", TargetType: "user"}, "u1")
	assert.True(t, ok, "mirror perspective is not touched by a listing")
}

func TestRemoveMutualPairIsIdempotent(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()
	key := models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}

	s.Commit(ctx, func(state *State) {
		state.PutMutualPair(mutual("user", "u1", "team", "t1", `{}`))
	})

	for i := 0; i < 2; i++ {
		s.Commit(ctx, func(state *State) {
			state.RemoveMutualPair(key, "t1", "u1")
		})
	}

	_, ok := s.Mutual(key, "t1")
	assert.False(t, ok)
	_, ok = s.Mutual(models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "user"}, "u1")
	assert.False(t, ok)
}

func TestPurgeEntityRelations(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Commit(ctx, func(state *State) {
		state.PutMutualPair(mutual("user", "u1", "team", "t1", `{"role":"admin"}`))
		state.PutMutualPair(mutual("team", "t1", "project", "p1", `{}`))
		state.PutMutualPair(mutual("user", "u2", "team", "t2", `{}`))
	})

	// Delete team t1: scan its own perspectives and clear the mirrors.
	s.Commit(ctx, func(state *State) {
		state.RemoveEntity("team", "t1")
		state.PurgeEntityRelations("team", "t1", []string{"user", "project"})
	})

	_, ok := s.Mutual(models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}, "t1")
	assert.False(t, ok, "mirror entry naming the deleted entity must be removed")
	_, ok = s.Mutual(models.PerspectiveKey{OwnerType: "project", OwnerID: "p1", TargetType: "team"}, "t1")
	assert.False(t, ok)

	assert.Empty(t, s.Mutuals(models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "user"}))
	assert.Empty(t, s.Mutuals(models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "project"}))

	_, ok = s.Mutual(models.PerspectiveKey{OwnerType: "user", OwnerID: "u2", TargetType: "team"}, "t2")
	assert.True(t, ok, "unrelated relations survive the cascade")
}

func TestCommitIsAtomicForReaders(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Commit(ctx, func(state *State) {
		state.PutEntity(entity("user", "u1", `{}`))
		state.PutMutualPair(mutual("user", "u1", "team", "t1", `{}`))
	})

	// Both writes from the commit are visible together.
	_, entOK := s.Entity("user", "u1")
	_, fwdOK := s.Mutual(models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}, "t1")
	_, mirOK := s.Mutual(models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "user"}, "u1")
	assert.True(t, entOK && fwdOK && mirOK)
}

func TestExportRestoreRoundTrip(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	s.Commit(ctx, func(state *State) {
		state.MergeEntityPage("user", []models.Entity{entity("user", "u1", `{"v":1}`)}, strptr("u1"))
		state.PutMutualPair(mutual("user", "u1", "team", "t1", `{"role":"admin"}`))
		state.SetSearchResults("user", []models.Entity{entity("user", "u1", `{"v":1}`)})
	})

	entities, mutuals := s.Export()
	require.NotEmpty(t, entities)
	require.NotEmpty(t, mutuals)

	restored := newTestStore()
	restored.Restore(ctx, entities, mutuals)

	got, ok := restored.Entity("user", "u1")
	require.True(t, ok)
	assert.JSONEq(t, `{"v":1}`, string(got.Data))
	assert.True(t, restored.FirstFetched("user"))
	require.NotNil(t, restored.EntityCursor("user"))
	assert.Equal(t, "u1", *restored.EntityCursor("user"))

	_, ok = restored.Mutual(models.PerspectiveKey{OwnerType: "team", OwnerID: "t1", TargetType: "user"}, "u1")
	assert.True(t, ok, "mirror perspective survives the round trip")

	assert.Empty(t, restored.SearchResults("user"), "search results are transient and never exported")
}
