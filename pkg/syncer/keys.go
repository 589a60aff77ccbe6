package syncer

import (
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracker"
)

func entityListKey(entityType string) tracker.Key {
	return tracker.Key{Scope: tracker.ScopeEntity, Op: tracker.OpList, EntityType: entityType}
}

func entityTagKey(entityType string, tagName string) tracker.Key {
	return tracker.Key{Scope: tracker.ScopeEntity, Op: tracker.OpTag, EntityType: entityType, Qualifier: tagName}
}

func entitySearchKey(entityType string, query string) tracker.Key {
	return tracker.Key{Scope: tracker.ScopeEntity, Op: tracker.OpSearch, EntityType: entityType, Qualifier: query}
}

func entityGetKey(entityType string, id string) tracker.Key {
	return tracker.Key{Scope: tracker.ScopeEntity, Op: tracker.OpGet, EntityType: entityType, EntityID: id}
}

func mutualListKey(key models.PerspectiveKey, chainQuery string) tracker.Key {
	return tracker.Key{
		Scope:        tracker.ScopeMutual,
		Op:           tracker.OpList,
		ByEntityType: key.OwnerType,
		ByEntityID:   key.OwnerID,
		EntityType:   key.TargetType,
		Qualifier:    chainQuery,
	}
}

func mutualGetKey(key models.PerspectiveKey, targetID string) tracker.Key {
	return tracker.Key{
		Scope:        tracker.ScopeMutual,
		Op:           tracker.OpGet,
		ByEntityType: key.OwnerType,
		ByEntityID:   key.OwnerID,
		EntityType:   key.TargetType,
		EntityID:     targetID,
	}
}
