package store

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

// EntitySlot holds everything cached for one entity type.
type EntitySlot struct {
	Records      map[string]models.Entity
	LastKey      *string
	FirstFetched bool

	// SearchResults is transient: it is replaced wholesale by each
	// search and never feeds the pagination cursor.
	SearchResults []models.Entity
}

// MutualSlot holds one perspective of the relation mirror: all relations
// owned by (OwnerType, OwnerID) pointing at TargetType, keyed by target id.
type MutualSlot struct {
	Records      map[string]models.Mutual
	LastKey      *string
	FirstFetched bool
}

// State is one immutable snapshot of the mirror. Mutation methods may
// only be called on the writable copy handed to a Commit callback.
type State struct {
	Entities map[string]*EntitySlot
	Mutuals  map[models.PerspectiveKey]*MutualSlot
}

// NewState returns an empty snapshot.
func NewState() *State {
	return &State{
		Entities: make(map[string]*EntitySlot),
		Mutuals:  make(map[models.PerspectiveKey]*MutualSlot),
	}
}

func (s *State) clone() *State {
	next := &State{
		Entities: make(map[string]*EntitySlot, len(s.Entities)),
		Mutuals:  make(map[models.PerspectiveKey]*MutualSlot, len(s.Mutuals)),
	}

	for entityType, slot := range s.Entities {
		records := make(map[string]models.Entity, len(slot.Records))
		for id, e := range slot.Records {
			records[id] = e
		}
		next.Entities[entityType] = &EntitySlot{
			Records:       records,
			LastKey:       slot.LastKey,
			FirstFetched:  slot.FirstFetched,
			SearchResults: slot.SearchResults,
		}
	}

	for key, slot := range s.Mutuals {
		records := make(map[string]models.Mutual, len(slot.Records))
		for id, m := range slot.Records {
			records[id] = m
		}
		next.Mutuals[key] = &MutualSlot{
			Records:      records,
			LastKey:      slot.LastKey,
			FirstFetched: slot.FirstFetched,
		}
	}

	return next
}

func (s *State) entitySlot(entityType string) *EntitySlot {
	slot, ok := s.Entities[entityType]
	if !ok {
		slot = &EntitySlot{Records: make(map[string]models.Entity)}
		s.Entities[entityType] = slot
	}
	return slot
}

func (s *State) mutualSlot(key models.PerspectiveKey) *MutualSlot {
	slot, ok := s.Mutuals[key]
	if !ok {
		slot = &MutualSlot{Records: make(map[string]models.Mutual)}
		s.Mutuals[key] = slot
	}
	return slot
}

// PutEntity inserts or overwrites a single record.
func (s *State) PutEntity(e models.Entity) {
	s.entitySlot(e.EntityType).Records[e.ID] = e
}

// MergeEntityPage merges a fetched page into the slot (new records win),
// stores its cursor, and marks the slot first-fetched.
func (s *State) MergeEntityPage(entityType string, entities []models.Entity, lastKey *string) {
	slot := s.entitySlot(entityType)
	for _, e := range entities {
		slot.Records[e.ID] = e
	}
	slot.LastKey = lastKey
	slot.FirstFetched = true
}

// ReplaceEntityPage replaces the slot's records with a fetched page,
// stores its cursor, and marks the slot first-fetched.
func (s *State) ReplaceEntityPage(entityType string, entities []models.Entity, lastKey *string) {
	slot := s.entitySlot(entityType)
	slot.Records = make(map[string]models.Entity, len(entities))
	for _, e := range entities {
		slot.Records[e.ID] = e
	}
	slot.LastKey = lastKey
	slot.FirstFetched = true
}

// AppendEntityPage merges the next page of a cursor chain and advances
// the cursor. It never touches FirstFetched.
func (s *State) AppendEntityPage(entityType string, entities []models.Entity, lastKey *string) {
	slot := s.entitySlot(entityType)
	for _, e := range entities {
		slot.Records[e.ID] = e
	}
	slot.LastKey = lastKey
}

// SetSearchResults replaces the transient search list and merges the
// results into the canonical records. Search never purges the slot.
func (s *State) SetSearchResults(entityType string, entities []models.Entity) {
	slot := s.entitySlot(entityType)
	slot.SearchResults = entities
	for _, e := range entities {
		slot.Records[e.ID] = e
	}
}

// RemoveEntity drops the record. Relation cleanup is a separate step,
// see PurgeEntityRelations.
func (s *State) RemoveEntity(entityType string, id string) {
	if slot, ok := s.Entities[entityType]; ok {
		delete(slot.Records, id)
	}
}

// PutMutual writes one perspective only. Used when the mirror must not
// be synthesized (one-directional listings, local fallbacks).
func (s *State) PutMutual(m models.Mutual) {
	s.mutualSlot(m.Perspective()).Records[m.EntityID] = m
}

// PutMutualPair writes the record and its flipped mirror. Both writes
// land in the same snapshot, so readers never see one side without the
// other.
func (s *State) PutMutualPair(m models.Mutual) {
	s.PutMutual(m)
	s.PutMutual(m.Flip())
}

// ReplaceMutualPage replaces one perspective's records with a fetched
// set, stores its cursor, and marks the slot first-fetched. The mirror
// perspective is deliberately untouched.
func (s *State) ReplaceMutualPage(key models.PerspectiveKey, mutuals []models.Mutual, lastKey *string) {
	slot := s.mutualSlot(key)
	slot.Records = make(map[string]models.Mutual, len(mutuals))
	for _, m := range mutuals {
		slot.Records[m.EntityID] = m
	}
	slot.LastKey = lastKey
	slot.FirstFetched = true
}

// RemoveMutualPair removes a relation from the owner's perspective and,
// if the mirror perspective has been materialized, from there as well.
// Safe to call when neither side exists.
func (s *State) RemoveMutualPair(key models.PerspectiveKey, targetID string, ownerID string) {
	if slot, ok := s.Mutuals[key]; ok {
		delete(slot.Records, targetID)
	}

	mirror := models.PerspectiveKey{OwnerType: key.TargetType, OwnerID: targetID, TargetType: key.OwnerType}
	if slot, ok := s.Mutuals[mirror]; ok {
		delete(slot.Records, ownerID)
	}
}

// PurgeEntityRelations is the cascade step of entity deletion. For every
// configured relation target type it scans the deleted entity's own
// perspective, removes the mirrored record naming this entity as the
// target, and drops the entity's own perspective slot. Relations that
// were only ever materialized one-directionally on a foreign perspective
// are left to that perspective's owner.
func (s *State) PurgeEntityRelations(entityType string, id string, relatedTypes []string) {
	for _, targetType := range relatedTypes {
		key := models.PerspectiveKey{OwnerType: entityType, OwnerID: id, TargetType: targetType}
		slot, ok := s.Mutuals[key]
		if !ok {
			continue
		}

		for targetID := range slot.Records {
			mirror := models.PerspectiveKey{OwnerType: targetType, OwnerID: targetID, TargetType: entityType}
			if mirrorSlot, ok := s.Mutuals[mirror]; ok {
				delete(mirrorSlot.Records, id)
			}
		}

		delete(s.Mutuals, key)
	}
}
