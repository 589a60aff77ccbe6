package models

import (
	"encoding/json"
	"time"
)

// Mutual is one side of a bidirectional relation between two entities.
// Every logical relation is stored twice, once per perspective: the
// record under the owner's perspective names the owner in the By fields,
// and its mirror under the target's perspective has the roles swapped.
type Mutual struct {
	MutualID     string          `json:"mutual_id" db:"mutual_id"`
	ByEntityType string          `json:"by_entity_type" db:"by_entity_type"`
	ByEntityID   string          `json:"by_entity_id" db:"by_entity_id"`
	EntityType   string          `json:"entity_type" db:"entity_type"`
	EntityID     string          `json:"entity_id" db:"entity_id"`
	MutualData   json.RawMessage `json:"mutual_data,omitempty" db:"mutual_data"`

	// Data denormalizes the related entity's own payload so a single
	// fetch returns entity and relation together. It is perspective
	// specific and is not carried across a flip.
	Data json.RawMessage `json:"data,omitempty" db:"data"`

	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
	MutualUpdatedAt time.Time `json:"mutual_updated_at" db:"mutual_updated_at"`
}

// PerspectiveKey identifies the side of a relation a Mutual is indexed
// under: all relations owned by (OwnerType, OwnerID) pointing at
// TargetType entities.
type PerspectiveKey struct {
	OwnerType  string
	OwnerID    string
	TargetType string
}

func (k PerspectiveKey) String() string {
	return k.OwnerType + "/" + k.OwnerID + "/" + k.TargetType
}

// Perspective returns the key this record is indexed under.
func (m Mutual) Perspective() PerspectiveKey {
	return PerspectiveKey{OwnerType: m.ByEntityType, OwnerID: m.ByEntityID, TargetType: m.EntityType}
}

// MirrorPerspective returns the key the flipped record is indexed under.
func (m Mutual) MirrorPerspective() PerspectiveKey {
	return PerspectiveKey{OwnerType: m.EntityType, OwnerID: m.EntityID, TargetType: m.ByEntityType}
}

// Flip returns the mirror record: owner and target roles swapped, the
// relation payload and timestamps carried over unchanged. Data is
// dropped because the denormalized entity payload belongs to the
// original perspective only.
func (m Mutual) Flip() Mutual {
	flipped := m
	flipped.ByEntityType, flipped.EntityType = m.EntityType, m.ByEntityType
	flipped.ByEntityID, flipped.EntityID = m.EntityID, m.ByEntityID
	flipped.Data = nil
	return flipped
}

// Entity projects the denormalized payload as the target entity record.
func (m Mutual) Entity() Entity {
	return Entity{
		ID:         m.EntityID,
		EntityType: m.EntityType,
		Data:       m.Data,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

// MutualPage is one page from the relation listing endpoint.
type MutualPage struct {
	Entities []Mutual `json:"entities"`
	LastKey  *string  `json:"last_key,omitempty"`
}

// DeleteMutualResult is returned by the remote delete endpoint. It names
// both participants so the cache can clear both perspectives.
type DeleteMutualResult struct {
	EntityID   string `json:"entity_id"`
	ByEntityID string `json:"by_entity_id"`
}
