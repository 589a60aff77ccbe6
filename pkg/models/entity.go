package models

import (
	"encoding/json"
	"time"
)

// Entity is a typed record mirrored from the remote service. IDs are
// unique within an entity type, never globally.
type Entity struct {
	ID         string          `json:"id" db:"id"`
	EntityType string          `json:"entity_type" db:"entity_type"`
	Data       json.RawMessage `json:"data,omitempty" db:"data"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at" db:"updated_at"`
}

// ListParams are the pagination bounds forwarded to the remote list
// endpoints. LastKey is an opaque continuation token returned by the
// backend and passed back verbatim for the next page.
type ListParams struct {
	Limit   int     `json:"limit,omitempty"`
	Start   string  `json:"start,omitempty"`
	End     string  `json:"end,omitempty"`
	LastKey *string `json:"last_key,omitempty"`
}

// EntityPage is one page from the entity list endpoint. A nil LastKey
// signals end of data.
type EntityPage struct {
	Data    []Entity `json:"data"`
	LastKey *string  `json:"last_key,omitempty"`
}

// TaggedPage is one page from the tag listing endpoint.
type TaggedPage struct {
	Entities []Entity `json:"entities"`
	LastKey  *string  `json:"last_key,omitempty"`
}

// SearchResult is the response of the entity search endpoint.
type SearchResult struct {
	Data []Entity `json:"data"`
}
