package models

import (
	"encoding/json"
	"fmt"

	"github.com/Gobusters/ectolinq"
)

// RelationConfig maps an entity type to the entity types it can hold
// mutual relations with. Cascade cleanup consults it to know which
// perspective keys to scan when an entity is removed.
type RelationConfig map[string][]string

// ParseRelationConfig parses the JSON form used in configuration, e.g.
// {"user": ["team", "project"], "team": ["user"]}.
func ParseRelationConfig(raw string) (RelationConfig, error) {
	if raw == "" {
		return RelationConfig{}, nil
	}

	var cfg RelationConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse relation config: %w", err)
	}
	return cfg, nil
}

// RelatedTypes returns the entity types configured as relation targets
// for the given entity type.
func (c RelationConfig) RelatedTypes(entityType string) []string {
	return c[entityType]
}

// Related reports whether targetType is a configured relation target of
// entityType.
func (c RelationConfig) Related(entityType string, targetType string) bool {
	return ectolinq.Contains(c[entityType], targetType)
}
