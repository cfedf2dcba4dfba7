package domain

import (
	"encoding/json"
	"time"
)

// RelationshipType tags a dependency edge. The graph algorithms treat the
// type as opaque payload; it only matters for audit and configuration.
type RelationshipType string

// Supported relationship types.
const (
	RelSyncAPI    RelationshipType = "SYNC_API"
	RelAsyncEvent RelationshipType = "ASYNC_EVENT"
	RelDataDep    RelationshipType = "DATA_DEPENDENCY"
)

// Relationship is a directed, typed edge between two services of one project.
type Relationship struct {
	ID              string           `json:"id"`
	SourceServiceID string           `json:"sourceServiceId"`
	TargetServiceID string           `json:"targetServiceId"`
	Type            RelationshipType `json:"type"`
	Config          json.RawMessage  `json:"config,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

// ValidRelationshipType reports enum membership.
func ValidRelationshipType(t RelationshipType) bool {
	switch t {
	case RelSyncAPI, RelAsyncEvent, RelDataDep:
		return true
	}
	return false
}
