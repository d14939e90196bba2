package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EntityStatus is the validation lifecycle state of a canonical entity.
type EntityStatus string

const (
	EntityStatusProvisional EntityStatus = "provisional"
	EntityStatusValidated   EntityStatus = "validated"
	EntityStatusRejected    EntityStatus = "rejected"
)

// CanonicalEntity is a deduplicated company, skill or institution row.
type CanonicalEntity struct {
	ID          uuid.UUID    `json:"id" db:"id"`
	Kind        EntityKind   `json:"kind" db:"kind"`
	Name        string       `json:"name" db:"name"`
	NaturalKey  *string      `json:"natural_key,omitempty" db:"natural_key"`
	Status      EntityStatus `json:"status" db:"status"`
	Confidence  float64      `json:"confidence" db:"confidence"`
	NeedsReview bool         `json:"needs_review" db:"needs_review"`

	// ParentID models hierarchy (e.g. a subsidiary's parent company).
	ParentID *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`

	// ClusterID groups entities suspected to be the same real-world thing.
	ClusterID *uuid.UUID `json:"cluster_id,omitempty" db:"cluster_id"`

	// AliasOf is set when this row was merged into another. The row survives
	// as an alias and is excluded from natural-key uniqueness.
	AliasOf *uuid.UUID `json:"alias_of,omitempty" db:"alias_of"`

	Attributes      json.RawMessage `json:"attributes" db:"attributes"`
	ValidationCount int             `json:"validation_count" db:"validation_count"`
	RejectionCount  int             `json:"rejection_count" db:"rejection_count"`

	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty" db:"last_scraped_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`

	// SyncedAt is the graph projection cursor. NULL means never projected.
	SyncedAt *time.Time `json:"synced_at,omitempty" db:"synced_at"`
}

// IsAlias reports whether this row has been merged into another entity.
func (e *CanonicalEntity) IsAlias() bool {
	return e.AliasOf != nil
}

// IsStale reports whether the graph projection is behind relational state.
func (e *CanonicalEntity) IsStale() bool {
	return e.SyncedAt == nil || e.SyncedAt.Before(e.UpdatedAt)
}

// UpsertEntityRequest is the store input for a scrape-path upsert.
type UpsertEntityRequest struct {
	Kind       EntityKind      `json:"kind" validate:"required"`
	Name       string          `json:"name" validate:"required"`
	NaturalKey string          `json:"natural_key"`
	Confidence float64         `json:"confidence" validate:"gte=0,lte=1"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	ScrapedAt  time.Time       `json:"scraped_at"`
}

// ValidationEvent records a human review decision for audit.
type ValidationEvent struct {
	ID          uuid.UUID `json:"id" db:"id"`
	EntityID    uuid.UUID `json:"entity_id" db:"entity_id"`
	ValidatorID string    `json:"validator_id" db:"validator_id"`
	Accepted    bool      `json:"accepted" db:"accepted"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
