package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityKind enumerates the kinds of things the pipeline resolves.
type EntityKind string

const (
	KindCompany     EntityKind = "company"
	KindSkill       EntityKind = "skill"
	KindInstitution EntityKind = "institution"
	KindPerson      EntityKind = "person"
	KindJob         EntityKind = "job"
)

// IsCanonical reports whether the kind is stored in canonical_entities.
// Person and job records have their own tables.
func (k EntityKind) IsCanonical() bool {
	return k == KindCompany || k == KindSkill || k == KindInstitution
}

// RawRecord is a scraped payload before normalization.
type RawRecord struct {
	Kind        EntityKind     `json:"kind"`
	SourceID    uuid.UUID      `json:"source_id"`
	OwnerUserID string         `json:"owner_user_id"`
	Payload     map[string]any `json:"payload"`
	ScrapedAt   time.Time      `json:"scraped_at"`
}

// NormalizedRecord is the in-memory shape produced by the normalizer and
// consumed exactly once by the matcher. It is never persisted.
type NormalizedRecord struct {
	Kind        EntityKind
	SourceID    uuid.UUID
	OwnerUserID string

	// NaturalKey is the kind-specific dedup key: domain root for companies,
	// normalized name for skills and institutions, profile URL for people,
	// posting URL for jobs.
	NaturalKey string

	Name  string
	Title string

	// Company linkage for person and job records.
	CompanyKey  string
	CompanyName string

	SkillNames  []string
	Description string

	Attributes map[string]any
	ScrapedAt  time.Time
}
