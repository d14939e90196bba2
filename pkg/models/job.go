package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ClassificationStatus is the AI classification state of a job posting.
type ClassificationStatus string

const (
	ClassificationPending      ClassificationStatus = "pending"
	ClassificationClassified   ClassificationStatus = "classified"
	ClassificationUnclassified ClassificationStatus = "unclassified"
)

// JobPosting is a scraped job, keyed by its canonical posting URL.
type JobPosting struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	PostingURL string     `json:"posting_url" db:"posting_url"`
	CompanyID  *uuid.UUID `json:"company_id,omitempty" db:"company_id"`
	Title      string     `json:"title" db:"title"`

	Description *string `json:"description,omitempty" db:"description"`

	// Classified holds the validated AI extraction. NULL until a
	// classification passes schema validation; never partially populated.
	Classified           json.RawMessage      `json:"classified,omitempty" db:"classified"`
	ClassificationStatus ClassificationStatus `json:"classification_status" db:"classification_status"`

	SourceID  uuid.UUID `json:"source_id" db:"source_id"`
	ScrapedAt time.Time `json:"scraped_at" db:"scraped_at"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty" db:"synced_at"`
}

// IsStale reports whether the graph projection is behind relational state.
func (j *JobPosting) IsStale() bool {
	return j.SyncedAt == nil || j.SyncedAt.Before(j.UpdatedAt)
}

// ClassifiedJob is the structured extraction produced by the classification
// adapter. The validate tags are the acceptance schema: output failing them
// is discarded wholesale.
type ClassifiedJob struct {
	Seniority      string   `json:"seniority" validate:"required,oneof=intern junior mid senior staff principal director executive"`
	EmploymentType string   `json:"employment_type" validate:"required,oneof=full_time part_time contract internship"`
	RemotePolicy   string   `json:"remote_policy" validate:"required,oneof=onsite hybrid remote"`
	Skills         []string `json:"skills" validate:"required,min=1,dive,required"`
	SalaryMin      *int     `json:"salary_min,omitempty" validate:"omitempty,gte=0"`
	SalaryMax      *int     `json:"salary_max,omitempty" validate:"omitempty,gtefield=SalaryMin"`
	Currency       *string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	YearsExpMin    *int     `json:"years_experience_min,omitempty" validate:"omitempty,gte=0,lte=50"`
}

// UpsertJobRequest is the store input for a job posting upsert.
type UpsertJobRequest struct {
	PostingURL  string     `json:"posting_url" validate:"required,url"`
	CompanyID   *uuid.UUID `json:"company_id,omitempty"`
	Title       string     `json:"title" validate:"required"`
	Description *string    `json:"description,omitempty"`
	SourceID    uuid.UUID  `json:"source_id" validate:"required"`
	ScrapedAt   time.Time  `json:"scraped_at"`
}
