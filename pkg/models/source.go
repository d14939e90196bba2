package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies what a scrape source produces.
type SourceKind string

const (
	SourceKindJobBoard SourceKind = "job_board"
	SourceKindNetwork  SourceKind = "network"
	SourceKindProfile  SourceKind = "profile"
)

// ScrapeSource is a configured external endpoint the scheduler polls.
type ScrapeSource struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	Kind            SourceKind `json:"kind" db:"kind"`
	OwnerUserID     string     `json:"owner_user_id" db:"owner_user_id"`
	Endpoint        string     `json:"endpoint" db:"endpoint"`
	IntervalSeconds int        `json:"interval_seconds" db:"interval_seconds"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Due reports whether the source should be scheduled at the given time.
func (s *ScrapeSource) Due(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.LastRunAt == nil {
		return true
	}
	return now.Sub(*s.LastRunAt) >= time.Duration(s.IntervalSeconds)*time.Second
}
