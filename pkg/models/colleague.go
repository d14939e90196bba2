package models

import (
	"time"

	"github.com/google/uuid"
)

// Colleague is a person observed in an owner's professional network.
// LinkedIn profile URL is the identity key; profile attributes update in
// place as fresher scrapes arrive.
type Colleague struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	OwnerUserID string     `json:"owner_user_id" db:"owner_user_id"`
	LinkedinURL string     `json:"linkedin_url" db:"linkedin_url"`
	Name        string     `json:"name" db:"name"`
	Title       *string    `json:"title,omitempty" db:"title"`
	CompanyID   *uuid.UUID `json:"company_id,omitempty" db:"company_id"`

	// IsQuestUser and QuestUserID link a colleague to a platform account.
	// The link is set exactly once and never overwritten.
	IsQuestUser bool    `json:"is_quest_user" db:"is_quest_user"`
	QuestUserID *string `json:"quest_user_id,omitempty" db:"quest_user_id"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	SyncedAt  *time.Time `json:"synced_at,omitempty" db:"synced_at"`
}

// UpsertColleagueRequest is the store input for a colleague upsert.
type UpsertColleagueRequest struct {
	OwnerUserID string     `json:"owner_user_id" validate:"required"`
	LinkedinURL string     `json:"linkedin_url" validate:"required,url"`
	Name        string     `json:"name" validate:"required"`
	Title       *string    `json:"title,omitempty"`
	CompanyID   *uuid.UUID `json:"company_id,omitempty"`
}
