package models

import "github.com/google/uuid"

// MatchKind is the matcher's decision for a normalized record.
type MatchKind string

const (
	// MatchExactKey means a canonical row with the same natural key exists.
	MatchExactKey MatchKind = "exact_key"

	// MatchSelf means a person record is the owner's own profile. It never
	// produces a colleague row.
	MatchSelf MatchKind = "self"

	// MatchProbable means the best fuzzy candidate scored at or above the
	// probable threshold and the record folds into that entity.
	MatchProbable MatchKind = "probable"

	// MatchAmbiguous means the best score fell in the review band. The
	// record persists as a new provisional entity flagged for review.
	MatchAmbiguous MatchKind = "ambiguous"

	// MatchNew means no candidate cleared the ambiguous threshold.
	MatchNew MatchKind = "new"
)

// MatchDecision is the outcome of matching one record against the store.
type MatchDecision struct {
	Kind MatchKind `json:"kind"`

	// EntityID is the matched canonical entity for exact and probable
	// decisions.
	EntityID *uuid.UUID `json:"entity_id,omitempty"`

	// Score is the best fuzzy similarity observed, 0 for exact decisions.
	Score float64 `json:"score"`

	// CandidateIDs are the review-band candidates for ambiguous decisions.
	CandidateIDs []uuid.UUID `json:"candidate_ids,omitempty"`
}
