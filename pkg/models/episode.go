package models

import (
	"time"

	"github.com/google/uuid"
)

// Episode is a rendered narrative snapshot of one subject's state. The ID
// is a fingerprint of the body, so identical state renders to the same
// episode and duplicate writes collapse in the graph.
type Episode struct {
	ID          string    `json:"id"`
	SubjectID   uuid.UUID `json:"subject_id"`
	SubjectKind string    `json:"subject_kind"`
	Body        string    `json:"body"`
	RenderedAt  time.Time `json:"rendered_at"`
}
