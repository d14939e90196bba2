package projector

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

// Renderer turns canonical state into narrative episode bodies. Rendering
// is deterministic: the same state always produces the same bytes, so the
// episode fingerprint is stable and unchanged subjects never generate new
// episodes.
type Renderer struct{}

// NewRenderer creates a new Renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderEntity renders a canonical entity's episode body.
func (r *Renderer) RenderEntity(entity *models.CanonicalEntity) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s is a %s with status %s and confidence %.2f.", entity.Name, entity.Kind, entity.Status, entity.Confidence)
	if entity.NaturalKey != nil && *entity.NaturalKey != "" {
		fmt.Fprintf(&b, " It is identified by %s.", *entity.NaturalKey)
	}

	if attrs := sortedAttributes(entity.Attributes); len(attrs) > 0 {
		fmt.Fprintf(&b, " Known attributes: %s.", strings.Join(attrs, ", "))
	}

	if entity.ValidationCount > 0 {
		fmt.Fprintf(&b, " Confirmed by %d validation(s).", entity.ValidationCount)
	}

	return b.String()
}

// RenderColleague renders a colleague's episode body. companyName may be
// empty when the colleague has no resolved company.
func (r *Renderer) RenderColleague(colleague *models.Colleague, companyName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s is a professional contact of user %s.", colleague.Name, colleague.OwnerUserID)
	if colleague.Title != nil && *colleague.Title != "" {
		fmt.Fprintf(&b, " Their title is %s.", *colleague.Title)
	}
	if companyName != "" {
		fmt.Fprintf(&b, " They work at %s.", companyName)
	}
	if colleague.IsQuestUser {
		b.WriteString(" They are a registered platform user.")
	}

	return b.String()
}

// RenderJob renders a job posting's episode body. Skills are sorted so the
// body does not depend on classification output order.
func (r *Renderer) RenderJob(posting *models.JobPosting, companyName string, skills []string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s is an open position", posting.Title)
	if companyName != "" {
		fmt.Fprintf(&b, " at %s", companyName)
	}
	b.WriteString(".")

	if len(skills) > 0 {
		sorted := make([]string, len(skills))
		copy(sorted, skills)
		sort.Strings(sorted)
		fmt.Fprintf(&b, " It requires %s.", strings.Join(sorted, ", "))
	}

	if posting.ClassificationStatus == models.ClassificationClassified && len(posting.Classified) > 0 {
		var classified models.ClassifiedJob
		if err := json.Unmarshal(posting.Classified, &classified); err == nil {
			fmt.Fprintf(&b, " The role is %s level, %s, %s.", classified.Seniority, classified.EmploymentType, classified.RemotePolicy)
		}
	}

	return b.String()
}

// Fingerprint derives the episode id from the subject and body. Identical
// state fingerprints identically across passes and processes.
func (r *Renderer) Fingerprint(subjectKind, subjectID, body string) string {
	sum := sha256.Sum256([]byte(subjectKind + "|" + subjectID + "|" + body))
	return hex.EncodeToString(sum[:])
}

func sortedAttributes(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var attrs map[string]any
	if err := json.Unmarshal(raw, &attrs); err != nil || len(attrs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s is %v", k, attrs[k]))
	}
	return pairs
}
