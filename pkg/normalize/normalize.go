// Package normalize turns raw scraped payloads into normalized records with
// kind-specific natural keys.
package normalize

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

// Normalize produces the in-memory record the matcher consumes. The owner
// is threaded explicitly; there is no ambient session state. Payloads
// missing the minimum fields for their kind fail with ErrMalformedRecord.
func Normalize(kind models.EntityKind, sourceID uuid.UUID, ownerUserID string, payload map[string]any) (*models.NormalizedRecord, error) {
	rec := &models.NormalizedRecord{
		Kind:        kind,
		SourceID:    sourceID,
		OwnerUserID: ownerUserID,
		Attributes:  map[string]any{},
		ScrapedAt:   time.Now().UTC(),
	}

	if ts := stringField(payload, "scraped_at"); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.ScrapedAt = t.UTC()
		}
	}

	switch kind {
	case models.KindCompany:
		return normalizeCompany(rec, payload)
	case models.KindSkill, models.KindInstitution:
		return normalizeNamed(rec, payload)
	case models.KindPerson:
		return normalizePerson(rec, payload)
	case models.KindJob:
		return normalizeJob(rec, payload)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", models.ErrMalformedRecord, kind)
	}
}

func normalizeCompany(rec *models.NormalizedRecord, payload map[string]any) (*models.NormalizedRecord, error) {
	name := strings.TrimSpace(stringField(payload, "name"))
	if name == "" {
		return nil, fmt.Errorf("%w: company requires name", models.ErrMalformedRecord)
	}
	rec.Name = name

	// The registrable domain root is the company's identity. Companies
	// scraped without a website fall back to fuzzy name matching.
	if site := stringField(payload, "website"); site != "" {
		rec.NaturalKey = DomainRoot(site)
	}

	copyExtra(rec, payload, "name", "website", "scraped_at")
	return rec, nil
}

func normalizeNamed(rec *models.NormalizedRecord, payload map[string]any) (*models.NormalizedRecord, error) {
	name := strings.TrimSpace(stringField(payload, "name"))
	if name == "" {
		return nil, fmt.Errorf("%w: %s requires name", models.ErrMalformedRecord, rec.Kind)
	}
	rec.Name = name
	rec.NaturalKey = Label(name)

	copyExtra(rec, payload, "name", "scraped_at")
	return rec, nil
}

func normalizePerson(rec *models.NormalizedRecord, payload map[string]any) (*models.NormalizedRecord, error) {
	profile := stringField(payload, "linkedin_url")
	name := strings.TrimSpace(stringField(payload, "name"))
	if profile == "" || name == "" {
		return nil, fmt.Errorf("%w: person requires linkedin_url and name", models.ErrMalformedRecord)
	}

	key, err := CanonicalURL(profile)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid linkedin_url: %v", models.ErrMalformedRecord, err)
	}

	rec.Name = name
	rec.NaturalKey = key
	rec.Title = strings.TrimSpace(stringField(payload, "title"))
	rec.CompanyName = strings.TrimSpace(stringField(payload, "company_name"))
	if site := stringField(payload, "company_website"); site != "" {
		rec.CompanyKey = DomainRoot(site)
	}

	copyExtra(rec, payload, "linkedin_url", "name", "title", "company_name", "company_website", "scraped_at")
	return rec, nil
}

func normalizeJob(rec *models.NormalizedRecord, payload map[string]any) (*models.NormalizedRecord, error) {
	posting := stringField(payload, "posting_url")
	title := strings.TrimSpace(stringField(payload, "title"))
	if posting == "" || title == "" {
		return nil, fmt.Errorf("%w: job requires posting_url and title", models.ErrMalformedRecord)
	}

	key, err := CanonicalURL(posting)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid posting_url: %v", models.ErrMalformedRecord, err)
	}

	rec.NaturalKey = key
	rec.Title = title
	rec.Name = title
	rec.Description = stringField(payload, "description")
	rec.CompanyName = strings.TrimSpace(stringField(payload, "company_name"))
	if site := stringField(payload, "company_website"); site != "" {
		rec.CompanyKey = DomainRoot(site)
	}

	if skills, ok := payload["skills"].([]any); ok {
		for _, s := range skills {
			if name, ok := s.(string); ok && strings.TrimSpace(name) != "" {
				rec.SkillNames = append(rec.SkillNames, strings.TrimSpace(name))
			}
		}
	}

	copyExtra(rec, payload, "posting_url", "title", "description", "company_name", "company_website", "skills", "scraped_at")
	return rec, nil
}

// Label normalizes a skill or institution name into its natural key:
// lowercase, punctuation stripped, whitespace collapsed.
func Label(s string) string {
	s = strings.ToLower(s)

	var result strings.Builder
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			result.WriteRune(r)
			prevSpace = false
		case unicode.IsSpace(r):
			if !prevSpace {
				result.WriteRune(' ')
				prevSpace = true
			}
		}
	}

	return strings.TrimSpace(result.String())
}

func stringField(payload map[string]any, key string) string {
	v, ok := payload[key].(string)
	if !ok {
		return ""
	}
	return v
}

func copyExtra(rec *models.NormalizedRecord, payload map[string]any, consumed ...string) {
	skip := make(map[string]bool, len(consumed))
	for _, k := range consumed {
		skip[k] = true
	}
	for k, v := range payload {
		if !skip[k] {
			rec.Attributes[k] = v
		}
	}
}
