package classify

import (
	"fmt"
	"strings"

	"github.com/Londondannyboy/quest-sub003/pkg/models"
)

const promptTemplate = `You are a job posting analyst. Extract structured fields from the posting below.

Respond with a single JSON object and nothing else, using exactly these keys:
{
  "seniority": one of "intern", "junior", "mid", "senior", "staff", "principal", "director", "executive",
  "employment_type": one of "full_time", "part_time", "contract", "internship",
  "remote_policy": one of "onsite", "hybrid", "remote",
  "skills": non-empty array of skill names as plain strings,
  "salary_min": integer or null,
  "salary_max": integer or null,
  "currency": three-letter ISO code or null,
  "years_experience_min": integer or null
}

Omit null fields rather than guessing. Do not invent salary figures.

Title: %s

Posting:
%s`

// BuildPrompt renders the extraction prompt for a posting.
func BuildPrompt(posting *models.JobPosting) string {
	description := ""
	if posting.Description != nil {
		description = *posting.Description
	}
	return fmt.Sprintf(promptTemplate, posting.Title, strings.TrimSpace(description))
}
