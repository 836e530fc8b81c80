package sourcing

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// JobProfile is a normalized job description. It is immutable for the
// duration of a pipeline run; Identity is a pure function of its fields.
type JobProfile struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Skills      []string `json:"skills,omitempty"`
	Seniority   string   `json:"seniority,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// CandidateRecord is raw discovered profile data. It is produced by the
// discovery collaborator and treated as read-only by the pipeline.
type CandidateRecord struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Headline    string  `json:"headline,omitempty"`
	Company     string  `json:"company,omitempty"`
	TenureYears float64 `json:"tenure_years,omitempty"`
	Location    string  `json:"location,omitempty"`
	Education   string  `json:"education,omitempty"`
}

// Validate reports whether the job profile carries enough data to score
// candidates against.
func (j *JobProfile) Validate() error {
	if j == nil {
		return errors.New("job profile is required")
	}
	if strings.TrimSpace(j.Title) == "" && strings.TrimSpace(j.Description) == "" {
		return errors.New("job profile needs a title or a description")
	}
	return nil
}

// Identity returns the stable identity of the job: a hex sha256 digest of
// its normalized text. Identical profiles always hash to the same identity.
func (j *JobProfile) Identity() string {
	sum := sha256.Sum256([]byte(j.normalized()))
	return hex.EncodeToString(sum[:])
}

func (j *JobProfile) normalized() string {
	skills := make([]string, 0, len(j.Skills))
	for _, s := range j.Skills {
		s = normalizeField(s)
		if s != "" {
			skills = append(skills, s)
		}
	}
	sort.Strings(skills)

	parts := []string{
		normalizeField(j.Title),
		normalizeField(j.Description),
		strings.Join(skills, ","),
		normalizeField(j.Seniority),
		normalizeField(j.Location),
	}

	return strings.Join(parts, "\n")
}

// Validate reports whether the candidate record is usable by the pipeline.
func (c *CandidateRecord) Validate() error {
	if c == nil {
		return errors.New("candidate record is required")
	}
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("candidate id is required")
	}
	return nil
}

// Identity returns the stable identity of the candidate. The profile URL or
// handle already identifies the person, so the trimmed ID is the identity.
func (c *CandidateRecord) Identity() string {
	return strings.TrimSpace(c.ID)
}

func normalizeField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
