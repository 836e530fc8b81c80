package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

// ErrNotFound is returned by Get when no entry exists for a fingerprint.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached scoring result for a (job, candidate) pair. Entries
// are created on first successful scoring and only ever fully overwritten;
// the store never auto-expires them.
type Entry struct {
	Fingerprint string
	Algorithm   string
	CandidateID string
	Candidate   *sourcing.CandidateRecord
	Breakdown   *scoring.Breakdown
	Outreach    string
	CreatedAt   time.Time
}

// Store is the persistence boundary for scoring results. Get and Put are
// safe for concurrent use across distinct fingerprints; concurrent puts of
// the same fingerprint resolve last-writer-wins.
type Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Put(ctx context.Context, entry *Entry) error
	Close() error
}

// entryPayload is the serialized form of a breakdown inside an entry row.
type entryPayload struct {
	Candidate *sourcing.CandidateRecord `json:"candidate,omitempty"`
	Criteria  []scoring.CriterionScore  `json:"criteria"`
	Composite float64                   `json:"composite"`
}

const compositeTolerance = 0.05

func marshalPayload(entry *Entry) ([]byte, error) {
	if entry.Breakdown == nil {
		return nil, errors.New("entry has no breakdown")
	}

	criteria := make([]scoring.CriterionScore, 0, len(scoring.Criteria))
	for _, c := range scoring.Criteria {
		criteria = append(criteria, entry.Breakdown.Scores[c])
	}

	return json.Marshal(entryPayload{
		Candidate: entry.Candidate,
		Criteria:  criteria,
		Composite: entry.Breakdown.Composite,
	})
}

// unmarshalPayload reconstructs and revalidates a breakdown from a stored
// row. Rows failing schema validation are rejected rather than returned
// half-populated: the breakdown is rebuilt through scoring.NewBreakdown and
// the stored composite must agree with the recomputed one.
func unmarshalPayload(data []byte) (*sourcing.CandidateRecord, *scoring.Breakdown, error) {
	var payload entryPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, nil, fmt.Errorf("decode cached breakdown: %w", err)
	}

	breakdown, err := scoring.NewBreakdown(payload.Criteria)
	if err != nil {
		return nil, nil, fmt.Errorf("validate cached breakdown: %w", err)
	}

	if math.Abs(breakdown.Composite-payload.Composite) > compositeTolerance {
		return nil, nil, fmt.Errorf("cached composite %v does not match recomputed %v",
			payload.Composite, breakdown.Composite)
	}

	return payload.Candidate, breakdown, nil
}
