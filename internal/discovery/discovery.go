package discovery

import (
	"context"

	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

// Searcher discovers candidate profiles for a job. The pipeline core never
// calls back into discovery; it only consumes the returned records.
type Searcher interface {
	Search(ctx context.Context, job *sourcing.JobProfile, limit int) ([]sourcing.CandidateRecord, error)
}
