package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

// FailureKind classifies an oracle failure after retries are exhausted.
type FailureKind string

const (
	FailureTimeout         FailureKind = "timeout"
	FailureInvalidResponse FailureKind = "invalid_response"
	FailureRateLimited     FailureKind = "rate_limited"
	FailureUnauthorized    FailureKind = "unauthorized"
)

// Failure is the typed error an oracle client returns when scoring a
// candidate did not produce a breakdown. An unreachable oracle is an
// expected outcome, never a panic.
type Failure struct {
	Kind     FailureKind
	Detail   string
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("oracle %s after %d attempt(s): %s: %v", f.Kind, f.Attempts, f.Detail, f.Err)
	}
	return fmt.Sprintf("oracle %s after %d attempt(s): %s", f.Kind, f.Attempts, f.Detail)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable reports whether another attempt may succeed. A bad credential
// never becomes valid by retrying.
func (f *Failure) Retryable() bool {
	return f.Kind != FailureUnauthorized
}

// AsFailure unwraps an oracle failure from an error chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Client scores one candidate against a job. On success the returned
// breakdown carries exactly six criterion scores and the composed composite;
// on failure the error unwraps to a *Failure.
type Client interface {
	Score(ctx context.Context, job *sourcing.JobProfile, candidate *sourcing.CandidateRecord) (*scoring.Breakdown, error)
}
