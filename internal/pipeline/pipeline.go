package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/cache"
	"github.com/synapse-hq/synapse-sourcer/internal/oracle"
	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

const defaultWorkers = 5

// Failure kinds recorded for candidates that never reached the oracle.
const (
	failureValidation = "validation"
	failureCanceled   = "canceled"
)

// ScoredCandidate is a terminal scored outcome.
type ScoredCandidate struct {
	Candidate   sourcing.CandidateRecord `json:"candidate"`
	Fingerprint string                   `json:"fingerprint"`
	Breakdown   *scoring.Breakdown       `json:"breakdown"`
	FromCache   bool                     `json:"from_cache"`
	// CacheWriteError carries a non-fatal persistence failure; the score
	// itself is still valid.
	CacheWriteError string `json:"cache_write_error,omitempty"`
}

// FailedCandidate is a terminal failed outcome.
type FailedCandidate struct {
	Candidate sourcing.CandidateRecord `json:"candidate"`
	Kind      string                   `json:"kind"`
	Detail    string                   `json:"detail"`
}

// BatchResult aggregates per-candidate outcomes of one pipeline run. Maps
// are keyed by candidate ID; no ordering is guaranteed within a batch. A
// batch with zero successes is a valid result, not an error.
type BatchResult struct {
	RunID       string                      `json:"run_id"`
	JobIdentity string                      `json:"job_identity"`
	Scored      map[string]*ScoredCandidate `json:"scored"`
	Failed      map[string]*FailedCandidate `json:"failed"`
	Started     time.Time                   `json:"started"`
	Finished    time.Time                   `json:"finished"`
}

func (r *BatchResult) ScoredCount() int { return len(r.Scored) }
func (r *BatchResult) FailedCount() int { return len(r.Failed) }
func (r *BatchResult) Total() int       { return len(r.Scored) + len(r.Failed) }

// Orchestrator drives the per-candidate scoring flow: cache lookup, oracle
// call, composition, write-through. Candidates fan out across a bounded
// worker pool.
type Orchestrator struct {
	oracle  oracle.Client
	store   cache.Store
	fp      *cache.Fingerprinter
	logger  *zap.Logger
	workers int
}

// New builds an orchestrator. A non-positive worker count uses the default
// pool size of 5.
func New(oracleClient oracle.Client, store cache.Store, fp *cache.Fingerprinter, logger *zap.Logger, workers int) *Orchestrator {
	if workers <= 0 {
		workers = defaultWorkers
	}

	return &Orchestrator{
		oracle:  oracleClient,
		store:   store,
		fp:      fp,
		logger:  logger,
		workers: workers,
	}
}

// Run scores the candidate batch against the job. Per-candidate failures
// are recorded in the result and never abort the batch; only an invalid
// job profile fails the run itself.
func (o *Orchestrator) Run(ctx context.Context, job *sourcing.JobProfile, candidates []sourcing.CandidateRecord) (*BatchResult, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job profile: %w", err)
	}

	result := &BatchResult{
		RunID:       uuid.NewString(),
		JobIdentity: job.Identity(),
		Scored:      make(map[string]*ScoredCandidate, len(candidates)),
		Failed:      make(map[string]*FailedCandidate),
		Started:     time.Now().UTC(),
	}

	o.logger.Info("starting pipeline run",
		zap.String("run_id", result.RunID),
		zap.Int("candidates", len(candidates)),
		zap.Int("workers", o.workers),
	)

	// One unauthorized failure means the credential is bad for everyone;
	// remaining candidates fast-fail without burning oracle retries.
	var unauthorized atomic.Bool
	var mu sync.Mutex

	queue := make(chan sourcing.CandidateRecord)

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for candidate := range queue {
				scored, failed := o.process(ctx, job, candidate, &unauthorized)

				mu.Lock()
				if scored != nil {
					result.Scored[candidate.Identity()] = scored
				} else {
					result.Failed[keyFor(candidate)] = failed
				}
				mu.Unlock()
			}
		}()
	}

	for _, candidate := range candidates {
		queue <- candidate
	}
	close(queue)
	wg.Wait()

	result.Finished = time.Now().UTC()

	o.logger.Info("pipeline run finished",
		zap.String("run_id", result.RunID),
		zap.Int("scored", result.ScoredCount()),
		zap.Int("failed", result.FailedCount()),
	)

	return result, nil
}

// process executes the per-candidate state machine to a terminal outcome.
// Exactly one of the return values is non-nil.
func (o *Orchestrator) process(ctx context.Context, job *sourcing.JobProfile, candidate sourcing.CandidateRecord, unauthorized *atomic.Bool) (*ScoredCandidate, *FailedCandidate) {
	if err := candidate.Validate(); err != nil {
		return nil, &FailedCandidate{
			Candidate: candidate,
			Kind:      failureValidation,
			Detail:    err.Error(),
		}
	}

	fingerprint := o.fp.Fingerprint(job, &candidate)

	entry, err := o.store.Get(ctx, fingerprint)
	if err == nil {
		o.logger.Debug("cache hit",
			zap.String("candidate_id", candidate.ID),
			zap.String("fingerprint", fingerprint),
		)
		return &ScoredCandidate{
			Candidate:   candidate,
			Fingerprint: fingerprint,
			Breakdown:   entry.Breakdown,
			FromCache:   true,
		}, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		// A broken cache degrades to a recompute, never aborts.
		o.logger.Warn("cache read failed, recomputing",
			zap.String("candidate_id", candidate.ID),
			zap.Error(err),
		)
	}

	if unauthorized.Load() {
		return nil, &FailedCandidate{
			Candidate: candidate,
			Kind:      string(oracle.FailureUnauthorized),
			Detail:    "skipped: oracle credential already rejected in this batch",
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, &FailedCandidate{
			Candidate: candidate,
			Kind:      failureCanceled,
			Detail:    err.Error(),
		}
	}

	breakdown, err := o.oracle.Score(ctx, job, &candidate)
	if err != nil {
		failed := &FailedCandidate{
			Candidate: candidate,
			Kind:      failureCanceled,
			Detail:    err.Error(),
		}
		if failure, ok := oracle.AsFailure(err); ok {
			failed.Kind = string(failure.Kind)
			if failure.Kind == oracle.FailureUnauthorized {
				unauthorized.Store(true)
				o.logger.Error("oracle credential rejected, fast-failing remaining candidates",
					zap.String("candidate_id", candidate.ID),
				)
			}
		}
		return nil, failed
	}

	scored := &ScoredCandidate{
		Candidate:   candidate,
		Fingerprint: fingerprint,
		Breakdown:   breakdown,
	}

	writeErr := o.store.Put(ctx, &cache.Entry{
		Fingerprint: fingerprint,
		Algorithm:   o.fp.Algorithm(),
		CandidateID: candidate.Identity(),
		Candidate:   &candidate,
		Breakdown:   breakdown,
		CreatedAt:   time.Now().UTC(),
	})
	if writeErr != nil {
		// The in-memory score is still returned to the caller.
		scored.CacheWriteError = writeErr.Error()
		o.logger.Error("cache write failed",
			zap.String("candidate_id", candidate.ID),
			zap.Error(writeErr),
		)
	}

	return scored, nil
}

// AttachOutreach persists an outreach message into the candidate's cache
// entry. Persistence failures are surfaced but the message remains valid.
func (o *Orchestrator) AttachOutreach(ctx context.Context, scored *ScoredCandidate, message string) error {
	entry, err := o.store.Get(ctx, scored.Fingerprint)
	if err != nil {
		entry = &cache.Entry{
			Fingerprint: scored.Fingerprint,
			Algorithm:   o.fp.Algorithm(),
			CandidateID: scored.Candidate.Identity(),
			Candidate:   &scored.Candidate,
			Breakdown:   scored.Breakdown,
			CreatedAt:   time.Now().UTC(),
		}
	}

	entry.Outreach = message

	return o.store.Put(ctx, entry)
}

// keyFor keeps failed outcomes addressable even when the record has no
// usable ID.
func keyFor(candidate sourcing.CandidateRecord) string {
	if id := candidate.Identity(); id != "" {
		return id
	}
	return "unidentified:" + candidate.Name
}
