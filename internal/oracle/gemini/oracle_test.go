package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/synapse-hq/synapse-sourcer/internal/oracle"
	"github.com/synapse-hq/synapse-sourcer/internal/ratelimit"
	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

type stubGenerator struct {
	mu         sync.Mutex
	responses  []stubResponse
	calls      int
	lastPrompt string
}

type stubResponse struct {
	text string
	err  error
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPrompt = prompt
	if s.calls >= len(s.responses) {
		return "", errors.New("unexpected call")
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp.text, resp.err
}

const goodResponse = "```json\n" + `{
  "criteria": [
    {"name": "education", "value": 8, "rationale": "strong CS degree"},
    {"name": "trajectory", "value": 7, "rationale": "steady growth"},
    {"name": "company", "value": 5, "rationale": "adjacent industry"},
    {"name": "experience", "value": 9, "rationale": "direct match"},
    {"name": "location", "value": 10, "rationale": "same city"},
    {"name": "tenure", "value": 6, "rationale": "average stints"}
  ]
}` + "\n```"

func testPolicy() *oracle.Backoff {
	return &oracle.Backoff{
		MaxAttempts: 3,
		Jitter:      func(d time.Duration) time.Duration { return d },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func testLimiter() *ratelimit.Limiter {
	limiter := ratelimit.New(nil)
	limiter.Configure(ratelimit.ChannelOracle, 1000)
	return limiter
}

func testOracle(stub *stubGenerator) *Oracle {
	return New(stub, testLimiter(), testPolicy(), zap.NewNop(), time.Second, 0)
}

func score(t *testing.T, o *Oracle) (*scoring.Breakdown, error) {
	t.Helper()

	job := &sourcing.JobProfile{Title: "Software Engineer", Skills: []string{"python"}}
	candidate := &sourcing.CandidateRecord{ID: "c1", Name: "Jane Doe", Company: "Acme", TenureYears: 2}

	return o.Score(context.Background(), job, candidate)
}

func TestScoreParsesFencedResponse(t *testing.T) {
	stub := &stubGenerator{responses: []stubResponse{{text: goodResponse}}}

	breakdown, err := score(t, testOracle(stub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if breakdown.Composite != 7.6 {
		t.Fatalf("expected composite 7.6, got %v", breakdown.Composite)
	}

	if got := breakdown.Scores[scoring.CriterionExperience]; got.Value != 9 || got.Rationale != "direct match" {
		t.Fatalf("unexpected experience score: %+v", got)
	}

	if stub.lastPrompt == "" {
		t.Fatal("expected prompt to be sent")
	}
}

func TestScoreRetriesTransientFailures(t *testing.T) {
	tempErr := genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}
	stub := &stubGenerator{responses: []stubResponse{
		{err: tempErr},
		{err: tempErr},
		{text: goodResponse},
	}}

	breakdown, err := score(t, testOracle(stub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", stub.calls)
	}
	if breakdown.Composite != 7.6 {
		t.Fatalf("expected composite 7.6, got %v", breakdown.Composite)
	}
}

func TestScoreDoesNotRetryUnauthorized(t *testing.T) {
	authErr := genai.APIError{Code: http.StatusUnauthorized, Status: "UNAUTHENTICATED"}
	stub := &stubGenerator{responses: []stubResponse{{err: authErr}}}

	_, err := score(t, testOracle(stub))
	if err == nil {
		t.Fatal("expected error")
	}

	failure, ok := oracle.AsFailure(err)
	if !ok {
		t.Fatalf("expected oracle failure, got %T", err)
	}
	if failure.Kind != oracle.FailureUnauthorized {
		t.Fatalf("unexpected kind: %s", failure.Kind)
	}
	if stub.calls != 1 {
		t.Fatalf("unauthorized must not be retried, got %d attempts", stub.calls)
	}
}

func TestScoreClassifiesRateLimited(t *testing.T) {
	quotaErr := genai.APIError{Code: http.StatusTooManyRequests, Status: "RESOURCE_EXHAUSTED"}
	stub := &stubGenerator{responses: []stubResponse{
		{err: quotaErr}, {err: quotaErr}, {err: quotaErr},
	}}

	_, err := score(t, testOracle(stub))

	failure, ok := oracle.AsFailure(err)
	if !ok {
		t.Fatalf("expected oracle failure, got %v", err)
	}
	if failure.Kind != oracle.FailureRateLimited {
		t.Fatalf("unexpected kind: %s", failure.Kind)
	}
	if failure.Attempts != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", failure.Attempts)
	}
}

func TestScoreNeutralFillsMissingCriteria(t *testing.T) {
	partial := `{"criteria": [
		{"name": "education", "value": 8},
		{"name": "experience", "value": 9}
	]}`
	stub := &stubGenerator{responses: []stubResponse{{text: partial}}}

	breakdown, err := score(t, testOracle(stub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(breakdown.Filled) != 4 {
		t.Fatalf("expected 4 neutral-filled criteria, got %d", len(breakdown.Filled))
	}
	if got := breakdown.Scores[scoring.CriterionTenure].Value; got != scoring.NeutralValue {
		t.Fatalf("expected neutral tenure, got %v", got)
	}
}

func TestScoreClampsOutOfRangeValues(t *testing.T) {
	skewed := `{"criteria": [
		{"name": "education", "value": 42},
		{"name": "trajectory", "value": -7},
		{"name": "company", "value": 5},
		{"name": "experience", "value": 5},
		{"name": "location", "value": 5},
		{"name": "tenure", "value": 5}
	]}`
	stub := &stubGenerator{responses: []stubResponse{{text: skewed}}}

	breakdown, err := score(t, testOracle(stub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := breakdown.Scores[scoring.CriterionEducation].Value; got != 10 {
		t.Fatalf("expected clamped education 10, got %v", got)
	}
	if got := breakdown.Scores[scoring.CriterionTrajectory].Value; got != 0 {
		t.Fatalf("expected clamped trajectory 0, got %v", got)
	}
}

func TestScoreAcceptsFlatResponseShape(t *testing.T) {
	flat := `{"education": 8, "trajectory": 7, "company": 5, "experience": 9, "location": 10, "tenure": 6}`
	stub := &stubGenerator{responses: []stubResponse{{text: flat}}}

	breakdown, err := score(t, testOracle(stub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if breakdown.Composite != 7.6 {
		t.Fatalf("expected composite 7.6, got %v", breakdown.Composite)
	}
}

func TestScoreRetriesMalformedResponse(t *testing.T) {
	stub := &stubGenerator{responses: []stubResponse{
		{text: "I cannot answer that."},
		{text: goodResponse},
	}}

	breakdown, err := score(t, testOracle(stub))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if stub.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", stub.calls)
	}
	if breakdown.Composite != 7.6 {
		t.Fatalf("expected composite 7.6, got %v", breakdown.Composite)
	}
}
