package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/oracle"
	"github.com/synapse-hq/synapse-sourcer/internal/ratelimit"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

var goodCriteria = []criterionPayload{
	{Name: "education", Value: 8, Rationale: "strong degree"},
	{Name: "trajectory", Value: 7},
	{Name: "company", Value: 5},
	{Name: "experience", Value: 9},
	{Name: "location", Value: 10},
	{Name: "tenure", Value: 6},
}

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

func testClient(url string) *Client {
	return New(url, "token", testLimiter(), testPolicy(), zap.NewNop(), time.Second)
}

func score(t *testing.T, c *Client) error {
	t.Helper()

	job := &sourcing.JobProfile{Title: "Software Engineer", Skills: []string{"python"}}
	candidate := &sourcing.CandidateRecord{ID: "c1", Company: "Acme", TenureYears: 2}

	_, err := c.Score(context.Background(), job, candidate)
	return err
}

func TestScoreSuccess(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if r.Method != http.MethodPost || r.URL.Path != scorePath {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected authorization header: %q", got)
		}

		var req scoreRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if req.Candidate == nil || req.Candidate.ID != "c1" {
			t.Errorf("unexpected candidate payload: %+v", req.Candidate)
		}

		json.NewEncoder(w).Encode(scoreResponse{Criteria: goodCriteria})
	}))
	defer server.Close()

	client := testClient(server.URL)

	job := &sourcing.JobProfile{Title: "Software Engineer", Skills: []string{"python"}}
	candidate := &sourcing.CandidateRecord{ID: "c1", Company: "Acme", TenureYears: 2}

	breakdown, err := client.Score(context.Background(), job, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if breakdown.Composite != 7.6 {
		t.Fatalf("expected composite 7.6, got %v", breakdown.Composite)
	}
	if requests.Load() != 1 {
		t.Fatalf("expected 1 request, got %d", requests.Load())
	}
}

func TestScoreRetriesServerErrors(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(scoreResponse{Criteria: goodCriteria})
	}))
	defer server.Close()

	err := score(t, testClient(server.URL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if requests.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", requests.Load())
	}
}

func TestScoreDoesNotRetryUnauthorized(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	err := score(t, testClient(server.URL))

	failure, ok := oracle.AsFailure(err)
	if !ok {
		t.Fatalf("expected oracle failure, got %v", err)
	}
	if failure.Kind != oracle.FailureUnauthorized {
		t.Fatalf("unexpected kind: %s", failure.Kind)
	}
	if requests.Load() != 1 {
		t.Fatalf("unauthorized must not be retried, got %d requests", requests.Load())
	}
}

func TestScoreClassifiesRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := score(t, testClient(server.URL))

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

func TestScoreMalformedBodyIsInvalidResponse(t *testing.T) {
	var requests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.Write([]byte("definitely not json"))
	}))
	defer server.Close()

	err := score(t, testClient(server.URL))

	failure, ok := oracle.AsFailure(err)
	if !ok {
		t.Fatalf("expected oracle failure, got %v", err)
	}
	if failure.Kind != oracle.FailureInvalidResponse {
		t.Fatalf("unexpected kind: %s", failure.Kind)
	}
	if requests.Load() != 3 {
		t.Fatalf("malformed responses should be retried, got %d requests", requests.Load())
	}
}

func TestScoreNeutralFillsMissingCriteria(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(scoreResponse{Criteria: goodCriteria[:2]})
	}))
	defer server.Close()

	job := &sourcing.JobProfile{Title: "Software Engineer"}
	candidate := &sourcing.CandidateRecord{ID: "c1"}

	breakdown, err := testClient(server.URL).Score(context.Background(), job, candidate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(breakdown.Filled) != 4 {
		t.Fatalf("expected 4 neutral-filled criteria, got %d", len(breakdown.Filled))
	}
}
