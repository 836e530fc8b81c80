package outreach

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

type stubGenerator struct {
	text   string
	err    error
	prompt string
}

func (s *stubGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	return s.text, s.err
}

func testJob() *sourcing.JobProfile {
	return &sourcing.JobProfile{Title: "Software Engineer"}
}

func testCandidate() *sourcing.CandidateRecord {
	return &sourcing.CandidateRecord{ID: "c1", Name: "Jane Doe", Headline: "Backend engineer"}
}

func TestMessageUsesGeneratedText(t *testing.T) {
	stub := &stubGenerator{text: "  Hi Jane, your backend work at Acme caught my eye.  "}
	gen := New(stub, zap.NewNop(), 0)

	breakdown, err := scoring.NewBreakdown(nil)
	if err != nil {
		t.Fatalf("building breakdown: %v", err)
	}

	message := gen.Message(context.Background(), testJob(), testCandidate(), breakdown)
	if message != "Hi Jane, your backend work at Acme caught my eye." {
		t.Fatalf("unexpected message: %q", message)
	}

	if !strings.Contains(stub.prompt, "Jane Doe") {
		t.Fatal("prompt missing candidate name")
	}
	if !strings.Contains(stub.prompt, "Composite score") {
		t.Fatal("prompt missing score context")
	}
}

func TestMessageFallsBackOnError(t *testing.T) {
	stub := &stubGenerator{err: errors.New("quota exceeded")}
	gen := New(stub, zap.NewNop(), 0)

	message := gen.Message(context.Background(), testJob(), testCandidate(), nil)
	if !strings.HasPrefix(message, "Hi Jane Doe,") {
		t.Fatalf("unexpected fallback message: %q", message)
	}
}

func TestMessageFallsBackOnEmptyResponse(t *testing.T) {
	stub := &stubGenerator{text: "   "}
	gen := New(stub, zap.NewNop(), 0)

	message := gen.Message(context.Background(), testJob(), testCandidate(), nil)
	if !strings.HasPrefix(message, "Hi Jane Doe,") {
		t.Fatalf("unexpected fallback message: %q", message)
	}
}

func TestMessageFallbackWithoutName(t *testing.T) {
	stub := &stubGenerator{err: errors.New("down")}
	gen := New(stub, zap.NewNop(), 0)

	candidate := &sourcing.CandidateRecord{ID: "c2"}
	message := gen.Message(context.Background(), testJob(), candidate, nil)
	if !strings.HasPrefix(message, "Hi there,") {
		t.Fatalf("unexpected fallback message: %q", message)
	}
}
