package outreach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
	"github.com/synapse-hq/synapse-sourcer/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

const (
	defaultMaxLogLength = 200

	fallbackMessage = "Hi %s, I came across your profile and would love to connect regarding a potential opportunity."
)

// Generator produces personalized outreach messages for scored candidates.
// It never fails a candidate: generation errors fall back to a template.
type Generator struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

// New builds an outreach generator sharing the oracle's content generator.
func New(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Generator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Generator{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// Message generates an outreach message for the candidate, falling back to
// the built-in template when generation fails.
func (g *Generator) Message(ctx context.Context, job *sourcing.JobProfile, candidate *sourcing.CandidateRecord, breakdown *scoring.Breakdown) string {
	prompt, err := buildPrompt(job, candidate, breakdown)
	if err != nil {
		g.logger.Warn("building outreach prompt failed, using fallback message",
			zap.String("candidate_id", candidate.ID),
			zap.Error(err),
		)
		return fallback(candidate)
	}

	raw, err := g.generator.GenerateContent(ctx, prompt)
	if err != nil {
		g.logger.Warn("outreach generation failed, using fallback message",
			zap.String("candidate_id", candidate.ID),
			zap.Error(err),
		)
		return fallback(candidate)
	}

	message := strings.TrimSpace(raw)
	if message == "" {
		return fallback(candidate)
	}

	g.logger.Debug("generated outreach message",
		zap.String("candidate_id", candidate.ID),
		zap.String("message_preview", utils.TruncateForLog(message, g.maxLogLen)),
	)

	return message
}

func buildPrompt(job *sourcing.JobProfile, candidate *sourcing.CandidateRecord, breakdown *scoring.Breakdown) (string, error) {
	jobJSON, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	candidateJSON, err := json.MarshalIndent(candidate, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidate payload: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("Generate a professional outreach message for this candidate.\n\n")
	sb.WriteString("Job:\n")
	sb.Write(jobJSON)
	sb.WriteString("\n\nCandidate:\n")
	sb.Write(candidateJSON)

	if breakdown != nil {
		sb.WriteString(fmt.Sprintf("\n\nComposite score: %.1f\n", breakdown.Composite))
		sb.WriteString("Criterion scores:\n")
		for _, c := range scoring.Criteria {
			s := breakdown.Scores[c]
			sb.WriteString(fmt.Sprintf("- %s: %.1f", c, s.Value))
			if s.Rationale != "" {
				sb.WriteString(" (" + s.Rationale + ")")
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString(`
Requirements:
1. Keep it professional and concise (around 2 sentences)
2. Reference their headline and 1-2 key details from their profile
3. Make it personalized and relevant to the job opportunity
4. Include a clear call-to-action
5. Keep the tone warm but professional

Return ONLY the message text, no additional formatting.`)

	return sb.String(), nil
}

func fallback(candidate *sourcing.CandidateRecord) string {
	name := strings.TrimSpace(candidate.Name)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(fallbackMessage, name)
}
