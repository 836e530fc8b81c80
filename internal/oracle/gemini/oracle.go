package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/synapse-hq/synapse-sourcer/internal/oracle"
	"github.com/synapse-hq/synapse-sourcer/internal/ratelimit"
	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
	"github.com/synapse-hq/synapse-sourcer/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxLogLength = 200
)

// Oracle scores candidates through Gemini. Each attempt acquires admission
// on the oracle channel before issuing the remote call; transient failures
// are retried under the backoff policy.
type Oracle struct {
	generator contentGenerator
	limiter   *ratelimit.Limiter
	backoff   *oracle.Backoff
	logger    *zap.Logger
	timeout   time.Duration
	maxLogLen int
}

// New builds a Gemini-backed oracle client. A nil backoff uses the default
// policy; a non-positive timeout uses the 30s default.
func New(generator contentGenerator, limiter *ratelimit.Limiter, backoff *oracle.Backoff, logger *zap.Logger, timeout time.Duration, maxLogLength int) *Oracle {
	if backoff == nil {
		backoff = oracle.DefaultBackoff()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Oracle{
		generator: generator,
		limiter:   limiter,
		backoff:   backoff,
		logger:    logger,
		timeout:   timeout,
		maxLogLen: maxLogLength,
	}
}

// Score implements oracle.Client.
func (o *Oracle) Score(ctx context.Context, job *sourcing.JobProfile, candidate *sourcing.CandidateRecord) (*scoring.Breakdown, error) {
	prompt, err := buildPrompt(job, candidate)
	if err != nil {
		return nil, &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: "building prompt", Err: err}
	}

	o.logger.Debug("gemini scoring request",
		zap.String("candidate_id", candidate.ID),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, o.maxLogLen)),
	)

	return oracle.Retry(ctx, o.backoff, o.logger, func(ctx context.Context) (*scoring.Breakdown, *oracle.Failure) {
		if err := o.limiter.AdmitWait(ctx, ratelimit.ChannelOracle); err != nil {
			return nil, &oracle.Failure{Kind: oracle.FailureRateLimited, Detail: "awaiting oracle admission", Err: err}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		raw, err := o.generator.GenerateContent(callCtx, prompt)
		if err != nil {
			return nil, classify(err)
		}

		o.logger.Debug("gemini scoring response",
			zap.String("candidate_id", candidate.ID),
			zap.String("response_preview", utils.TruncateForLog(raw, o.maxLogLen)),
		)

		breakdown, err := o.parseBreakdown(raw, candidate.ID)
		if err != nil {
			return nil, &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: "parsing oracle response", Err: err}
		}

		return breakdown, nil
	})
}

func buildPrompt(job *sourcing.JobProfile, candidate *sourcing.CandidateRecord) (string, error) {
	jobJSON, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	candidateJSON, err := json.MarshalIndent(candidate, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal candidate payload: %w", err)
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{JOB_JSON}}", string(jobJSON))
	prompt = strings.ReplaceAll(prompt, "{{CANDIDATE_JSON}}", string(candidateJSON))
	return prompt, nil
}

// parseBreakdown turns the model response into a validated breakdown.
// Out-of-range values are clamped and missing criteria neutral-filled by
// the scoring package; one bad criterion never fails the whole call.
func (o *Oracle) parseBreakdown(raw, candidateID string) (*scoring.Breakdown, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	scores := o.collectScores(data, candidateID)

	breakdown, err := scoring.NewBreakdown(scores)
	if err != nil {
		return nil, err
	}

	if len(breakdown.Filled) > 0 {
		filled := make([]string, 0, len(breakdown.Filled))
		for _, c := range breakdown.Filled {
			filled = append(filled, string(c))
		}
		o.logger.Warn("oracle response missing criteria, filled with neutral value",
			zap.String("candidate_id", candidateID),
			zap.Strings("criteria", filled),
		)
	}

	return breakdown, nil
}

func (o *Oracle) collectScores(data map[string]any, candidateID string) []scoring.CriterionScore {
	var scores []scoring.CriterionScore
	seen := make(map[scoring.Criterion]bool)

	appendScore := func(name string, value, rationale any) {
		criterion := scoring.Criterion(strings.ToLower(strings.TrimSpace(name)))
		if !scoring.Known(criterion) || seen[criterion] {
			o.logger.Warn("skipping unexpected criterion in oracle response",
				zap.String("candidate_id", candidateID),
				zap.String("criterion", name),
			)
			return
		}
		v := coerceFloat(value)
		if math.IsNaN(v) {
			return
		}
		seen[criterion] = true
		scores = append(scores, scoring.CriterionScore{
			Criterion: criterion,
			Value:     v,
			Rationale: coerceString(rationale),
		})
	}

	if items, ok := data["criteria"].([]any); ok {
		for _, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			appendScore(coerceString(entry["name"]), entry["value"], entry["rationale"])
		}
		return scores
	}

	// Some model revisions return a flat name->value object instead.
	for name, value := range data {
		appendScore(name, value, nil)
	}

	return scores
}

func classify(err error) *oracle.Failure {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		detail := fmt.Sprintf("gemini api status %d %s", apiErr.Code, apiErr.Status)
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return &oracle.Failure{Kind: oracle.FailureUnauthorized, Detail: detail, Err: err}
		case apiErr.Code == http.StatusTooManyRequests:
			return &oracle.Failure{Kind: oracle.FailureRateLimited, Detail: detail, Err: err}
		case apiErr.Code >= 500:
			return &oracle.Failure{Kind: oracle.FailureTimeout, Detail: detail, Err: err}
		default:
			return &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: detail, Err: err}
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &oracle.Failure{Kind: oracle.FailureTimeout, Detail: "gemini call timed out", Err: err}
	}

	return &oracle.Failure{Kind: oracle.FailureTimeout, Detail: "gemini call failed", Err: err}
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
