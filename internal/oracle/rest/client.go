package rest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/oracle"
	"github.com/synapse-hq/synapse-sourcer/internal/ratelimit"
	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

const (
	scorePath       = "/score"
	contentType     = "application/json"
	contentEncoding = "gzip, deflate, br"
	userAgent       = "synapse-hq/synapse-sourcer"

	defaultTimeout = 10 * time.Second
)

// Client talks to a self-hosted scoring service over plain HTTP: one
// logical RPC, POST /score, JSON in and out.
type Client struct {
	baseURL string
	token   string
	limiter *ratelimit.Limiter
	backoff *oracle.Backoff
	logger  *zap.Logger

	HTTPClient *http.Client
	UserAgent  string
}

type scoreRequest struct {
	Job       *sourcing.JobProfile      `json:"job"`
	Candidate *sourcing.CandidateRecord `json:"candidate"`
}

type scoreResponse struct {
	Criteria []criterionPayload `json:"criteria"`
}

type criterionPayload struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Rationale string  `json:"rationale,omitempty"`
}

// New creates a REST oracle client. The timeout bounds a single request;
// retries across requests follow the backoff policy.
func New(baseURL, token string, limiter *ratelimit.Limiter, backoff *oracle.Backoff, logger *zap.Logger, timeout time.Duration) *Client {
	if backoff == nil {
		backoff = oracle.DefaultBackoff()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		limiter: limiter,
		backoff: backoff,
		logger:  logger,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		UserAgent: userAgent,
	}
}

// Score implements oracle.Client.
func (c *Client) Score(ctx context.Context, job *sourcing.JobProfile, candidate *sourcing.CandidateRecord) (*scoring.Breakdown, error) {
	body, err := json.Marshal(scoreRequest{Job: job, Candidate: candidate})
	if err != nil {
		return nil, &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: "marshal score request", Err: err}
	}

	return oracle.Retry(ctx, c.backoff, c.logger, func(ctx context.Context) (*scoring.Breakdown, *oracle.Failure) {
		if err := c.limiter.AdmitWait(ctx, ratelimit.ChannelOracle); err != nil {
			return nil, &oracle.Failure{Kind: oracle.FailureRateLimited, Detail: "awaiting oracle admission", Err: err}
		}

		resp, failure := c.post(ctx, body)
		if failure != nil {
			return nil, failure
		}

		return c.parseResponse(resp, candidate.ID)
	})
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, *oracle.Failure) {
	url := c.baseURL + scorePath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: "build score request", Err: err}
	}

	c.setHeaders(req)

	c.logger.Debug("make request", zap.String("url", url))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, &oracle.Failure{Kind: oracle.FailureTimeout, Detail: "score request canceled", Err: err}
		}
		return nil, &oracle.Failure{Kind: oracle.FailureTimeout, Detail: "score request failed", Err: err}
	}

	if failure := classifyStatus(resp); failure != nil {
		resp.Body.Close()
		return nil, failure
	}

	return resp, nil
}

func (c *Client) parseResponse(resp *http.Response, candidateID string) (*scoring.Breakdown, *oracle.Failure) {
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: "decode gzip body", Err: err}
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	var payload scoreResponse
	if err := json.NewDecoder(reader).Decode(&payload); err != nil {
		return nil, &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: "decode score response", Err: err}
	}

	scores := make([]scoring.CriterionScore, 0, len(payload.Criteria))
	seen := make(map[scoring.Criterion]bool)
	for _, item := range payload.Criteria {
		criterion := scoring.Criterion(strings.ToLower(strings.TrimSpace(item.Name)))
		if !scoring.Known(criterion) || seen[criterion] {
			c.logger.Warn("skipping unexpected criterion in score response",
				zap.String("candidate_id", candidateID),
				zap.String("criterion", item.Name),
			)
			continue
		}
		seen[criterion] = true
		scores = append(scores, scoring.CriterionScore{
			Criterion: criterion,
			Value:     item.Value,
			Rationale: item.Rationale,
		})
	}

	breakdown, err := scoring.NewBreakdown(scores)
	if err != nil {
		return nil, &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: "validate score response", Err: err}
	}

	if len(breakdown.Filled) > 0 {
		c.logger.Warn("score response missing criteria, filled with neutral value",
			zap.String("candidate_id", candidateID),
			zap.Int("filled", len(breakdown.Filled)),
		)
	}

	return breakdown, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)
}

func classifyStatus(resp *http.Response) *oracle.Failure {
	code := resp.StatusCode
	detail := fmt.Sprintf("bad status: %s", resp.Status)

	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &oracle.Failure{Kind: oracle.FailureUnauthorized, Detail: detail}
	case code == http.StatusTooManyRequests:
		return &oracle.Failure{Kind: oracle.FailureRateLimited, Detail: detail}
	case code >= 500:
		return &oracle.Failure{Kind: oracle.FailureTimeout, Detail: detail}
	default:
		return &oracle.Failure{Kind: oracle.FailureInvalidResponse, Detail: detail}
	}
}
