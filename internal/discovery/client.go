package discovery

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/cache"
	"github.com/synapse-hq/synapse-sourcer/internal/ratelimit"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip, deflate, br"
	userAgent       = "synapse-hq/synapse-sourcer"

	defaultTimeout = 30 * time.Second
	defaultLimit   = 10

	// queryPrefix narrows the profile search to public profile pages,
	// mirroring a site-scoped web search.
	queryPrefix = "site:linkedin.com/in/ "
	// maxQueryRunes keeps the search query within provider limits.
	maxQueryRunes = 100
)

// SearchCache stores discovery results keyed by job identity and query so
// repeated runs skip the remote search.
type SearchCache interface {
	GetSearchResults(ctx context.Context, jobIdentity, query string) ([]sourcing.CandidateRecord, error)
	PutSearchResults(ctx context.Context, jobIdentity, query string, records []sourcing.CandidateRecord) error
}

// Client queries a profile-search API for candidates matching a job
// description. Calls are admitted through the search rate-limit channel.
type Client struct {
	baseURL string
	apiKey  string
	limiter *ratelimit.Limiter
	cache   SearchCache
	logger  *zap.Logger

	HTTPClient *http.Client
	UserAgent  string
}

type searchResponse struct {
	Items []map[string]any `json:"items"`
}

// New creates a discovery client. The cache may be nil, in which case every
// search hits the remote API.
func New(baseURL, apiKey string, limiter *ratelimit.Limiter, searchCache SearchCache, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		limiter: limiter,
		cache:   searchCache,
		logger:  logger,
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
		UserAgent: userAgent,
	}
}

// Search implements Searcher. Cached results are preferred; on a miss the
// remote API is queried and the results cached for subsequent runs.
func (c *Client) Search(ctx context.Context, job *sourcing.JobProfile, limit int) ([]sourcing.CandidateRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	query := buildQuery(job)

	if c.cache != nil {
		records, err := c.cache.GetSearchResults(ctx, job.Identity(), query)
		if err == nil {
			c.logger.Info("using cached search results", zap.Int("count", len(records)))
			return capRecords(records, limit), nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			c.logger.Warn("search cache read failed, querying remote", zap.Error(err))
		}
	}

	if err := c.limiter.AdmitWait(ctx, ratelimit.ChannelSearch); err != nil {
		return nil, fmt.Errorf("awaiting search admission: %w", err)
	}

	records, err := c.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && len(records) > 0 {
		if err := c.cache.PutSearchResults(ctx, job.Identity(), query, records); err != nil {
			c.logger.Warn("caching search results failed", zap.Error(err))
		}
	}

	return capRecords(records, limit), nil
}

func (c *Client) search(ctx context.Context, query string, limit int) ([]sourcing.CandidateRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, err
	}

	c.setHeaders(req)

	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = q.Encode()

	c.logger.Debug("make request", zap.String("url", req.URL.String()))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var response searchResponse
	if err := json.NewDecoder(reader).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	var records []sourcing.CandidateRecord
	cfg := &mapstructure.DecoderConfig{
		Result:           &records,
		TagName:          "json",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("build search decoder: %w", err)
	}
	if err := decoder.Decode(response.Items); err != nil {
		return nil, fmt.Errorf("decode search items: %w", err)
	}

	c.logger.Info("discovered candidates", zap.Int("count", len(records)))

	return records, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	}
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)
}

func buildQuery(job *sourcing.JobProfile) string {
	text := strings.TrimSpace(job.Title + " " + job.Description)
	runes := []rune(text)
	if len(runes) > maxQueryRunes {
		text = string(runes[:maxQueryRunes])
	}
	return queryPrefix + text
}

func capRecords(records []sourcing.CandidateRecord, limit int) []sourcing.CandidateRecord {
	if len(records) > limit {
		return records[:limit]
	}
	return records
}
