package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/cache"
	"github.com/synapse-hq/synapse-sourcer/internal/discovery"
	"github.com/synapse-hq/synapse-sourcer/internal/logger"
	"github.com/synapse-hq/synapse-sourcer/internal/oracle"
	"github.com/synapse-hq/synapse-sourcer/internal/oracle/gemini"
	"github.com/synapse-hq/synapse-sourcer/internal/oracle/rest"
	"github.com/synapse-hq/synapse-sourcer/internal/outreach"
	"github.com/synapse-hq/synapse-sourcer/internal/pipeline"
	"github.com/synapse-hq/synapse-sourcer/internal/ratelimit"
	"github.com/synapse-hq/synapse-sourcer/internal/secrets"
	"github.com/synapse-hq/synapse-sourcer/internal/sourcing"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"

	defaultCachePath     = "synapse-cache.db"
	defaultTopCandidates = 10
)

var outreachPrompt = promptui.Select{
	Label: "Generate outreach messages for top candidates?",
	Items: []string{PromptYes, PromptNo},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover, score and draft outreach for candidates matching a job",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("job-file", "", "JSON file with the job profile (required)")
	runCmd.Flags().String("candidates-file", "", "JSON file with candidate records, skipping discovery")
	runCmd.Flags().StringP("output", "o", "", "write the batch report to this file instead of stdout")
	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before generating outreach")

	runCmd.MarkFlagRequired("job-file")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	if config == nil {
		logger.Fatal("config is required")
	}

	logger.Info("starting the synapse-sourcer", zap.String("version", version))

	job, err := loadJob(cmd.Flag("job-file").Value.String())
	if err != nil {
		logger.Fatal("loading job profile", zap.Error(err))
	}

	store, err := openStore(config)
	if err != nil {
		logger.Fatal("opening the cache", zap.Error(err))
	}
	defer store.Close()

	limiter := newLimiter(config)

	generator, oracleClient, err := newOracle(ctx, config, limiter, logger)
	if err != nil {
		logger.Fatal("building the scoring oracle", zap.Error(err))
	}

	fingerprinter, err := newFingerprinter(config)
	if err != nil {
		logger.Fatal("building the fingerprinter", zap.Error(err))
	}

	candidates, err := loadCandidates(ctx, cmd, config, job, limiter, store, logger)
	if err != nil {
		logger.Fatal("loading candidates", zap.Error(err))
	}

	if len(candidates) == 0 {
		logger.Info("exiting", zap.String("reason", "no candidates found"))
		return
	}

	workers := 0
	if config.Pipeline != nil {
		workers = config.Pipeline.Workers
	}

	orchestrator := pipeline.New(oracleClient, store, fingerprinter, logger, workers)

	result, err := orchestrator.Run(ctx, job, candidates)
	if err != nil {
		logger.Fatal("running the pipeline", zap.Error(err))
	}

	logger.Info("batch complete",
		zap.String("run_id", result.RunID),
		zap.Int("scored", result.ScoredCount()),
		zap.Int("failed", result.FailedCount()),
	)

	if shouldGenerateOutreach(cmd, config, result, logger) {
		generateOutreach(ctx, config, generator, orchestrator, job, result, logger)
	}

	if err := writeReport(cmd.Flag("output").Value.String(), result); err != nil {
		logger.Fatal("writing the report", zap.Error(err))
	}
}

func loadJob(path string) (*sourcing.JobProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job sourcing.JobProfile
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse job file %q: %w", path, err)
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	return &job, nil
}

func openStore(config *Config) (*cache.SQLiteStore, error) {
	path := defaultCachePath
	if config.Cache != nil && config.Cache.Path != "" {
		path = config.Cache.Path
	}
	return cache.OpenSQLite(path)
}

func newFingerprinter(config *Config) (*cache.Fingerprinter, error) {
	algorithm := ""
	if config.Cache != nil {
		algorithm = config.Cache.HashAlgorithm
	}
	return cache.NewFingerprinter(algorithm)
}

func newLimiter(config *Config) *ratelimit.Limiter {
	searchLimit := 10
	oracleLimit := 60

	if config.Search != nil && config.Search.RateLimit > 0 {
		searchLimit = config.Search.RateLimit
	}
	if config.Oracle != nil && config.Oracle.RateLimit > 0 {
		oracleLimit = config.Oracle.RateLimit
	}

	limiter := ratelimit.New(nil)
	limiter.Configure(ratelimit.ChannelSearch, searchLimit)
	limiter.Configure(ratelimit.ChannelOracle, oracleLimit)

	return limiter
}

// newOracle builds the configured oracle provider. The returned generator is
// nil for providers that cannot also generate outreach text.
func newOracle(ctx context.Context, config *Config, limiter *ratelimit.Limiter, logger *zap.Logger) (*gemini.Generator, oracle.Client, error) {
	cfg := config.Oracle
	if cfg == nil {
		return nil, nil, errors.New("oracle configuration is required")
	}

	backoff := &oracle.Backoff{
		MaxAttempts: cfg.MaxRetries + 1,
		BaseDelay:   time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.BackoffMaxMS) * time.Millisecond,
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	switch provider {
	case "", "gemini":
		if cfg.Gemini == nil {
			return nil, nil, errors.New("gemini configuration is required for the gemini provider")
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: cfg.Gemini.APIKeyFile,
			Env:  "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w (set oracle.gemini.api-key-file or GEMINI_API_KEY_FILE)", err)
		}

		generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model)
		if err != nil {
			return nil, nil, err
		}

		oracleLogger := logger.With(
			zap.String("provider", "gemini"),
			zap.String("model", generator.Model()),
		)

		return generator, gemini.New(generator, limiter, backoff, oracleLogger, timeout, cfg.Gemini.MaxLogLength), nil

	case "rest":
		if cfg.REST == nil || cfg.REST.URL == "" {
			return nil, nil, errors.New("rest oracle url is required for the rest provider")
		}

		token := ""
		if cfg.REST.TokenFile != "" {
			token, _ = secrets.Load(secrets.Source{
				Name: "rest oracle token",
				File: cfg.REST.TokenFile,
			})
		}

		oracleLogger := logger.With(zap.String("provider", "rest"))

		return nil, rest.New(cfg.REST.URL, token, limiter, backoff, oracleLogger, timeout), nil

	default:
		return nil, nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
}

// loadCandidates reads candidates from a file when given, otherwise runs
// discovery against the configured search API.
func loadCandidates(ctx context.Context, cmd *cobra.Command, config *Config, job *sourcing.JobProfile, limiter *ratelimit.Limiter, store *cache.SQLiteStore, logger *zap.Logger) ([]sourcing.CandidateRecord, error) {
	if path := cmd.Flag("candidates-file").Value.String(); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var candidates []sourcing.CandidateRecord
		if err := json.Unmarshal(data, &candidates); err != nil {
			return nil, fmt.Errorf("parse candidates file %q: %w", path, err)
		}

		logger.Info("loaded candidates from file", zap.Int("count", len(candidates)))
		return candidates, nil
	}

	if config.Search == nil || config.Search.URL == "" {
		return nil, errors.New("search.url is required when no candidates file is given")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name: "search api key",
		File: config.Search.APIKeyFile,
		Env:  "SEARCH_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set search.api-key-file or SEARCH_API_KEY_FILE)", err)
	}

	searcher := discovery.New(config.Search.URL, apiKey, limiter, store, logger)

	logger.Info("starting the search", zap.String("job", job.Title))

	return searcher.Search(ctx, job, config.Search.Limit)
}

func shouldGenerateOutreach(cmd *cobra.Command, config *Config, result *pipeline.BatchResult, logger *zap.Logger) bool {
	if config.Outreach != nil && !config.Outreach.Enabled {
		return false
	}
	if result.ScoredCount() == 0 {
		return false
	}

	if cmd.Flag("auto-approve").Value.String() == "true" {
		return true
	}

	_, action, err := outreachPrompt.Run()
	if err != nil {
		logger.Warn("skipping outreach", zap.Error(err))
		return false
	}

	return action == PromptYes
}

func generateOutreach(ctx context.Context, config *Config, generator *gemini.Generator, orchestrator *pipeline.Orchestrator, job *sourcing.JobProfile, result *pipeline.BatchResult, logger *zap.Logger) {
	if generator == nil {
		logger.Warn("skipping outreach", zap.String("reason", "the configured oracle provider cannot generate messages"))
		return
	}

	maxLogLength := 0
	if config.Oracle != nil && config.Oracle.Gemini != nil {
		maxLogLength = config.Oracle.Gemini.MaxLogLength
	}

	messenger := outreach.New(generator, logger, maxLogLength)

	top := topScored(result, topCandidateCount(config))
	for _, scored := range top {
		message := messenger.Message(ctx, job, &scored.Candidate, scored.Breakdown)

		if err := orchestrator.AttachOutreach(ctx, scored, message); err != nil {
			logger.Error("persisting outreach message",
				zap.String("candidate_id", scored.Candidate.ID),
				zap.Error(err),
			)
		}

		logger.Info("generated outreach message",
			zap.String("candidate_id", scored.Candidate.ID),
			zap.Float64("score", scored.Breakdown.Composite),
		)
	}
}

func topCandidateCount(config *Config) int {
	if config.Pipeline != nil && config.Pipeline.TopCandidates > 0 {
		return config.Pipeline.TopCandidates
	}
	return defaultTopCandidates
}

// topScored orders scored candidates by composite, best first.
func topScored(result *pipeline.BatchResult, limit int) []*pipeline.ScoredCandidate {
	scored := make([]*pipeline.ScoredCandidate, 0, len(result.Scored))
	for _, s := range result.Scored {
		scored = append(scored, s)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Breakdown.Composite != scored[j].Breakdown.Composite {
			return scored[i].Breakdown.Composite > scored[j].Breakdown.Composite
		}
		return scored[i].Candidate.ID < scored[j].Candidate.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func writeReport(path string, result *pipeline.BatchResult) error {
	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	if path == "" {
		fmt.Println(string(pretty))
		return nil
	}

	return os.WriteFile(path, append(pretty, '\n'), 0o644)
}
