package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/synapse-hq/synapse-sourcer/internal/logger"
	"github.com/synapse-hq/synapse-sourcer/internal/scoring"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "List the highest-scoring cached candidates",
	Run: func(cmd *cobra.Command, _ []string) {
		report(cmd)
	},
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().IntP("limit", "n", 10, "number of candidates to list")
}

type reportRow struct {
	CandidateID string             `json:"candidate_id"`
	Name        string             `json:"name,omitempty"`
	Headline    string             `json:"headline,omitempty"`
	Composite   float64            `json:"composite"`
	Breakdown   *scoring.Breakdown `json:"breakdown"`
	Outreach    string             `json:"outreach,omitempty"`
	ScoredAt    time.Time          `json:"scored_at"`
}

func report(cmd *cobra.Command) {
	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	store, err := openStore(config)
	if err != nil {
		logger.Fatal("opening the cache", zap.Error(err))
	}
	defer store.Close()

	limit, _ := cmd.Flags().GetInt("limit")

	entries, err := store.TopCandidates(context.Background(), limit)
	if err != nil {
		logger.Fatal("querying top candidates", zap.Error(err))
	}

	rows := make([]reportRow, 0, len(entries))
	for _, entry := range entries {
		row := reportRow{
			CandidateID: entry.CandidateID,
			Composite:   entry.Breakdown.Composite,
			Breakdown:   entry.Breakdown,
			Outreach:    entry.Outreach,
			ScoredAt:    entry.CreatedAt,
		}
		if entry.Candidate != nil {
			row.Name = entry.Candidate.Name
			row.Headline = entry.Candidate.Headline
		}
		rows = append(rows, row)
	}

	pretty, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		logger.Fatal("rendering the report", zap.Error(err))
	}

	fmt.Println(string(pretty))
}
