package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	app = "synapse-sourcer"
)

type Config struct {
	Search   *SearchConfig   `mapstructure:"search"`
	Oracle   *OracleConfig   `mapstructure:"oracle"`
	Cache    *CacheConfig    `mapstructure:"cache"`
	Pipeline *PipelineConfig `mapstructure:"pipeline"`
	Outreach *OutreachConfig `mapstructure:"outreach"`
}

type SearchConfig struct {
	URL        string `mapstructure:"url"`
	APIKeyFile string `mapstructure:"api-key-file"`
	RateLimit  int    `mapstructure:"rate-limit"`
	Limit      int    `mapstructure:"limit"`
}

type OracleConfig struct {
	Provider       string        `mapstructure:"provider"`
	RateLimit      int           `mapstructure:"rate-limit"`
	TimeoutSeconds int           `mapstructure:"timeout-seconds"`
	MaxRetries     int           `mapstructure:"max-retries"`
	BackoffBaseMS  int           `mapstructure:"backoff-base-ms"`
	BackoffMaxMS   int           `mapstructure:"backoff-max-ms"`
	Gemini         *GeminiConfig `mapstructure:"gemini"`
	REST           *RESTConfig   `mapstructure:"rest"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type RESTConfig struct {
	URL       string `mapstructure:"url"`
	TokenFile string `mapstructure:"token-file"`
}

type CacheConfig struct {
	Path          string `mapstructure:"path"`
	HashAlgorithm string `mapstructure:"hash-algorithm"`
}

type PipelineConfig struct {
	Workers       int `mapstructure:"workers"`
	TopCandidates int `mapstructure:"top-candidates"`
}

type OutreachConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "synapse-sourcer scores job candidates against a weighted rubric and drafts outreach messages",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("oracle.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("search.api-key-file", "SEARCH_API_KEY_FILE"); err != nil {
		log.Fatalf("binding SEARCH_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is "+app+".yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return config, err
	}

	return config, nil
}
