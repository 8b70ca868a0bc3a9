package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinelworks/triage/internal/engine"
	"github.com/sentinelworks/triage/internal/knowledge"
	"github.com/sentinelworks/triage/internal/llm"
	"github.com/sentinelworks/triage/internal/output"
	"github.com/sentinelworks/triage/internal/pipeline"
	"github.com/sentinelworks/triage/internal/store"
	"github.com/sentinelworks/triage/internal/triage"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	knowStore knowledge.Store
	service   *triage.Service

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Triage - automated support signal triage with human approval",
	Long: `triage ingests merchant support tickets and error reports, clusters
them into patterns, diagnoses a root cause, scores the blast radius,
and either auto-resolves or parks the proposed action in an approval
queue for a human reviewer.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/triage/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "triage")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRIAGE")
	viper.AutomaticEnv()

	// Defaults via viper.SetDefault()
	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "triage")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "triage.db"))
	viper.SetDefault("knowledge_db_path", filepath.Join(defaultConfigDir, "knowledge.db"))
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("embeddings.endpoint", "")
	viper.SetDefault("serve.port", 8080)
	viper.SetDefault("workers", 2)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// Store and service are initialized lazily so config/version
	// commands can run without a db.
}

// getStore returns the shared session store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getKnowledge returns the shared knowledge store, initializing it on
// first call. Search quality degrades gracefully when no embedding
// endpoint is configured.
func getKnowledge() (knowledge.Store, knowledge.Embedder, error) {
	var embedder knowledge.Embedder
	if endpoint := viper.GetString("embeddings.endpoint"); endpoint != "" {
		embedder = knowledge.NewHTTPEmbedder(endpoint)
	}

	if knowStore != nil {
		return knowStore, embedder, nil
	}

	ks, err := knowledge.NewSQLiteStore(viper.GetString("knowledge_db_path"), embedder)
	if err != nil {
		return nil, nil, fmt.Errorf("open knowledge database: %w", err)
	}
	knowStore = ks
	return knowStore, embedder, nil
}

// getService wires the full triage service: store, knowledge,
// generator, pipeline, engine, and background workers.
func getService() (*triage.Service, error) {
	if service != nil {
		return service, nil
	}

	st, err := getStore()
	if err != nil {
		return nil, err
	}
	know, embedder, err := getKnowledge()
	if err != nil {
		return nil, err
	}

	var gen llm.Generator
	if apiKey := viper.GetString("anthropic.api_key"); apiKey != "" {
		gen = llm.NewClient(apiKey, viper.GetString("anthropic.model"))
	}

	pipe := pipeline.New(gen, know, embedder)
	eng := engine.New(st, pipe)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))

	service = triage.NewService(st, eng, viper.GetInt("workers"), logger)
	return service, nil
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
