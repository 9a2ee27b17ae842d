package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/docpipe/internal/cache"
	"github.com/TobiSchelling/docpipe/internal/checkpoint"
	"github.com/TobiSchelling/docpipe/internal/config"
	"github.com/TobiSchelling/docpipe/internal/database"
	"github.com/TobiSchelling/docpipe/internal/dedup"
	"github.com/TobiSchelling/docpipe/internal/discover"
	"github.com/TobiSchelling/docpipe/internal/extract"
	"github.com/TobiSchelling/docpipe/internal/model"
	"github.com/TobiSchelling/docpipe/internal/pipeline"
	"github.com/TobiSchelling/docpipe/internal/rank"
	"github.com/TobiSchelling/docpipe/internal/report"
	"github.com/TobiSchelling/docpipe/internal/retry"
	"github.com/TobiSchelling/docpipe/internal/summarize"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config

	runQuery  string
	runLimit  int
	runResume string
	runDryRun bool

	reportHTML bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "docpipe",
	Short:   "Resilient document extraction pipeline",
	Long:    "docpipe discovers document references, converts them to text through a quality-scored fallback chain, and summarizes them with a resilient LLM provider client.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	runCmd.Flags().StringVarP(&runQuery, "query", "q", "", "Research focus steering ranking and summarization")
	runCmd.Flags().IntVarP(&runLimit, "limit", "n", 0, "Process at most N items (0 = no limit)")
	runCmd.Flags().StringVar(&runResume, "resume", "", "Resume the run with this id from its checkpoint")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Show what would be processed without calling any backend")

	reportCmd.Flags().BoolVar(&reportHTML, "html", false, "Render the report to HTML next to the markdown file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("docpipe", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/docpipe/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, providers, and limits.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database, checkpoint, and usage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Index:")
		fmt.Printf("  Known items: %d\n", stats.KnownItems)
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d (%d partial)\n", stats.TotalRuns, stats.PartialRuns)
		fmt.Printf("  Tokens used: %d\n", stats.TotalTokens)
		fmt.Printf("  Cost: $%.4f\n", stats.TotalCost)

		ckpt, err := checkpoint.NewStore(filepath.Join(cfg.GetDataDir(), "checkpoints"))
		if err != nil {
			return err
		}
		pendingRuns, err := ckpt.List()
		if err != nil {
			return err
		}
		if len(pendingRuns) > 0 {
			fmt.Println("Resumable runs:")
			for _, id := range pendingRuns {
				completed, _ := ckpt.LoadCompleted(id)
				fmt.Printf("  %s (%d items done) — docpipe run --resume %s\n", id, len(completed), id)
			}
		}

		runs, err := db.GetRecentRuns(5)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Println("Recent runs:")
			for _, r := range runs {
				fmt.Printf("  %s  %s  %d/%d completed, %d failed, %d degraded\n",
					r.RunID, r.Status, r.Completed, r.Total, r.Failed, r.Degraded)
			}
		}
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <run-id>",
	Short: "Show a stored run report, optionally rendered as HTML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := args[0]
		dir := filepath.Join(cfg.GetDataDir(), "reports")

		md, err := os.ReadFile(filepath.Join(dir, runID+".md"))
		if err != nil {
			return fmt.Errorf("reading report for run %s: %w", runID, err)
		}
		if !reportHTML {
			fmt.Print(string(md))
			return nil
		}

		html, err := report.HTML(string(md))
		if err != nil {
			return err
		}
		path, err := report.WriteHTML(dir, runID, html)
		if err != nil {
			return err
		}
		fmt.Printf("HTML report: %s\n", path)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Discover, extract, and summarize documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runPipeline(ctx)
	},
}

func runPipeline(ctx context.Context) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	dataDir := cfg.GetDataDir()
	tiered, err := cache.New(filepath.Join(dataDir, "cache"),
		cfg.Cache.QueryTTL.Std(), cfg.Cache.ArtifactTTL.Std(), cfg.Cache.ResultTTL.Std())
	if err != nil {
		return err
	}
	checkpoints, err := checkpoint.NewStore(filepath.Join(dataDir, "checkpoints"))
	if err != nil {
		return err
	}
	index, err := dedup.Load(db)
	if err != nil {
		return err
	}

	chainExec := retry.New(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay.Std(),
		cfg.Retry.MaxDelay.Std(), cfg.Retry.JitterFactor)
	chain := extract.NewChain(
		extract.DefaultBackends(),
		extract.NewScorer(cfg.Quality.ExpectedLength),
		chainExec,
		cfg.Quality.MinQualityScore,
	)

	summ := cfg.Summarization
	primary, fallback := summarize.CreateProviders(
		summ.Provider, summ.Model, summ.OllamaURL, summ.OpenAIModel, summ.APIKeyEnv,
		summ.Fallback.Enabled,
	)
	if primary == nil || !primary.IsConfigured() {
		return fmt.Errorf("no summarization provider available; check Ollama is running or set %s", summ.APIKeyEnv)
	}
	client := summarize.NewClient(primary, fallback,
		summarize.RetryConfig{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			BaseDelay:    cfg.Retry.BaseDelay.Std(),
			MaxDelay:     cfg.Retry.MaxDelay.Std(),
			JitterFactor: cfg.Retry.JitterFactor,
		},
		summarize.BreakerConfig{
			FailureThreshold:   cfg.CircuitBreaker.FailureThreshold,
			SuccessThreshold:   cfg.CircuitBreaker.SuccessThreshold,
			HalfOpenProbeLimit: cfg.CircuitBreaker.HalfOpenProbeLimit,
			Cooldown:           cfg.CircuitBreaker.Cooldown.Std(),
		},
	)

	ranker := rank.New(rank.Config{
		CitationWeight:     cfg.Ranking.CitationWeight,
		RecencyWeight:      cfg.Ranking.RecencyWeight,
		RelevanceWeight:    cfg.Ranking.RelevanceWeight,
		RecencyWindowYears: cfg.Ranking.RecencyWindowYears,
		MinCitations:       cfg.Ranking.MinCitations,
		MinYear:            cfg.Ranking.MinYear,
		MaxYear:            cfg.Ranking.MaxYear,
	})

	feeds := make([]discover.Feed, len(cfg.Sources.Feeds))
	for i, f := range cfg.Sources.Feeds {
		feeds[i] = discover.Feed{URL: f.URL, Name: f.Name}
	}
	items := discover.New(feeds, cfg.Sources.DaysBack, tiered).Discover(ctx)
	if runLimit > 0 && len(items) > runLimit {
		items = items[:runLimit]
	}
	if len(items) == 0 {
		fmt.Println("Nothing discovered.")
		return nil
	}

	orch := pipeline.New(cfg, pipeline.Deps{
		Fetcher:     extract.NewFetcher(0),
		Chain:       chain,
		Client:      client,
		Cache:       tiered,
		Checkpoints: checkpoints,
		Dedup:       index,
		Ranker:      ranker,
	})

	runID := runResume
	if runID == "" {
		runID = uuid.NewString()
	}

	if runDryRun {
		summary, err := orch.DryRun(runID, items, runQuery)
		if err != nil {
			return err
		}
		fmt.Printf("[dry-run] %d discovered, %d duplicate, %d filtered, %d already done, %d would be processed\n",
			summary.Total, summary.SkippedDuplicate, summary.SkippedFiltered,
			summary.SkippedDone, summary.Attempted)
		return nil
	}

	if runResume == "" {
		if err := db.InsertRun(runID, runQuery, len(items)); err != nil {
			return err
		}
	}

	results, err := orch.Run(ctx, runID, items, runQuery)
	if err != nil {
		return err
	}

	byID := make(map[string]model.WorkItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	var collected []model.ItemResult
	for r := range results {
		collected = append(collected, r)
		if r.Err != nil {
			fmt.Printf("  FAIL  %s: %v\n", r.Item.Title, r.Err)
		} else {
			tag := " "
			if r.Degraded {
				tag = "~"
			}
			fmt.Printf("  OK %s  %s [%s/%s q=%.2f]\n", tag, r.Item.Title, r.Backend, r.Provider, r.Quality)
		}
	}

	summary := orch.Summary()
	finishRun(db, orch, summary, index, byID)

	md := report.Markdown(summary, collected)
	if path, werr := report.Write(filepath.Join(dataDir, "reports"), runID, md); werr != nil {
		log.Printf("Writing report: %v", werr)
	} else {
		fmt.Printf("Report: %s\n", path)
	}

	fmt.Printf("\nRun %s %s: %d completed, %d failed, %d degraded (of %d attempted) in %s\n",
		summary.RunID, summary.Status, summary.Completed, summary.Failed,
		summary.Degraded, summary.Attempted, summary.Elapsed.Round(1e7))

	if summary.Status == "partial" {
		fmt.Printf("Resume with: docpipe run --resume %s\n", runID)
	}
	return nil
}

// finishRun persists run counters, provider usage, and the dedup index.
func finishRun(db *database.DB, orch *pipeline.Orchestrator, summary *pipeline.Summary, index *dedup.Index, byID map[string]model.WorkItem) {
	status := database.RunStatusDone
	if summary.Status == "partial" {
		status = database.RunStatusPartial
	}
	if err := db.FinishRun(summary.RunID, status, summary.Completed, summary.Failed,
		summary.Degraded, summary.SkippedDuplicate+summary.SkippedFiltered+summary.SkippedDone); err != nil {
		log.Printf("Saving run: %v", err)
	}

	for name, st := range summary.Providers {
		err := db.SaveProviderUsage(database.ProviderUsage{
			RunID:        summary.RunID,
			Provider:     name,
			Calls:        st.Calls,
			Successes:    st.Successes,
			Failures:     st.Failures,
			Retries:      st.Retries,
			Fallbacks:    st.Fallbacks,
			InputTokens:  st.Usage.InputTokens,
			OutputTokens: st.Usage.OutputTokens,
			Cost:         st.Usage.Cost,
		})
		if err != nil {
			log.Printf("Saving provider usage: %v", err)
		}
	}

	for backend, wins := range summary.BackendWins {
		for i := 0; i < wins; i++ {
			if err := db.SaveBackendWin(summary.RunID, backend); err != nil {
				log.Printf("Saving backend usage: %v", err)
				break
			}
		}
	}

	var processed []model.WorkItem
	for _, id := range orch.CompletedItems() {
		if item, ok := byID[id]; ok {
			processed = append(processed, item)
		}
	}
	if len(processed) > 0 {
		if err := index.Update(db, processed); err != nil {
			log.Printf("Updating dedup index: %v", err)
		}
	}
}

func openDB() (*database.DB, error) {
	return database.Open(filepath.Join(cfg.GetDataDir(), "docpipe.db"))
}
