// Package pipeline is the producer/consumer engine that drives items
// through download, conversion, and summarization under per-resource
// concurrency limits, with checkpointed resume.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/docpipe/internal/cache"
	"github.com/TobiSchelling/docpipe/internal/checkpoint"
	"github.com/TobiSchelling/docpipe/internal/config"
	"github.com/TobiSchelling/docpipe/internal/dedup"
	"github.com/TobiSchelling/docpipe/internal/extract"
	"github.com/TobiSchelling/docpipe/internal/model"
	"github.com/TobiSchelling/docpipe/internal/rank"
	"github.com/TobiSchelling/docpipe/internal/retry"
	"github.com/TobiSchelling/docpipe/internal/summarize"
)

// Deps are the collaborating services the orchestrator is wired with.
type Deps struct {
	Fetcher     *extract.Fetcher
	Chain       *extract.Chain
	Client      *summarize.Client
	Cache       *cache.Cache
	Checkpoints *checkpoint.Store
	Dedup       *dedup.Index
	Ranker      *rank.Ranker
}

// Summary is the run-level outcome report.
type Summary struct {
	RunID            string
	Query            string
	Total            int // items handed to the run
	SkippedDuplicate int
	SkippedFiltered  int
	SkippedDone      int // already completed per checkpoint
	Attempted        int
	Completed        int
	Failed           int
	Degraded         int
	Status           string // "done" or "partial"
	Elapsed          time.Duration
	Providers        map[string]summarize.ProviderStats
	BackendWins      map[string]int
}

// cachedResult is the result-tier cache payload for one item.
type cachedResult struct {
	Backend  string         `json:"backend"`
	Provider string         `json:"provider"`
	Quality  float64        `json:"quality"`
	Degraded bool           `json:"degraded"`
	Summary  *model.Summary `json:"summary"`
}

// cachedArtifact is the artifact-tier cache payload for converted text.
type cachedArtifact struct {
	Backend string  `json:"backend"`
	Quality float64 `json:"quality"`
	Text    string  `json:"text"`
}

// Orchestrator runs items through the full per-item pipeline with a fixed
// worker pool and three independent resource governors.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	downloadSem  chan struct{}
	convertSem   chan struct{}
	summarizeSem chan struct{}
	fetchExec    *retry.Executor

	mu           sync.Mutex
	summary      *Summary
	pendingIDs   []string // completed ids not yet flushed to the checkpoint
	flushCounter int
	completedIDs []string // everything completed this run, for dedup update
}

// New creates an Orchestrator.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	p := cfg.Pipeline
	return &Orchestrator{
		cfg:          cfg,
		deps:         deps,
		downloadSem:  make(chan struct{}, atLeast(p.MaxConcurrentDownloads, 1)),
		convertSem:   make(chan struct{}, atLeast(p.MaxConcurrentConversions, 1)),
		summarizeSem: make(chan struct{}, atLeast(p.MaxConcurrentSummaries, 1)),
		fetchExec: retry.New(
			cfg.Retry.MaxAttempts,
			cfg.Retry.BaseDelay.Std(),
			cfg.Retry.MaxDelay.Std(),
			cfg.Retry.JitterFactor,
		),
	}
}

func atLeast(n, floor int) int {
	if n < floor {
		return floor
	}
	return n
}

// Run filters, ranks, and processes items, returning a lazy sequence of
// per-item results in completion order. The channel closes when the run
// drains; Summary is valid after that. A single bad item never aborts the
// run — only a checkpoint storage failure or cancellation does.
func (o *Orchestrator) Run(ctx context.Context, runID string, items []model.WorkItem, query string) (<-chan model.ItemResult, error) {
	done, err := o.deps.Checkpoints.LoadCompleted(runID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	fresh, duplicates := o.deps.Dedup.Classify(items)
	filtered := o.deps.Ranker.Filter(fresh)
	ranked := o.deps.Ranker.Rank(filtered, query)

	pending := make([]model.WorkItem, 0, len(ranked))
	skippedDone := 0
	for _, item := range ranked {
		if _, ok := done[item.ID]; ok {
			skippedDone++
			continue
		}
		pending = append(pending, item)
	}

	o.mu.Lock()
	o.summary = &Summary{
		RunID:            runID,
		Query:            query,
		Total:            len(items),
		SkippedDuplicate: len(duplicates),
		SkippedFiltered:  len(fresh) - len(filtered),
		SkippedDone:      skippedDone,
		Attempted:        len(pending),
		BackendWins:      make(map[string]int),
	}
	o.pendingIDs = nil
	o.flushCounter = 0
	o.completedIDs = nil
	o.mu.Unlock()

	if skippedDone > 0 {
		log.Printf("Resuming run %s: %d items already completed", runID, skippedDone)
	}
	log.Printf("Run %s: processing %d items (%d duplicate, %d filtered, %d done)",
		runID, len(pending), len(duplicates), len(fresh)-len(filtered), skippedDone)

	results := make(chan model.ItemResult)
	start := time.Now()

	go func() {
		defer close(results)

		g, gctx := errgroup.WithContext(ctx)

		queue := make(chan model.WorkItem, atLeast(o.cfg.Pipeline.QueueSize, 1))
		g.Go(func() error {
			defer close(queue)
			for _, item := range pending {
				select {
				case queue <- item:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})

		workers := atLeast(o.cfg.Pipeline.MaxConcurrentDownloads, 1)
		for i := 0; i < workers; i++ {
			g.Go(func() error {
				return o.worker(gctx, runID, queue, results)
			})
		}

		err := g.Wait()

		// Flush whatever completed, regardless of how the run ended.
		if ferr := o.flushCheckpoint(runID, true); ferr != nil && err == nil {
			err = ferr
		}

		o.mu.Lock()
		defer o.mu.Unlock()
		o.summary.Elapsed = time.Since(start)
		o.summary.Providers = o.deps.Client.Stats()

		if err != nil || ctx.Err() != nil {
			// Checkpoint retained so the next invocation resumes.
			o.summary.Status = "partial"
			if err != nil {
				log.Printf("Run %s aborted: %v", runID, err)
			}
			return
		}
		if cerr := o.deps.Checkpoints.Clear(runID); cerr != nil {
			log.Printf("Clearing checkpoint for %s: %v", runID, cerr)
		}
		o.summary.Status = "done"
	}()

	return results, nil
}

// DryRun reports what a run would do — how many items survive dedup,
// filtering, and the checkpoint — without calling any backend.
func (o *Orchestrator) DryRun(runID string, items []model.WorkItem, query string) (*Summary, error) {
	done, err := o.deps.Checkpoints.LoadCompleted(runID)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}

	fresh, duplicates := o.deps.Dedup.Classify(items)
	filtered := o.deps.Ranker.Filter(fresh)

	skippedDone := 0
	attempted := 0
	for _, item := range filtered {
		if _, ok := done[item.ID]; ok {
			skippedDone++
		} else {
			attempted++
		}
	}

	return &Summary{
		RunID:            runID,
		Query:            query,
		Total:            len(items),
		SkippedDuplicate: len(duplicates),
		SkippedFiltered:  len(fresh) - len(filtered),
		SkippedDone:      skippedDone,
		Attempted:        attempted,
		Status:           "dry-run",
	}, nil
}

// Summary returns the run summary. Valid once the result channel closes.
func (o *Orchestrator) Summary() *Summary {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary
}

// CompletedItems returns the ids completed during the last run, for
// updating the dedup index.
func (o *Orchestrator) CompletedItems() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, len(o.completedIDs))
	copy(ids, o.completedIDs)
	return ids
}

// worker pulls items until the queue closes or the run is cancelled. Each
// item runs the full pipeline sequentially within the worker.
func (o *Orchestrator) worker(ctx context.Context, runID string, queue <-chan model.WorkItem, results chan<- model.ItemResult) error {
	for item := range queue {
		if ctx.Err() != nil {
			return nil
		}

		result := o.processItem(ctx, item)

		if result.Err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-item: don't count it as a terminal failure.
				return nil
			}
			log.Printf("Item %s failed: %v", item.ID, result.Err)
			o.countFailure()
		} else {
			if err := o.recordCompletion(runID, item, result); err != nil {
				// Checkpoint storage is the one dependency the run
				// cannot survive without.
				return fmt.Errorf("recording completion: %w", err)
			}
		}

		select {
		case results <- result:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// processItem runs cache -> convert -> cache -> summarize -> cache for
// one item. All errors are returned inside the ItemResult.
func (o *Orchestrator) processItem(ctx context.Context, item model.WorkItem) model.ItemResult {
	start := time.Now()
	result := model.ItemResult{Item: item}

	target := summarize.Target{
		MaxTokens: o.cfg.Summarization.MaxTokens,
		Focus:     o.summaryQuery(),
	}

	resultKey := cache.Key(
		"result", item.ID,
		fmt.Sprintf("focus=%s", target.Focus),
		fmt.Sprintf("max_tokens=%d", target.MaxTokens),
		fmt.Sprintf("min_quality=%.2f", o.cfg.Quality.MinQualityScore),
	)
	if raw, ok := o.deps.Cache.Get(cache.TierResult, resultKey); ok {
		var cr cachedResult
		if err := json.Unmarshal(raw, &cr); err == nil {
			result.Backend = cr.Backend
			result.Provider = cr.Provider
			result.Quality = cr.Quality
			result.Degraded = cr.Degraded
			result.Summary = cr.Summary
			result.Cached = true
			result.Duration = time.Since(start)
			return result
		}
	}

	artifact, err := o.convert(ctx, item)
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	result.Backend = artifact.Backend
	result.Quality = artifact.Quality
	if artifact.Quality < o.cfg.Quality.MinQualityScore {
		result.Degraded = true
	}

	summary, usage, provider, err := o.summarizeText(ctx, item, artifact.Text, target)
	result.Usage = usage
	if err != nil {
		result.Err = err
		result.Duration = time.Since(start)
		return result
	}
	result.Provider = provider
	result.Summary = summary
	if o.isFallbackProvider(provider) {
		result.Degraded = true
	}

	payload, err := json.Marshal(cachedResult{
		Backend:  result.Backend,
		Provider: result.Provider,
		Quality:  result.Quality,
		Degraded: result.Degraded,
		Summary:  result.Summary,
	})
	if err == nil {
		if cerr := o.deps.Cache.Set(cache.TierResult, resultKey, payload); cerr != nil {
			log.Printf("Caching result for %s: %v", item.ID, cerr)
		}
	}

	result.Duration = time.Since(start)
	return result
}

// convert downloads and converts one item, consulting the artifact cache
// first. Concurrent requests for the same artifact share one compute.
func (o *Orchestrator) convert(ctx context.Context, item model.WorkItem) (*cachedArtifact, error) {
	key := cache.Key(
		"artifact", item.ID,
		fmt.Sprintf("min_quality=%.2f", o.cfg.Quality.MinQualityScore),
	)

	raw, err := o.deps.Cache.GetOrCompute(cache.TierArtifact, key, func() (json.RawMessage, error) {
		doc, err := o.download(ctx, item)
		if err != nil {
			return nil, fmt.Errorf("download: %w", err)
		}

		if err := o.acquire(ctx, o.convertSem); err != nil {
			return nil, err
		}
		attempt := o.deps.Chain.Convert(ctx, doc)
		<-o.convertSem

		if !attempt.Success {
			return nil, fmt.Errorf("conversion: %w", attempt.Err)
		}
		return json.Marshal(cachedArtifact{
			Backend: attempt.Backend,
			Quality: attempt.Quality,
			Text:    attempt.Text,
		})
	})
	if err != nil {
		return nil, err
	}

	var artifact cachedArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("decoding cached artifact: %w", err)
	}
	return &artifact, nil
}

// download fetches the raw document under the download governor, with
// retry around transient failures.
func (o *Orchestrator) download(ctx context.Context, item model.WorkItem) (*model.Document, error) {
	if err := o.acquire(ctx, o.downloadSem); err != nil {
		return nil, err
	}
	defer func() { <-o.downloadSem }()

	var doc *model.Document
	err := o.fetchExec.Do(ctx, func(ctx context.Context) error {
		d, ferr := o.deps.Fetcher.Fetch(ctx, item.SourceURL)
		if ferr != nil {
			return ferr
		}
		doc = d
		return nil
	}, extract.ClassifyFetchError)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// summarizeText runs the resilient provider client under the summarize
// governor.
func (o *Orchestrator) summarizeText(ctx context.Context, item model.WorkItem, text string, target summarize.Target) (*model.Summary, model.Usage, string, error) {
	if err := o.acquire(ctx, o.summarizeSem); err != nil {
		return nil, model.Usage{}, "", err
	}
	defer func() { <-o.summarizeSem }()

	return o.deps.Client.Summarize(ctx, item.Title, text, target)
}

// acquire blocks until a governor slot is free or the run is cancelled.
func (o *Orchestrator) acquire(ctx context.Context, sem chan struct{}) error {
	select {
	case sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// recordCompletion updates counters and periodically flushes the
// checkpoint. Flushing every K completions trades a little re-work on
// crash for reduced I/O.
func (o *Orchestrator) recordCompletion(runID string, item model.WorkItem, result model.ItemResult) error {
	o.mu.Lock()
	o.summary.Completed++
	if result.Degraded {
		o.summary.Degraded++
	}
	if result.Backend != "" {
		o.summary.BackendWins[result.Backend]++
	}
	o.pendingIDs = append(o.pendingIDs, item.ID)
	o.completedIDs = append(o.completedIDs, item.ID)
	o.flushCounter++
	o.mu.Unlock()

	interval := atLeast(o.cfg.Pipeline.CheckpointInterval, 1)
	return o.flushIfDue(runID, interval)
}

func (o *Orchestrator) flushIfDue(runID string, interval int) error {
	o.mu.Lock()
	due := o.flushCounter >= interval
	o.mu.Unlock()
	if !due {
		return nil
	}
	return o.flushCheckpoint(runID, false)
}

// flushCheckpoint writes pending completions to the checkpoint store.
func (o *Orchestrator) flushCheckpoint(runID string, force bool) error {
	o.mu.Lock()
	if len(o.pendingIDs) == 0 {
		o.mu.Unlock()
		return nil
	}
	ids := o.pendingIDs
	o.pendingIDs = nil
	o.flushCounter = 0
	o.mu.Unlock()

	if err := o.deps.Checkpoints.RecordCompleted(runID, ids...); err != nil {
		// Put them back so a later flush can retry.
		o.mu.Lock()
		o.pendingIDs = append(ids, o.pendingIDs...)
		o.mu.Unlock()
		if force {
			log.Printf("Final checkpoint flush failed for %s: %v", runID, err)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) countFailure() {
	o.mu.Lock()
	o.summary.Failed++
	o.mu.Unlock()
}

func (o *Orchestrator) summaryQuery() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.summary == nil {
		return ""
	}
	return o.summary.Query
}

// isFallbackProvider reports whether name is not the first-choice provider.
func (o *Orchestrator) isFallbackProvider(name string) bool {
	primary := o.cfg.Summarization.Provider
	if primary == "" {
		return false
	}
	return name != "" && name != primary
}
