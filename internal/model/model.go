package model

import "time"

// WorkItem is one discovered document reference to process.
// Immutable once created; owned by the pipeline for the duration of a run.
type WorkItem struct {
	ID            string // stable identifier (hash of the source URL)
	ExternalID    string // DOI, GUID, or other external unique id (may be empty)
	Title         string
	SourceURL     string            // where the raw document lives
	Source        string            // human-readable origin (feed name, site)
	Abstract      string            // optional short description
	PublishedDate string            // YYYY-MM-DD or empty
	Citations     int               // popularity signal, 0 if unknown
	Metadata      map[string]string // arbitrary extra metadata
}

// Document is a downloaded raw document ready for conversion.
type Document struct {
	URL  string
	Body []byte
}

// Summary is the structured output of the summarization provider.
type Summary struct {
	Summary     string   `json:"summary"`
	KeyFindings []string `json:"key_findings"`
	Topics      []string `json:"topics"`
}

// Usage holds token and cost accounting for one provider call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// Add accumulates another usage into this one.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.Cost += other.Cost
}

// ItemResult is the per-item output of a pipeline run, emitted in
// completion order.
type ItemResult struct {
	Item     WorkItem
	Backend  string // conversion backend that produced the text
	Provider string // summarization provider that produced the summary
	Quality  float64
	Degraded bool // below-threshold extraction or fallback provider used
	Cached   bool // served entirely from the result cache
	Summary  *Summary
	Usage    Usage
	Duration time.Duration
	Err      error // terminal per-item failure; nil on success
}
