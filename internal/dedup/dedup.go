// Package dedup resolves item identity against previously processed
// items so the pipeline never redoes work across runs.
package dedup

import (
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/TobiSchelling/docpipe/internal/database"
	"github.com/TobiSchelling/docpipe/internal/model"
)

// titleSimilarityThreshold: normalized titles more similar than this are
// considered the same document.
const titleSimilarityThreshold = 0.90

// Index holds the in-memory identity maps, built once from the persisted
// history at construction.
type Index struct {
	externalIDs map[string]string // external id -> item id
	titles      map[string]string // normalized title -> item id
}

// Load builds the Index from the persisted dedup history.
func Load(db *database.DB) (*Index, error) {
	entries, err := db.GetDedupEntries()
	if err != nil {
		return nil, fmt.Errorf("loading dedup index: %w", err)
	}

	ix := &Index{
		externalIDs: make(map[string]string, len(entries)),
		titles:      make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		if e.ExternalID != nil && *e.ExternalID != "" {
			ix.externalIDs[*e.ExternalID] = e.ItemID
		}
		if e.NormalizedTitle != "" {
			ix.titles[e.NormalizedTitle] = e.ItemID
		}
	}
	return ix, nil
}

// Classify splits items into new and duplicate. Exact external-id match
// is checked first; title similarity only when that misses. Identity
// keys of fresh items are registered transiently as the batch is walked,
// so a batch carrying the same document twice yields one fresh copy.
func (ix *Index) Classify(items []model.WorkItem) (fresh, duplicate []model.WorkItem) {
	batch := batchKeys{
		externalIDs: make(map[string]struct{}),
		titles:      make(map[string]struct{}),
	}
	for _, item := range items {
		normalized := NormalizeTitle(item.Title)
		if ix.isDuplicate(item, normalized, batch) {
			duplicate = append(duplicate, item)
			continue
		}
		if item.ExternalID != "" {
			batch.externalIDs[item.ExternalID] = struct{}{}
		}
		if normalized != "" {
			batch.titles[normalized] = struct{}{}
		}
		fresh = append(fresh, item)
	}
	if len(duplicate) > 0 {
		log.Printf("Dedup: %d new, %d previously seen", len(fresh), len(duplicate))
	}
	return fresh, duplicate
}

// batchKeys holds identity keys of items accepted earlier in the same
// batch. Exact matches only: similarity matching stays reserved for the
// persisted index, where titles come from distinct historical runs.
type batchKeys struct {
	externalIDs map[string]struct{}
	titles      map[string]struct{}
}

func (ix *Index) isDuplicate(item model.WorkItem, normalized string, batch batchKeys) bool {
	if item.ExternalID != "" {
		if _, ok := ix.externalIDs[item.ExternalID]; ok {
			return true
		}
		if _, ok := batch.externalIDs[item.ExternalID]; ok {
			return true
		}
	}

	if normalized == "" {
		return false
	}
	if _, ok := ix.titles[normalized]; ok {
		return true
	}
	if _, ok := batch.titles[normalized]; ok {
		return true
	}
	for known := range ix.titles {
		if Similarity(normalized, known) > titleSimilarityThreshold {
			return true
		}
	}
	return false
}

// Update adds successfully processed items to the in-memory maps and
// persists them.
func (ix *Index) Update(db *database.DB, items []model.WorkItem) error {
	entries := make([]database.DedupEntry, 0, len(items))
	for _, item := range items {
		normalized := NormalizeTitle(item.Title)
		entry := database.DedupEntry{ItemID: item.ID, NormalizedTitle: normalized}
		if item.ExternalID != "" {
			ext := item.ExternalID
			entry.ExternalID = &ext
			ix.externalIDs[ext] = item.ID
		}
		if normalized != "" {
			ix.titles[normalized] = item.ID
		}
		entries = append(entries, entry)
	}
	if err := db.InsertDedupEntries(entries); err != nil {
		return fmt.Errorf("persisting dedup entries: %w", err)
	}
	return nil
}

// NormalizeTitle case-folds, strips punctuation, and collapses whitespace.
func NormalizeTitle(title string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity returns a 0.0-1.0 similarity ratio between two strings,
// computed from their Levenshtein distance.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1.0 - float64(levenshtein(a, b))/float64(longest)
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
