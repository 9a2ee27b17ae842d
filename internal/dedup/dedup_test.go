package dedup

import (
	"path/filepath"
	"testing"

	"github.com/TobiSchelling/docpipe/internal/database"
	"github.com/TobiSchelling/docpipe/internal/model"
)

func newTestIndex() *Index {
	return &Index{
		externalIDs: make(map[string]string),
		titles:      make(map[string]string),
	}
}

func seededIndex(t *testing.T) *Index {
	t.Helper()
	ix := newTestIndex()
	ix.externalIDs["arxiv:1706.03762"] = "item-1"
	ix.titles[NormalizeTitle("Attention Is All You Need")] = "item-1"
	return ix
}

func TestExactExternalIDIsDuplicate(t *testing.T) {
	ix := seededIndex(t)

	fresh, dup := ix.Classify([]model.WorkItem{
		{ID: "x", ExternalID: "arxiv:1706.03762", Title: "Completely Different Title"},
	})
	if len(dup) != 1 || len(fresh) != 0 {
		t.Errorf("identical external ids must classify as duplicate, got fresh=%d dup=%d", len(fresh), len(dup))
	}
}

func TestNearIdenticalTitleIsDuplicate(t *testing.T) {
	ix := seededIndex(t)

	fresh, dup := ix.Classify([]model.WorkItem{
		{ID: "x", Title: "Attention is all you need!"},
		{ID: "y", Title: "Attention Is All You Needed"},
	})
	if len(dup) != 2 {
		t.Errorf("near-identical titles must classify as duplicate, got fresh=%v", fresh)
	}
}

func TestDistinctItemIsFresh(t *testing.T) {
	ix := seededIndex(t)

	fresh, dup := ix.Classify([]model.WorkItem{
		{ID: "x", ExternalID: "arxiv:2005.14165", Title: "Language Models are Few-Shot Learners"},
	})
	if len(fresh) != 1 || len(dup) != 0 {
		t.Errorf("distinct item must classify as fresh, got fresh=%d dup=%d", len(fresh), len(dup))
	}
}

func TestEmptyIndexEverythingFresh(t *testing.T) {
	ix := newTestIndex()

	fresh, dup := ix.Classify([]model.WorkItem{
		{ID: "a", Title: "First"},
		{ID: "b", Title: "Second"},
	})
	if len(fresh) != 2 || len(dup) != 0 {
		t.Errorf("empty index must pass everything, got fresh=%d dup=%d", len(fresh), len(dup))
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Attention Is All You Need", "attention is all you need"},
		{"  Attention   Is All You Need!  ", "attention is all you need"},
		{"Go 1.25: What's New?", "go 125 whats new"},
		{"", ""},
		{"!!!", ""},
	}
	for _, tt := range tests {
		if got := NormalizeTitle(tt.in); got != tt.want {
			t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	if got := Similarity("same", "same"); got != 1.0 {
		t.Errorf("identical strings: expected 1.0, got %f", got)
	}
	if got := Similarity("", "anything"); got != 0.0 {
		t.Errorf("empty string: expected 0.0, got %f", got)
	}
	if got := Similarity("abcd", "wxyz"); got != 0.0 {
		t.Errorf("disjoint strings: expected 0.0, got %f", got)
	}

	high := Similarity("resilient extraction pipeline", "resilient extraction pipelines")
	if high <= titleSimilarityThreshold {
		t.Errorf("one-character difference should exceed the threshold, got %f", high)
	}
	low := Similarity("resilient extraction pipeline", "monthly financial report")
	if low > titleSimilarityThreshold {
		t.Errorf("unrelated titles must stay below the threshold, got %f", low)
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"kitten", "sitting", 3},
		{"", "abc", 3},
		{"abc", "", 3},
		{"same", "same", 0},
		{"flaw", "lawn", 2},
	}
	for _, tt := range tests {
		if got := levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestLoadAndUpdateRoundtrip(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	defer db.Close()

	ix, err := Load(db)
	if err != nil {
		t.Fatalf("loading empty index: %v", err)
	}

	items := []model.WorkItem{
		{ID: "item-1", ExternalID: "ext-1", Title: "A Persistent Title"},
		{ID: "item-2", Title: "No External ID Here"},
	}
	if err := ix.Update(db, items); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	// In-memory maps see the items immediately.
	_, dup := ix.Classify(items)
	if len(dup) != 2 {
		t.Errorf("updated index must recognize its own items, got %d duplicates", len(dup))
	}

	// A fresh index built from the database sees them too.
	reloaded, err := Load(db)
	if err != nil {
		t.Fatalf("reloading index: %v", err)
	}
	_, dup = reloaded.Classify(items)
	if len(dup) != 2 {
		t.Errorf("reloaded index must recognize persisted items, got %d duplicates", len(dup))
	}
}

func TestIntraBatchExternalIDDuplicate(t *testing.T) {
	ix := newTestIndex()

	fresh, dup := ix.Classify([]model.WorkItem{
		{ID: "a", ExternalID: "doi:10.1000/1", Title: "Original Submission"},
		{ID: "b", ExternalID: "doi:10.1000/1", Title: "Mirrored Copy"},
	})
	if len(fresh) != 1 || len(dup) != 1 {
		t.Fatalf("same external id within one batch must dedup, got fresh=%d dup=%d", len(fresh), len(dup))
	}
	if fresh[0].ID != "a" {
		t.Errorf("the first occurrence must win, got %s", fresh[0].ID)
	}
}

func TestIntraBatchTitleDuplicate(t *testing.T) {
	ix := newTestIndex()

	fresh, dup := ix.Classify([]model.WorkItem{
		{ID: "a", Title: "Attention Is All You Need"},
		{ID: "b", Title: "attention is all you need!"},
		{ID: "c", Title: "Language Models are Few-Shot Learners"},
	})
	if len(fresh) != 2 || len(dup) != 1 {
		t.Fatalf("matching normalized titles within one batch must dedup, got fresh=%d dup=%d", len(fresh), len(dup))
	}
	if dup[0].ID != "b" {
		t.Errorf("expected the later occurrence as duplicate, got %s", dup[0].ID)
	}
}
