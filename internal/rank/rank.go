// Package rank orders candidate items so the most valuable are processed
// first under time and cost pressure.
package rank

import (
	"log"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/docpipe/internal/model"
)

// citationSaturation is the citation count at which the popularity signal
// saturates at 1.0.
const citationSaturation = 1000

// Config holds ranking weights and hard filter thresholds.
type Config struct {
	CitationWeight     float64
	RecencyWeight      float64
	RelevanceWeight    float64
	RecencyWindowYears int
	MinCitations       int
	MinYear            int
	MaxYear            int
}

// Ranker scores and orders work items.
type Ranker struct {
	cfg Config
	now func() time.Time
}

// New creates a Ranker. Zero weights fall back to the standard split.
func New(cfg Config) *Ranker {
	if cfg.CitationWeight == 0 && cfg.RecencyWeight == 0 && cfg.RelevanceWeight == 0 {
		cfg.CitationWeight = 0.4
		cfg.RecencyWeight = 0.3
		cfg.RelevanceWeight = 0.3
	}
	if cfg.RecencyWindowYears <= 0 {
		cfg.RecencyWindowYears = 10
	}
	return &Ranker{cfg: cfg, now: time.Now}
}

// Filter removes items failing hard thresholds before ranking.
func (r *Ranker) Filter(items []model.WorkItem) []model.WorkItem {
	kept := make([]model.WorkItem, 0, len(items))
	for _, item := range items {
		if item.Citations < r.cfg.MinCitations {
			continue
		}
		year := publicationYear(item)
		if r.cfg.MinYear > 0 && year > 0 && year < r.cfg.MinYear {
			continue
		}
		if r.cfg.MaxYear > 0 && year > 0 && year > r.cfg.MaxYear {
			continue
		}
		kept = append(kept, item)
	}
	if dropped := len(items) - len(kept); dropped > 0 {
		log.Printf("Rank filter dropped %d of %d items", dropped, len(items))
	}
	return kept
}

// Rank returns items ordered by descending score against the query.
// Ties keep the input order.
func (r *Ranker) Rank(items []model.WorkItem, query string) []model.WorkItem {
	ordered := make([]model.WorkItem, len(items))
	copy(ordered, items)

	scores := make(map[string]float64, len(items))
	for _, item := range ordered {
		scores[item.ID] = r.Score(item, query)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		return scores[ordered[i].ID] > scores[ordered[j].ID]
	})
	return ordered
}

// Score computes the weighted sum of the citation, recency, and relevance
// signals, each on a 0.0-1.0 scale.
func (r *Ranker) Score(item model.WorkItem, query string) float64 {
	return r.cfg.CitationWeight*citationScore(item.Citations) +
		r.cfg.RecencyWeight*r.recencyScore(item) +
		r.cfg.RelevanceWeight*relevanceScore(item, query)
}

// citationScore is log-scaled and saturating: heavily cited items do not
// crowd out everything else.
func citationScore(citations int) float64 {
	if citations <= 0 {
		return 0.0
	}
	score := math.Log1p(float64(citations)) / math.Log1p(citationSaturation)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// recencyScore decays linearly over the configured window. Unknown dates
// get a neutral 0.5.
func (r *Ranker) recencyScore(item model.WorkItem) float64 {
	year := publicationYear(item)
	if year == 0 {
		return 0.5
	}
	age := float64(r.now().Year() - year)
	if age < 0 {
		age = 0
	}
	score := 1.0 - age/float64(r.cfg.RecencyWindowYears)
	if score < 0 {
		score = 0
	}
	return score
}

// relevanceScore is the fraction of query tokens found in the title and
// abstract.
func relevanceScore(item model.WorkItem, query string) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0.5
	}

	haystack := make(map[string]struct{})
	for _, t := range tokenize(item.Title + " " + item.Abstract) {
		haystack[t] = struct{}{}
	}

	matched := 0
	for _, t := range queryTokens {
		if _, ok := haystack[t]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

func tokenize(s string) []string {
	fields := strings.Fields(strings.ToLower(s))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]")
		if len(f) > 2 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func publicationYear(item model.WorkItem) int {
	if len(item.PublishedDate) < 4 {
		return 0
	}
	year, err := strconv.Atoi(item.PublishedDate[:4])
	if err != nil {
		return 0
	}
	return year
}
