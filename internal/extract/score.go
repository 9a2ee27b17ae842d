package extract

import "strings"

// minTextLength is the absolute floor below which output scores 0.0
// regardless of other factors.
const minTextLength = 50

// Scorer estimates how useful a conversion output is, on a 0.0-1.0 scale.
// The score is a weighted sum of length-vs-expected, structural markers,
// and code/table markers.
type Scorer struct {
	ExpectedLength int
}

// NewScorer creates a Scorer calibrated against the given expected text
// length.
func NewScorer(expectedLength int) *Scorer {
	if expectedLength <= 0 {
		expectedLength = 2000
	}
	return &Scorer{ExpectedLength: expectedLength}
}

// Score rates extracted text. Empty or near-empty text scores 0.0.
func (s *Scorer) Score(text string) float64 {
	text = strings.TrimSpace(text)
	if len(text) < minTextLength {
		return 0.0
	}

	lengthScore := float64(len(text)) / float64(s.ExpectedLength)
	if lengthScore > 1.0 {
		lengthScore = 1.0
	}

	score := 0.5*lengthScore + 0.3*structureScore(text) + 0.2*markerScore(text)
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// structureScore rewards paragraph breaks and sentence structure.
func structureScore(text string) float64 {
	var score float64
	if strings.Contains(text, "\n") {
		score += 0.4
	}
	if strings.Count(text, "\n\n") >= 2 {
		score += 0.2
	}
	// Sentence density: proportion of period-terminated runs.
	sentences := strings.Count(text, ". ") + strings.Count(text, ".\n")
	words := len(strings.Fields(text))
	if words > 0 && sentences > 0 {
		ratio := float64(sentences) / float64(words) * 20
		if ratio > 0.4 {
			ratio = 0.4
		}
		score += ratio
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// markerScore rewards preserved code blocks, tables, and list markers.
func markerScore(text string) float64 {
	var score float64
	if strings.Contains(text, "```") {
		score += 0.5
	}
	if strings.Contains(text, "|") || strings.Contains(text, "\t") {
		score += 0.25
	}
	if strings.Contains(text, "- ") || strings.Contains(text, "* ") {
		score += 0.25
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}
