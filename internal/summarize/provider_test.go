package summarize

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/docpipe/internal/retry"
)

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"plain JSON", `{"summary": "text"}`, true},
		{"fenced", "```json\n{\"summary\": \"text\"}\n```", true},
		{"fenced no language", "```\n{\"summary\": \"text\"}\n```", true},
		{"empty", "", false},
		{"not JSON", "I cannot answer that.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONResponse(tt.in)
			if tt.want {
				if err != nil || got == nil {
					t.Errorf("ParseJSONResponse(%q) = %v, %v; want an object", tt.in, got, err)
				}
				return
			}
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("ParseJSONResponse(%q): expected ErrMalformedResponse, got %v", tt.in, err)
			}
		})
	}
}

func TestParseSummary(t *testing.T) {
	raw := `{"summary": "A summary.", "key_findings": ["one", "two"], "topics": ["go", "pipelines"]}`

	s, err := parseSummary(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Summary != "A summary." {
		t.Errorf("unexpected summary: %q", s.Summary)
	}
	if len(s.KeyFindings) != 2 || s.KeyFindings[0] != "one" {
		t.Errorf("unexpected key findings: %v", s.KeyFindings)
	}
	if len(s.Topics) != 2 {
		t.Errorf("unexpected topics: %v", s.Topics)
	}
}

func TestParseSummaryMalformed(t *testing.T) {
	for _, raw := range []string{"", "not json", `{"key_findings": ["x"]}`, `{"summary": ""}`} {
		if _, err := parseSummary(raw); !errors.Is(err, ErrMalformedResponse) {
			t.Errorf("parseSummary(%q): expected ErrMalformedResponse, got %v", raw, err)
		}
	}
}

func TestParseSummaryLimitsSlices(t *testing.T) {
	raw := `{"summary": "s", "key_findings": ["1","2","3","4","5","6","7"]}`
	s, err := parseSummary(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.KeyFindings) != 5 {
		t.Errorf("expected findings capped at 5, got %d", len(s.KeyFindings))
	}
}

func TestBuildPromptTruncates(t *testing.T) {
	long := strings.Repeat("x", 20000)
	prompt := buildPrompt("Title", long, Target{})
	if len(prompt) > 17000 {
		t.Errorf("expected truncated prompt, got %d chars", len(prompt))
	}
	if !strings.Contains(prompt, "Title") {
		t.Error("prompt must include the document title")
	}
	if !strings.Contains(prompt, "general technical relevance") {
		t.Error("empty focus must fall back to the default")
	}
}

func TestOpenAICost(t *testing.T) {
	p := &OpenAIProvider{Model: "gpt-4o-mini"}
	got := p.cost(1_000_000, 1_000_000)
	if math.Abs(got-0.75) > 1e-9 {
		t.Errorf("gpt-4o-mini cost: expected 0.75, got %f", got)
	}

	p = &OpenAIProvider{Model: "gpt-4o-mini-2024-07-18"}
	if p.cost(1_000_000, 0) != 0.15 {
		t.Error("dated mini model must use the mini rate, not the gpt-4o rate")
	}

	p = &OpenAIProvider{Model: "unknown-model"}
	if p.cost(1_000_000, 1_000_000) != 0 {
		t.Error("unknown models have no cost table entry")
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Class
	}{
		{"quota 402", &APIError{StatusCode: 402}, retry.Permanent},
		{"quota body", &APIError{StatusCode: 429, Body: "insufficient_quota"}, retry.Permanent},
		{"rate limit", &APIError{StatusCode: 429, RetryAfter: 2 * time.Second}, retry.RateLimited},
		{"server error", &APIError{StatusCode: 502}, retry.Transient},
		{"client error", &APIError{StatusCode: 400}, retry.Permanent},
		{"malformed", ErrMalformedResponse, retry.Permanent},
		{"transport", errors.New("dial tcp: refused"), retry.Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyProviderError(tt.err); got.Class != tt.want {
				t.Errorf("expected class %d, got %d", tt.want, got.Class)
			}
		})
	}
}

func TestIsQuotaExhausted(t *testing.T) {
	if !IsQuotaExhausted(ErrQuotaExhausted) {
		t.Error("sentinel must be recognized")
	}
	if !IsQuotaExhausted(&APIError{StatusCode: 402}) {
		t.Error("402 must be recognized as quota exhaustion")
	}
	if IsQuotaExhausted(&APIError{StatusCode: 429, Body: "slow down"}) {
		t.Error("plain throttling is not quota exhaustion")
	}
}
