package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/TobiSchelling/docpipe/internal/model"
)

const extractPrompt = `You are extracting the substance of a technical document for a research digest.

Document title: %s
Focus: %s

Document text:
%s

Respond with ONLY this JSON:
{
    "summary": "3-5 sentence summary of the document",
    "key_findings": ["finding 1", "finding 2", "finding 3"],
    "topics": ["topic 1", "topic 2"]
}`

// Target describes what the summarization call should produce.
type Target struct {
	MaxTokens int
	Focus     string // research focus steering the summary, may be empty
}

// Provider is one external summarization backend.
type Provider interface {
	Name() string
	IsConfigured() bool
	Summarize(ctx context.Context, title, text string, target Target) (*model.Summary, model.Usage, error)
}

// buildPrompt assembles the extraction prompt, truncating oversized input.
func buildPrompt(title, text string, target Target) string {
	if len(text) > 16000 {
		text = text[:16000] + "..."
	}
	focus := target.Focus
	if focus == "" {
		focus = "general technical relevance"
	}
	return fmt.Sprintf(extractPrompt, title, focus, text)
}

// parseSummary converts a raw LLM response into a Summary.
func parseSummary(responseText string) (*model.Summary, error) {
	parsed, err := ParseJSONResponse(responseText)
	if err != nil {
		return nil, err
	}

	summary := &model.Summary{}
	if s, ok := parsed["summary"].(string); ok {
		summary.Summary = strings.TrimSpace(s)
	}
	if summary.Summary == "" {
		return nil, ErrMalformedResponse
	}

	summary.KeyFindings = stringSlice(parsed["key_findings"], 5)
	summary.Topics = stringSlice(parsed["topics"], 5)
	return summary, nil
}

func stringSlice(v any, limit int) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr {
		if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
		if len(out) >= limit {
			break
		}
	}
	return out
}

// OllamaProvider summarizes via a local Ollama instance. Token accounting
// comes from prompt_eval_count/eval_count; local inference has zero cost.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OllamaProvider) Name() string { return "ollama" }

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	log.Printf("Ollama model %q not found", o.Model)
	return false
}

// Summarize sends the extraction prompt to Ollama.
func (o *OllamaProvider) Summarize(ctx context.Context, title, text string, target Target) (*model.Summary, model.Usage, error) {
	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": buildPrompt(title, text, target)},
		},
		"stream": false,
		"options": map[string]any{
			"num_predict": target.MaxTokens,
			"temperature": 0.3,
		},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, model.Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, model.Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, model.Usage{}, fmt.Errorf("ollama API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, model.Usage{}, &APIError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, model.Usage{}, fmt.Errorf("decoding response: %w", err)
	}

	usage := model.Usage{
		InputTokens:  result.PromptEvalCount,
		OutputTokens: result.EvalCount,
	}

	summary, err := parseSummary(result.Message.Content)
	if err != nil {
		return nil, usage, err
	}
	return summary, usage, nil
}

// openAICostPer1M maps model prefixes to USD prices per million
// input/output tokens.
var openAICostPer1M = map[string][2]float64{
	"gpt-4o-mini": {0.15, 0.60},
	"gpt-4o":      {2.50, 10.00},
}

// OpenAIProvider summarizes via the OpenAI chat completions API.
type OpenAIProvider struct {
	Model  string
	APIKey string
	client *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider reading the key from
// the named environment variable.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:  model,
		APIKey: os.Getenv(apiKeyEnv),
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Summarize sends the extraction prompt to OpenAI.
func (o *OpenAIProvider) Summarize(ctx context.Context, title, text string, target Target) (*model.Summary, model.Usage, error) {
	if o.APIKey == "" {
		return nil, model.Usage{}, fmt.Errorf("OpenAI API key not configured")
	}

	body := map[string]any{
		"model": o.Model,
		"messages": []map[string]string{
			{"role": "user", "content": buildPrompt(title, text, target)},
		},
		"max_tokens":  target.MaxTokens,
		"temperature": 0.3,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, model.Usage{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", "https://api.openai.com/v1/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, model.Usage{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, model.Usage{}, fmt.Errorf("OpenAI API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, model.Usage{}, &APIError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, model.Usage{}, fmt.Errorf("decoding response: %w", err)
	}

	usage := model.Usage{
		InputTokens:  result.Usage.PromptTokens,
		OutputTokens: result.Usage.CompletionTokens,
		Cost:         o.cost(result.Usage.PromptTokens, result.Usage.CompletionTokens),
	}

	if len(result.Choices) == 0 {
		return nil, usage, fmt.Errorf("no choices in OpenAI response: %w", ErrMalformedResponse)
	}

	summary, err := parseSummary(result.Choices[0].Message.Content)
	if err != nil {
		return nil, usage, err
	}
	return summary, usage, nil
}

func (o *OpenAIProvider) cost(inputTokens, outputTokens int) float64 {
	rates, ok := openAICostPer1M[o.Model]
	if !ok {
		switch {
		case strings.HasPrefix(o.Model, "gpt-4o-mini"):
			rates = openAICostPer1M["gpt-4o-mini"]
		case strings.HasPrefix(o.Model, "gpt-4o"):
			rates = openAICostPer1M["gpt-4o"]
		default:
			return 0
		}
	}
	return float64(inputTokens)*rates[0]/1e6 + float64(outputTokens)*rates[1]/1e6
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(header, "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
