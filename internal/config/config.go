package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

// UnmarshalYAML parses a duration string or integer nanosecond count.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Sources        Sources        `yaml:"sources"`
	Pipeline       Pipeline       `yaml:"pipeline"`
	Retry          Retry          `yaml:"retry"`
	CircuitBreaker CircuitBreaker `yaml:"circuit_breaker"`
	Quality        Quality        `yaml:"quality"`
	Cache          CacheTTL       `yaml:"cache"`
	Ranking        Ranking        `yaml:"ranking"`
	Summarization  Summarization  `yaml:"summarization"`
	Output         Output         `yaml:"output"`
	Logging        Logging        `yaml:"logging"`
}

type Sources struct {
	Feeds    []Feed `yaml:"feeds"`
	DaysBack int    `yaml:"days_back"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Pipeline struct {
	MaxConcurrentDownloads   int `yaml:"max_concurrent_downloads"`
	MaxConcurrentConversions int `yaml:"max_concurrent_conversions"`
	MaxConcurrentSummaries   int `yaml:"max_concurrent_summaries"`
	QueueSize                int `yaml:"queue_size"`
	CheckpointInterval       int `yaml:"checkpoint_interval"`
}

type Retry struct {
	MaxAttempts  int      `yaml:"max_attempts"`
	BaseDelay    Duration `yaml:"base_delay"`
	MaxDelay     Duration `yaml:"max_delay"`
	JitterFactor float64  `yaml:"jitter_factor"`
}

type CircuitBreaker struct {
	FailureThreshold   int      `yaml:"failure_threshold"`
	SuccessThreshold   int      `yaml:"success_threshold"`
	Cooldown           Duration `yaml:"cooldown"`
	HalfOpenProbeLimit int      `yaml:"half_open_probe_limit"`
}

type Quality struct {
	MinQualityScore float64 `yaml:"min_quality_score"`
	ExpectedLength  int     `yaml:"expected_length"`
}

type CacheTTL struct {
	QueryTTL    Duration `yaml:"query_ttl"`
	ArtifactTTL Duration `yaml:"artifact_ttl"`
	ResultTTL   Duration `yaml:"result_ttl"`
}

type Ranking struct {
	CitationWeight     float64 `yaml:"citation_weight"`
	RecencyWeight      float64 `yaml:"recency_weight"`
	RelevanceWeight    float64 `yaml:"relevance_weight"`
	RecencyWindowYears int     `yaml:"recency_window_years"`
	MinCitations       int     `yaml:"min_citations"`
	MinYear            int     `yaml:"min_year"`
	MaxYear            int     `yaml:"max_year"`
}

type Summarization struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	OllamaURL   string   `yaml:"ollama_url"`
	OpenAIModel string   `yaml:"openai_model"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	MaxTokens   int      `yaml:"max_tokens"`
	Fallback    Fallback `yaml:"fallback"`
}

type Fallback struct {
	Enabled bool `yaml:"enabled"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for docpipe.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "docpipe")
}

// DataDir returns the XDG data directory for docpipe.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "docpipe")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/docpipe/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'docpipe init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Sources: Sources{DaysBack: 7},
		Pipeline: Pipeline{
			MaxConcurrentDownloads:   5,
			MaxConcurrentConversions: 3,
			MaxConcurrentSummaries:   2,
			QueueSize:                100,
			CheckpointInterval:       10,
		},
		Retry: Retry{
			MaxAttempts:  3,
			BaseDelay:    Duration(1 * time.Second),
			MaxDelay:     Duration(60 * time.Second),
			JitterFactor: 0.1,
		},
		CircuitBreaker: CircuitBreaker{
			FailureThreshold:   5,
			SuccessThreshold:   2,
			Cooldown:           Duration(60 * time.Second),
			HalfOpenProbeLimit: 1,
		},
		Quality: Quality{
			MinQualityScore: 0.5,
			ExpectedLength:  2000,
		},
		Cache: CacheTTL{
			QueryTTL:    Duration(1 * time.Hour),
			ArtifactTTL: Duration(7 * 24 * time.Hour),
			ResultTTL:   Duration(30 * 24 * time.Hour),
		},
		Ranking: Ranking{
			CitationWeight:     0.4,
			RecencyWeight:      0.3,
			RelevanceWeight:    0.3,
			RecencyWindowYears: 10,
		},
		Summarization: Summarization{
			Provider:    "ollama",
			Model:       "qwen2.5:7b",
			OllamaURL:   "http://localhost:11434",
			OpenAIModel: "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			MaxTokens:   512,
			Fallback:    Fallback{Enabled: true},
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
