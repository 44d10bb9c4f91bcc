package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Search        SearchConfig        `yaml:"search"`
	Collector     CollectorConfig     `yaml:"collector"`
	Processing    ProcessingConfig    `yaml:"processing"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Wikipedia     WikipediaConfig     `yaml:"wikipedia"`
	Output        OutputConfig        `yaml:"output"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LLMConfig contains chat completion settings for every LLM stage
type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai", "ollama"
	APIKey   string `yaml:"api_key,omitempty"`
	BaseURL  string `yaml:"base_url,omitempty"`
	Model    string `yaml:"model"`
	Timeout  string `yaml:"timeout"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	FilterMaxTokens   int     `yaml:"filter_max_tokens"`
	FilterTemperature float64 `yaml:"filter_temperature"`

	SearchMaxTokens   int     `yaml:"search_max_tokens"`
	SearchTemperature float64 `yaml:"search_temperature"`

	// PromptLogLength bounds prompts copied into the execution log
	PromptLogLength int `yaml:"prompt_log_length"`
}

// SearchConfig contains web search and video discovery settings
type SearchConfig struct {
	Patterns       []string `yaml:"patterns"`
	GooglePatterns []string `yaml:"google_patterns"`

	GoogleAPIKey     string `yaml:"google_api_key,omitempty"`
	GoogleCX         string `yaml:"google_cx,omitempty"`
	GoogleAPIBaseURL string `yaml:"google_api_base_url"`
	GoogleBaseURL    string `yaml:"google_base_url"`
	GoogleResults    int    `yaml:"google_results"`
	GoogleAPIResults int    `yaml:"google_api_results"`
	GoogleDelay      string `yaml:"google_delay"`
	PageCharLimit    int    `yaml:"page_char_limit"`

	BingBaseURL       string `yaml:"bing_base_url"`
	DuckDuckGoBaseURL string `yaml:"duckduckgo_base_url"`
	ResultsPerQuery   int    `yaml:"results_per_query"`

	YouTubeBaseURL        string `yaml:"youtube_base_url"`
	YouTubeMaxURLs        int    `yaml:"youtube_max_urls"`
	YouTubeMaxVideos      int    `yaml:"youtube_max_videos"`
	YouTubeMaxTranscripts int    `yaml:"youtube_max_transcripts"`
	TranscriptCharLimit   int    `yaml:"transcript_char_limit"`
	YouTubeSearchDelay    string `yaml:"youtube_search_delay"`
}

// CollectorConfig contains shared HTTP and pacing settings for collectors
type CollectorConfig struct {
	DefaultDelay   string `yaml:"default_delay"`
	RequestTimeout string `yaml:"request_timeout"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryDelay     string `yaml:"retry_delay"`
	// BackoffUnit is multiplied by the attempt number between fetch retries
	BackoffUnit string `yaml:"backoff_unit"`
	// RateLimitMaxRetries and RateLimitCeiling bound the 429 retry loop per query
	RateLimitMaxRetries int    `yaml:"rate_limit_max_retries"`
	RateLimitCeiling    string `yaml:"rate_limit_ceiling"`
	UserAgent           string `yaml:"user_agent"`
	// Readability switches page extraction to article mode
	Readability bool `yaml:"readability"`

	CircuitFailureThreshold int    `yaml:"circuit_failure_threshold"`
	CircuitOpenDuration     string `yaml:"circuit_open_duration"`
}

// ProcessingConfig contains text extraction caps
type ProcessingConfig struct {
	SamplePhrasesMax      int `yaml:"sample_phrases_max"`
	SamplePhraseMinLength int `yaml:"sample_phrase_min_length"`
	SamplePhraseMaxLength int `yaml:"sample_phrase_max_length"`
	QualityMinLength      int `yaml:"quality_min_length"`
	QualityMaxLength      int `yaml:"quality_max_length"`
	MaxSpeechPatterns     int `yaml:"max_speech_patterns"`
	// LLMExtractionMinLength is the page text length that must be exceeded before LLM extraction runs
	LLMExtractionMinLength    int `yaml:"llm_extraction_min_length"`
	FilterTextLimit           int `yaml:"filter_text_limit"`
	MaxKeyInformation         int `yaml:"max_key_information"`
	MaxSamplePhrasesDisplay   int `yaml:"max_sample_phrases_display"`
	WikipediaSummaryLimit     int `yaml:"wikipedia_summary_limit"`
	WikipediaFallbackLimit    int `yaml:"wikipedia_fallback_limit"`
	MaxWebSpeechPatterns      int `yaml:"max_web_speech_patterns"`
	FallbackPatternsDisplayed int `yaml:"fallback_patterns_displayed"`
	// RandomSeed makes phrase sampling reproducible when non-zero
	RandomSeed uint64 `yaml:"random_seed,omitempty"`
}

// OrchestrationConfig contains branch scheduling settings
type OrchestrationConfig struct {
	Workers          int    `yaml:"workers"`
	WikipediaTimeout string `yaml:"wikipedia_timeout"`
	WebSearchTimeout string `yaml:"web_search_timeout"`
	YouTubeTimeout   string `yaml:"youtube_timeout"`
	RunTimeout       string `yaml:"run_timeout"`
}

// WikipediaConfig contains encyclopedia lookup and disambiguation scoring policy
type WikipediaConfig struct {
	Language        string   `yaml:"language"`
	BaseURL         string   `yaml:"base_url,omitempty"`
	SearchResults   int      `yaml:"search_results"`
	SummaryLimit    int      `yaml:"summary_limit"`
	ContentLimit    int      `yaml:"content_limit"`
	MaxCategories   int      `yaml:"max_categories"`
	MaxOtherOptions int      `yaml:"max_other_options"`
	BonusKeywords   []string `yaml:"bonus_keywords"`
	PenaltyKeywords []string `yaml:"penalty_keywords"`
	KeywordBonus    int      `yaml:"keyword_bonus"`
	KeywordPenalty  int      `yaml:"keyword_penalty"`
	NameMatchBonus  int      `yaml:"name_match_bonus"`
}

// OutputConfig contains file output settings
type OutputConfig struct {
	CacheDir  string `yaml:"cache_dir"`
	PromptDir string `yaml:"prompt_dir"`
}

// ObservabilityConfig contains observability configuration
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output   string `yaml:"output"` // "file", "stderr"
	FilePath string `yaml:"file_path,omitempty"`
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	config.overrideFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadOrDefault loads configuration from a file or returns default config.
// Environment overrides are applied either way.
func LoadOrDefault(path string) *Config {
	config, err := Load(path)
	if err != nil {
		config = Default()
		config.overrideFromEnv()
	}
	return config
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:          "openai",
			Model:             "gpt-4o",
			Timeout:           "2m",
			MaxTokens:         4000,
			Temperature:       0.7,
			FilterMaxTokens:   1000,
			FilterTemperature: 0.3,
			SearchMaxTokens:   2000,
			SearchTemperature: 0.1,
			PromptLogLength:   200,
		},
		Search: SearchConfig{
			Patterns: []string{
				`"{name}" 口癖 語尾`,
				`"{name}" 話し方 特徴`,
				`"{name}" 口調 喋り方`,
			},
			GooglePatterns: []string{
				`"{name}" 人物 プロフィール`,
				`"{name}" 名台詞集`,
				`"{name}" セリフ一覧`,
				`"{name}" 口癖 語尾`,
				`"{name}" 話し方 特徴`,
				`"{name}" キャラクター 性格`,
				`"{name}" 一人称 呼び方`,
				`"{name}" 決まり文句`,
				`"{name}" とは 特徴`,
				`"{name}" 解説 まとめ`,
			},
			GoogleAPIBaseURL:      "https://www.googleapis.com/customsearch/v1",
			GoogleBaseURL:         "https://www.google.com",
			GoogleResults:         20,
			GoogleAPIResults:      8,
			GoogleDelay:           "8s",
			PageCharLimit:         1000,
			BingBaseURL:           "https://www.bing.com",
			DuckDuckGoBaseURL:     "https://duckduckgo.com",
			ResultsPerQuery:       10,
			YouTubeBaseURL:        "https://www.youtube.com",
			YouTubeMaxURLs:        20,
			YouTubeMaxVideos:      15,
			YouTubeMaxTranscripts: 10,
			TranscriptCharLimit:   3000,
			YouTubeSearchDelay:    "1s",
		},
		Collector: CollectorConfig{
			DefaultDelay:            "2s",
			RequestTimeout:          "15s",
			MaxRetries:              3,
			RetryDelay:              "30s",
			BackoffUnit:             "1s",
			RateLimitMaxRetries:     3,
			RateLimitCeiling:        "3m",
			UserAgent:               "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			CircuitFailureThreshold: 5,
			CircuitOpenDuration:     "30s",
		},
		Processing: ProcessingConfig{
			SamplePhrasesMax:          20,
			SamplePhraseMinLength:     3,
			SamplePhraseMaxLength:     60,
			QualityMinLength:          3,
			QualityMaxLength:          100,
			MaxSpeechPatterns:         10,
			LLMExtractionMinLength:    50,
			FilterTextLimit:           3000,
			MaxKeyInformation:         5,
			MaxSamplePhrasesDisplay:   15,
			WikipediaSummaryLimit:     1000,
			WikipediaFallbackLimit:    500,
			MaxWebSpeechPatterns:      10,
			FallbackPatternsDisplayed: 5,
		},
		Orchestration: OrchestrationConfig{
			Workers:          3,
			WikipediaTimeout: "30s",
			WebSearchTimeout: "90s",
			YouTubeTimeout:   "120s",
			RunTimeout:       "10m",
		},
		Wikipedia: WikipediaConfig{
			Language:        "ja",
			SearchResults:   5,
			SummaryLimit:    1000,
			ContentLimit:    2000,
			MaxCategories:   10,
			MaxOtherOptions: 4,
			BonusKeywords: []string{
				"キャラクター", "登場人物", "アニメ", "漫画", "ゲーム", "小説", "架空", "作品", "声優", "VTuber",
			},
			PenaltyKeywords: []string{
				"寺院", "神社", "教会", "宗教", "事件", "犯罪", "企業", "会社", "大学", "学校", "駅",
			},
			KeywordBonus:   2,
			KeywordPenalty: 3,
			NameMatchBonus: 10,
		},
		Output: OutputConfig{
			CacheDir:  "cache",
			PromptDir: ".",
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:      false,
				Endpoint:     "localhost:4318",
				SamplingRate: 1.0,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Port:    2223,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Output: "file",
			},
		},
	}
}

// applyDefaults applies default values to missing fields
func (c *Config) applyDefaults() {
	d := Default()

	setString := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	setInt := func(dst *int, def int) {
		if *dst == 0 {
			*dst = def
		}
	}
	setFloat := func(dst *float64, def float64) {
		if *dst == 0 {
			*dst = def
		}
	}

	// LLM
	setString(&c.LLM.Provider, d.LLM.Provider)
	setString(&c.LLM.Model, d.LLM.Model)
	setString(&c.LLM.Timeout, d.LLM.Timeout)
	setInt(&c.LLM.MaxTokens, d.LLM.MaxTokens)
	setFloat(&c.LLM.Temperature, d.LLM.Temperature)
	setInt(&c.LLM.FilterMaxTokens, d.LLM.FilterMaxTokens)
	setFloat(&c.LLM.FilterTemperature, d.LLM.FilterTemperature)
	setInt(&c.LLM.SearchMaxTokens, d.LLM.SearchMaxTokens)
	setFloat(&c.LLM.SearchTemperature, d.LLM.SearchTemperature)
	setInt(&c.LLM.PromptLogLength, d.LLM.PromptLogLength)

	// Search
	if len(c.Search.Patterns) == 0 {
		c.Search.Patterns = d.Search.Patterns
	}
	if len(c.Search.GooglePatterns) == 0 {
		c.Search.GooglePatterns = d.Search.GooglePatterns
	}
	setString(&c.Search.GoogleAPIBaseURL, d.Search.GoogleAPIBaseURL)
	setString(&c.Search.GoogleBaseURL, d.Search.GoogleBaseURL)
	setInt(&c.Search.GoogleResults, d.Search.GoogleResults)
	setInt(&c.Search.GoogleAPIResults, d.Search.GoogleAPIResults)
	setString(&c.Search.GoogleDelay, d.Search.GoogleDelay)
	setInt(&c.Search.PageCharLimit, d.Search.PageCharLimit)
	setString(&c.Search.BingBaseURL, d.Search.BingBaseURL)
	setString(&c.Search.DuckDuckGoBaseURL, d.Search.DuckDuckGoBaseURL)
	setInt(&c.Search.ResultsPerQuery, d.Search.ResultsPerQuery)
	setString(&c.Search.YouTubeBaseURL, d.Search.YouTubeBaseURL)
	setInt(&c.Search.YouTubeMaxURLs, d.Search.YouTubeMaxURLs)
	setInt(&c.Search.YouTubeMaxVideos, d.Search.YouTubeMaxVideos)
	setInt(&c.Search.YouTubeMaxTranscripts, d.Search.YouTubeMaxTranscripts)
	setInt(&c.Search.TranscriptCharLimit, d.Search.TranscriptCharLimit)
	setString(&c.Search.YouTubeSearchDelay, d.Search.YouTubeSearchDelay)

	// Collector
	setString(&c.Collector.DefaultDelay, d.Collector.DefaultDelay)
	setString(&c.Collector.RequestTimeout, d.Collector.RequestTimeout)
	setInt(&c.Collector.MaxRetries, d.Collector.MaxRetries)
	setString(&c.Collector.RetryDelay, d.Collector.RetryDelay)
	setString(&c.Collector.BackoffUnit, d.Collector.BackoffUnit)
	setInt(&c.Collector.RateLimitMaxRetries, d.Collector.RateLimitMaxRetries)
	setString(&c.Collector.RateLimitCeiling, d.Collector.RateLimitCeiling)
	setString(&c.Collector.UserAgent, d.Collector.UserAgent)
	setInt(&c.Collector.CircuitFailureThreshold, d.Collector.CircuitFailureThreshold)
	setString(&c.Collector.CircuitOpenDuration, d.Collector.CircuitOpenDuration)

	// Processing
	p, dp := &c.Processing, d.Processing
	setInt(&p.SamplePhrasesMax, dp.SamplePhrasesMax)
	setInt(&p.SamplePhraseMinLength, dp.SamplePhraseMinLength)
	setInt(&p.SamplePhraseMaxLength, dp.SamplePhraseMaxLength)
	setInt(&p.QualityMinLength, dp.QualityMinLength)
	setInt(&p.QualityMaxLength, dp.QualityMaxLength)
	setInt(&p.MaxSpeechPatterns, dp.MaxSpeechPatterns)
	setInt(&p.LLMExtractionMinLength, dp.LLMExtractionMinLength)
	setInt(&p.FilterTextLimit, dp.FilterTextLimit)
	setInt(&p.MaxKeyInformation, dp.MaxKeyInformation)
	setInt(&p.MaxSamplePhrasesDisplay, dp.MaxSamplePhrasesDisplay)
	setInt(&p.WikipediaSummaryLimit, dp.WikipediaSummaryLimit)
	setInt(&p.WikipediaFallbackLimit, dp.WikipediaFallbackLimit)
	setInt(&p.MaxWebSpeechPatterns, dp.MaxWebSpeechPatterns)
	setInt(&p.FallbackPatternsDisplayed, dp.FallbackPatternsDisplayed)

	// Orchestration
	setInt(&c.Orchestration.Workers, d.Orchestration.Workers)
	setString(&c.Orchestration.WikipediaTimeout, d.Orchestration.WikipediaTimeout)
	setString(&c.Orchestration.WebSearchTimeout, d.Orchestration.WebSearchTimeout)
	setString(&c.Orchestration.YouTubeTimeout, d.Orchestration.YouTubeTimeout)
	setString(&c.Orchestration.RunTimeout, d.Orchestration.RunTimeout)

	// Wikipedia
	w, dw := &c.Wikipedia, d.Wikipedia
	setString(&w.Language, dw.Language)
	setInt(&w.SearchResults, dw.SearchResults)
	setInt(&w.SummaryLimit, dw.SummaryLimit)
	setInt(&w.ContentLimit, dw.ContentLimit)
	setInt(&w.MaxCategories, dw.MaxCategories)
	setInt(&w.MaxOtherOptions, dw.MaxOtherOptions)
	if w.BonusKeywords == nil {
		w.BonusKeywords = dw.BonusKeywords
	}
	if w.PenaltyKeywords == nil {
		w.PenaltyKeywords = dw.PenaltyKeywords
	}
	setInt(&w.KeywordBonus, dw.KeywordBonus)
	setInt(&w.KeywordPenalty, dw.KeywordPenalty)
	setInt(&w.NameMatchBonus, dw.NameMatchBonus)

	// Output
	setString(&c.Output.CacheDir, d.Output.CacheDir)
	setString(&c.Output.PromptDir, d.Output.PromptDir)

	// Observability
	setString(&c.Observability.Tracing.Endpoint, d.Observability.Tracing.Endpoint)
	setFloat(&c.Observability.Tracing.SamplingRate, d.Observability.Tracing.SamplingRate)
	setString(&c.Observability.Logging.Level, d.Observability.Logging.Level)
	setString(&c.Observability.Logging.Output, d.Observability.Logging.Output)
}

// overrideFromEnv overrides configuration from environment variables
func (c *Config) overrideFromEnv() {
	// LLM overrides
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.LLM.Model = model
	}

	// Structured search API credential pair
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Search.GoogleAPIKey = key
	}
	if cx := os.Getenv("GOOGLE_CX"); cx != "" {
		c.Search.GoogleCX = cx
	}

	// Output overrides
	if dir := os.Getenv("CPA_CACHE_DIR"); dir != "" {
		c.Output.CacheDir = dir
	}

	// Observability overrides
	if level := os.Getenv("CPA_LOG_LEVEL"); level != "" {
		c.Observability.Logging.Level = strings.ToLower(level)
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Observability.Tracing.Endpoint = endpoint
	}
}

// validate validates the configuration
func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("llm provider must be openai or ollama, got %q", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}

	if c.Orchestration.Workers < 1 {
		return fmt.Errorf("orchestration workers must be at least 1")
	}
	if c.Collector.MaxRetries < 1 {
		return fmt.Errorf("collector max_retries must be at least 1")
	}

	durations := map[string]string{
		"llm timeout":                      c.LLM.Timeout,
		"search google_delay":              c.Search.GoogleDelay,
		"search youtube_search_delay":      c.Search.YouTubeSearchDelay,
		"collector default_delay":          c.Collector.DefaultDelay,
		"collector request_timeout":        c.Collector.RequestTimeout,
		"collector retry_delay":            c.Collector.RetryDelay,
		"collector backoff_unit":           c.Collector.BackoffUnit,
		"collector rate_limit_ceiling":     c.Collector.RateLimitCeiling,
		"collector circuit_open_duration":  c.Collector.CircuitOpenDuration,
		"orchestration wikipedia_timeout":  c.Orchestration.WikipediaTimeout,
		"orchestration web_search_timeout": c.Orchestration.WebSearchTimeout,
		"orchestration youtube_timeout":    c.Orchestration.YouTubeTimeout,
		"orchestration run_timeout":        c.Orchestration.RunTimeout,
	}
	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Duration parses a duration string from config, returning 0 for invalid values.
// Values are checked by validate when loaded from a file.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// GoogleAPIConfigured reports whether the structured search credential pair is set
func (c *Config) GoogleAPIConfigured() bool {
	return c.Search.GoogleAPIKey != "" && c.Search.GoogleCX != ""
}

// ExpandPatterns substitutes name into every {name} placeholder
func ExpandPatterns(patterns []string, name string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, strings.ReplaceAll(p, "{name}", name))
	}
	return out
}
