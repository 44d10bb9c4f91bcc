package domain

import (
	"fmt"
	"net/url"
	"time"
	"unicode/utf8"
)

// Backend identifies the web search provider used by the search branch
type Backend string

const (
	BackendKnowledgeBase Backend = "chatgpt"
	BackendBing          Backend = "bing"
	BackendDuckDuckGo    Backend = "duckduckgo"
	BackendGoogle        Backend = "google"
	BackendNone          Backend = "none"
)

// DisplayName returns the human readable backend label used in output files
func (b Backend) DisplayName() string {
	switch b {
	case BackendKnowledgeBase:
		return "ChatGPT知識ベース"
	case BackendBing:
		return "Bing"
	case BackendDuckDuckGo:
		return "DuckDuckGo"
	case BackendGoogle:
		return "Google"
	default:
		return "なし（Web検索無効）"
	}
}

// Branch identifies one of the concurrent top-level collection tasks
type Branch string

const (
	BranchWikipedia Branch = "wikipedia"
	BranchWebSearch Branch = "web_search"
	BranchYouTube   Branch = "youtube"
)

// Branches lists every branch in display order
var Branches = []Branch{BranchWikipedia, BranchWebSearch, BranchYouTube}

// AggregateKey returns the key the branch's outcome is stored under
func (b Branch) AggregateKey() string {
	switch b {
	case BranchWikipedia:
		return "wikipedia_info"
	case BranchWebSearch:
		return "google_search_results"
	case BranchYouTube:
		return "youtube_transcripts"
	default:
		return string(b)
	}
}

// Label returns the console label for the branch
func (b Branch) Label() string {
	switch b {
	case BranchWikipedia:
		return "Wikipedia"
	case BranchWebSearch:
		return "Web検索"
	case BranchYouTube:
		return "YouTube"
	default:
		return string(b)
	}
}

// CharacterQuote is a single attributed utterance.
// ConfidenceScore is a heuristic in [0,1] and carries no calibration.
type CharacterQuote struct {
	Text            string  `json:"text"`
	Source          string  `json:"source"`
	SourceURL       string  `json:"source_url,omitempty"`
	ConfidenceScore float64 `json:"confidence_score"`
	Context         string  `json:"context,omitempty"`
}

// NewCharacterQuote validates and builds a quote
func NewCharacterQuote(text, source string, confidence float64) (CharacterQuote, error) {
	if text == "" {
		return CharacterQuote{}, fmt.Errorf("quote text is required")
	}
	if confidence < 0 || confidence > 1 {
		return CharacterQuote{}, fmt.Errorf("confidence score %.2f out of range [0,1]", confidence)
	}
	return CharacterQuote{
		Text:            text,
		Source:          source,
		ConfidenceScore: confidence,
	}, nil
}

// SearchResult is one normalized item from any source
type SearchResult struct {
	URL             string           `json:"url"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Content         string           `json:"content"`
	Domain          string           `json:"domain"`
	ContentLength   int              `json:"content_length"`
	SpeechPatterns  []string         `json:"speech_patterns"`
	CharacterQuotes []CharacterQuote `json:"character_quotes,omitempty"`
	Categories      []string         `json:"categories,omitempty"`
	Source          string           `json:"source,omitempty"`
	SearchQuery     string           `json:"search_query,omitempty"`
	APIDuration     float64          `json:"api_duration,omitempty"`
}

// NewSearchResult builds a result with the domain derived from rawURL
func NewSearchResult(rawURL, title, description, content string) SearchResult {
	r := SearchResult{
		URL:            rawURL,
		Title:          title,
		Description:    description,
		Domain:         DomainOf(rawURL),
		SpeechPatterns: []string{},
	}
	r.SetContent(content)
	return r
}

// SetContent replaces the content and keeps ContentLength in sync.
// Length is counted in characters, not bytes.
func (r *SearchResult) SetContent(content string) {
	r.Content = content
	r.ContentLength = utf8.RuneCountInString(content)
}

// DomainOf extracts the host part of a URL, or "unknown" if it cannot be parsed
func DomainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}

// CollectionResult is the outcome of one collector invocation
type CollectionResult struct {
	Found        bool           `json:"found"`
	Error        string         `json:"error,omitempty"`
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	Query        string         `json:"query,omitempty"`
	Source       string         `json:"source,omitempty"`
	Duration     float64        `json:"duration,omitempty"`
	OtherOptions []string       `json:"other_options,omitempty"`
	Skipped      bool           `json:"skipped,omitempty"`
}

// NoResultsMessage is reported when a collector ran but retrieved nothing
const NoResultsMessage = "検索結果が見つかりませんでした"

// NewCollectionResult builds a result whose Found and TotalResults follow results
func NewCollectionResult(results []SearchResult, query, source string) *CollectionResult {
	if results == nil {
		results = []SearchResult{}
	}
	r := &CollectionResult{
		Found:        len(results) > 0,
		Results:      results,
		TotalResults: len(results),
		Query:        query,
		Source:       source,
	}
	if !r.Found {
		r.Error = NoResultsMessage
	}
	return r
}

// NewErrorResult builds an empty result carrying message
func NewErrorResult(message, query, source string) *CollectionResult {
	return &CollectionResult{
		Found:   false,
		Error:   message,
		Results: []SearchResult{},
		Query:   query,
		Source:  source,
	}
}

// NewTimeoutResult builds the synthetic result for a branch that exceeded its deadline
func NewTimeoutResult(timeout time.Duration) *CollectionResult {
	return &CollectionResult{
		Found:   false,
		Error:   fmt.Sprintf("タイムアウト（%d秒）", int(timeout.Seconds())),
		Results: []SearchResult{},
	}
}

// WithDuration records the wall-clock time of the call
func (r *CollectionResult) WithDuration(d time.Duration) *CollectionResult {
	r.Duration = d.Seconds()
	return r
}

// Validate checks the count and found invariants
func (r *CollectionResult) Validate() error {
	if r.TotalResults != len(r.Results) {
		return fmt.Errorf("total_results %d does not match %d results", r.TotalResults, len(r.Results))
	}
	if r.Found != (r.TotalResults > 0) {
		return fmt.Errorf("found=%t inconsistent with %d results", r.Found, r.TotalResults)
	}
	return nil
}

// Transcript is the subtitle text fetched for one video
type Transcript struct {
	VideoID     string `json:"video_id"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Language    string `json:"language"`
	IsGenerated bool   `json:"is_generated"`
	WordCount   int    `json:"word_count"`
}

// SpeechPatternAnalysis groups extracted speech descriptors by category
type SpeechPatternAnalysis struct {
	FirstPerson []string `json:"first_person"`
	Endings     []string `json:"endings"`
	Expressions []string `json:"expressions"`
	Addressing  []string `json:"addressing"`
	Other       []string `json:"other,omitempty"`
}

// TranscriptCollection is the video-subtitle branch outcome
type TranscriptCollection struct {
	CollectionResult
	Transcripts           []Transcript           `json:"transcripts"`
	TotalVideos           int                    `json:"total_videos"`
	SamplePhrases         []string               `json:"sample_phrases"`
	CharacterQuotes       []CharacterQuote       `json:"character_quotes"`
	SpeechPatternAnalysis *SpeechPatternAnalysis `json:"speech_pattern_analysis,omitempty"`
	ProcessedURLs         int                    `json:"processed_urls"`
	SuccessfulExtractions int                    `json:"successful_extractions"`
}

// NewTranscriptCollection wraps base with empty subtitle fields
func NewTranscriptCollection(base *CollectionResult) *TranscriptCollection {
	if base == nil {
		base = NewErrorResult("", "", "youtube")
	}
	return &TranscriptCollection{
		CollectionResult: *base,
		Transcripts:      []Transcript{},
		SamplePhrases:    []string{},
		CharacterQuotes:  []CharacterQuote{},
	}
}

// AggregateCharacterInfo is the merged per-run output of every branch
type AggregateCharacterInfo struct {
	Name               string                `json:"name"`
	Backend            Backend               `json:"backend"`
	WikipediaInfo      *CollectionResult     `json:"wikipedia_info"`
	SearchResults      *CollectionResult     `json:"google_search_results"`
	YouTubeTranscripts *TranscriptCollection `json:"youtube_transcripts"`
}
