package collectors

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/fetch"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
)

const (
	youtubeSource       = "youtube"
	noVideoURLsMessage  = "YouTube URLが提供されませんでした"
	noTranscriptMessage = "字幕付き動画が見つかりませんでした"
	noCaptionsMessage   = "利用可能な字幕が見つかりませんでした"
	maxFilteredPhrases  = 10
)

var (
	videoIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([^&\n?#]+)`),
		regexp.MustCompile(`youtube\.com/watch\?.*v=([^&\n?#]+)`),
	}

	bracketNoise    = regexp.MustCompile(`\[.*?\]`)
	sentenceBreak   = regexp.MustCompile(`[。！？.!?]`)
	soundEffect     = regexp.MustCompile(`^(?:音楽|拍手|効果音)`)
	shortHiragana   = regexp.MustCompile(`^[あ-ん]{1,3}$`)
	whitespace      = regexp.MustCompile(`\s+`)
	meaninglessKana = regexp.MustCompile(`^[あいうえおかきくけこ]+$`)
	effectPrefix    = regexp.MustCompile(`^(?:音楽|効果音)`)

	fillerPhrases  = map[string]bool{"": true, " ": true, "うん": true, "そう": true, "はい": true, "えー": true, "あー": true}
	blockedPhrases = []string{"詰んだろうが", "教会の常識"}

	errNoCaptions = errors.New(noCaptionsMessage)
)

var videoPageOptions = &fetch.Options{MaxRetries: 2, Timeout: 15 * time.Second, Quiet: true}

const speechFilterSystemPrompt = "あなたは字幕から特定キャラクターの発言を抽出する専門家です。キャラクターの特徴的な口調や語尾を正確に識別し、他のキャラクターや関係ない発言は確実に除外してください。"

const speechFilterUserTemplate = `
以下の字幕テキストから「%[1]s」が話している部分だけを正確に抽出してください。

【%[1]sの分析対象特徴】

- %[1]s特有の一人称や呼び方
- %[1]s特有の語尾や口調パターン
- %[1]s特有の性格を表す話し方
- %[1]s特有の表現方法や決まり文句
- 他のキャラクターと区別される言語的特徴

【抽出基準】
1. %[1]s特有の語尾や口調を含む発言を抽出
2. %[1]s特有の一人称を使った発言を抽出
3. %[1]sらしい性格や特徴を示す発言を抽出
4. 明らかに他のキャラクターの特徴を持つ発言は除外

【除外すべき発言】
- 関係のないナレーションや説明文
- [音楽]や[拍手]などの効果音
- 明らかに%[1]sと無関係な会話
- 技術的な説明や実況コメント

【出力要求】
- %[1]sらしい発言のみ10個以内
- 各発言を改行で区切る
- 重複は避ける
- 不確実な場合は除外

字幕テキスト:
%[2]s
`

// PhraseOptions bounds sample phrase extraction
type PhraseOptions struct {
	Max       int
	MinLength int
	MaxLength int
}

// VideoCollector retrieves YouTube subtitles and derives sample phrases,
// attributed quotes and a speech pattern analysis from them
type VideoCollector struct {
	base
	baseURL        string
	maxVideos      int
	maxTranscripts int
	charLimit      int
	rng            *rand.Rand
}

// NewVideoCollector creates a subtitle collector. A non-zero
// processing.random_seed makes phrase sampling reproducible.
func NewVideoCollector(deps Deps) *VideoCollector {
	deps = deps.withDefaults()
	s := deps.Config.Search

	seed := deps.Config.Processing.RandomSeed
	var src rand.Source
	if seed != 0 {
		src = rand.NewPCG(seed, seed)
	} else {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}

	return &VideoCollector{
		base:           newBase(youtubeSource, deps),
		baseURL:        strings.TrimRight(s.YouTubeBaseURL, "/"),
		maxVideos:      s.YouTubeMaxVideos,
		maxTranscripts: s.YouTubeMaxTranscripts,
		charLimit:      s.TranscriptCharLimit,
		rng:            rand.New(src),
	}
}

// Collect fetches subtitles for up to maxVideos URLs and stops early once
// maxTranscripts have been retrieved
func (c *VideoCollector) Collect(ctx context.Context, name string, urls []string) (*domain.TranscriptCollection, error) {
	var collection *domain.TranscriptCollection

	_, err := c.instrument(ctx, name, func(ctx context.Context) (*domain.CollectionResult, error) {
		var err error
		collection, err = c.collect(ctx, name, urls)
		return &collection.CollectionResult, err
	})
	if collection == nil {
		collection = domain.NewTranscriptCollection(domain.NewErrorResult(noTranscriptMessage, name, c.name))
	}
	return collection, err
}

func (c *VideoCollector) collect(ctx context.Context, name string, urls []string) (*domain.TranscriptCollection, error) {
	if len(urls) == 0 {
		return domain.NewTranscriptCollection(domain.NewErrorResult(noVideoURLsMessage, name, c.name)), nil
	}

	candidates := urls
	if c.maxVideos > 0 && len(candidates) > c.maxVideos {
		candidates = candidates[:c.maxVideos]
	}

	transcripts := []domain.Transcript{}
	for i, videoURL := range candidates {
		if err := ctx.Err(); err != nil {
			return c.build(ctx, name, urls, transcripts), err
		}

		videoID := ExtractVideoID(videoURL)
		if videoID == "" {
			c.logger.Debug(ctx, "invalid video url", map[string]interface{}{
				"index": i + 1,
				"url":   videoURL,
			})
			continue
		}

		transcript, err := c.transcript(ctx, videoID, videoURL)
		if err != nil {
			c.logger.Info(ctx, "transcript unavailable", map[string]interface{}{
				"video_id": videoID,
				"error":    err.Error(),
			})
			continue
		}
		transcripts = append(transcripts, *transcript)

		if c.maxTranscripts > 0 && len(transcripts) >= c.maxTranscripts {
			c.logger.Info(ctx, "enough transcripts collected", map[string]interface{}{
				"transcripts": len(transcripts),
			})
			break
		}
	}

	return c.build(ctx, name, urls, transcripts), nil
}

// build derives phrases, quotes and the pattern analysis from transcripts
func (c *VideoCollector) build(ctx context.Context, name string, urls []string, transcripts []domain.Transcript) *domain.TranscriptCollection {
	results := make([]domain.SearchResult, 0, len(transcripts))
	texts := make([]string, 0, len(transcripts))
	for _, t := range transcripts {
		r := domain.NewSearchResult(t.URL, "YouTube動画 "+t.VideoID, fmt.Sprintf("字幕（%s）", t.Language), t.Text)
		r.Source = c.name
		results = append(results, r)
		texts = append(texts, t.Text)
	}

	base := domain.NewCollectionResult(results, name, c.name)
	if !base.Found {
		base.Error = noTranscriptMessage
	}
	collection := domain.NewTranscriptCollection(base)
	collection.Transcripts = transcripts
	collection.TotalVideos = len(transcripts)
	collection.ProcessedURLs = len(urls)
	collection.SuccessfulExtractions = len(transcripts)

	if len(texts) == 0 {
		return collection
	}

	p := c.cfg.Processing
	phrases := ExtractSamplePhrases(texts, PhraseOptions{
		Max:       p.SamplePhrasesMax,
		MinLength: p.SamplePhraseMinLength,
		MaxLength: p.SamplePhraseMaxLength,
	}, c.rng)
	collection.SamplePhrases = FilterPhraseQuality(phrases, p.QualityMinLength, p.QualityMaxLength)

	quoteSource := collection.SamplePhrases
	sourceURL := ""
	if len(transcripts) > 0 {
		sourceURL = transcripts[0].URL
	}
	if c.llm != nil {
		if filtered := c.filterCharacterSpeech(ctx, texts, name); len(filtered) > 0 {
			quoteSource = filtered
		}
		collection.SpeechPatternAnalysis = c.analyzeSpeech(ctx, texts, name)
	}
	collection.CharacterQuotes = IdentifyQuotes(quoteSource, name, sourceURL)

	c.logger.Info(ctx, "subtitle collection finished", map[string]interface{}{
		"transcripts":    len(transcripts),
		"sample_phrases": len(collection.SamplePhrases),
		"quotes":         len(collection.CharacterQuotes),
	})
	return collection
}

// ExtractVideoID returns the video identifier in a YouTube URL, or ""
func ExtractVideoID(videoURL string) string {
	for _, re := range videoIDPatterns {
		if m := re.FindStringSubmatch(videoURL); m != nil {
			return m[1]
		}
	}
	return ""
}

// captionTrack is one entry of the player's captionTracks list
type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

func (t captionTrack) generated() bool {
	return t.Kind == "asr"
}

// transcript loads the watch page, picks a caption track and downloads it
func (c *VideoCollector) transcript(ctx context.Context, videoID, videoURL string) (*domain.Transcript, error) {
	watch := fmt.Sprintf("%s/watch?%s", c.baseURL, url.Values{"v": {videoID}, "hl": {"ja"}}.Encode())
	resp, err := c.fetcher.Get(ctx, watch, videoPageOptions)
	if err != nil {
		return nil, fmt.Errorf("字幕取得エラー: %w", err)
	}

	tracks, err := parseCaptionTracks(resp.Body)
	if err != nil {
		return nil, err
	}
	track, ok := selectTrack(tracks)
	if !ok {
		return nil, errNoCaptions
	}

	trackURL := track.BaseURL
	if strings.HasPrefix(trackURL, "/") {
		trackURL = c.baseURL + trackURL
	}
	captions, err := c.fetcher.Get(ctx, trackURL, videoPageOptions)
	if err != nil {
		return nil, fmt.Errorf("字幕取得エラー: %w", err)
	}
	text, err := parseTimedText(captions.Body)
	if err != nil {
		return nil, fmt.Errorf("字幕取得エラー: %w", err)
	}

	text = textproc.Truncate(text, c.charLimit)
	return &domain.Transcript{
		VideoID:     videoID,
		URL:         videoURL,
		Text:        text,
		Language:    track.LanguageCode,
		IsGenerated: track.generated(),
		WordCount:   len(strings.Fields(text)),
	}, nil
}

// parseCaptionTracks decodes the captionTracks array embedded in a watch page
func parseCaptionTracks(page []byte) ([]captionTrack, error) {
	const marker = `"captionTracks":`
	body := string(page)
	i := strings.Index(body, marker)
	if i < 0 {
		return nil, errNoCaptions
	}

	var tracks []captionTrack
	dec := json.NewDecoder(strings.NewReader(body[i+len(marker):]))
	if err := dec.Decode(&tracks); err != nil {
		return nil, fmt.Errorf("decode caption tracks: %w", err)
	}
	return tracks, nil
}

// selectTrack prefers manual Japanese, then manual English, then generated captions
func selectTrack(tracks []captionTrack) (captionTrack, bool) {
	find := func(generated bool, langs ...string) (captionTrack, bool) {
		for _, lang := range langs {
			for _, t := range tracks {
				if t.generated() == generated && t.LanguageCode == lang {
					return t, true
				}
			}
		}
		return captionTrack{}, false
	}

	if t, ok := find(false, "ja", "jp"); ok {
		return t, true
	}
	if t, ok := find(false, "en"); ok {
		return t, true
	}
	return find(true, "ja", "jp", "en")
}

type timedText struct {
	Texts []string `xml:"text"`
	Body  struct {
		Paragraphs []string `xml:"p"`
	} `xml:"body"`
}

// parseTimedText joins every caption line of a timedtext document
func parseTimedText(data []byte) (string, error) {
	var doc timedText
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("decode timedtext: %w", err)
	}
	lines := doc.Texts
	if len(lines) == 0 {
		lines = doc.Body.Paragraphs
	}

	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(html.UnescapeString(line))
		if line != "" {
			parts = append(parts, strings.ReplaceAll(line, "\n", " "))
		}
	}
	return strings.Join(parts, " "), nil
}

// ExtractSamplePhrases splits subtitle text into sentences, drops noise and
// duplicates, and samples at most opts.Max of them with rng
func ExtractSamplePhrases(texts []string, opts PhraseOptions, rng *rand.Rand) []string {
	all := strings.Join(texts, " ")
	if strings.TrimSpace(all) == "" {
		return []string{}
	}

	cleaned := bracketNoise.ReplaceAllString(all, "")
	unique := []string{}
	seen := make(map[string]bool)

	for _, sentence := range sentenceBreak.Split(cleaned, -1) {
		sentence = strings.TrimSpace(sentence)
		n := textproc.RuneLen(sentence)
		if n < opts.MinLength || n > opts.MaxLength {
			continue
		}
		if soundEffect.MatchString(sentence) || shortHiragana.MatchString(sentence) || fillerPhrases[sentence] {
			continue
		}

		normalized := whitespace.ReplaceAllString(strings.ToLower(sentence), "")
		if seen[normalized] || textproc.RuneLen(normalized) <= opts.MinLength {
			continue
		}
		seen[normalized] = true
		unique = append(unique, sentence)
	}

	if opts.Max > 0 && len(unique) > opts.Max {
		if rng == nil {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		rng.Shuffle(len(unique), func(i, j int) {
			unique[i], unique[j] = unique[j], unique[i]
		})
		unique = unique[:opts.Max]
	}
	return unique
}

// FilterPhraseQuality drops phrases outside the length bounds, known bad
// lines, multi-sentence runs and meaningless kana strings
func FilterPhraseQuality(phrases []string, minLength, maxLength int) []string {
	out := []string{}
	for _, phrase := range phrases {
		phrase = strings.TrimSpace(phrase)
		n := textproc.RuneLen(phrase)
		if n < minLength || n > maxLength {
			continue
		}
		if containsAny(phrase, blockedPhrases) || strings.Count(phrase, "。") > 3 {
			continue
		}
		if meaninglessKana.MatchString(phrase) || effectPrefix.MatchString(phrase) || fillerPhrases[phrase] {
			continue
		}
		out = append(out, phrase)
	}
	return out
}

// IdentifyQuotes attributes phrases to the character. Lines that mention
// the name score 0.8, the rest 0.5.
func IdentifyQuotes(phrases []string, name, sourceURL string) []domain.CharacterQuote {
	quotes := []domain.CharacterQuote{}
	for _, phrase := range phrases {
		confidence := 0.5
		if name != "" && strings.Contains(phrase, name) {
			confidence = 0.8
		}
		q, err := domain.NewCharacterQuote(strings.TrimSpace(phrase), youtubeSource, confidence)
		if err != nil {
			continue
		}
		q.SourceURL = sourceURL
		quotes = append(quotes, q)
	}
	return quotes
}

// filterCharacterSpeech asks the LLM which subtitle lines the character speaks
func (c *VideoCollector) filterCharacterSpeech(ctx context.Context, texts []string, name string) []string {
	all := textproc.Truncate(strings.Join(texts, " "), c.cfg.Processing.FilterTextLimit)
	resp, err := c.llm.Chat(ctx, []domain.Message{
		{Role: "system", Content: speechFilterSystemPrompt},
		{Role: "user", Content: fmt.Sprintf(speechFilterUserTemplate, name, all)},
	}, domain.ChatOptions{
		MaxTokens:   c.cfg.LLM.FilterMaxTokens,
		Temperature: c.cfg.LLM.FilterTemperature,
		Purpose:     "openai_character_speech_filter",
	})
	if err != nil {
		c.logger.Warn(ctx, "character speech filter failed", map[string]interface{}{
			"character_name": name,
			"error":          err.Error(),
		})
		c.recorder.LogError("character_speech_filter_error", err.Error(), map[string]interface{}{
			"character_name": name,
			"fallback_used":  true,
		})
		return nil
	}

	lines := []string{}
	for _, line := range strings.Split(resp.Content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
		if len(lines) == maxFilteredPhrases {
			break
		}
	}
	return lines
}

// analyzeSpeech groups LLM-extracted feature lines by category
func (c *VideoCollector) analyzeSpeech(ctx context.Context, texts []string, name string) *domain.SpeechPatternAnalysis {
	if c.extractor == nil {
		return nil
	}
	lines := c.extractor.Extract(ctx, strings.Join(texts, " "), name)
	if len(lines) == 0 {
		return nil
	}
	return CategorizePatterns(lines)
}

// CategorizePatterns sorts "label: value" lines into the analysis buckets
func CategorizePatterns(lines []string) *domain.SpeechPatternAnalysis {
	analysis := &domain.SpeechPatternAnalysis{
		FirstPerson: []string{},
		Endings:     []string{},
		Expressions: []string{},
		Addressing:  []string{},
	}
	for _, line := range lines {
		label, value, ok := strings.Cut(line, ":")
		if !ok {
			label, value, ok = strings.Cut(line, "：")
		}
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			analysis.Other = append(analysis.Other, line)
			continue
		}
		switch strings.TrimSpace(label) {
		case "一人称":
			analysis.FirstPerson = append(analysis.FirstPerson, value)
		case "語尾":
			analysis.Endings = append(analysis.Endings, value)
		case "表現":
			analysis.Expressions = append(analysis.Expressions, value)
		case "呼び方":
			analysis.Addressing = append(analysis.Addressing, value)
		default:
			analysis.Other = append(analysis.Other, line)
		}
	}
	return analysis
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
