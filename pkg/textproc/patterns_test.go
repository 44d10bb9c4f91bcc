package textproc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractLabeledPatterns(t *testing.T) {
	text := "一人称：ボク\n語尾:「なのだ」\n口癖: 『ずんだ餅』\n名台詞は「ボクはずんだもんなのだ」と「今日も元気なのだ」。特徴的な表現が多い。"

	got := ExtractLabeledPatterns(text, "ずんだもん", 10)

	want := []string{
		"一人称: ボク",
		"語尾: なのだ",
		"口癖: ずんだ餅",
		"セリフ例: ずんだ餅",
		"セリフ例: 今日も元気なのだ",
		"表現: 特徴的な話し方に関する情報",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ExtractLabeledPatterns() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractLabeledPatternsWithoutName(t *testing.T) {
	got := ExtractLabeledPatterns("名台詞は「ボクはずんだもんなのだ」。", "", 10)
	assert.Equal(t, []string{"セリフ例: ボクはずんだもんなのだ"}, got)
}

func TestExtractLabeledPatternsCap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&b, "一人称: 私%d\n", i)
	}

	got := ExtractLabeledPatterns(b.String(), "x", 10)
	assert.Len(t, got, 10)
	assert.Equal(t, "一人称: 私0", got[0])
}

func TestExtractLabeledPatternsEmpty(t *testing.T) {
	assert.Empty(t, ExtractLabeledPatterns("", "x", 10))
	assert.NotNil(t, ExtractLabeledPatterns("", "x", 10))
}

func TestExtractBasicPatterns(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "all hints",
			text: "Zundamon の口調と一人称について",
			want: []string{"呼び方: zundamon", "表現: 口調・語尾に関する情報", "表現: 話し方に関する情報"},
		},
		{
			name: "no hints",
			text: "関係のない文章",
			want: []string{},
		},
		{
			name: "empty",
			text: "",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractBasicPatterns(tt.text, "zundamon")
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseColonLines(t *testing.T) {
	got := ParseColonLines("一人称: ボク\n\nなし\n 語尾: なのだ \n", 10)
	assert.Equal(t, []string{"一人称: ボク", "語尾: なのだ"}, got)

	var b strings.Builder
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&b, "表現: %d\n", i)
	}
	assert.Len(t, ParseColonLines(b.String(), 10), 10)
}

func TestCleanText(t *testing.T) {
	in := "  タイトル  \n\n本文  その二\n   \n最後"
	assert.Equal(t, "タイトル 本文 その二 最後", CleanText(in, 0))
	assert.Equal(t, "タイトル", CleanText(in, 4))
	assert.Equal(t, "", CleanText("", 10))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "あいう", Truncate("あいうえお", 3))
	assert.Equal(t, "あいうえお", Truncate("あいうえお", 0))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "あい...", TruncateWithEllipsis("あいう", 2))
	assert.Equal(t, "あい", TruncateWithEllipsis("あい", 2))
	assert.Equal(t, 5, RuneLen("あいうえお"))
}

type stubLLM struct {
	content string
	err     error
	last    []domain.Message
	opts    domain.ChatOptions
}

func (s *stubLLM) Chat(_ context.Context, messages []domain.Message, opts domain.ChatOptions) (*domain.ChatResponse, error) {
	s.last = messages
	s.opts = opts
	if s.err != nil {
		return nil, s.err
	}
	return &domain.ChatResponse{Content: s.content}, nil
}

type errorRecorder struct {
	domain.NopRecorder
	errorTypes []string
}

func (r *errorRecorder) LogError(errorType, _ string, _ map[string]interface{}) {
	r.errorTypes = append(r.errorTypes, errorType)
}

func TestPatternExtractor(t *testing.T) {
	llm := &stubLLM{content: "一人称: ボク\n語尾: なのだ\n説明文"}
	extractor := NewPatternExtractor(llm, nil, DefaultExtractorOptions())

	got := extractor.Extract(context.Background(), strings.Repeat("あ", 5000), "ずんだもん")

	assert.Equal(t, []string{"一人称: ボク", "語尾: なのだ"}, got)
	require.Len(t, llm.last, 2)
	assert.Equal(t, "system", llm.last[0].Role)
	assert.Contains(t, llm.last[1].Content, "キャラクター名: ずんだもん")
	assert.NotContains(t, llm.last[1].Content, strings.Repeat("あ", 3001))
	assert.Equal(t, "openai_speech_pattern_extraction", llm.opts.Purpose)
	assert.Equal(t, 1000, llm.opts.MaxTokens)
}

func TestPatternExtractorFailureReturnsEmpty(t *testing.T) {
	recorder := &errorRecorder{}
	extractor := NewPatternExtractor(&stubLLM{err: errors.New("boom")}, recorder, DefaultExtractorOptions())

	got := extractor.Extract(context.Background(), "text", "")

	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, []string{"speech_pattern_extraction_error"}, recorder.errorTypes)
}
