package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ncolesummers/character-prompt-agent/internal/testutil"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/execlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(cfg *config.Config) (*App, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	app.loadConfig = func(string) *config.Config { return cfg }
	return app, &out, &errOut
}

func TestConflictingBackendsRejected(t *testing.T) {
	app, _, errOut := newTestApp(config.Default())

	err := app.Execute(context.Background(), []string{"ずんだもん", "--use-bing", "--use-duckduckgo"})
	require.ErrorIs(t, err, domain.ErrConflictingBackends)
	assert.Contains(t, errOut.String(), "エラー: 検索エンジンオプション（--use-duckduckgo, --use-bing, --use-chatgpt-search）は同時に指定できません。")
}

func TestMissingAPIKey(t *testing.T) {
	app, out, errOut := newTestApp(config.Default())

	err := app.Execute(context.Background(), []string{"ずんだもん"})
	require.ErrorIs(t, err, domain.ErrMissingAPIKey)
	assert.Contains(t, errOut.String(), "エラー: OpenAI API Keyが設定されていません。")
	assert.Contains(t, errOut.String(), "--api-key オプションまたは環境変数 OPENAI_API_KEY を設定してください。")
	assert.Empty(t, out.String(), "nothing runs without a key")
}

func TestNameIsRequired(t *testing.T) {
	app, _, errOut := newTestApp(config.Default())
	err := app.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, errOut.String(), "エラー:")
}

func TestCommandFlags(t *testing.T) {
	app, _, _ := newTestApp(config.Default())
	cmd := app.Command()

	for _, name := range []string{"api-key", "output", "config", "no-youtube", "no-search", "use-duckduckgo", "use-bing", "use-chatgpt-search"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "o", cmd.Flags().Lookup("output").Shorthand)
	assert.True(t, cmd.Flags().Lookup("no-google").Hidden, "legacy alias stays out of the help text")
}

func TestOptionsBackendFlags(t *testing.T) {
	flags := Options{UseBing: true, NoSearch: true}.BackendFlags()
	assert.True(t, flags.Bing)
	assert.True(t, flags.NoSearch)
	assert.False(t, flags.KnowledgeBase)
	assert.False(t, flags.DuckDuckGo)
}

func TestHints(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited sentinel", fmt.Errorf("bing: %w", domain.ErrRateLimited), "--use-bing"},
		{"429 text", errors.New("status 429"), "--no-search"},
		{"too many requests", errors.New("Too Many Requests"), "時間を置いて再実行"},
		{"api error", &domain.APIError{Service: "openai", StatusCode: 401}, "API Keyが正しいか確認してください"},
		{"openai text", errors.New("OpenAI request failed"), "API利用制限を確認してください"},
		{"missing key", domain.ErrMissingAPIKey, "OPENAI_API_KEY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hints := strings.Join(Hints(tt.err, "ずんだもん"), "\n")
			assert.Contains(t, hints, tt.want)
		})
	}

	assert.Nil(t, Hints(errors.New("disk full"), "x"))
	assert.Nil(t, Hints(nil, "x"))
	assert.Contains(t, strings.Join(Hints(domain.ErrRateLimited, "初音ミク"), "\n"), `cpa "初音ミク" --use-bing`)
}

func TestMaskCommand(t *testing.T) {
	assert.Equal(t,
		"cpa ずんだもん --api-key YOUR_API_KEY -o out.txt",
		maskCommand([]string{"/usr/local/bin/cpa", "ずんだもん", "--api-key", "sk-secret", "-o", "out.txt"}, "sk-secret"))
	assert.Equal(t,
		"cpa ずんだもん --api-key=YOUR_API_KEY",
		maskCommand([]string{"cpa", "ずんだもん", "--api-key=sk-secret"}, "sk-secret"))
	assert.Equal(t,
		"cpa x --note=YOUR_API_KEY",
		maskCommand([]string{"cpa", "x", "--note=sk-secret"}, "sk-secret"))
	assert.Empty(t, maskCommand(nil, ""))
}

func TestNameFromArgs(t *testing.T) {
	assert.Equal(t, "ずんだもん", nameFromArgs([]string{"--api-key", "k", "ずんだもん"}))
	assert.Equal(t, "キャラクター名", nameFromArgs([]string{"--use-bing"}))
}

func TestBanner(t *testing.T) {
	cfg := config.Default()

	var buf bytes.Buffer
	Banner(&buf, "ずんだもん", domain.BackendGoogle, cfg, true)
	assert.Contains(t, buf.String(), "=== キャラクター口調プロンプト生成: ずんだもん ===")
	assert.Contains(t, buf.String(), "Google Custom Search API: 未設定")
	assert.Contains(t, buf.String(), `export GOOGLE_CX="your-search-engine-id"`)
	assert.Contains(t, buf.String(), "🎥 YouTube字幕: 有効")

	cfg.Search.GoogleAPIKey = "key"
	cfg.Search.GoogleCX = "cx"
	buf.Reset()
	Banner(&buf, "ずんだもん", domain.BackendGoogle, cfg, false)
	assert.Contains(t, buf.String(), "Google Custom Search API: 設定済み")
	assert.NotContains(t, buf.String(), "export GOOGLE_API_KEY")
	assert.Contains(t, buf.String(), "🎥 YouTube字幕: 無効")

	buf.Reset()
	Banner(&buf, "ずんだもん", domain.BackendKnowledgeBase, cfg, true)
	assert.Contains(t, buf.String(), "ChatGPT知識ベース")
	assert.Contains(t, buf.String(), "ChatGPT検索でもYouTube字幕収集は利用可能です")

	buf.Reset()
	Banner(&buf, "ずんだもん", domain.BackendNone, cfg, false)
	assert.Contains(t, buf.String(), "🚫 Web検索: 無効")
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, execlog.Summary{
		SessionID:          "20250701_093015",
		TotalSteps:         6,
		SuccessfulSteps:    5,
		TotalAPICalls:      3,
		SuccessfulAPICalls: 3,
		TotalErrors:        1,
	}, "cache/execution_log_20250701_093015.json")

	s := buf.String()
	assert.Contains(t, s, "セッションID 20250701_093015")
	assert.Contains(t, s, "実行ステップ: 5/6")
	assert.Contains(t, s, "API呼び出し: 3/3")
	assert.Contains(t, s, "エラー数: 1")
	assert.Contains(t, s, "ログファイル: cache/execution_log_20250701_093015.json")
}

func wikiServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		if q.Get("list") == "search" {
			_, _ = w.Write([]byte(`{"query":{"search":[{"title":"ずんだもん"}]}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"query": map[string]interface{}{
				"pages": []interface{}{map[string]interface{}{
					"title":      "ずんだもん",
					"extract":    "ずんだもんは東北地方の応援キャラクターである。語尾に「なのだ」を付けて話す。",
					"fullurl":    "https://ja.wikipedia.org/wiki/ずんだもん",
					"categories": []interface{}{map[string]string{"title": "Category:架空のキャラクター"}},
				}},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func openAIServer(t *testing.T, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "Bearer sk-secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "ボクはずんだもんなのだ。"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()
	var calls int32

	cfg := testutil.NewTestConfig()
	cfg.LLM.APIKey = ""
	cfg.LLM.BaseURL = openAIServer(t, &calls).URL + "/v1"
	cfg.Wikipedia.BaseURL = wikiServer(t).URL
	cfg.Output.CacheDir = filepath.Join(dir, "cache")
	cfg.Output.PromptDir = dir
	cfg.Observability.Metrics.Enabled = false

	userOutput := filepath.Join(dir, "result.txt")
	args := []string{"ずんだもん", "--no-search", "--no-youtube", "--api-key", "sk-secret", "-o", userOutput}

	app, out, errOut := newTestApp(cfg)
	app.args = append([]string{"/usr/local/bin/cpa"}, args...)

	require.NoError(t, app.Execute(testutil.NewTestContext(t), args), errOut.String())

	console := out.String()
	assert.Contains(t, console, "=== キャラクター口調プロンプト生成: ずんだもん ===")
	assert.Contains(t, console, "🚫 Web検索: 無効")
	assert.Contains(t, console, "Wikipedia ✔ 完了")
	assert.Contains(t, console, "生成されたプロンプト:\n"+displaySeparator+"\nボクはずんだもんなのだ。")
	assert.Contains(t, console, "ずんだもんによる自己紹介:")
	assert.Contains(t, console, "実行ステップ:")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "main, policy-safe and introduction stages")

	matches, err := filepath.Glob(filepath.Join(dir, "prompt_*_ずんだもん.txt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	promptFile, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(promptFile), "実行コマンド: cpa ずんだもん --no-search --no-youtube --api-key YOUR_API_KEY -o "+userOutput)
	assert.NotContains(t, string(promptFile), "sk-secret")
	assert.Contains(t, string(promptFile), "検索エンジン: なし（Web検索無効）")

	userFile, err := os.ReadFile(userOutput)
	require.NoError(t, err)
	assert.Contains(t, string(userFile), "ボクはずんだもんなのだ。")

	store := execlog.NewFileStore(cfg.Output.CacheDir)
	log, err := store.Load("")
	require.NoError(t, err)
	assert.Equal(t, "ずんだもん", log.CharacterName)
	assert.NotNil(t, log.SessionEnd)
	assert.NotNil(t, log.FinalResult)

	var steps []string
	for _, s := range log.Steps {
		steps = append(steps, s.StepName+":"+s.Status)
	}
	assert.Contains(t, steps, "wikipedia_collection:completed")
	assert.Contains(t, steps, "character_info_collection:success")
	assert.Contains(t, steps, "prompt_generation:success")
	assert.Contains(t, steps, "main_complete:success")

	var apiTypes []string
	for _, c := range log.APICalls {
		apiTypes = append(apiTypes, c.APIType)
	}
	assert.ElementsMatch(t, []string{"openai_prompt_generation", "openai_policy_safe_prompt", "openai_character_introduction"}, apiTypes)

	assert.FileExists(t, filepath.Join(cfg.Output.CacheDir, "cpa.log"))
}

func TestRunFallsBackWhenLLMFails(t *testing.T) {
	dir := t.TempDir()
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"server error","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(llm.Close)

	cfg := testutil.NewTestConfig()
	cfg.LLM.BaseURL = llm.URL + "/v1"
	cfg.Wikipedia.BaseURL = wikiServer(t).URL
	cfg.Output.CacheDir = filepath.Join(dir, "cache")
	cfg.Output.PromptDir = dir
	cfg.Observability.Metrics.Enabled = false

	app, out, _ := newTestApp(cfg)
	require.NoError(t, app.Execute(testutil.NewTestContext(t), []string{"ずんだもん", "--no-search", "--no-youtube"}))

	assert.Contains(t, out.String(), "※ ChatGPT APIが利用できないため、基本的なプロンプト形式で提供しています。")
	assert.Contains(t, out.String(), "はじめまして、ずんだもんです。")

	log, err := execlog.NewFileStore(cfg.Output.CacheDir).Load("")
	require.NoError(t, err)
	assert.NotEmpty(t, log.Errors, "failed LLM calls are recorded")
}
