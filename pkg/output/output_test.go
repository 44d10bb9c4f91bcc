package output

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBundle() Bundle {
	return Bundle{
		Name:             "ずんだもん",
		GeneratedPrompt:  "あなたはずんだもんです。",
		PolicySafePrompt: "安全版のプロンプト",
		Introduction:     "はじめまして、ずんだもんです。",
		Command:          "cpa ずんだもん --api-key YOUR_API_KEY",
		Backend:          domain.BackendBing,
		YouTubeEnabled:   true,
		SessionID:        "20250701_093015",
		GeneratedAt:      time.Date(2025, 7, 1, 9, 30, 15, 0, time.Local),
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"ずんだもん":         "ずんだもん",
		"Hatsune Miku":  "Hatsune_Miku",
		"AC/DC":         "AC_DC",
		`a\b:c*d?"<>|e`: "a_b_c_d_____e",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeName(in), in)
	}
}

func TestPromptFileName(t *testing.T) {
	at := time.Date(2025, 7, 1, 9, 30, 15, 0, time.UTC)
	assert.Equal(t, "prompt_20250701_093015_Hatsune_Miku.txt", PromptFileName("Hatsune Miku", at))
}

func TestWritePromptFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "prompts")
	b := sampleBundle()
	b.UserOutput = "out.txt"

	path, err := WritePromptFile(dir, b)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "prompt_20250701_093015_ずんだもん.txt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)

	lines := strings.Split(body, "\n")
	assert.Equal(t, separator, lines[0])
	assert.Equal(t, "キャラクター口調プロンプト: ずんだもん", lines[1])
	assert.Equal(t, "生成日時: 2025年07月01日 09:30:15", lines[2])
	assert.Equal(t, "実行コマンド: cpa ずんだもん --api-key YOUR_API_KEY", lines[3])

	assert.Contains(t, body, "あなたはずんだもんです。")
	assert.Contains(t, body, "コンテンツポリシー対応版プロンプト:\n"+shieldBar+"\n\n安全版のプロンプト")
	assert.Contains(t, body, "ずんだもんによる自己紹介:")
	assert.Contains(t, body, "検索エンジン: Bing")
	assert.Contains(t, body, "YouTube字幕収集: 有効")
	assert.Contains(t, body, "出力ファイル: prompt_20250701_093015_ずんだもん.txt")
	assert.Contains(t, body, "追加出力: out.txt")
	assert.Contains(t, body, "セッションID: 20250701_093015")

	assert.Less(t, strings.Index(body, "あなたはずんだもんです。"), strings.Index(body, "安全版のプロンプト"))
	assert.Less(t, strings.Index(body, "安全版のプロンプト"), strings.Index(body, "はじめまして"))
}

func TestRenderPromptFileOptionalSections(t *testing.T) {
	b := sampleBundle()
	b.PolicySafePrompt = ""
	b.Introduction = ""
	b.Backend = domain.BackendNone
	b.YouTubeEnabled = false

	body := RenderPromptFile(b, "p.txt")
	assert.NotContains(t, body, "コンテンツポリシー対応版プロンプト")
	assert.NotContains(t, body, "自己紹介")
	assert.NotContains(t, body, "追加出力")
	assert.Contains(t, body, "検索エンジン: なし（Web検索無効）")
	assert.Contains(t, body, "YouTube字幕収集: 無効")
}

func TestWriteUserOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "result.txt")
	require.NoError(t, WriteUserOutput(path, sampleBundle()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.True(t, strings.HasPrefix(body, separator+"\n生成されたプロンプト:\n"))
	assert.Contains(t, body, "安全版のプロンプト")
	assert.Contains(t, body, "はじめまして、ずんだもんです。")
	assert.NotContains(t, body, "実行コマンド", "the user file carries only the prompts")
}

func TestWriteUserOutputFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	err := WriteUserOutput(filepath.Join(blocker, "out.txt"), sampleBundle())
	assert.Error(t, err)
}
