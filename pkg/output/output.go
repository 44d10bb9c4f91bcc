// Package output writes the generated prompts to text files
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
)

const (
	separator = "=================================================="
	shieldBar = "🛡️ 🛡️ 🛡️ 🛡️ 🛡️ "
	maskBar   = "🎭 🎭 🎭 🎭 🎭 "
)

// Bundle is everything written for one run
type Bundle struct {
	Name             string
	GeneratedPrompt  string
	PolicySafePrompt string
	Introduction     string
	// Command is the invocation with secrets already masked
	Command        string
	Backend        domain.Backend
	YouTubeEnabled bool
	UserOutput     string
	SessionID      string
	GeneratedAt    time.Time
}

var unsafeChars = strings.NewReplacer(
	" ", "_", "/", "_", "\\", "_", ":", "_", "*", "_",
	"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

// SafeName replaces characters that cannot appear in a file name
func SafeName(name string) string {
	return unsafeChars.Replace(name)
}

// PromptFileName is prompt_<YYYYMMDD_HHMMSS>_<safe name>.txt
func PromptFileName(name string, at time.Time) string {
	return fmt.Sprintf("prompt_%s_%s.txt", at.Format("20060102_150405"), SafeName(name))
}

// WritePromptFile writes the timestamped prompt file into dir and returns its path
func WritePromptFile(dir string, b Bundle) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create prompt directory: %w", err)
	}
	path := filepath.Join(dir, PromptFileName(b.Name, b.GeneratedAt))
	if err := os.WriteFile(path, []byte(RenderPromptFile(b, filepath.Base(path))), 0o644); err != nil {
		return "", fmt.Errorf("failed to write prompt file: %w", err)
	}
	return path, nil
}

// WriteUserOutput writes the prompt bundle to the path given with --output
func WriteUserOutput(path string, b Bundle) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(RenderUserOutput(b)), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}

// RenderPromptFile builds the timestamped file body
func RenderPromptFile(b Bundle, fileName string) string {
	var sb strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&sb, format+"\n", args...)
	}

	line(separator)
	line("キャラクター口調プロンプト: %s", b.Name)
	line("生成日時: %s", b.GeneratedAt.Format("2006年01月02日 15:04:05"))
	line("実行コマンド: %s", b.Command)
	line(separator)
	line("")
	line("%s", b.GeneratedPrompt)
	line("")

	if b.PolicySafePrompt != "" {
		line(shieldBar)
		line("コンテンツポリシー対応版プロンプト:")
		line(shieldBar)
		line("")
		line("%s", b.PolicySafePrompt)
		line("")
	}

	if b.Introduction != "" {
		line(maskBar)
		line("%sによる自己紹介:", b.Name)
		line(maskBar)
		line("")
		line("%s", b.Introduction)
		line("")
	}

	line(separator)
	line("実行情報サマリー:")
	line(separator)
	line("検索エンジン: %s", backendSummary(b.Backend))
	youtube := "無効"
	if b.YouTubeEnabled {
		youtube = "有効"
	}
	line("YouTube字幕収集: %s", youtube)
	line("出力ファイル: %s", fileName)
	if b.UserOutput != "" {
		line("追加出力: %s", b.UserOutput)
	}
	line("セッションID: %s", b.SessionID)
	return sb.String()
}

// RenderUserOutput builds the --output file body
func RenderUserOutput(b Bundle) string {
	var sb strings.Builder
	sb.WriteString(separator + "\n生成されたプロンプト:\n" + separator + "\n")
	sb.WriteString(b.GeneratedPrompt)
	sb.WriteString("\n" + separator + "\n\n")

	if b.PolicySafePrompt != "" {
		sb.WriteString(shieldBar + "\nコンテンツポリシー対応版プロンプト:\n" + shieldBar + "\n")
		sb.WriteString(b.PolicySafePrompt)
		sb.WriteString("\n" + shieldBar + "\n\n")
	}
	if b.Introduction != "" {
		sb.WriteString(maskBar + "\n" + b.Name + "による自己紹介:\n" + maskBar + "\n")
		sb.WriteString(b.Introduction)
		sb.WriteString("\n" + maskBar + "\n")
	}
	return sb.String()
}

func backendSummary(b domain.Backend) string {
	if b == domain.BackendNone {
		return "なし（Web検索無効）"
	}
	return b.DisplayName()
}
