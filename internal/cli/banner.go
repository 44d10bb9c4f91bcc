package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/execlog"
	"github.com/ncolesummers/character-prompt-agent/pkg/generator"
)

const displaySeparator = "=================================================="

const (
	shieldBar = "🛡️ 🛡️ 🛡️ 🛡️ 🛡️ "
	maskBar   = "🎭 🎭 🎭 🎭 🎭 "
)

type consoleStyles struct {
	title lipgloss.Style
	ok    lipgloss.Style
	warn  lipgloss.Style
	hint  lipgloss.Style
}

func newConsoleStyles(w io.Writer) consoleStyles {
	r := lipgloss.NewRenderer(w)
	return consoleStyles{
		title: r.NewStyle().Bold(true),
		ok:    r.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
		warn:  r.NewStyle().Foreground(lipgloss.Color("#FFC107")),
		hint:  r.NewStyle().Foreground(lipgloss.Color("#9E9E9E")),
	}
}

// Banner describes the run configuration before collection starts
func Banner(w io.Writer, name string, backend domain.Backend, cfg *config.Config, youtube bool) {
	st := newConsoleStyles(w)
	fmt.Fprintln(w, st.title.Render(fmt.Sprintf("=== キャラクター口調プロンプト生成: %s ===", name)))

	switch backend {
	case domain.BackendKnowledgeBase:
		fmt.Fprintln(w, "🤖 検索エンジン: ChatGPT知識ベース（完全AI検索）")
		fmt.Fprintln(w, st.hint.Render("    ✨ Web検索不要でレート制限なし、モデルの学習済み知識を使用"))
	case domain.BackendBing:
		fmt.Fprintln(w, "🔍 検索エンジン: Bing（Google制限回避）")
	case domain.BackendDuckDuckGo:
		fmt.Fprintln(w, "🦆 検索エンジン: DuckDuckGo（実験的）")
		fmt.Fprintln(w, st.hint.Render("    💡 202エラーが出る場合は --use-bing への切り替えを推奨"))
	case domain.BackendGoogle:
		fmt.Fprintln(w, "🔍 検索エンジン: Google")
		if cfg.GoogleAPIConfigured() {
			fmt.Fprintln(w, st.ok.Render("    ✅ Google Custom Search API: 設定済み（安定動作）"))
		} else {
			fmt.Fprintln(w, st.warn.Render("    ⚠️  Google Custom Search API: 未設定（429エラーの可能性）"))
			fmt.Fprintln(w, st.hint.Render("    💡 安定動作のため以下環境変数の設定を推奨:"))
			fmt.Fprintln(w, st.hint.Render(`       export GOOGLE_API_KEY="your-api-key"`))
			fmt.Fprintln(w, st.hint.Render(`       export GOOGLE_CX="your-search-engine-id"`))
		}
	default:
		fmt.Fprintln(w, "🚫 Web検索: 無効")
	}

	if !youtube {
		fmt.Fprintln(w, "🎥 YouTube字幕: 無効")
	} else {
		fmt.Fprintln(w, "🎥 YouTube字幕: 有効")
		if backend == domain.BackendKnowledgeBase {
			fmt.Fprintln(w, st.hint.Render("    📹 ChatGPT検索でもYouTube字幕収集は利用可能です"))
		}
	}
	fmt.Fprintln(w)
}

// PrintResult writes the three generated texts to w
func PrintResult(w io.Writer, name string, result *generator.Result) {
	fmt.Fprintln(w, "\n"+displaySeparator)
	fmt.Fprintln(w, "生成されたプロンプト:")
	fmt.Fprintln(w, displaySeparator)
	fmt.Fprintln(w, result.GeneratedPrompt)
	fmt.Fprintln(w, displaySeparator)

	if result.PolicySafePrompt != "" {
		fmt.Fprintln(w, "\n"+shieldBar)
		fmt.Fprintln(w, "コンテンツポリシー対応版プロンプト:")
		fmt.Fprintln(w, shieldBar)
		fmt.Fprintln(w, result.PolicySafePrompt)
		fmt.Fprintln(w, shieldBar)
	}
	if result.CharacterIntroduction != "" {
		fmt.Fprintln(w, "\n"+maskBar)
		fmt.Fprintf(w, "%sによる自己紹介:\n", name)
		fmt.Fprintln(w, maskBar)
		fmt.Fprintln(w, result.CharacterIntroduction)
		fmt.Fprintln(w, maskBar)
	}
}

// PrintSummary writes the execution log counters
func PrintSummary(w io.Writer, s execlog.Summary, logPath string) {
	fmt.Fprintf(w, "\n📊 実行ログ: セッションID %s\n", s.SessionID)
	fmt.Fprintf(w, "   - 実行ステップ: %d/%d\n", s.SuccessfulSteps, s.TotalSteps)
	fmt.Fprintf(w, "   - API呼び出し: %d/%d\n", s.SuccessfulAPICalls, s.TotalAPICalls)
	if s.TotalErrors > 0 {
		fmt.Fprintf(w, "   - エラー数: %d\n", s.TotalErrors)
	}
	if logPath != "" {
		fmt.Fprintf(w, "   - ログファイル: %s\n", logPath)
	}
}

// maskCommand renders the invocation with the API key replaced
func maskCommand(args []string, apiKey string) string {
	if len(args) == 0 {
		return ""
	}
	out := make([]string, 0, len(args))
	out = append(out, filepath.Base(args[0]))
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--api-key" && i+1 < len(args):
			out = append(out, arg, "YOUR_API_KEY")
			i++
			continue
		case strings.HasPrefix(arg, "--api-key="):
			arg = "--api-key=YOUR_API_KEY"
		case apiKey != "" && strings.Contains(arg, apiKey):
			arg = strings.ReplaceAll(arg, apiKey, "YOUR_API_KEY")
		}
		out = append(out, arg)
	}
	return strings.Join(out, " ")
}
