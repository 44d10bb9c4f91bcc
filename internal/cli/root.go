// Package cli implements the cpa command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/collectors"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
)

// Options holds the parsed command line
type Options struct {
	Name             string
	APIKey           string
	Output           string
	ConfigPath       string
	NoYouTube        bool
	NoSearch         bool
	UseBing          bool
	UseDuckDuckGo    bool
	UseChatGPTSearch bool
}

// BackendFlags converts the search switches for backend selection
func (o Options) BackendFlags() collectors.BackendFlags {
	return collectors.BackendFlags{
		KnowledgeBase: o.UseChatGPTSearch,
		Bing:          o.UseBing,
		DuckDuckGo:    o.UseDuckDuckGo,
		NoSearch:      o.NoSearch,
	}
}

// App carries the writers and process details a run depends on
type App struct {
	out    io.Writer
	errOut io.Writer
	args   []string
	now    func() time.Time

	// latestLog is reported with a failed run
	latestLog string

	// loadConfig is replaced in tests
	loadConfig func(path string) *config.Config
}

// NewApp creates an App printing to out and errOut
func NewApp(out, errOut io.Writer) *App {
	return &App{
		out:        out,
		errOut:     errOut,
		args:       os.Args,
		now:        time.Now,
		loadConfig: config.LoadOrDefault,
	}
}

// Command builds the root command
func (a *App) Command() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:           "cpa <name>",
		Short:         "キャラクター口調設定プロンプト自動生成プログラム",
		Long:          "Wikipedia、Web検索、YouTube字幕から人物・キャラクターの情報を収集し、口調を再現するためのプロンプトを生成します。",
		Version:       fmt.Sprintf("%s (built: %s)", Version, BuildTime),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return collectors.ValidateBackendFlags(opts.BackendFlags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			return a.Run(cmd.Context(), *opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.APIKey, "api-key", "", "OpenAI API Key (環境変数 OPENAI_API_KEY からも読み取り可能)")
	flags.StringVarP(&opts.Output, "output", "o", "", "結果を指定したファイルに保存")
	flags.StringVar(&opts.ConfigPath, "config", "configs/default.yaml", "設定ファイルのパス")
	flags.BoolVar(&opts.NoYouTube, "no-youtube", false, "YouTube字幕からの情報収集を無効にする")
	flags.BoolVar(&opts.NoSearch, "no-search", false, "Web検索からの情報収集を無効にする（レート制限回避）")
	flags.BoolVar(&opts.NoSearch, "no-google", false, "--no-search の別名")
	_ = flags.MarkHidden("no-google")
	flags.BoolVar(&opts.UseDuckDuckGo, "use-duckduckgo", false, "Google検索の代わりにDuckDuckGo検索を使用")
	flags.BoolVar(&opts.UseBing, "use-bing", false, "Google検索の代わりにBing検索を使用")
	flags.BoolVar(&opts.UseChatGPTSearch, "use-chatgpt-search", false, "Web検索の代わりにChatGPTの知識ベースから情報を取得")

	return cmd
}

// Execute runs the command against the process arguments. SIGINT and
// SIGTERM cancel the run. Errors are printed with remediation hints.
func Execute() error {
	app := NewApp(os.Stdout, os.Stderr)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.Execute(ctx, os.Args[1:])
}

// Execute runs the root command with args
func (a *App) Execute(ctx context.Context, args []string) error {
	cmd := a.Command()
	cmd.SetArgs(args)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)
	if err := cmd.ExecuteContext(ctx); err != nil {
		a.printError(err, args)
		return err
	}
	return nil
}

func (a *App) printError(err error, args []string) {
	fmt.Fprintf(a.errOut, "エラー: %s\n", errorText(err))
	for _, line := range Hints(err, nameFromArgs(args)) {
		fmt.Fprintln(a.errOut, line)
	}
	if a.latestLog != "" {
		fmt.Fprintf(a.errOut, "\n📋 詳細ログ: %s\n", a.latestLog)
	}
}

func errorText(err error) string {
	msg := err.Error()
	if errors.Is(err, domain.ErrConflictingBackends) || errors.Is(err, domain.ErrMissingAPIKey) {
		return msg + "。"
	}
	return msg
}

func nameFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--api-key" || arg == "--output" || arg == "-o" || arg == "--config" {
			i++
			continue
		}
		if len(arg) > 0 && arg[0] != '-' {
			return arg
		}
	}
	return "キャラクター名"
}
