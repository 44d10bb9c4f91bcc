package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/collectors"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/execlog"
	"github.com/ncolesummers/character-prompt-agent/pkg/generator"
	"github.com/ncolesummers/character-prompt-agent/pkg/llm"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
	"github.com/ncolesummers/character-prompt-agent/pkg/output"
	"github.com/ncolesummers/character-prompt-agent/pkg/progress"
	"github.com/ncolesummers/character-prompt-agent/pkg/textproc"
	"github.com/ncolesummers/character-prompt-agent/pkg/workflow"
	"go.opentelemetry.io/otel/codes"
)

// Run collects information about opts.Name, generates the prompts and
// writes the output files
func (a *App) Run(ctx context.Context, opts Options) (err error) {
	cfg := a.loadConfig(opts.ConfigPath)
	if opts.APIKey != "" {
		cfg.LLM.APIKey = opts.APIKey
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		return domain.ErrMissingAPIKey
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	logger := observability.NewStructuredLogger("cli")

	backend := collectors.SelectBackend(opts.BackendFlags())
	Banner(a.out, opts.Name, backend, cfg, !opts.NoYouTube)

	telemetry, metrics, err := initObservability(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "telemetry shutdown failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	recorder := execlog.New(cfg.Output.CacheDir)
	recorder.SetCharacterName(opts.Name)

	ctx, span := telemetry.StartRun(ctx, recorder.RunID(), opts.Name, string(backend))
	defer span.End()

	defer func() {
		if err == nil {
			span.SetStatus(codes.Ok, "")
			return
		}
		recorder.LogError("execution_error", err.Error(), map[string]interface{}{"character_name": opts.Name})
		recorder.LogStep("main_error", "error", map[string]interface{}{"error": err.Error()}, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if store := recorder.Store(); store != nil {
			a.latestLog = store.LatestPath()
		}
	}()

	logger.Info(ctx, "run started", map[string]interface{}{
		"character_name": opts.Name,
		"backend":        string(backend),
		"youtube":        !opts.NoYouTube,
		"session_id":     recorder.SessionID(),
		"run_id":         recorder.RunID(),
	})

	client, err := newLLMClient(cfg, telemetry, metrics, recorder)
	if err != nil {
		return err
	}

	display := progress.NewDisplay(a.out)
	service, err := newService(cfg, opts, backend, collectors.Deps{
		Config:    cfg,
		LLM:       client,
		Recorder:  recorder,
		Telemetry: telemetry,
		Metrics:   metrics,
	}, display)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "📚 情報収集中...")
	start := a.now()
	display.Begin(opts.Name)
	info := service.Collect(ctx, opts.Name)
	display.End()
	collectionDuration := a.now().Sub(start)
	recorder.LogStep("character_info_collection", "success", map[string]interface{}{
		"wikipedia_found": info.WikipediaInfo.Found,
		"search_found":    info.SearchResults.Found,
		"youtube_found":   info.YouTubeTranscripts.Found,
	}, collectionDuration)
	recorder.LogMetric("info_collection_duration", collectionDuration.Seconds(), "seconds")
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("実行が中断されました: %w", err)
	}

	fmt.Fprintln(a.out, "🤖 プロンプト生成中...")
	gen := generator.NewPromptGenerator(client, generator.OptionsFrom(cfg), telemetry, metrics)
	start = a.now()
	result := gen.Generate(ctx, info)
	generationDuration := a.now().Sub(start)
	recorder.LogStep("prompt_generation", "success", map[string]interface{}{
		"prompt_length": textproc.RuneLen(result.GeneratedPrompt),
		"fallback_used": result.FallbackUsed(),
	}, generationDuration)
	recorder.LogMetric("prompt_generation_duration", generationDuration.Seconds(), "seconds")

	recorder.SetFinalResult(map[string]interface{}{
		"character_name":         opts.Name,
		"generated_prompt":       result.GeneratedPrompt,
		"policy_safe_prompt":     result.PolicySafePrompt,
		"prompt_length":          textproc.RuneLen(result.GeneratedPrompt),
		"character_introduction": result.CharacterIntroduction,
		"prompt_generation_api":  result.APIInteraction,
		"stages":                 result.Stages,
		"character_info":         info,
	})

	PrintResult(a.out, opts.Name, result)

	bundle := output.Bundle{
		Name:             opts.Name,
		GeneratedPrompt:  result.GeneratedPrompt,
		PolicySafePrompt: result.PolicySafePrompt,
		Introduction:     result.CharacterIntroduction,
		Command:          maskCommand(a.args, cfg.LLM.APIKey),
		Backend:          backend,
		YouTubeEnabled:   !opts.NoYouTube,
		UserOutput:       opts.Output,
		SessionID:        recorder.SessionID(),
		GeneratedAt:      a.now(),
	}
	path, err := output.WritePromptFile(cfg.Output.PromptDir, bundle)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\n✅ プロンプトを %s に保存しました。\n", path)

	if opts.Output != "" {
		if err := output.WriteUserOutput(opts.Output, bundle); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "\n✅ 通常版・ポリシー対応版プロンプトと自己紹介を %s に保存しました。\n", opts.Output)
	}

	summary := recorder.Summary()
	recorder.LogStep("main_complete", "success", map[string]interface{}{
		"total_steps":     summary.TotalSteps,
		"total_api_calls": summary.TotalAPICalls,
		"total_errors":    summary.TotalErrors,
		"prompt_file":     path,
	}, 0)
	PrintSummary(a.out, summary, recorder.Path())

	logger.Info(ctx, "run finished", map[string]interface{}{
		"session_id":    recorder.SessionID(),
		"prompt_file":   path,
		"fallback_used": result.FallbackUsed(),
	})
	return nil
}

// setupLogging points structured logs at the configured destination so the
// console stays free for the progress display
func setupLogging(cfg *config.Config) (func(), error) {
	logging := cfg.Observability.Logging
	if err := observability.SetLogLevel(logging.Level); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", logging.Level, err)
	}
	if logging.Output == "stderr" {
		observability.SetLogOutput(os.Stderr)
		return func() {}, nil
	}

	path := logging.FilePath
	if path == "" {
		dir := cfg.Output.CacheDir
		if dir == "" {
			dir = "."
		}
		path = filepath.Join(dir, "cpa.log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	observability.SetLogOutput(f)
	return func() {
		observability.SetLogOutput(os.Stderr)
		_ = f.Close()
	}, nil
}

func initObservability(cfg *config.Config) (*observability.Telemetry, *observability.Metrics, error) {
	telemetry, err := observability.NewTelemetry(observability.TelemetryConfigFrom(cfg, Version))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := observability.NewMetrics(telemetry.Meter())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return telemetry, metrics, nil
}

// newLLMClient layers instrumentation and execution-log recording over the
// configured provider client
func newLLMClient(cfg *config.Config, telemetry *observability.Telemetry, metrics *observability.Metrics, recorder domain.Recorder) (domain.LLMClient, error) {
	base, err := llm.NewClient(llm.ClientOptions{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
		Timeout:  config.Duration(cfg.LLM.Timeout),
	})
	if err != nil {
		return nil, err
	}
	instrumented, err := llm.NewInstrumentedLLMClient(base, telemetry, metrics, cfg.LLM.Provider, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	return llm.NewRecordingClient(instrumented, recorder, cfg.LLM.Model, cfg.LLM.PromptLogLength), nil
}

func newService(cfg *config.Config, opts Options, backend domain.Backend, deps collectors.Deps, reporter workflow.Reporter) (*workflow.Service, error) {
	factory := collectors.NewFactory(deps)
	sources := workflow.Sources{
		Backend:   backend,
		Wikipedia: factory.NewWikipedia(),
	}
	if backend != domain.BackendNone {
		search, err := factory.NewSearchCollector(backend)
		if err != nil {
			return nil, err
		}
		sources.Search = search
	}
	if !opts.NoYouTube {
		sources.VideoSearcher = factory.VideoSearcherFor(backend)
		sources.Video = factory.NewVideo()
	}
	return workflow.NewService(workflow.ServiceConfigFrom(cfg), sources, workflow.ServiceDeps{
		Recorder:  deps.Recorder,
		Reporter:  reporter,
		Telemetry: deps.Telemetry,
		Metrics:   deps.Metrics,
	})
}
