package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/ncolesummers/character-prompt-agent/pkg/observability"
)

const (
	webSearchDisabledMessage = "Web検索が無効化されています"
	youtubeDisabledMessage   = "YouTube情報収集が無効化されています"
)

// Reporter receives branch lifecycle callbacks. It observes the run and
// never controls it.
type Reporter interface {
	Start(branch domain.Branch)
	Progress(branch domain.Branch, message string)
	Complete(branch domain.Branch, summary string)
	Fail(branch domain.Branch, err error)
}

// NopReporter ignores every callback
type NopReporter struct{}

func (NopReporter) Start(domain.Branch)            {}
func (NopReporter) Progress(domain.Branch, string) {}
func (NopReporter) Complete(domain.Branch, string) {}
func (NopReporter) Fail(domain.Branch, error)      {}

// ServiceConfig holds branch scheduling settings
type ServiceConfig struct {
	Workers          int
	WikipediaTimeout time.Duration
	WebSearchTimeout time.Duration
	YouTubeTimeout   time.Duration
	// RunTimeout bounds the whole Collect call when positive
	RunTimeout time.Duration
}

// ServiceConfigFrom reads the orchestration section of cfg
func ServiceConfigFrom(cfg *config.Config) ServiceConfig {
	o := cfg.Orchestration
	return ServiceConfig{
		Workers:          o.Workers,
		WikipediaTimeout: config.Duration(o.WikipediaTimeout),
		WebSearchTimeout: config.Duration(o.WebSearchTimeout),
		YouTubeTimeout:   config.Duration(o.YouTubeTimeout),
		RunTimeout:       config.Duration(o.RunTimeout),
	}
}

// Sources are the collectors one run uses. Search, VideoSearcher and
// Video may be nil.
type Sources struct {
	Backend       domain.Backend
	Wikipedia     domain.Collector
	Search        domain.Collector
	VideoSearcher domain.VideoURLSearcher
	Video         domain.TranscriptCollector
}

// ServiceDeps are the optional collaborators of a Service
type ServiceDeps struct {
	Recorder  domain.Recorder
	Reporter  Reporter
	Telemetry *observability.Telemetry
	Metrics   *observability.Metrics
}

// Service runs the three collection branches concurrently and merges them
type Service struct {
	config    ServiceConfig
	sources   Sources
	recorder  domain.Recorder
	reporter  Reporter
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
}

// NewService creates an orchestration service
func NewService(cfg ServiceConfig, sources Sources, deps ServiceDeps) (*Service, error) {
	if sources.Wikipedia == nil {
		return nil, fmt.Errorf("wikipedia collector is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = domain.NopRecorder{}
	}
	if deps.Reporter == nil {
		deps.Reporter = NopReporter{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = observability.NewNoopTelemetry()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultBranchWorkers
	}
	return &Service{
		config:    cfg,
		sources:   sources,
		recorder:  deps.Recorder,
		reporter:  deps.Reporter,
		telemetry: deps.Telemetry,
		metrics:   deps.Metrics,
		logger:    observability.NewStructuredLogger("orchestration"),
	}, nil
}

// Collect gathers everything known about name. It never fails as a unit:
// every aggregate field is set even when its branch failed or timed out.
func (s *Service) Collect(ctx context.Context, name string) *domain.AggregateCharacterInfo {
	if s.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RunTimeout)
		defer cancel()
	}

	info := &domain.AggregateCharacterInfo{Name: name, Backend: s.sources.Backend}
	tasks := s.tasks(name, info)

	pool := NewBranchPool(BranchPoolConfig{Workers: s.config.Workers, QueueSize: len(domain.Branches)}, s.telemetry, s.metrics)
	if err := pool.Start(ctx); err != nil {
		s.logger.Error(ctx, "branch pool failed to start", err)
		s.fillMissing(info, err)
		return info
	}

	submitted := 0
	for _, task := range tasks {
		s.reporter.Start(task.Branch)
		s.recorder.LogStep(stepName(task.Branch, s.sources.Backend), "started", map[string]interface{}{
			"character_name": name,
			"timeout":        task.Timeout.Seconds(),
		}, 0)
		if err := pool.Submit(ctx, task); err != nil {
			s.logger.Warn(ctx, "branch submit failed", map[string]interface{}{
				"branch": string(task.Branch),
				"error":  err.Error(),
			})
			s.apply(info, BranchOutcome{Branch: task.Branch, Timeout: task.Timeout, Err: err})
			continue
		}
		submitted++
	}

	for i := 0; i < submitted; i++ {
		s.apply(info, <-pool.Results())
	}
	if err := pool.Stop(ctx); err != nil {
		s.logger.Warn(ctx, "branch pool stop failed", map[string]interface{}{"error": err.Error()})
	}

	s.fillMissing(info, errors.New("branch did not run"))
	s.logger.Info(ctx, "collection finished", map[string]interface{}{
		"character_name":    name,
		"backend":           string(s.sources.Backend),
		"wikipedia_found":   info.WikipediaInfo.Found,
		"web_search_found":  info.SearchResults.Found,
		"transcripts_found": info.YouTubeTranscripts.Found,
	})
	return info
}

// tasks builds the branch tasks and fills skipped branches directly
func (s *Service) tasks(name string, info *domain.AggregateCharacterInfo) []BranchTask {
	tasks := []BranchTask{{
		Branch:  domain.BranchWikipedia,
		Timeout: s.config.WikipediaTimeout,
		Run: s.instrumented(domain.BranchWikipedia, func(ctx context.Context) (BranchValue, error) {
			result, err := s.sources.Wikipedia.Collect(ctx, name)
			return BranchValue{Result: result}, err
		}),
	}}

	if s.sources.Search == nil || s.sources.Backend == domain.BackendNone {
		skipped := domain.NewErrorResult(webSearchDisabledMessage, "", string(domain.BackendNone))
		skipped.Skipped = true
		info.SearchResults = skipped
		s.reporter.Complete(domain.BranchWebSearch, webSearchDisabledMessage)
	} else {
		tasks = append(tasks, BranchTask{
			Branch:  domain.BranchWebSearch,
			Timeout: s.config.WebSearchTimeout,
			Run: s.instrumented(domain.BranchWebSearch, func(ctx context.Context) (BranchValue, error) {
				s.reporter.Progress(domain.BranchWebSearch, s.sources.Backend.DisplayName()+"で検索中")
				result, err := s.sources.Search.Collect(ctx, name)
				return BranchValue{Result: result}, err
			}),
		})
	}

	if s.sources.Video == nil {
		skipped := domain.NewTranscriptCollection(domain.NewErrorResult(youtubeDisabledMessage, "", "youtube"))
		skipped.Skipped = true
		info.YouTubeTranscripts = skipped
		s.reporter.Complete(domain.BranchYouTube, youtubeDisabledMessage)
	} else {
		tasks = append(tasks, BranchTask{
			Branch:  domain.BranchYouTube,
			Timeout: s.config.YouTubeTimeout,
			Run: s.instrumented(domain.BranchYouTube, func(ctx context.Context) (BranchValue, error) {
				urls := s.videoURLs(ctx, name)
				s.reporter.Progress(domain.BranchYouTube, fmt.Sprintf("%d件の動画から字幕を取得中", len(urls)))
				transcripts, err := s.sources.Video.Collect(ctx, name, urls)
				return BranchValue{Transcripts: transcripts}, err
			}),
		})
	}
	return tasks
}

// videoURLs asks the active backend for video links. Backends that cannot
// supply them yield an empty list.
func (s *Service) videoURLs(ctx context.Context, name string) []string {
	if s.sources.VideoSearcher == nil {
		s.logger.Info(ctx, "video url search unavailable for backend", map[string]interface{}{
			"backend": string(s.sources.Backend),
		})
		s.reporter.Progress(domain.BranchYouTube, s.sources.Backend.DisplayName()+"では動画URL検索を行いません")
		return []string{}
	}

	s.reporter.Progress(domain.BranchYouTube, "動画URLを検索中")
	urls, err := s.sources.VideoSearcher.SearchVideoURLs(ctx, name)
	if err != nil {
		s.logger.Warn(ctx, "video url search failed", map[string]interface{}{
			"backend": string(s.sources.Backend),
			"error":   err.Error(),
		})
		s.recorder.LogError("youtube_url_search_error", err.Error(), map[string]interface{}{
			"character_name": name,
			"backend":        string(s.sources.Backend),
		})
	}
	if urls == nil {
		urls = []string{}
	}
	return urls
}

func (s *Service) instrumented(branch domain.Branch, fn func(context.Context) (BranchValue, error)) func(context.Context) (BranchValue, error) {
	return func(ctx context.Context) (BranchValue, error) {
		var value BranchValue
		err := s.telemetry.InstrumentBranch(ctx, string(branch), func(ctx context.Context) error {
			var err error
			value, err = fn(ctx)
			return err
		})
		return value, err
	}
}

// apply stores one outcome in its aggregate slot and reports it
func (s *Service) apply(info *domain.AggregateCharacterInfo, outcome BranchOutcome) {
	step := stepName(outcome.Branch, s.sources.Backend)

	var result *domain.CollectionResult
	switch {
	case outcome.TimedOut:
		result = domain.NewTimeoutResult(outcome.Timeout)
		outcome.Transcripts = nil
		outcome.Result = nil
	case outcome.Transcripts != nil:
		result = &outcome.Transcripts.CollectionResult
	case outcome.Result != nil:
		result = outcome.Result
	default:
		msg := domain.NoResultsMessage
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		result = domain.NewErrorResult(msg, "", "")
	}

	switch outcome.Branch {
	case domain.BranchWikipedia:
		info.WikipediaInfo = result
	case domain.BranchWebSearch:
		info.SearchResults = result
	case domain.BranchYouTube:
		if outcome.Transcripts != nil {
			info.YouTubeTranscripts = outcome.Transcripts
		} else {
			info.YouTubeTranscripts = domain.NewTranscriptCollection(result)
		}
	}

	status := "completed"
	details := map[string]interface{}{
		"found":         result.Found,
		"total_results": result.TotalResults,
	}
	switch {
	case outcome.TimedOut:
		status = "timeout"
		details["error"] = result.Error
		details["run_deadline"] = outcome.RunDeadline
		s.reporter.Fail(outcome.Branch, outcome.Err)
		s.logger.Warn(context.Background(), "branch timed out", map[string]interface{}{
			"branch":       string(outcome.Branch),
			"timeout":      outcome.Timeout.Seconds(),
			"run_deadline": outcome.RunDeadline,
		})
	case outcome.Panicked || (outcome.Err != nil && !result.Found):
		status = "failed"
		details["error"] = outcome.Err.Error()
		s.reporter.Fail(outcome.Branch, outcome.Err)
		s.recorder.LogError(step+"_error", outcome.Err.Error(), map[string]interface{}{
			"branch": string(outcome.Branch),
		})
	default:
		s.reporter.Complete(outcome.Branch, summarize(result))
	}

	s.recorder.LogStep(step, status, details, outcome.Duration)
	s.recorder.LogMetric(metricName(outcome.Branch, s.sources.Backend), outcome.Duration.Seconds(), "seconds")
}

// fillMissing guarantees all three aggregate fields are present
func (s *Service) fillMissing(info *domain.AggregateCharacterInfo, err error) {
	if info.WikipediaInfo == nil {
		info.WikipediaInfo = domain.NewErrorResult(err.Error(), "", "wikipedia")
	}
	if info.SearchResults == nil {
		info.SearchResults = domain.NewErrorResult(err.Error(), "", string(s.sources.Backend))
	}
	if info.YouTubeTranscripts == nil {
		info.YouTubeTranscripts = domain.NewTranscriptCollection(domain.NewErrorResult(err.Error(), "", "youtube"))
	}
}

func summarize(result *domain.CollectionResult) string {
	if result.Found {
		return fmt.Sprintf("%d件取得", result.TotalResults)
	}
	if result.Error != "" {
		return result.Error
	}
	return domain.NoResultsMessage
}

// stepName is the execution log step for a branch, e.g. "bing_collection"
func stepName(branch domain.Branch, backend domain.Backend) string {
	return branchKey(branch, backend) + "_collection"
}

func metricName(branch domain.Branch, backend domain.Backend) string {
	return branchKey(branch, backend) + "_duration"
}

func branchKey(branch domain.Branch, backend domain.Backend) string {
	if branch == domain.BranchWebSearch {
		return string(backend)
	}
	return string(branch)
}
