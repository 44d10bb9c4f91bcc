package workflow

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ncolesummers/character-prompt-agent/internal/testutil"
	"github.com/ncolesummers/character-prompt-agent/pkg/config"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingReporter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingReporter) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingReporter) Start(b domain.Branch)              { r.add("start:" + string(b)) }
func (r *recordingReporter) Progress(b domain.Branch, _ string) { r.add("progress:" + string(b)) }
func (r *recordingReporter) Complete(b domain.Branch, _ string) { r.add("complete:" + string(b)) }
func (r *recordingReporter) Fail(b domain.Branch, _ error)      { r.add("fail:" + string(b)) }

func (r *recordingReporter) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func fastConfig() ServiceConfig {
	return ServiceConfig{
		Workers:          3,
		WikipediaTimeout: time.Second,
		WebSearchTimeout: time.Second,
		YouTubeTimeout:   time.Second,
	}
}

func foundTranscripts(name string) *domain.TranscriptCollection {
	base := domain.NewCollectionResult([]domain.SearchResult{
		domain.NewSearchResult("https://www.youtube.com/watch?v=abcdefghijk", "YouTube動画 abcdefghijk", "字幕", "なのだ"),
	}, name, "youtube")
	tc := domain.NewTranscriptCollection(base)
	tc.Transcripts = []domain.Transcript{{VideoID: "abcdefghijk", Text: "なのだ", Language: "ja", WordCount: 1}}
	tc.TotalVideos = 1
	return tc
}

func TestNewServiceRequiresWikipedia(t *testing.T) {
	_, err := NewService(fastConfig(), Sources{}, ServiceDeps{})
	assert.Error(t, err)
}

func TestServiceConfigFrom(t *testing.T) {
	cfg := ServiceConfigFrom(config.Default())
	assert.Equal(t, ServiceConfig{
		Workers:          3,
		WikipediaTimeout: 30 * time.Second,
		WebSearchTimeout: 90 * time.Second,
		YouTubeTimeout:   120 * time.Second,
		RunTimeout:       10 * time.Minute,
	}, cfg)
}

func TestServiceCollectAllBranches(t *testing.T) {
	defer goleak.VerifyNone(t)

	wiki := &testutil.StubCollector{SourceName: "wikipedia"}
	search := &testutil.StubCollector{SourceName: "bing", VideoURLs: []string{"https://www.youtube.com/watch?v=abcdefghijk"}}
	video := &testutil.StubTranscriptCollector{Result: foundTranscripts("ずんだもん")}
	recorder := testutil.NewMockRecorder()
	reporter := &recordingReporter{}

	svc, err := NewService(fastConfig(), Sources{
		Backend:       domain.BackendBing,
		Wikipedia:     wiki,
		Search:        search,
		VideoSearcher: search,
		Video:         video,
	}, ServiceDeps{Recorder: recorder, Reporter: reporter})
	require.NoError(t, err)

	info := svc.Collect(testutil.NewTestContext(t), "ずんだもん")

	assert.Equal(t, "ずんだもん", info.Name)
	assert.Equal(t, domain.BackendBing, info.Backend)
	require.NotNil(t, info.WikipediaInfo)
	require.NotNil(t, info.SearchResults)
	require.NotNil(t, info.YouTubeTranscripts)
	assert.True(t, info.WikipediaInfo.Found)
	assert.True(t, info.SearchResults.Found)
	assert.True(t, info.YouTubeTranscripts.Found)

	assert.Equal(t, []string{"ずんだもん"}, wiki.Calls())
	assert.Equal(t, []string{"ずんだもん"}, search.Calls())
	assert.Equal(t, [][]string{{"https://www.youtube.com/watch?v=abcdefghijk"}}, video.Received())

	statuses := recorder.StepStatuses()
	for _, want := range []string{
		"wikipedia_collection:started", "wikipedia_collection:completed",
		"bing_collection:started", "bing_collection:completed",
		"youtube_collection:started", "youtube_collection:completed",
	} {
		assert.Contains(t, statuses, want)
	}
	assert.Contains(t, recorder.Metrics, "wikipedia_duration")
	assert.Contains(t, recorder.Metrics, "bing_duration")
	assert.Contains(t, recorder.Metrics, "youtube_duration")

	assert.True(t, reporter.has("start:wikipedia"))
	assert.True(t, reporter.has("complete:youtube"))
	assert.True(t, reporter.has("progress:web_search"))
}

func TestServiceTimeoutResultShape(t *testing.T) {
	svc, err := NewService(fastConfig(), Sources{
		Backend:   domain.BackendDuckDuckGo,
		Wikipedia: &testutil.StubCollector{SourceName: "wikipedia"},
	}, ServiceDeps{})
	require.NoError(t, err)

	info := &domain.AggregateCharacterInfo{}
	svc.apply(info, BranchOutcome{
		Branch:   domain.BranchWebSearch,
		Timeout:  90 * time.Second,
		TimedOut: true,
		Err:      domain.ErrBranchTimeout,
	})

	got, err := json.Marshal(info.SearchResults)
	require.NoError(t, err)
	assert.JSONEq(t, `{"found":false,"error":"タイムアウト（90秒）","results":[],"total_results":0}`, string(got))
}

func TestServiceBranchTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fastConfig()
	cfg.YouTubeTimeout = 50 * time.Millisecond
	recorder := testutil.NewMockRecorder()
	reporter := &recordingReporter{}

	svc, err := NewService(cfg, Sources{
		Backend:       domain.BackendBing,
		Wikipedia:     &testutil.StubCollector{SourceName: "wikipedia"},
		Search:        &testutil.StubCollector{SourceName: "bing"},
		VideoSearcher: &testutil.StubCollector{SourceName: "bing"},
		Video:         &testutil.StubTranscriptCollector{Delay: time.Minute},
	}, ServiceDeps{Recorder: recorder, Reporter: reporter})
	require.NoError(t, err)

	start := time.Now()
	info := svc.Collect(testutil.NewTestContext(t), "ずんだもん")
	assert.Less(t, time.Since(start), 2*time.Second)

	yt := info.YouTubeTranscripts
	require.NotNil(t, yt)
	assert.False(t, yt.Found)
	assert.Equal(t, "タイムアウト（0秒）", yt.Error)
	assert.Empty(t, yt.Results)
	assert.Empty(t, yt.Transcripts)

	assert.True(t, info.WikipediaInfo.Found, "siblings still complete")
	assert.True(t, info.SearchResults.Found)
	assert.Contains(t, recorder.StepStatuses(), "youtube_collection:timeout")
	assert.True(t, reporter.has("fail:youtube"))
}

func TestServiceRecoversBranchPanic(t *testing.T) {
	defer goleak.VerifyNone(t)

	recorder := testutil.NewMockRecorder()
	svc, err := NewService(fastConfig(), Sources{
		Backend:   domain.BackendDuckDuckGo,
		Wikipedia: &testutil.StubCollector{SourceName: "wikipedia", PanicValue: "nil map"},
		Search:    &testutil.StubCollector{SourceName: "duckduckgo"},
	}, ServiceDeps{Recorder: recorder})
	require.NoError(t, err)

	info := svc.Collect(testutil.NewTestContext(t), "ずんだもん")

	require.NotNil(t, info.WikipediaInfo)
	assert.False(t, info.WikipediaInfo.Found)
	assert.Contains(t, info.WikipediaInfo.Error, "nil map")
	assert.Equal(t, 0, info.WikipediaInfo.TotalResults)
	assert.True(t, info.SearchResults.Found)
	assert.Contains(t, recorder.StepStatuses(), "wikipedia_collection:failed")
	assert.Contains(t, recorder.ErrorTypes(), "wikipedia_collection_error")
}

func TestServiceCollectorErrorKeepsResult(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc, err := NewService(fastConfig(), Sources{
		Backend:   domain.BackendGoogle,
		Wikipedia: &testutil.StubCollector{SourceName: "wikipedia"},
		Search:    &testutil.StubCollector{SourceName: "google", Err: errors.New("403 forbidden")},
	}, ServiceDeps{})
	require.NoError(t, err)

	info := svc.Collect(testutil.NewTestContext(t), "ずんだもん")
	assert.False(t, info.SearchResults.Found)
	assert.Equal(t, "403 forbidden", info.SearchResults.Error)
	assert.Equal(t, "google", info.SearchResults.Source)
}

func TestServiceSkippedBranches(t *testing.T) {
	defer goleak.VerifyNone(t)

	reporter := &recordingReporter{}
	wiki := &testutil.StubCollector{SourceName: "wikipedia"}
	svc, err := NewService(fastConfig(), Sources{
		Backend:   domain.BackendNone,
		Wikipedia: wiki,
	}, ServiceDeps{Reporter: reporter})
	require.NoError(t, err)

	info := svc.Collect(testutil.NewTestContext(t), "ずんだもん")

	assert.True(t, info.WikipediaInfo.Found)

	require.NotNil(t, info.SearchResults)
	assert.False(t, info.SearchResults.Found)
	assert.True(t, info.SearchResults.Skipped)
	assert.Equal(t, "Web検索が無効化されています", info.SearchResults.Error)

	require.NotNil(t, info.YouTubeTranscripts)
	assert.False(t, info.YouTubeTranscripts.Found)
	assert.True(t, info.YouTubeTranscripts.Skipped)
	assert.Equal(t, "YouTube情報収集が無効化されています", info.YouTubeTranscripts.Error)
	assert.NotNil(t, info.YouTubeTranscripts.Transcripts)

	assert.True(t, reporter.has("complete:web_search"))
	assert.True(t, reporter.has("complete:youtube"))
}

func TestServiceVideoURLsWithoutSearcher(t *testing.T) {
	defer goleak.VerifyNone(t)

	video := &testutil.StubTranscriptCollector{}
	svc, err := NewService(fastConfig(), Sources{
		Backend:   domain.BackendDuckDuckGo,
		Wikipedia: &testutil.StubCollector{SourceName: "wikipedia"},
		Search:    &testutil.StubCollector{SourceName: "duckduckgo"},
		Video:     video,
	}, ServiceDeps{})
	require.NoError(t, err)

	info := svc.Collect(testutil.NewTestContext(t), "ずんだもん")

	if diff := cmp.Diff([][]string{{}}, video.Received()); diff != "" {
		t.Errorf("transcript collector input mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "字幕付き動画が見つかりませんでした", info.YouTubeTranscripts.Error)
}

func TestServiceRunTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := fastConfig()
	cfg.WikipediaTimeout = time.Minute
	cfg.RunTimeout = 1500 * time.Millisecond
	svc, err := NewService(cfg, Sources{
		Backend:   domain.BackendBing,
		Wikipedia: &testutil.StubCollector{SourceName: "wikipedia", Delay: time.Minute},
		Search:    &testutil.StubCollector{SourceName: "bing"},
	}, ServiceDeps{})
	require.NoError(t, err)

	start := time.Now()
	info := svc.Collect(testutil.NewTestContext(t), "ずんだもん")
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.False(t, info.WikipediaInfo.Found)
	assert.Equal(t, "タイムアウト（1秒）", info.WikipediaInfo.Error, "reports the time the branch had, not its own 60s limit")
	assert.True(t, info.SearchResults.Found)
	assert.NotNil(t, info.YouTubeTranscripts)
}
