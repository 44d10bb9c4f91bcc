package execlog

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ domain.Recorder = (*Logger)(nil)

// steppingClock advances one second per call
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(time.Second)
		return t
	}
}

var sessionStart = time.Date(2025, 7, 1, 9, 30, 15, 0, time.Local)

func TestNewSession(t *testing.T) {
	l := New("", WithClock(steppingClock(sessionStart)))

	assert.Equal(t, "20250701_093015", l.SessionID())
	id, err := ulid.ParseStrict(l.RunID())
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(sessionStart), id.Time())
	assert.Empty(t, l.Path())
	assert.Nil(t, l.Store())
}

func TestLoggerPersistsEveryRecord(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, WithClock(steppingClock(sessionStart)))
	l.SetCharacterName("ずんだもん")

	sessionFile := filepath.Join(dir, "execution_log_20250701_093015.json")
	assert.Equal(t, sessionFile, l.Path())
	require.FileExists(t, sessionFile)
	require.FileExists(t, filepath.Join(dir, "latest_execution_log.json"))

	l.LogStep("wikipedia_collection", "started", nil, 0)
	l.LogStep("wikipedia_collection", "completed", map[string]interface{}{"found": true}, 1500*time.Millisecond)

	stored, err := l.Store().Load("20250701_093015")
	require.NoError(t, err)
	assert.Equal(t, "ずんだもん", stored.CharacterName)
	require.Len(t, stored.Steps, 2)
	assert.Nil(t, stored.Steps[0].Duration)
	require.NotNil(t, stored.Steps[1].Duration)
	assert.InDelta(t, 1.5, *stored.Steps[1].Duration, 1e-9)
	assert.Equal(t, map[string]interface{}{}, stored.Steps[0].Details)
	assert.Equal(t, true, stored.Steps[1].Details["found"])

	matches, err := filepath.Glob(filepath.Join(dir, ".execlog-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are cleaned up")
}

func TestLoggerRecordsAndSummary(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, WithClock(steppingClock(sessionStart)))

	l.SetCharacterName("ずんだもん")
	l.LogStep("wikipedia_collection", "completed", nil, time.Second)
	l.LogStep("bing_collection", "timeout", nil, time.Second)
	l.LogStep("prompt_generation", "success", nil, time.Second)
	l.LogAPICall("openai_chatgpt_search", map[string]interface{}{"model": "gpt-4o"}, map[string]interface{}{"length": 10}, time.Second, nil)
	l.LogAPICall("openai_prompt_generation", nil, nil, time.Second, errors.New("429 Too Many Requests"))
	l.LogError("bing_search_error", "429", map[string]interface{}{"query": "x"})
	l.LogMetric("wikipedia_duration", 1.25, "seconds")
	l.LogMetric("wikipedia_duration", 2.5, "seconds")
	l.SetFinalResult(map[string]interface{}{"generated_prompt": "<prompt & more>"})

	s := l.Summary()
	assert.Equal(t, "ずんだもん", s.CharacterName)
	assert.Equal(t, 3, s.TotalSteps)
	assert.Equal(t, 2, s.SuccessfulSteps)
	assert.Equal(t, 2, s.TotalAPICalls)
	assert.Equal(t, 1, s.SuccessfulAPICalls)
	assert.Equal(t, 1, s.TotalErrors)
	require.NotNil(t, s.SessionDuration)
	assert.Equal(t, 9.0, *s.SessionDuration)
	assert.Equal(t, 2.5, s.PerformanceMetrics["wikipedia_duration"].Value)
	assert.NoError(t, l.Err())

	latest, err := os.ReadFile(filepath.Join(dir, "latest_execution_log.json"))
	require.NoError(t, err)
	assert.Contains(t, string(latest), "<prompt & more>", "HTML characters are not escaped")
	assert.Contains(t, string(latest), "ずんだもん", "non-ASCII text is written as-is")

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(latest, &doc))
	for _, key := range []string{"session_id", "run_id", "session_start", "session_end", "character_name", "steps", "api_calls", "errors", "performance", "final_result"} {
		assert.Contains(t, doc, key)
	}
	calls := doc["api_calls"].([]interface{})
	failed := calls[1].(map[string]interface{})
	assert.Equal(t, "error", failed["status"])
	assert.Equal(t, "429 Too Many Requests", failed["error"])
}

func TestSummaryWithoutEnd(t *testing.T) {
	l := New("")
	l.LogStep("x", "started", nil, 0)
	s := l.Summary()
	assert.Nil(t, s.SessionDuration)
	assert.Equal(t, 0, s.SuccessfulSteps)
}

func TestFileStoreListAndLatest(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	for _, id := range []string{"20250701_090000", "20250702_090000", "20250630_090000"} {
		require.NoError(t, store.Save(&Log{SessionID: id, CharacterName: id}))
	}

	ids, err := store.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"20250702_090000", "20250701_090000", "20250630_090000"}, ids)

	latest, err := store.Load("")
	require.NoError(t, err)
	assert.Equal(t, "20250630_090000", latest.SessionID, "latest pointer follows the last save")

	_, err = store.Load("19990101_000000")
	assert.Error(t, err)
	assert.Error(t, store.Save(&Log{}), "session id required")
}

func TestLoggerKeepsRunningWhenStoreFails(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "cache")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))

	l := New(blocker)
	l.LogStep("x", "completed", nil, time.Second)

	assert.Error(t, l.Err())
	assert.Equal(t, 1, l.Summary().TotalSteps)
}

func TestLoggerConcurrentRecords(t *testing.T) {
	l := New(t.TempDir())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.LogStep("branch", "completed", nil, time.Millisecond)
			l.LogMetric("m", 1, "")
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, l.Summary().TotalSteps)
	assert.NoError(t, l.Err())
}
