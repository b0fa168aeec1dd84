package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/logging"
)

func openTemp(t *testing.T, cfg config.JournalConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "runs.db")
	}
	if cfg.RetentionMode == "" {
		cfg.RetentionMode = "persistent"
	}
	s, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenEphemeral(t *testing.T) {
	s, err := Open(context.Background(), config.JournalConfig{RetentionMode: "ephemeral"}, nil)
	require.NoError(t, err)
	assert.False(t, s.Persistent())
	require.NoError(t, s.Record(context.Background(), Run{ID: "x", Status: StatusSuccess}))
	runs, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
	require.NoError(t, s.Close())
}

func TestRecordAndRecent(t *testing.T) {
	s := openTemp(t, config.JournalConfig{})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Record(ctx, Run{ID: "run-1", Status: StatusSuccess, Elapsed: 1500 * time.Millisecond, Device: "cpu", STT: "whisper", LLM: "gemini", TTS: "google_tts"}))
	s.clock = func() time.Time { return time.Date(2026, 10, 1, 9, 5, 0, 0, time.UTC) }
	require.NoError(t, s.Record(ctx, Run{ID: "run-2", Status: StatusFailure, FailedStage: "transcribing", Error: "boom"}))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "transcribing", runs[0].FailedStage)
	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, 1500*time.Millisecond, runs[1].Elapsed)
	assert.Equal(t, "gemini", runs[1].LLM)
	assert.Equal(t, time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC), runs[1].CreatedAt)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Failures: 1}, st)
}

func TestPruneByDaysAndCount(t *testing.T) {
	s := openTemp(t, config.JournalConfig{RetentionDays: 1, MaxRuns: 2})
	ctx := context.Background()

	s.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	require.NoError(t, s.Record(ctx, Run{ID: "old", Status: StatusSuccess}))

	s.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	for i, id := range []string{"a", "b", "c"} {
		at := s.clock().Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Record(ctx, Run{ID: id, Status: StatusSuccess, CreatedAt: at}))
	}
	require.NoError(t, s.Prune(ctx))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(runs))
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"c", "b"}, ids)
}
