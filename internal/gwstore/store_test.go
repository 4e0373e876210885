package gwstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/gatewayd/internal/gwtypes"
)

func timeToday() string { return time.Now().UTC().Format("2006-01-02") }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := New("redis://"+mr.Addr(), WithNamespace("test"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGetSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &gwtypes.Session{TaskID: "task-1", ModelName: "echo", Prompt: "hi", Priority: 5}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.GetSession(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, gwtypes.StatusPending, got.Status)
	assert.Equal(t, "echo", got.ModelName)
	assert.Equal(t, "hi", got.Prompt)
	assert.Equal(t, float64(5), got.Priority)
}

func TestGetSessionMissingReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSession(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyKeyResolvesToTaskID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &gwtypes.Session{TaskID: "task-2", ModelName: "echo", IdempotencyKey: "key-abc"}
	require.NoError(t, s.CreateSession(ctx, sess))

	taskID, err := s.TaskByIdempotency(ctx, "key-abc")
	require.NoError(t, err)
	assert.Equal(t, "task-2", taskID)
}

func TestUpdateSessionStatusTerminalWritesResult(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess := &gwtypes.Session{TaskID: "task-3", ModelName: "echo"}
	require.NoError(t, s.CreateSession(ctx, sess))

	result := &gwtypes.GenerationResult{Text: "done", FinishReason: gwtypes.FinishStop}
	require.NoError(t, s.UpdateSessionStatus(ctx, "task-3", gwtypes.StatusCompleted, result, nil))

	got, err := s.GetSession(ctx, "task-3")
	require.NoError(t, err)
	assert.Equal(t, gwtypes.StatusCompleted, got.Status)
	require.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.Result)
	assert.Equal(t, "done", got.Result.Text)
}

func TestEnqueueDequeueFIFOWithinSamePriority(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueTask(ctx, "a", 5))
	require.NoError(t, s.EnqueueTask(ctx, "b", 5))
	require.NoError(t, s.EnqueueTask(ctx, "c", 5))

	first, err := s.DequeueTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", first)

	second, err := s.DequeueTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", second)
}

func TestEnqueueHigherPriorityDequeuesFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnqueueTask(ctx, "low", 1))
	require.NoError(t, s.EnqueueTask(ctx, "high", 10))

	first, err := s.DequeueTask(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", first)
}

func TestDequeueEmptyQueueReturnsEmptyString(t *testing.T) {
	s := newTestStore(t)
	taskID, err := s.DequeueTask(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", taskID)
}

func TestProcessingMarker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cur, err := s.GetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", cur)

	require.NoError(t, s.SetProcessing(ctx, "task-9"))
	cur, err = s.GetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-9", cur)

	require.NoError(t, s.ClearProcessing(ctx))
	cur, err = s.GetProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", cur)
}

func TestAppendLogAndGetLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendLog(ctx, "task-1", "info", "queued"))
	require.NoError(t, s.AppendLog(ctx, "task-1", "info", "dispatched"))

	logs, err := s.GetLogs(ctx, "task-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "queued", logs[0].Message)
	assert.Equal(t, "dispatched", logs[1].Message)
}

func TestDailyStatsIncrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.IncrementDailyStat(ctx, "tasks_completed", 1))
	require.NoError(t, s.IncrementDailyStat(ctx, "tasks_completed", 2))

	today := timeToday()
	stats, err := s.DailyStats(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats["tasks_completed"])
}

func TestCacheGPUStatsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info := &gwtypes.GPUInfo{Name: "RTX 4090", VRAM: gwtypes.VRAMUsage{TotalMB: 24000}}
	require.NoError(t, s.CacheGPUStats(ctx, info, 0))

	got, err := s.GetCachedGPUStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "RTX 4090", got.Name)
}
