package recording

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jterm-dev/jterm/internal/models"
)

func stoppedEvents(t *testing.T, store *memStore, rec *Recorder) []models.RecordingEvent {
	t.Helper()
	segs, err := store.Segments(rec.RecordingID())
	require.NoError(t, err)
	events, err := decodeSegments(segs)
	require.NoError(t, err)
	return events
}

func outputEvents(events []models.RecordingEvent) []models.RecordingEvent {
	var out []models.RecordingEvent
	for _, ev := range events {
		if ev.Type == models.EventOutput {
			out = append(out, ev)
		}
	}
	return out
}

func TestRecorderStartsWithMetadataEvent(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "user", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordInput("x")
	_, err = rec.Stop()
	require.NoError(t, err)

	events := stoppedEvents(t, store, rec)
	require.GreaterOrEqual(t, len(events), 3)

	first := events[0]
	assert.Equal(t, models.EventMetadata, first.Type)
	assert.Equal(t, "recording started", first.Data)
	assert.Equal(t, "80", first.Metadata["cols"])
	assert.Equal(t, "24", first.Metadata["rows"])
	assert.Equal(t, int64(0), first.DeltaTime)

	last := events[len(events)-1]
	assert.Equal(t, models.EventMetadata, last.Type)
	assert.Equal(t, "recording stopped", last.Data)
	assert.Equal(t, "2", last.Metadata["events"])
	assert.NotEmpty(t, last.Metadata["durationMs"])
	assert.NotEmpty(t, last.Metadata["rawBytes"])
}

func TestRecorderCoalescesRapidOutput(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "user", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordOutput("one ")
	rec.RecordOutput("two ")
	rec.RecordOutput("three")

	meta, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusStopped, meta.Status)

	outs := outputEvents(stoppedEvents(t, store, rec))
	require.Len(t, outs, 1)
	assert.Equal(t, "one two three", outs[0].Data)
	assert.Equal(t, "3", outs[0].Metadata["chunks"])
	assert.Equal(t, len("one two three"), outs[0].Size)
}

func TestRecorderBatchClosesOnGap(t *testing.T) {
	store := newMemStore()
	cfg := testRecordingConfig()
	rec, err := NewRecorder("sess", "", testSize(), cfg, store)
	require.NoError(t, err)

	rec.RecordOutput("first")
	time.Sleep(cfg.BatchMaxGap + 30*time.Millisecond)
	rec.RecordOutput("second")

	_, err = rec.Stop()
	require.NoError(t, err)

	outs := outputEvents(stoppedEvents(t, store, rec))
	require.Len(t, outs, 2)
	assert.Equal(t, "first", outs[0].Data)
	assert.Equal(t, "second", outs[1].Data)
}

func TestRecorderNonOutputClosesBatchInOrder(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordOutput("prompt$ ")
	rec.RecordInput("ls\n")
	rec.RecordOutput("file1 file2")

	_, err = rec.Stop()
	require.NoError(t, err)

	events := stoppedEvents(t, store, rec)
	// Start and stop metadata events bracket these three.
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, models.EventOutput, events[1].Type)
	assert.Equal(t, "prompt$ ", events[1].Data)
	assert.Equal(t, models.EventInput, events[2].Type)
	assert.Equal(t, "ls\n", events[2].Data)
	assert.Equal(t, models.EventOutput, events[3].Type)
	assert.Equal(t, "file1 file2", events[3].Data)
}

func TestRecorderDeltaTimesNonNegativeAndOrdered(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordInput("a")
	time.Sleep(15 * time.Millisecond)
	rec.RecordInput("b")
	rec.RecordResize(models.TerminalSize{Cols: 100, Rows: 30})

	_, err = rec.Stop()
	require.NoError(t, err)

	events := stoppedEvents(t, store, rec)
	require.NotEmpty(t, events)
	assert.Equal(t, int64(0), events[0].DeltaTime)
	last := events[0].Timestamp
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.DeltaTime, int64(0))
		assert.False(t, ev.Timestamp.Before(last))
		last = ev.Timestamp
	}
}

func TestRecorderResizeEvent(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordResize(models.TerminalSize{Cols: 132, Rows: 43})
	meta, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, models.TerminalSize{Cols: 132, Rows: 43}, meta.TerminalSize)

	events := stoppedEvents(t, store, rec)
	require.Greater(t, len(events), 1)
	assert.Equal(t, models.EventResize, events[1].Type)
	assert.Equal(t, "132x43", events[1].Data)
	assert.Equal(t, "132", events[1].Metadata["cols"])
}

func TestRecorderBufferFullFlush(t *testing.T) {
	store := newMemStore()
	cfg := testRecordingConfig()
	cfg.BufferSize = 5
	rec, err := NewRecorder("sess", "", testSize(), cfg, store)
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		rec.RecordInput("key")
	}
	// Buffer capacity 5 forces a flush before Stop's final one.
	require.Eventually(t, func() bool {
		return store.segmentCount(rec.RecordingID()) >= 1
	}, time.Second, 10*time.Millisecond)

	_, err = rec.Stop()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, store.segmentCount(rec.RecordingID()), 2)

	events := stoppedEvents(t, store, rec)
	// 12 inputs plus the start and stop annotations.
	assert.Len(t, events, 14)
}

func TestRecorderBufferFullFlushDoesNotBlock(t *testing.T) {
	store := newMemStore()
	cfg := testRecordingConfig()
	cfg.BufferSize = 3
	cfg.FlushInterval = time.Hour
	rec, err := NewRecorder("sess", "", testSize(), cfg, store)
	require.NoError(t, err)

	gate := make(chan struct{})
	store.setAppendGate(gate)

	recorded := make(chan struct{})
	go func() {
		// The third append fills the buffer while the store is stalled.
		rec.RecordInput("a")
		rec.RecordInput("b")
		rec.RecordInput("c")
		close(recorded)
	}()

	select {
	case <-recorded:
	case <-time.After(time.Second):
		t.Fatal("recording blocked on a stalled store write")
	}

	close(gate)
	require.Eventually(t, func() bool {
		return store.segmentCount(rec.RecordingID()) == 1
	}, time.Second, 10*time.Millisecond)

	store.setAppendGate(nil)
	_, err = rec.Stop()
	require.NoError(t, err)

	events := stoppedEvents(t, store, rec)
	assert.Len(t, events, 5)
}

func TestRecorderFlushFailureRetainsBuffer(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	store.setFailAppend(true)
	rec.RecordInput("data")
	require.Error(t, rec.Flush())
	// The start annotation plus the input are both retained.
	assert.Equal(t, 2, rec.Stats().BufferedEvents)
	assert.Greater(t, rec.Stats().FlushErrors, int64(0))

	store.setFailAppend(false)
	require.NoError(t, rec.Flush())
	assert.Equal(t, 0, rec.Stats().BufferedEvents)

	_, err = rec.Stop()
	require.NoError(t, err)
	events := stoppedEvents(t, store, rec)
	require.Greater(t, len(events), 1)
	assert.Equal(t, "data", events[1].Data)
}

func TestRecorderAutoCheckpoints(t *testing.T) {
	store := newMemStore()
	cfg := testRecordingConfig()
	cfg.CheckpointInterval = 5
	rec, err := NewRecorder("sess", "", testSize(), cfg, store)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		rec.RecordInput("x")
	}
	assert.Equal(t, 2, store.checkpointCount(rec.RecordingID()))

	_, err = rec.Stop()
	require.NoError(t, err)
}

func TestRecorderManualCheckpointCapturesScreen(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordOutput("hello screen\r\n")
	require.NoError(t, rec.Checkpoint("after greeting"))

	cps, err := store.Checkpoints(rec.RecordingID())
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, "after greeting", cps[0].Description)
	assert.Contains(t, cps[0].TerminalState, "hello screen")

	_, err = rec.Stop()
	require.NoError(t, err)

	err = rec.Checkpoint("too late")
	assert.ErrorIs(t, err, models.ErrTerminated)
}

func TestRecorderStopIdempotent(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordInput("once")
	first, err := rec.Stop()
	require.NoError(t, err)
	require.NotNil(t, first.EndTime)

	second, err := rec.Stop()
	require.NoError(t, err)
	assert.Equal(t, first.EventCount, second.EventCount)
	assert.Equal(t, first.Status, second.Status)

	// Records after stop are dropped.
	rec.RecordInput("ignored")
	rec.RecordOutput("ignored")
	events := stoppedEvents(t, store, rec)
	for _, ev := range events {
		assert.NotEqual(t, "ignored", ev.Data)
	}
}

func TestRecorderStopFinalizesMetadata(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess-42", "user-7", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordOutput(strings.Repeat("compressible output ", 200))
	meta, err := rec.Stop()
	require.NoError(t, err)

	assert.Equal(t, models.RecordingStatusStopped, meta.Status)
	assert.NotNil(t, meta.EndTime)
	assert.GreaterOrEqual(t, meta.Duration, int64(0))
	assert.Greater(t, meta.FileSize, int64(0))
	assert.Greater(t, meta.EventCount, 0)
	assert.Less(t, meta.CompressionRatio, 100)

	stored, err := store.GetRecording(rec.RecordingID())
	require.NoError(t, err)
	assert.Equal(t, meta.Status, stored.Status)
	assert.Equal(t, "sess-42", stored.SessionID)
	assert.Equal(t, "user-7", stored.UserID)
}

func TestRecorderStats(t *testing.T) {
	store := newMemStore()
	rec, err := NewRecorder("sess", "", testSize(), testRecordingConfig(), store)
	require.NoError(t, err)

	rec.RecordInput("abc")
	stats := rec.Stats()
	assert.True(t, stats.Active)
	assert.Equal(t, 2, stats.EventCount)
	assert.Greater(t, stats.RawBytes, int64(3))

	_, err = rec.Stop()
	require.NoError(t, err)
	assert.False(t, rec.Stats().Active)
}

func TestRecorderRejectsInvalidSize(t *testing.T) {
	store := newMemStore()
	_, err := NewRecorder("sess", "", models.TerminalSize{Cols: 5, Rows: 5}, testRecordingConfig(), store)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
