package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jterm-dev/jterm/internal/models"
)

func openTestStore(t *testing.T, maxEvents int) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "recordings.db"), maxEvents)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleRecording(id string) *models.Recording {
	return &models.Recording{
		RecordingID:  id,
		SessionID:    "sess-1",
		UserID:       "user-1",
		StartTime:    time.Now().Add(-time.Minute),
		Status:       models.RecordingStatusRecording,
		TerminalSize: models.TerminalSize{Cols: 80, Rows: 24},
	}
}

func TestStoreRecordingRoundTrip(t *testing.T) {
	store := openTestStore(t, 0)

	rec := sampleRecording("rec-1")
	require.NoError(t, store.CreateRecording(rec))

	got, err := store.GetRecording("rec-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.RecordingStatusRecording, got.Status)
	assert.Nil(t, got.EndTime)
	assert.Equal(t, models.TerminalSize{Cols: 80, Rows: 24}, got.TerminalSize)
	assert.WithinDuration(t, rec.StartTime, got.StartTime, time.Millisecond)

	end := time.Now()
	rec.EndTime = &end
	rec.Status = models.RecordingStatusStopped
	rec.Duration = 60000
	rec.EventCount = 42
	rec.FileSize = 1024
	rec.CompressionRatio = 35
	require.NoError(t, store.UpdateRecording(rec))

	got, err = store.GetRecording("rec-1")
	require.NoError(t, err)
	assert.Equal(t, models.RecordingStatusStopped, got.Status)
	require.NotNil(t, got.EndTime)
	assert.WithinDuration(t, end, *got.EndTime, time.Millisecond)
	assert.Equal(t, 42, got.EventCount)
	assert.Equal(t, int64(1024), got.FileSize)
	assert.Equal(t, 35, got.CompressionRatio)
}

func TestStoreNotFound(t *testing.T) {
	store := openTestStore(t, 0)

	_, err := store.GetRecording("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = store.UpdateRecording(sampleRecording("missing"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	err = store.DeleteRecording("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStoreDuplicateCreate(t *testing.T) {
	store := openTestStore(t, 0)

	require.NoError(t, store.CreateRecording(sampleRecording("dup")))
	assert.Error(t, store.CreateRecording(sampleRecording("dup")))
}

func TestStoreListRecordings(t *testing.T) {
	store := openTestStore(t, 0)

	a := sampleRecording("rec-a")
	a.SessionID = "s1"
	a.StartTime = time.Now().Add(-2 * time.Hour)
	b := sampleRecording("rec-b")
	b.SessionID = "s1"
	b.StartTime = time.Now().Add(-time.Hour)
	c := sampleRecording("rec-c")
	c.SessionID = "s2"
	require.NoError(t, store.CreateRecording(a))
	require.NoError(t, store.CreateRecording(b))
	require.NoError(t, store.CreateRecording(c))

	forS1, err := store.ListRecordings("s1")
	require.NoError(t, err)
	require.Len(t, forS1, 2)
	// Newest first.
	assert.Equal(t, "rec-b", forS1[0].RecordingID)
	assert.Equal(t, "rec-a", forS1[1].RecordingID)

	all, err := store.ListRecordings("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStoreListFinishedBefore(t *testing.T) {
	store := openTestStore(t, 0)

	old := sampleRecording("old")
	oldEnd := time.Now().Add(-48 * time.Hour)
	old.EndTime = &oldEnd
	old.Status = models.RecordingStatusStopped
	require.NoError(t, store.CreateRecording(old))

	fresh := sampleRecording("fresh")
	freshEnd := time.Now()
	fresh.EndTime = &freshEnd
	fresh.Status = models.RecordingStatusStopped
	require.NoError(t, store.CreateRecording(fresh))

	running := sampleRecording("running")
	require.NoError(t, store.CreateRecording(running))

	expired, err := store.ListFinishedBefore(time.Now().Add(-24 * time.Hour))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "old", expired[0].RecordingID)
}

func TestStoreSegments(t *testing.T) {
	store := openTestStore(t, 0)
	require.NoError(t, store.CreateRecording(sampleRecording("rec-1")))

	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendSegment("rec-1", &models.Segment{
			Seq:        i,
			Compressed: i%2 == 0,
			EventCount: 10,
			RawSize:    100,
			Payload:    []byte{byte(i), 0xFF, 0x00},
		}))
	}

	segs, err := store.Segments("rec-1")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	for i, seg := range segs {
		assert.Equal(t, i, seg.Seq)
		assert.Equal(t, i%2 == 0, seg.Compressed)
		assert.Equal(t, []byte{byte(i), 0xFF, 0x00}, seg.Payload)
	}
}

func TestStoreSegmentTrimming(t *testing.T) {
	store := openTestStore(t, 25)
	require.NoError(t, store.CreateRecording(sampleRecording("rec-1")))

	// Five segments of ten events; the cap of 25 keeps the last three
	// (30 events) since dropping another would go below the cap.
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendSegment("rec-1", &models.Segment{
			Seq: i, EventCount: 10, RawSize: 50, Payload: []byte("x"),
		}))
	}

	segs, err := store.Segments("rec-1")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, 2, segs[0].Seq)
	assert.Equal(t, 4, segs[2].Seq)
}

func TestStoreDeleteCascades(t *testing.T) {
	store := openTestStore(t, 0)
	require.NoError(t, store.CreateRecording(sampleRecording("rec-1")))
	require.NoError(t, store.AppendSegment("rec-1", &models.Segment{Seq: 0, EventCount: 1, RawSize: 1, Payload: []byte("x")}))
	require.NoError(t, store.AddCheckpoint("rec-1", &models.Checkpoint{Timestamp: time.Now(), EventIndex: 1}))

	require.NoError(t, store.DeleteRecording("rec-1"))

	segs, err := store.Segments("rec-1")
	require.NoError(t, err)
	assert.Empty(t, segs)

	cps, err := store.Checkpoints("rec-1")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestStoreCheckpoints(t *testing.T) {
	store := openTestStore(t, 0)
	require.NoError(t, store.CreateRecording(sampleRecording("rec-1")))

	now := time.Now()
	require.NoError(t, store.AddCheckpoint("rec-1", &models.Checkpoint{
		Timestamp: now, EventIndex: 50, Description: "auto", TerminalState: "$ ls",
	}))
	require.NoError(t, store.AddCheckpoint("rec-1", &models.Checkpoint{
		Timestamp: now.Add(time.Second), EventIndex: 100, Description: "manual",
	}))

	cps, err := store.Checkpoints("rec-1")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, 50, cps[0].EventIndex)
	assert.Equal(t, "$ ls", cps[0].TerminalState)
	assert.Equal(t, "manual", cps[1].Description)
	assert.WithinDuration(t, now, cps[0].Timestamp, time.Millisecond)
}

func TestStoreReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recordings.db")

	store, err := Open(context.Background(), path, 0)
	require.NoError(t, err)
	require.NoError(t, store.CreateRecording(sampleRecording("persist")))
	require.NoError(t, store.Close())

	store, err = Open(context.Background(), path, 0)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetRecording("persist")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionID)
}
