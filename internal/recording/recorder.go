package recording

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/recovery"
)

// Recorder captures the event stream of one live terminal session. Output
// chunks are coalesced into batches before they become events; everything else
// is appended immediately. Buffered events are flushed to the store as
// segments, either when the buffer fills or on the periodic flush tick.
type Recorder struct {
	cfg   config.RecordingConfig
	store Store

	mu   sync.Mutex
	meta models.Recording

	// flushMu serializes segment writes so sequence numbers reach the store
	// in order. It is never taken while mu is held.
	flushMu sync.Mutex

	buffer       []models.RecordingEvent
	lastEvent    time.Time
	nextSeq      int
	flushPending bool

	rawBytes    int64
	storedBytes int64
	flushErrs   int64

	batch      strings.Builder
	batchStart time.Time
	batchChunk int
	batchTimer *time.Timer

	screen  *screen
	stopped bool

	stopFlush chan struct{}
	flushDone chan struct{}
}

// RecorderStats is a live snapshot of a recorder's counters.
type RecorderStats struct {
	RecordingID      string  `json:"recordingId"`
	SessionID        string  `json:"sessionId"`
	EventCount       int     `json:"eventCount"`
	BufferedEvents   int     `json:"bufferedEvents"`
	RawBytes         int64   `json:"rawBytes"`
	StoredBytes      int64   `json:"storedBytes"`
	CompressionRatio int     `json:"compressionRatio"`
	DurationSeconds  float64 `json:"durationSeconds"`
	FlushErrors      int64   `json:"flushErrors"`
	Active           bool    `json:"active"`
}

// NewRecorder creates the durable recording row and starts the periodic flush
// loop. The recording starts in the recording state.
func NewRecorder(sessionID, userID string, size models.TerminalSize, cfg config.RecordingConfig, store Store) (*Recorder, error) {
	if err := size.Validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		cfg:   cfg,
		store: store,
		meta: models.Recording{
			RecordingID:  uuid.NewString(),
			SessionID:    sessionID,
			UserID:       userID,
			StartTime:    time.Now(),
			Status:       models.RecordingStatusRecording,
			TerminalSize: size,
		},
		screen:    newScreen(size),
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}

	if err := store.CreateRecording(&r.meta); err != nil {
		return nil, fmt.Errorf("create recording for session %s: %w", sessionID, err)
	}

	r.mu.Lock()
	r.appendLocked(models.RecordingEvent{
		Timestamp: r.meta.StartTime,
		Type:      models.EventMetadata,
		Data:      "recording started",
		Metadata: map[string]string{
			"cols": strconv.Itoa(int(size.Cols)),
			"rows": strconv.Itoa(int(size.Rows)),
		},
	})
	r.mu.Unlock()

	recovery.SafeGoWithCleanup(fmt.Sprintf("recording-flush-%s", r.meta.RecordingID), r.flushLoop, func() {
		close(r.flushDone)
	})

	logger.Infof("recording %s started for session %s", r.meta.RecordingID, sessionID)
	return r, nil
}

// RecordingID returns the recording's identifier.
func (r *Recorder) RecordingID() string {
	return r.meta.RecordingID
}

// SessionID returns the recorded session's identifier.
func (r *Recorder) SessionID() string {
	return r.meta.SessionID
}

// RecordOutput adds an output chunk to the open batch. A batch closes when it
// has been open for the batch window, when chunks stop arriving for the max
// gap, or when a non-output event needs to be appended.
func (r *Recorder) RecordOutput(data string) {
	if data == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}

	now := time.Now()
	if r.batch.Len() == 0 {
		r.batchStart = now
		r.batchChunk = 0
	}
	r.batch.WriteString(data)
	r.batchChunk++
	r.screen.write(data)

	windowEnd := r.batchStart.Add(r.cfg.BatchWindow)
	gapEnd := now.Add(r.cfg.BatchMaxGap)
	deadline := windowEnd
	if gapEnd.Before(deadline) {
		deadline = gapEnd
	}
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	if r.batchTimer == nil {
		r.batchTimer = time.AfterFunc(wait, r.onBatchDeadline)
	} else {
		r.batchTimer.Reset(wait)
	}
}

func (r *Recorder) onBatchDeadline() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.flushBatchLocked()
}

// RecordInput appends a user input event. Any open output batch is closed
// first so relative ordering of the log matches what actually happened.
func (r *Recorder) RecordInput(data string) {
	r.record(models.RecordingEvent{Type: models.EventInput, Data: data})
}

// RecordResize appends a resize event and resizes the snapshot screen.
func (r *Recorder) RecordResize(size models.TerminalSize) {
	r.mu.Lock()
	if !r.stopped {
		r.screen.resize(size)
		r.meta.TerminalSize = size
	}
	r.mu.Unlock()

	r.record(models.RecordingEvent{
		Type: models.EventResize,
		Data: fmt.Sprintf("%dx%d", size.Cols, size.Rows),
		Metadata: map[string]string{
			"cols": strconv.Itoa(int(size.Cols)),
			"rows": strconv.Itoa(int(size.Rows)),
		},
	})
}

// RecordCommand appends a command boundary event with its exit code.
func (r *Recorder) RecordCommand(command string, exitCode int) {
	r.record(models.RecordingEvent{
		Type:     models.EventCommand,
		Data:     command,
		Metadata: map[string]string{"exitCode": strconv.Itoa(exitCode)},
	})
}

// RecordMetadata appends an arbitrary annotation event.
func (r *Recorder) RecordMetadata(data string, metadata map[string]string) {
	r.record(models.RecordingEvent{Type: models.EventMetadata, Data: data, Metadata: metadata})
}

func (r *Recorder) record(ev models.RecordingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.flushBatchLocked()
	ev.Timestamp = time.Now()
	r.appendLocked(ev)
}

// flushBatchLocked converts the open output batch into a single event.
func (r *Recorder) flushBatchLocked() {
	if r.batchTimer != nil {
		r.batchTimer.Stop()
	}
	if r.batch.Len() == 0 {
		return
	}

	ev := models.RecordingEvent{
		Timestamp: r.batchStart,
		Type:      models.EventOutput,
		Data:      r.batch.String(),
	}
	if r.batchChunk > 1 {
		ev.Metadata = map[string]string{"chunks": strconv.Itoa(r.batchChunk)}
	}
	r.batch.Reset()
	r.batchChunk = 0
	r.appendLocked(ev)
}

// appendLocked finalizes an event into the buffer: delta time, counters,
// auto checkpointing, and buffer-full flush.
func (r *Recorder) appendLocked(ev models.RecordingEvent) {
	if !r.lastEvent.IsZero() {
		ev.DeltaTime = ev.Timestamp.Sub(r.lastEvent).Milliseconds()
		if ev.DeltaTime < 0 {
			ev.DeltaTime = 0
		}
	}
	ev.Size = len(ev.Data)
	r.lastEvent = ev.Timestamp

	r.buffer = append(r.buffer, ev)
	r.meta.EventCount++
	r.rawBytes += int64(ev.Size)

	if r.cfg.CheckpointInterval > 0 && r.meta.EventCount%r.cfg.CheckpointInterval == 0 {
		r.checkpointLocked(fmt.Sprintf("auto checkpoint at event %d", r.meta.EventCount))
	}

	if r.cfg.BufferSize > 0 && len(r.buffer) >= r.cfg.BufferSize && !r.flushPending && !r.stopped {
		r.flushPending = true
		recovery.SafeGo(fmt.Sprintf("recording-flush-full-%s", r.meta.RecordingID), func() {
			err := r.flush()
			r.mu.Lock()
			r.flushPending = false
			r.mu.Unlock()
			if err != nil {
				logger.Warnf("recording %s buffer flush failed: %v", r.meta.RecordingID, err)
			}
		})
	}
}

func (r *Recorder) checkpointLocked(description string) {
	cp := &models.Checkpoint{
		Timestamp:     time.Now(),
		EventIndex:    r.meta.EventCount,
		Description:   description,
		TerminalState: r.screen.snapshot(),
	}
	if err := r.store.AddCheckpoint(r.meta.RecordingID, cp); err != nil {
		logger.Warnf("recording %s checkpoint failed: %v", r.meta.RecordingID, err)
	}
}

// Checkpoint records a manual checkpoint at the current event position.
func (r *Recorder) Checkpoint(description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return fmt.Errorf("%w: recording %s", models.ErrTerminated, r.meta.RecordingID)
	}
	r.flushBatchLocked()
	r.checkpointLocked(description)
	return nil
}

// flush persists the buffered events as one segment. The buffer is swapped
// out under mu and the store write runs without it, so recording never stalls
// on a slow store. Flushed events are put back in front of the buffer when
// the write fails so the next flush retries them.
func (r *Recorder) flush() error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return nil
	}
	events := r.buffer
	r.buffer = nil
	seq := r.nextSeq
	r.nextSeq++
	r.mu.Unlock()

	seg, err := encodeSegment(seq, events, r.cfg.MinCompressSavings)
	if err == nil {
		if aerr := r.store.AppendSegment(r.meta.RecordingID, seg); aerr != nil {
			err = fmt.Errorf("persist segment %d: %w", seg.Seq, aerr)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.flushErrs++
		r.nextSeq = seq
		r.buffer = append(events, r.buffer...)
		return err
	}

	r.storedBytes += int64(len(seg.Payload))
	r.meta.FileSize = r.storedBytes
	r.meta.CompressionRatio = r.ratioLocked()
	if err := r.store.UpdateRecording(&r.meta); err != nil {
		logger.Warnf("recording %s metadata update failed: %v", r.meta.RecordingID, err)
	}
	return nil
}

func (r *Recorder) ratioLocked() int {
	if r.rawBytes == 0 {
		return 100
	}
	return int(r.storedBytes * 100 / r.rawBytes)
}

// Flush closes any open batch and persists buffered events.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.flushBatchLocked()
	r.mu.Unlock()
	return r.flush()
}

func (r *Recorder) flushLoop() {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopFlush:
			return
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				logger.Warnf("recording %s periodic flush failed: %v", r.meta.RecordingID, err)
			}
		}
	}
}

// Stop ends the recording: closes the batch, appends a final annotation,
// persists everything, and moves the recording to the stopped state. Stop is
// idempotent; later calls return the finalized metadata.
func (r *Recorder) Stop() (models.Recording, error) {
	r.mu.Lock()
	if r.stopped {
		meta := r.meta
		r.mu.Unlock()
		return meta, nil
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopFlush)
	<-r.flushDone

	r.mu.Lock()
	r.flushBatchLocked()
	now := time.Now()
	r.appendLocked(models.RecordingEvent{
		Timestamp: now,
		Type:      models.EventMetadata,
		Data:      "recording stopped",
		Metadata: map[string]string{
			"reason":     "stopped",
			"events":     strconv.Itoa(r.meta.EventCount),
			"durationMs": strconv.FormatInt(now.Sub(r.meta.StartTime).Milliseconds(), 10),
			"rawBytes":   strconv.FormatInt(r.rawBytes, 10),
		},
	})
	r.mu.Unlock()

	flushErr := r.flush()

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.meta.Stop(now); err != nil {
		return r.meta, err
	}
	r.meta.FileSize = r.storedBytes
	r.meta.CompressionRatio = r.ratioLocked()
	if err := r.store.UpdateRecording(&r.meta); err != nil {
		return r.meta, fmt.Errorf("finalize recording %s: %w", r.meta.RecordingID, err)
	}

	logger.Infof("recording %s stopped, %d events, %d bytes stored (ratio %d%%)",
		r.meta.RecordingID, r.meta.EventCount, r.storedBytes, r.meta.CompressionRatio)
	return r.meta, flushErr
}

// Stats returns a snapshot of the recorder's counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	duration := time.Since(r.meta.StartTime).Seconds()
	if r.meta.EndTime != nil {
		duration = r.meta.EndTime.Sub(r.meta.StartTime).Seconds()
	}
	return RecorderStats{
		RecordingID:      r.meta.RecordingID,
		SessionID:        r.meta.SessionID,
		EventCount:       r.meta.EventCount,
		BufferedEvents:   len(r.buffer),
		RawBytes:         r.rawBytes,
		StoredBytes:      r.storedBytes,
		CompressionRatio: r.ratioLocked(),
		DurationSeconds:  duration,
		FlushErrors:      r.flushErrs,
		Active:           !r.stopped,
	}
}
