package recording

import (
	"fmt"
	"sync"
	"time"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/logger"
	"github.com/jterm-dev/jterm/internal/models"
	"github.com/jterm-dev/jterm/internal/recovery"
)

// Registry owns the active recorders, one per session at most, and the
// background retention sweep. Reads of finished recordings go straight to the
// store so they keep working after the recorder is gone.
type Registry struct {
	cfg   config.RecordingConfig
	store Store

	mu     sync.Mutex
	active map[string]*Recorder // keyed by session ID

	stopSweep chan struct{}
	sweepDone chan struct{}
	closeOnce sync.Once
}

// NewRegistry creates a registry and starts the hourly retention sweep.
func NewRegistry(cfg config.RecordingConfig, store Store) *Registry {
	r := &Registry{
		cfg:       cfg,
		store:     store,
		active:    make(map[string]*Recorder),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	recovery.SafeGoWithCleanup("recording-retention-sweep", r.sweepLoop, func() {
		close(r.sweepDone)
	})
	return r
}

// Start begins recording a session. A session with an active recorder is
// rejected.
func (r *Registry) Start(sessionID, userID string, size models.TerminalSize) (*Recorder, error) {
	r.mu.Lock()
	if _, ok := r.active[sessionID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is already being recorded", models.ErrAlreadyExists, sessionID)
	}
	r.mu.Unlock()

	rec, err := NewRecorder(sessionID, userID, size, r.cfg, r.store)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[sessionID]; ok {
		// Lost the race to a concurrent Start.
		go rec.Stop()
		return nil, fmt.Errorf("%w: session %s is already being recorded", models.ErrAlreadyExists, sessionID)
	}
	r.active[sessionID] = rec
	return rec, nil
}

// Stop ends the session's recording and returns the finalized metadata.
// Sessions without an active recorder return nil without error so teardown
// paths can call this unconditionally.
func (r *Registry) Stop(sessionID string) (*models.Recording, error) {
	r.mu.Lock()
	rec, ok := r.active[sessionID]
	if ok {
		delete(r.active, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return nil, nil
	}
	meta, err := rec.Stop()
	return &meta, err
}

// Active returns the session's live recorder, if any.
func (r *Registry) Active(sessionID string) (*Recorder, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.active[sessionID]
	return rec, ok
}

// ActiveCount returns the number of sessions currently being recorded.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// RecordInput forwards input to the session's recorder. No-op when the
// session is not being recorded.
func (r *Registry) RecordInput(sessionID, data string) {
	if rec, ok := r.Active(sessionID); ok {
		rec.RecordInput(data)
	}
}

// RecordOutput forwards an output chunk to the session's recorder.
func (r *Registry) RecordOutput(sessionID, data string) {
	if rec, ok := r.Active(sessionID); ok {
		rec.RecordOutput(data)
	}
}

// RecordResize forwards a resize to the session's recorder.
func (r *Registry) RecordResize(sessionID string, size models.TerminalSize) {
	if rec, ok := r.Active(sessionID); ok {
		rec.RecordResize(size)
	}
}

// RecordCommand forwards a command boundary to the session's recorder.
func (r *Registry) RecordCommand(sessionID, command string, exitCode int) {
	if rec, ok := r.Active(sessionID); ok {
		rec.RecordCommand(command, exitCode)
	}
}

// Get returns a recording's metadata from the store.
func (r *Registry) Get(recordingID string) (*models.Recording, error) {
	return r.store.GetRecording(recordingID)
}

// List returns stored recordings, optionally scoped to one session.
func (r *Registry) List(sessionID string) ([]*models.Recording, error) {
	return r.store.ListRecordings(sessionID)
}

// GetEvents loads a recording's event log, decompressing segments and
// applying the filter.
func (r *Registry) GetEvents(recordingID string, filter EventFilter) ([]models.RecordingEvent, error) {
	if _, err := r.store.GetRecording(recordingID); err != nil {
		return nil, err
	}
	segs, err := r.store.Segments(recordingID)
	if err != nil {
		return nil, err
	}
	events, err := decodeSegments(segs)
	if err != nil {
		return nil, err
	}
	return filter.apply(events), nil
}

// Checkpoints returns a recording's stored checkpoints.
func (r *Registry) Checkpoints(recordingID string) ([]*models.Checkpoint, error) {
	if _, err := r.store.GetRecording(recordingID); err != nil {
		return nil, err
	}
	return r.store.Checkpoints(recordingID)
}

// Export renders a recording's full event log in the requested format.
func (r *Registry) Export(recordingID string, format Format) ([]byte, *models.Recording, error) {
	rec, err := r.store.GetRecording(recordingID)
	if err != nil {
		return nil, nil, err
	}
	events, err := r.GetEvents(recordingID, EventFilter{})
	if err != nil {
		return nil, nil, err
	}
	data, err := Export(rec, events, format)
	if err != nil {
		return nil, nil, err
	}
	return data, rec, nil
}

// Process moves a stopped (or failed) recording through processing: the
// stored log is fully decoded to verify integrity, then the recording is
// marked ready. Verification failure marks it failed instead.
func (r *Registry) Process(recordingID string) (*models.Recording, error) {
	rec, err := r.store.GetRecording(recordingID)
	if err != nil {
		return nil, err
	}
	if err := rec.Transition(models.RecordingStatusProcessing); err != nil {
		return nil, err
	}
	if err := r.store.UpdateRecording(rec); err != nil {
		return nil, err
	}

	segs, err := r.store.Segments(recordingID)
	if err == nil {
		_, err = decodeSegments(segs)
	}

	next := models.RecordingStatusReady
	if err != nil {
		logger.Errorf("recording %s failed verification: %v", recordingID, err)
		next = models.RecordingStatusFailed
	}
	if terr := rec.Transition(next); terr != nil {
		return nil, terr
	}
	if uerr := r.store.UpdateRecording(rec); uerr != nil {
		return nil, uerr
	}
	if err != nil {
		return rec, fmt.Errorf("%w: recording %s verification: %v", models.ErrProcess, recordingID, err)
	}
	return rec, nil
}

// Delete removes a stored recording. Recordings still being written cannot be
// deleted.
func (r *Registry) Delete(recordingID string) error {
	rec, err := r.store.GetRecording(recordingID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	_, activeSession := r.active[rec.SessionID]
	r.mu.Unlock()
	if activeSession && rec.Status == models.RecordingStatusRecording {
		return fmt.Errorf("%w: recording %s", models.ErrActive, recordingID)
	}
	return r.store.DeleteRecording(recordingID)
}

func (r *Registry) sweepLoop() {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweepExpired()
		}
	}
}

// sweepExpired deletes recordings whose end time is past the retention
// window.
func (r *Registry) sweepExpired() {
	if r.cfg.Retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-r.cfg.Retention)
	expired, err := r.store.ListFinishedBefore(cutoff)
	if err != nil {
		logger.Warnf("retention sweep failed: %v", err)
		return
	}
	for _, rec := range expired {
		if err := r.store.DeleteRecording(rec.RecordingID); err != nil {
			logger.Warnf("retention sweep: delete %s failed: %v", rec.RecordingID, err)
			continue
		}
		logger.Infof("retention sweep removed recording %s (ended %s)", rec.RecordingID, rec.EndTime)
	}
}

// Shutdown stops the sweep and finalizes every active recorder.
func (r *Registry) Shutdown() {
	r.closeOnce.Do(func() {
		close(r.stopSweep)
		<-r.sweepDone
	})

	r.mu.Lock()
	recs := make([]*Recorder, 0, len(r.active))
	for _, rec := range r.active {
		recs = append(recs, rec)
	}
	r.active = make(map[string]*Recorder)
	r.mu.Unlock()

	for _, rec := range recs {
		if _, err := rec.Stop(); err != nil {
			logger.Warnf("shutdown: stopping recording %s failed: %v", rec.RecordingID(), err)
		}
	}
}
