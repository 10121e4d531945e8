package recording

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jterm-dev/jterm/internal/config"
	"github.com/jterm-dev/jterm/internal/models"
)

// memStore is an in-memory Store for recorder and registry tests.
type memStore struct {
	mu         sync.Mutex
	recs       map[string]models.Recording
	segs       map[string][]*models.Segment
	cps        map[string][]*models.Checkpoint
	failAppend bool
	appendGate chan struct{} // non-nil makes AppendSegment wait until closed
}

func newMemStore() *memStore {
	return &memStore{
		recs: make(map[string]models.Recording),
		segs: make(map[string][]*models.Segment),
		cps:  make(map[string][]*models.Checkpoint),
	}
}

func (m *memStore) CreateRecording(rec *models.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.RecordingID]; ok {
		return fmt.Errorf("%w: %s", models.ErrAlreadyExists, rec.RecordingID)
	}
	m.recs[rec.RecordingID] = *rec
	return nil
}

func (m *memStore) UpdateRecording(rec *models.Recording) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.RecordingID]; !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, rec.RecordingID)
	}
	m.recs[rec.RecordingID] = *rec
	return nil
}

func (m *memStore) GetRecording(id string) (*models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	out := rec
	return &out, nil
}

func (m *memStore) ListRecordings(sessionID string) ([]*models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Recording
	for _, rec := range m.recs {
		if sessionID == "" || rec.SessionID == sessionID {
			r := rec
			out = append(out, &r)
		}
	}
	return out, nil
}

func (m *memStore) ListFinishedBefore(cutoff time.Time) ([]*models.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Recording
	for _, rec := range m.recs {
		if rec.EndTime != nil && rec.EndTime.Before(cutoff) {
			r := rec
			out = append(out, &r)
		}
	}
	return out, nil
}

func (m *memStore) DeleteRecording(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[id]; !ok {
		return fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	delete(m.recs, id)
	delete(m.segs, id)
	delete(m.cps, id)
	return nil
}

func (m *memStore) AppendSegment(id string, seg *models.Segment) error {
	m.mu.Lock()
	gate := m.appendGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend {
		return errors.New("store unavailable")
	}
	m.segs[id] = append(m.segs[id], seg)
	return nil
}

func (m *memStore) Segments(id string) ([]*models.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Segment(nil), m.segs[id]...), nil
}

func (m *memStore) AddCheckpoint(id string, cp *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps[id] = append(m.cps[id], cp)
	return nil
}

func (m *memStore) Checkpoints(id string) ([]*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Checkpoint(nil), m.cps[id]...), nil
}

func (m *memStore) setAppendGate(gate chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendGate = gate
}

func (m *memStore) setFailAppend(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppend = fail
}

func (m *memStore) segmentCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.segs[id])
}

func (m *memStore) checkpointCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cps[id])
}

func testRecordingConfig() config.RecordingConfig {
	return config.RecordingConfig{
		BatchWindow:        60 * time.Millisecond,
		BatchMaxGap:        40 * time.Millisecond,
		FlushInterval:      time.Second,
		BufferSize:         100,
		CheckpointInterval: 10,
		MaxEvents:          1000,
		MinCompressSavings: 0.10,
		Retention:          time.Hour,
		SweepInterval:      time.Hour,
	}
}

func testSize() models.TerminalSize {
	return models.TerminalSize{Cols: 80, Rows: 24}
}
