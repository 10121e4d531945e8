// Package recording captures terminal session events, coalesces output
// bursts, and persists them as compressed segments for later playback.
package recording

import (
	"time"

	"github.com/jterm-dev/jterm/internal/models"
)

// Store is the durable backend for recording metadata, event segments, and
// checkpoints. The sqlite implementation lives in internal/storage.
type Store interface {
	CreateRecording(rec *models.Recording) error
	UpdateRecording(rec *models.Recording) error
	GetRecording(recordingID string) (*models.Recording, error)
	ListRecordings(sessionID string) ([]*models.Recording, error)
	ListFinishedBefore(cutoff time.Time) ([]*models.Recording, error)
	DeleteRecording(recordingID string) error

	AppendSegment(recordingID string, seg *models.Segment) error
	Segments(recordingID string) ([]*models.Segment, error)

	AddCheckpoint(recordingID string, cp *models.Checkpoint) error
	Checkpoints(recordingID string) ([]*models.Checkpoint, error)
}

// EventFilter selects a slice of a recording's event log. Zero times mean
// unbounded, an empty type list means all types, Limit 0 means no limit.
type EventFilter struct {
	Types  []models.EventType
	Since  time.Time
	Until  time.Time
	Offset int
	Limit  int
}

func (f EventFilter) matches(ev models.RecordingEvent) bool {
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if ev.Type == t {
			return true
		}
	}
	return false
}

// apply filters and paginates the full event slice.
func (f EventFilter) apply(events []models.RecordingEvent) []models.RecordingEvent {
	out := make([]models.RecordingEvent, 0, len(events))
	for _, ev := range events {
		if f.matches(ev) {
			out = append(out, ev)
		}
	}
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []models.RecordingEvent{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}
