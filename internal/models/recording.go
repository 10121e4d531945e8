package models

import (
	"fmt"
	"time"
)

// RecordingStatus is the lifecycle state of a recording.
type RecordingStatus string

const (
	RecordingStatusRecording  RecordingStatus = "recording"
	RecordingStatusStopped    RecordingStatus = "stopped"
	RecordingStatusProcessing RecordingStatus = "processing"
	RecordingStatusReady      RecordingStatus = "ready"
	RecordingStatusFailed     RecordingStatus = "failed"
)

// validTransitions encodes the recording state machine:
// recording → stopped|failed, stopped → processing|failed,
// processing → ready|failed, ready is terminal, failed → processing (retry).
var validTransitions = map[RecordingStatus][]RecordingStatus{
	RecordingStatusRecording:  {RecordingStatusStopped, RecordingStatusFailed},
	RecordingStatusStopped:    {RecordingStatusProcessing, RecordingStatusFailed},
	RecordingStatusProcessing: {RecordingStatusReady, RecordingStatusFailed},
	RecordingStatusReady:      {},
	RecordingStatusFailed:     {RecordingStatusProcessing},
}

// EventType classifies a recorded terminal event.
type EventType string

const (
	EventInput    EventType = "input"
	EventOutput   EventType = "output"
	EventResize   EventType = "resize"
	EventCommand  EventType = "command"
	EventStatus   EventType = "status"
	EventMetadata EventType = "metadata"
)

// TerminalSize holds terminal dimensions. Valid sizes are cols in [20,500]
// and rows in [5,200].
type TerminalSize struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Validate checks the size against the accepted bounds.
func (s TerminalSize) Validate() error {
	if s.Cols < 20 || s.Cols > 500 {
		return fmt.Errorf("%w: cols must be between 20 and 500, got %d", ErrInvalidConfig, s.Cols)
	}
	if s.Rows < 5 || s.Rows > 200 {
		return fmt.Errorf("%w: rows must be between 5 and 200, got %d", ErrInvalidConfig, s.Rows)
	}
	return nil
}

// RecordingEvent is a single timestamped terminal event. DeltaTime is derived
// from the previous event's timestamp and is never negative.
type RecordingEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	DeltaTime int64             `json:"deltaTime"` // milliseconds since previous event
	Type      EventType         `json:"type"`
	Data      string            `json:"data"`
	Size      int               `json:"size"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checkpoint marks a position in the event sequence for seek-based playback.
type Checkpoint struct {
	Timestamp     time.Time `json:"timestamp"`
	EventIndex    int       `json:"eventIndex"`
	Description   string    `json:"description"`
	TerminalState string    `json:"terminalState,omitempty"`
}

// Recording is the durable metadata for one recorded session.
type Recording struct {
	RecordingID      string          `json:"recordingId"`
	SessionID        string          `json:"sessionId"`
	UserID           string          `json:"userId,omitempty"`
	StartTime        time.Time       `json:"startTime"`
	EndTime          *time.Time      `json:"endTime,omitempty"`
	Duration         int64           `json:"duration"` // milliseconds
	Status           RecordingStatus `json:"status"`
	EventCount       int             `json:"eventCount"`
	FileSize         int64           `json:"fileSize"`
	CompressionRatio int             `json:"compressionRatio"` // percentage
	TerminalSize     TerminalSize    `json:"terminalSize"`
}

// CanTransitionTo reports whether the state machine permits moving to next.
func (r *Recording) CanTransitionTo(next RecordingStatus) bool {
	for _, allowed := range validTransitions[r.Status] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transition moves the recording to next, or fails with ErrInvalidTransition.
func (r *Recording) Transition(next RecordingStatus) error {
	if !r.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	r.Status = next
	return nil
}

// Stop transitions to stopped and computes the final duration.
func (r *Recording) Stop(at time.Time) error {
	if err := r.Transition(RecordingStatusStopped); err != nil {
		return err
	}
	r.EndTime = &at
	r.Duration = at.Sub(r.StartTime).Milliseconds()
	return nil
}

// Expired reports whether the recording ended before the retention cutoff.
// Active recordings never expire.
func (r *Recording) Expired(retention time.Duration, now time.Time) bool {
	if r.EndTime == nil {
		return false
	}
	return now.After(r.EndTime.Add(retention))
}

// Segment is one persisted flush of events. A segment is either a plain JSON
// event array or a zlib-compressed one, decided per flush.
type Segment struct {
	Seq        int    `json:"seq"`
	Compressed bool   `json:"compressed"`
	EventCount int    `json:"eventCount"`
	RawSize    int    `json:"rawSize"`
	Payload    []byte `json:"-"`
}
