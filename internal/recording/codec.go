package recording

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zlib"

	"github.com/jterm-dev/jterm/internal/models"
)

// encodeSegment serializes a batch of events into one storable segment.
// The JSON payload is zlib-compressed only when that saves at least
// minSavings (a fraction, e.g. 0.10), so incompressible batches are stored raw
// rather than paying decompression cost for nothing.
func encodeSegment(seq int, events []models.RecordingEvent, minSavings float64) (*models.Segment, error) {
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode segment %d: %w", seq, err)
	}

	seg := &models.Segment{
		Seq:        seq,
		EventCount: len(events),
		RawSize:    len(raw),
		Payload:    raw,
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return seg, nil
	}
	if err := zw.Close(); err != nil {
		return seg, nil
	}

	if float64(buf.Len()) <= float64(len(raw))*(1.0-minSavings) {
		seg.Compressed = true
		seg.Payload = buf.Bytes()
	}
	return seg, nil
}

// decodeSegment restores the events stored in a segment, transparently
// inflating compressed payloads.
func decodeSegment(seg *models.Segment) ([]models.RecordingEvent, error) {
	payload := seg.Payload
	if seg.Compressed {
		zr, err := zlib.NewReader(bytes.NewReader(seg.Payload))
		if err != nil {
			return nil, fmt.Errorf("inflate segment %d: %w", seg.Seq, err)
		}
		payload, err = io.ReadAll(zr)
		zr.Close()
		if err != nil {
			return nil, fmt.Errorf("inflate segment %d: %w", seg.Seq, err)
		}
	}

	var events []models.RecordingEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		return nil, fmt.Errorf("decode segment %d: %w", seg.Seq, err)
	}
	return events, nil
}

// decodeSegments concatenates all segments back into the full event log.
func decodeSegments(segs []*models.Segment) ([]models.RecordingEvent, error) {
	var events []models.RecordingEvent
	for _, seg := range segs {
		batch, err := decodeSegment(seg)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}
