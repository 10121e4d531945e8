package recording

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jterm-dev/jterm/internal/models"
)

func TestEncodeSegmentCompressesRepetitiveData(t *testing.T) {
	events := []models.RecordingEvent{
		{Timestamp: time.Now(), Type: models.EventOutput, Data: strings.Repeat("hello world ", 500)},
	}

	seg, err := encodeSegment(0, events, 0.10)
	require.NoError(t, err)
	assert.True(t, seg.Compressed)
	assert.Less(t, len(seg.Payload), seg.RawSize)
	assert.Equal(t, 1, seg.EventCount)

	decoded, err := decodeSegment(seg)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, events[0].Data, decoded[0].Data)
	assert.Equal(t, events[0].Type, decoded[0].Type)
}

func TestEncodeSegmentKeepsIncompressibleDataRaw(t *testing.T) {
	// Short unique payloads gain nothing from zlib once its header overhead
	// is paid, so they must be stored raw.
	events := []models.RecordingEvent{
		{Timestamp: time.Now(), Type: models.EventInput, Data: "x9$k"},
	}

	seg, err := encodeSegment(3, events, 0.10)
	require.NoError(t, err)
	assert.False(t, seg.Compressed)
	assert.Equal(t, seg.RawSize, len(seg.Payload))

	decoded, err := decodeSegment(seg)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Equal(t, "x9$k", decoded[0].Data)
}

func TestDecodeSegmentsPreservesOrder(t *testing.T) {
	var segs []*models.Segment
	for i := 0; i < 3; i++ {
		events := []models.RecordingEvent{
			{Timestamp: time.Now(), Type: models.EventOutput, Data: strings.Repeat("segment payload ", 100), Metadata: map[string]string{"seg": string(rune('a' + i))}},
		}
		seg, err := encodeSegment(i, events, 0.10)
		require.NoError(t, err)
		segs = append(segs, seg)
	}

	all, err := decodeSegments(segs)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Metadata["seg"])
	assert.Equal(t, "b", all[1].Metadata["seg"])
	assert.Equal(t, "c", all[2].Metadata["seg"])
}

func TestDecodeSegmentCorruptPayload(t *testing.T) {
	seg := &models.Segment{Seq: 0, Compressed: true, Payload: []byte("not zlib data")}
	_, err := decodeSegment(seg)
	assert.Error(t, err)
}
