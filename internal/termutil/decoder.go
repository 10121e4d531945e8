// Package termutil provides small helpers for terminal byte streams.
package termutil

import "unicode/utf8"

// Decoder incrementally decodes a UTF-8 byte stream that arrives in arbitrary
// chunks. A multi-byte sequence split across two PTY reads is carried over and
// completed on the next Write call instead of being emitted as replacement
// characters. Invalid bytes decode to U+FFFD.
type Decoder struct {
	pending [utf8.UTFMax]byte
	npend   int
}

// NewDecoder returns a ready decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write decodes the next chunk, prepending any partial sequence held from the
// previous call, and returns the decoded text. A trailing incomplete sequence
// is retained for the next call rather than decoded.
func (d *Decoder) Write(chunk []byte) string {
	if len(chunk) == 0 {
		return ""
	}

	var data []byte
	if d.npend > 0 {
		data = make([]byte, 0, d.npend+len(chunk))
		data = append(data, d.pending[:d.npend]...)
		data = append(data, chunk...)
		d.npend = 0
	} else {
		data = chunk
	}

	// Hold back a trailing partial rune. Only the final UTFMax-1 bytes can
	// possibly start an incomplete sequence.
	keep := 0
	for i := len(data) - 1; i >= 0 && len(data)-i < utf8.UTFMax; i-- {
		b := data[i]
		if b < utf8.RuneSelf {
			break
		}
		if isUTF8Start(b) {
			seqLen := utf8SeqLen(b)
			if seqLen > len(data)-i {
				keep = len(data) - i
			}
			break
		}
	}

	if keep > 0 {
		d.npend = copy(d.pending[:], data[len(data)-keep:])
		data = data[:len(data)-keep]
	}

	if len(data) == 0 {
		return ""
	}
	if utf8.Valid(data) {
		return string(data)
	}
	// string() conversion replaces invalid sequences with U+FFFD.
	return string([]rune(string(data)))
}

// Flush returns any held partial sequence decoded with replacement characters
// and resets the decoder. Called when the stream ends.
func (d *Decoder) Flush() string {
	if d.npend == 0 {
		return ""
	}
	out := string([]rune(string(d.pending[:d.npend])))
	d.npend = 0
	return out
}

func isUTF8Start(b byte) bool {
	return b&0xC0 == 0xC0
}

func utf8SeqLen(b byte) int {
	switch {
	case b&0xE0 == 0xC0:
		return 2
	case b&0xF0 == 0xE0:
		return 3
	case b&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
