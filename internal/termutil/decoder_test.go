package termutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecoderASCII(t *testing.T) {
	d := NewDecoder()
	assert.Equal(t, "hello", d.Write([]byte("hello")))
	assert.Equal(t, " world", d.Write([]byte(" world")))
	assert.Equal(t, "", d.Flush())
}

func TestDecoderSplitMultibyte(t *testing.T) {
	// "héllo" with é (0xC3 0xA9) split across two chunks
	d := NewDecoder()
	out := d.Write([]byte{'h', 0xC3})
	out += d.Write([]byte{0xA9, 'l', 'l', 'o'})
	assert.Equal(t, "héllo", out)
}

func TestDecoderSplitThreeByte(t *testing.T) {
	// "日" is 0xE6 0x97 0xA5; feed one byte at a time
	d := NewDecoder()
	var out string
	for _, b := range []byte("日本語") {
		out += d.Write([]byte{b})
	}
	assert.Equal(t, "日本語", out)
}

func TestDecoderSplitFourByte(t *testing.T) {
	// Emoji U+1F600 (4 bytes) split 2+2
	raw := []byte("😀")
	d := NewDecoder()
	out := d.Write(raw[:2])
	out += d.Write(raw[2:])
	assert.Equal(t, "😀", out)
}

func TestDecoderInvalidBytes(t *testing.T) {
	d := NewDecoder()
	out := d.Write([]byte{0xFF, 'a'})
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "�")
}

func TestDecoderFlushPartial(t *testing.T) {
	d := NewDecoder()
	assert.Equal(t, "", d.Write([]byte{0xC3}))
	out := d.Flush()
	assert.Equal(t, "�", out)
	// Decoder is reusable after Flush
	assert.Equal(t, "ok", d.Write([]byte("ok")))
}

func TestDecoderMixedContent(t *testing.T) {
	// ANSI escape sequences interleaved with split UTF-8
	d := NewDecoder()
	raw := []byte("\x1b[32mgrün\x1b[0m")
	var out string
	out += d.Write(raw[:8]) // splits ü (0xC3 0xBC)
	out += d.Write(raw[8:])
	assert.Equal(t, "\x1b[32mgrün\x1b[0m", out)
}
