package gateway

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressWithFlush(t *testing.T, payload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	return buf.Bytes()
}

func TestZlibStreamDecompressorSingleFrame(t *testing.T) {
	d := NewDecompressor(KindZlibStream)
	payload := []byte(`{"op":10,"d":{"heartbeat_interval":41250}}`)

	frame := compressWithFlush(t, payload)
	text, ok, err := d.Decompress(frame)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, text)
}

func TestZlibStreamDecompressorWaitsForSentinel(t *testing.T) {
	d := NewDecompressor(KindZlibStream)
	frame := compressWithFlush(t, []byte(`{"op":11}`))

	// Split the frame so the first chunk doesn't end with the sentinel.
	split := len(frame) - 2
	_, ok, err := d.Decompress(frame[:split])
	require.NoError(t, err)
	assert.False(t, ok)

	text, ok, err := d.Decompress(frame[split:])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"op":11}`), text)
}

func TestZlibStreamDecompressorResetClearsState(t *testing.T) {
	d := NewDecompressor(KindZlibStream)
	frame := compressWithFlush(t, []byte(`{"op":11}`))

	_, ok, err := d.Decompress(frame)
	require.NoError(t, err)
	require.True(t, ok)

	d.Reset()

	frame2 := compressWithFlush(t, []byte(`{"op":1}`))
	text, ok, err := d.Decompress(frame2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"op":1}`), text)
}

func TestZlibStreamDecompressorMalformedFrame(t *testing.T) {
	d := NewDecompressor(KindZlibStream)
	garbage := []byte{0x01, 0x02, 0x03, 0x00, 0x00, 0xff, 0xff}

	_, _, err := d.Decompress(garbage)
	assert.Error(t, err)
}

func TestNoneDecompressorPassesThrough(t *testing.T) {
	d := NewDecompressor(KindNone)
	payload := []byte(`{"op":11}`)

	text, ok, err := d.Decompress(payload)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, text)
	assert.Equal(t, KindNone, d.Kind())
}
