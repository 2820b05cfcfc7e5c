package gateway

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Kind identifies which wire transport a Decompressor speaks.
type Kind int

// Supported decompressor kinds.
const (
	KindNone Kind = iota
	KindZlibStream
)

// zlibSuffix is appended by Discord to the end of every complete JSON
// text in a zlib-stream transport.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// ErrMalformedPackage is returned when a frame cannot be decompressed;
// callers must close the connection with code 4000 and reason
// "MALFORMED_PACKAGE" on receiving it.
var ErrMalformedPackage = errors.New("gateway: malformed compressed package")

// Decompressor is the narrow facade the connection lifecycle feeds raw
// frames through. It never sees opcodes or JSON structure: it only
// turns a stream of frames into zero or more complete JSON texts.
type Decompressor interface {
	// Decompress feeds one inbound frame and returns a complete JSON
	// text when the frame completed one, or ok=false when more frames
	// are needed first.
	Decompress(frame []byte) (text []byte, ok bool, err error)
	// Reset drops any buffered state, e.g. after a reconnect.
	Reset()
	// Shutdown releases resources held by the decompressor.
	Shutdown()
	// Kind reports which transport this decompressor speaks.
	Kind() Kind
}

// NewDecompressor returns a Decompressor for the given kind.
func NewDecompressor(kind Kind) Decompressor {
	switch kind {
	case KindZlibStream:
		return &zlibStreamDecompressor{}
	default:
		return noneDecompressor{}
	}
}

// noneDecompressor is used when compress=zlib-stream was not requested:
// every frame is already one complete JSON text.
type noneDecompressor struct{}

func (noneDecompressor) Decompress(frame []byte) ([]byte, bool, error) { return frame, true, nil }
func (noneDecompressor) Reset()                                       {}
func (noneDecompressor) Shutdown()                                    {}
func (noneDecompressor) Kind() Kind                                   { return KindNone }

// zlibStreamDecompressor implements the zlib-stream transport: the
// entire connection is a single continuous zlib stream and individual
// JSON texts are delimited by a four byte 0x0000FFFF sync-flush marker.
// The zlib.Reader is created lazily on the first complete frame and
// kept alive (reading out of the same growing buffer) for as long as
// the connection lives; Reset tears it down for the next connection.
type zlibStreamDecompressor struct {
	buf bytes.Buffer
	zr  io.ReadCloser
}

func (d *zlibStreamDecompressor) Decompress(frame []byte) ([]byte, bool, error) {
	if _, err := d.buf.Write(frame); err != nil {
		return nil, false, err
	}

	buffered := d.buf.Bytes()
	if len(buffered) < 4 || !bytes.Equal(buffered[len(buffered)-4:], zlibSuffix) {
		// Partial message; wait for the remaining frames.
		return nil, false, nil
	}

	if d.zr == nil {
		zr, err := zlib.NewReader(&d.buf)
		if err != nil {
			return nil, false, ErrMalformedPackage
		}
		d.zr = zr
	}

	// A Discord zlib-stream frame ends at a Z_SYNC_FLUSH boundary, not a
	// final block, so the underlying buffer drains mid-stream and the
	// reader reports io.EOF/io.ErrUnexpectedEOF once it has given back
	// everything decoded so far. That is the normal "caught up to the
	// flush marker" signal here, not corruption; only a different error
	// from the flate layer means the stream itself is malformed.
	var out bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := d.zr.Read(chunk)
		if n > 0 {
			out.Write(chunk[:n])
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, false, ErrMalformedPackage
		}
		if n == 0 {
			break
		}
	}

	return out.Bytes(), true, nil
}

func (d *zlibStreamDecompressor) Reset() {
	if d.zr != nil {
		d.zr.Close()
		d.zr = nil
	}
	d.buf.Reset()
}

func (d *zlibStreamDecompressor) Shutdown() {
	d.Reset()
}

func (d *zlibStreamDecompressor) Kind() Kind { return KindZlibStream }
