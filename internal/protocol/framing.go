// Package protocol implements the line framed JSON wire format spoken
// between clients and storage nodes.
package protocol

import (
	"bufio"
	"io"
)

const (
	// ChunkSize is the read granularity of a FrameReader
	ChunkSize = 1024
	// DropSize bounds an unterminated frame. Once this many bytes have been
	// buffered without a line feed they are returned as one frame.
	DropSize = 128 * ChunkSize

	lineFeed       = '\n'
	carriageReturn = '\r'
)

// Terminator is appended to every outbound frame. Receivers only split on
// the line feed, so the carriage return becomes leading data of the next
// frame.
var Terminator = []byte{lineFeed, carriageReturn}

// FrameReader splits a byte stream into frames ending at a line feed
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, ChunkSize)}
}

// ReadFrame returns the bytes up to, and excluding, the next line feed.
// A stream that ends mid-frame yields the partial frame first and io.EOF
// on the following call.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := fr.r.ReadSlice(lineFeed)
		switch err {
		case nil:
			frame = append(frame, chunk[:len(chunk)-1]...)
			return frame, nil
		case bufio.ErrBufferFull:
			frame = append(frame, chunk...)
			if len(frame) >= DropSize {
				return frame, nil
			}
		default:
			frame = append(frame, chunk...)
			if err == io.EOF && len(frame) > 0 {
				return frame, nil
			}
			return nil, err
		}
	}
}

// WriteFrame writes payload followed by the frame terminator
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, 0, len(payload)+len(Terminator))
	buf = append(buf, payload...)
	buf = append(buf, Terminator...)
	_, err := w.Write(buf)
	return err
}
