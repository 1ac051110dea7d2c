package network

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"SimFed/internal/wire"
)

const (
	// maxFrameSize bounds a frame on a stream: header plus largest payload.
	maxFrameSize = wire.HeaderSize + wire.MaxPayloadSize

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

var errClosed = errors.New("transport is closed")

// writeFrame writes a length-prefixed frame.
// Format: [4 bytes big-endian length] [frame]
func writeFrame(w io.Writer, frame []byte) error {
	if len(frame) > maxFrameSize {
		return fmt.Errorf("frame too large: %d > %d", len(frame), maxFrameSize)
	}

	buf := make([]byte, lengthPrefixSize+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(len(frame)))
	copy(buf[lengthPrefixSize:], frame)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write frame:\n%w", err)
	}

	return nil
}

// readFrame reads one length-prefixed frame. io.EOF is returned unwrapped
// when the stream ends cleanly between frames.
func readFrame(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}

		return nil, fmt.Errorf("read length:\n%w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d > %d", length, maxFrameSize)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, fmt.Errorf("read frame:\n%w", err)
	}

	return frame, nil
}
