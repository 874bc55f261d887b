// Package protocol implements the wire format spoken between the server and
// the launcher clients: 4-byte big-endian length-prefixed frames carrying
// pipe-delimited text commands.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// LengthPrefixSize is the number of bytes in the frame length prefix.
const LengthPrefixSize = 4

// MaxFrameSize caps the payload length this server will accept in a single
// frame. ROM images fit comfortably under this; anything larger is a
// misbehaving or malicious client.
const MaxFrameSize = 64 * 1024 * 1024

var (
	// ErrTruncatedFrame indicates the stream closed partway through a frame.
	ErrTruncatedFrame = errors.New("connection closed mid-frame")

	// ErrFrameTooLarge indicates a length prefix beyond MaxFrameSize.
	ErrFrameTooLarge = fmt.Errorf("frame exceeds maximum size (%d bytes)", MaxFrameSize)
)

// ReadFrame blocks until a full frame has been read from r and returns its
// payload. A clean close before any bytes arrive is reported as io.EOF; a
// close partway through the prefix or payload is reported as
// ErrTruncatedFrame. A zero-length payload is legal on the wire and returned
// as an empty slice (the session layer treats it as a termination signal).
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [LengthPrefixSize]byte

	// io.ReadFull loops over short reads for us; partial reads off a socket
	// are expected and must not be treated as errors.
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}

	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}

	return payload, nil
}

// EncodeFrame returns the full wire form of payload: the big-endian length
// prefix followed by the payload bytes.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)
	return frame
}

// WriteFrame encodes payload and writes the entire frame to w.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	frame := EncodeFrame(payload)
	written := 0
	for written < len(frame) {
		n, err := w.Write(frame[written:])
		if err != nil {
			return fmt.Errorf("writing frame: %w", err)
		}
		written += n
	}
	return nil
}
