package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Size ceilings per stream kind. A frame whose declared length exceeds the
// ceiling is a protocol violation, not a short read to retry.
const (
	MaxControlFrame  = 1 << 20       // 1 MiB
	MaxManifestFrame = 10 * (1 << 20) // 10 MiB
)

// ErrFrameTooLarge is returned when a declared frame length exceeds the
// ceiling passed to ReadFrame.
var ErrFrameTooLarge = errors.New("wire: frame exceeds size ceiling")

// WriteFrame writes payload as "u32 BE length || payload" to w.
func WriteFrame(w io.Writer, payload []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("wire: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one "u32 BE length || payload" frame from r, rejecting
// declared lengths above maxSize. A read that reaches EOF exactly at a
// frame boundary returns io.EOF; an EOF in the middle of a frame (a
// truncated length prefix or a short payload) is fatal and returned as
// io.ErrUnexpectedEOF, since a partial frame can never be completed by a
// later read on the same stream.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > maxSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return payload, nil
}
