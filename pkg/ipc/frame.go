package ipc

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const (
	frameHeaderLen  = 4
	DefaultMaxFrame = 8 * 1024 * 1024
)

// encodeFrame returns v as a big-endian uint32 length followed by its JSON
// encoding.
func encodeFrame(v interface{}, max int) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ipc: encode frame: %w", err)
	}
	if len(payload) > max {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, frameHeaderLen+len(payload))
	binary.BigEndian.PutUint32(buf[:frameHeaderLen], uint32(len(payload)))
	copy(buf[frameHeaderLen:], payload)
	return buf, nil
}

func WriteFrame(w io.Writer, v interface{}, max int) error {
	buf, err := encodeFrame(v, max)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func ReadFrame(r io.Reader, v interface{}, max int) error {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(max) {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("ipc: decode frame: %w", err)
	}
	return nil
}
