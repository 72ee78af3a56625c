package rpcserver

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame's payload, guarding the length prefix
// against a corrupt or hostile peer asking us to allocate an unbounded
// buffer.
const maxFrameBytes = 64 << 20

// writeFrame gob-encodes v and writes it as a uint32-big-endian-length-
// prefixed frame.
func writeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("rpcserver: encode frame: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))

	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("rpcserver: write frame length: %w", err)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("rpcserver: write frame body: %w", err)
	}

	return nil
}

// readFrame reads one length-prefixed gob frame into v.
func readFrame(r io.Reader, v any) error {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return err
	}

	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxFrameBytes {
		return fmt.Errorf("rpcserver: frame of %d bytes exceeds limit", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("rpcserver: read frame body: %w", err)
	}

	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(v); err != nil {
		return fmt.Errorf("rpcserver: decode frame: %w", err)
	}

	return nil
}
