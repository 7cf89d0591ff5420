// Package ipc moves line-delimited JSON frames between the host and its
// isolated child processes: compilation units and render surfaces. One
// frame per line, a hard per-frame size cap on both sides, no shared
// memory. Everything that crosses a pipe goes through this package.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single frame on read and write. Sized to hold the
// compiled program of a maximum-length document with room to spare.
const MaxFrameSize = 8 << 20

// ErrFrameTooLarge reports a frame exceeding MaxFrameSize in either
// direction. On the read side it is terminal for the stream.
var ErrFrameTooLarge = errors.New("ipc: frame exceeds size limit")

// Encoder writes frames. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing one frame per line to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v and writes it as a single line.
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ipc: encode frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ipc: write frame: %w", err)
	}
	return nil
}

// Decoder reads frames. Not safe for concurrent use; run one reader
// goroutine per stream.
type Decoder struct {
	s *bufio.Scanner
}

// NewDecoder returns a Decoder reading one frame per line from r.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), MaxFrameSize)
	return &Decoder{s: s}
}

// Next returns the next non-empty frame. io.EOF signals a cleanly closed
// stream; any other error is terminal. The returned slice is owned by the
// caller.
func (d *Decoder) Next() ([]byte, error) {
	for d.s.Scan() {
		line := d.s.Bytes()
		if len(line) == 0 {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, nil
	}
	if err := d.s.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return nil, ErrFrameTooLarge
		}
		return nil, fmt.Errorf("ipc: read frame: %w", err)
	}
	return nil, io.EOF
}
