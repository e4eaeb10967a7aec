// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"encoding/binary"

	"github.com/StagsGit/td/errors"
)

type readerState int

const (
	stateReadLength readerState = iota
	stateReadEvent
)

// frameReader is the framing codec's read side: a two-state machine
// (readLength, readEvent) that turns a byte stream fed to it via Feed
// into a sequence of Events. It never blocks or seeks; the caller is
// responsible for supplying more bytes when Next reports it needs
// them.
type frameReader struct {
	buf    []byte
	state  readerState
	length uint32
	offset int64
}

func newFrameReader() *frameReader {
	return &frameReader{state: stateReadLength}
}

// Feed appends newly read plaintext bytes (already decrypted by the
// cipher pipeline, if any) to the reader's pending input.
func (r *frameReader) Feed(p []byte) {
	r.buf = append(r.buf, p...)
}

// Next attempts to produce the next event from previously fed bytes.
//
// It returns (event, 0, nil) when a full event was produced,
// (nil, need, nil) when at least need more bytes must be fed before
// calling Next again, or (nil, 0, err) when the input is corrupt. The
// engine uses the positive need to decide how many bytes to demand
// from the next file read (max(need, 4096)).
func (r *frameReader) Next() (*Event, int, error) {
	for {
		switch r.state {
		case stateReadLength:
			if len(r.buf) < 4 {
				return nil, 4 - len(r.buf), nil
			}
			length := binary.LittleEndian.Uint32(r.buf[:4])
			if length < MinEventSize || length > MaxEventSize {
				return nil, 0, errors.E(errors.Corruption, "frame length out of bounds")
			}
			r.length = length
			r.state = stateReadEvent
		case stateReadEvent:
			if uint32(len(r.buf)) < r.length {
				return nil, int(r.length) - len(r.buf), nil
			}
			raw := r.buf[:r.length]
			ev, err := decodeFrame(raw)
			if err != nil {
				return nil, 0, err
			}
			r.buf = append([]byte(nil), r.buf[r.length:]...)
			r.offset += int64(r.length)
			ev.Offset = r.offset
			r.state = stateReadLength
			r.length = 0
			return ev, 0, nil
		}
	}
}

// Offset is the running total of bytes consumed into complete frames.
// The engine reports it when a corrupt frame stops Load; torn-tail
// detection compares the processor's Offset, not this one, against
// the file size.
func (r *frameReader) Offset() int64 { return r.offset }

// Pending reports whether the reader is mid-frame (has buffered bytes
// that do not yet form a complete frame).
func (r *frameReader) Pending() bool { return len(r.buf) > 0 }
