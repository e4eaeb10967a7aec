// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

// eventBuffer is the optional short-term write-coalescing stage:
// events staged here have not yet been folded into the engine. It is
// drained whenever it fills or the engine flushes or syncs.
//
// eventBuffer itself is not safe against reentrant draining; the
// engine's own drainingEvents flag guards against a drain triggering
// another drain from inside an append.
type eventBuffer struct {
	pending []*Event
	limit   int
}

// defaultEventBufferLimit bounds how many events accumulate before a
// push forces a drain, independent of any Flush/Sync call.
const defaultEventBufferLimit = 64

func newEventBuffer(limit int) *eventBuffer {
	if limit <= 0 {
		limit = defaultEventBufferLimit
	}
	return &eventBuffer{limit: limit}
}

// push stages e. It returns the buffer's contents (and clears it) if
// the push brought the buffer up to its limit; otherwise it returns nil
// and the event stays staged.
func (b *eventBuffer) push(e *Event) []*Event {
	b.pending = append(b.pending, e)
	if len(b.pending) >= b.limit {
		return b.drain()
	}
	return nil
}

// drain returns and clears every staged event.
func (b *eventBuffer) drain() []*Event {
	if len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = nil
	return out
}

func (b *eventBuffer) empty() bool { return len(b.pending) == 0 }
