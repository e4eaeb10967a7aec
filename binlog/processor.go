// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"sort"

	"github.com/StagsGit/td/errors"
)

// Processor folds a linear on-disk event history into the current
// logical set: a mapping from id to the latest live event, plus
// running counters used by the engine to decide when to reindex and
// to detect a torn tail.
//
// It keeps no separate ordering structure: ForEach sorts live ids
// numerically on each call, which is the correct replay order
// regardless of insertion order (a Rewrite can touch an id out of
// the order it was first inserted in).
type Processor struct {
	live      map[uint64]*Event
	totalSize int64
	offset    int64
	lastID    uint64
	hasEvents bool
}

// NewProcessor returns an empty Processor.
func NewProcessor() *Processor {
	return &Processor{live: make(map[uint64]*Event)}
}

// AddEvent folds e into the live set. Rewrite events with an empty
// payload erase the target id; other Rewrite events replace it.
// Non-Rewrite events must carry ids strictly greater than every id
// previously seen and must not collide with a live id.
func (p *Processor) AddEvent(e *Event) error {
	p.offset += int64(len(e.Raw))

	if e.Flags&FlagRewrite != 0 {
		if prev, ok := p.live[e.ID]; ok {
			p.totalSize -= int64(len(prev.Raw))
		}
		if e.IsEmpty() {
			delete(p.live, e.ID)
			return nil
		}
		p.live[e.ID] = e
		p.totalSize += int64(len(e.Raw))
		if e.ID > p.lastID {
			p.lastID = e.ID
		}
		p.hasEvents = true
		return nil
	}

	if p.hasEvents && e.ID <= p.lastID {
		return errors.E(errors.Corruption, "event id is not strictly increasing")
	}
	if _, ok := p.live[e.ID]; ok {
		return errors.E(errors.Corruption, "duplicate event id")
	}
	p.live[e.ID] = e
	p.totalSize += int64(len(e.Raw))
	p.lastID = e.ID
	p.hasEvents = true
	return nil
}

// AddServiceEvent folds a service event's raw size into Offset()
// without adding it to the live set: service events (encryption
// headers and the like) are consumed by the engine itself and never
// replayed to callers.
func (p *Processor) AddServiceEvent(e *Event) {
	p.offset += int64(len(e.Raw))
}

// ForEach calls f once per live event, in id order.
func (p *Processor) ForEach(f func(*Event)) {
	ids := make([]uint64, 0, len(p.live))
	for id := range p.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		f(p.live[id])
	}
}

// LastID returns the greatest id seen among non-Rewrite events (or the
// greatest id rewritten to, if larger).
func (p *Processor) LastID() uint64 { return p.lastID }

// Offset is the sum of raw sizes of every event folded in, live or
// not; the engine compares it to the actual file size to detect a
// torn tail.
func (p *Processor) Offset() int64 { return p.offset }

// TotalRawEventsSize is the sum of raw sizes of currently live events.
func (p *Processor) TotalRawEventsSize() int64 { return p.totalSize }

// Len returns the number of live events.
func (p *Processor) Len() int { return len(p.live) }
