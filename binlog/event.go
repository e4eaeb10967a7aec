// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package binlog implements an append-only, optionally encrypted
// binary log. It durably records a stream of events keyed by a
// producer-assigned id, folds rewrite/erase updates into a current
// logical set, and can atomically compact ("reindex") the on-disk
// file to contain only live events without interrupting the append
// stream.
//
// Higher layers treat a binlog as a write-ahead journal: they append
// events, occasionally rewrite or erase earlier ones by id, and on
// startup replay the current logical state via a callback.
package binlog

// Flags is a per-event bitset.
type Flags uint32

const (
	// FlagRewrite marks an event that supersedes the prior live event
	// sharing its id. A Rewrite event with an empty payload erases the
	// prior event instead of replacing it.
	FlagRewrite Flags = 1 << iota
	// FlagPartial marks an event as a prefix member of a logically
	// atomic group; it is not visible to the processor until the
	// following non-Partial event completes the group.
	FlagPartial
)

const (
	// MinEventSize is the smallest legal on-disk frame size, including
	// the length prefix and CRC trailer.
	MinEventSize = 24
	// MaxEventSize bounds a single frame; a declared length outside
	// [MinEventSize, MaxEventSize] is treated as corruption. Sized to
	// comfortably hold multi-megabyte payloads without letting a
	// corrupt length field cause a runaway allocation (see DESIGN.md).
	MaxEventSize = 8 << 20

	// ServiceTypeAesCtrEncryption is the sole service event type
	// defined in this version of the format. Service events carry
	// negative types and are interpreted by the engine rather than
	// forwarded to callers.
	ServiceTypeAesCtrEncryption int32 = -1
)

// Event is the minimum on-disk unit of a binlog.
type Event struct {
	// ID is the monotonically increasing identifier assigned by the
	// producer. It must be unique among non-Rewrite events.
	ID uint64
	// Type is a 32-bit tag. Negative values are reserved service
	// types, interpreted by the engine; non-negative values are
	// opaque to binlog and meaningful only to the caller.
	Type int32
	// Flags is the event's bitset.
	Flags Flags
	// Data is the opaque payload.
	Data []byte
	// Raw is the full framed byte sequence (length, header, payload,
	// CRC) as it appears on disk. It is retained so the engine can
	// re-emit the event verbatim during reindex, without
	// re-serializing it.
	Raw []byte
	// Offset is the file offset at which this event's frame ended.
	// It is assigned on read and is meaningless for events under
	// construction.
	Offset int64
}

// IsService reports whether e is a service event, interpreted by the
// engine rather than forwarded to a caller's replay callback.
func (e *Event) IsService() bool { return e.Type < 0 }

// IsEmpty reports whether e carries no payload. A Rewrite event with
// an empty payload erases the event it targets rather than replacing
// it.
func (e *Event) IsEmpty() bool { return len(e.Data) == 0 }
