// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import "time"

// defaultLockTimeout bounds how long Open waits to acquire the
// advisory file lock before reporting FileLocked.
const defaultLockTimeout = 100 * time.Millisecond

// Options configures Open. There is no ambient flag/env parsing inside
// the package; callers (e.g. cmd/binlogcat) build Options from their
// own configuration surface.
type Options struct {
	// Path is the binlog file's path on disk. Required.
	Path string
	// DBKey is the current passphrase. An empty DBKey means the file
	// is opened (or created) unencrypted; an existing encrypted file
	// then opens only if OldDBKey verifies it, and is rewritten
	// unencrypted.
	DBKey DBKey
	// OldDBKey is tried during Load if DBKey's key hash does not match
	// the file's AesCtrEncryption event, to support passphrase
	// rotation without a two-phase rollout.
	OldDBKey DBKey
	// ReplayCallback is called once per live event, in id order,
	// while Open replays the file.
	ReplayCallback func(*Event)
	// DebugCallback, if set, is called once per event read during
	// Load, in file order, regardless of liveness.
	DebugCallback func(*Event)
	// CoalesceWrites enables the optional events buffer: Append stages
	// events in a small in-memory queue and drains it into the engine
	// either when it fills or when Flush/Sync is called.
	CoalesceWrites bool
	// EventBufferLimit overrides the events buffer's capacity when
	// CoalesceWrites is set. Zero uses defaultEventBufferLimit.
	EventBufferLimit int
	// LockTimeout overrides the advisory lock's acquisition deadline.
	// Zero uses defaultLockTimeout (~100ms).
	LockTimeout time.Duration
}

// Info summarizes an Engine's open state.
type Info struct {
	WasCreated    bool
	IsOpened      bool
	WrongPassword bool
	LastID        uint64
}

// Stats reports bare operational counters, useful for tests and for
// cmd/binlogcat's dump/verify subcommands. No metrics-server
// dependency is pulled in for this; nothing in this library
// process-wide-orchestrates a metrics endpoint.
type Stats struct {
	FdSize        int64
	FdEvents      int64
	TotalLiveSize int64
	LastID        uint64
	ReindexCount  int64
}

type encryptionType int

const (
	encryptionNone encryptionType = iota
	encryptionAesCtr
)

type engineState int

const (
	stateLoad engineState = iota
	stateRun
	stateReindex
)
