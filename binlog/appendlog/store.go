// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package appendlog demonstrates the "higher layers treat it as a
// write-ahead journal" framing a binlog is meant to support: Store is
// a small keyed key/value map whose durability comes entirely from
// replaying a binlog.Engine, in the same snapshot-plus-update-log
// style as stateio.Restore, but riding on binlog's frame format
// instead of stateio's own.
package appendlog

import (
	"sync"

	"github.com/StagsGit/td/binlog"
	"github.com/StagsGit/td/errors"
	"github.com/StagsGit/td/log"
)

// Options configures a Store. Embedding binlog.Options lets callers
// set Path, DBKey, and the other engine-level knobs directly;
// ReplayCallback is reserved for the Store's own use and is
// overwritten by Open, while DebugCallback is passed through to the
// engine.
type Options struct {
	binlog.Options

	// SnapshotEvery triggers a full-state snapshot record after this
	// many Put calls since the last snapshot. Zero disables periodic
	// snapshotting; callers can still call Snapshot explicitly.
	SnapshotEvery int
}

// Store is a durable string-keyed byte-value map backed by a
// binlog.Engine. It is not safe for concurrent use from multiple
// goroutines without external synchronization beyond what its own
// mutex provides for Store's own methods, matching the engine's own
// single-writer contract.
type Store struct {
	e      *binlog.Engine
	opts   Options
	mu     sync.Mutex
	state  map[string][]byte
	nextID uint64

	putsSinceSnapshot int
}

// Open opens (creating if necessary) the backing binlog and replays
// it into an in-memory state map before returning.
func Open(opts Options) (*Store, error) {
	s := &Store{
		opts:  opts,
		state: make(map[string][]byte),
	}
	engineOpts := opts.Options
	engineOpts.ReplayCallback = s.applyReplayed
	engineOpts.DebugCallback = opts.DebugCallback

	e, err := binlog.Open(engineOpts)
	if err != nil {
		return nil, err
	}
	s.e = e
	return s, nil
}

// applyReplayed folds one record decoded from the binlog into the
// in-memory state during Open. It runs before Store's own mutex has
// any concurrent callers, since binlog.Open replays synchronously
// before returning.
func (s *Store) applyReplayed(ev *binlog.Event) {
	rec, err := decodeRecord(ev.Data)
	if err != nil {
		log.Error.Printf("appendlog: skipping undecodable record id=%d: %v", ev.ID, err)
		return
	}
	if ev.ID > s.nextID {
		s.nextID = ev.ID
	}
	switch rec.Kind {
	case kindSnapshot:
		s.state = rec.State
	case kindUpdate:
		s.state[rec.Key] = rec.Value
	}
}

// Get returns the current value for key, if any.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state[key]
	return v, ok
}

// Put durably records key=value and updates the in-memory state. It
// returns once the record is in the engine's write buffer; call Sync
// for durability across a crash.
func (s *Store) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := encodeUpdate(key, value)
	if err != nil {
		return err
	}
	s.nextID++
	if _, err := s.e.Append(&binlog.Event{ID: s.nextID, Data: data}); err != nil {
		return err
	}
	s.state[key] = value

	if s.opts.SnapshotEvery > 0 {
		s.putsSinceSnapshot++
		if s.putsSinceSnapshot >= s.opts.SnapshotEvery {
			if err := s.snapshotLocked(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Snapshot writes the entire current state as a single record, giving
// the next Open a shorter replay.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() error {
	data, err := encodeSnapshot(s.state)
	if err != nil {
		return err
	}
	s.nextID++
	if _, err := s.e.Append(&binlog.Event{ID: s.nextID, Data: data}); err != nil {
		return err
	}
	s.putsSinceSnapshot = 0
	return nil
}

// Delete clears key's value. Internally this is a Put of a nil value:
// the key stays tracked, so Get still reports ok for it (with a nil
// value, or an empty one once the log has been replayed) and Len
// still counts it.
func (s *Store) Delete(key string) error {
	return s.Put(key, nil)
}

// Len returns the number of keys currently tracked.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state)
}

// Flush flushes the underlying engine's write buffer without fsyncing.
func (s *Store) Flush() error { return s.e.Flush() }

// Sync flushes and fsyncs the underlying engine.
func (s *Store) Sync() error { return s.e.Sync() }

// Close closes the underlying engine.
func (s *Store) Close() error {
	if s.e == nil {
		return errors.E(errors.Invalid, "appendlog: store is not open")
	}
	return s.e.Close()
}
