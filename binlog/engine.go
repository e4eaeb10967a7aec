// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/StagsGit/td/errors"
	"github.com/StagsGit/td/flock"
	"github.com/StagsGit/td/log"
)

// Engine owns an open binlog file exclusively between Open and Close.
// It is single-threaded: the exclusive file lock plus the
// single-owner contract mean Open, Append, Flush, Sync, Close,
// ChangeKey, and reindex all run in the caller's goroutine without
// internal interleaving.
type Engine struct {
	opts Options
	path string

	lock   flock.FileLock
	f      *os.File
	writer *bufferedWriter

	proc  *Processor
	evbuf *eventBuffer

	drainingEvents bool
	pending        []*Event // the Partial group accumulator, owned by the engine

	state    engineState
	encType  encryptionType
	dbKey    DBKey // the passphrase currently used to derive write-side keys
	oldDBKey DBKey
	keySalt  []byte

	dbKeyUsed bool

	fdSize     int64
	fdEvents   int64
	fileOffset int64

	needSync       bool
	needFlushSince time.Time

	reindexCount int64
	info         Info
	closed       bool
}

// Open opens (creating if necessary) the binlog at opts.Path, recovers
// any interrupted reindex, replays live events through
// opts.ReplayCallback, and leaves the engine in the Run state ready
// for Append.
func Open(opts Options) (*Engine, error) {
	if opts.Path == "" {
		return nil, errors.E(errors.Invalid, "binlog: path is required")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = defaultLockTimeout
	}

	// Step 1: a missing path with a surviving .new sidecar means a
	// prior reindex crashed between unlink and rename; recover it.
	if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
		if _, err2 := os.Stat(opts.Path + ".new"); err2 == nil {
			if err3 := os.Rename(opts.Path+".new", opts.Path); err3 != nil {
				return nil, errors.E(errors.IOError, "binlog: recover reindex sidecar", err3)
			}
		}
	}
	wasCreated := false
	if _, err := os.Stat(opts.Path); os.IsNotExist(err) {
		wasCreated = true
	}

	// Step 2: acquire the exclusive advisory lock, bounded by
	// opts.LockTimeout.
	lock := flock.New(opts.Path)
	ctx, cancel := context.WithTimeout(context.Background(), opts.LockTimeout)
	defer cancel()
	if err := lock.Lock(ctx); err != nil {
		return nil, errors.E(errors.FileLocked, "binlog: acquire lock", err)
	}

	f, err := os.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.E(errors.IOError, "binlog: open", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = lock.Unlock()
		_ = f.Close()
		return nil, errors.E(errors.IOError, "binlog: seek", err)
	}

	e := &Engine{
		opts:     opts,
		path:     opts.Path,
		lock:     lock,
		f:        f,
		proc:     NewProcessor(),
		dbKey:    opts.DBKey,
		oldDBKey: opts.OldDBKey,
		state:    stateLoad,
		info:     Info{WasCreated: wasCreated},
	}
	if opts.CoalesceWrites {
		e.evbuf = newEventBuffer(opts.EventBufferLimit)
	}

	if err := e.load(); err != nil {
		_ = lock.Unlock()
		_ = f.Close()
		return nil, err
	}

	needsReindex := false
	switch {
	case e.dbKey.Empty() && e.encType == encryptionAesCtr:
		needsReindex = true
	case !e.dbKey.Empty() && (e.encType == encryptionNone || !e.dbKeyUsed):
		needsReindex = true
	}
	if needsReindex {
		if err := e.doReindex(); err != nil {
			_ = lock.Unlock()
			_ = f.Close()
			return nil, err
		}
	}

	e.info.IsOpened = true
	e.info.LastID = e.proc.LastID()
	return e, nil
}

// load implements step 3-7 of Open: it pulls raw bytes through a
// loadReader, folds decoded events into the processor (installing the
// AES-CTR pipeline when the AesCtrEncryption sentinel is found),
// detects and truncates a torn tail, replays the live set, and wires
// up the write side for Run.
func (e *Engine) load() error {
	lr := newLoadReader(e.f)
	for {
		ev, need, err := lr.fr.Next()
		if err != nil {
			log.Error.Printf("binlog: load: corrupt frame at offset %d: %v", lr.fr.Offset(), err)
			break
		}
		if ev != nil {
			if err := e.foldLoadedEvent(ev, lr); err != nil {
				return err
			}
			if e.info.WrongPassword {
				return errors.E(errors.WrongPassword, "binlog: key hash matched neither db_key nor old_db_key")
			}
			continue
		}
		if err := lr.fill(need); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
	}

	fi, err := e.f.Stat()
	if err != nil {
		return errors.E(errors.IOError, "binlog: stat", err)
	}
	if e.proc.Offset() != fi.Size() {
		if lr.fr.Pending() {
			log.Debug.Printf("binlog: load: dropping %d trailing bytes of an incomplete frame", fi.Size()-e.proc.Offset())
		}
		if err := e.f.Truncate(e.proc.Offset()); err != nil {
			return errors.E(errors.IOError, "binlog: truncate torn tail", err)
		}
		e.dbKeyUsed = false
	}

	e.proc.ForEach(func(ev *Event) {
		if e.opts.ReplayCallback != nil {
			e.opts.ReplayCallback(ev)
		}
	})

	if _, err := e.f.Seek(0, io.SeekEnd); err != nil {
		return errors.E(errors.IOError, "binlog: seek to end", err)
	}
	e.writer = newBufferedWriter(e.f, lr.moveState())
	e.fileOffset = e.proc.Offset()
	e.fdSize = e.fileOffset
	e.state = stateRun
	return nil
}

// foldLoadedEvent handles one event produced during Load: debug
// callback, AesCtrEncryption sentinel handling, or Partial-grouped
// application to the processor.
func (e *Engine) foldLoadedEvent(ev *Event, lr *loadReader) error {
	if e.opts.DebugCallback != nil {
		e.opts.DebugCallback(ev)
	}
	if ev.Type == ServiceTypeAesCtrEncryption {
		return e.installReadEncryption(ev, lr)
	}
	return e.applyGrouped(ev, e.proc.AddEvent)
}

// installReadEncryption verifies the AesCtrEncryption event's key hash
// against db_key, falling back to old_db_key, and installs the
// decrypting pipeline on lr for every subsequent byte.
func (e *Engine) installReadEncryption(ev *Event, lr *loadReader) error {
	enc, err := decodeAesCtrEncryptionEvent(ev.Data)
	if err != nil {
		return err
	}
	key, ok := e.tryKeys(enc)
	if !ok {
		e.info.WrongPassword = true
		e.proc.AddServiceEvent(ev)
		return nil
	}
	if err := lr.installCipher(key, enc.IV); err != nil {
		return err
	}
	e.encType = encryptionAesCtr
	e.keySalt = enc.KeySalt
	e.proc.AddServiceEvent(ev)
	return nil
}

// tryKeys marks db_key as used only when it verifies; a match under
// old_db_key leaves dbKeyUsed false, so Open rewrites the file under
// db_key (or unencrypted, if db_key is empty).
func (e *Engine) tryKeys(enc *aesCtrEncryptionEvent) ([]byte, bool) {
	if !e.dbKey.Empty() {
		key := deriveKey(e.dbKey, enc.KeySalt)
		if keyHashMatches(key, enc.KeyHash) {
			e.dbKeyUsed = true
			return key, true
		}
	}
	if !e.oldDBKey.Empty() {
		key := deriveKey(e.oldDBKey, enc.KeySalt)
		if keyHashMatches(key, enc.KeyHash) {
			return key, true
		}
	}
	return nil, false
}

// applyGrouped implements the Partial-group accumulator: it is owned
// by the engine (not the events buffer), and a group is only handed to
// apply once its closing non-Partial member arrives. A group left open
// when the engine closes (or when Load hits end of file) is simply
// dropped.
func (e *Engine) applyGrouped(ev *Event, apply func(*Event) error) error {
	if ev.Flags&FlagPartial != 0 {
		clone := *ev
		clone.Flags &^= FlagPartial
		e.pending = append(e.pending, &clone)
		return nil
	}
	group := e.pending
	e.pending = nil
	for _, g := range group {
		if err := apply(g); err != nil {
			return err
		}
	}
	return apply(ev)
}

// Append adds ev to the log. If Options.CoalesceWrites is set, ev is
// staged in the events buffer first; otherwise it is applied
// immediately. Append returns the file offset at which ev's frame
// ended once durable in the write buffer (not necessarily on disk
// until Flush/Sync). An event whose frame is not written yet (still
// staged in the events buffer, or a Partial member of an unfinished
// group) gets offset 0.
func (e *Engine) Append(ev *Event) (int64, error) {
	if e.state != stateRun {
		return 0, errors.E(errors.Invalid, "binlog: append requires Run state")
	}
	if ev.Raw == nil {
		ev.Raw = encodeFrame(ev.ID, ev.Type, ev.Flags, ev.Data)
	}
	if e.evbuf != nil {
		if drained := e.evbuf.push(ev); drained != nil {
			if err := e.drainEventBuffer(drained); err != nil {
				return 0, err
			}
		}
	} else if err := e.doAddEvent(ev); err != nil {
		return 0, err
	}
	if err := e.lazyFlush(); err != nil {
		return 0, err
	}
	if err := e.maybeReindex(); err != nil {
		return 0, err
	}
	return ev.Offset, nil
}

func (e *Engine) drainEventBuffer(events []*Event) error {
	if e.drainingEvents {
		return nil
	}
	e.drainingEvents = true
	defer func() { e.drainingEvents = false }()
	for _, staged := range events {
		if err := e.doAddEvent(staged); err != nil {
			return err
		}
	}
	return nil
}

// doAddEvent stages ev through the Partial-group accumulator: Partial
// events join the accumulator, and a completed group (plus the
// closing event) is streamed through doEvent in order.
func (e *Engine) doAddEvent(ev *Event) error {
	return e.applyGrouped(ev, e.doEvent)
}

// doEvent appends the frame to the write buffer, bumps the byte/event
// counters, reconfigures the write cipher if this is the
// AesCtrEncryption sentinel, and (outside Reindex) folds the event
// into the processor.
func (e *Engine) doEvent(ev *Event) error {
	if ev.Raw == nil {
		ev.Raw = encodeFrame(ev.ID, ev.Type, ev.Flags, ev.Data)
	}
	if _, err := e.writer.Write(ev.Raw); err != nil {
		return err
	}
	e.fdSize += int64(len(ev.Raw))
	e.fdEvents++
	e.fileOffset += int64(len(ev.Raw))
	ev.Offset = e.fileOffset
	e.needSync = true

	if ev.Type == ServiceTypeAesCtrEncryption {
		if err := e.installWriteEncryption(ev); err != nil {
			return err
		}
	}
	if e.state != stateReindex && !ev.IsService() {
		return e.proc.AddEvent(ev)
	}
	if ev.IsService() {
		e.proc.AddServiceEvent(ev)
	}
	return nil
}

// installWriteEncryption reinstalls the write-side cipher from the
// key material carried by an AesCtrEncryption event this engine just
// wrote (see resetEncryption): flush what's pending under the old
// pipeline, then splice in the new one so every subsequent byte is
// encrypted under (key, iv).
func (e *Engine) installWriteEncryption(ev *Event) error {
	enc, err := decodeAesCtrEncryptionEvent(ev.Data)
	if err != nil {
		return err
	}
	key := deriveKey(e.dbKey, enc.KeySalt)
	if err := e.writer.Flush(); err != nil {
		return err
	}
	pipeline, err := newStreamPipeline(key, enc.IV)
	if err != nil {
		return err
	}
	e.writer.installPipeline(pipeline)
	e.encType = encryptionAesCtr
	e.keySalt = enc.KeySalt
	return nil
}

// lazyFlush forces a flush if more than 16KiB is staged in the write
// buffer; otherwise it arms an advisory flush
// deadline for the caller to observe via NeedFlush.
func (e *Engine) lazyFlush() error {
	if e.writer.Buffered() > flushSizeWatermark {
		return e.Flush()
	}
	if e.needFlushSince.IsZero() {
		e.needFlushSince = time.Now()
	}
	return nil
}

// maybeReindex applies the compaction trigger thresholds.
func (e *Engine) maybeReindex() error {
	total := e.proc.TotalRawEventsSize()
	if (e.fdSize > 100000 && e.fdSize/5 > total) ||
		(e.fdSize > 500000 && e.fdSize/2 > total) {
		return e.doReindex()
	}
	return nil
}

// Flush drains the events buffer (if any) and the OS write buffer,
// without fsyncing.
func (e *Engine) Flush() error {
	if e.evbuf != nil && !e.evbuf.empty() {
		if err := e.drainEventBuffer(e.evbuf.drain()); err != nil {
			return err
		}
	}
	if err := e.writer.Flush(); err != nil {
		return err
	}
	e.needFlushSince = time.Time{}
	return nil
}

// Sync flushes and fsyncs.
func (e *Engine) Sync() error {
	if err := e.Flush(); err != nil {
		return err
	}
	if err := e.writer.f.Sync(); err != nil {
		return errors.E(errors.IOError, "binlog: fsync", err)
	}
	e.needSync = false
	return nil
}

// NeedFlush reports whether an armed flush deadline has expired,
// advising the caller to call Flush.
func (e *Engine) NeedFlush(grace time.Duration) bool {
	return !e.needFlushSince.IsZero() && time.Since(e.needFlushSince) >= grace
}

// ChangeKey rotates the passphrase used to encrypt new writes. It
// clears the current key salt (a rekey always draws a fresh salt,
// unlike a plain compaction reindex which may reuse it) and triggers
// a reindex so the whole file is rewritten under the new key.
func (e *Engine) ChangeKey(newKey DBKey) error {
	if e.state != stateRun {
		return errors.E(errors.Invalid, "binlog: change key requires Run state")
	}
	e.dbKey = newKey
	e.keySalt = nil
	return e.doReindex()
}

// Close releases the file lock and closes the underlying file. It is
// idempotent: a second call returns nil without touching the lock
// again.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	var syncErr error
	if e.needSync || (e.evbuf != nil && !e.evbuf.empty()) {
		syncErr = e.Sync()
	}
	if e.lock != nil {
		if err := e.lock.Unlock(); err != nil {
			log.Error.Printf("binlog: unlock %s: %v", e.path, err)
		}
	}
	closeErr := e.f.Close()
	e.closed = true
	e.info.IsOpened = false
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Destroy removes both the binlog file and any lingering reindex
// sidecar. The engine must already be closed.
func (e *Engine) Destroy() error {
	if !e.closed {
		return errors.E(errors.Invalid, "binlog: destroy requires a closed engine")
	}
	return destroyFiles(e.path)
}

// CloseAndDestroy closes the engine and then removes its files.
func (e *Engine) CloseAndDestroy() error {
	if err := e.Close(); err != nil {
		return err
	}
	return destroyFiles(e.path)
}

func destroyFiles(path string) error {
	var firstErr error
	for _, p := range []string{path, path + ".new"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = errors.E(errors.IOError, "binlog: destroy", err)
		}
	}
	return firstErr
}

// Stats reports bare operational counters.
func (e *Engine) Stats() Stats {
	return Stats{
		FdSize:        e.fdSize,
		FdEvents:      e.fdEvents,
		TotalLiveSize: e.proc.TotalRawEventsSize(),
		LastID:        e.proc.LastID(),
		ReindexCount:  e.reindexCount,
	}
}

// Info returns a snapshot of the engine's open-state summary.
func (e *Engine) Info() Info { return e.info }

// IsFileLocked reports whether err is (or wraps) a FileLocked error.
func IsFileLocked(err error) bool { return errors.Is(errors.FileLocked, err) }

// IsWrongPassword reports whether err is (or wraps) a WrongPassword
// error.
func IsWrongPassword(err error) bool { return errors.Is(errors.WrongPassword, err) }

// IsCorruption reports whether err is (or wraps) a Corruption error.
func IsCorruption(err error) bool { return errors.Is(errors.Corruption, err) }
