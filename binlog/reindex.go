// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"os"

	"github.com/StagsGit/td/errors"
	"github.com/StagsGit/td/log"
)

// doReindex atomically rewrites the binlog to contain only live
// events. The `.new` sidecar is the commit point; the rename over the
// original path is the linearization point. A crash between unlink
// and rename is recovered by Open's step 1 on the next process start.
func (e *Engine) doReindex() error {
	if e.state != stateRun {
		return errors.E(errors.Invalid, "binlog: reindex requires Run state")
	}
	e.state = stateReindex

	newPath := e.path + ".new"
	nf, err := os.OpenFile(newPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.E(errors.IOError, "binlog: open reindex sidecar", err)
	}
	oldFile := e.f
	e.f = nf
	e.writer = newBufferedWriter(nf, nil)
	e.fdSize, e.fdEvents, e.fileOffset = 0, 0, 0
	e.needSync = false

	if !e.dbKey.Empty() {
		if err := e.resetEncryption(); err != nil {
			return err
		}
	} else {
		e.encType = encryptionNone
	}

	var streamErr error
	e.proc.ForEach(func(live *Event) {
		if streamErr != nil {
			return
		}
		// The processor is not mutated during Reindex: doEvent, called
		// with state == stateReindex, re-emits the original raw bytes
		// without touching the live set.
		streamErr = e.doEvent(&Event{
			ID:    live.ID,
			Type:  live.Type,
			Flags: live.Flags,
			Data:  live.Data,
			Raw:   live.Raw,
		})
	})
	if streamErr != nil {
		return streamErr
	}

	e.needSync = true
	if err := e.Sync(); err != nil {
		return err
	}

	if err := oldFile.Close(); err != nil {
		log.Error.Printf("binlog: close superseded file: %v", err)
	}
	if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
		return errors.E(errors.IOError, "binlog: unlink old file", err)
	}
	if err := os.Rename(newPath, e.path); err != nil {
		return errors.E(errors.IOError, "binlog: rename reindex sidecar", err)
	}

	e.writer = e.writer.rebuild(e.f)
	e.state = stateRun
	e.reindexCount++
	return nil
}

// resetEncryption constructs and writes a fresh AesCtrEncryption
// event: it reuses the current key salt if one is set (a plain
// compaction reindex with no key change), or draws a fresh one
// otherwise (always the case right after ChangeKey, which clears the
// salt). The iv is always freshly random. Writing the event through
// doEvent triggers installWriteEncryption, switching the write
// pipeline to encrypting mode for everything that follows.
func (e *Engine) resetEncryption() error {
	salt := e.keySalt
	if len(salt) == 0 {
		s, err := randomBytes(defaultSaltSize)
		if err != nil {
			return err
		}
		salt = s
	}
	iv, err := randomBytes(ivSize)
	if err != nil {
		return err
	}
	key := deriveKey(e.dbKey, salt)
	enc := newAesCtrEncryptionEvent(key, salt, iv)
	data := enc.encode()
	ev := &Event{ID: 0, Type: ServiceTypeAesCtrEncryption, Flags: 0, Data: data}
	ev.Raw = encodeFrame(ev.ID, ev.Type, ev.Flags, data)
	return e.doEvent(ev)
}
