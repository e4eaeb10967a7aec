// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"bufio"
	"io"
	"os"

	"github.com/StagsGit/td/errors"
)

const (
	readChunkSize     = 4096
	writeBufferSize   = 64 << 10
	flushSizeWatermark = 16 << 10
)

// bufferedWriter fronts an OS file with an in-memory chained write
// buffer, flushed explicitly, with an AES-CTR pipeline that can be
// spliced in front of it without losing keystream continuity.
type bufferedWriter struct {
	f        *os.File
	bw       *bufio.Writer
	pipeline *streamPipeline
	written  int64 // bytes accepted by Write since this chain was built
}

func newBufferedWriter(f *os.File, pipeline *streamPipeline) *bufferedWriter {
	w := &bufferedWriter{f: f, pipeline: pipeline}
	w.bw = bufio.NewWriterSize(pipeline.writer(f), writeBufferSize)
	return w
}

// Write buffers p, encrypting it lazily (on Flush) if a pipeline is
// installed.
func (w *bufferedWriter) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	w.written += int64(n)
	if err != nil {
		return n, errors.E(errors.IOError, "buffered write", err)
	}
	return n, nil
}

// Buffered reports how many bytes are staged but not yet flushed to
// the OS file.
func (w *bufferedWriter) Buffered() int { return w.bw.Buffered() }

// Flush drains the in-memory write buffer to the OS file (through the
// cipher pipeline, if any). It does not fsync.
func (w *bufferedWriter) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return errors.E(errors.IOError, "flush", err)
	}
	return nil
}

// Sync flushes and then fsyncs the underlying file.
func (w *bufferedWriter) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.f.Sync(); err != nil {
		return errors.E(errors.IOError, "fsync", err)
	}
	return nil
}

// installPipeline splices p in front of the writer for all bytes
// written from this point on. It must only be called with an empty
// internal buffer (immediately after a Flush), since bufio.Writer
// cannot retroactively re-target already-buffered bytes.
func (w *bufferedWriter) installPipeline(p *streamPipeline) {
	w.pipeline = p
	w.bw = bufio.NewWriterSize(p.writer(w.f), writeBufferSize)
}

// rebuild constructs a fresh bufferedWriter over f, continuing the
// keystream of the prior chain's pipeline (moveState) rather than
// re-deriving key/iv, so buffer-chain rebuilds across Load->Run and
// Run->Reindex transitions never rewind the CTR counter against
// already-written plaintext.
func (w *bufferedWriter) rebuild(f *os.File) *bufferedWriter {
	return newBufferedWriter(f, pipelineFromState(w.pipeline.moveState()))
}

// loadReader drives the framing codec's read side during Load: it
// pulls raw bytes from the file in >=4096-byte chunks (or more, if the
// reader demands it), decrypts them once a cipher pipeline has been
// installed, and feeds the result to a frameReader.
//
// The AesCtrEncryption service event is stored in cleartext; every
// byte after its frame is ciphertext. Because a single file read may
// span that boundary, installCipher retroactively decrypts whatever
// plaintext-looking bytes are still sitting undigested in the
// frameReader's buffer (they are, in fact, unread ciphertext) before
// switching future reads to decrypt-on-arrival.
type loadReader struct {
	f  *os.File
	fr *frameReader
	pl *streamPipeline
}

func newLoadReader(f *os.File) *loadReader {
	return &loadReader{f: f, fr: newFrameReader()}
}

// installCipher installs the AES-CTR pipeline derived for this file's
// encryption event, decrypting any already-buffered-but-unconsumed
// bytes in place.
func (r *loadReader) installCipher(key, iv []byte) error {
	p, err := newStreamPipeline(key, iv)
	if err != nil {
		return err
	}
	if pending := r.fr.buf; len(pending) > 0 {
		p.stream.XORKeyStream(pending, pending)
	}
	r.pl = p
	return nil
}

// fill reads at least need bytes (or hits EOF) from the file and feeds
// them, decrypted if a cipher is installed, to the frame reader.
// It returns io.EOF once the file is exhausted; other errors are
// wrapped as IOError.
func (r *loadReader) fill(need int) error {
	if need < readChunkSize {
		need = readChunkSize
	}
	chunk := make([]byte, need)
	n, err := io.ReadFull(r.f, chunk)
	if n > 0 {
		data := chunk[:n]
		if r.pl != nil {
			r.pl.stream.XORKeyStream(data, data)
		}
		r.fr.Feed(data)
	}
	switch {
	case err == nil, err == io.ErrUnexpectedEOF:
		return nil
	case err == io.EOF:
		return io.EOF
	default:
		return errors.E(errors.IOError, "read", err)
	}
}

// moveState extracts the load-time pipeline's live keystream so the
// engine can continue it on the write side once Load transitions to
// Run.
func (r *loadReader) moveState() *streamPipeline { return r.pl }
