// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	"github.com/StagsGit/td/errors"
)

// streamPipeline is the AES-CTR byte-flow that sits between the
// framing codec and the buffered file. It can be spliced onto a
// freshly allocated buffer chain without losing its place in the
// keystream: moveState hands back the live cipher.Stream so the
// pipeline can be reinstalled after a rebuild (Load->Run, Run->Reindex)
// instead of re-deriving key/iv, which would rewind the counter
// against already-written plaintext.
type streamPipeline struct {
	stream cipher.Stream
}

func newStreamPipeline(key, iv []byte) (*streamPipeline, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.E(errors.Corruption, "install cipher key", err)
	}
	if len(iv) != block.BlockSize() {
		return nil, errors.E(errors.Corruption, "wrong iv size for AES-CTR")
	}
	return &streamPipeline{stream: cipher.NewCTR(block, iv)}, nil
}

// pipelineFromState reinstalls a pipeline from a previously extracted
// keystream, continuing rather than restarting it.
func pipelineFromState(stream cipher.Stream) *streamPipeline {
	if stream == nil {
		return nil
	}
	return &streamPipeline{stream: stream}
}

// moveState extracts p's live keystream so it can be handed to
// pipelineFromState on a new buffer chain.
func (p *streamPipeline) moveState() cipher.Stream {
	if p == nil {
		return nil
	}
	return p.stream
}

// reader wraps r so bytes read through it are decrypted. A nil
// pipeline is the identity (cleartext) pipeline.
func (p *streamPipeline) reader(r io.Reader) io.Reader {
	if p == nil {
		return r
	}
	return &cipher.StreamReader{S: p.stream, R: r}
}

// writer wraps w so bytes written through it are encrypted. A nil
// pipeline is the identity (cleartext) pipeline.
func (p *streamPipeline) writer(w io.Writer) io.Writer {
	if p == nil {
		return w
	}
	return &cipher.StreamWriter{S: p.stream, W: w}
}
