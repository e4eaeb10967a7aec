// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamPipelineRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	for i := range iv {
		iv[i] = byte(i + 1)
	}

	enc, err := newStreamPipeline(key, iv)
	require.NoError(t, err)
	var ciphertext bytes.Buffer
	w := enc.writer(&ciphertext)
	_, err = w.Write([]byte("the quick brown fox"))
	require.NoError(t, err)

	dec, err := newStreamPipeline(key, iv)
	require.NoError(t, err)
	r := dec.reader(bytes.NewReader(ciphertext.Bytes()))
	plaintext := make([]byte, ciphertext.Len())
	_, err = r.Read(plaintext)
	require.NoError(t, err)
	require.Equal(t, "the quick brown fox", string(plaintext))
}

func TestMoveStateContinuesKeystream(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 16)
	p1, err := newStreamPipeline(key, iv)
	require.NoError(t, err)

	var out1, out2 bytes.Buffer
	w1 := p1.writer(&out1)
	_, err = w1.Write([]byte("first chunk of plaintext"))
	require.NoError(t, err)

	// Rebuild the pipeline on a new sink, carrying the keystream
	// forward instead of restarting it from counter zero.
	p2 := pipelineFromState(p1.moveState())
	w2 := p2.writer(&out2)
	_, err = w2.Write([]byte("second chunk"))
	require.NoError(t, err)

	// Decrypting the concatenation with a fresh pipeline from (key, iv)
	// must reproduce both chunks in order, proving the counter was
	// never rewound across the rebuild.
	full := append(append([]byte{}, out1.Bytes()...), out2.Bytes()...)
	dec, err := newStreamPipeline(key, iv)
	require.NoError(t, err)
	plaintext := make([]byte, len(full))
	dec.stream.XORKeyStream(plaintext, full)
	require.Equal(t, "first chunk of plaintextsecond chunk", string(plaintext))
}

func TestAesCtrEncryptionEventRoundTrip(t *testing.T) {
	salt, err := randomBytes(defaultSaltSize)
	require.NoError(t, err)
	iv, err := randomBytes(ivSize)
	require.NoError(t, err)
	key := deriveKey(DBKey{Passphrase: "pw"}, salt)
	ev := newAesCtrEncryptionEvent(key, salt, iv)

	decoded, err := decodeAesCtrEncryptionEvent(ev.encode())
	require.NoError(t, err)
	require.Equal(t, salt, decoded.KeySalt)
	require.Equal(t, iv, decoded.IV)
	require.True(t, keyHashMatches(key, decoded.KeyHash))
	require.False(t, keyHashMatches(deriveKey(DBKey{Passphrase: "other"}, salt), decoded.KeyHash))
}

func TestDeriveKeyIterationCounts(t *testing.T) {
	salt := []byte("0123456789abcdef")
	slow := deriveKey(DBKey{Passphrase: "pw"}, salt)
	fast := deriveKey(DBKey{Passphrase: "pw", IsRawKey: true}, salt)
	require.NotEqual(t, slow, fast)
	require.Len(t, slow, derivedKeySize)
}
