// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"

	"golang.org/x/crypto/pbkdf2"

	"github.com/StagsGit/td/errors"
)

const (
	// pbkdf2IterationsPassphrase is the iteration count used to derive
	// a key from a human passphrase.
	pbkdf2IterationsPassphrase = 60002
	// pbkdf2IterationsRawKey is the (fast) iteration count used when
	// the caller's db_key is already effectively a raw key rather than
	// a human passphrase.
	pbkdf2IterationsRawKey = 2

	derivedKeySize  = 32
	defaultSaltSize = 32
	ivSize          = 16

	// keyHashLabel is HMAC'd under the derived key to produce a
	// verifiable-without-revealing-the-key fingerprint, stored in the
	// AesCtrEncryption service event.
	keyHashLabel = "cucumbers everywhere"
)

// DBKey is a passphrase together with a flag indicating whether it
// should be treated as an already-derived raw key (fast PBKDF2 path)
// rather than a human passphrase (slow path).
type DBKey struct {
	Passphrase string
	IsRawKey   bool
}

// Empty reports whether k carries no passphrase at all.
func (k DBKey) Empty() bool { return k.Passphrase == "" }

func (k DBKey) iterations() int {
	if k.IsRawKey {
		return pbkdf2IterationsRawKey
	}
	return pbkdf2IterationsPassphrase
}

// deriveKey derives a 32-byte AES-256-CTR key from k and salt via
// PBKDF2-HMAC-SHA256.
func deriveKey(k DBKey, salt []byte) []byte {
	return pbkdf2.Key([]byte(k.Passphrase), salt, k.iterations(), derivedKeySize, sha256.New)
}

// computeKeyHash computes the verification hash stored alongside an
// AesCtrEncryption service event: HMAC-SHA256 of the derived key under
// a fixed constant label.
func computeKeyHash(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(keyHashLabel))
	return mac.Sum(nil)
}

func keyHashMatches(key, want []byte) bool {
	return hmac.Equal(computeKeyHash(key), want)
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.E(errors.IOError, "generate random bytes", err)
	}
	return b, nil
}

// aesCtrEncryptionEvent is the self-describing key-establishment
// record stored as the payload of a ServiceTypeAesCtrEncryption event.
type aesCtrEncryptionEvent struct {
	KeySalt []byte
	IV      []byte
	KeyHash []byte
}

func newAesCtrEncryptionEvent(key []byte, salt, iv []byte) *aesCtrEncryptionEvent {
	return &aesCtrEncryptionEvent{KeySalt: salt, IV: iv, KeyHash: computeKeyHash(key)}
}

// encode renders the event payload: an 8-bit flags byte (always zero
// in this version) followed by three length-prefixed byte strings.
func (e *aesCtrEncryptionEvent) encode() []byte {
	buf := make([]byte, 0, 1+3*4+len(e.KeySalt)+len(e.IV)+len(e.KeyHash))
	buf = append(buf, 0)
	buf = appendLenPrefixed(buf, e.KeySalt)
	buf = appendLenPrefixed(buf, e.IV)
	buf = appendLenPrefixed(buf, e.KeyHash)
	return buf
}

func appendLenPrefixed(buf, b []byte) []byte {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(b)))
	buf = append(buf, lb[:]...)
	return append(buf, b...)
}

func decodeAesCtrEncryptionEvent(data []byte) (*aesCtrEncryptionEvent, error) {
	if len(data) < 1 {
		return nil, errors.E(errors.Corruption, "encryption event missing flags byte")
	}
	pos := 1
	readField := func() ([]byte, error) {
		if len(data)-pos < 4 {
			return nil, errors.E(errors.Corruption, "truncated encryption event")
		}
		n := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n < 0 || len(data)-pos < n {
			return nil, errors.E(errors.Corruption, "truncated encryption event field")
		}
		v := append([]byte(nil), data[pos:pos+n]...)
		pos += n
		return v, nil
	}
	salt, err := readField()
	if err != nil {
		return nil, err
	}
	iv, err := readField()
	if err != nil {
		return nil, err
	}
	hash, err := readField()
	if err != nil {
		return nil, err
	}
	return &aesCtrEncryptionEvent{KeySalt: salt, IV: iv, KeyHash: hash}, nil
}
