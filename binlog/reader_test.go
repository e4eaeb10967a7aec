// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameReaderProducesEventsInOrder(t *testing.T) {
	fr := newFrameReader()
	a := encodeFrame(1, 0, 0, []byte("a"))
	b := encodeFrame(2, 0, 0, []byte("bb"))
	fr.Feed(append(append([]byte{}, a...), b...))

	ev, need, err := fr.Next()
	require.NoError(t, err)
	require.Zero(t, need)
	require.Equal(t, uint64(1), ev.ID)
	require.Equal(t, int64(len(a)), fr.Offset())

	ev, need, err = fr.Next()
	require.NoError(t, err)
	require.Zero(t, need)
	require.Equal(t, uint64(2), ev.ID)
	require.Equal(t, int64(len(a)+len(b)), fr.Offset())
}

func TestFrameReaderReportsNeededBytes(t *testing.T) {
	fr := newFrameReader()
	ev, need, err := fr.Next()
	require.NoError(t, err)
	require.Nil(t, ev)
	require.Equal(t, 4, need)

	fr.Feed([]byte{1, 0, 0, 0})
	_, _, err = fr.Next()
	require.Error(t, err) // length 1 is below MinEventSize
	require.True(t, IsCorruption(err))
}

func TestFrameReaderSplitAcrossFeeds(t *testing.T) {
	fr := newFrameReader()
	full := encodeFrame(9, 0, 0, []byte("payload"))
	fr.Feed(full[:3])
	_, need, err := fr.Next()
	require.NoError(t, err)
	require.Positive(t, need)

	fr.Feed(full[3:])
	ev, need, err := fr.Next()
	require.NoError(t, err)
	require.Zero(t, need)
	require.Equal(t, uint64(9), ev.ID)
}

func TestFrameReaderRejectsOversizedLength(t *testing.T) {
	fr := newFrameReader()
	var lenBuf [4]byte
	// A declared length larger than MaxEventSize is corruption even
	// though no such bytes actually follow.
	big := uint32(MaxEventSize) + 1
	lenBuf[0] = byte(big)
	lenBuf[1] = byte(big >> 8)
	lenBuf[2] = byte(big >> 16)
	lenBuf[3] = byte(big >> 24)
	fr.Feed(lenBuf[:])
	_, _, err := fr.Next()
	require.True(t, IsCorruption(err))
}
