// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	raw := encodeFrame(42, 7, FlagRewrite, []byte("hello"))
	ev, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(42), ev.ID)
	require.Equal(t, int32(7), ev.Type)
	require.Equal(t, FlagRewrite, ev.Flags)
	require.Equal(t, []byte("hello"), ev.Data)
	require.Equal(t, raw, ev.Raw)
}

func TestDecodeFrameChecksumMismatch(t *testing.T) {
	raw := encodeFrame(1, 0, 0, []byte("a"))
	raw[len(raw)-1] ^= 0xff
	_, err := decodeFrame(raw)
	require.True(t, IsCorruption(err))
}

func TestDecodeFrameTooShort(t *testing.T) {
	_, err := decodeFrame(make([]byte, MinEventSize-1))
	require.True(t, IsCorruption(err))
}

func TestEncodeFrameEmptyPayload(t *testing.T) {
	raw := encodeFrame(1, 0, 0, nil)
	require.Len(t, raw, frameOverhead)
	ev, err := decodeFrame(raw)
	require.NoError(t, err)
	require.True(t, ev.IsEmpty())
}
