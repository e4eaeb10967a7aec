// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package binlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustEvent(id uint64, flags Flags, data string) *Event {
	raw := encodeFrame(id, 0, flags, []byte(data))
	ev, err := decodeFrame(raw)
	if err != nil {
		panic(err)
	}
	return ev
}

func TestProcessorAddAndForEachOrdersById(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.AddEvent(mustEvent(2, 0, "b")))
	// Only a Rewrite may bring in an id below LastID.
	require.NoError(t, p.AddEvent(mustEvent(1, FlagRewrite, "a")))

	var seen []string
	p.ForEach(func(e *Event) { seen = append(seen, string(e.Data)) })
	require.Equal(t, []string{"a", "b"}, seen)
	require.Equal(t, uint64(2), p.LastID())
}

func TestProcessorRewriteReplaces(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.AddEvent(mustEvent(7, 0, "P1")))
	require.NoError(t, p.AddEvent(mustEvent(7, FlagRewrite, "P2")))

	var seen []string
	p.ForEach(func(e *Event) { seen = append(seen, string(e.Data)) })
	require.Equal(t, []string{"P2"}, seen)
}

func TestProcessorRewriteEmptyErases(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.AddEvent(mustEvent(7, 0, "P1")))
	require.NoError(t, p.AddEvent(mustEvent(7, FlagRewrite, "")))

	require.Equal(t, 0, p.Len())
}

func TestProcessorRejectsDuplicateId(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.AddEvent(mustEvent(1, 0, "a")))
	err := p.AddEvent(mustEvent(1, 0, "a2"))
	require.True(t, IsCorruption(err))
}

func TestProcessorRejectsNonMonotonicId(t *testing.T) {
	p := NewProcessor()
	require.NoError(t, p.AddEvent(mustEvent(5, 0, "a")))
	err := p.AddEvent(mustEvent(3, 0, "b"))
	require.True(t, IsCorruption(err))
}

func TestProcessorTracksOffsetAndTotalSize(t *testing.T) {
	p := NewProcessor()
	e1 := mustEvent(1, 0, "aa")
	e2 := mustEvent(2, 0, "bbbb")
	require.NoError(t, p.AddEvent(e1))
	require.NoError(t, p.AddEvent(e2))
	require.Equal(t, int64(len(e1.Raw)+len(e2.Raw)), p.Offset())
	require.Equal(t, int64(len(e1.Raw)+len(e2.Raw)), p.TotalRawEventsSize())

	require.NoError(t, p.AddEvent(mustEvent(1, FlagRewrite, "")))
	require.Equal(t, int64(len(e2.Raw)), p.TotalRawEventsSize())
}
