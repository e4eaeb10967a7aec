// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package appendlog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/StagsGit/td/binlog"
)

func TestStorePutGetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.binlog")

	s, err := Open(Options{Options: binlog.Options{Path: path}})
	require.NoError(t, err)
	require.NoError(t, s.Put("a", []byte("1")))
	require.NoError(t, s.Put("b", []byte("2")))
	require.NoError(t, s.Sync())
	require.NoError(t, s.Close())

	s2, err := Open(Options{Options: binlog.Options{Path: path}})
	require.NoError(t, err)
	v, ok := s2.Get("a")
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)
	v, ok = s2.Get("b")
	require.True(t, ok)
	require.Equal(t, []byte("2"), v)
	require.Equal(t, 2, s2.Len())
	require.NoError(t, s2.Close())
}

func TestStoreLaterPutOverridesEarlier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.binlog")

	s, err := Open(Options{Options: binlog.Options{Path: path}})
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("old")))
	require.NoError(t, s.Put("k", []byte("new")))
	require.NoError(t, s.Close())

	s2, err := Open(Options{Options: binlog.Options{Path: path}})
	require.NoError(t, err)
	v, ok := s2.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte("new"), v)
	require.NoError(t, s2.Close())
}

func TestStoreSnapshotThenFurtherPutsReplayCorrectly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.binlog")

	s, err := Open(Options{Options: binlog.Options{Path: path}})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Put("k", []byte{byte(i)}))
	}
	require.NoError(t, s.Put("other", []byte("baseline")))
	require.NoError(t, s.Snapshot())
	require.NoError(t, s.Put("k", []byte{9}))
	require.NoError(t, s.Close())

	s2, err := Open(Options{Options: binlog.Options{Path: path}})
	require.NoError(t, err)
	v, ok := s2.Get("k")
	require.True(t, ok)
	require.Equal(t, []byte{9}, v)
	v, ok = s2.Get("other")
	require.True(t, ok)
	require.Equal(t, []byte("baseline"), v)
	require.NoError(t, s2.Close())
}

func TestStorePeriodicSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.binlog")

	s, err := Open(Options{
		Options:       binlog.Options{Path: path},
		SnapshotEvery: 3,
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Put("k", []byte{byte(i)}))
	}
	require.Equal(t, 0, s.putsSinceSnapshot)
	require.NoError(t, s.Close())
}

func TestStoreDeleteClearsValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.binlog")

	s, err := Open(Options{Options: binlog.Options{Path: path}})
	require.NoError(t, err)
	require.NoError(t, s.Put("k", []byte("v")))
	require.NoError(t, s.Delete("k"))
	v, ok := s.Get("k")
	require.True(t, ok)
	require.Nil(t, v)
	require.NoError(t, s.Close())
}
