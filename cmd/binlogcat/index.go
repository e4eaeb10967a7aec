// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/StagsGit/td/binlog"
)

func newIndexCommand(root *rootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "index <path>",
		Short: "Build a SQLite side index of a binlog file's live event ids and offsets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = args[0] + ".index.sqlite"
			}
			return runIndex(cmd, root, args[0], out)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output SQLite file (default <path>.index.sqlite)")
	return cmd
}

// runIndex is a read-only side index outside the engine's own state:
// the engine itself never keeps a random-access index on disk, so
// rebuilding one costs a full replay every time it's needed.
func runIndex(cmd *cobra.Command, root *rootOptions, path, out string) error {
	_ = os.Remove(out)
	db, err := sql.Open("sqlite", out)
	if err != nil {
		return fmt.Errorf("index %s: open %s: %w", path, out, err)
	}
	defer db.Close()

	if _, err := db.Exec(`CREATE TABLE events (
		id INTEGER PRIMARY KEY,
		type INTEGER NOT NULL,
		flags INTEGER NOT NULL,
		offset INTEGER NOT NULL,
		size INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("index %s: create table: %w", path, err)
	}

	insert, err := db.Prepare(`INSERT INTO events (id, type, flags, offset, size) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index %s: prepare insert: %w", path, err)
	}
	defer insert.Close()

	var insertErr error
	var indexed int
	e, err := binlog.Open(binlog.Options{
		Path:  path,
		DBKey: binlog.DBKey{Passphrase: root.Passphrase},
		ReplayCallback: func(ev *binlog.Event) {
			if insertErr != nil {
				return
			}
			if _, insertErr = insert.Exec(ev.ID, ev.Type, uint32(ev.Flags), ev.Offset, len(ev.Data)); insertErr == nil {
				indexed++
			}
		},
	})
	if err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	defer e.Close()
	if insertErr != nil {
		return fmt.Errorf("index %s: insert: %w", path, insertErr)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: wrote %d live event(s) to %s\n", path, indexed, out)
	return nil
}
