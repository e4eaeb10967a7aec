// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/StagsGit/td/binlog"
)

func newVerifyCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <path>",
		Short: "Replay a binlog file and report corruption or a torn tail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd, root, args[0])
		},
	}
	return cmd
}

func runVerify(cmd *cobra.Command, root *rootOptions, path string) error {
	fi, statErr := os.Stat(path)
	if statErr != nil {
		return fmt.Errorf("verify %s: %w", path, statErr)
	}

	var liveCount int
	e, err := binlog.Open(binlog.Options{
		Path:           path,
		DBKey:          binlog.DBKey{Passphrase: root.Passphrase},
		ReplayCallback: func(ev *binlog.Event) { liveCount++ },
	})
	if err != nil {
		if binlog.IsWrongPassword(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: wrong passphrase\n", path)
			return err
		}
		if binlog.IsCorruption(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: corrupt: %v\n", path, err)
			return err
		}
		return fmt.Errorf("verify %s: %w", path, err)
	}
	defer e.Close()

	stats := e.Stats()
	changed := fi.Size() != stats.FdSize
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d live event(s), last_id=%d, size_changed_on_open=%v (torn tail truncation or startup reindex)\n",
		path, liveCount, stats.LastID, changed)
	return nil
}
