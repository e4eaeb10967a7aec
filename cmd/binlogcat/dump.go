// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/StagsGit/td/binlog"
)

func newDumpCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <path>",
		Short: "Replay a binlog file and print its live events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd, root, args[0])
		},
	}
	return cmd
}

func runDump(cmd *cobra.Command, root *rootOptions, path string) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "# tag=%s\n", root.tag())

	e, err := binlog.Open(binlog.Options{
		Path:  path,
		DBKey: binlog.DBKey{Passphrase: root.Passphrase},
		ReplayCallback: func(ev *binlog.Event) {
			fmt.Fprintf(w, "id=%d type=%d flags=%x offset=%d bytes=%d\n",
				ev.ID, ev.Type, ev.Flags, ev.Offset, len(ev.Data))
		},
	})
	if err != nil {
		if binlog.IsWrongPassword(err) {
			return fmt.Errorf("dump %s: wrong passphrase", path)
		}
		return fmt.Errorf("dump %s: %w", path, err)
	}
	return e.Close()
}
