// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

import (
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	Passphrase string
	Tag        string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "binlogcat",
		Short:         "Inspect binlog files",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.Passphrase, "passphrase", "", "db_key passphrase, if the file is encrypted")
	cmd.PersistentFlags().StringVar(&opts.Tag, "tag", "", "run tag printed in dump's header line (defaults to a generated id)")

	cmd.AddCommand(newDumpCommand(opts))
	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newIndexCommand(opts))

	return cmd
}

func (o *rootOptions) tag() string {
	if o.Tag != "" {
		return o.Tag
	}
	return uuid.New().String()
}
