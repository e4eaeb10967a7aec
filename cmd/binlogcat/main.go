// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command binlogcat inspects binlog files from the command line: it
// can replay and print their live events, verify their integrity, and
// build a queryable side index of a file's event ids and offsets.
package main

import (
	"fmt"
	"os"

	"github.com/StagsGit/td/log"
)

func main() {
	log.AddFlags()
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
