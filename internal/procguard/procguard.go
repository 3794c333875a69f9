// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package procguard prevents two copies of the pipeline from running
// against the same bindings concurrently, which would race on the same
// Redis checkpoints and double-submit bulk requests.
package procguard

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// AlreadyRunning reports whether another live process shares this
// process's executable and command-line arguments.
func AlreadyRunning(ctx context.Context) (bool, error) {
	self := os.Getpid()
	selfArgs := strings.Join(os.Args, " ")

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return false, fmt.Errorf("enumerate processes: %w", err)
	}

	for _, p := range procs {
		if int(p.Pid) == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			// The process exited or is inaccessible (permissions,
			// zombie) between enumeration and inspection; not a match.
			continue
		}
		if cmdline == selfArgs {
			return true, nil
		}
	}
	return false, nil
}
