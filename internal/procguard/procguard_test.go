// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

package procguard

import (
	"context"
	"testing"
)

func TestAlreadyRunning_FalseForSoleInstance(t *testing.T) {
	running, err := AlreadyRunning(context.Background())
	if err != nil {
		t.Fatalf("AlreadyRunning() error = %v", err)
	}
	if running {
		t.Error("expected no duplicate instance to be detected in a test process")
	}
}
