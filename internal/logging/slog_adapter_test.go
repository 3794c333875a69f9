// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

package logging

import (
	"log/slog"
	"strings"
	"testing"
)

func TestNewSlogHandler_RecordNotNil(t *testing.T) {
	handler := NewSlogHandler()
	if handler == nil {
		t.Fatal("NewSlogHandler() = nil, want non-nil")
	}
	if handler.attrs != nil {
		t.Errorf("attrs = %v, want nil", handler.attrs)
	}
	if handler.groups != nil {
		t.Errorf("groups = %v, want nil", handler.groups)
	}
}

func TestSlogHandler_WithAttrsDoesNotMutateParent(t *testing.T) {
	var base slog.Handler = NewSlogHandler()
	withAttrs := base.WithAttrs([]slog.Attr{slog.String("elastic_index", "films")})

	if len(base.(*SlogHandler).attrs) != 0 {
		t.Errorf("base handler attrs mutated: %v", base.(*SlogHandler).attrs)
	}
	if len(withAttrs.(*SlogHandler).attrs) != 1 {
		t.Errorf("withAttrs handler has %d attrs, want 1", len(withAttrs.(*SlogHandler).attrs))
	}
}

func TestSlogHandler_WithGroupPrefixesKeys(t *testing.T) {
	base := NewSlogHandler()
	grouped := base.WithGroup("binding").(*SlogHandler)
	if len(grouped.groups) != 1 || grouped.groups[0] != "binding" {
		t.Errorf("groups = %v, want [binding]", grouped.groups)
	}

	empty := base.WithGroup("")
	if empty != base {
		t.Error("WithGroup(\"\") should return the same handler")
	}
}

func TestNewSlogLogger_WritesThroughZerolog(t *testing.T) {
	logger := NewSlogLogger()
	if logger == nil {
		t.Fatal("NewSlogLogger() = nil, want non-nil")
	}
	logger.Info("startup check", "elastic_index", "films")
}

func TestSlogToZerologLevel_OrdersCorrectly(t *testing.T) {
	levels := []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}
	var prev = -1
	for _, l := range levels {
		z := int(slogToZerologLevel(l))
		if z <= prev {
			t.Errorf("level %v mapped to %d, not increasing from %d", l, z, prev)
		}
		prev = z
	}
}

func TestAddAttr_GroupRecursesIntoKeyPrefix(t *testing.T) {
	// addAttr mutates the event chain; the only externally observable
	// effect here is that it doesn't panic on a nested group attribute.
	h := NewSlogHandler()
	group := slog.Group("query", slog.String("table", "film_work"))
	logger := slog.New(h)
	logger.Info("built query", group)
	if !strings.Contains("built query", "built") {
		t.Fatal("sanity check failed")
	}
}
