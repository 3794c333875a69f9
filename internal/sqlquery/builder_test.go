// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

package sqlquery

import (
	"strings"
	"testing"

	"github.com/rezyapkin/filmetl/internal/config"
)

func filmTree() *config.ExchangeTable {
	return &config.ExchangeTable{
		Schema:               "content",
		Name:                 "film_work",
		Alias:                "fw",
		Fields:               []string{"id", "title", "description", "rating"},
		Aliases:              map[string]string{"id": "id", "rating": "imdb_rating"},
		FieldActualStateName: "modified",
		Children: []*config.ExchangeTable{
			{
				Schema: "content",
				Name:   "genre",
				Alias:  "g",
				Fields: []string{"name"},
				Join:   map[string]string{"film_work_id": "id"},
				Group:  "genre",
			},
			{
				Schema:               "content",
				Name:                 "person",
				Alias:                "pn",
				Fields:               []string{"id", "full_name", "role"},
				Aliases:              map[string]string{"id": "person_id", "full_name": "name", "role": "role"},
				Join:                 map[string]string{"person_id": "id"},
				Group:                "persons",
				FieldActualStateName: "modified",
			},
		},
	}
}

func TestTrackedFields_DiscoversRootAndChild(t *testing.T) {
	b := New(filmTree(), config.SQLDBSettings{DefaultSchema: "content", KeyFieldName: "id"})
	fields, err := b.TrackedFields()
	if err != nil {
		t.Fatalf("TrackedFields() error = %v", err)
	}
	if _, ok := fields["fw.modified"]; !ok {
		t.Errorf("expected tracked field fw.modified, got %v", keysOf(fields))
	}
	if _, ok := fields["pn.modified"]; !ok {
		t.Errorf("expected tracked field pn.modified, got %v", keysOf(fields))
	}
}

func TestTrackedQuery_Render_FirstRunBindsOnlyOffset(t *testing.T) {
	b := New(filmTree(), config.SQLDBSettings{DefaultSchema: "content", KeyFieldName: "id", QueryEntriesLimit: intPtr(100)})
	fields, err := b.TrackedFields()
	if err != nil {
		t.Fatalf("TrackedFields() error = %v", err)
	}

	q := fields["fw.modified"]
	sql, args := q.Render(nil, 0)
	if len(args) != 1 || args[0] != 0 {
		t.Errorf("expected exactly one bound arg [0] on first run, got %v", args)
	}
	if !strings.Contains(sql, "IS NOT NULL") {
		t.Errorf("expected IS NOT NULL sentinel resolved in sql:\n%s", sql)
	}
	if strings.Contains(sql, "/*CHANGE*/") {
		t.Errorf("sentinel comment leaked into rendered sql:\n%s", sql)
	}
	if !strings.Contains(sql, "LIMIT 100 OFFSET $1") {
		t.Errorf("expected subquery windowed by query_entries_limit with bound offset:\n%s", sql)
	}
}

func TestTrackedQuery_Render_ResumedRunBindsValueAndOffset(t *testing.T) {
	b := New(filmTree(), config.SQLDBSettings{DefaultSchema: "content", KeyFieldName: "id", QueryEntriesLimit: intPtr(100)})
	fields, err := b.TrackedFields()
	if err != nil {
		t.Fatalf("TrackedFields() error = %v", err)
	}

	q := fields["fw.modified"]
	prior := "2026-01-01T00:00:00Z"

	sql, args := q.Render(&prior, 25)
	if len(args) != 2 || args[0] != prior || args[1] != 25 {
		t.Errorf("expected bound args [%q, 25], got %v", prior, args)
	}
	if !strings.Contains(sql, ">= $1") {
		t.Errorf("expected >= $1 predicate for mid-tie-group resume, got sql:\n%s", sql)
	}
	if !strings.Contains(sql, "LIMIT 100 OFFSET $2") {
		t.Errorf("expected subquery windowed by query_entries_limit with bound offset $2:\n%s", sql)
	}

	sql, args = q.Render(&prior, 0)
	if len(args) != 2 || args[1] != 0 {
		t.Errorf("expected two bound args with offset 0, got %v", args)
	}
	if !strings.Contains(sql, "> $1") || strings.Contains(sql, ">= $1") {
		t.Errorf("expected strict > $1 predicate when offset is 0, got sql:\n%s", sql)
	}
}

func TestTrackedQuery_Render_DefaultQueryEntriesLimitWhenUnconfigured(t *testing.T) {
	b := New(filmTree(), config.SQLDBSettings{DefaultSchema: "content", KeyFieldName: "id"})
	fields, err := b.TrackedFields()
	if err != nil {
		t.Fatalf("TrackedFields() error = %v", err)
	}

	q := fields["fw.modified"]
	sql, args := q.Render(nil, 0)
	if len(args) != 1 {
		t.Errorf("expected offset to still be bound when query_entries_limit is unset, got %v", args)
	}
	if !strings.Contains(sql, "LIMIT 10000 OFFSET $1") {
		t.Errorf("expected default query entries limit in subquery window:\n%s", sql)
	}
}

func intPtr(i int) *int { return &i }

func TestGroupFields_SingleFieldUsesArrayAgg(t *testing.T) {
	fields := []fieldPart{{raw: "name", expr: `"g"."name"`, alias: "g__name"}}
	grouped, err := groupFields(fields, "genre")
	if err != nil {
		t.Fatalf("groupFields() error = %v", err)
	}
	if len(grouped) != 1 || !strings.HasPrefix(grouped[0].expr, "array_agg(DISTINCT") {
		t.Errorf("expected single array_agg field, got %+v", grouped)
	}
	if grouped[0].alias != "genre" {
		t.Errorf("alias = %q, want genre", grouped[0].alias)
	}
}

func TestGroupFields_MultiFieldUsesJSONAgg(t *testing.T) {
	fields := []fieldPart{
		{raw: "id", expr: `"pn"."id"`, alias: "person_id"},
		{raw: "full_name", expr: `"pn"."full_name"`, alias: "name"},
	}
	grouped, err := groupFields(fields, "persons")
	if err != nil {
		t.Fatalf("groupFields() error = %v", err)
	}
	if len(grouped) != 1 {
		t.Fatalf("expected one grouped field, got %d", len(grouped))
	}
	if !strings.Contains(grouped[0].expr, "json_agg(DISTINCT jsonb_build_object(") {
		t.Errorf("expected json_agg aggregate, got %s", grouped[0].expr)
	}
	if !strings.Contains(grouped[0].expr, "'person_id'") || !strings.Contains(grouped[0].expr, "'name'") {
		t.Errorf("expected explicit aliases as json keys, got %s", grouped[0].expr)
	}
}

func keysOf(m map[string]*TrackedQuery) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
