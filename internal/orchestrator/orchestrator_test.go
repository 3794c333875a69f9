// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezyapkin/filmetl/internal/config"
	"github.com/rezyapkin/filmetl/internal/retrypolicy"
	"github.com/rezyapkin/filmetl/internal/sqlquery"
	"github.com/rezyapkin/filmetl/internal/state"
	"github.com/rezyapkin/filmetl/internal/transform"
)

type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	pos    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return nil }
func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

// fakeDB opens a single cursor over two film rows with distinct
// tracked values, short of the configured batch size, enough to drive
// a single runTrackedField pass to completion in one exhausted batch.
type fakeDB struct{ calls int }

func (d *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.calls++
	fields := []pgconn.FieldDescription{{Name: "id"}, {Name: sqlquery.TrackedFieldName}}
	return &fakeRows{fields: fields, data: [][]any{
		{"1", "2026-01-01T00:00:00Z"},
		{"2", "2026-01-02T00:00:00Z"},
	}}, nil
}

type fakeStore struct {
	checkpoints map[string]state.Checkpoint
	counters    map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{checkpoints: map[string]state.Checkpoint{}, counters: map[string]int64{}}
}

func (s *fakeStore) Get(ctx context.Context, index, fieldFullName string) (state.Checkpoint, bool, error) {
	cp, ok := s.checkpoints[index+"/"+fieldFullName]
	return cp, ok, nil
}

func (s *fakeStore) Set(ctx context.Context, index, fieldFullName string, cp state.Checkpoint) error {
	s.checkpoints[index+"/"+fieldFullName] = cp
	return nil
}

func (s *fakeStore) IncrCounter(ctx context.Context, name string) (int64, error) {
	s.counters[name]++
	return s.counters[name], nil
}

type fakeLoader struct {
	ensured []string
	upserts [][]any
}

func (l *fakeLoader) EnsureIndex(ctx context.Context, index, mappingFile string) error {
	l.ensured = append(l.ensured, index)
	return nil
}

func (l *fakeLoader) Upsert(ctx context.Context, index string, docs []any) error {
	l.upserts = append(l.upserts, docs)
	return nil
}

// stubTransform copies only the row's id into "_id"; it only needs to
// satisfy the orchestrator's requirement that every row produce a
// document.
type stubTransform struct{}

func (stubTransform) Apply(row transform.Row) (any, error) {
	return map[string]any{"_id": row["id"]}, nil
}

func minimalTable() *config.ExchangeTable {
	return &config.ExchangeTable{
		Schema:               "content",
		Name:                 "film_work",
		Alias:                "fw",
		KeyFieldName:         "id",
		Fields:               []string{"id"},
		FieldActualStateName: "modified",
	}
}

func TestOrchestrator_RunBinding_ReachesExhaustionAndPersistsCheckpoint(t *testing.T) {
	registry := transform.NewRegistry()
	registry.Register("StubTransform", stubTransform{})

	store := newFakeStore()
	loader := &fakeLoader{}
	db := &fakeDB{}

	o := &Orchestrator{
		DB:       db,
		Store:    store,
		Loader:   loader,
		Registry: registry,
		Settings: config.EtlSettings{
			EtlBatchSize: 10,
			SQLDB:        config.SQLDBSettings{DefaultSchema: "content", KeyFieldName: "id"},
		},
		Retry: retrypolicy.Policy{StartSleep: time.Millisecond, Factor: 2, Ceiling: time.Millisecond},
	}

	binding := &config.EtlExchange{
		ElasticIndex:   "films",
		TransformClass: "StubTransform",
		Table:          minimalTable(),
	}

	if err := o.runBinding(context.Background(), binding); err != nil {
		t.Fatalf("runBinding() error = %v", err)
	}

	if len(loader.ensured) != 1 || loader.ensured[0] != "films" {
		t.Fatalf("ensured indexes = %v, want [films]", loader.ensured)
	}
	if len(loader.upserts) != 1 || len(loader.upserts[0]) != 2 {
		t.Fatalf("upserts = %v, want one batch of 2 docs", loader.upserts)
	}

	cp, ok := store.checkpoints["films/fw.modified"]
	if !ok {
		t.Fatal("expected a persisted checkpoint")
	}
	if cp.Value != "2026-01-02T00:00:00Z" {
		t.Errorf("checkpoint value = %q, want 2026-01-02T00:00:00Z", cp.Value)
	}
	if db.calls != 1 {
		t.Errorf("db.calls = %d, want 1 (one query opens the cursor for the whole cycle)", db.calls)
	}
}
