// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package extract runs one binding's tracked-field query against the
// source database and streams back decoded rows and the checkpoint
// each batch advances to.
package extract

import (
	"context"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rezyapkin/filmetl/internal/sqlquery"
	"github.com/rezyapkin/filmetl/internal/state"
	"github.com/rezyapkin/filmetl/internal/transform"
)

// Querier is the subset of pgsource.Pool that extraction needs,
// narrowed so the package can be tested against a fake.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Batch is one page of rows pulled for a single tracked field, together
// with the checkpoint that should be persisted once the batch's rows
// are durably indexed.
type Batch struct {
	Rows       []transform.Row
	Checkpoint state.Checkpoint
	// Exhausted is true when this batch was the last one available for
	// this tracked field in the current cycle (fewer rows than
	// requested came back).
	Exhausted bool
}

// Stream executes tracked's query exactly once against the starting
// checkpoint (start, hasPrior) and walks the resulting cursor
// batchSize rows at a time — mirroring a server-side cursor fetched in
// fixed-size chunks — yielding one Batch per page until the cursor is
// exhausted or ctx is canceled. The iterator's error value is non-nil
// only on a query or decode failure; the loop stops (without error)
// once a batch comes back exhausted.
func Stream(
	ctx context.Context,
	q Querier,
	tracked *sqlquery.TrackedQuery,
	start state.Checkpoint,
	hasPrior bool,
	batchSize int,
) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		var priorValue *string
		if hasPrior {
			v := start.Value
			priorValue = &v
		}

		sql, args := tracked.Render(priorValue, start.Offset)

		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			yield(Batch{}, fmt.Errorf("extract %s: query: %w", tracked.FieldFullName, err))
			return
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		trackedIdx := trackedFieldIndex(fields)

		checkpoint := start
		for {
			decoded, lastTracked, tieCount, breakValue, err := decodePage(rows, fields, trackedIdx, batchSize)
			if err != nil {
				yield(Batch{}, fmt.Errorf("extract %s: decode: %w", tracked.FieldFullName, err))
				return
			}
			if len(decoded) == 0 {
				yield(Batch{Checkpoint: checkpoint, Exhausted: true}, nil)
				return
			}

			exhausted := len(decoded) < batchSize
			next := nextCheckpoint(checkpoint, lastTracked, breakValue, tieCount, len(decoded), exhausted)

			checkpoint = next
			if !yield(Batch{Rows: decoded, Checkpoint: next, Exhausted: exhausted}, nil) {
				return
			}
			if exhausted {
				return
			}
		}
	}
}

// nextCheckpoint applies the tail/tie-break rule: a short page always
// resets the offset; a full page whose last row is unique resets it
// too (nothing to skip on resume); a full page wholly tied to one
// value keeps the incoming checkpoint value (or takes the tied value
// when there is none yet) and accumulates the offset across batches;
// a full page with a tied trailing group shorter than the page
// advances to the value just before that group and records the
// group's size. The next run's ">= $1 OFFSET $2" counts that offset
// from the earlier value, whose rows come first, so some rows of the
// tied group are delivered again.
func nextCheckpoint(checkpoint state.Checkpoint, lastTracked, breakValue string, tieCount, pageLen int, exhausted bool) state.Checkpoint {
	switch {
	case exhausted, tieCount <= 1:
		return state.Checkpoint{Value: lastTracked, Offset: 0}
	case tieCount == pageLen:
		value := checkpoint.Value
		if value == "" {
			value = lastTracked
		}
		return state.Checkpoint{Value: value, Offset: checkpoint.Offset + tieCount}
	default:
		return state.Checkpoint{Value: breakValue, Offset: tieCount}
	}
}

func trackedFieldIndex(fields []pgconn.FieldDescription) int {
	for i, f := range fields {
		if f.Name == sqlquery.TrackedFieldName {
			return i
		}
	}
	return -1
}

// decodePage reads up to limit rows from the open cursor rows. Besides
// the decoded rows themselves it reports the last row's tracked value,
// the length of the trailing run of rows sharing that value
// (tieCount), and — when that run is shorter than the page — the
// tracked value of the row immediately preceding it (breakValue).
func decodePage(rows pgx.Rows, fields []pgconn.FieldDescription, trackedIdx, limit int) ([]transform.Row, string, int, string, error) {
	var decoded []transform.Row
	var trackedValues []string

	for len(decoded) < limit && rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, "", 0, "", fmt.Errorf("read row values: %w", err)
		}
		row := make(transform.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		decoded = append(decoded, row)

		if trackedIdx >= 0 {
			trackedValues = append(trackedValues, fmt.Sprint(values[trackedIdx]))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, "", 0, "", fmt.Errorf("iterate rows: %w", err)
	}

	if len(trackedValues) == 0 {
		return decoded, "", 0, "", nil
	}

	lastTracked := trackedValues[len(trackedValues)-1]
	tieCount := 0
	for i := len(trackedValues) - 1; i >= 0 && trackedValues[i] == lastTracked; i-- {
		tieCount++
	}
	breakValue := ""
	if tieCount < len(trackedValues) {
		breakValue = trackedValues[len(trackedValues)-tieCount-1]
	}
	return decoded, lastTracked, tieCount, breakValue, nil
}
