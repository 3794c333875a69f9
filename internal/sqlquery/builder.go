// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package sqlquery synthesizes the parameterized extraction SQL from an
// ExchangeTable tree.
//
// It operates by structural recursion over the tree, accumulating
// fields and joins into plain value structs before ever touching a
// string, to keep unit tests independent of SQL text layout.
package sqlquery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rezyapkin/filmetl/internal/config"
)

// TrackedFieldName is the alias the inline tracked-subquery gives its
// computed timestamp column.
const TrackedFieldName = "_tracked_field"

// TrackedTableName is the alias given to the inline tracked-subquery
// itself when it is joined into the outer query.
const TrackedTableName = "_tracked_table"

// wherePlaceholder is the sentinel Render replaces with "IS NOT NULL",
// "> $1" or ">= $1", depending on the checkpoint.
const wherePlaceholder = "IS NOT NULL /*CHANGE*/"

// defaultQueryEntriesLimit windows the inline tracked subquery when no
// SQLDBSettings.QueryEntriesLimit is configured, so the subquery's
// LIMIT/OFFSET clause — and therefore the offset bind parameter — is
// always present, regardless of configuration.
const defaultQueryEntriesLimit = 10000

// Builder renders the extraction SQL for one EtlExchange's root table.
type Builder struct {
	root     *config.ExchangeTable
	dbSchema string
	// queryLimit, when set, caps the total row count of the outer
	// query regardless of batch size — an optional safety valve for
	// constrained environments, independent of per-call batch paging.
	queryLimit      *int
	defaultKeyField string
}

// New constructs a Builder for root, using db for schema/key-field/paging
// defaults (db may be the zero value, matching "no SQLDBSettings").
func New(root *config.ExchangeTable, db config.SQLDBSettings) *Builder {
	keyField := db.KeyFieldName
	if keyField == "" {
		keyField = "id"
	}
	return &Builder{
		root:            root,
		dbSchema:        db.DefaultSchema,
		queryLimit:      db.QueryEntriesLimit,
		defaultKeyField: keyField,
	}
}

// TrackedQuery is one tracked field's ready-to-render extraction query.
type TrackedQuery struct {
	// FieldFullName is the unquoted "table.column" form used as this
	// query's map key and, unquoted, inside the generated SQL.
	FieldFullName string
	sql           string // contains wherePlaceholder, not yet substituted
}

// Render substitutes the runtime WHERE predicate and the inline tracked
// subquery's OFFSET, returning the final SQL text and its bound
// parameters: exactly one slot, `[offset]`, on a first run, or two,
// `[value, offset]`, on every subsequent run.
//
// Three cases:
//   - priorValue == nil: no checkpoint yet, sentinel becomes
//     "field IS NOT NULL", and offset binds to $1 (first run).
//   - priorValue != nil, offset == 0: the previous cycle consumed every
//     row up to and including priorValue, so resuming is a strict
//     "field > $1", and offset binds to $2.
//   - priorValue != nil, offset > 0: the previous cycle stopped inside
//     a group of tied rows, so resuming includes priorValue again with
//     "field >= $1", and offset (binding to $2) skips that many rows
//     from the start of the window.
func (q *TrackedQuery) Render(priorValue *string, offset int) (sql string, args []any) {
	sql = q.sql

	if priorValue == nil {
		sql = strings.Replace(sql, wherePlaceholder, "IS NOT NULL", 1)
		sql = strings.Replace(sql, "$OFFSET", "$1", 1)
		return sql, []any{offset}
	}

	op := "> $1"
	if offset > 0 {
		op = ">= $1"
	}
	sql = strings.Replace(sql, wherePlaceholder, op, 1)
	sql = strings.Replace(sql, "$OFFSET", "$2", 1)
	return sql, []any{*priorValue, offset}
}

// TrackedFields discovers every tracked field in the tree and returns,
// for each, the fully-built extraction query.
func (b *Builder) TrackedFields() (map[string]*TrackedQuery, error) {
	raw, err := b.trackedFieldsWithRelatedTables(b.root, nil, 0, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*TrackedQuery, len(raw))
	for field, joinSQL := range raw {
		fat, err := b.fieldsAndTables(b.root, nil, 0)
		if err != nil {
			return nil, err
		}
		sql, err := b.render(fat,
			[]string{quotedFullFieldName(TrackedTableName, TrackedFieldName)},
			[]string{joinSQL},
		)
		if err != nil {
			return nil, err
		}
		out[field] = &TrackedQuery{FieldFullName: field, sql: sql}
	}
	return out, nil
}

// --- field/table accumulation ---

type fieldPart struct {
	raw   string // empty once synthesized into an aggregate
	expr  string // full SQL expression
	alias string
}

type tablePart struct {
	tableSQL string
	joinOn   []string // nil for the root table
}

type fieldsAndTables struct {
	fields []fieldPart
	tables []tablePart
}

func (b *Builder) fieldsAndTables(current, parent *config.ExchangeTable, depth int) (fieldsAndTables, error) {
	var result fieldsAndTables
	tableAlias := current.TableAlias()

	for _, field := range current.Fields {
		var alias string
		if parent == nil {
			if a, ok := current.Aliases[field]; ok {
				alias = a
			} else {
				alias = field
			}
		} else {
			alias = current.FieldAlias(field)
		}
		result.fields = append(result.fields, fieldPart{
			raw:   field,
			expr:  quotedFullFieldName(tableAlias, field),
			alias: alias,
		})
	}

	tableSQL, joinOn := b.tableWithJoins(current, parent)
	result.tables = append(result.tables, tablePart{tableSQL: tableSQL, joinOn: joinOn})

	if depth < config.MaxTreeDepth {
		for _, child := range current.Children {
			childResult, err := b.fieldsAndTables(child, current, depth+1)
			if err != nil {
				return fieldsAndTables{}, err
			}
			result.fields = append(result.fields, childResult.fields...)
			result.tables = append(result.tables, childResult.tables...)
		}
	}

	if depth == 1 && current.Group != "" {
		grouped, err := groupFields(result.fields, current.Group)
		if err != nil {
			return fieldsAndTables{}, fmt.Errorf("group table %q: %w", current.TableAlias(), err)
		}
		result.fields = grouped
	}

	return result, nil
}

// groupFields collapses a child node's accumulated fields into a single
// aggregate field under alias: a single
// field becomes array_agg(distinct ...); more than one field becomes a
// json_agg of jsonb_build_object(...), filtered on the last field being
// non-null.
func groupFields(fields []fieldPart, alias string) ([]fieldPart, error) {
	switch {
	case len(fields) == 1:
		f := fields[0]
		agg := fmt.Sprintf("array_agg(DISTINCT %s)", f.expr)
		return []fieldPart{{expr: agg, alias: alias}}, nil
	case len(fields) > 1:
		parts := make([]string, len(fields))
		for i, f := range fields {
			key := f.alias
			if strings.Contains(f.alias, "__") {
				key = f.raw
			}
			parts[i] = fmt.Sprintf("  '%s', %s", key, f.expr)
		}
		last := fields[len(fields)-1]
		agg := fmt.Sprintf(
			"COALESCE(json_agg(DISTINCT jsonb_build_object(\n%s\n)) FILTER (WHERE %s IS NOT NULL), '[]')",
			strings.Join(parts, ",\n"), last.expr,
		)
		return []fieldPart{{expr: agg, alias: alias}}, nil
	default:
		return fields, nil
	}
}

// --- tracked subquery accumulation ---

func (b *Builder) trackedFieldsWithRelatedTables(
	current *config.ExchangeTable,
	parents []*config.ExchangeTable,
	depth int,
	cascadeFromAncestor *bool,
) (map[string]string, error) {
	result := map[string]string{}

	path := make([]*config.ExchangeTable, 0, len(parents)+1)
	path = append(path, parents...)
	path = append(path, current)

	if current.FieldActualStateName != "" {
		fieldFullName := unquotedFullFieldName(current.TableAlias(), current.FieldActualStateName)

		root := path[0]
		keyField := root.KeyField(b.defaultKeyField)
		keyFieldFullName := quotedFullFieldName(root.TableAlias(), keyField)

		var lines []string
		lines = append(lines, fmt.Sprintf(
			"JOIN (\n  SELECT %s AS \"id\", MAX(%s) AS \"%s\"",
			keyFieldFullName, fieldFullName, TrackedFieldName,
		))

		var parent *config.ExchangeTable
		for _, tbl := range path {
			tableSQL, joinOn := b.tableWithJoins(tbl, parent)
			if len(joinOn) > 0 {
				verb := "  FROM"
				if parent != nil {
					verb = "  JOIN"
				}
				lines = append(lines, fmt.Sprintf("%s %s ON %s", verb, tableSQL, strings.Join(joinOn, ", ")))
			} else {
				verb := "  FROM"
				if parent != nil {
					verb = "  JOIN"
				}
				lines = append(lines, fmt.Sprintf("%s %s", verb, tableSQL))
			}
			parent = tbl
		}

		whereStart := ""
		if boolValue(cascadeFromAncestor) &&
			boolValueDefaultTrue(current.CompareFieldActualWithParentQuery) &&
			root.FieldActualStateName != "" {
			rootField := quotedFullFieldName(root.TableAlias(), root.FieldActualStateName)
			whereStart = fmt.Sprintf("%s < %s AND", rootField, fieldFullName)
		}

		lines = append(lines, fmt.Sprintf(
			"  WHERE %s %s %s\n  GROUP BY %s\n  ORDER BY %s, %s",
			whereStart, fieldFullName, wherePlaceholder, keyFieldFullName, TrackedFieldName, keyFieldFullName,
		))
		subqueryLimit := defaultQueryEntriesLimit
		if b.queryLimit != nil {
			subqueryLimit = *b.queryLimit
		}
		lines = append(lines, fmt.Sprintf("  LIMIT %d OFFSET $OFFSET", subqueryLimit))
		lines = append(lines, fmt.Sprintf(
			"  ) AS \"%s\" ON %s = \"%s\".\"id\"",
			TrackedTableName, keyFieldFullName, TrackedTableName,
		))

		result[fieldFullName] = strings.Join(lines, "\n")
	}

	nextCascade := cascadeFromAncestor
	if current.CompareFieldActualForChildQueries != nil {
		nextCascade = current.CompareFieldActualForChildQueries
	}

	if depth < config.MaxTreeDepth {
		for _, child := range current.Children {
			childResult, err := b.trackedFieldsWithRelatedTables(child, path, depth+1, nextCascade)
			if err != nil {
				return nil, err
			}
			for k, v := range childResult {
				result[k] = v
			}
		}
	}

	return result, nil
}

// --- shared rendering helpers ---

func (b *Builder) tableWithJoins(table, parent *config.ExchangeTable) (tableSQL string, joinOn []string) {
	tableSQL = b.fullTableName(table)
	if parent != nil && len(table.Join) > 0 {
		parentAlias := parent.TableAlias()
		tableAlias := table.TableAlias()
		keys := make([]string, 0, len(table.Join))
		for k := range table.Join {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			value := table.Join[key]
			joinOn = append(joinOn, fmt.Sprintf(
				"%s = %s",
				quotedFullFieldName(parentAlias, value),
				quotedFullFieldName(tableAlias, key),
			))
		}
	}
	return tableSQL, joinOn
}

func (b *Builder) fullTableName(table *config.ExchangeTable) string {
	schema := table.Schema
	if schema == "" {
		schema = b.dbSchema
	}
	name := table.Name
	if schema != "" {
		name = fmt.Sprintf("%q.%q", schema, table.Name)
	}
	return fmt.Sprintf("%s AS %q", name, table.TableAlias())
}

func quotedFullFieldName(tableAlias, field string) string {
	return fmt.Sprintf("%q.%q", tableAlias, field)
}

func unquotedFullFieldName(tableAlias, field string) string {
	return fmt.Sprintf("%s.%s", tableAlias, field)
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

// boolValueDefaultTrue treats an unset (nil) pointer as true: the gate
// is only suppressed when a child explicitly opts out
// (compare_field_actual_with_parent_query == false).
func boolValueDefaultTrue(b *bool) bool {
	return b == nil || *b
}

// render assembles the final SELECT statement from an accumulated field
// and table list, plus extra fields/joins the caller wants appended.
func (b *Builder) render(fat fieldsAndTables, addingFields, addingJoin []string) (string, error) {
	tables := make([]string, 0, len(fat.tables)+len(addingJoin))
	for _, t := range fat.tables {
		if len(t.joinOn) == 0 {
			tables = append(tables, t.tableSQL)
		} else {
			tables = append(tables, fmt.Sprintf("LEFT JOIN %s ON (%s)", t.tableSQL, strings.Join(t.joinOn, " AND ")))
		}
	}
	tables = append(tables, addingJoin...)

	fields := make([]string, 0, len(fat.fields)+len(addingFields))
	groupBy := make([]string, 0, len(fat.fields)+len(addingFields))
	groupByNeeded := false
	for _, f := range fat.fields {
		if f.raw != "" || f.alias == "" {
			groupBy = append(groupBy, f.expr)
		} else {
			groupByNeeded = true
		}
		fields = append(fields, fmt.Sprintf("%s AS %q", f.expr, f.alias))
	}
	fields = append(fields, addingFields...)
	groupBy = append(groupBy, addingFields...)

	groupByStr := ""
	if groupByNeeded {
		groupByStr = fmt.Sprintf("GROUP BY\n %s", strings.Join(groupBy, ",\n "))
	}

	sql := fmt.Sprintf("SELECT\n %s\nFROM %s\n%s\n",
		strings.Join(fields, ",\n "), strings.Join(tables, "\n"), groupByStr)

	if b.queryLimit != nil {
		sql += fmt.Sprintf("LIMIT %d", *b.queryLimit)
	}
	return sql, nil
}
