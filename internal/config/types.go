// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

package config

import "fmt"

// MaxTreeDepth is the maximum recursion depth below the root allowed
// for an ExchangeTable tree.
const MaxTreeDepth = 2

// ExchangeTable is one node of a recursive tree describing a source
// table, its joins to its parent, and its nested children. The root
// node of a binding's tree has no Join and no parent.
type ExchangeTable struct {
	Schema string `koanf:"schema"`
	Name   string `koanf:"name"`
	Alias  string `koanf:"alias"`

	// KeyFieldName is the primary key column used for joins and for
	// ordering tied tracked values. Falls back to SQLDBSettings.KeyFieldName
	// when empty.
	KeyFieldName string `koanf:"key_field_name"`

	// Fields is the ordered list of columns selected from this table.
	Fields []string `koanf:"fields"`

	// Aliases maps a column name to its output alias.
	Aliases map[string]string `koanf:"aliases"`

	// Join maps this table's column -> parent table's column expressing
	// the foreign-key join. Empty only for the root of a tree.
	Join map[string]string `koanf:"join"`

	// FieldActualStateName, if non-empty, names the column on this
	// table that is a tracked field (a monotonically non-decreasing
	// change timestamp).
	FieldActualStateName string `koanf:"field_actual_state_name"`

	// Group, if non-empty, means this node's rows are aggregated into
	// an array (single field) or array of objects (multiple fields)
	// under this alias in the parent's document.
	Group string `koanf:"group"`

	// Children is the ordered list of nested ExchangeTable nodes.
	Children []*ExchangeTable `koanf:"children"`

	// CompareFieldActualWithParentQuery, when explicitly false, opts
	// this node OUT of an ancestor's cascade gate (nil means "inherit").
	CompareFieldActualWithParentQuery *bool `koanf:"compare_field_actual_with_parent_query"`

	// CompareFieldActualForChildQueries, when true, makes the tracked
	// subquery of every descendant that hasn't opted out require
	// `child.tracked > root.tracked`.
	CompareFieldActualForChildQueries *bool `koanf:"compare_field_actual_for_child_queries"`
}

// TableAlias returns the name used to address this table in generated SQL.
func (t *ExchangeTable) TableAlias() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// FieldAlias returns the output alias for field, given this table's
// configured Aliases map, falling back to "<table_alias>__<field>".
func (t *ExchangeTable) FieldAlias(field string) string {
	if alias, ok := t.Aliases[field]; ok {
		return alias
	}
	return fmt.Sprintf("%s__%s", t.TableAlias(), field)
}

// KeyField resolves this node's key field, falling back to def when unset.
func (t *ExchangeTable) KeyField(def string) string {
	if t.KeyFieldName != "" {
		return t.KeyFieldName
	}
	return def
}

// Validate recursively checks tree-shape invariants that the query
// builder otherwise assumes silently:
//   - depth does not exceed MaxTreeDepth below the root
//   - every non-root node has a non-empty Join
//   - a Group with more than one field requires every grouped field to
//     carry an explicit alias, since the JSON object key comes from it
func (t *ExchangeTable) Validate() error {
	return t.validate(0, true)
}

func (t *ExchangeTable) validate(depth int, isRoot bool) error {
	if !isRoot && len(t.Join) == 0 {
		return fmt.Errorf("exchange table %q: non-root table must declare a join", t.TableAlias())
	}
	if depth > MaxTreeDepth {
		return fmt.Errorf("exchange table %q: tree depth %d exceeds maximum of %d", t.TableAlias(), depth, MaxTreeDepth)
	}
	if t.Group != "" && len(t.Fields) > 1 {
		for _, f := range t.Fields {
			if _, ok := t.Aliases[f]; !ok {
				return fmt.Errorf("exchange table %q: grouped field %q needs an explicit alias for its json key", t.TableAlias(), f)
			}
		}
	}
	for _, child := range t.Children {
		if err := child.validate(depth+1, false); err != nil {
			return err
		}
	}
	return nil
}

// SQLDBSettings carries the source database's default schema, default
// key field name, and optional paging window / outer row cap.
type SQLDBSettings struct {
	DefaultSchema      string `koanf:"default_schema"`
	KeyFieldName       string `koanf:"key_field_name"`
	QueryEntriesLimit  *int   `koanf:"query_entries_limit"`
}

// EtlExchange binds one search index to one root ExchangeTable, a named
// transform implementation, and the path to its one-shot index mapping.
type EtlExchange struct {
	ElasticIndex   string         `koanf:"elastic_index"`
	TransformClass string         `koanf:"transform_class"`
	MappingFile    string         `koanf:"mapping_file"`
	Table          *ExchangeTable `koanf:"table"`
}

// EtlSettings is the full declarative bindings document.
type EtlSettings struct {
	EtlBatchSize          int            `koanf:"etl_batch_size"`
	SQLDB                 SQLDBSettings  `koanf:"sql_db"`
	BindingsElasticToSQL  []*EtlExchange `koanf:"bindings_elastic_to_sql"`
}

// Validate checks every binding's tree and rejects configuration-level
// mistakes at boot rather than as a runtime panic mid-cycle.
func (s *EtlSettings) Validate() error {
	if s.EtlBatchSize <= 0 {
		return fmt.Errorf("etl_batch_size must be positive, got %d", s.EtlBatchSize)
	}
	if len(s.BindingsElasticToSQL) == 0 {
		return fmt.Errorf("bindings_elastic_to_sql must declare at least one binding")
	}
	for _, b := range s.BindingsElasticToSQL {
		if b.ElasticIndex == "" {
			return fmt.Errorf("binding missing elastic_index")
		}
		if b.Table == nil {
			return fmt.Errorf("binding %q missing root table", b.ElasticIndex)
		}
		if err := b.Table.Validate(); err != nil {
			return fmt.Errorf("binding %q: %w", b.ElasticIndex, err)
		}
	}
	return nil
}
