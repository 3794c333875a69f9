// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package orchestrator runs the outer extract-transform-load cycle as
// a supervised suture.Service: for every configured binding, for every
// tracked field in its table tree, pull batches of changed rows,
// transform them, upsert them, and persist the resulting checkpoint.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rezyapkin/filmetl/internal/config"
	"github.com/rezyapkin/filmetl/internal/extract"
	"github.com/rezyapkin/filmetl/internal/logging"
	"github.com/rezyapkin/filmetl/internal/retrypolicy"
	"github.com/rezyapkin/filmetl/internal/sqlquery"
	"github.com/rezyapkin/filmetl/internal/state"
	"github.com/rezyapkin/filmetl/internal/transform"
)

// Loader is the subset of search.Loader the orchestrator depends on.
type Loader interface {
	EnsureIndex(ctx context.Context, index, mappingFile string) error
	Upsert(ctx context.Context, index string, docs []any) error
}

// Store is the subset of state.Store the orchestrator depends on.
type Store interface {
	Get(ctx context.Context, index, fieldFullName string) (state.Checkpoint, bool, error)
	Set(ctx context.Context, index, fieldFullName string, cp state.Checkpoint) error
	IncrCounter(ctx context.Context, name string) (int64, error)
}

// Orchestrator runs the cycle described above for every binding in
// settings.BindingsElasticToSQL, repeating it every Pause once a full
// pass completes.
type Orchestrator struct {
	DB       extract.Querier
	Store    Store
	Loader   Loader
	Registry *transform.Registry
	Settings config.EtlSettings
	Retry    retrypolicy.Policy
	Pause    time.Duration
}

// String implements suture.Service.
func (o *Orchestrator) String() string { return "orchestrator" }

// Serve implements suture.Service: it loops over every binding until
// ctx is canceled, sleeping Pause between passes.
func (o *Orchestrator) Serve(ctx context.Context) error {
	for {
		for _, binding := range o.Settings.BindingsElasticToSQL {
			if err := o.runBinding(ctx, binding); err != nil {
				logging.Ctx(logging.ContextWithBinding(ctx, binding.ElasticIndex)).
					Error().Err(err).Msg("binding cycle failed")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.Pause):
		}
	}
}

func (o *Orchestrator) runBinding(ctx context.Context, binding *config.EtlExchange) error {
	bindingCtx := logging.ContextWithBinding(ctx, binding.ElasticIndex)
	log := logging.Ctx(bindingCtx)

	if err := binding.Table.Validate(); err != nil {
		return fmt.Errorf("binding %s: %w", binding.ElasticIndex, err)
	}

	xform, err := o.Registry.Get(binding.TransformClass)
	if err != nil {
		return fmt.Errorf("binding %s: %w", binding.ElasticIndex, err)
	}

	if err := retrypolicy.Do(bindingCtx, "ensure_index", func() error {
		return o.Loader.EnsureIndex(bindingCtx, binding.ElasticIndex, binding.MappingFile)
	}, o.Retry); err != nil {
		return fmt.Errorf("binding %s: ensure index: %w", binding.ElasticIndex, err)
	}

	builder := sqlquery.New(binding.Table, o.Settings.SQLDB)
	tracked, err := builder.TrackedFields()
	if err != nil {
		return fmt.Errorf("binding %s: build tracked queries: %w", binding.ElasticIndex, err)
	}

	for fieldName, query := range tracked {
		if err := o.runTrackedField(bindingCtx, binding, xform, query); err != nil {
			log.Error().Err(err).Str("tracked_field", fieldName).Msg("tracked field cycle failed")
			if _, incErr := o.Store.IncrCounter(bindingCtx, binding.ElasticIndex+":"+fieldName+":errors"); incErr != nil {
				log.Warn().Err(incErr).Msg("failed to record error counter")
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) runTrackedField(
	ctx context.Context,
	binding *config.EtlExchange,
	xform transform.Transform,
	query *sqlquery.TrackedQuery,
) error {
	checkpoint, hasPrior, err := o.Store.Get(ctx, binding.ElasticIndex, query.FieldFullName)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	for batch, err := range extract.Stream(ctx, o.DB, query, checkpoint, hasPrior, o.Settings.EtlBatchSize) {
		if err != nil {
			return fmt.Errorf("stream batch: %w", err)
		}
		if len(batch.Rows) == 0 {
			return nil
		}

		docs := make([]any, 0, len(batch.Rows))
		for _, row := range batch.Rows {
			doc, err := xform.Apply(row)
			if err != nil {
				return fmt.Errorf("transform row: %w", err)
			}
			docs = append(docs, doc)
		}

		if err := retrypolicy.Do(ctx, "bulk_upsert", func() error {
			return o.Loader.Upsert(ctx, binding.ElasticIndex, docs)
		}, o.Retry); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}

		if err := o.Store.Set(ctx, binding.ElasticIndex, query.FieldFullName, batch.Checkpoint); err != nil {
			return fmt.Errorf("persist checkpoint: %w", err)
		}

		logging.Ctx(ctx).Info().
			Str("tracked_field", query.FieldFullName).
			Int("rows", len(batch.Rows)).
			Bool("exhausted", batch.Exhausted).
			Msg("batch indexed")
	}
	return nil
}
