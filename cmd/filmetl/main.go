// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Command filmetl runs the extract-transform-load pipeline that
// replicates PostgreSQL film, genre, and person data into Elasticsearch
// as denormalized documents.
//
// Initialization order: load configuration, initialize logging from it,
// refuse to start a second instance against the same bindings, connect
// to the source database, the checkpoint store, and the search engine,
// then hand everything to a supervised orchestrator under a suture
// tree so a panic inside the orchestrator restarts it, beginning a new
// pass over the bindings, instead of killing the process.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rezyapkin/filmetl/internal/config"
	"github.com/rezyapkin/filmetl/internal/logging"
	"github.com/rezyapkin/filmetl/internal/orchestrator"
	"github.com/rezyapkin/filmetl/internal/pgsource"
	"github.com/rezyapkin/filmetl/internal/procguard"
	"github.com/rezyapkin/filmetl/internal/retrypolicy"
	"github.com/rezyapkin/filmetl/internal/search"
	"github.com/rezyapkin/filmetl/internal/state"
	"github.com/rezyapkin/filmetl/internal/supervisor"
	"github.com/rezyapkin/filmetl/internal/transform"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	logging.Info().Msg("starting filmetl")

	ctx := context.Background()

	running, err := procguard.AlreadyRunning(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("could not check for a running instance, continuing")
	} else if running {
		logging.Fatal().Msg("another instance is already running with the same arguments")
	}

	db, err := pgsource.Connect(ctx, cfg.Postgres, cfg.DBConnectTimeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to source database")
	}
	defer db.Close()

	store, err := state.Connect(ctx, cfg.Redis, cfg.DBConnectTimeout)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to checkpoint store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing checkpoint store")
		}
	}()

	loader, err := search.Connect(cfg.Elastic)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create search engine client")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := loader.Close(closeCtx); err != nil {
			logging.Error().Err(err).Msg("error closing search engine client")
		}
	}()

	registry := transform.NewRegistry()

	retry := retrypolicy.Policy{
		StartSleep: cfg.Retry.StartSleep,
		Factor:     cfg.Retry.Factor,
		Ceiling:    cfg.Retry.Ceiling,
	}

	orc := &orchestrator.Orchestrator{
		DB:       db,
		Store:    store,
		Loader:   loader,
		Registry: registry,
		Settings: cfg.ETL,
		Retry:    retry,
		Pause:    cfg.PauseBetweenRepeatedCycle,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	tree := supervisor.New(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.Add(orc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Int("bindings", len(cfg.ETL.BindingsElasticToSQL)).Msg("starting supervisor tree")
	errCh := tree.ServeBackground(runCtx)

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree stopped with error")
		}
	}

	if unstopped, err := tree.UnstoppedServiceReport(); err != nil {
		logging.Warn().Err(err).Msg("could not build unstopped service report")
	} else if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("some services did not stop within the shutdown timeout")
	}

	logging.Info().Msg("filmetl stopped")
}
