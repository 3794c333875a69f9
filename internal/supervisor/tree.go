// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package supervisor assembles the process's suture.Supervisor tree.
//
// The pipeline has one real runtime concern — the orchestrator's
// extract/transform/load cycle — so the tree has a single child layer
// rather than the layered data/messaging/api split a multi-surface
// service would need. Restarting the orchestrator after a panic
// should never require restarting the whole process, which is what
// a bare goroutine with no supervisor would force.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree tuning.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay float64
	// FailureBackoff is how long to wait once FailureThreshold is exceeded.
	FailureBackoff time.Duration
	// ShutdownTimeout bounds how long Serve waits for services to stop.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig mirrors suture's own built-in defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree is the root supervisor plus the single pipeline-layer child
// that every extract/transform/load service is added to.
type Tree struct {
	root     *suture.Supervisor
	pipeline *suture.Supervisor
}

// New builds a Tree, wiring logger through sutureslog so every
// supervisor lifecycle event lands in the same structured log stream
// as the rest of the pipeline.
func New(slogLogger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	eventHook := (&sutureslog.Handler{Logger: slogLogger}).MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	childSpec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}

	root := suture.New("filmetl", rootSpec)
	pipeline := suture.New("pipeline-layer", childSpec)
	root.Add(pipeline)

	return &Tree{root: root, pipeline: pipeline}
}

// Add registers svc under the pipeline layer.
func (t *Tree) Add(svc suture.Service) suture.ServiceToken {
	return t.pipeline.Add(svc)
}

// ServeBackground starts the tree in a background goroutine, returning
// a channel that receives the terminal error once it stops.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport reports services that did not stop within
// ShutdownTimeout, for diagnosing a slow or stuck shutdown.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
