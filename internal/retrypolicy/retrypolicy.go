// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package retrypolicy wraps fallible external calls (source DB, state
// store, search engine) in bounded exponential backoff.
//
// It is modeled as a higher-order wrapper around a single operation
// rather than embedded at every call site: callers
// pass a func() error and get back the same signature, retried.
package retrypolicy

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rezyapkin/filmetl/internal/logging"
)

// Policy parameterizes the retry decorator: start_sleep, factor, ceiling
// terms.
type Policy struct {
	StartSleep time.Duration
	Factor     float64
	Ceiling    time.Duration
	// MaxElapsed bounds total retry time; zero means retry indefinitely
	// transient transport errors are retried indefinitely.
	MaxElapsed time.Duration
}

// DefaultPolicy: start 0.1s, factor 2, ceiling 10s, no elapsed cap.
func DefaultPolicy() Policy {
	return Policy{
		StartSleep: 100 * time.Millisecond,
		Factor:     2,
		Ceiling:    10 * time.Second,
	}
}

func (p Policy) backoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.StartSleep
	eb.Multiplier = p.Factor
	eb.MaxInterval = p.Ceiling
	eb.MaxElapsedTime = p.MaxElapsed
	eb.RandomizationFactor = 0 // deterministic growth, no jitter
	return eb
}

// Do invokes op, retrying on error with exponential backoff until op
// succeeds, ctx is canceled, or MaxElapsed is exceeded. The pause counter
// resets on every independent call, since a fresh backoff.BackOff is
// created per invocation, resetting between independent invocations.
func Do(ctx context.Context, label string, op func() error, p Policy) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err != nil {
			logging.Warn().
				Err(err).
				Str("operation", label).
				Int("attempt", attempt).
				Msg("retrying after failure")
		}
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(p.backoff(), ctx))
	if err != nil && errors.Is(err, context.Canceled) {
		return err
	}
	return err
}
