// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

// Package state persists per-binding checkpoints in Redis, so a
// restarted pipeline resumes from the last confirmed (tracked value,
// offset) pair instead of re-extracting from scratch.
package state

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rezyapkin/filmetl/internal/config"
)

// storageKey is the single hash every checkpoint field lives under.
const storageKey = "storage"

// countersKey is a sibling hash tracking error counters per tracked
// field, exposed for operators without requiring a metrics backend.
const countersKey = "storage:counters"

// Checkpoint is the resumable cursor for one tracked field: the
// tracked value the next extraction resumes from and how many rows of
// that resumed query it skips.
type Checkpoint struct {
	Value  string
	Offset int
}

// Store is the Redis-backed checkpoint store.
type Store struct {
	client *redis.Client
}

// Connect opens a Redis client against cfg and verifies it with a PING.
func Connect(ctx context.Context, cfg config.RedisConfig, connectTimeout time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// fieldKeyBase formats the shared "<index>_<field_full_name>" prefix
// under which a checkpoint's value and offset each live as their own
// hash field ("..._value", "..._offset").
func fieldKeyBase(index, fieldFullName string) string {
	return index + "_" + fieldFullName
}

// Get returns the checkpoint stored for (index, fieldFullName), and
// false if none exists yet (first run).
func (s *Store) Get(ctx context.Context, index, fieldFullName string) (Checkpoint, bool, error) {
	base := fieldKeyBase(index, fieldFullName)
	res, err := s.client.HMGet(ctx, storageKey, base+"_value", base+"_offset").Result()
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("get checkpoint %s/%s: %w", index, fieldFullName, err)
	}

	value, ok := res[0].(string)
	if !ok || value == "" {
		return Checkpoint{}, false, nil
	}

	offset := 0
	if offsetStr, ok := res[1].(string); ok && offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return Checkpoint{}, false, fmt.Errorf("checkpoint %s/%s has non-numeric offset %q", index, fieldFullName, offsetStr)
		}
	}
	return Checkpoint{Value: value, Offset: offset}, true, nil
}

// Set persists the checkpoint for (index, fieldFullName) as two
// scalar hash fields, "<index>_<field>_value" and
// "<index>_<field>_offset".
func (s *Store) Set(ctx context.Context, index, fieldFullName string, cp Checkpoint) error {
	base := fieldKeyBase(index, fieldFullName)
	fields := map[string]any{
		base + "_value":  cp.Value,
		base + "_offset": strconv.Itoa(cp.Offset),
	}
	if err := s.client.HSet(ctx, storageKey, fields).Err(); err != nil {
		return fmt.Errorf("set checkpoint %s/%s: %w", index, fieldFullName, err)
	}
	return nil
}

// IncrCounter increments an operator-facing counter (e.g. a tracked
// field's failed-cycle count) and returns its new value.
func (s *Store) IncrCounter(ctx context.Context, name string) (int64, error) {
	v, err := s.client.HIncrBy(ctx, countersKey, name, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	return v, nil
}
