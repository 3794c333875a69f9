// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EtlBindingsFileEnvVar overrides the path to the TOML bindings document.
const EtlBindingsFileEnvVar = "ETL_BINDINGS_FILE"

// DefaultBindingsPath is searched when EtlBindingsFileEnvVar is unset.
const DefaultBindingsPath = "etl_settings.toml"

// envAliases maps legacy environment variable names onto their koanf
// path, for operators migrating from deployments that set these names
// directly rather than the dotted form.
var envAliases = map[string]string{
	"SQL_HOST":     "postgres.host",
	"SQL_USER":     "postgres.user",
	"SQL_PASSWORD": "postgres.password",
	"SQL_DATABASE": "postgres.database",
	"SQL_PORT":     "postgres.port",

	"ES_HOST": "elastic.host",
	"ES_PORT": "elastic.port",

	"REDIS_HOST":     "redis.host",
	"REDIS_PORT":     "redis.port",
	"REDIS_ETL_DB":   "redis.db",
	"REDIS_PASSWORD": "redis.password",

	"DB_TIMEOUT":                      "db_connect_timeout",
	"PAUSE_BETWEEN_REPEATED_REQUESTS": "pause_between_repeated_requests",
	"CONFIG_DIR":                      "config_dir",

	"LOG_LEVEL":  "logging.level",
	"LOG_PRETTY": "logging.pretty",
}

func envTransformFunc(key string) string {
	if path, ok := envAliases[key]; ok {
		return path
	}
	return strings.ReplaceAll(strings.ToLower(key), "_", ".")
}

// Load reads Config from three layers, lowest to highest priority:
//
//  1. Built-in defaults (defaultConfig).
//  2. The declarative ETL bindings TOML document (tables, joins, tracked
//     fields), loaded under the "etl" key.
//  3. Environment variables, using the alias table above for legacy
//     names and a generic SNAKE_CASE -> dotted.path transform for
//     everything else.
//
// Configuration errors at this stage are fatal.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	bindingsPath := bindingsFilePath()
	if bindingsPath != "" {
		etl := koanf.New(".")
		if err := etl.Load(file.Provider(bindingsPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load etl bindings file %s: %w", bindingsPath, err)
		}
		if err := k.MergeAt(etl, "etl"); err != nil {
			return nil, fmt.Errorf("merge etl bindings file %s: %w", bindingsPath, err)
		}
		if err := k.Set("config_dir", filepath.Dir(bindingsPath)); err != nil {
			return nil, fmt.Errorf("set config_dir: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.ETL.Validate(); err != nil {
		return nil, fmt.Errorf("invalid etl bindings: %w", err)
	}

	// Relative mapping_file paths resolve against config_dir.
	for _, b := range cfg.ETL.BindingsElasticToSQL {
		if b.MappingFile != "" && !filepath.IsAbs(b.MappingFile) {
			b.MappingFile = filepath.Join(cfg.ConfigDir, b.MappingFile)
		}
	}

	return cfg, nil
}

func bindingsFilePath() string {
	if p := os.Getenv(EtlBindingsFileEnvVar); p != "" {
		return p
	}
	if _, err := os.Stat(DefaultBindingsPath); err == nil {
		return DefaultBindingsPath
	}
	return ""
}
