// filmetl - PostgreSQL to Elasticsearch change-data-capture pipeline
// Copyright 2026 Roman Zyapkin
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rezyapkin/filmetl

package config

import "time"

// Config is the fully resolved runtime configuration: environment-driven
// connection settings plus the declarative ETL bindings document.
type Config struct {
	ConfigDir string `koanf:"config_dir"`

	DBConnectTimeout          time.Duration `koanf:"db_connect_timeout"`
	PauseBetweenRepeatedCycle time.Duration `koanf:"pause_between_repeated_requests"`

	Postgres PostgresConfig `koanf:"postgres"`
	Redis    RedisConfig    `koanf:"redis"`
	Elastic  ElasticConfig  `koanf:"elastic"`

	Retry RetryConfig `koanf:"retry"`

	ETL EtlSettings `koanf:"etl"`

	Logging LoggingConfig `koanf:"logging"`
}

// LoggingConfig controls the global zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// PostgresConfig names the source database.
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
}

// RedisConfig names the checkpoint state store.
type RedisConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	DB       int    `koanf:"db"`
	Password string `koanf:"password"`
}

// ElasticConfig names the target search engine.
type ElasticConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// RetryConfig parameterizes internal/retrypolicy.
type RetryConfig struct {
	StartSleep time.Duration `koanf:"start_sleep"`
	Factor     float64       `koanf:"factor"`
	Ceiling    time.Duration `koanf:"ceiling"`
}

// defaultConfig returns a Config with every field set to its documented
// default, mirroring the layering order described in Load's doc comment:
// defaults first, then the etl bindings file, then environment.
func defaultConfig() *Config {
	return &Config{
		DBConnectTimeout:          3 * time.Second,
		PauseBetweenRepeatedCycle: 1 * time.Second,
		Postgres: PostgresConfig{
			Host: "localhost",
			Port: 5432,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
			DB:   0,
		},
		Elastic: ElasticConfig{
			Host: "localhost",
			Port: 9200,
		},
		Retry: RetryConfig{
			StartSleep: 100 * time.Millisecond,
			Factor:     2,
			Ceiling:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
