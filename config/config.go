/*
config.go - Process configuration and logger construction

PURPOSE:
  Collects everything cmd/server needs to wire a ledger process.

PRECEDENCE (later wins):
  1. Defaults below
  2. .env file in the working directory (if present)
  3. Process environment
  4. Command-line flags

ENVIRONMENT:
  LEDGER_PORT         HTTP port (default 8080)
  LEDGER_STORE        memory | sqlite | postgres (default sqlite)
  LEDGER_SQLITE_PATH  SQLite file, ":memory:" allowed (default ledger.db)
  DATABASE_URL        PostgreSQL URL, required for LEDGER_STORE=postgres
  KAFKA_BROKERS       Comma-separated brokers; empty disables events
  KAFKA_TOPIC         Event topic (default ledger.transactions)
  LOG_LEVEL           debug | info | warn | error (default info)
  LOG_FORMAT          json | console (default json)
  AUDIT_INTERVAL      Go duration, 0 disables the scheduler (default 0)
  CORS_ORIGINS        Comma-separated allowed origins (default *)

FLAGS:
  -port, -db (SQLite path), -store

SEE ALSO:
  - cmd/server/main.go: Consumer
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port          int
	Store         string
	SQLitePath    string
	DatabaseURL   string
	KafkaBrokers  []string
	KafkaTopic    string
	LogLevel      string
	LogFormat     string
	AuditInterval time.Duration
	CORSOrigins   []string
}

func Default() Config {
	return Config{
		Port:        8080,
		Store:       StoreSQLite,
		SQLitePath:  "ledger.db",
		KafkaTopic:  "ledger.transactions",
		LogLevel:    "info",
		LogFormat:   "json",
		CORSOrigins: []string{"*"},
	}
}

// Load reads .env, the environment and then args (normally os.Args[1:]).
// A missing .env is not an error.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(os.Getenv, args)
}

func load(getenv func(string) string, args []string) (Config, error) {
	cfg := Default()

	if v := strings.TrimSpace(getenv("LEDGER_PORT")); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("LEDGER_PORT: %w", err)
		}
		cfg.Port = port
	}
	if v := strings.TrimSpace(getenv("LEDGER_STORE")); v != "" {
		cfg.Store = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("LEDGER_SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	cfg.DatabaseURL = strings.TrimSpace(getenv("DATABASE_URL"))
	cfg.KafkaBrokers = splitList(getenv("KAFKA_BROKERS"))
	if v := strings.TrimSpace(getenv("KAFKA_TOPIC")); v != "" {
		cfg.KafkaTopic = v
	}
	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("LOG_FORMAT")); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := strings.TrimSpace(getenv("AUDIT_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("AUDIT_INTERVAL: %w", err)
		}
		cfg.AuditInterval = d
	}
	if origins := splitList(getenv("CORS_ORIGINS")); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}

	fs := flag.NewFlagSet("ledger", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, `SQLite database path (":memory:" for in-memory)`)
	fs.StringVar(&cfg.Store, "store", cfg.Store, "store backend: memory, sqlite or postgres")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Store == StoreSQLite && c.SQLitePath == "" {
		return errors.New("sqlite store needs a database path")
	}
	if c.AuditInterval < 0 {
		return fmt.Errorf("negative audit interval %s", c.AuditInterval)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds a JSON production logger, or a human-readable
// development logger when format is "console".
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	return zc.Build()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
