// Package config holds process configuration parsed from flags and environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Config is the full process configuration for the scorer.
type Config struct {
	Ops      Server         `group:"ops" namespace:"ops" env-namespace:"SCORER_OPS"`
	Postgres PostgresConfig `group:"postgres" namespace:"postgres" env-namespace:"SCORER_POSTGRES"`
	Redis    RedisConfig    `group:"redis" namespace:"redis" env-namespace:"SCORER_REDIS"`
	Kafka    KafkaConfig    `group:"kafka" namespace:"kafka" env-namespace:"SCORER_KAFKA"`
	Scoring  ScoringConfig  `group:"scoring" namespace:"scoring" env-namespace:"SCORER_SCORING"`

	LogLevel string `long:"log-level" env:"SCORER_LOG_LEVEL" description:"log level (debug, info, warn, error)" default:"info"`
}

// Server captures the ops HTTP server configuration.
type Server struct {
	Addr            string        `long:"addr" env:"ADDR" description:"ops server listen address" default:":2112"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" description:"graceful shutdown timeout" default:"10s"`
}

// PostgresConfig configures the relational store. An empty DSN selects in-memory stores.
type PostgresConfig struct {
	DSN          string        `long:"dsn" env:"DSN" description:"Postgres DSN; empty runs with in-memory stores"`
	MaxOpenConns int           `long:"max-open-conns" env:"MAX_OPEN_CONNS" description:"maximum open connections" default:"25"`
	MaxIdleConns int           `long:"max-idle-conns" env:"MAX_IDLE_CONNS" description:"maximum idle connections" default:"5"`
	ConnMaxLife  time.Duration `long:"conn-max-lifetime" env:"CONN_MAX_LIFETIME" description:"connection max lifetime" default:"30m"`
	TxTimeout    time.Duration `long:"tx-timeout" env:"TX_TIMEOUT" description:"default transaction timeout" default:"10s"`
}

// RedisConfig configures the Redis job queue. An empty URL selects the in-memory queue.
type RedisConfig struct {
	URL          string        `long:"url" env:"URL" description:"Redis URL; empty runs with the in-memory queue"`
	PoolSize     int           `long:"pool-size" env:"POOL_SIZE" description:"connection pool size" default:"10"`
	MinIdleConns int           `long:"min-idle-conns" env:"MIN_IDLE_CONNS" description:"minimum idle connections" default:"2"`
	DialTimeout  time.Duration `long:"dial-timeout" env:"DIAL_TIMEOUT" description:"dial timeout" default:"5s"`
	ReadTimeout  time.Duration `long:"read-timeout" env:"READ_TIMEOUT" description:"read timeout" default:"3s"`
	WriteTimeout time.Duration `long:"write-timeout" env:"WRITE_TIMEOUT" description:"write timeout" default:"3s"`
	QueueKey     string        `long:"queue-key" env:"QUEUE_KEY" description:"list key holding scoring jobs" default:"scorer:jobs"`
}

// KafkaConfig configures the event outbox relay. Empty brokers disable the relay.
type KafkaConfig struct {
	Brokers      []string      `long:"broker" env:"BROKERS" env-delim:"," description:"Kafka seed brokers"`
	Topic        string        `long:"topic" env:"TOPIC" description:"topic receiving score events" default:"scorer.events"`
	Partitions   int32         `long:"partitions" env:"PARTITIONS" description:"partitions when creating the topic" default:"3"`
	PollInterval time.Duration `long:"poll-interval" env:"POLL_INTERVAL" description:"outbox poll interval" default:"1s"`
	BatchSize    int           `long:"batch-size" env:"BATCH_SIZE" description:"outbox rows published per poll" default:"100"`
}

// ScoringConfig configures the scoring pipeline.
type ScoringConfig struct {
	Workers           int      `long:"workers" env:"WORKERS" description:"concurrent scoring workers" default:"4"`
	MaxJobAttempts    int      `long:"max-job-attempts" env:"MAX_JOB_ATTEMPTS" description:"attempts per job on systemic errors" default:"3"`
	RescoreFanOut     int      `long:"rescore-fan-out" env:"RESCORE_FAN_OUT" description:"parallel inline rescoring of affected passports" default:"4"`
	RescoreInline     bool     `long:"rescore-inline" env:"RESCORE_INLINE" description:"rescore affected passports inline instead of queueing"`
	ValidationWorkers int      `long:"validation-workers" env:"VALIDATION_WORKERS" description:"concurrent credential validations per submission" default:"8"`
	TrustedIssuers    []string `long:"trusted-issuer" env:"TRUSTED_ISSUERS" env-delim:"," description:"trusted credential issuer DIDs; empty trusts any issuer"`
}

// Parse reads configuration from args and the environment. ok is false when help was
// requested and the process should exit cleanly.
func Parse(args []string) (cfg Config, ok bool, err error) {
	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return cfg, false, nil
		}
		return cfg, false, fmt.Errorf("parse flags: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, false, err
	}
	return cfg, true, nil
}

// Validate checks cross-field constraints go-flags cannot express.
func (c Config) Validate() error {
	if c.Scoring.Workers < 1 {
		return errors.New("scoring.workers must be at least 1")
	}
	if c.Scoring.MaxJobAttempts < 1 {
		return errors.New("scoring.max-job-attempts must be at least 1")
	}
	if c.Scoring.RescoreFanOut < 1 {
		return errors.New("scoring.rescore-fan-out must be at least 1")
	}
	if len(c.Kafka.Brokers) > 0 && c.Postgres.DSN == "" {
		return errors.New("kafka relay requires postgres: the outbox lives in the database")
	}
	return nil
}
