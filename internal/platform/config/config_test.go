package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, ok, err := Parse(nil)
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, ":2112", cfg.Ops.Addr)
		assert.Equal(t, 4, cfg.Scoring.Workers)
		assert.Equal(t, 3, cfg.Scoring.MaxJobAttempts)
		assert.Equal(t, 10*time.Second, cfg.Postgres.TxTimeout)
		assert.Equal(t, "scorer:jobs", cfg.Redis.QueueKey)
		assert.Empty(t, cfg.Postgres.DSN)
		assert.Empty(t, cfg.Kafka.Brokers)
	})

	t.Run("flags override defaults", func(t *testing.T) {
		cfg, ok, err := Parse([]string{
			"--scoring.workers=8",
			"--scoring.trusted-issuer=did:key:a",
			"--scoring.trusted-issuer=did:key:b",
			"--log-level=debug",
		})
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, 8, cfg.Scoring.Workers)
		assert.Equal(t, []string{"did:key:a", "did:key:b"}, cfg.Scoring.TrustedIssuers)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("SCORER_SCORING_RESCORE_FAN_OUT", "2")
		t.Setenv("SCORER_REDIS_URL", "redis://localhost:6379/0")

		cfg, ok, err := Parse(nil)
		require.NoError(t, err)
		require.True(t, ok)

		assert.Equal(t, 2, cfg.Scoring.RescoreFanOut)
		assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	})

	t.Run("kafka without postgres is rejected", func(t *testing.T) {
		_, ok, err := Parse([]string{"--kafka.broker=localhost:9092"})
		require.Error(t, err)
		assert.False(t, ok)
	})

	t.Run("invalid worker count", func(t *testing.T) {
		_, _, err := Parse([]string{"--scoring.workers=0"})
		require.Error(t, err)
	})
}
