package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "keenoracle", cfg.App.Name)
	require.Equal(t, StorageDriverMemory, cfg.Storage.Driver)
	require.Equal(t, "keen_oracle_state", cfg.Storage.Key)
	require.Equal(t, 5*time.Minute, cfg.Engine.EpochDuration)
	require.Equal(t, -10*time.Second, cfg.Scheduler.AggregateOffset)
	require.Equal(t, []string{"BTC/USD", "ETH/USD"}, cfg.Scheduler.Pairs)

	params, err := cfg.EngineParams()
	require.NoError(t, err)
	require.True(t, params.RewardPool.Equal(decimal.NewFromInt(100)))
	require.True(t, params.MinBond.Equal(decimal.NewFromInt(10)))
	require.Equal(t, 95, params.Confidence)
	require.Equal(t, int64(2), params.ParticipationBoost)
	require.Zero(t, params.OutlierTolerancePct)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keen.yaml")
	body := []byte(`
engine:
  reward_pool: "250"
  outlier_tolerance_pct: 2.5
storage:
  driver: bolt
  path: ` + filepath.Join(dir, "state.db") + `
reporter:
  enabled: true
  pairs: "BTC/USD,SOL/USD"
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("KEENORACLE_ENGINE_MIN_BOND", "25")

	cfg, err := Load(path)
	require.NoError(t, err)

	params, err := cfg.EngineParams()
	require.NoError(t, err)
	require.True(t, params.RewardPool.Equal(decimal.NewFromInt(250)))
	require.True(t, params.MinBond.Equal(decimal.NewFromInt(25)))
	require.InDelta(t, 2.5, params.OutlierTolerancePct, 1e-9)
	require.Equal(t, StorageDriverBolt, cfg.Storage.Driver)
	require.Equal(t, []string{"BTC/USD", "SOL/USD"}, cfg.Reporter.Pairs)
}

func validConfig() Config {
	return Config{
		Storage:   StorageConfig{Driver: StorageDriverMemory},
		Scheduler: SchedulerConfig{Enabled: true, Pairs: []string{"BTC/USD"}},
		API:       APIConfig{Enabled: true, Listen: ":8080"},
		Export:    ExportConfig{MaxDataPoints: 10},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Storage.Driver = StorageDriverPostgres }},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "sqlite" }},
		{name: "bad reward pool", mutate: func(c *Config) { c.Engine.RewardPool = "lots" }},
		{name: "zero reward pool", mutate: func(c *Config) { c.Engine.RewardPool = "0" }},
		{name: "negative tolerance", mutate: func(c *Config) { c.Engine.OutlierTolerancePct = -1 }},
		{name: "scheduler without pairs", mutate: func(c *Config) { c.Scheduler.Pairs = nil }},
		{name: "chainlink without rpc", mutate: func(c *Config) {
			c.Reporter = ReporterConfig{Enabled: true, Pairs: []string{"BTC/USD"}, Workers: 1, Source: SourceChainlink}
		}},
		{name: "telegram without token", mutate: func(c *Config) {
			c.Alerting.Telegram = TelegramConfig{Enabled: true, ChatID: "1"}
		}},
		{name: "export points", mutate: func(c *Config) { c.Export.MaxDataPoints = 0 }},
		{name: "aggregate offset at epoch length", mutate: func(c *Config) { c.Scheduler.AggregateOffset = -5 * time.Minute }},
		{name: "aggregate offset inside epoch", mutate: func(c *Config) { c.Scheduler.AggregateOffset = -299 * time.Second }, ok: true},
		{name: "aggregate offset ignored when scheduler off", mutate: func(c *Config) {
			c.Scheduler = SchedulerConfig{AggregateOffset: time.Hour}
		}, ok: true},
		{name: "reporter offset beyond epoch", mutate: func(c *Config) {
			c.Reporter = ReporterConfig{Enabled: true, Pairs: []string{"BTC/USD"}, Workers: 1, Stake: "1", Source: SourceHTTP, URLTemplate: "http://x/{pair}", Offset: 6 * time.Minute}
		}},
		{name: "reporter offset ignored when reporter off", mutate: func(c *Config) { c.Reporter.Offset = time.Hour }, ok: true},
		{name: "negative initial reputation", mutate: func(c *Config) { c.Engine.InitialReputation = int64Ptr(-1) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestLoadRejectsOffsetsOutsideShortEpoch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keen.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  epoch_duration: 10s\n"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "scheduler.aggregate_offset")

	body := "engine:\n  epoch_duration: 10s\nscheduler:\n  aggregate_offset: -2s\nreporter:\n  enabled: true\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	_, err = Load(path)
	require.ErrorContains(t, err, "reporter.offset")

	body = "engine:\n  epoch_duration: 10s\nscheduler:\n  aggregate_offset: -2s\nreporter:\n  enabled: true\n  offset: 3s\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, cfg.Reporter.Offset)
}

func TestEngineParamsExplicitZeroBoost(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.ParticipationBoost = int64Ptr(0)
	params, err := cfg.EngineParams()
	require.NoError(t, err)
	require.Zero(t, params.ParticipationBoost)

	cfg.Engine.ParticipationBoost = nil
	params, err = cfg.EngineParams()
	require.NoError(t, err)
	require.Equal(t, int64(2), params.ParticipationBoost)
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, 10, cfg.ResolveMaxPoints(0))
	require.Equal(t, 3, cfg.ResolveMaxPoints(3))
}
