package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerAddr = "0x00000000000000000000000000000000000000aa"

func validConfig() Config {
	cfg := Defaults()
	cfg.Owner.Address = ownerAddr
	cfg.Redis.Enabled = false
	return cfg
}

func TestDefaults_AreValidWithOwner(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(100), cfg.Engine.EntryFeeBp)
	assert.Equal(t, uint64(50), cfg.Engine.CreatorFeeBp)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "memory", cfg.Persistence)
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no owner identity", func(c *Config) { c.Owner = OwnerConfig{} }},
		{"bad owner address", func(c *Config) { c.Owner.Address = "nothex" }},
		{"encrypted key without password", func(c *Config) {
			c.Owner = OwnerConfig{EncryptedKeyPath: "/tmp/key.json"}
		}},
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }},
		{"unknown persistence", func(c *Config) { c.Persistence = "sqlite" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"fees exceed denominator", func(c *Config) {
			c.Engine.EntryFeeBp = 9000
			c.Engine.CreatorFeeBp = 2000
		}},
		{"bad min stake", func(c *Config) { c.Engine.MinStake = "-5" }},
		{"postgres without host", func(c *Config) {
			c.Persistence = "postgres"
			c.Postgres.Host = ""
		}},
		{"redis enabled without addr", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Addr = ""
		}},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMinStakeAmount(t *testing.T) {
	ec := EngineConfig{MinStake: "10000000000000000"}
	v, err := ec.MinStakeAmount()
	require.NoError(t, err)
	want, _ := new(big.Int).SetString("10000000000000000", 10)
	assert.Equal(t, want, v)

	ec.MinStake = "not a number"
	_, err = ec.MinStakeAmount()
	assert.Error(t, err)
}

func TestLoad_TOMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"
persistence = "postgres"

[engine]
entry_fee_bp = 200
min_stake = "5000"

[owner]
address = "`+ownerAddr+`"

[archive]
interval = "15m"

[server]
port = 9100
cors_origins = ["https://app.example.com"]
`), 0o600))

	t.Setenv("UPDOWN_ENGINE_ENTRY_FEE_BP", "300")
	t.Setenv("UPDOWN_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("UPDOWN_SERVER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("UPDOWN_MODE", "full")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats TOML, TOML beats defaults.
	assert.Equal(t, uint64(300), cfg.Engine.EntryFeeBp)
	assert.Equal(t, "5000", cfg.Engine.MinStake)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "postgres", cfg.Persistence)
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 15*time.Minute, cfg.Archive.Interval.Duration)

	// Defaults untouched elsewhere.
	assert.Equal(t, uint64(50), cfg.Engine.CreatorFeeBp)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Owner.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "pgpass"
	cfg.Redis.Password = "redispass"
	cfg.S3.SecretKey = "s3secret"
	cfg.Server.APIKey = "apikey"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Owner.PrivateKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original is untouched.
	assert.Equal(t, "deadbeef", cfg.Owner.PrivateKey)

	// Non-secret fields survive.
	assert.Equal(t, cfg.Owner.Address, red.Owner.Address)
	assert.Equal(t, cfg.Server.Port, red.Server.Port)
}
