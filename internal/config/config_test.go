package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const ownerHex = "0x00000000000000000000000000000000000aD111"

// validConfig returns defaults patched to pass validation in full mode.
func validConfig() Config {
	cfg := Defaults()
	cfg.Ledger.Owner = ownerHex
	cfg.Identity.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	return cfg
}

func TestDefaultsValidateFullMode(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.Storage = "filesystem"
	cfg.LogLevel = "loud"
	cfg.Ledger.MinDeposit = "-5"
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown mode "bogus"`)
	require.Contains(t, err.Error(), `unknown storage "filesystem"`)
	require.Contains(t, err.Error(), `unknown log_level "loud"`)
	require.Contains(t, err.Error(), "min_deposit")
	require.Contains(t, err.Error(), "redis: addr")
}

func TestValidateRequiresKeyForSolverModes(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "solver"
	cfg.Identity.PrivateKey = ""
	cfg.Identity.EncryptedKeyPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "identity")

	// Server mode can run without a signing identity.
	cfg.Mode = "server"
	require.NoError(t, cfg.Validate())
}

func TestValidateEncryptedKeyNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.PrivateKey = ""
	cfg.Identity.EncryptedKeyPath = "/keys/solver.json"
	cfg.Identity.KeyPassword = ""

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_password")
}

func TestValidateRejectsBadOwner(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Owner = "not-an-address"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "owner")
}

func TestLedgerConfigParsers(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, common.HexToAddress(ownerHex), cfg.Ledger.OwnerAddress())
	require.Equal(t, int64(1000000), cfg.Ledger.MinDepositInt().Int64())
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "server"
storage = "memory"

[ledger]
owner = "`+ownerHex+`"
min_deposit = "2500"
request_timeout = "30m"

[server]
port = 9191

[solver]
poll_interval = "5s"
`), 0o600))

	t.Setenv("ZKORACLE_SERVER_PORT", "9999")
	t.Setenv("ZKORACLE_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("ZKORACLE_SOLVER_ALWAYS_PROVE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	// File values override defaults.
	require.Equal(t, "server", cfg.Mode)
	require.Equal(t, "memory", cfg.Storage)
	require.Equal(t, "2500", cfg.Ledger.MinDeposit)
	require.Equal(t, 30*time.Minute, cfg.Ledger.RequestTimeout.Duration)
	require.Equal(t, 5*time.Second, cfg.Solver.PollInterval.Duration)

	// Env values override the file.
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
	require.True(t, cfg.Solver.AlwaysProve)

	// Untouched sections keep their defaults.
	require.Equal(t, "zkoracle", cfg.Postgres.Database)

	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.S3.SecretKey = "s3-secret"
	cfg.MLEngine.APISecret = "engine-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.TelegramToken = "tg-token"

	red := RedactedConfig(&cfg)

	require.Equal(t, redacted, red.Identity.PrivateKey)
	require.Equal(t, redacted, red.Postgres.Password)
	require.Equal(t, redacted, red.Redis.Password)
	require.Equal(t, redacted, red.S3.SecretKey)
	require.Equal(t, redacted, red.MLEngine.APISecret)
	require.Equal(t, redacted, red.Server.APIKey)
	require.Equal(t, redacted, red.Notify.TelegramToken)

	// Non-secret fields pass through, and the original is untouched.
	require.Equal(t, cfg.Ledger.Owner, red.Ledger.Owner)
	require.Equal(t, "pg-secret", cfg.Postgres.Password)
}
