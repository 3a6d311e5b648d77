package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ZKORACLE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ZKORACLE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Identity ──
	setStr(&cfg.Identity.PrivateKey, "ZKORACLE_IDENTITY_PRIVATE_KEY")
	setStr(&cfg.Identity.EncryptedKeyPath, "ZKORACLE_IDENTITY_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Identity.KeyPassword, "ZKORACLE_IDENTITY_KEY_PASSWORD")

	// ── Ledger ──
	setStr(&cfg.Ledger.Owner, "ZKORACLE_LEDGER_OWNER")
	setStr(&cfg.Ledger.MinDeposit, "ZKORACLE_LEDGER_MIN_DEPOSIT")
	setDuration(&cfg.Ledger.RequestTimeout, "ZKORACLE_LEDGER_REQUEST_TIMEOUT")
	setInt(&cfg.Ledger.ProofFailureAlertThreshold, "ZKORACLE_LEDGER_PROOF_FAILURE_ALERT_THRESHOLD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ZKORACLE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "ZKORACLE_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ZKORACLE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ZKORACLE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ZKORACLE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ZKORACLE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ZKORACLE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ZKORACLE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ZKORACLE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ZKORACLE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ZKORACLE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ZKORACLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ZKORACLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ZKORACLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ZKORACLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ZKORACLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ZKORACLE_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ZKORACLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ZKORACLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "ZKORACLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ZKORACLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ZKORACLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ZKORACLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ZKORACLE_S3_FORCE_PATH_STYLE")

	// ── ML engine ──
	setStr(&cfg.MLEngine.BaseURL, "ZKORACLE_MLENGINE_BASE_URL")
	setStr(&cfg.MLEngine.APIKey, "ZKORACLE_MLENGINE_API_KEY")
	setStr(&cfg.MLEngine.APISecret, "ZKORACLE_MLENGINE_API_SECRET")

	// ── ZK ──
	setStr(&cfg.ZK.KeyDir, "ZKORACLE_ZK_KEY_DIR")

	// ── Solver ──
	setDuration(&cfg.Solver.PollInterval, "ZKORACLE_SOLVER_POLL_INTERVAL")
	setDuration(&cfg.Solver.LockTTL, "ZKORACLE_SOLVER_LOCK_TTL")
	setDuration(&cfg.Solver.CacheTTL, "ZKORACLE_SOLVER_CACHE_TTL")
	setBool(&cfg.Solver.AlwaysProve, "ZKORACLE_SOLVER_ALWAYS_PROVE")
	setInt(&cfg.Solver.ArchiveRetentionDays, "ZKORACLE_SOLVER_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Solver.ArchiveCron, "ZKORACLE_SOLVER_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ZKORACLE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ZKORACLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ZKORACLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ZKORACLE_SERVER_API_KEY")
	setDuration(&cfg.Server.SignatureMaxSkew, "ZKORACLE_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "ZKORACLE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "ZKORACLE_SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ZKORACLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ZKORACLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ZKORACLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ZKORACLE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ZKORACLE_MODE")
	setStr(&cfg.Storage, "ZKORACLE_STORAGE")
	setStr(&cfg.LogLevel, "ZKORACLE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
