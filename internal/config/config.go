// Package config defines the top-level configuration for the oracle ledger
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ZKORACLE_* environment
// variables.
type Config struct {
	Identity IdentityConfig `toml:"identity"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	MLEngine MLEngineConfig `toml:"mlengine"`
	ZK       ZKConfig       `toml:"zk"`
	Solver   SolverConfig   `toml:"solver"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	Storage  string         `toml:"storage"` // "postgres" or "memory"
	LogLevel string         `toml:"log_level"`
}

// IdentityConfig holds the secp256k1 key material this instance signs with.
// The solver worker fulfills requests under this identity.
type IdentityConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// LedgerConfig holds the ledger's economic and lifecycle parameters.
type LedgerConfig struct {
	// Owner is the only address allowed to administer the trusted solver set.
	Owner string `toml:"owner"`

	// MinDeposit is the smallest accepted request deposit, as a decimal
	// string in the token's smallest unit.
	MinDeposit string `toml:"min_deposit"`

	// RequestTimeout is how long a request stays fulfillable after creation.
	RequestTimeout duration `toml:"request_timeout"`

	// ProofFailureAlertThreshold is how many consecutive invalid proofs from
	// one solver trigger an operator alert.
	ProofFailureAlertThreshold int `toml:"proof_failure_alert_threshold"`
}

// MinDepositInt parses MinDeposit. Validate guarantees it parses.
func (l LedgerConfig) MinDepositInt() *big.Int {
	v, _ := new(big.Int).SetString(l.MinDeposit, 10)
	return v
}

// OwnerAddress parses Owner. Validate guarantees it is a hex address.
func (l LedgerConfig) OwnerAddress() common.Address {
	return common.HexToAddress(l.Owner)
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the cold
// archive. Disabled when Bucket is empty.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MLEngineConfig holds the prediction engine endpoint and credentials.
type MLEngineConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	APISecret string `toml:"api_secret"`
}

// ZKConfig holds proving artifact locations.
type ZKConfig struct {
	// KeyDir is the directory holding the compiled constraint system and the
	// proving/verifying keys produced by the keygen mode.
	KeyDir string `toml:"key_dir"`
}

// SolverConfig holds fulfillment worker parameters.
type SolverConfig struct {
	PollInterval         duration `toml:"poll_interval"`
	LockTTL              duration `toml:"lock_ttl"`
	CacheTTL             duration `toml:"cache_ttl"`
	AlwaysProve          bool     `toml:"always_prove"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
	ArchiveCron          string   `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	APIKey           string   `toml:"api_key"`
	SignatureMaxSkew duration `toml:"signature_max_skew"`
	RateLimit        int      `toml:"rate_limit"`
	RateLimitWindow  duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			MinDeposit:                 "1000000",
			RequestTimeout:             duration{time.Hour},
			ProofFailureAlertThreshold: 5,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "zkoracle",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		MLEngine: MLEngineConfig{
			BaseURL: "http://localhost:9090/v1",
		},
		ZK: ZKConfig{
			KeyDir: "zkeys",
		},
		Solver: SolverConfig{
			PollInterval:         duration{15 * time.Second},
			LockTTL:              duration{2 * time.Minute},
			CacheTTL:             duration{30 * time.Second},
			AlwaysProve:          false,
			ArchiveRetentionDays: 30,
			ArchiveCron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8080,
			SignatureMaxSkew: duration{5 * time.Minute},
			RateLimit:        0,
			RateLimitWindow:  duration{time.Second},
		},
		Mode:     "full",
		Storage:  "postgres",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"solver": true,
	"full":   true,
	"keygen": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, solver, full, keygen)", c.Mode))
	}

	// Storage
	if c.Storage != "postgres" && c.Storage != "memory" {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Identity — the solver modes must be able to sign fulfillments.
	needsKey := mode == "solver" || mode == "full"
	if needsKey {
		if c.Identity.PrivateKey == "" && c.Identity.EncryptedKeyPath == "" {
			errs = append(errs, "identity: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Identity.EncryptedKeyPath != "" && c.Identity.KeyPassword == "" {
			errs = append(errs, "identity: key_password is required when encrypted_key_path is set")
		}
	}

	// Ledger
	if c.Ledger.Owner != "" && !common.IsHexAddress(c.Ledger.Owner) {
		errs = append(errs, fmt.Sprintf("ledger: owner %q is not a hex address", c.Ledger.Owner))
	}
	if mode != "keygen" && c.Ledger.Owner == "" {
		errs = append(errs, "ledger: owner must be set")
	}
	if md, ok := new(big.Int).SetString(c.Ledger.MinDeposit, 10); !ok || md.Sign() <= 0 {
		errs = append(errs, fmt.Sprintf("ledger: min_deposit %q must be a positive decimal string", c.Ledger.MinDeposit))
	}
	if c.Ledger.RequestTimeout.Duration <= 0 {
		errs = append(errs, "ledger: request_timeout must be positive")
	}
	if c.Ledger.ProofFailureAlertThreshold < 1 {
		errs = append(errs, "ledger: proof_failure_alert_threshold must be >= 1")
	}

	// Postgres — only when the postgres backend is selected.
	if c.Storage == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — optional; when a bucket is configured the endpoint must be too.
	if c.S3.Bucket != "" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when a bucket is configured")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when a bucket is configured")
		}
	}

	// MLEngine — required for solver modes.
	if (mode == "solver" || mode == "full") && c.MLEngine.BaseURL == "" {
		errs = append(errs, "mlengine: base_url is required for mode "+c.Mode)
	}

	// ZK
	if c.ZK.KeyDir == "" {
		errs = append(errs, "zk: key_dir must not be empty")
	}

	// Solver
	if c.Solver.PollInterval.Duration <= 0 {
		errs = append(errs, "solver: poll_interval must be positive")
	}
	if c.Solver.LockTTL.Duration <= 0 {
		errs = append(errs, "solver: lock_ttl must be positive")
	}
	if c.Solver.ArchiveRetentionDays < 1 {
		errs = append(errs, "solver: archive_retention_days must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
