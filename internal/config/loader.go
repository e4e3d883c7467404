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
// built-in defaults, applies MIRRORBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known MIRRORBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue ──
	setStr(&cfg.Venue.WsHost, "MIRRORBOT_VENUE_WS_HOST")
	setStr(&cfg.Venue.RestHost, "MIRRORBOT_VENUE_REST_HOST")
	setDuration(&cfg.Venue.RequestTimeout, "MIRRORBOT_VENUE_REQUEST_TIMEOUT")
	setInt(&cfg.Venue.RateLimit, "MIRRORBOT_VENUE_RATE_LIMIT")
	setDuration(&cfg.Venue.RateWindow, "MIRRORBOT_VENUE_RATE_WINDOW")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "MIRRORBOT_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "MIRRORBOT_CHAIN_ID")
	setDuration(&cfg.Chain.ConfirmTimeout, "MIRRORBOT_CHAIN_CONFIRM_TIMEOUT")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Targets, "MIRRORBOT_ENGINE_TARGETS")
	setDuration(&cfg.Engine.WatermarkBuffer, "MIRRORBOT_ENGINE_WATERMARK_BUFFER")
	setDuration(&cfg.Engine.KeepaliveInterval, "MIRRORBOT_ENGINE_KEEPALIVE_INTERVAL")
	setDuration(&cfg.Engine.ReconnectBaseDelay, "MIRRORBOT_ENGINE_RECONNECT_BASE_DELAY")
	setInt(&cfg.Engine.MaxReconnectAttempts, "MIRRORBOT_ENGINE_MAX_RECONNECT_ATTEMPTS")
	setDuration(&cfg.Engine.DedupRetention, "MIRRORBOT_ENGINE_DEDUP_RETENTION")
	setDuration(&cfg.Engine.ExecTimeout, "MIRRORBOT_ENGINE_EXEC_TIMEOUT")
	setDuration(&cfg.Engine.CleanupInterval, "MIRRORBOT_ENGINE_CLEANUP_INTERVAL")

	// ── Vault ──
	setStr(&cfg.Vault.KeyPassword, "MIRRORBOT_VAULT_KEY_PASSWORD")

	// ── Database ──
	setStr(&cfg.Database.DSN, "MIRRORBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "MIRRORBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "MIRRORBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "MIRRORBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "MIRRORBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "MIRRORBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "MIRRORBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "MIRRORBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "MIRRORBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "MIRRORBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "MIRRORBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MIRRORBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MIRRORBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MIRRORBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MIRRORBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MIRRORBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MIRRORBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MIRRORBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MIRRORBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MIRRORBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MIRRORBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MIRRORBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MIRRORBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MIRRORBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MIRRORBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MIRRORBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "MIRRORBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MIRRORBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MIRRORBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MIRRORBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MIRRORBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MIRRORBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MIRRORBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MIRRORBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MIRRORBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MIRRORBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MIRRORBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MIRRORBOT_MODE")
	setStr(&cfg.LogLevel, "MIRRORBOT_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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
