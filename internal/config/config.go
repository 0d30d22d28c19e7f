package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Server
	Port     int    `env:"STAMPD_PORT" envDefault:"8080"`
	DBPath   string `env:"STAMPD_DB_PATH" envDefault:"stampd.db"`
	LogLevel string `env:"STAMPD_LOG_LEVEL" envDefault:"info"`

	// One-time token channel: claims per user across all businesses
	TokenRateLimit  int           `env:"STAMPD_TOKEN_RATE_LIMIT" envDefault:"10"`
	TokenRateWindow time.Duration `env:"STAMPD_TOKEN_RATE_WINDOW" envDefault:"1h"`

	// Signed payload channel: awards per user per business
	SignedRateLimit  int           `env:"STAMPD_SIGNED_RATE_LIMIT" envDefault:"2"`
	SignedRateWindow time.Duration `env:"STAMPD_SIGNED_RATE_WINDOW" envDefault:"24h"`

	PayloadMaxAge time.Duration `env:"STAMPD_PAYLOAD_MAX_AGE" envDefault:"5m"`

	// Staff-issued single token lifetimes
	StaffNFCTTL time.Duration `env:"STAMPD_STAFF_NFC_TTL" envDefault:"5m"`
	StaffQRTTL  time.Duration `env:"STAMPD_STAFF_QR_TTL" envDefault:"2m"`

	DefaultExpiryDays int  `env:"STAMPD_DEFAULT_EXPIRY_DAYS" envDefault:"30"`
	AllowLegacyRefs   bool `env:"STAMPD_ALLOW_LEGACY_REFS" envDefault:"false"`
	KeyCacheSize      int  `env:"STAMPD_KEY_CACHE_SIZE" envDefault:"256"`

	// Per-IP throttle in front of the redeem endpoint
	IPRateLimit  int           `env:"STAMPD_IP_RATE_LIMIT" envDefault:"60"`
	IPRateWindow time.Duration `env:"STAMPD_IP_RATE_WINDOW" envDefault:"1m"`

	// Shared secret the identity gateway sends in X-Gateway-Token; empty
	// trusts X-User-ID from any caller
	GatewayToken string `env:"STAMPD_GATEWAY_TOKEN"`

	// Extra origins allowed on the live feed, e.g. "dashboard.example.com"
	WSOrigins []string `env:"STAMPD_WS_ORIGINS" envSeparator:","`

	// Encrypted snapshots for stampctl backup
	Backup BackupConfig `envPrefix:"STAMPD_BACKUP_"`
}

type BackupConfig struct {
	Endpoint   string        `env:"S3_ENDPOINT"`
	Bucket     string        `env:"S3_BUCKET"`
	Region     string        `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey  string        `env:"S3_ACCESS_KEY"`
	SecretKey  string        `env:"S3_SECRET_KEY"`
	Prefix     string        `env:"PREFIX" envDefault:"stampd/"`
	Passphrase string        `env:"PASSPHRASE"`
	Retention  time.Duration `env:"RETENTION" envDefault:"720h"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would make the limiter or codec meaningless.
func (c *Config) Validate() error {
	switch {
	case c.TokenRateLimit < 1 || c.SignedRateLimit < 1:
		return fmt.Errorf("rate limits must be at least 1")
	case c.TokenRateWindow <= 0 || c.SignedRateWindow <= 0:
		return fmt.Errorf("rate windows must be positive")
	case c.PayloadMaxAge <= 0:
		return fmt.Errorf("payload max age must be positive")
	case c.StaffNFCTTL <= 0 || c.StaffQRTTL <= 0:
		return fmt.Errorf("staff ttls must be positive")
	case c.DefaultExpiryDays < 1:
		return fmt.Errorf("default expiry days must be at least 1")
	case c.KeyCacheSize < 1:
		return fmt.Errorf("key cache size must be at least 1")
	}
	return nil
}
