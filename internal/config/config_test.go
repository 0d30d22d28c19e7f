package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.TokenRateLimit != 10 || cfg.TokenRateWindow != time.Hour {
		t.Errorf("token limit = %d/%v, want 10/1h", cfg.TokenRateLimit, cfg.TokenRateWindow)
	}
	if cfg.SignedRateLimit != 2 || cfg.SignedRateWindow != 24*time.Hour {
		t.Errorf("signed limit = %d/%v, want 2/24h", cfg.SignedRateLimit, cfg.SignedRateWindow)
	}
	if cfg.PayloadMaxAge != 5*time.Minute {
		t.Errorf("payload max age = %v, want 5m", cfg.PayloadMaxAge)
	}
	if cfg.StaffNFCTTL != 5*time.Minute || cfg.StaffQRTTL != 2*time.Minute {
		t.Errorf("staff ttls = %v/%v, want 5m/2m", cfg.StaffNFCTTL, cfg.StaffQRTTL)
	}
	if cfg.AllowLegacyRefs {
		t.Error("legacy refs should be disabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STAMPD_PORT", "9000")
	t.Setenv("STAMPD_TOKEN_RATE_WINDOW", "30m")
	t.Setenv("STAMPD_ALLOW_LEGACY_REFS", "true")
	t.Setenv("STAMPD_WS_ORIGINS", "dash.example.com,*.example.org")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Port)
	}
	if cfg.TokenRateWindow != 30*time.Minute {
		t.Errorf("token window = %v, want 30m", cfg.TokenRateWindow)
	}
	if !cfg.AllowLegacyRefs {
		t.Error("expected legacy refs enabled")
	}
	if len(cfg.WSOrigins) != 2 || cfg.WSOrigins[1] != "*.example.org" {
		t.Errorf("ws origins = %v", cfg.WSOrigins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("STAMPD_SIGNED_RATE_LIMIT", "0")

	if _, err := Load(); err == nil {
		t.Error("expected error for zero rate limit")
	}
}

func TestLoadBackupConfig(t *testing.T) {
	t.Setenv("STAMPD_BACKUP_S3_BUCKET", "ledger-backups")
	t.Setenv("STAMPD_BACKUP_S3_ENDPOINT", "https://s3.example.com")
	t.Setenv("STAMPD_BACKUP_RETENTION", "168h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backup.Bucket != "ledger-backups" || cfg.Backup.Endpoint != "https://s3.example.com" {
		t.Errorf("backup s3 = %+v", cfg.Backup)
	}
	if cfg.Backup.Region != "us-east-1" || cfg.Backup.Prefix != "stampd/" {
		t.Errorf("backup defaults region=%q prefix=%q", cfg.Backup.Region, cfg.Backup.Prefix)
	}
	if cfg.Backup.Retention != 7*24*time.Hour {
		t.Errorf("retention = %v, want 168h", cfg.Backup.Retention)
	}
}
