package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresAPIKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when GEMINI_API_KEY is missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("port default: %s", cfg.Port)
	}
	if cfg.GenMaxAttempts != 3 {
		t.Fatalf("attempts default: %d", cfg.GenMaxAttempts)
	}
	if cfg.GenRetryBaseDelay != 5*time.Second {
		t.Fatalf("retry base delay default: %v", cfg.GenRetryBaseDelay)
	}
	if cfg.GenStyleDelay != 5*time.Second {
		t.Fatalf("style delay default: %v", cfg.GenStyleDelay)
	}
	if cfg.VideoPollInterval != 10*time.Second {
		t.Fatalf("poll interval default: %v", cfg.VideoPollInterval)
	}
	if cfg.MaxUploadBytes != 10*1024*1024 {
		t.Fatalf("upload limit default: %d", cfg.MaxUploadBytes)
	}
	if cfg.DefaultLocale != "es" {
		t.Fatalf("locale default: %s", cfg.DefaultLocale)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "9090")
	t.Setenv("GEN_MAX_ATTEMPTS", "5")
	t.Setenv("VIDEO_POLL_INTERVAL_MS", "2500")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("port override: %s", cfg.Port)
	}
	if cfg.GenMaxAttempts != 5 {
		t.Fatalf("attempts override: %d", cfg.GenMaxAttempts)
	}
	if cfg.VideoPollInterval != 2500*time.Millisecond {
		t.Fatalf("poll interval override: %v", cfg.VideoPollInterval)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("origins override: %v", cfg.CORSAllowedOrigins)
	}
}
