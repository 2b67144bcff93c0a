package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	GeminiAPIKey       string
	GeminiBaseURL      string
	GeminiImageModel   string
	GeminiVideoModel   string
	GenMaxAttempts     int
	GenRetryBaseDelay  time.Duration
	GenStyleDelay      time.Duration
	GenCallTimeout     time.Duration
	VideoPollInterval  time.Duration
	VideoAspectRatio   string
	VideoResolution    string
	DefaultLocale      string
	MaxUploadBytes     int64
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               getEnv("PORT", "8080"),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:      getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiImageModel:   getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		GeminiVideoModel:   getEnv("GEMINI_VIDEO_MODEL", "veo-2.0-generate-001"),
		GenMaxAttempts:     getEnvInt("GEN_MAX_ATTEMPTS", 3),
		GenRetryBaseDelay:  time.Millisecond * time.Duration(getEnvInt("GEN_RETRY_BASE_DELAY_MS", 5000)),
		GenStyleDelay:      time.Millisecond * time.Duration(getEnvInt("GEN_STYLE_DELAY_MS", 5000)),
		GenCallTimeout:     time.Second * time.Duration(getEnvInt("GEN_CALL_TIMEOUT_SECONDS", 60)),
		VideoPollInterval:  time.Millisecond * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_MS", 10000)),
		VideoAspectRatio:   getEnv("VIDEO_ASPECT_RATIO", "16:9"),
		VideoResolution:    getEnv("VIDEO_RESOLUTION", "720p"),
		DefaultLocale:      getEnv("DEFAULT_LOCALE", "es"),
		MaxUploadBytes:     int64(getEnvInt("MAX_UPLOAD_MB", 10)) * 1024 * 1024,
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 30)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 60)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		CORSAllowedOrigins: splitEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
	}

	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitEnv(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
