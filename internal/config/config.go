package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Upstream API
	APIBaseURL        string
	StudioAPIBaseURL  string
	BearerToken       string
	InfofiBearerToken string
	APITimeout        time.Duration
	APIMaxAttempts    int
	APIRetryDelay     time.Duration

	// Cache
	CacheTTL       time.Duration
	PageSize       int
	ViewerIdleTTL  time.Duration
	MaxKeyedStores int

	// Warm
	WarmInterval      time.Duration
	WarmTopics        []string
	WarmMaxConcurrent int

	// Session
	SessionMaxAge int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral  int
	RateLimitMutation int

	// Media import
	ImportTimeout time.Duration
	ImportMaxSize int64

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.GoogleClientID = required("GOOGLE_CLIENT_ID")
	cfg.GoogleClientSecret = required("GOOGLE_CLIENT_SECRET")
	cfg.GoogleRedirectURL = required("GOOGLE_REDIRECT_URL")
	cfg.BaseURL = required("BASE_URL")
	cfg.APIBaseURL = required("API_BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.StudioAPIBaseURL = getEnvString("STUDIO_API_BASE_URL", cfg.APIBaseURL)
	cfg.BearerToken = getEnvString("BEARER_TOKEN", "")
	cfg.InfofiBearerToken = getEnvString("INFOFI_BEARER_TOKEN", "")
	cfg.APITimeout = getEnvDuration("API_TIMEOUT", 15*time.Second)
	cfg.APIMaxAttempts = getEnvInt("API_MAX_ATTEMPTS", 3)
	cfg.APIRetryDelay = getEnvDuration("API_RETRY_DELAY", time.Second)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.PageSize = getEnvInt("PAGE_SIZE", 20)
	cfg.ViewerIdleTTL = getEnvDuration("VIEWER_IDLE_TTL", 30*time.Minute)
	cfg.MaxKeyedStores = getEnvInt("CACHE_MAX_KEYED_STORES", 256)
	cfg.WarmInterval = getEnvDuration("WARM_INTERVAL", 5*time.Minute)
	cfg.WarmTopics = getEnvList("WARM_TOPICS")
	cfg.WarmMaxConcurrent = getEnvInt("WARM_MAX_CONCURRENT", 4)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 604800)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.ImportTimeout = getEnvDuration("IMPORT_TIMEOUT", 10*time.Second)
	cfg.ImportMaxSize = getEnvInt64("IMPORT_MAX_SIZE", 10<<20)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:5173")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの値を読み込む。空要素と前後の空白は取り除く。
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
