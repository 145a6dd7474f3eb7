package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 永続化バックエンドの種別
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendRemote   = "remote"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend string
	DatabaseURL    string
	RedisURL       string
	RedisKey       string
	RemoteBaseURL  string
	RemoteTimeout  time.Duration

	// Ledger policy
	EmailDomain string
	RosterFile  string
	Timezone    string
	NoticeTTL   time.Duration

	// Admin
	AdminToken string

	// Rate Limit
	RateLimitSign int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS（カンマ区切りで複数指定可）
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 選択したバックエンドに必要な環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", BackendMemory))

	// Required fields (backend-specific)
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.RemoteBaseURL = os.Getenv("REMOTE_BASE_URL")

	switch cfg.StorageBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	case BackendRemote:
		if cfg.RemoteBaseURL == "" {
			missing = append(missing, "REMOTE_BASE_URL")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q (expected memory, redis, postgres or remote)", cfg.StorageBackend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.RedisKey = getEnvString("REDIS_KEY", "collegio-docenti-signatures")
	cfg.RemoteTimeout = getEnvDuration("REMOTE_TIMEOUT", 10*time.Second)
	cfg.EmailDomain = getEnvString("EMAIL_DOMAIN", "@cine-tv.edu.it")
	cfg.RosterFile = getEnvString("ROSTER_FILE", "")
	cfg.Timezone = getEnvString("TIMEZONE", "Europe/Rome")
	cfg.NoticeTTL = getEnvDuration("NOTICE_TTL", 5*time.Second)
	cfg.AdminToken = getEnvString("ADMIN_TOKEN", "")
	cfg.RateLimitSign = getEnvInt("RATE_LIMIT_SIGN", 30)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

// Location はTimezoneを*time.Locationに変換する。Loadで検証済みのため失敗時はUTCを返す。
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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
