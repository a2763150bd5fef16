// Package config は環境変数からのアプリケーション設定読み込みを提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// SourceMode はリスティングの取得方式を表す。
type SourceMode string

const (
	// SourceModeHTML はリスティングページのHTMLをスクレイプする方式。
	SourceModeHTML SourceMode = "html"
	// SourceModeFeed はサイトのRSSフィードからリスティングを取得する方式。
	SourceModeFeed SourceMode = "feed"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	BotToken string

	// Admin API
	AdminToken string

	// Source
	SourceBaseURL string
	SourceMode    SourceMode

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64

	// Cache TTL
	ListingCacheTTL time.Duration
	LinksCacheTTL   time.Duration
	SnapshotTTL     time.Duration

	// Publish
	PublishLimit    int
	PublishInterval time.Duration

	// Update check
	UpdateCheckDelay time.Duration

	// Retention
	PostRetentionDays int

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	if cfg.AdminToken == "" {
		missing = append(missing, "ADMIN_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SourceBaseURL = getEnvString("SOURCE_BASE_URL", "https://hdhub4u.rehab")
	cfg.SourceMode = parseSourceMode(getEnvString("SOURCE_MODE", string(SourceModeHTML)))
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.ListingCacheTTL = getEnvDuration("LISTING_CACHE_TTL", 5*time.Minute)
	cfg.LinksCacheTTL = getEnvDuration("LINKS_CACHE_TTL", time.Hour)
	cfg.SnapshotTTL = getEnvDuration("SNAPSHOT_TTL", 24*time.Hour)
	cfg.PublishLimit = getEnvInt("PUBLISH_LIMIT", 3)
	cfg.PublishInterval = getEnvDuration("PUBLISH_INTERVAL", 2*time.Second)
	cfg.UpdateCheckDelay = getEnvDuration("UPDATE_CHECK_DELAY", time.Second)
	cfg.PostRetentionDays = getEnvInt("POST_RETENTION_DAYS", 90)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// parseSourceMode は文字列をSourceModeに変換する。不明な値はhtmlとして扱う。
func parseSourceMode(v string) SourceMode {
	if v == string(SourceModeFeed) {
		return SourceModeFeed
	}
	return SourceModeHTML
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
