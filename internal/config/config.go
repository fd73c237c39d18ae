package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // distrolessイメージでもTIME_ZONEを解決できるようにする

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL    string
	DBMaxOpenConns int

	// Cache (REDIS_ADDRが空の場合はプロセス内キャッシュ)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// Events (AMQP_URLが空の場合はログ出力のみ)
	AMQPURL         string
	AMQPExchange    string
	AMQPQueue       string
	EventBufferSize int

	// Notification
	NotifyWebhookURL string
	NotifyTimeout    time.Duration

	// Reservation
	TimeZone            string
	Location            *time.Location
	AllocateMaxAttempts int

	// Rate Limit (req/min)
	RateLimitGeneral int
	RateLimitBooking int

	// Worker
	LotCacheRefreshInterval time.Duration

	// Logging
	LogLevel string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗しました: %w", err)
	}

	cfg := &Config{}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variables are not set: %v", []string{"DATABASE_URL"})
	}

	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.RedisAddr = getEnvString("REDIS_ADDR", "")
	cfg.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.CacheTTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.AMQPURL = getEnvString("AMQP_URL", "")
	cfg.AMQPExchange = getEnvString("AMQP_EXCHANGE", "parkman.events")
	cfg.AMQPQueue = getEnvString("AMQP_QUEUE", "parkman.notifications")
	cfg.EventBufferSize = getEnvInt("EVENT_BUFFER_SIZE", 256)
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	cfg.TimeZone = getEnvString("TIME_ZONE", "Asia/Kolkata")
	cfg.AllocateMaxAttempts = getEnvInt("ALLOCATE_MAX_ATTEMPTS", 3)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitBooking = getEnvInt("RATE_LIMIT_BOOKING", 10)
	cfg.LotCacheRefreshInterval = getEnvDuration("LOT_CACHE_REFRESH_INTERVAL", 5*time.Minute)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("TIME_ZONEが不正です（%s）: %w", cfg.TimeZone, err)
	}
	cfg.Location = loc

	if cfg.AllocateMaxAttempts < 1 {
		cfg.AllocateMaxAttempts = 1
	}
	if cfg.EventBufferSize < 1 {
		cfg.EventBufferSize = 1
	}

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
