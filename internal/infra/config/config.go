package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Scan struct {
		Interval       time.Duration `envconfig:"SCAN_TICK_INTERVAL" default:"1m"`
		FetchTimeout   time.Duration `envconfig:"SCAN_FETCH_TIMEOUT" default:"15s"`
		MaxItems       int           `envconfig:"SCAN_MAX_ITEMS_PER_SOURCE" default:"25"`
		MaxConcurrency int           `envconfig:"SCAN_MAX_CONCURRENCY" default:"8"`
		FetchRPS       int           `envconfig:"SCAN_FETCH_RPS" default:"10"`
		Workers        int           `envconfig:"SCAN_WORKERS" default:"4"`
	} `envconfig:""`

	XAPI struct {
		BaseURL string        `envconfig:"XAPI_BASE_URL"`
		Timeout time.Duration `envconfig:"XAPI_TIMEOUT" default:"15s"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Queues struct {
		Scan string `envconfig:"SCAN_QUEUE_KEY" default:"scan_jobs"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
