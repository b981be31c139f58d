package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Asia/Tokyo"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN     string `envconfig:"PG_DSN"`
	DBMigrate bool   `envconfig:"DB_MIGRATE" default:"true"`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	CronSecret string `envconfig:"CRON_SECRET"`

	YouTube struct {
		APIKey  string        `envconfig:"YOUTUBE_API_KEY"`
		BaseURL string        `envconfig:"YOUTUBE_BASE_URL" default:"https://www.googleapis.com/youtube/v3"`
		Timeout time.Duration `envconfig:"YOUTUBE_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Qiita struct {
		AccessToken string        `envconfig:"QIITA_ACCESS_TOKEN"`
		BaseURL     string        `envconfig:"QIITA_BASE_URL" default:"https://qiita.com/api/v2"`
		Timeout     time.Duration `envconfig:"QIITA_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Zenn struct {
		BaseURL string        `envconfig:"ZENN_BASE_URL" default:"https://zenn.dev/api"`
		Timeout time.Duration `envconfig:"ZENN_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Note struct {
		BaseURL     string        `envconfig:"NOTE_BASE_URL" default:"https://note.com/api"`
		Timeout     time.Duration `envconfig:"NOTE_TIMEOUT" default:"15s"`
		MinInterval time.Duration `envconfig:"NOTE_MIN_INTERVAL" default:"1500ms"`
		// Limiter local или redis.
		Limiter string `envconfig:"NOTE_LIMITER" default:"local"`
	} `envconfig:""`

	Model struct {
		APIKey  string        `envconfig:"GEMINI_API_KEY"`
		BaseURL string        `envconfig:"MODEL_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta/openai"`
		Name    string        `envconfig:"MODEL_NAME" default:"gemini-2.5-flash"`
		Timeout time.Duration `envconfig:"MODEL_TIMEOUT" default:"120s"`
	} `envconfig:""`

	Batch struct {
		CronSpec      string        `envconfig:"BATCH_CRON_SPEC" default:"0 0 6 * * *"`
		TimeBudget    time.Duration `envconfig:"BATCH_TIME_BUDGET" default:"50s"`
		Margin        time.Duration `envconfig:"BATCH_TIME_MARGIN" default:"10s"`
		Delay         time.Duration `envconfig:"BATCH_SETTING_DELAY" default:"1s"`
		StaleJobAfter time.Duration `envconfig:"STALE_JOB_AFTER" default:"30m"`
	} `envconfig:""`

	Queues struct {
		// Backend redis, rabbitmq или memory.
		Backend  string `envconfig:"QUEUE_BACKEND" default:"memory"`
		Analysis string `envconfig:"ANALYSIS_QUEUE_KEY" default:"analysis_jobs"`
	} `envconfig:""`

	Cache struct {
		TTL  time.Duration `envconfig:"CACHE_TTL" default:"30m"`
		Size int           `envconfig:"CACHE_LOCAL_SIZE" default:"500"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения. Файл .env, если есть, подхватывается первым.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
