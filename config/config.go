package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel       string `env:"LOG_LEVEL"`
	Postgres       Postgres
	Redis          Redis
	Custodian      Custodian
	HTTP           HTTP
	Jobs           Jobs
	Settlement     Settlement
	Reconciliation Reconciliation
	Telegram       Telegram
	Cache          Cache
}

type Postgres struct {
	Host            string `env:"PG_HOST"`
	Port            int    `env:"PG_PORT"`
	DbName          string `env:"PG_DB_NAME"`
	Password        string `env:"PG_PASSWORD"`
	User            string `env:"PG_USER"`
	MaxOpenConns    int    `env:"PG_MAX_OPEN_CONNS"`
	ConnMaxLifetime int    `env:"PG_CONN_MAX_LIFETIME"`
	MaxIdleConns    int    `env:"PG_MAX_IDLE_CONNS"`
	ConnMaxIdleTime int    `env:"PG_CONN_MAX_IDLE_TIME"`
	MigrationDir    string `env:"PG_MIGRATION_DIR"`
}

type Redis struct {
	Host     string `env:"REDIS_HOST"`
	Port     int    `env:"REDIS_PORT"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB"`
}

type Custodian struct {
	Url       string        `env:"CUSTODIAN_API_URL"`
	ApiKey    string        `env:"CUSTODIAN_API_KEY"`
	ApiSecret string        `env:"CUSTODIAN_API_SECRET"`
	Timeout   time.Duration `env:"CUSTODIAN_API_TIMEOUT"`
	Debug     bool          `env:"CUSTODIAN_API_DEBUG"`
}

type HTTP struct {
	Port            int           `env:"HTTP_PORT"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT"`
}

type Jobs struct {
	MonitorInterval       time.Duration `env:"MONITOR_JOB_INTERVAL"`
	ReconciliationCrontab string        `env:"RECONCILIATION_JOB_CRONTAB"`
}

type Settlement struct {
	MaxConcurrent  int           `env:"SETTLEMENT_MAX_CONCURRENT"`
	StuckThreshold time.Duration `env:"SETTLEMENT_STUCK_THRESHOLD" envDefault:"24h"`
}

type Reconciliation struct {
	Workers     int  `env:"RECONCILIATION_WORKERS"`
	AutoCorrect bool `env:"RECONCILIATION_AUTO_CORRECT"`
}

type Telegram struct {
	Token       string        `env:"TELEGRAM_TOKEN"`
	AlertChatID int64         `env:"TELEGRAM_ALERT_CHAT_ID"`
	PollTimeout time.Duration `env:"TELEGRAM_POLL_TIMEOUT"`
}

type Cache struct {
	PortfolioExpiration time.Duration `env:"CACHE_PORTFOLIO_EXPIRATION"`
}

func MustLoad() *Config {
	_ = godotenv.Load(".env")

	cfg := &Config{}

	opts := env.Options{RequiredIfNoDef: true}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		log.Fatalf("parse config error: %s", err)
	}

	return cfg
}
