package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DBConfig selects the store backend and tunes the Postgres pool.
type DBConfig struct {
	Store string `envconfig:"STORE" default:"postgres"`
	DBDSN string `envconfig:"DB_DSN"`

	DBPoolMaxConns          int32         `envconfig:"DB_POOL_MAX_CONNS" default:"10"`
	DBPoolMinConns          int32         `envconfig:"DB_POOL_MIN_CONNS" default:"0"`
	DBPoolMaxConnLifetime   time.Duration `envconfig:"DB_POOL_MAX_CONN_LIFETIME" default:"30m"`
	DBPoolMaxConnIdleTime   time.Duration `envconfig:"DB_POOL_MAX_CONN_IDLE_TIME" default:"5m"`
	DBPoolHealthCheckPeriod time.Duration `envconfig:"DB_POOL_HEALTH_CHECK_PERIOD" default:"30s"`
}

// SQSConfig holds the broker endpoints. Queue URLs left empty disable that channel.
type SQSConfig struct {
	AWSRegion          string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`

	EmailQueueURL    string `envconfig:"SQS_EMAIL_QUEUE_URL"`
	SMSQueueURL      string `envconfig:"SQS_SMS_QUEUE_URL"`
	WhatsAppQueueURL string `envconfig:"SQS_WHATSAPP_QUEUE_URL"`
	TelegramQueueURL string `envconfig:"SQS_TELEGRAM_QUEUE_URL"`
	ReportsQueueURL  string `envconfig:"SQS_REPORTS_QUEUE_URL"`

	SQSWaitTime   int32 `envconfig:"SQS_WAIT_TIME" default:"20"`
	SQSMaxMsgs    int32 `envconfig:"SQS_MAX_MSGS" default:"10"`
	SQSVizTimeout int32 `envconfig:"SQS_VISIBILITY_TIMEOUT" default:"60"`
	GroupBuckets  int   `envconfig:"SQS_GROUP_BUCKETS" default:"1024"`
}

type APIConfig struct {
	DBConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	RetentionDays  int           `envconfig:"RETENTION_DAYS" default:"30"`
	SendingTimeout time.Duration `envconfig:"SENDING_TIMEOUT" default:"15m"`

	// cron specs; empty disables the job
	RetrySweepSchedule string `envconfig:"RETRY_SWEEP_SCHEDULE" default:"*/5 * * * *"`
	StaleSweepSchedule string `envconfig:"STALE_SWEEP_SCHEDULE" default:"@every 1m"`
	PurgeSchedule      string `envconfig:"PURGE_SCHEDULE" default:"0 3 * * *"`
}

type DispatcherConfig struct {
	DBConfig
	SQSConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// log | sqs | http
	Sender string `envconfig:"SENDER" default:"log"`

	GatewayURL     string        `envconfig:"GATEWAY_URL"`
	GatewaySecret  string        `envconfig:"GATEWAY_SECRET"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"8s"`

	BatchSize    int           `envconfig:"DISPATCH_BATCH_SIZE" default:"100"`
	Concurrency  int           `envconfig:"DISPATCH_CONCURRENCY" default:"20"`
	PollInterval time.Duration `envconfig:"DISPATCH_POLL_INTERVAL" default:"1s"`
	SendTimeout  time.Duration `envconfig:"SEND_TIMEOUT" default:"10s"`
	// jobs held back by the limiter or an open breaker wait this long
	ReleaseDelay time.Duration `envconfig:"DISPATCH_RELEASE_DELAY" default:"5s"`

	SendRPS   float64 `envconfig:"SEND_RPS" default:"50"`
	SendBurst int     `envconfig:"SEND_BURST" default:"100"`

	BreakerFailures int           `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerTimeout  time.Duration `envconfig:"BREAKER_TIMEOUT" default:"30s"`
}

type ReportProcessorConfig struct {
	DBConfig
	SQSConfig

	Port        string `envconfig:"PORT" default:"8080"`
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	ProcessorConcurrency int `envconfig:"PROCESSOR_CONCURRENCY" default:"10"`
}

// TransportSimConfig configures the local transport stand-in that consumes
// handoff queues and publishes delivery reports.
type TransportSimConfig struct {
	SQSConfig

	Port      string `envconfig:"PORT" default:"8080"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	// FailRate is the fraction of jobs reported as failed.
	FailRate    float64       `envconfig:"SIM_FAIL_RATE" default:"0.1"`
	MinLatency  time.Duration `envconfig:"SIM_MIN_LATENCY" default:"20ms"`
	MaxLatency  time.Duration `envconfig:"SIM_MAX_LATENCY" default:"200ms"`
	Concurrency int           `envconfig:"SIM_CONCURRENCY" default:"10"`
}

func load(cfg any) {
	// .env is optional; real env vars win
	_ = godotenv.Load()
	if err := envconfig.Process("", cfg); err != nil {
		panic(err)
	}
}

func LoadAPI() APIConfig {
	var cfg APIConfig
	load(&cfg)
	return cfg
}

func LoadDispatcher() DispatcherConfig {
	var cfg DispatcherConfig
	load(&cfg)
	return cfg
}

func LoadReportProcessor() ReportProcessorConfig {
	var cfg ReportProcessorConfig
	load(&cfg)
	return cfg
}

func LoadTransportSim() TransportSimConfig {
	var cfg TransportSimConfig
	load(&cfg)
	return cfg
}
