package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type QueueMode string

const (
	QueueMongo  QueueMode = "mongo"
	QueueInline QueueMode = "inline"
	QueueNone   QueueMode = "none"
)

type Config struct {
	HTTPAddr  string `mapstructure:"http_addr"`
	JWTSecret string `mapstructure:"jwt_secret"`

	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDB       string `mapstructure:"mongo_db"`
	MongoPoolSize int    `mapstructure:"mongo_pool_size"`

	QueueMode          QueueMode     `mapstructure:"queue_mode"`
	WorkerConcurrency  int           `mapstructure:"worker_concurrency"`
	WorkerPollInterval time.Duration `mapstructure:"worker_poll_interval"`
	JobLease           time.Duration `mapstructure:"job_lease"`

	WebhookTimeout     time.Duration `mapstructure:"webhook_timeout"`
	WebhookConcurrency int           `mapstructure:"webhook_concurrency"`
	MediaFetchTimeout  time.Duration `mapstructure:"media_fetch_timeout"`
	MediaMaxBytes      int64         `mapstructure:"media_max_bytes"`
	// MediaAllowedHosts limits media fetches to these hosts and their
	// subdomains. Empty allows any public host.
	MediaAllowedHosts []string `mapstructure:"media_allowed_hosts"`
	MediaAllowPrivate bool     `mapstructure:"media_allow_private"`

	MQTTBroker      string `mapstructure:"mqtt_broker"`
	MQTTClientID    string `mapstructure:"mqtt_client_id"`
	MQTTTopicPrefix string `mapstructure:"mqtt_topic_prefix"`

	HourlySchedule    string `mapstructure:"hourly_schedule"`
	DailySchedule     string `mapstructure:"daily_schedule"`
	RetentionSchedule string `mapstructure:"retention_schedule"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	GelfAddr  string `mapstructure:"gelf_addr"`
}

// Load reads .env (if present), then the environment, then the optional YAML
// file at path. Later sources win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		JWTSecret: getEnv("JWT_SECRET", "fieldforce-dev-secret-change-me"),

		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:       getEnv("MONGO_DB", "fieldforce"),
		MongoPoolSize: getEnvInt("MONGO_POOL_SIZE", 50),

		QueueMode:          QueueMode(getEnv("QUEUE_MODE", string(QueueMongo))),
		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 8),
		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
		JobLease:           getEnvDuration("JOB_LEASE", 5*time.Minute),

		WebhookTimeout:     getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookConcurrency: getEnvInt("WEBHOOK_CONCURRENCY", 4),
		MediaFetchTimeout:  getEnvDuration("MEDIA_FETCH_TIMEOUT", 30*time.Second),
		MediaMaxBytes:      int64(getEnvInt("MEDIA_MAX_BYTES", 50<<20)),
		MediaAllowedHosts:  getEnvList("MEDIA_ALLOWED_HOSTS"),
		MediaAllowPrivate:  getEnvBool("MEDIA_ALLOW_PRIVATE", false),

		MQTTBroker:      getEnv("MQTT_BROKER", ""),
		MQTTClientID:    getEnv("MQTT_CLIENT_ID", "fieldforce"),
		MQTTTopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "fieldforce"),

		HourlySchedule:    getEnv("HOURLY_SCHEDULE", "5 * * * *"),
		DailySchedule:     getEnv("DAILY_SCHEDULE", "15 0 * * *"),
		RetentionSchedule: getEnv("RETENTION_SCHEDULE", "30 3 * * *"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		GelfAddr:  getEnv("GELF_ADDR", ""),
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

func loadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(cfg)
}

func (c *Config) Validate() error {
	var errs []error
	if c.MongoURI == "" {
		errs = append(errs, errors.New("mongo_uri is required"))
	}
	if c.MongoDB == "" {
		errs = append(errs, errors.New("mongo_db is required"))
	}
	if c.MongoPoolSize <= 0 {
		errs = append(errs, fmt.Errorf("mongo_pool_size must be positive, got %d", c.MongoPoolSize))
	}
	if c.WorkerConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("worker_concurrency must be positive, got %d", c.WorkerConcurrency))
	}
	if c.WebhookConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("webhook_concurrency must be positive, got %d", c.WebhookConcurrency))
	}
	if c.WorkerPollInterval <= 0 || c.JobLease <= 0 || c.WebhookTimeout <= 0 {
		errs = append(errs, errors.New("worker_poll_interval, job_lease and webhook_timeout must be positive"))
	}
	switch c.QueueMode {
	case QueueMongo, QueueInline, QueueNone:
	default:
		errs = append(errs, fmt.Errorf("unknown queue_mode %q", c.QueueMode))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvList splits a comma separated variable, dropping blank entries.
func getEnvList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.ToLower(s))
		}
	}
	return out
}
