package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Outbox       OutboxConfig
	Orders       OrdersConfig
	Feed         FeedConfig
	RateLimit    RateLimitConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.FeatureFlags.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TABLESYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"TABLESYNC_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TABLESYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TABLESYNC_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"TABLESYNC_LOG_FORMAT" default:"json"`
	CORSOrigins  string `envconfig:"TABLESYNC_CORS_ORIGINS" default:"*"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (a AppConfig) AllowedOrigins() []string {
	parts := strings.Split(a.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type ServiceConfig struct {
	Kind string `envconfig:"TABLESYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"TABLESYNC_DB_DSN"`
	Driver string `envconfig:"TABLESYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TABLESYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"TABLESYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TABLESYNC_DB_USER"`
	LegacyPassword string `envconfig:"TABLESYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"TABLESYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"TABLESYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TABLESYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TABLESYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TABLESYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TABLESYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"TABLESYNC_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TABLESYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TABLESYNC_REDIS_ADDR"`
	Password     string        `envconfig:"TABLESYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"TABLESYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TABLESYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TABLESYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TABLESYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TABLESYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TABLESYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig holds the verification settings for owner tokens issued by the
// identity provider.
type JWTConfig struct {
	Secret            string `envconfig:"TABLESYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"TABLESYNC_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"TABLESYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

// Expiration returns the configured access token lifetime.
func (j JWTConfig) Expiration() time.Duration {
	if j.ExpirationMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(j.ExpirationMinutes) * time.Minute
}

type FeatureFlagsConfig struct {
	AutoMigrate        bool   `envconfig:"TABLESYNC_AUTO_MIGRATE" default:"false"`
	ChangeStreamDriver string `envconfig:"TABLESYNC_CHANGESTREAM_DRIVER" default:"redis"`
}

func (f FeatureFlagsConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(f.ChangeStreamDriver)) {
	case ChangeStreamRedis, ChangeStreamMemory:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q", EnvChangeStreamDriver, ChangeStreamRedis, ChangeStreamMemory)
	}
}

// UseMemoryChangeStream reports whether change events stay in process.
func (f FeatureFlagsConfig) UseMemoryChangeStream() bool {
	return strings.EqualFold(strings.TrimSpace(f.ChangeStreamDriver), ChangeStreamMemory)
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"TABLESYNC_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TABLESYNC_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"TABLESYNC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TABLESYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	OrdersTopic           string `envconfig:"TABLESYNC_PUBSUB_ORDERS_TOPIC" required:"true"`
	AlertsSubscription    string `envconfig:"TABLESYNC_PUBSUB_ALERTS_SUBSCRIPTION" required:"true"`
	AnalyticsSubscription string `envconfig:"TABLESYNC_PUBSUB_ANALYTICS_SUBSCRIPTION" required:"true"`
}

type BigQueryConfig struct {
	Dataset         string `envconfig:"TABLESYNC_BIGQUERY_DATASET" default:"tablesync"`
	OrderFactsTable string `envconfig:"TABLESYNC_BIGQUERY_ORDER_FACTS_TABLE" default:"order_facts"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"TABLESYNC_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"TABLESYNC_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"TABLESYNC_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// OrdersConfig tunes the order write path and cafe trial policy.
type OrdersConfig struct {
	MaxWriteAttempts int           `envconfig:"TABLESYNC_ORDERS_MAX_WRITE_ATTEMPTS" default:"3"`
	RetryBackoff     time.Duration `envconfig:"TABLESYNC_ORDERS_RETRY_BACKOFF" default:"25ms"`
	PendingTTL       time.Duration `envconfig:"TABLESYNC_ORDERS_PENDING_TTL" default:"24h"`
	TrialDays        int           `envconfig:"TABLESYNC_CAFE_TRIAL_DAYS" default:"14"`
}

type FeedConfig struct {
	HistoryWindow int           `envconfig:"TABLESYNC_FEED_HISTORY_WINDOW" default:"200"`
	Heartbeat     time.Duration `envconfig:"TABLESYNC_FEED_HEARTBEAT" default:"25s"`
}

// CronConfig sets the cadence of each cron worker job. Tick is how often the
// worker checks which jobs are due.
type CronConfig struct {
	Tick                  time.Duration `envconfig:"TABLESYNC_CRON_TICK" default:"1m"`
	OrderTTLEvery         time.Duration `envconfig:"TABLESYNC_CRON_ORDER_TTL_EVERY" default:"5m"`
	TrialExpiryEvery      time.Duration `envconfig:"TABLESYNC_CRON_TRIAL_EXPIRY_EVERY" default:"1h"`
	RetentionEvery        time.Duration `envconfig:"TABLESYNC_CRON_RETENTION_EVERY" default:"24h"`
	NotificationRetention time.Duration `envconfig:"TABLESYNC_NOTIFICATION_RETENTION" default:"720h"`
	OutboxRetention       time.Duration `envconfig:"TABLESYNC_OUTBOX_RETENTION" default:"720h"`
}

type RateLimitConfig struct {
	OrderWindow time.Duration `envconfig:"TABLESYNC_RATE_LIMIT_ORDER_WINDOW" default:"1m"`
	OrderLimit  int           `envconfig:"TABLESYNC_RATE_LIMIT_ORDER_LIMIT" default:"30"`
}

// ensureDSN assembles a postgres URL from the discrete TABLESYNC_DB_* vars
// when no DSN is given.
func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	var missing []string
	for env, value := range map[string]string{EnvDBHost: db.LegacyHost, EnvDBUser: db.LegacyUser, EnvDBName: db.LegacyName} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("set %s or all of %s", EnvDBDSN, strings.Join(missing, ", "))
	}

	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(db.LegacyUser, db.LegacyPassword),
		Host:   net.JoinHostPort(db.LegacyHost, strconv.Itoa(db.LegacyPort)),
		Path:   db.LegacyName,
	}
	if db.LegacyPassword == "" {
		u.User = url.User(db.LegacyUser)
	}
	if db.LegacySSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {db.LegacySSLMode}}.Encode()
	}
	db.DSN = u.String()
	return nil
}
