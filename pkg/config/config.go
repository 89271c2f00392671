package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Email        EmailConfig
	Realtime     RealtimeConfig
	Gateway      GatewayConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
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
	if err := cfg.Realtime.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NOTIFICATIONS_APP_ENV" required:"true"`
	Port         string `envconfig:"NOTIFICATIONS_APP_PORT" default:"3000"`
	LogLevel     string `envconfig:"NOTIFICATIONS_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"NOTIFICATIONS_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"NOTIFICATIONS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Name string `envconfig:"NOTIFICATIONS_SERVICE_NAME" default:"notifications"`
}

type DBConfig struct {
	DSN    string `envconfig:"NOTIFICATIONS_DB_DSN"`
	Driver string `envconfig:"NOTIFICATIONS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"NOTIFICATIONS_DB_HOST"`
	LegacyPort     int    `envconfig:"NOTIFICATIONS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"NOTIFICATIONS_DB_USER"`
	LegacyPassword string `envconfig:"NOTIFICATIONS_DB_PASSWORD"`
	LegacyName     string `envconfig:"NOTIFICATIONS_DB_NAME"`
	LegacySSLMode  string `envconfig:"NOTIFICATIONS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"NOTIFICATIONS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"NOTIFICATIONS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"NOTIFICATIONS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"NOTIFICATIONS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"NOTIFICATIONS_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"NOTIFICATIONS_REDIS_URL"`
	Address      string        `envconfig:"NOTIFICATIONS_REDIS_ADDR" default:"localhost:6379"`
	Password     string        `envconfig:"NOTIFICATIONS_REDIS_PASSWORD"`
	DB           int           `envconfig:"NOTIFICATIONS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"NOTIFICATIONS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"NOTIFICATIONS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"NOTIFICATIONS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"NOTIFICATIONS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"NOTIFICATIONS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"NOTIFICATIONS_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"NOTIFICATIONS_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"NOTIFICATIONS_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string        `envconfig:"NOTIFICATIONS_PUBSUB_TOPIC" default:"notifications_queue"`
	NotificationSubscription string        `envconfig:"NOTIFICATIONS_PUBSUB_SUBSCRIPTION" default:"notifications_queue-sub"`
	PublishTimeout           time.Duration `envconfig:"NOTIFICATIONS_PUBSUB_PUBLISH_TIMEOUT" default:"10s"`
	MaxOutstandingMessages   int           `envconfig:"NOTIFICATIONS_PUBSUB_MAX_OUTSTANDING" default:"100"`
	AckDeadline              time.Duration `envconfig:"NOTIFICATIONS_PUBSUB_ACK_DEADLINE" default:"30s"`
	// AutoCreate provisions a missing topic and subscription, for the
	// emulator and local stacks.
	AutoCreate bool `envconfig:"NOTIFICATIONS_PUBSUB_AUTO_CREATE" default:"false"`
}

// EmailConfig holds the SMTP relay used by the email channel.
type EmailConfig struct {
	SMTPHost string `envconfig:"NOTIFICATIONS_SMTP_HOST" default:"smtp.gmail.com"`
	SMTPPort int    `envconfig:"NOTIFICATIONS_SMTP_PORT" default:"587"`
	Username string `envconfig:"NOTIFICATIONS_SMTP_USER"`
	Password string `envconfig:"NOTIFICATIONS_SMTP_PASSWORD"`
	From     string `envconfig:"NOTIFICATIONS_SMTP_FROM"`
}

// Sender returns the envelope sender, falling back to the SMTP username.
func (e EmailConfig) Sender() string {
	if from := strings.TrimSpace(e.From); from != "" {
		return from
	}
	return strings.TrimSpace(e.Username)
}

// RealtimeConfig tunes the real-time delivery engine.
type RealtimeConfig struct {
	RetryInterval time.Duration `envconfig:"NOTIFICATIONS_REALTIME_RETRY_INTERVAL" default:"5s"`
	MaxRetries    int           `envconfig:"NOTIFICATIONS_REALTIME_MAX_RETRIES" default:"3"`
	AckTimeout    time.Duration `envconfig:"NOTIFICATIONS_REALTIME_ACK_TIMEOUT" default:"5s"`
	SweepInterval time.Duration `envconfig:"NOTIFICATIONS_REALTIME_SWEEP_INTERVAL" default:"60s"`
	Retention     time.Duration `envconfig:"NOTIFICATIONS_REALTIME_RETENTION" default:"24h"`
}

func (r RealtimeConfig) validate() error {
	if r.RetryInterval <= 0 || r.AckTimeout <= 0 || r.SweepInterval <= 0 || r.Retention <= 0 {
		return fmt.Errorf("realtime intervals must be positive")
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("realtime max retries must not be negative")
	}
	return nil
}

// GatewayConfig controls WebSocket admission.
type GatewayConfig struct {
	ConnectPoints   int           `envconfig:"NOTIFICATIONS_GATEWAY_CONNECT_POINTS" default:"100"`
	ConnectDuration time.Duration `envconfig:"NOTIFICATIONS_GATEWAY_CONNECT_DURATION" default:"60s"`
	AllowedOrigins  []string      `envconfig:"NOTIFICATIONS_GATEWAY_ALLOWED_ORIGINS" default:"*"`
	TrustProxy      bool          `envconfig:"NOTIFICATIONS_GATEWAY_TRUST_PROXY" default:"false"`
}

type FeatureFlagsConfig struct {
	AutoMigrate      bool `envconfig:"NOTIFICATIONS_AUTO_MIGRATE" default:"false"`
	DeadLetterToDB   bool `envconfig:"NOTIFICATIONS_DEAD_LETTER_TO_DB" default:"true"`
	ConsumerDisabled bool `envconfig:"NOTIFICATIONS_CONSUMER_DISABLED" default:"false"`
}

// CronConfig controls the cluster-wide maintenance cycle. The pending sweep
// runs per process on RealtimeConfig.SweepInterval.
type CronConfig struct {
	MaintenanceInterval     time.Duration `envconfig:"NOTIFICATIONS_CRON_MAINTENANCE_INTERVAL" default:"24h"`
	DeadLetterRetentionDays int           `envconfig:"NOTIFICATIONS_CRON_DEAD_LETTER_RETENTION_DAYS" default:"30"`
	LockName                string        `envconfig:"NOTIFICATIONS_CRON_LOCK_NAME" default:"cluster-maintenance"`
	LockTTL                 time.Duration `envconfig:"NOTIFICATIONS_CRON_LOCK_TTL" default:"25h"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"NOTIFICATIONS_EVENTING_IDEMPOTENCY_TTL" default:"24h"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
