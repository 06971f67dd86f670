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
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Checkout     CheckoutConfig
	Orders       OrdersConfig
	Cron         CronConfig
	Ops          OpsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Checkout.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"MARKETPLACE_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"MARKETPLACE_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"MARKETPLACE_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"MARKETPLACE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"MARKETPLACE_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"MARKETPLACE_DB_DSN"`
	Driver string `envconfig:"MARKETPLACE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"MARKETPLACE_DB_HOST"`
	LegacyPort     int    `envconfig:"MARKETPLACE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"MARKETPLACE_DB_USER"`
	LegacyPassword string `envconfig:"MARKETPLACE_DB_PASSWORD"`
	LegacyName     string `envconfig:"MARKETPLACE_DB_NAME"`
	LegacySSLMode  string `envconfig:"MARKETPLACE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"MARKETPLACE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MARKETPLACE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"MARKETPLACE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"MARKETPLACE_DB_SLOW_QUERY" default:"250ms"`
}

// IsSQLite reports whether the sqlite driver is selected (local development only).
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"MARKETPLACE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"MARKETPLACE_REDIS_ADDR"`
	Password     string        `envconfig:"MARKETPLACE_REDIS_PASSWORD"`
	DB           int           `envconfig:"MARKETPLACE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"MARKETPLACE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MARKETPLACE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"MARKETPLACE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"MARKETPLACE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"MARKETPLACE_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL time.Duration `envconfig:"MARKETPLACE_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"MARKETPLACE_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"MARKETPLACE_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"MARKETPLACE_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"MARKETPLACE_PUBSUB_NOTIFICATION_TOPIC" default:"marketplace-notification-events"`
	NotificationSubscription string `envconfig:"MARKETPLACE_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"MARKETPLACE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"MARKETPLACE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type CheckoutConfig struct {
	TaxRate             float64 `envconfig:"MARKETPLACE_CHECKOUT_TAX_RATE" default:"0.10"`
	FlatShipping        float64 `envconfig:"MARKETPLACE_CHECKOUT_FLAT_SHIPPING" default:"50"`
	OrderNumberStrategy string  `envconfig:"MARKETPLACE_ORDER_NUMBER_STRATEGY" default:"random"`
	OrderNumberAttempts int     `envconfig:"MARKETPLACE_ORDER_NUMBER_ATTEMPTS" default:"5"`
}

// UsesSequence reports whether order numbers come from the redis daily sequence.
func (c CheckoutConfig) UsesSequence() bool {
	return strings.EqualFold(strings.TrimSpace(c.OrderNumberStrategy), OrderNumberStrategySequence)
}

func (c CheckoutConfig) validate() error {
	if c.TaxRate < 0 || c.TaxRate > 1 {
		return fmt.Errorf("%s must be within [0,1], got %v", EnvCheckoutTaxRate, c.TaxRate)
	}
	if c.FlatShipping < 0 {
		return fmt.Errorf("%s must be non-negative, got %v", EnvCheckoutFlatShipping, c.FlatShipping)
	}
	switch strings.ToLower(strings.TrimSpace(c.OrderNumberStrategy)) {
	case "", OrderNumberStrategyRandom, OrderNumberStrategySequence:
	default:
		return fmt.Errorf("%s must be %q or %q", EnvOrderNumberStrategy, OrderNumberStrategyRandom, OrderNumberStrategySequence)
	}
	return nil
}

type OrdersConfig struct {
	DeliveryWindow  time.Duration `envconfig:"MARKETPLACE_ORDERS_DELIVERY_WINDOW" default:"168h"`
	PendingOrderTTL time.Duration `envconfig:"MARKETPLACE_ORDERS_PENDING_TTL" default:"72h"`
}

type CronConfig struct {
	Interval                  time.Duration `envconfig:"MARKETPLACE_CRON_INTERVAL" default:"1h"`
	JobTimeout                time.Duration `envconfig:"MARKETPLACE_CRON_JOB_TIMEOUT" default:"15m"`
	OutboxRetentionDays       int           `envconfig:"MARKETPLACE_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	NotificationRetentionDays int           `envconfig:"MARKETPLACE_CRON_NOTIFICATION_RETENTION_DAYS" default:"90"`
}

type OpsConfig struct {
	MetricsAddr string `envconfig:"MARKETPLACE_OPS_METRICS_ADDR" default:":9090"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
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
