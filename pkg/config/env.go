package config

const EnvPrefix = "MARKETPLACE"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	OrderNumberStrategyRandom   = "random"
	OrderNumberStrategySequence = "sequence"
)

const (
	EnvAppEnv                  = "MARKETPLACE_APP_ENV"
	EnvLogLevel                = "MARKETPLACE_LOG_LEVEL"
	EnvDBDSN                   = "MARKETPLACE_DB_DSN"
	EnvDBDriver                = "MARKETPLACE_DB_DRIVER"
	EnvDBHost                  = "MARKETPLACE_DB_HOST"
	EnvDBUser                  = "MARKETPLACE_DB_USER"
	EnvDBName                  = "MARKETPLACE_DB_NAME"
	EnvRedisURL                = "MARKETPLACE_REDIS_URL"
	EnvGCPProjectID            = "MARKETPLACE_GCP_PROJECT_ID"
	EnvPubSubNotificationTopic = "MARKETPLACE_PUBSUB_NOTIFICATION_TOPIC"
	EnvPubSubNotificationSub   = "MARKETPLACE_PUBSUB_NOTIFICATION_SUBSCRIPTION"
	EnvCheckoutTaxRate         = "MARKETPLACE_CHECKOUT_TAX_RATE"
	EnvCheckoutFlatShipping    = "MARKETPLACE_CHECKOUT_FLAT_SHIPPING"
	EnvOrderNumberStrategy     = "MARKETPLACE_ORDER_NUMBER_STRATEGY"
	EnvOrdersDeliveryWindow    = "MARKETPLACE_ORDERS_DELIVERY_WINDOW"
	EnvOrdersPendingTTL        = "MARKETPLACE_ORDERS_PENDING_TTL"
	EnvEventingIdempotencyTTL  = "MARKETPLACE_EVENTING_IDEMPOTENCY_TTL"
	EnvCronOutboxRetentionDays = "MARKETPLACE_CRON_OUTBOX_RETENTION_DAYS"
	EnvOpsMetricsAddr          = "MARKETPLACE_OPS_METRICS_ADDR"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
