package config

const (
	EnvPrefix = "TABLESYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	ChangeStreamRedis  = "redis"
	ChangeStreamMemory = "memory"
)

const (
	EnvAppEnv             = "TABLESYNC_APP_ENV"
	EnvPort               = "TABLESYNC_APP_PORT"
	EnvDBDSN              = "TABLESYNC_DB_DSN"
	EnvDBHost             = "TABLESYNC_DB_HOST"
	EnvDBPort             = "TABLESYNC_DB_PORT"
	EnvDBUser             = "TABLESYNC_DB_USER"
	EnvDBPassword         = "TABLESYNC_DB_PASSWORD"
	EnvDBName             = "TABLESYNC_DB_NAME"
	EnvRedisURL           = "TABLESYNC_REDIS_URL"
	EnvJWTSecret          = "TABLESYNC_JWT_SECRET"
	EnvJWTIssuer          = "TABLESYNC_JWT_ISSUER"
	EnvGCPProjectID       = "TABLESYNC_GCP_PROJECT_ID"
	EnvPubSubOrdersTopic  = "TABLESYNC_PUBSUB_ORDERS_TOPIC"
	EnvPubSubAlertsSub    = "TABLESYNC_PUBSUB_ALERTS_SUBSCRIPTION"
	EnvPubSubAnalyticsSub = "TABLESYNC_PUBSUB_ANALYTICS_SUBSCRIPTION"
	EnvChangeStreamDriver = "TABLESYNC_CHANGESTREAM_DRIVER"
	EnvOrdersMaxAttempts  = "TABLESYNC_ORDERS_MAX_WRITE_ATTEMPTS"
	EnvOrdersPendingTTL   = "TABLESYNC_ORDERS_PENDING_TTL"
	EnvFeedHistoryWindow  = "TABLESYNC_FEED_HISTORY_WINDOW"
)
