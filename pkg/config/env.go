package config

// EnvPrefix is handed to envconfig; every tag spells out its full name so the
// prefix only matters for untagged fields.
const EnvPrefix = "ASSETLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "ASSETLEDGER_APP_ENV"
	EnvPort     = "ASSETLEDGER_APP_PORT"
	EnvLogLevel = "ASSETLEDGER_LOG_LEVEL"

	EnvDBDSN  = "ASSETLEDGER_DB_DSN"
	EnvDBHost = "ASSETLEDGER_DB_HOST"
	EnvDBUser = "ASSETLEDGER_DB_USER"
	EnvDBName = "ASSETLEDGER_DB_NAME"

	EnvUseSQLite = "ASSETLEDGER_USE_SQLITE"
	EnvRedisURL  = "ASSETLEDGER_REDIS_URL"

	EnvJWTSecret = "ASSETLEDGER_JWT_SECRET"
	EnvJWTIssuer = "ASSETLEDGER_JWT_ISSUER"

	EnvDefaultCurrency      = "ASSETLEDGER_DEFAULT_CURRENCY"
	EnvViewsWindowMinutes   = "ASSETLEDGER_VIEWS_WINDOW_MINUTES"
	EnvStoragePrefixes      = "ASSETLEDGER_STORAGE_PUBLIC_PREFIXES"
	EnvPubSubPaymentsSub    = "ASSETLEDGER_PUBSUB_PAYMENTS_SUBSCRIPTION"
	EnvPubSubEntitlementsTp = "ASSETLEDGER_PUBSUB_ENTITLEMENTS_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
