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
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	Ledger       LedgerConfig
	Storage      StorageConfig
	Views        ViewsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(cfg.FeatureFlags.UseSQLite); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"ASSETLEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"ASSETLEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"ASSETLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ASSETLEDGER_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"ASSETLEDGER_CORS_ALLOWED_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"ASSETLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ASSETLEDGER_DB_DSN"`
	Driver string `envconfig:"ASSETLEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"ASSETLEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"ASSETLEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"ASSETLEDGER_DB_USER"`
	LegacyPassword string `envconfig:"ASSETLEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"ASSETLEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"ASSETLEDGER_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"ASSETLEDGER_SQLITE_PATH" default:"assetledger.db"`

	MaxOpenConns    int           `envconfig:"ASSETLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ASSETLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ASSETLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ASSETLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"ASSETLEDGER_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ASSETLEDGER_REDIS_URL"`
	Address      string        `envconfig:"ASSETLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"ASSETLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"ASSETLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ASSETLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ASSETLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ASSETLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ASSETLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ASSETLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"ASSETLEDGER_REDIS_KEY_PREFIX" default:"al"`
}

// Enabled reports whether any redis endpoint has been configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type JWTConfig struct {
	Secret            string `envconfig:"ASSETLEDGER_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"ASSETLEDGER_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"ASSETLEDGER_JWT_EXPIRATION_MINUTES" default:"60"`
}

type RateLimitConfig struct {
	ViewWindow  time.Duration `envconfig:"ASSETLEDGER_RATE_LIMIT_VIEW_WINDOW" default:"1m"`
	ViewIPLimit int           `envconfig:"ASSETLEDGER_RATE_LIMIT_VIEW_IP_LIMIT" default:"120"`
}

type FeatureFlagsConfig struct {
	UseSQLite       bool `envconfig:"ASSETLEDGER_USE_SQLITE" default:"false"`
	AutoMigrate     bool `envconfig:"ASSETLEDGER_AUTO_MIGRATE" default:"false"`
	ViewRedisClaims bool `envconfig:"ASSETLEDGER_VIEWS_REDIS_CLAIM" default:"false"`
}

type EventingConfig struct {
	PaymentIdempotencyTTL time.Duration `envconfig:"ASSETLEDGER_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

// LedgerConfig carries the configured fallbacks consulted by the settings
// provider when no database override exists.
type LedgerConfig struct {
	DefaultCurrency   string        `envconfig:"ASSETLEDGER_DEFAULT_CURRENCY" default:"USD"`
	FreePointsDefault int           `envconfig:"ASSETLEDGER_FREE_POINTS_DEFAULT" default:"0"`
	SettingsCacheTTL  time.Duration `envconfig:"ASSETLEDGER_SETTINGS_CACHE_TTL" default:"1m"`
	SettingsCacheSize int           `envconfig:"ASSETLEDGER_SETTINGS_CACHE_SIZE" default:"64"`
}

type StorageConfig struct {
	PrimaryRoot    string   `envconfig:"ASSETLEDGER_STORAGE_PRIMARY_ROOT" default:"storage/app"`
	FallbackRoot   string   `envconfig:"ASSETLEDGER_STORAGE_FALLBACK_ROOT" default:"storage/app/public"`
	PublicBaseURL  string   `envconfig:"ASSETLEDGER_STORAGE_PUBLIC_BASE_URL"`
	PublicPrefixes []string `envconfig:"ASSETLEDGER_STORAGE_PUBLIC_PREFIXES" default:"public/,/storage/"`
}

type ViewsConfig struct {
	WindowMinutes int `envconfig:"ASSETLEDGER_VIEWS_WINDOW_MINUTES" default:"30"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"ASSETLEDGER_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PaymentsSubscription string `envconfig:"ASSETLEDGER_PUBSUB_PAYMENTS_SUBSCRIPTION"`
	EntitlementsTopic    string `envconfig:"ASSETLEDGER_PUBSUB_ENTITLEMENTS_TOPIC" default:"entitlement-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ASSETLEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ASSETLEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ASSETLEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`

	// MetricsAddr exposes /metrics from the publisher when set, e.g. ":9102".
	MetricsAddr string `envconfig:"ASSETLEDGER_OUTBOX_METRICS_ADDR"`
}

func (db *DBConfig) ensureDSN(useSQLite bool) error {
	if useSQLite {
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = db.SQLitePath
		}
		return nil
	}
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
