package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "PHOTOFLOW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "PHOTOFLOW_DB_DSN"
	EnvDBHost = "PHOTOFLOW_DB_HOST"
	EnvDBUser = "PHOTOFLOW_DB_USER"
	EnvDBName = "PHOTOFLOW_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App        AppConfig
	Service    ServiceConfig
	DB         DBConfig
	Redis      RedisConfig
	GCP        GCPConfig
	PubSub     PubSubConfig
	Runtime    RuntimeConfig
	Processing ProcessingConfig
	Media      MediaConfig

	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"PHOTOFLOW_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"PHOTOFLOW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"PHOTOFLOW_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"PHOTOFLOW_SERVICE_KIND" default:"worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"PHOTOFLOW_DB_DSN"`
	Driver string `envconfig:"PHOTOFLOW_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"PHOTOFLOW_DB_HOST"`
	LegacyPort     int    `envconfig:"PHOTOFLOW_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"PHOTOFLOW_DB_USER"`
	LegacyPassword string `envconfig:"PHOTOFLOW_DB_PASSWORD"`
	LegacyName     string `envconfig:"PHOTOFLOW_DB_NAME"`
	LegacySSLMode  string `envconfig:"PHOTOFLOW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"PHOTOFLOW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"PHOTOFLOW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"PHOTOFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"PHOTOFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"PHOTOFLOW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"PHOTOFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"PHOTOFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"PHOTOFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"PHOTOFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"PHOTOFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"PHOTOFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"PHOTOFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"PHOTOFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"PHOTOFLOW_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"PHOTOFLOW_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"PHOTOFLOW_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	JobsTopic         string        `envconfig:"PHOTOFLOW_PUBSUB_JOBS_TOPIC" required:"true"`
	JobsSubscription  string        `envconfig:"PHOTOFLOW_PUBSUB_JOBS_SUBSCRIPTION" required:"true"`
	JobIdempotencyTTL time.Duration `envconfig:"PHOTOFLOW_PUBSUB_JOB_IDEMPOTENCY_TTL" default:"24h"`
}

// RuntimeConfig points at the model runtime that serves captioning and
// embedding inference.
type RuntimeConfig struct {
	CaptionURL     string        `envconfig:"PHOTOFLOW_RUNTIME_CAPTION_URL" default:"http://localhost:8093/v1/caption"`
	EmbedURL       string        `envconfig:"PHOTOFLOW_RUNTIME_EMBED_URL" default:"http://localhost:8093/v1/embed"`
	Token          string        `envconfig:"PHOTOFLOW_RUNTIME_TOKEN"`
	WarmupTimeout  time.Duration `envconfig:"PHOTOFLOW_RUNTIME_WARMUP_TIMEOUT" default:"120s"`
	DeviceOverride string        `envconfig:"PHOTOFLOW_RUNTIME_DEVICE"`
}

// ProcessingConfig holds fallback defaults for the processing settings
// singleton. The persisted row wins when present.
type ProcessingConfig struct {
	AutoProcessOnUpload     bool `envconfig:"PHOTOFLOW_PROCESSING_AUTO_ON_UPLOAD" default:"false"`
	ScheduledEnabled        bool `envconfig:"PHOTOFLOW_PROCESSING_SCHEDULED" default:"true"`
	BatchSize               int  `envconfig:"PHOTOFLOW_PROCESSING_BATCH_SIZE" default:"500"`
	TimeoutSeconds          int  `envconfig:"PHOTOFLOW_PROCESSING_TIMEOUT_SECONDS" default:"30"`
	ScheduleHour            int  `envconfig:"PHOTOFLOW_PROCESSING_SCHEDULE_HOUR" default:"2"`
	ScheduleMinute          int  `envconfig:"PHOTOFLOW_PROCESSING_SCHEDULE_MINUTE" default:"0"`
	DelegatedUserBatchLimit int  `envconfig:"PHOTOFLOW_PROCESSING_DELEGATED_BATCH_LIMIT" default:"50"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"PHOTOFLOW_AUTO_MIGRATE" default:"false"`
}

type MediaConfig struct {
	Root        string `envconfig:"PHOTOFLOW_MEDIA_ROOT" default:"/var/lib/photoflow/media"`
	MaxUploadMB int    `envconfig:"PHOTOFLOW_MAX_UPLOAD_MB" default:"200"`
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
