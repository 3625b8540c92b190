package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mmretail/settlement-backend/pkg/enums"
)

const (
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "SETTLE_DB_DSN"
	EnvDBHost = "SETTLE_DB_HOST"
	EnvDBUser = "SETTLE_DB_USER"
	EnvDBName = "SETTLE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	Platform PlatformConfig
	Identity IdentityConfig
	Split    SplitConfig
	Recharge RechargeConfig
	Pipeline PipelineConfig
}

// Load builds the immutable configuration snapshot consumed by every
// component constructor. Missing required values abort startup.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Platform.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Split.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Pipeline.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"SETTLE_APP_ENV" required:"true"`
	Port         string `envconfig:"SETTLE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"SETTLE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"SETTLE_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLE_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"SETTLE_DB_DSN"`
	Driver string `envconfig:"SETTLE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"SETTLE_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLE_DB_USER"`
	LegacyPassword string `envconfig:"SETTLE_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLE_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	AutoMigrate bool `envconfig:"SETTLE_DB_AUTO_MIGRATE" default:"false"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLE_REDIS_URL"`
	Address      string        `envconfig:"SETTLE_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLE_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// PlatformConfig describes the bkfunds settlement platform endpoint and the
// signing credentials for it.
type PlatformConfig struct {
	BaseURL        string        `envconfig:"SETTLE_PLATFORM_URL" required:"true"`
	AppID          string        `envconfig:"SETTLE_PLATFORM_APP_ID" required:"true"`
	NodeID         string        `envconfig:"SETTLE_PLATFORM_NODE_ID" required:"true"`
	PrivateKeyPEM  string        `envconfig:"SETTLE_PLATFORM_PRIVATE_KEY" required:"true"`
	RequestTimeout time.Duration `envconfig:"SETTLE_PLATFORM_TIMEOUT" default:"30s"`
	RetryCount     int           `envconfig:"SETTLE_PLATFORM_RETRY_COUNT" default:"3"`
}

func (p PlatformConfig) validate() error {
	if !strings.Contains(p.PrivateKeyPEM, "-----BEGIN") {
		return fmt.Errorf("SETTLE_PLATFORM_PRIVATE_KEY must be PEM encoded")
	}
	if _, err := url.Parse(p.BaseURL); err != nil {
		return fmt.Errorf("invalid platform url: %w", err)
	}
	return nil
}

// IdentityConfig controls dynamic-vs-static merchant and store resolution.
// When a dynamic toggle is off, or a record carries no value of its own, the
// fallback pair is used.
type IdentityConfig struct {
	DynamicMerchantID  bool   `envconfig:"SETTLE_IDENTITY_DYNAMIC_MERCHANT" default:"true"`
	DynamicStoreID     bool   `envconfig:"SETTLE_IDENTITY_DYNAMIC_STORE" default:"true"`
	FallbackMerchantID string `envconfig:"SETTLE_IDENTITY_FALLBACK_MERCHANT" required:"true"`
	FallbackStoreID    string `envconfig:"SETTLE_IDENTITY_FALLBACK_STORE" required:"true"`
}

type SplitConfig struct {
	PayerMerchantID   string `envconfig:"SETTLE_SPLIT_PAYER_MERCHANT"`
	FranchiseePayeeID string `envconfig:"SETTLE_SPLIT_FRANCHISEE_PAYEE"`
	CompanyPayeeID    string `envconfig:"SETTLE_SPLIT_COMPANY_PAYEE"`
	PayerAccountType  string `envconfig:"SETTLE_SPLIT_PAYER_ACCOUNT_TYPE" default:"1"`
	PayeeAccountType  string `envconfig:"SETTLE_SPLIT_PAYEE_ACCOUNT_TYPE" default:"0"`
	ArriveTime        string `envconfig:"SETTLE_SPLIT_ARRIVE_TIME" default:"T0"`
}

func (s SplitConfig) validate() error {
	if !enums.AccountType(s.PayerAccountType).IsValid() {
		return fmt.Errorf("invalid payer account type %q", s.PayerAccountType)
	}
	if !enums.AccountType(s.PayeeAccountType).IsValid() {
		return fmt.Errorf("invalid payee account type %q", s.PayeeAccountType)
	}
	if !enums.ArriveTime(s.ArriveTime).IsValid() {
		return fmt.Errorf("invalid arrive time %q", s.ArriveTime)
	}
	return nil
}

type RechargeConfig struct {
	UploadModeNormal   string `envconfig:"SETTLE_UPLOAD_MODE_NORMAL" default:"3"`
	UploadModeRecharge string `envconfig:"SETTLE_UPLOAD_MODE_RECHARGE" default:"2"`
	AccountType        string `envconfig:"SETTLE_RECHARGE_ACCOUNT_TYPE" default:"2"`
	PayerMerchantID    string `envconfig:"SETTLE_RECHARGE_PAYER_MERCHANT"`
}

// PipelineConfig bounds one reconciliation run. The orchestrator consumes the
// snapshot per run; changes take effect on the next scheduled trigger.
type PipelineConfig struct {
	BatchSize   int           `envconfig:"SETTLE_PIPELINE_BATCH_SIZE" default:"100"`
	WorkerCount int           `envconfig:"SETTLE_PIPELINE_WORKERS" default:"4"`
	Interval    time.Duration `envconfig:"SETTLE_PIPELINE_INTERVAL" default:"5m"`
	// DailyAt, when set (HH:MM), replaces the fixed interval with one run per
	// day at the given wall-clock time.
	DailyAt string `envconfig:"SETTLE_PIPELINE_DAILY_AT"`
}

func (p PipelineConfig) validate() error {
	if p.BatchSize <= 0 {
		return fmt.Errorf("pipeline batch size must be positive")
	}
	if p.WorkerCount <= 0 {
		return fmt.Errorf("pipeline worker count must be positive")
	}
	if _, _, err := p.DailyTrigger(); err != nil {
		return err
	}
	return nil
}

// DailyTrigger parses the configured HH:MM daily run time as an offset from
// midnight. ok=false means no daily time is set and interval scheduling
// applies.
func (p PipelineConfig) DailyTrigger() (offset time.Duration, ok bool, err error) {
	if strings.TrimSpace(p.DailyAt) == "" {
		return 0, false, nil
	}
	parsed, err := time.Parse("15:04", strings.TrimSpace(p.DailyAt))
	if err != nil {
		return 0, false, fmt.Errorf("invalid daily run time %q: %w", p.DailyAt, err)
	}
	offset = time.Duration(parsed.Hour())*time.Hour + time.Duration(parsed.Minute())*time.Minute
	return offset, true, nil
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
