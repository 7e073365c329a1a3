package internal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of every variable read by LoadConfigFromEnv.
const EnvPrefix = "DASHBOARD"

type Config struct {
	Env           string              `mapstructure:"env" envconfig:"APP_ENV" default:"development"`
	Server        ServerConfig        `mapstructure:"http_server" envconfig:"HTTP_SERVER"`
	Database      DatabaseConfig      `mapstructure:"database" envconfig:"DATABASE"`
	Redis         RedisConfig         `mapstructure:"redis" envconfig:"REDIS"`
	Security      SecurityConfig      `mapstructure:"security" envconfig:"SECURITY" validate:"required"`
	UsersAPI      UsersAPIConfig      `mapstructure:"users_api" envconfig:"USERS_API"`
	Auth          AuthConfig          `mapstructure:"auth" envconfig:"AUTH"`
	MockAPI       MockAPIConfig       `mapstructure:"mock_api" envconfig:"MOCK_API"`
	Observability ObservabilityConfig `mapstructure:"observability" envconfig:"OBSERVABILITY"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
	BaseURL           string        `mapstructure:"base_url" envconfig:"BASE_URL"`
	AllowedOrigins    string        `mapstructure:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
}

// DatabaseConfig is optional: without a source the audit trail is disabled.
type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"10" validate:"omitempty,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"5" validate:"omitempty,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"CONN_MAX_IDLE_TIME" default:"5m"`
	Source          string        `mapstructure:"source" envconfig:"SOURCE"`
}

// RedisConfig is optional: without an address access tokens are kept in memory.
type RedisConfig struct {
	Addr      string `mapstructure:"addr" envconfig:"ADDR"`
	Password  string `mapstructure:"password" envconfig:"PASSWORD"`
	DB        int    `mapstructure:"db" envconfig:"DB" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix" envconfig:"KEY_PREFIX" default:"dashboard"`
}

type SecurityConfig struct {
	CookieName    string        `mapstructure:"cookie_name" envconfig:"COOKIE_NAME" default:"dashboard_session" validate:"required"`
	CookieSecure  bool          `mapstructure:"cookie_secure" envconfig:"COOKIE_SECURE"`
	SessionSecret string        `mapstructure:"session_secret" envconfig:"SESSION_SECRET" validate:"required,min=32"`
	SessionTTL    time.Duration `mapstructure:"session_ttl" envconfig:"SESSION_TTL" default:"12h" validate:"required,min=1m"`
}

type UsersAPIConfig struct {
	BaseURL string        `mapstructure:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	APIKey  string        `mapstructure:"api_key" envconfig:"API_KEY"`
	Timeout time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT" default:"10s" validate:"required,min=1s"`
}

type AuthConfig struct {
	ResendCooldown time.Duration `mapstructure:"resend_cooldown" envconfig:"RESEND_COOLDOWN" default:"60s" validate:"required,min=1s"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"30m" validate:"required,min=1m"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval" envconfig:"SWEEP_INTERVAL" default:"1m" validate:"required,min=1s"`
	LoginRateLimit int           `mapstructure:"login_rate_limit" envconfig:"LOGIN_RATE_LIMIT" default:"20" validate:"min=1"`
}

type MockAPIConfig struct {
	Port     int           `mapstructure:"port" envconfig:"PORT" default:"8081" validate:"min=1,max=65535"`
	CodeTTL  time.Duration `mapstructure:"code_ttl" envconfig:"CODE_TTL" default:"10m" validate:"required,min=1m"`
	TokenTTL time.Duration `mapstructure:"token_ttl" envconfig:"TOKEN_TTL" default:"12h" validate:"required,min=1m"`
	Users    []SeedUser    `mapstructure:"users" ignored:"true" validate:"dive"`
	SMTP     SMTPConfig    `mapstructure:"smtp" envconfig:"SMTP"`
}

type SeedUser struct {
	Email       string `mapstructure:"email" validate:"required,email"`
	Password    string `mapstructure:"password" validate:"required,min=6"`
	IsStaff     bool   `mapstructure:"is_staff"`
	IsSuperuser bool   `mapstructure:"is_superuser"`
	IsActive    bool   `mapstructure:"is_active"`
	IsVerified  bool   `mapstructure:"is_verified"`
	IsBlocked   bool   `mapstructure:"is_blocked"`
}

// SMTPConfig is optional: without a host codes are written to the log.
type SMTPConfig struct {
	Host     string `mapstructure:"host" envconfig:"HOST"`
	Port     int    `mapstructure:"port" envconfig:"PORT" default:"587"`
	Username string `mapstructure:"username" envconfig:"USERNAME"`
	Password string `mapstructure:"password" envconfig:"PASSWORD"`
	From     string `mapstructure:"from" envconfig:"FROM" default:"no-reply@dashboard.local" validate:"omitempty,email"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics" envconfig:"METRICS"`
	Logging LoggingConfig `mapstructure:"logging" envconfig:"LOGGING"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" envconfig:"ENABLED"`
	Path    string `mapstructure:"path" envconfig:"PATH" default:"/metrics" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" envconfig:"LEVEL" default:"info" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" envconfig:"FORMAT" default:"text" validate:"required,oneof=json text"`
}

// LoadConfigFromEnv reads the configuration from DASHBOARD_* variables
// (docker deployment).
func LoadConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ----------------- VALIDATION -----------------

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.UsersAPI.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("users api config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return nil
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) Enabled() bool {
	return c.Source != ""
}

func (c *UsersAPIConfig) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base_url must use http or https, got %q", u.Scheme)
	}
	return nil
}
