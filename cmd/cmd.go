package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frahmantamala/payment-dashboard/internal"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "payment-dashboard",
	Short: "Payment Dashboard",
	Long:  `Back end of the payment dashboard: two-step sign-in against the users API and role based navigation.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration, then installs the
// process logger from it.
func loadConfig(path string) (*internal.Config, error) {
	// optional .env for local runs
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("error validating config: %w", err)
	}

	logger.Setup(logger.Options{
		Env:    cfg.Env,
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	return cfg, nil
}

func readConfig(path string) (*internal.Config, error) {
	// Check if we're running in Docker environment
	if os.Getenv("APP_ENV") == "production" || os.Getenv("DOCKER_ENV") == "true" {
		// Load configuration from environment variables (Docker deployment)
		return internal.LoadConfigFromEnv()
	}

	// Load configuration from file (development)
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.SetEnvPrefix("ENV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg internal.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults mirrors the envconfig defaults for the file based loader.
func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http_server.port", 8080)
	v.SetDefault("http_server.read_header_timeout", "5s")
	v.SetDefault("http_server.read_timeout", "15s")
	v.SetDefault("http_server.write_timeout", "15s")
	v.SetDefault("http_server.idle_timeout", "60s")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.conn_max_idle_time", "5m")
	v.SetDefault("redis.key_prefix", "dashboard")
	v.SetDefault("security.cookie_name", "dashboard_session")
	v.SetDefault("security.session_ttl", "12h")
	v.SetDefault("users_api.timeout", "10s")
	v.SetDefault("auth.resend_cooldown", "60s")
	v.SetDefault("auth.idle_timeout", "30m")
	v.SetDefault("auth.sweep_interval", "1m")
	v.SetDefault("auth.login_rate_limit", 20)
	v.SetDefault("mock_api.port", 8081)
	v.SetDefault("mock_api.code_ttl", "10m")
	v.SetDefault("mock_api.token_ttl", "12h")
	v.SetDefault("mock_api.smtp.port", 587)
	v.SetDefault("mock_api.smtp.from", "no-reply@dashboard.local")
	v.SetDefault("observability.metrics.path", "/metrics")
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".", "directory holding config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(mockAPICmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(permissionsCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(auditCmd)
}
