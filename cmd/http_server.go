package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	red "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/frahmantamala/payment-dashboard/api"
	"github.com/frahmantamala/payment-dashboard/internal"
	"github.com/frahmantamala/payment-dashboard/internal/audit"
	auditPostgres "github.com/frahmantamala/payment-dashboard/internal/audit/postgres"
	"github.com/frahmantamala/payment-dashboard/internal/auth"
	"github.com/frahmantamala/payment-dashboard/internal/core/events"
	"github.com/frahmantamala/payment-dashboard/internal/metrics"
	"github.com/frahmantamala/payment-dashboard/internal/transport/middleware"
	"github.com/frahmantamala/payment-dashboard/internal/transport/rest"
	"github.com/frahmantamala/payment-dashboard/internal/usersapi"
	redisStore "github.com/frahmantamala/payment-dashboard/internal/usersapi/redis"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the dashboard HTTP server`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startHTTPServer()
	},
}

type Dependencies struct {
	Config   *internal.Config
	Logger   *slog.Logger
	DB       *sqlx.DB
	Redis    *red.Client
	Bus      *events.EventBus
	Registry *auth.Registry
	Router   *chi.Mux
}

// Close releases the connections opened by initializeDependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Error("Database close error", "error", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
	}
}

func startHTTPServer() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := initializeDependencies(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		deps.Logger.Info("Starting HTTP server", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return deps.Registry.Run(gctx, cfg.Auth.SweepInterval, cfg.Auth.IdleTimeout)
	})

	g.Go(func() error {
		<-gctx.Done()
		deps.Logger.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
		if err := deps.Bus.Drain(shutdownCtx); err != nil {
			deps.Logger.Warn("pending audit events dropped", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	deps.Logger.Info("Server stopped")
	return nil
}

func initializeDependencies(ctx context.Context, cfg *internal.Config) (*Dependencies, error) {
	lg := logger.LoggerWrapper()
	deps := &Dependencies{Config: cfg, Logger: lg, Bus: events.NewEventBus(lg)}

	checks := map[string]rest.PingFunc{}
	recorders := auth.Recorders{}

	if cfg.Database.Enabled() {
		db, err := initDB(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		deps.DB = db
		checks["postgres"] = db.PingContext

		gormDB, err := initGorm(db)
		if err != nil {
			deps.Close()
			return nil, err
		}
		auditService := audit.NewService(auditPostgres.NewAuditRepository(gormDB), lg)
		auditService.Subscribe(deps.Bus)
		recorders = append(recorders, events.NewAttemptPublisher(deps.Bus))
	} else {
		lg.Warn("database not configured, audit trail disabled")
	}

	var tokens usersapi.TokenStore
	if cfg.Redis.Addr != "" {
		deps.Redis = red.NewClient(&red.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisStore.NewTokenStore(deps.Redis, cfg.Redis.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		checks["redis"] = store.Ping
		tokens = store
	} else {
		lg.Info("redis not configured, keeping users API tokens in memory")
		tokens = usersapi.NewMemoryTokenStore()
	}

	var metricsHandler http.Handler
	reg := prometheus.NewRegistry()
	if cfg.Observability.Metrics.Enabled {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorders = append(recorders, metrics.NewCollector(reg))
		metricsHandler = metrics.Handler(reg)
	}

	client := usersapi.NewClient(usersapi.Config{
		BaseURL:  cfg.UsersAPI.BaseURL,
		APIKey:   cfg.UsersAPI.APIKey,
		Timeout:  cfg.UsersAPI.Timeout,
		TokenTTL: cfg.Security.SessionTTL,
	}, lg)

	deps.Registry = auth.NewRegistry(
		func(sid string) *auth.Machine {
			return auth.NewMachine(client.ForSession(sid, tokens),
				auth.WithSessionID(sid),
				auth.WithRecorder(recorders),
				auth.WithResendCooldown(cfg.Auth.ResendCooldown),
				auth.WithLogger(lg.With("session_id", sid)),
			)
		},
		auth.WithRegistryLogger(lg),
		auth.OnEvict(func(sid string) {
			if err := tokens.Delete(context.Background(), sid); err != nil {
				lg.Warn("failed to drop users API token", "session_id", sid, "error", err)
			}
		}),
	)
	if cfg.Observability.Metrics.Enabled {
		metrics.RegisterSessionGauge(reg, deps.Registry.Len)
	}

	validator, err := middleware.NewOpenAPIValidator(ctx, api.OpenAPI, rest.APIPrefix)
	if err != nil {
		deps.Close()
		return nil, err
	}

	cookies := auth.NewCookieIssuer(cfg.Security.CookieName, cfg.Security.SessionSecret, cfg.Security.SessionTTL, cfg.Security.CookieSecure)

	deps.Router = chi.NewRouter()
	rest.RegisterAllRoutes(deps.Router, rest.Dependencies{
		AuthHandler:    auth.NewHandler(deps.Registry, cookies, cfg.UsersAPI.Timeout),
		RBAC:           auth.NewRBACAuthorization(lg),
		Health:         rest.NewHealthHandler(checks),
		Validator:      validator,
		OpenAPI:        api.OpenAPI,
		Metrics:        metricsHandler,
		MetricsPath:    cfg.Observability.Metrics.Path,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Production:     cfg.IsProduction(),
		LoginRateLimit: cfg.Auth.LoginRateLimit,
	}, lg)

	return deps, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}

// initGorm shares the sqlx pool with gorm.
func initGorm(db *sqlx.DB) (*gorm.DB, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gorm: %w", err)
	}
	return gormDB, nil
}
