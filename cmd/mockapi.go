package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/frahmantamala/payment-dashboard/internal"
	"github.com/frahmantamala/payment-dashboard/internal/mailer"
	"github.com/frahmantamala/payment-dashboard/internal/mockapi"
	"github.com/frahmantamala/payment-dashboard/internal/transport/middleware"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

var mockAPICmd = &cobra.Command{
	Use:   "mockapi",
	Short: "Start the development users API",
	Long:  `Start a local stand-in for the users API with the seed users from config.yml. Codes are mailed through SMTP when configured, otherwise logged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startMockAPI()
	},
}

func startMockAPI() error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	lg := logger.LoggerWrapper().With("component", "mockapi")

	var sender mailer.Sender
	if cfg.MockAPI.SMTP.Host != "" {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.MockAPI.SMTP.Host,
			Port:     cfg.MockAPI.SMTP.Port,
			Username: cfg.MockAPI.SMTP.Username,
			Password: cfg.MockAPI.SMTP.Password,
			From:     cfg.MockAPI.SMTP.From,
		}, lg)
	} else {
		lg.Warn("smtp not configured, one-time codes are written to the log")
		sender = mailer.NewLogSender(lg)
	}

	api, err := mockapi.NewServer(mockapi.Config{
		APIKey:   cfg.UsersAPI.APIKey,
		CodeTTL:  cfg.MockAPI.CodeTTL,
		TokenTTL: cfg.MockAPI.TokenTTL,
		Users:    seedUsers(cfg.MockAPI.Users),
	}, sender, lg)
	if err != nil {
		return fmt.Errorf("failed to build mock users API: %w", err)
	}
	if len(cfg.MockAPI.Users) == 0 {
		lg.Warn("no seed users configured, every sign-in will be rejected")
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(lg))
	router.Use(middleware.LoggingMiddleware(lg))
	router.Mount("/", api.Routes())

	addr := fmt.Sprintf(":%d", cfg.MockAPI.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Starting mock users API", "address", addr, "users", len(cfg.MockAPI.Users))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("mock users API failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func seedUsers(in []internal.SeedUser) []mockapi.SeedUser {
	out := make([]mockapi.SeedUser, 0, len(in))
	for _, u := range in {
		out = append(out, mockapi.SeedUser{
			Email:       u.Email,
			Password:    u.Password,
			IsStaff:     u.IsStaff,
			IsSuperuser: u.IsSuperuser,
			IsActive:    u.IsActive,
			IsVerified:  u.IsVerified,
			IsBlocked:   u.IsBlocked,
		})
	}
	return out
}
