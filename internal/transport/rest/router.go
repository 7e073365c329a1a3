package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/httprate"

	"github.com/frahmantamala/payment-dashboard/internal"
	"github.com/frahmantamala/payment-dashboard/internal/auth"
	"github.com/frahmantamala/payment-dashboard/internal/transport"
	"github.com/frahmantamala/payment-dashboard/internal/transport/middleware"
	"github.com/frahmantamala/payment-dashboard/internal/transport/swagger"
)

const APIPrefix = "/api/v1"

// Dependencies are the collaborators mounted by RegisterAllRoutes. Nil
// optional fields leave their routes out.
type Dependencies struct {
	AuthHandler *auth.Handler
	RBAC        *auth.RBACAuthorization
	Health      *HealthHandler
	Validator   *middleware.OpenAPIValidator
	OpenAPI     []byte
	Metrics     http.Handler
	MetricsPath string

	AllowedOrigins string
	Production     bool
	// LoginRateLimit is the number of credential and code submissions
	// allowed per client IP and minute. Zero disables the limit.
	LoginRateLimit int
}

func RegisterAllRoutes(router *chi.Mux, deps Dependencies, logger *slog.Logger) {
	healthHandler := deps.Health
	if healthHandler == nil {
		healthHandler = NewHealthHandler(nil)
	}

	// Apply global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	// Serve OpenAPI spec at root (outside API prefix)
	if deps.OpenAPI != nil {
		router.Get(swagger.SpecURL, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			w.Write(deps.OpenAPI)
		})
		router.Handle("/swagger/*", swagger.Handler())
	}

	if deps.Metrics != nil && deps.MetricsPath != "" {
		router.Handle(deps.MetricsPath, deps.Metrics)
	}

	// Mount API under /api/v1 to match OpenAPI basePath
	router.Route(APIPrefix, func(r chi.Router) {
		r.Use(middleware.SecureHeaders(deps.Production))
		if deps.Validator != nil {
			r.Use(deps.Validator.Middleware)
		}

		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if deps.AuthHandler == nil {
			return
		}
		h := deps.AuthHandler
		rbac := deps.RBAC
		if rbac == nil {
			rbac = auth.NewRBACAuthorization(logger)
		}

		r.Group(func(sr chi.Router) {
			sr.Use(h.SessionMiddleware)

			sr.Route("/auth", func(ar chi.Router) {
				ar.Get("/state", h.State)
				ar.Put("/code", h.EnterCode)
				ar.Post("/abandon", h.Abandon)
				ar.Post("/logout", h.Logout)
				ar.Post("/check", h.Check)

				ar.Group(func(lr chi.Router) {
					if deps.LoginRateLimit > 0 {
						lr.Use(loginRateLimit(deps.LoginRateLimit, logger))
					}
					lr.Post("/login", h.Login)
					lr.Post("/confirm", h.Confirm)
					lr.Post("/resend", h.Resend)
				})
			})

			sr.Get("/navigation", h.Navigation)
			sr.With(rbac.RequireMenuAccess).Get("/menus/{menu}", h.Menu)
			sr.Get("/permissions/{menu}/{action}", h.Permission)
		})
	})
}

func loginRateLimit(perMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	base := transport.NewBaseHandler(logger)
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			base.WriteAppError(w, internal.NewTooManyRequestsError(
				"Too many sign-in attempts, please try again later", internal.ErrCodeRateLimited))
		}),
	)
}
