package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/payment-dashboard/internal"
	"github.com/frahmantamala/payment-dashboard/internal/permission"
	"github.com/frahmantamala/payment-dashboard/internal/transport"
)

// RBACAuthorization guards routes with the static permission table, using
// the role of the session's signed-in principal.
type RBACAuthorization struct {
	*transport.BaseHandler
	logger *slog.Logger
}

func NewRBACAuthorization(logger *slog.Logger) *RBACAuthorization {
	return &RBACAuthorization{
		BaseHandler: transport.NewBaseHandler(logger),
		logger:      logger,
	}
}

// RequireMenuAccess lets a request through when the role may perform at
// least one action under the {menu} URL parameter.
func (ra *RBACAuthorization) RequireMenuAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := MachineFromContext(r.Context())
		if !ok {
			ra.logger.Warn("authorization check failed: session not found in context")
			ra.WriteAppError(w, internal.ErrSessionMissing)
			return
		}

		menu, known := permission.ParseMenu(chi.URLParam(r, "menu"))
		if !known {
			ra.WriteAppError(w, internal.ErrUnknownMenu)
			return
		}

		role := m.Session().Role()
		if !permission.CanAccessMenu(role, menu) {
			ra.logger.WarnContext(r.Context(), "access denied: menu not available for role",
				"session_id", m.SessionID(),
				"role", role,
				"menu", menu)
			ra.WriteAppError(w, internal.ErrMenuForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireAction lets a request through when the role holds action on menu.
func (ra *RBACAuthorization) RequireAction(menu permission.Menu, action permission.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m, ok := MachineFromContext(r.Context())
			if !ok {
				ra.logger.Warn("authorization check failed: session not found in context")
				ra.WriteAppError(w, internal.ErrSessionMissing)
				return
			}

			role := m.Session().Role()
			if !permission.HasPermission(role, menu, action) {
				ra.logger.WarnContext(r.Context(), "access denied: insufficient permissions",
					"session_id", m.SessionID(),
					"role", role,
					"menu", menu,
					"required_action", action)
				ra.WriteAppError(w, internal.NewForbiddenError("Action is not permitted for this role", internal.ErrCodeMenuForbidden))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthenticated rejects requests from sessions without a principal.
func (ra *RBACAuthorization) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := MachineFromContext(r.Context())
		if !ok || !m.Session().Authenticated() {
			ra.WriteAppError(w, internal.NewUnauthorizedError("Sign in required", internal.ErrCodeSessionMissing))
			return
		}
		next.ServeHTTP(w, r)
	})
}
