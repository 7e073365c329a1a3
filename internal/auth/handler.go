package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"

	"github.com/frahmantamala/payment-dashboard/internal"
	"github.com/frahmantamala/payment-dashboard/internal/permission"
	"github.com/frahmantamala/payment-dashboard/internal/transport"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

type contextKey string

const contextMachineKey contextKey = "authMachine"

// MachineFromContext returns the machine attached by SessionMiddleware.
func MachineFromContext(ctx context.Context) (*Machine, bool) {
	m, ok := ctx.Value(contextMachineKey).(*Machine)
	return m, ok && m != nil
}

func ContextWithMachine(ctx context.Context, m *Machine) context.Context {
	return context.WithValue(ctx, contextMachineKey, m)
}

// StateResponse is returned by every auth endpoint on success.
type StateResponse struct {
	Outcome Outcome  `json:"outcome"`
	State   Snapshot `json:"state"`
}

type MenuEntry struct {
	Menu    permission.Menu     `json:"menu"`
	Actions []permission.Action `json:"actions"`
}

type NavigationResponse struct {
	Role  permission.Role `json:"role"`
	Menus []MenuEntry     `json:"menus"`
}

type PermissionResponse struct {
	Role    permission.Role   `json:"role"`
	Menu    permission.Menu   `json:"menu"`
	Action  permission.Action `json:"action"`
	Allowed bool              `json:"allowed"`
}

type EnterCodeDTO struct {
	Code string `json:"code"`
}

// Handler serves the dashboard's login API. Each browser session gets its
// own Machine from the Registry.
type Handler struct {
	*transport.BaseHandler
	Registry    *Registry
	Cookies     *CookieIssuer
	CallTimeout time.Duration
}

func NewHandler(registry *Registry, cookies *CookieIssuer, callTimeout time.Duration) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		Registry:    registry,
		Cookies:     cookies,
		CallTimeout: callTimeout,
	}
}

// SessionMiddleware resolves the session cookie, issuing a new one when it
// is missing or invalid, and attaches the session's Machine.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, err := h.Cookies.FromRequest(r)
		if err != nil {
			sid = NewSessionID()
			ck, cerr := h.Cookies.Cookie(sid)
			if cerr != nil {
				h.WriteAppError(w, internal.NewInternalError("failed to issue session cookie", cerr))
				return
			}
			http.SetCookie(w, ck)
			if _, present := r.Cookie(h.Cookies.Name); present == nil {
				h.Logger.Debug("session cookie rejected, issued a new one", "error", err)
			}
		}

		m := h.Registry.GetOrCreate(sid)
		ctx := internal.ContextWithSessionID(r.Context(), sid)
		ctx = logger.With(ctx, "session_id", sid)
		ctx = ContextWithMachine(ctx, m)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	h.WriteJSON(w, http.StatusOK, StateResponse{Outcome: Outcome{OK: true}, State: m.Snapshot()})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var dto LoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	ctx, cancel := internal.WithTimeout(r.Context(), h.CallTimeout)
	defer cancel()
	h.writeOutcome(w, m, m.Login(ctx, dto.Email, dto.Password), internal.ErrCodeValidationFailed)
}

func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var dto ConfirmLoginDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}

	ctx, cancel := internal.WithTimeout(r.Context(), h.CallTimeout)
	defer cancel()
	h.writeOutcome(w, m, m.ConfirmLogin(ctx, dto.Email, dto.Code), internal.ErrCodeInvalidCodeFormat)
}

func (h *Handler) Resend(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var dto ResendCodeDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	if err := dto.Validate(); err != nil {
		h.WriteAppError(w, internal.NewValidationFieldError("email", err.Error(), internal.ErrCodeValidationFailed))
		return
	}

	ctx, cancel := internal.WithTimeout(r.Context(), h.CallTimeout)
	defer cancel()
	h.writeOutcome(w, m, m.ResendCode(ctx, dto.Email), internal.ErrCodeValidationFailed)
}

// EnterCode stores the partially typed code.
func (h *Handler) EnterCode(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	var dto EnterCodeDTO
	if err := h.DecodeJSON(r, &dto); err != nil {
		h.WriteAppError(w, err)
		return
	}
	m.EnterCode(dto.Code)
	h.WriteJSON(w, http.StatusOK, StateResponse{Outcome: Outcome{OK: true}, State: m.Snapshot()})
}

func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	h.writeOutcome(w, m, m.Abandon(), internal.ErrCodeValidationFailed)
}

// Logout signs out and rotates the browser session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}

	ctx, cancel := internal.WithTimeout(r.Context(), h.CallTimeout)
	defer cancel()
	out := m.Logout(ctx)
	snap := m.Snapshot()

	h.Registry.Remove(m.SessionID())
	http.SetCookie(w, h.Cookies.Expired())
	h.WriteJSON(w, http.StatusOK, StateResponse{Outcome: out, State: snap})
}

// Check probes the backend for an existing session. It always answers 200
// with the resulting state.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}

	ctx, cancel := internal.WithTimeout(r.Context(), h.CallTimeout)
	defer cancel()
	out := m.CheckAuth(ctx)
	if out.Reason == ReasonBusy {
		h.writeOutcome(w, m, out, internal.ErrCodeValidationFailed)
		return
	}
	h.WriteJSON(w, http.StatusOK, StateResponse{Outcome: out, State: m.Snapshot()})
}

// Navigation lists the menus and actions of the session's role.
func (h *Handler) Navigation(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	role := m.Session().Role()
	resp := NavigationResponse{Role: role, Menus: []MenuEntry{}}
	for _, menu := range permission.Menus(role) {
		resp.Menus = append(resp.Menus, MenuEntry{Menu: menu, Actions: permission.PermittedActions(role, menu)})
	}
	h.WriteJSON(w, http.StatusOK, resp)
}

// Menu answers for a menu that RequireMenuAccess already let through.
func (h *Handler) Menu(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	menu, _ := permission.ParseMenu(chi.URLParam(r, "menu"))
	role := m.Session().Role()
	h.WriteJSON(w, http.StatusOK, MenuEntry{Menu: menu, Actions: permission.PermittedActions(role, menu)})
}

func (h *Handler) Permission(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	menu, ok := permission.ParseMenu(chi.URLParam(r, "menu"))
	if !ok {
		h.WriteAppError(w, internal.ErrUnknownMenu)
		return
	}
	action, ok := permission.ParseAction(chi.URLParam(r, "action"))
	if !ok {
		h.WriteAppError(w, internal.NewValidationFieldError("action", "unknown action", internal.ErrCodeInvalidRequest))
		return
	}
	role := m.Session().Role()
	h.WriteJSON(w, http.StatusOK, PermissionResponse{
		Role:    role,
		Menu:    menu,
		Action:  action,
		Allowed: permission.HasPermission(role, menu, action),
	})
}

func (h *Handler) machine(w http.ResponseWriter, r *http.Request) (*Machine, bool) {
	m, ok := MachineFromContext(r.Context())
	if !ok {
		h.WriteAppError(w, internal.ErrSessionMissing)
		return nil, false
	}
	return m, true
}

func (h *Handler) writeOutcome(w http.ResponseWriter, m *Machine, out Outcome, invalidCode internal.ErrorCode) {
	snap := m.Snapshot()
	if out.OK {
		h.WriteJSON(w, http.StatusOK, StateResponse{Outcome: out, State: snap})
		return
	}
	h.WriteAppError(w, OutcomeError(out, invalidCode).WithDetails(snap))
}

// OutcomeError maps a failed Outcome onto the AppError taxonomy.
func OutcomeError(out Outcome, invalidCode internal.ErrorCode) *internal.AppError {
	switch out.Reason {
	case ReasonInvalid:
		return internal.NewValidationError(out.Message, invalidCode)
	case ReasonCooldown:
		return internal.NewTooManyRequestsError(out.Message, internal.ErrCodeResendCooldown)
	case ReasonRejected:
		return internal.NewUnauthorizedError(out.Message, internal.ErrCodeAuthRejected)
	case ReasonTransport:
		return internal.NewExternalError(out.Message, internal.ErrCodeUpstreamUnavailable)
	case ReasonBusy:
		return internal.NewConflictError("A request is already in progress", internal.ErrCodeRequestInFlight)
	case ReasonStale:
		return internal.NewConflictError("The sign-in attempt was superseded", internal.ErrCodeAttemptSuperseded)
	case ReasonWrongStep:
		return internal.NewConflictError(out.Message, internal.ErrCodeInvalidStep)
	default:
		return internal.NewInternalError("unexpected outcome", errors.New(string(out.Reason)))
	}
}
