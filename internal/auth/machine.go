package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/frahmantamala/payment-dashboard/internal/permission"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

// Reason qualifies an Outcome. The UI only needs Message; the HTTP layer
// uses Reason to pick a status code.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonInvalid   Reason = "invalid"
	ReasonCooldown  Reason = "cooldown"
	ReasonWrongStep Reason = "wrong_step"
	ReasonBusy      Reason = "busy"
	ReasonStale     Reason = "stale"
	ReasonRejected  Reason = "rejected"
	ReasonTransport Reason = "transport"
	ReasonNoSession Reason = "no_session"
)

type Outcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Reason  Reason `json:"reason,omitempty"`
}

// Ignored reports whether the call was dropped without touching state.
func (o Outcome) Ignored() bool {
	return o.Reason == ReasonBusy || o.Reason == ReasonStale
}

// Snapshot is a consistent copy of the machine's observable state.
type Snapshot struct {
	State          State           `json:"state"`
	Loading        bool            `json:"loading"`
	Error          string          `json:"error,omitempty"`
	Email          string          `json:"email,omitempty"`
	Code           string          `json:"code,omitempty"`
	ResendCooldown int             `json:"resend_cooldown"`
	Principal      *Principal      `json:"principal,omitempty"`
	Role           permission.Role `json:"role"`
}

type Option func(*Machine)

func WithClock(c Clock) Option {
	return func(m *Machine) { m.clock = c }
}

func WithRecorder(r AttemptRecorder) Option {
	return func(m *Machine) { m.recorder = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

func WithSession(s *Session) Option {
	return func(m *Machine) { m.session = s }
}

func WithSessionID(id string) Option {
	return func(m *Machine) { m.sessionID = id }
}

func WithResendCooldown(d time.Duration) Option {
	return func(m *Machine) { m.cooldownPeriod = d }
}

var errMissingPrincipal = errors.New("confirmation succeeded without a principal")

// Machine drives the two-step login of one dashboard session.
//
// At most one backend call is in flight at a time; further submissions are
// ignored until it resolves. Every call is tagged with a generation number
// and its response is applied only if the generation is still current, so
// Abandon and Logout turn pending responses into no-ops.
type Machine struct {
	backend        Backend
	session        *Session
	cooldown       *Cooldown
	cooldownPeriod time.Duration
	clock          Clock
	recorder       AttemptRecorder
	logger         *slog.Logger
	sessionID      string

	mu           sync.Mutex
	state        State
	loading      bool
	errMsg       string
	email        string
	code         string
	generation   uint64
	lastActivity time.Time
}

func NewMachine(backend Backend, opts ...Option) *Machine {
	m := &Machine{
		backend:        backend,
		cooldownPeriod: DefaultResendCooldown,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = systemClock{}
	}
	if m.session == nil {
		m.session = NewSession()
	}
	if m.recorder == nil {
		m.recorder = nopRecorder{}
	}
	if m.logger == nil {
		m.logger = logger.LoggerWrapper()
	}
	if m.sessionID != "" {
		m.logger = m.logger.With("session_id", m.sessionID)
	}
	m.cooldown = NewCooldown(m.cooldownPeriod, m.clock)
	m.lastActivity = m.clock.Now()
	return m
}

func (m *Machine) Session() *Session {
	return m.session
}

func (m *Machine) SessionID() string {
	return m.sessionID
}

// Login submits the credentials (step 1).
func (m *Machine) Login(ctx context.Context, email, password string) Outcome {
	dto := LoginDTO{Email: email, Password: password}
	email = normalizeEmail(email)

	m.mu.Lock()
	m.touchLocked()
	switch {
	case m.state == StateAuthenticated:
		m.mu.Unlock()
		return m.reject(ctx, StepCredentials, email, ReasonWrongStep, MsgAlreadySignedIn)
	case m.state == StateAwaitingCode:
		m.mu.Unlock()
		return m.reject(ctx, StepCredentials, email, ReasonWrongStep, MsgCodePending)
	case m.loading:
		m.mu.Unlock()
		return m.reject(ctx, StepCredentials, email, ReasonBusy, "")
	}
	if err := dto.Validate(); err != nil {
		m.errMsg = err.Error()
		m.mu.Unlock()
		return m.reject(ctx, StepCredentials, email, ReasonInvalid, err.Error())
	}
	gen := m.beginLocked(true)
	m.mu.Unlock()

	start := m.clock.Now()
	err := m.backend.VerifyCredentials(ctx, email, password)

	var out Outcome
	applied := m.finish(gen, func() {
		if err != nil {
			out = m.failLocked(StepCredentials, email, err, MsgLoginFailed)
			return
		}
		m.state = StateAwaitingCode
		m.email = email
		m.code = ""
		m.cooldown.Reset()
		out = Outcome{OK: true}
		m.logger.Info("credentials accepted, awaiting one-time code", "email", email)
	})
	if !applied {
		out = m.staleOutcome(StepCredentials, email)
	}
	m.record(ctx, StepCredentials, email, out, m.clock.Now().Sub(start))
	return out
}

// ConfirmLogin submits the one-time code (step 2). An empty email means the
// one preserved from step 1.
func (m *Machine) ConfirmLogin(ctx context.Context, email, code string) Outcome {
	email = normalizeEmail(email)

	m.mu.Lock()
	m.touchLocked()
	switch {
	case m.state == StateAuthenticated:
		m.mu.Unlock()
		return m.reject(ctx, StepCode, email, ReasonWrongStep, MsgAlreadySignedIn)
	case m.state != StateAwaitingCode:
		m.mu.Unlock()
		return m.reject(ctx, StepCode, email, ReasonWrongStep, MsgNoPendingLogin)
	case m.loading:
		m.mu.Unlock()
		return m.reject(ctx, StepCode, email, ReasonBusy, "")
	}
	if email != "" && email != m.email {
		m.errMsg = MsgEmailMismatch
		m.mu.Unlock()
		return m.reject(ctx, StepCode, email, ReasonInvalid, MsgEmailMismatch)
	}
	email = m.email
	m.code = code
	if err := (ConfirmLoginDTO{Email: email, Code: code}).Validate(); err != nil {
		m.errMsg = err.Error()
		m.mu.Unlock()
		return m.reject(ctx, StepCode, email, ReasonInvalid, err.Error())
	}
	gen := m.beginLocked(true)
	m.mu.Unlock()

	start := m.clock.Now()
	grant, err := m.backend.ConfirmCode(ctx, email, code)
	if err == nil && (grant == nil || grant.Principal == nil) {
		err = Transport(errMissingPrincipal)
	}

	var out Outcome
	applied := m.finish(gen, func() {
		if err == nil {
			// Committed under the lock: only a current confirmation binds a token.
			err = m.backend.Commit(ctx, grant)
		}
		if err != nil {
			out = m.failLocked(StepCode, email, err, MsgConfirmFailed)
			return
		}
		m.authenticateLocked(grant.Principal)
		out = Outcome{OK: true}
		m.logger.Info("sign-in confirmed", "email", email, "role", grant.Principal.Role())
	})
	if !applied {
		out = m.staleOutcome(StepCode, email)
	}
	if !out.OK && grant != nil {
		m.discard(ctx, email, grant)
	}
	m.record(ctx, StepCode, email, out, m.clock.Now().Sub(start))
	return out
}

// ResendCode asks for a new one-time code once the cooldown has run out.
func (m *Machine) ResendCode(ctx context.Context, email string) Outcome {
	email = normalizeEmail(email)

	m.mu.Lock()
	m.touchLocked()
	switch {
	case m.state != StateAwaitingCode:
		m.mu.Unlock()
		return m.reject(ctx, StepResend, email, ReasonWrongStep, MsgNoPendingLogin)
	case m.loading:
		m.mu.Unlock()
		return m.reject(ctx, StepResend, email, ReasonBusy, "")
	}
	if email != "" && email != m.email {
		m.errMsg = MsgEmailMismatch
		m.mu.Unlock()
		return m.reject(ctx, StepResend, email, ReasonInvalid, MsgEmailMismatch)
	}
	email = m.email
	if left := m.cooldown.Remaining(); left > 0 {
		msg := fmt.Sprintf("%s (%d seconds left)", MsgResendCoolingDown, left)
		m.errMsg = msg
		m.mu.Unlock()
		return m.reject(ctx, StepResend, email, ReasonCooldown, msg)
	}
	gen := m.beginLocked(true)
	m.mu.Unlock()

	start := m.clock.Now()
	err := m.backend.ResendCode(ctx, email)

	var out Outcome
	applied := m.finish(gen, func() {
		if err != nil {
			out = m.failLocked(StepResend, email, err, MsgResendFailed)
			return
		}
		m.cooldown.Reset()
		m.code = ""
		out = Outcome{OK: true}
		m.logger.Info("one-time code resent", "email", email)
	})
	if !applied {
		out = m.staleOutcome(StepResend, email)
	}
	m.record(ctx, StepResend, email, out, m.clock.Now().Sub(start))
	return out
}

// Logout clears the local state first and then tells the backend. A failed
// remote call is logged and otherwise ignored.
func (m *Machine) Logout(ctx context.Context) Outcome {
	m.mu.Lock()
	m.touchLocked()
	email := m.email
	if p := m.session.Principal(); p != nil {
		email = p.Email
	}
	m.generation++
	m.resetLocked()
	m.session.clear()
	m.mu.Unlock()

	start := m.clock.Now()
	if err := m.backend.Logout(ctx); err != nil {
		m.logger.Warn("remote logout failed, local session cleared anyway", "email", email, "error", err)
	} else {
		m.logger.Info("signed out", "email", email)
	}

	out := Outcome{OK: true}
	m.record(ctx, StepLogout, email, out, m.clock.Now().Sub(start))
	return out
}

// Abandon goes back to the credentials step. Pending responses are
// discarded when they arrive.
func (m *Machine) Abandon() Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touchLocked()
	if m.state == StateAuthenticated {
		return Outcome{Reason: ReasonWrongStep, Message: MsgAlreadySignedIn}
	}
	m.generation++
	m.resetLocked()
	return Outcome{OK: true}
}

// CheckAuth probes the backend for an existing session. A live remote
// session signs the dashboard in; a confirmed absence signs out a dashboard
// that believed it was signed in; errors change nothing and are never shown.
func (m *Machine) CheckAuth(ctx context.Context) Outcome {
	m.mu.Lock()
	m.touchLocked()
	if m.loading {
		m.mu.Unlock()
		return m.reject(ctx, StepSessionCheck, "", ReasonBusy, "")
	}
	gen := m.beginLocked(false)
	m.mu.Unlock()

	start := m.clock.Now()
	principal, err := m.backend.CurrentSession(ctx)

	var out Outcome
	var email string
	applied := m.finish(gen, func() {
		switch {
		case err != nil:
			kind, _ := failureOf(err)
			m.logger.Debug("session check failed", "kind", kind, "error", err)
			out = Outcome{Reason: ReasonNoSession}
		case principal != nil:
			email = principal.Email
			m.authenticateLocked(principal)
			out = Outcome{OK: true}
			m.logger.Info("existing session recovered", "email", email, "role", principal.Role())
		default:
			if m.state == StateAuthenticated {
				if p := m.session.Principal(); p != nil {
					email = p.Email
				}
				m.resetLocked()
				m.session.clear()
				m.logger.Info("remote session no longer valid, signed out", "email", email)
			}
			out = Outcome{Reason: ReasonNoSession}
		}
	})
	if !applied {
		out = m.staleOutcome(StepSessionCheck, email)
	}
	m.record(ctx, StepSessionCheck, email, out, m.clock.Now().Sub(start))
	return out
}

// EnterCode keeps the partially typed code so a resend can clear it.
func (m *Machine) EnterCode(partial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAwaitingCode {
		return
	}
	if len(partial) > CodeLength {
		partial = partial[:CodeLength]
	}
	m.code = partial
	m.touchLocked()
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	principal := m.session.Principal()
	snap := Snapshot{
		State:     m.state,
		Loading:   m.loading,
		Error:     m.errMsg,
		Email:     m.email,
		Code:      m.code,
		Principal: principal,
		Role:      principal.Role(),
	}
	if m.state == StateAwaitingCode {
		snap.ResendCooldown = m.cooldown.Remaining()
	}
	return snap
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// idleSince reports whether the machine has no call in flight and no
// activity after cutoff.
func (m *Machine) idleSince(cutoff time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.loading && m.lastActivity.Before(cutoff)
}

func (m *Machine) touchLocked() {
	m.lastActivity = m.clock.Now()
}

func (m *Machine) beginLocked(clearError bool) uint64 {
	m.loading = true
	if clearError {
		m.errMsg = ""
	}
	m.generation++
	return m.generation
}

// finish applies fn under the lock if gen is still current.
func (m *Machine) finish(gen uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		return false
	}
	m.loading = false
	fn()
	return true
}

func (m *Machine) resetLocked() {
	m.state = StateLoggedOut
	m.loading = false
	m.errMsg = ""
	m.email = ""
	m.code = ""
	m.cooldown.Stop()
}

func (m *Machine) authenticateLocked(p *Principal) {
	m.state = StateAuthenticated
	m.errMsg = ""
	m.email = ""
	m.code = ""
	m.cooldown.Stop()
	m.session.establish(p, m.clock.Now())
}

func (m *Machine) failLocked(step Step, email string, err error, fallback string) Outcome {
	kind, msg := failureOf(err)
	if msg == "" {
		msg = fallback
	}
	m.errMsg = msg

	if kind == FailureTransport {
		m.logger.Error("auth backend unreachable", "step", step, "email", email, "error", err)
		return Outcome{Message: msg, Reason: ReasonTransport}
	}
	m.logger.Warn("auth backend rejected request", "step", step, "email", email, "error", err)
	return Outcome{Message: msg, Reason: ReasonRejected}
}

func (m *Machine) discard(ctx context.Context, email string, grant *Grant) {
	if err := m.backend.Discard(context.WithoutCancel(ctx), grant); err != nil {
		m.logger.Warn("failed to revoke uncommitted grant", "email", email, "error", err)
	}
}

func (m *Machine) staleOutcome(step Step, email string) Outcome {
	m.logger.Debug("discarding superseded response", "step", step, "email", email)
	return Outcome{Reason: ReasonStale}
}

func (m *Machine) reject(ctx context.Context, step Step, email string, reason Reason, msg string) Outcome {
	out := Outcome{Reason: reason, Message: msg}
	m.record(ctx, step, email, out, 0)
	return out
}

func (m *Machine) record(ctx context.Context, step Step, email string, out Outcome, took time.Duration) {
	reason := out.Reason
	m.recorder.RecordAttempt(context.WithoutCancel(ctx), AttemptRecord{
		SessionID: m.sessionID,
		Email:     email,
		Step:      step,
		Reason:    reason,
		Message:   out.Message,
		Duration:  took,
		At:        m.clock.Now(),
	})
}
