// Package mockapi is a development stand-in for the users API: seeded
// accounts, emailed one-time codes and opaque bearer tokens.
package mockapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"golang.org/x/crypto/bcrypt"

	"github.com/frahmantamala/payment-dashboard/internal/mailer"
	"github.com/frahmantamala/payment-dashboard/internal/transport"
)

const maxCodeAttempts = 5

const (
	detailInvalidCredentials = "Invalid email or password"
	detailBlocked            = "Your account is blocked"
	detailInactive           = "Your account is inactive"
	detailInvalidCode        = "Invalid or expired code"
	detailTooManyAttempts    = "Too many attempts. Please sign in again."
	detailNoPendingLogin     = "No pending login for this email"
	detailNotAuthenticated   = "Not authenticated"
	detailBadRequest         = "Invalid request body"
	detailAPIKey             = "Invalid API key"
)

type SeedUser struct {
	Email       string
	Password    string
	IsStaff     bool
	IsSuperuser bool
	IsActive    bool
	IsVerified  bool
	IsBlocked   bool
}

type Config struct {
	APIKey     string
	CodeTTL    time.Duration
	TokenTTL   time.Duration
	BcryptCost int
	Users      []SeedUser
}

type account struct {
	id           int
	email        string
	passwordHash []byte
	isStaff      bool
	isSuperuser  bool
	isActive     bool
	isVerified   bool
	isBlocked    bool
}

type pendingCode struct {
	code      string
	expiresAt time.Time
	attempts  int
}

type issuedToken struct {
	email     string
	expiresAt time.Time
}

type userPayload struct {
	ID          int    `json:"id"`
	Email       string `json:"email"`
	IsActive    bool   `json:"is_active"`
	IsVerified  bool   `json:"is_verified"`
	IsStaff     bool   `json:"is_staff"`
	IsSuperuser bool   `json:"is_superuser"`
	IsBlocked   bool   `json:"is_blocked"`
}

type tokenPayload struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        userPayload `json:"user"`
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type confirmPayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type resendPayload struct {
	Email string `json:"email"`
}

type messagePayload struct {
	Message string `json:"message"`
}

type detailPayload struct {
	Detail string `json:"detail"`
}

// Server implements the users API endpoints in memory.
type Server struct {
	*transport.BaseHandler
	cfg    Config
	sender mailer.Sender
	now    func() time.Time

	mu       sync.Mutex
	accounts map[string]*account
	codes    map[string]*pendingCode
	tokens   map[string]issuedToken
}

func NewServer(cfg Config, sender mailer.Sender, logger *slog.Logger) (*Server, error) {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 12 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}

	s := &Server{
		BaseHandler: transport.NewBaseHandler(logger),
		cfg:         cfg,
		sender:      sender,
		now:         time.Now,
		accounts:    make(map[string]*account),
		codes:       make(map[string]*pendingCode),
		tokens:      make(map[string]issuedToken),
	}

	for i, u := range cfg.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), cfg.BcryptCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", u.Email, err)
		}
		email := normalize(u.Email)
		s.accounts[email] = &account{
			id:           i + 1,
			email:        email,
			passwordHash: hash,
			isStaff:      u.IsStaff,
			isSuperuser:  u.IsSuperuser,
			isActive:     u.IsActive,
			isVerified:   u.IsVerified,
			isBlocked:    u.IsBlocked,
		}
	}
	return s, nil
}

// Routes returns the API router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requireAPIKey)
	r.Route("/auth", func(ar chi.Router) {
		ar.Post("/login", s.login)
		ar.Post("/confirm-login", s.confirmLogin)
		ar.Post("/resend-code", s.resendCode)
		ar.Post("/logout", s.logout)
	})
	r.Get("/users/me", s.me)
	return r
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-API-Key")), []byte(s.cfg.APIKey)) != 1 {
			s.detail(w, http.StatusUnauthorized, detailAPIKey)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsPayload
	if err := s.DecodeJSON(r, &req); err != nil {
		s.detail(w, http.StatusUnprocessableEntity, detailBadRequest)
		return
	}
	email := normalize(req.Email)

	s.mu.Lock()
	acc, ok := s.accounts[email]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(req.Password)) != nil {
		s.Logger.Warn("mock api: invalid credentials", "email", email)
		s.detail(w, http.StatusUnauthorized, detailInvalidCredentials)
		return
	}
	if acc.isBlocked {
		s.detail(w, http.StatusForbidden, detailBlocked)
		return
	}
	if !acc.isActive {
		s.detail(w, http.StatusForbidden, detailInactive)
		return
	}

	if err := s.issueCode(r.Context(), email); err != nil {
		s.Logger.Error("mock api: failed to send code", "email", email, "error", err)
		s.detail(w, http.StatusInternalServerError, "Could not send the verification code")
		return
	}
	s.WriteJSON(w, http.StatusOK, messagePayload{Message: "Verification code sent"})
}

func (s *Server) confirmLogin(w http.ResponseWriter, r *http.Request) {
	var req confirmPayload
	if err := s.DecodeJSON(r, &req); err != nil {
		s.detail(w, http.StatusUnprocessableEntity, detailBadRequest)
		return
	}
	email := normalize(req.Email)

	s.mu.Lock()
	pending, ok := s.codes[email]
	if !ok || !s.now().Before(pending.expiresAt) {
		delete(s.codes, email)
		s.mu.Unlock()
		s.detail(w, http.StatusBadRequest, detailInvalidCode)
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Code), []byte(pending.code)) != 1 {
		pending.attempts++
		if pending.attempts >= maxCodeAttempts {
			delete(s.codes, email)
			s.mu.Unlock()
			s.detail(w, http.StatusBadRequest, detailTooManyAttempts)
			return
		}
		s.mu.Unlock()
		s.detail(w, http.StatusBadRequest, detailInvalidCode)
		return
	}
	delete(s.codes, email)
	acc := s.accounts[email]
	token, err := randomToken()
	if err != nil {
		s.mu.Unlock()
		s.detail(w, http.StatusInternalServerError, "Could not issue a token")
		return
	}
	s.tokens[token] = issuedToken{email: email, expiresAt: s.now().Add(s.cfg.TokenTTL)}
	s.mu.Unlock()

	s.Logger.Info("mock api: login confirmed", "email", email)
	s.WriteJSON(w, http.StatusOK, tokenPayload{
		AccessToken: token,
		TokenType:   "bearer",
		User:        acc.payload(),
	})
}

func (s *Server) resendCode(w http.ResponseWriter, r *http.Request) {
	var req resendPayload
	if err := s.DecodeJSON(r, &req); err != nil {
		s.detail(w, http.StatusUnprocessableEntity, detailBadRequest)
		return
	}
	email := normalize(req.Email)

	s.mu.Lock()
	_, pending := s.codes[email]
	s.mu.Unlock()
	if !pending {
		s.detail(w, http.StatusBadRequest, detailNoPendingLogin)
		return
	}

	if err := s.issueCode(r.Context(), email); err != nil {
		s.Logger.Error("mock api: failed to resend code", "email", email, "error", err)
		s.detail(w, http.StatusInternalServerError, "Could not send the verification code")
		return
	}
	s.WriteJSON(w, http.StatusOK, messagePayload{Message: "Verification code sent"})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.bearer(r)
	if !ok {
		s.detail(w, http.StatusUnauthorized, detailNotAuthenticated)
		return
	}
	s.WriteJSON(w, http.StatusOK, acc.payload())
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := s.ExtractTokenFromHeader(r)
	s.mu.Lock()
	_, ok := s.tokens[token]
	delete(s.tokens, token)
	s.mu.Unlock()
	if !ok {
		s.detail(w, http.StatusUnauthorized, detailNotAuthenticated)
		return
	}
	s.WriteJSON(w, http.StatusOK, messagePayload{Message: "Logged out"})
}

func (s *Server) bearer(r *http.Request) (*account, bool) {
	token := s.ExtractTokenFromHeader(r)
	if token == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	issued, ok := s.tokens[token]
	if !ok {
		return nil, false
	}
	if !s.now().Before(issued.expiresAt) {
		delete(s.tokens, token)
		return nil, false
	}
	acc, ok := s.accounts[issued.email]
	if !ok || acc.isBlocked {
		return nil, false
	}
	return acc, true
}

// issueCode replaces the pending code of email and sends it.
func (s *Server) issueCode(ctx context.Context, email string) error {
	code, err := randomCode()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.codes[email] = &pendingCode{code: code, expiresAt: s.now().Add(s.cfg.CodeTTL)}
	s.mu.Unlock()
	return s.sender.SendCode(ctx, email, code, s.cfg.CodeTTL)
}

func (s *Server) detail(w http.ResponseWriter, status int, msg string) {
	s.WriteJSON(w, status, detailPayload{Detail: msg})
}

func (a *account) payload() userPayload {
	return userPayload{
		ID:          a.id,
		Email:       a.email,
		IsActive:    a.isActive,
		IsVerified:  a.isVerified,
		IsStaff:     a.isStaff,
		IsSuperuser: a.isSuperuser,
		IsBlocked:   a.isBlocked,
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	code := strconv.FormatInt(n.Int64(), 10)
	return strings.Repeat("0", 6-len(code)) + code, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
