package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/payment-dashboard/internal/permission"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

type errorEnvelope struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var _ = ginkgo.Describe("Handler", func() {
	var (
		backend *fakeBackend
		router  *chi.Mux
		cookies []*http.Cookie
	)

	ginkgo.BeforeEach(func() {
		backend = newFakeBackend()
		cookies = nil
		registry := NewRegistry(func(sid string) *Machine {
			return NewMachine(backend, WithSessionID(sid), WithLogger(logger.Discard()))
		}, WithRegistryLogger(logger.Discard()))
		issuer := NewCookieIssuer("dashboard_session", "0123456789abcdef0123456789abcdef", time.Hour, false)
		h := NewHandler(registry, issuer, time.Second)
		h.Logger = logger.Discard()
		rbac := NewRBACAuthorization(logger.Discard())

		router = chi.NewRouter()
		router.Use(h.SessionMiddleware)
		router.Get("/auth/state", h.State)
		router.Post("/auth/login", h.Login)
		router.Post("/auth/confirm", h.Confirm)
		router.Post("/auth/resend", h.Resend)
		router.Post("/auth/logout", h.Logout)
		router.Post("/auth/check", h.Check)
		router.Get("/navigation", h.Navigation)
		router.With(rbac.RequireMenuAccess).Get("/menus/{menu}", h.Menu)
		router.Get("/permissions/{menu}/{action}", h.Permission)
		router.With(rbac.RequireAction(permission.MenuBusiness, permission.ActionDelete)).Delete("/business", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})
	})

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for _, c := range cookies {
			req.AddCookie(c)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if set := w.Result().Cookies(); len(set) > 0 {
			cookies = set
		}
		return w
	}

	decodeState := func(w *httptest.ResponseRecorder) StateResponse {
		var resp StateResponse
		gomega.Expect(json.NewDecoder(w.Body).Decode(&resp)).To(gomega.Succeed())
		return resp
	}

	decodeError := func(w *httptest.ResponseRecorder) errorEnvelope {
		var env errorEnvelope
		gomega.Expect(json.NewDecoder(w.Body).Decode(&env)).To(gomega.Succeed())
		return env
	}

	ginkgo.It("should issue a session cookie on first contact", func() {
		w := do(http.MethodGet, "/auth/state", "")

		gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(cookies).To(gomega.HaveLen(1))
		gomega.Expect(cookies[0].Name).To(gomega.Equal("dashboard_session"))
		gomega.Expect(decodeState(w).State.State).To(gomega.Equal(StateLoggedOut))
	})

	ginkgo.It("should walk through the two-step login", func() {
		w := do(http.MethodPost, "/auth/login", `{"email":"staff@example.com","password":"secret"}`)
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))
		resp := decodeState(w)
		gomega.Expect(resp.State.State).To(gomega.Equal(StateAwaitingCode))
		gomega.Expect(resp.State.ResendCooldown).To(gomega.Equal(60))

		w = do(http.MethodPost, "/auth/confirm", `{"code":"123"}`)
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusBadRequest))
		env := decodeError(w)
		gomega.Expect(env.Error.Code).To(gomega.Equal("INVALID_CODE_FORMAT"))
		gomega.Expect(env.Error.Message).To(gomega.Equal("Please enter all 6 digits"))

		w = do(http.MethodPost, "/auth/resend", `{}`)
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusTooManyRequests))

		w = do(http.MethodPost, "/auth/confirm", `{"code":"123456"}`)
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))
		resp = decodeState(w)
		gomega.Expect(resp.State.State).To(gomega.Equal(StateAuthenticated))
		gomega.Expect(resp.State.Role).To(gomega.Equal(permission.RoleStaff))

		w = do(http.MethodGet, "/navigation", "")
		var nav NavigationResponse
		gomega.Expect(json.NewDecoder(w.Body).Decode(&nav)).To(gomega.Succeed())
		gomega.Expect(nav.Role).To(gomega.Equal(permission.RoleStaff))
		gomega.Expect(nav.Menus).To(gomega.HaveLen(1))
		gomega.Expect(nav.Menus[0].Actions).To(gomega.Equal([]permission.Action{
			permission.ActionView, permission.ActionCreate, permission.ActionEdit, permission.ActionBlock,
		}))

		w = do(http.MethodGet, "/menus/business", "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))

		w = do(http.MethodGet, "/permissions/BUSINESS/delete", "")
		var perm PermissionResponse
		gomega.Expect(json.NewDecoder(w.Body).Decode(&perm)).To(gomega.Succeed())
		gomega.Expect(perm.Allowed).To(gomega.BeFalse())

		w = do(http.MethodDelete, "/business", "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusForbidden))
	})

	ginkgo.It("should map backend rejections to 401 with the backend text", func() {
		backend.verifyErr = Rejected(http.StatusUnauthorized, "Invalid email or password")

		w := do(http.MethodPost, "/auth/login", `{"email":"staff@example.com","password":"bad"}`)

		gomega.Expect(w.Code).To(gomega.Equal(http.StatusUnauthorized))
		env := decodeError(w)
		gomega.Expect(env.Error.Code).To(gomega.Equal("AUTH_REJECTED"))
		gomega.Expect(env.Error.Message).To(gomega.Equal("Invalid email or password"))
	})

	ginkgo.It("should map transport failures to 502", func() {
		backend.verifyErr = Transport(errors.New("dial tcp: refused"))

		w := do(http.MethodPost, "/auth/login", `{"email":"staff@example.com","password":"secret"}`)

		gomega.Expect(w.Code).To(gomega.Equal(http.StatusBadGateway))
		gomega.Expect(decodeError(w).Error.Message).To(gomega.Equal(MsgLoginFailed))
	})

	ginkgo.It("should refuse malformed bodies", func() {
		w := do(http.MethodPost, "/auth/login", `{"email":`)

		gomega.Expect(w.Code).To(gomega.Equal(http.StatusBadRequest))
		gomega.Expect(backend.count("verify")).To(gomega.Equal(0))
	})

	ginkgo.It("should confirm a step in the wrong state with 409", func() {
		w := do(http.MethodPost, "/auth/confirm", `{"code":"123456"}`)

		gomega.Expect(w.Code).To(gomega.Equal(http.StatusConflict))
		gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("INVALID_STEP"))
	})

	ginkgo.It("should keep visitors out of menus", func() {
		w := do(http.MethodGet, "/menus/BUSINESS", "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusForbidden))
		gomega.Expect(decodeError(w).Error.Code).To(gomega.Equal("MENU_FORBIDDEN"))

		w = do(http.MethodGet, "/menus/REPORTS", "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusNotFound))
	})

	ginkgo.It("should answer session checks with 200 even without a session", func() {
		backend.sessionErr = Transport(errors.New("down"))

		w := do(http.MethodPost, "/auth/check", "")

		gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))
		resp := decodeState(w)
		gomega.Expect(resp.Outcome.OK).To(gomega.BeFalse())
		gomega.Expect(resp.State.Error).To(gomega.BeEmpty())
	})

	ginkgo.It("should sign out and rotate the session", func() {
		do(http.MethodPost, "/auth/login", `{"email":"staff@example.com","password":"secret"}`)
		do(http.MethodPost, "/auth/confirm", `{"code":"123456"}`)
		before := cookies[0].Value

		w := do(http.MethodPost, "/auth/logout", "")
		gomega.Expect(w.Code).To(gomega.Equal(http.StatusOK))
		gomega.Expect(decodeState(w).State.State).To(gomega.Equal(StateLoggedOut))

		w = do(http.MethodGet, "/auth/state", "")
		gomega.Expect(decodeState(w).State.State).To(gomega.Equal(StateLoggedOut))
		gomega.Expect(cookies[0].Value).ToNot(gomega.Equal(before))
	})
})
