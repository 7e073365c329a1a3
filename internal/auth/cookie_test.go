package auth

import (
	"net/http/httptest"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("CookieIssuer", func() {
	var (
		clock  *fakeClock
		issuer *CookieIssuer
	)

	ginkgo.BeforeEach(func() {
		clock = newFakeClock()
		issuer = NewCookieIssuer("dashboard_session", "0123456789abcdef0123456789abcdef", time.Hour, true)
		issuer.clock = clock
	})

	ginkgo.It("should round-trip the session id", func() {
		token, expiresAt, err := issuer.Issue("sid-42")
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(expiresAt).To(gomega.Equal(clock.Now().Add(time.Hour)))

		sid, err := issuer.Parse(token)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(sid).To(gomega.Equal("sid-42"))
	})

	ginkgo.It("should reject tokens signed with another secret", func() {
		other := NewCookieIssuer("dashboard_session", "ffffffffffffffffffffffffffffffff", time.Hour, true)
		other.clock = clock
		token, _, err := other.Issue("sid-42")
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		_, err = issuer.Parse(token)
		gomega.Expect(err).To(gomega.Equal(ErrInvalidToken))
	})

	ginkgo.It("should report expired tokens", func() {
		token, _, err := issuer.Issue("sid-42")
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		clock.Advance(2 * time.Hour)

		_, err = issuer.Parse(token)
		gomega.Expect(err).To(gomega.Equal(ErrTokenExpired))
	})

	ginkgo.It("should read the session from a request cookie", func() {
		ck, err := issuer.Cookie("sid-7")
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(ck.HttpOnly).To(gomega.BeTrue())
		gomega.Expect(ck.Secure).To(gomega.BeTrue())

		req := httptest.NewRequest("GET", "/", nil)
		req.AddCookie(ck)
		sid, err := issuer.FromRequest(req)
		gomega.Expect(err).ToNot(gomega.HaveOccurred())
		gomega.Expect(sid).To(gomega.Equal("sid-7"))

		_, err = issuer.FromRequest(httptest.NewRequest("GET", "/", nil))
		gomega.Expect(err).To(gomega.Equal(ErrInvalidToken))
	})
})
