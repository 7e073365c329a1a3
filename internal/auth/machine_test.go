package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/payment-dashboard/internal/permission"
	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

var _ = ginkgo.Describe("Machine", func() {
	var (
		ctx      context.Context
		clock    *fakeClock
		backend  *fakeBackend
		recorder *captureRecorder
		machine  *Machine
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		clock = newFakeClock()
		backend = newFakeBackend()
		recorder = &captureRecorder{}
		machine = NewMachine(backend,
			WithClock(clock),
			WithRecorder(recorder),
			WithLogger(logger.Discard()),
			WithSessionID("sid-1"),
		)
	})

	signIn := func() {
		gomega.Expect(machine.Login(ctx, "Staff@Example.com ", "secret").OK).To(gomega.BeTrue())
		gomega.Expect(machine.ConfirmLogin(ctx, "", "123456").OK).To(gomega.BeTrue())
	}

	ginkgo.It("should start logged out and idle", func() {
		snap := machine.Snapshot()
		gomega.Expect(snap.State).To(gomega.Equal(StateLoggedOut))
		gomega.Expect(snap.Loading).To(gomega.BeFalse())
		gomega.Expect(snap.Error).To(gomega.BeEmpty())
		gomega.Expect(snap.ResendCooldown).To(gomega.Equal(0))
		gomega.Expect(snap.Principal).To(gomega.BeNil())
		gomega.Expect(snap.Role).To(gomega.Equal(permission.RoleVisitor))
	})

	ginkgo.Describe("Login", func() {
		ginkgo.It("should move to awaiting code and start the resend cooldown", func() {
			out := machine.Login(ctx, "Staff@Example.com ", "secret")

			gomega.Expect(out.OK).To(gomega.BeTrue())
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateAwaitingCode))
			gomega.Expect(snap.Email).To(gomega.Equal("staff@example.com"))
			gomega.Expect(snap.ResendCooldown).To(gomega.Equal(60))
			gomega.Expect(snap.Loading).To(gomega.BeFalse())
			gomega.Expect(backend.count("verify")).To(gomega.Equal(1))
		})

		ginkgo.It("should show the backend's rejection text and stay logged out", func() {
			backend.verifyErr = Rejected(http.StatusUnauthorized, "Invalid email or password")

			out := machine.Login(ctx, "staff@example.com", "wrong")

			gomega.Expect(out.OK).To(gomega.BeFalse())
			gomega.Expect(out.Reason).To(gomega.Equal(ReasonRejected))
			gomega.Expect(out.Message).To(gomega.Equal("Invalid email or password"))
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateLoggedOut))
			gomega.Expect(snap.Error).To(gomega.Equal("Invalid email or password"))
			gomega.Expect(snap.Loading).To(gomega.BeFalse())
		})

		ginkgo.It("should fall back to the generic message when the rejection has no text", func() {
			backend.verifyErr = Rejected(http.StatusForbidden, "")

			out := machine.Login(ctx, "staff@example.com", "secret")

			gomega.Expect(out.Message).To(gomega.Equal(MsgLoginFailed))
		})

		ginkgo.It("should report transport failures with the generic message", func() {
			backend.verifyErr = Transport(errors.New("connection refused"))

			out := machine.Login(ctx, "staff@example.com", "secret")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonTransport))
			gomega.Expect(out.Message).To(gomega.Equal(MsgLoginFailed))
			gomega.Expect(machine.State()).To(gomega.Equal(StateLoggedOut))
		})

		ginkgo.It("should treat unclassified errors as transport failures", func() {
			backend.verifyErr = context.DeadlineExceeded

			out := machine.Login(ctx, "staff@example.com", "secret")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonTransport))
		})

		ginkgo.It("should reject malformed input without calling the backend", func() {
			out := machine.Login(ctx, "not-an-email", "secret")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonInvalid))
			gomega.Expect(out.Message).To(gomega.Equal(MsgInvalidEmailFormat))
			gomega.Expect(machine.Snapshot().Error).To(gomega.Equal(MsgInvalidEmailFormat))

			out = machine.Login(ctx, "staff@example.com", "")
			gomega.Expect(out.Message).To(gomega.Equal(MsgPasswordRequired))
			gomega.Expect(backend.count("verify")).To(gomega.Equal(0))
		})

		ginkgo.It("should clear a previous error when a new attempt starts", func() {
			backend.verifyErr = Rejected(http.StatusUnauthorized, "nope")
			machine.Login(ctx, "staff@example.com", "secret")
			backend.verifyErr = nil

			machine.Login(ctx, "staff@example.com", "secret")

			gomega.Expect(machine.Snapshot().Error).To(gomega.BeEmpty())
		})

		ginkgo.It("should refuse a second login while a code is pending", func() {
			machine.Login(ctx, "staff@example.com", "secret")

			out := machine.Login(ctx, "other@example.com", "secret")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonWrongStep))
			gomega.Expect(machine.Snapshot().Email).To(gomega.Equal("staff@example.com"))
			gomega.Expect(backend.count("verify")).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("ConfirmLogin", func() {
		ginkgo.BeforeEach(func() {
			gomega.Expect(machine.Login(ctx, "staff@example.com", "secret").OK).To(gomega.BeTrue())
		})

		ginkgo.It("should reject incomplete codes locally", func() {
			out := machine.ConfirmLogin(ctx, "", "12345")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonInvalid))
			gomega.Expect(out.Message).To(gomega.Equal("Please enter all 6 digits"))
			gomega.Expect(machine.State()).To(gomega.Equal(StateAwaitingCode))
			gomega.Expect(backend.count("confirm")).To(gomega.Equal(0))
		})

		ginkgo.It("should reject non-numeric codes locally", func() {
			out := machine.ConfirmLogin(ctx, "", "12a456")

			gomega.Expect(out.Message).To(gomega.Equal(MsgCodeNotNumeric))
			gomega.Expect(backend.count("confirm")).To(gomega.Equal(0))
		})

		ginkgo.It("should reject a code for another email", func() {
			out := machine.ConfirmLogin(ctx, "other@example.com", "123456")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonInvalid))
			gomega.Expect(out.Message).To(gomega.Equal(MsgEmailMismatch))
			gomega.Expect(backend.count("confirm")).To(gomega.Equal(0))
		})

		ginkgo.It("should authenticate with the principal returned by the backend", func() {
			out := machine.ConfirmLogin(ctx, "staff@example.com", "123456")

			gomega.Expect(out.OK).To(gomega.BeTrue())
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateAuthenticated))
			gomega.Expect(snap.Principal).ToNot(gomega.BeNil())
			gomega.Expect(snap.Principal.Email).To(gomega.Equal("staff@example.com"))
			gomega.Expect(snap.Role).To(gomega.Equal(permission.RoleStaff))
			gomega.Expect(snap.Email).To(gomega.BeEmpty())
			gomega.Expect(snap.Code).To(gomega.BeEmpty())
			gomega.Expect(snap.ResendCooldown).To(gomega.Equal(0))
			gomega.Expect(machine.Session().Authenticated()).To(gomega.BeTrue())
			gomega.Expect(machine.Session().EstablishedAt()).To(gomega.Equal(clock.Now()))
			gomega.Expect(machine.Session().Can(permission.MenuBusiness, permission.ActionBlock)).To(gomega.BeTrue())
			gomega.Expect(machine.Session().Can(permission.MenuBusiness, permission.ActionDelete)).To(gomega.BeFalse())
		})

		ginkgo.It("should keep awaiting the code on rejection", func() {
			backend.confirmErr = Rejected(http.StatusBadRequest, "Invalid or expired code")

			out := machine.ConfirmLogin(ctx, "", "000000")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonRejected))
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateAwaitingCode))
			gomega.Expect(snap.Error).To(gomega.Equal("Invalid or expired code"))
			gomega.Expect(snap.Email).To(gomega.Equal("staff@example.com"))
			gomega.Expect(machine.Session().Authenticated()).To(gomega.BeFalse())
		})

		ginkgo.It("should treat a success without a principal as a failure", func() {
			backend.principal = nil

			out := machine.ConfirmLogin(ctx, "", "123456")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonTransport))
			gomega.Expect(out.Message).To(gomega.Equal(MsgConfirmFailed))
			gomega.Expect(machine.State()).To(gomega.Equal(StateAwaitingCode))
			gomega.Expect(backend.count("discard")).To(gomega.Equal(1))
		})

		ginkgo.It("should commit the grant of a current confirmation", func() {
			gomega.Expect(machine.ConfirmLogin(ctx, "", "123456").OK).To(gomega.BeTrue())

			committed, discarded := backend.tokens()
			gomega.Expect(committed).To(gomega.Equal("tok-1"))
			gomega.Expect(discarded).To(gomega.BeEmpty())
		})

		ginkgo.It("should stay awaiting the code and revoke the grant when commit fails", func() {
			backend.commitErr = errors.New("redis: connection refused")

			out := machine.ConfirmLogin(ctx, "", "123456")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonTransport))
			gomega.Expect(machine.State()).To(gomega.Equal(StateAwaitingCode))
			gomega.Expect(machine.Session().Authenticated()).To(gomega.BeFalse())
			_, discarded := backend.tokens()
			gomega.Expect(discarded).To(gomega.Equal([]string{"tok-1"}))
		})

		ginkgo.It("should not be reachable from logged out", func() {
			machine.Abandon()

			out := machine.ConfirmLogin(ctx, "", "123456")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonWrongStep))
			gomega.Expect(backend.count("confirm")).To(gomega.Equal(0))
		})
	})

	ginkgo.Describe("ResendCode", func() {
		ginkgo.BeforeEach(func() {
			gomega.Expect(machine.Login(ctx, "staff@example.com", "secret").OK).To(gomega.BeTrue())
		})

		ginkgo.It("should count down by one per elapsed second and never below zero", func() {
			for want := 60; want > 0; want-- {
				gomega.Expect(machine.Snapshot().ResendCooldown).To(gomega.Equal(want))
				clock.Advance(time.Second)
			}
			gomega.Expect(machine.Snapshot().ResendCooldown).To(gomega.Equal(0))
			clock.Advance(time.Hour)
			gomega.Expect(machine.Snapshot().ResendCooldown).To(gomega.Equal(0))
		})

		ginkgo.It("should refuse while the cooldown is running", func() {
			clock.Advance(59 * time.Second)

			out := machine.ResendCode(ctx, "")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonCooldown))
			gomega.Expect(out.Message).To(gomega.ContainSubstring("1 seconds left"))
			gomega.Expect(backend.count("resend")).To(gomega.Equal(0))
		})

		ginkgo.It("should restart the cooldown and clear the partial code on success", func() {
			machine.EnterCode("123")
			clock.Advance(60 * time.Second)

			out := machine.ResendCode(ctx, "staff@example.com")

			gomega.Expect(out.OK).To(gomega.BeTrue())
			snap := machine.Snapshot()
			gomega.Expect(snap.ResendCooldown).To(gomega.Equal(60))
			gomega.Expect(snap.Code).To(gomega.BeEmpty())
			gomega.Expect(snap.State).To(gomega.Equal(StateAwaitingCode))
		})

		ginkgo.It("should leave cooldown and partial code untouched on failure", func() {
			machine.EnterCode("123")
			clock.Advance(61 * time.Second)
			backend.resendErr = Transport(errors.New("timeout"))

			out := machine.ResendCode(ctx, "")

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonTransport))
			gomega.Expect(out.Message).To(gomega.Equal(MsgResendFailed))
			snap := machine.Snapshot()
			gomega.Expect(snap.ResendCooldown).To(gomega.Equal(0))
			gomega.Expect(snap.Code).To(gomega.Equal("123"))
		})
	})

	ginkgo.Describe("single in-flight request", func() {
		ginkgo.It("should ignore submissions while a call is pending", func() {
			backend.holdCalls()
			done := make(chan Outcome, 1)
			go func() { done <- machine.Login(ctx, "staff@example.com", "secret") }()
			gomega.Eventually(backend.entered).Should(gomega.Receive(gomega.Equal("verify")))

			gomega.Expect(machine.Snapshot().Loading).To(gomega.BeTrue())
			second := machine.Login(ctx, "staff@example.com", "secret")
			gomega.Expect(second.Reason).To(gomega.Equal(ReasonBusy))
			gomega.Expect(second.Ignored()).To(gomega.BeTrue())
			gomega.Expect(machine.CheckAuth(ctx).Reason).To(gomega.Equal(ReasonBusy))

			backend.releaseOne()
			gomega.Eventually(done).Should(gomega.Receive(gomega.HaveField("OK", true)))
			gomega.Expect(backend.count("verify")).To(gomega.Equal(1))
			gomega.Expect(machine.Snapshot().Loading).To(gomega.BeFalse())
		})
	})

	ginkgo.Describe("stale responses", func() {
		ginkgo.It("should keep a newer attempt when an abandoned step 1 resolves late", func() {
			backend.holdCalls()
			first := make(chan Outcome, 1)
			go func() { first <- machine.Login(ctx, "a@x.com", "secret") }()
			gomega.Eventually(backend.entered).Should(gomega.Receive(gomega.Equal("verify")))

			gomega.Expect(machine.Abandon().OK).To(gomega.BeTrue())
			backend.stopHolding()
			gomega.Expect(machine.Login(ctx, "b@x.com", "secret").OK).To(gomega.BeTrue())
			gomega.Expect(machine.Snapshot().Email).To(gomega.Equal("b@x.com"))

			backend.releaseOne()
			gomega.Eventually(first).Should(gomega.Receive(gomega.HaveField("Reason", ReasonStale)))
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateAwaitingCode))
			gomega.Expect(snap.Email).To(gomega.Equal("b@x.com"))
			gomega.Expect(snap.Loading).To(gomega.BeFalse())
			gomega.Expect(snap.Error).To(gomega.BeEmpty())
		})

		ginkgo.It("should discard a confirmation that resolves after Abandon", func() {
			gomega.Expect(machine.Login(ctx, "staff@example.com", "secret").OK).To(gomega.BeTrue())
			backend.holdCalls()
			done := make(chan Outcome, 1)
			go func() { done <- machine.ConfirmLogin(ctx, "", "123456") }()
			gomega.Eventually(backend.entered).Should(gomega.Receive())

			gomega.Expect(machine.Abandon().OK).To(gomega.BeTrue())
			gomega.Expect(machine.Snapshot().Loading).To(gomega.BeFalse())

			backend.releaseOne()
			gomega.Eventually(done).Should(gomega.Receive(gomega.HaveField("Reason", ReasonStale)))
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateLoggedOut))
			gomega.Expect(snap.Principal).To(gomega.BeNil())

			committed, discarded := backend.tokens()
			gomega.Expect(committed).To(gomega.BeEmpty())
			gomega.Expect(discarded).To(gomega.Equal([]string{"tok-1"}))
		})

		ginkgo.It("should discard a confirmation that resolves after Logout", func() {
			gomega.Expect(machine.Login(ctx, "staff@example.com", "secret").OK).To(gomega.BeTrue())
			backend.holdCalls()
			done := make(chan Outcome, 1)
			go func() { done <- machine.ConfirmLogin(ctx, "", "123456") }()
			gomega.Eventually(backend.entered).Should(gomega.Receive())

			logoutDone := make(chan Outcome, 1)
			go func() { logoutDone <- machine.Logout(ctx) }()
			gomega.Eventually(backend.entered).Should(gomega.Receive(gomega.Equal("logout")))
			backend.releaseOne()
			backend.releaseOne()

			gomega.Eventually(done).Should(gomega.Receive(gomega.HaveField("Reason", ReasonStale)))
			gomega.Eventually(logoutDone).Should(gomega.Receive(gomega.HaveField("OK", true)))
			gomega.Expect(machine.State()).To(gomega.Equal(StateLoggedOut))
			gomega.Expect(machine.Session().Authenticated()).To(gomega.BeFalse())
			gomega.Expect(backend.count("commit")).To(gomega.Equal(0))
			gomega.Expect(backend.count("discard")).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("Logout", func() {
		ginkgo.It("should clear local state even when the backend fails", func() {
			signIn()
			backend.logoutErr = Transport(errors.New("connection reset"))

			out := machine.Logout(ctx)

			gomega.Expect(out.OK).To(gomega.BeTrue())
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateLoggedOut))
			gomega.Expect(snap.Principal).To(gomega.BeNil())
			gomega.Expect(snap.Error).To(gomega.BeEmpty())
			gomega.Expect(snap.Role).To(gomega.Equal(permission.RoleVisitor))
			gomega.Expect(backend.count("logout")).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("CheckAuth", func() {
		ginkgo.It("should adopt an existing remote session", func() {
			backend.current = &Principal{ID: "1", Email: "root@example.com", IsSuperuser: true}

			out := machine.CheckAuth(ctx)

			gomega.Expect(out.OK).To(gomega.BeTrue())
			gomega.Expect(machine.Snapshot().Role).To(gomega.Equal(permission.RoleSuperAdmin))
		})

		ginkgo.It("should leave state untouched and show nothing when the probe fails", func() {
			gomega.Expect(machine.Login(ctx, "staff@example.com", "secret").OK).To(gomega.BeTrue())
			backend.sessionErr = Transport(errors.New("boom"))

			out := machine.CheckAuth(ctx)

			gomega.Expect(out.OK).To(gomega.BeFalse())
			snap := machine.Snapshot()
			gomega.Expect(snap.State).To(gomega.Equal(StateAwaitingCode))
			gomega.Expect(snap.Error).To(gomega.BeEmpty())
			gomega.Expect(snap.Loading).To(gomega.BeFalse())
		})

		ginkgo.It("should be idempotent", func() {
			backend.current = &Principal{ID: "1", Email: "c@example.com"}

			machine.CheckAuth(ctx)
			first := machine.Snapshot()
			machine.CheckAuth(ctx)

			gomega.Expect(machine.Snapshot()).To(gomega.Equal(first))
			gomega.Expect(first.Role).To(gomega.Equal(permission.RoleClient))
		})

		ginkgo.It("should sign out when the backend confirms the session is gone", func() {
			signIn()

			out := machine.CheckAuth(ctx)

			gomega.Expect(out.Reason).To(gomega.Equal(ReasonNoSession))
			gomega.Expect(machine.State()).To(gomega.Equal(StateLoggedOut))
		})
	})

	ginkgo.Describe("attempt recording", func() {
		ginkgo.It("should record every resolved step without secrets", func() {
			backend.verifyErr = Rejected(http.StatusUnauthorized, "Invalid email or password")
			machine.Login(ctx, "staff@example.com", "hunter2")
			backend.verifyErr = nil
			signIn()

			records := recorder.all()
			gomega.Expect(records).To(gomega.HaveLen(3))
			gomega.Expect(records[0].Step).To(gomega.Equal(StepCredentials))
			gomega.Expect(records[0].Reason).To(gomega.Equal(ReasonRejected))
			gomega.Expect(records[1].Reason).To(gomega.Equal(ReasonNone))
			gomega.Expect(records[2].Step).To(gomega.Equal(StepCode))
			for _, rec := range records {
				gomega.Expect(rec.SessionID).To(gomega.Equal("sid-1"))
				gomega.Expect(rec.Email).To(gomega.Equal("staff@example.com"))
				gomega.Expect(rec.Message).ToNot(gomega.ContainSubstring("hunter2"))
			}
		})
	})
})
