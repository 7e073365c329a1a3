package auth

import (
	"context"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/frahmantamala/payment-dashboard/pkg/logger"
)

var _ = ginkgo.Describe("Registry", func() {
	var (
		clock    *fakeClock
		backend  *fakeBackend
		registry *Registry
		evicted  []string
	)

	ginkgo.BeforeEach(func() {
		clock = newFakeClock()
		backend = newFakeBackend()
		evicted = nil
		registry = NewRegistry(func(sid string) *Machine {
			return NewMachine(backend, WithClock(clock), WithSessionID(sid), WithLogger(logger.Discard()))
		},
			WithRegistryClock(clock),
			WithRegistryLogger(logger.Discard()),
			OnEvict(func(sid string) { evicted = append(evicted, sid) }),
		)
	})

	ginkgo.It("should hand out one machine per session", func() {
		a := registry.GetOrCreate("a")
		gomega.Expect(registry.GetOrCreate("a")).To(gomega.BeIdenticalTo(a))
		gomega.Expect(registry.GetOrCreate("b")).ToNot(gomega.BeIdenticalTo(a))
		gomega.Expect(registry.Len()).To(gomega.Equal(2))

		m, ok := registry.Get("a")
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(m.SessionID()).To(gomega.Equal("a"))
	})

	ginkgo.It("should evict idle machines only", func() {
		registry.GetOrCreate("idle")
		clock.Advance(20 * time.Minute)
		active := registry.GetOrCreate("active")
		active.Abandon()
		clock.Advance(15 * time.Minute)

		n := registry.Sweep(30 * time.Minute)

		gomega.Expect(n).To(gomega.Equal(1))
		gomega.Expect(evicted).To(gomega.Equal([]string{"idle"}))
		_, ok := registry.Get("idle")
		gomega.Expect(ok).To(gomega.BeFalse())
		_, ok = registry.Get("active")
		gomega.Expect(ok).To(gomega.BeTrue())
	})

	ginkgo.It("should never evict a machine with a call in flight", func() {
		m := registry.GetOrCreate("busy")
		backend.holdCalls()
		done := make(chan Outcome, 1)
		go func() { done <- m.Login(context.Background(), "staff@example.com", "secret") }()
		gomega.Eventually(backend.entered).Should(gomega.Receive())
		clock.Advance(time.Hour)

		gomega.Expect(registry.Sweep(30 * time.Minute)).To(gomega.Equal(0))
		gomega.Expect(evicted).To(gomega.BeEmpty())

		backend.releaseOne()
		gomega.Eventually(done).Should(gomega.Receive(gomega.HaveField("OK", true)))
		gomega.Expect(registry.Sweep(30 * time.Minute)).To(gomega.Equal(1))
		gomega.Expect(evicted).To(gomega.Equal([]string{"busy"}))
	})

	ginkgo.It("should run the eviction hook on Remove", func() {
		registry.GetOrCreate("gone")

		registry.Remove("gone")
		registry.Remove("never-existed")

		gomega.Expect(evicted).To(gomega.Equal([]string{"gone"}))
		gomega.Expect(registry.Len()).To(gomega.Equal(0))
	})

	ginkgo.It("should stop the janitor when the context ends", func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- registry.Run(ctx, 10*time.Millisecond, time.Minute) }()

		cancel()

		gomega.Eventually(done).Should(gomega.Receive(gomega.BeNil()))
	})
})

var _ = ginkgo.Describe("Cooldown", func() {
	ginkgo.It("should round partial seconds up", func() {
		clock := newFakeClock()
		c := NewCooldown(60*time.Second, clock)
		gomega.Expect(c.Ready()).To(gomega.BeTrue())

		c.Reset()
		clock.Advance(500 * time.Millisecond)
		gomega.Expect(c.Remaining()).To(gomega.Equal(60))
		clock.Advance(59 * time.Second)
		gomega.Expect(c.Remaining()).To(gomega.Equal(1))
		clock.Advance(500 * time.Millisecond)
		gomega.Expect(c.Ready()).To(gomega.BeTrue())

		c.Reset()
		c.Stop()
		gomega.Expect(c.Remaining()).To(gomega.Equal(0))
	})
})
