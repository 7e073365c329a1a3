package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeBackend records calls and answers with preset results. When hold is
// on, every call signals entered and blocks until release.
type fakeBackend struct {
	mu sync.Mutex

	verifyErr  error
	confirmErr error
	resendErr  error
	logoutErr  error
	sessionErr error
	commitErr  error

	principal *Principal
	current   *Principal

	calls map[string]int

	issued    int
	committed string
	discarded []string

	hold    bool
	entered chan string
	release chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		principal: &Principal{ID: "7", Email: "staff@example.com", IsStaff: true, IsActive: true, IsVerified: true},
		calls:     map[string]int{},
		entered:   make(chan string, 8),
		release:   make(chan struct{}, 8),
	}
}

// holdCalls makes subsequent calls block until releaseOne.
func (f *fakeBackend) holdCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = true
}

// stopHolding lets subsequent calls through; calls already held still wait.
func (f *fakeBackend) stopHolding() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = false
}

func (f *fakeBackend) releaseOne() {
	f.release <- struct{}{}
}

func (f *fakeBackend) tokens() (string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.committed, append([]string(nil), f.discarded...)
}

func (f *fakeBackend) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBackend) enter(name string) {
	f.mu.Lock()
	f.calls[name]++
	hold := f.hold
	f.mu.Unlock()
	if hold {
		f.entered <- name
		<-f.release
	}
}

func (f *fakeBackend) VerifyCredentials(_ context.Context, _, _ string) error {
	f.enter("verify")
	return f.verifyErr
}

func (f *fakeBackend) ConfirmCode(_ context.Context, _, _ string) (*Grant, error) {
	f.enter("confirm")
	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return &Grant{Principal: f.principal, Token: fmt.Sprintf("tok-%d", f.issued)}, nil
}

// Commit and Discard never block so held calls only cover the remote ones.
func (f *fakeBackend) Commit(_ context.Context, g *Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["commit"]++
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = g.Token
	return nil
}

func (f *fakeBackend) Discard(_ context.Context, g *Grant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["discard"]++
	f.discarded = append(f.discarded, g.Token)
	return nil
}

func (f *fakeBackend) ResendCode(_ context.Context, _ string) error {
	f.enter("resend")
	return f.resendErr
}

func (f *fakeBackend) CurrentSession(_ context.Context) (*Principal, error) {
	f.enter("session")
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.current, nil
}

func (f *fakeBackend) Logout(_ context.Context) error {
	f.enter("logout")
	return f.logoutErr
}

type captureRecorder struct {
	mu      sync.Mutex
	records []AttemptRecord
}

func (c *captureRecorder) RecordAttempt(_ context.Context, rec AttemptRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
}

func (c *captureRecorder) all() []AttemptRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AttemptRecord, len(c.records))
	copy(out, c.records)
	return out
}
