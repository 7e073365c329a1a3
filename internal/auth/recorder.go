package auth

import (
	"context"
	"time"
)

type Step string

const (
	StepCredentials  Step = "credentials"
	StepCode         Step = "code"
	StepResend       Step = "resend"
	StepSessionCheck Step = "session_check"
	StepLogout       Step = "logout"
)

// AttemptRecord describes one resolved step. Passwords and codes are never
// part of it.
type AttemptRecord struct {
	SessionID string
	Email     string
	Step      Step
	Reason    Reason
	Message   string
	Duration  time.Duration
	At        time.Time
}

// AttemptRecorder receives every step outcome, for audit and metrics.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord)
}

// Recorders fans a record out to several recorders.
type Recorders []AttemptRecorder

func (rs Recorders) RecordAttempt(ctx context.Context, rec AttemptRecord) {
	for _, r := range rs {
		if r != nil {
			r.RecordAttempt(ctx, rec)
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordAttempt(context.Context, AttemptRecord) {}
