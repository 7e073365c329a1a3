// Package audit persists resolved login steps.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/payment-dashboard/internal/auth"
	auditDatamodel "github.com/frahmantamala/payment-dashboard/internal/core/datamodel/audit"
	"github.com/frahmantamala/payment-dashboard/internal/core/events"
)

const (
	ResultSuccess = "success"
	// Submissions dropped while another call was pending are not stored.
	resultBusy = "busy"
)

type RepositoryAPI interface {
	Create(ctx context.Context, attempt *auditDatamodel.AuthAttempt) error
	ListRecent(ctx context.Context, filter Filter) ([]*auditDatamodel.AuthAttempt, error)
}

type Filter struct {
	Email     string
	SessionID string
	Limit     int
}

type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// RecordAttempt stores rec. Failures are logged and otherwise ignored.
func (s *Service) RecordAttempt(ctx context.Context, rec auth.AttemptRecord) {
	attempt := ToDataModel(rec)
	if attempt.Result == resultBusy {
		return
	}
	if err := s.repo.Create(ctx, attempt); err != nil {
		s.logger.Error("failed to store auth attempt",
			"session_id", rec.SessionID,
			"step", rec.Step,
			"error", err)
	}
}

// HandleAttemptResolved is the event bus handler for resolved attempts.
func (s *Service) HandleAttemptResolved(ctx context.Context, event events.Event) error {
	ev, ok := event.(*events.AttemptResolvedEvent)
	if !ok {
		return fmt.Errorf("unexpected event %T for %s", event, event.EventType())
	}
	s.RecordAttempt(ctx, ev.Record)
	return nil
}

// Subscribe registers the service on bus.
func (s *Service) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventTypeAttemptResolved, s.HandleAttemptResolved)
}

func (s *Service) Recent(ctx context.Context, filter Filter) ([]*auditDatamodel.AuthAttempt, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 1000 {
		return nil, errors.New("limit must not exceed 1000")
	}
	return s.repo.ListRecent(ctx, filter)
}

func ToDataModel(rec auth.AttemptRecord) *auditDatamodel.AuthAttempt {
	result := ResultSuccess
	if rec.Reason != auth.ReasonNone {
		result = string(rec.Reason)
	}
	return &auditDatamodel.AuthAttempt{
		SessionID:  rec.SessionID,
		Email:      rec.Email,
		Step:       string(rec.Step),
		Result:     result,
		Message:    rec.Message,
		DurationMS: rec.Duration.Milliseconds(),
		CreatedAt:  rec.At,
	}
}

var _ auth.AttemptRecorder = (*Service)(nil)
