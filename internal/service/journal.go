package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

// Journal records runs for later inspection. Failures are logged and never
// abort a run.
type Journal interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	UpdateRunTranscript(ctx context.Context, turnID, transcript string) error
	CompleteRun(ctx context.Context, turnID string, status domain.RunStatus, replyKind domain.ReplyKind, errMsg string) error
	CreateEvent(ctx context.Context, event *domain.Event) error
	CreateArtifact(ctx context.Context, artifact *domain.Artifact) error
}

// NoopJournal discards everything.
type NoopJournal struct{}

func (NoopJournal) CreateRun(context.Context, *domain.Run) error { return nil }

func (NoopJournal) UpdateRunTranscript(context.Context, string, string) error { return nil }

func (NoopJournal) CompleteRun(context.Context, string, domain.RunStatus, domain.ReplyKind, string) error {
	return nil
}

func (NoopJournal) CreateEvent(context.Context, *domain.Event) error { return nil }

func (NoopJournal) CreateArtifact(context.Context, *domain.Artifact) error { return nil }

// recordEvent appends a published event to the run's journal.
func (s *Service) recordEvent(ctx context.Context, turnID string, ev domain.AssistantEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to marshal event", slog.String("event", string(ev.Name())), slog.Any("error", err))
		return
	}

	event := &domain.Event{
		EventID: "evt_" + uuid.NewString(),
		TurnID:  turnID,
		Ts:      time.Now().UnixMilli(),
		Type:    ev.Name(),
		Payload: payload,
	}
	if err := s.journal.CreateEvent(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to record event", slog.String("event", string(ev.Name())), slog.Any("error", err))
	}
}
