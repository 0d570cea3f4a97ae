// Package service runs the assistant pipeline: it turns one uploaded clip into
// an ordered sequence of events published on the session bus.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/xiaot623/gogo/ava/internal/adapter/llm"
	"github.com/xiaot623/gogo/ava/internal/config"
	"github.com/xiaot623/gogo/ava/internal/domain"
	"github.com/xiaot623/gogo/ava/internal/policy"
	"github.com/xiaot623/gogo/ava/internal/tools"
)

// Publisher delivers events to the subscribers of a session.
type Publisher interface {
	Publish(sessionID string, ev domain.AssistantEvent) error
}

// Transcriber turns a recorded clip into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, prompt string) (string, error)
}

// MarkdownConverter renders markdown to HTML.
type MarkdownConverter interface {
	ToHTML(src string) (string, error)
}

// ArtifactStore persists generated media.
type ArtifactStore interface {
	Save(sessionID string, kind domain.ArtifactKind, data []byte) (*domain.Artifact, error)
}

// PolicyEvaluator decides whether a tool call may run.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input policy.Input) (string, string, error)
}

// Dependencies are the collaborators of a Service. Journal and Logger are
// optional.
type Dependencies struct {
	Bus         Publisher
	Transcriber Transcriber
	LLM         llm.LLMClient
	Markdown    MarkdownConverter
	Artifacts   ArtifactStore
	Tools       *tools.Registry
	Policy      PolicyEvaluator
	Journal     Journal
	Config      *config.Config
	Logger      *slog.Logger
}

type Service struct {
	bus         Publisher
	transcriber Transcriber
	llmClient   llm.LLMClient
	markdown    MarkdownConverter
	artifacts   ArtifactStore
	tools       *tools.Registry
	policy      PolicyEvaluator
	journal     Journal
	config      *config.Config
	logger      *slog.Logger

	runs sync.WaitGroup
}

func New(deps Dependencies) *Service {
	s := &Service{
		bus:         deps.Bus,
		transcriber: deps.Transcriber,
		llmClient:   deps.LLM,
		markdown:    deps.Markdown,
		artifacts:   deps.Artifacts,
		tools:       deps.Tools,
		policy:      deps.Policy,
		journal:     deps.Journal,
		config:      deps.Config,
		logger:      deps.Logger,
	}
	if s.journal == nil {
		s.journal = NoopJournal{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.config == nil {
		s.config = config.Default()
	}
	return s
}

// Wait blocks until every detached run has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
