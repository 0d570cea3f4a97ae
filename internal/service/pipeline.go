package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaot623/gogo/ava/internal/adapter/llm"
	"github.com/xiaot623/gogo/ava/internal/domain"
	"github.com/xiaot623/gogo/ava/internal/logging"
	"github.com/xiaot623/gogo/ava/internal/policy"
	"github.com/xiaot623/gogo/ava/internal/tools"
)

const (
	transcriptionPrompt = "If audio language is Chinese, please use Simplified Chinese"
	writeCodePrompt     = "I'm an expert on coding, I'll write code for you in markdown format based on your prompt"
	answerPrompt        = "I can help answer anything you'd like to chat"
	assistantName       = "Ava"
)

// Submit accepts one recorded clip for sessionID. It reads the clip, starts
// the run in the background and returns without waiting for it. The run's
// progress and result are published on the session bus.
func (s *Service) Submit(ctx context.Context, sessionID string, audio io.Reader) (domain.SubmitStatus, error) {
	if sessionID == "" {
		return domain.SubmitStatusError, errors.New("session id is required")
	}

	r := &run{svc: s, sessionID: sessionID, turnID: domain.NewTurnID()}
	ctx = logging.WithTurnID(logging.WithSessionID(ctx, sessionID), r.turnID)
	r.start(ctx)

	if err := r.emit(ctx, domain.Processing(domain.StepUploadAudio)); err != nil {
		r.finish(ctx, err)
		return domain.SubmitStatusError, err
	}

	data, err := io.ReadAll(audio)
	if err != nil {
		err = fmt.Errorf("%w: read audio: %v", domain.ErrIO, err)
		r.finish(ctx, err)
		return domain.SubmitStatusError, err
	}
	s.logger.InfoContext(ctx, "audio received", slog.Int("bytes", len(data)))

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()

		runCtx := context.WithoutCancel(ctx)
		if s.config.RunTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.config.RunTimeout)
			defer cancel()
		}
		r.finish(runCtx, r.execute(runCtx, data))
	}()

	return domain.SubmitStatusDone, nil
}

// run is the state of one pipeline execution.
type run struct {
	svc       *Service
	sessionID string
	turnID    string
	replyKind domain.ReplyKind
	startedAt time.Time
}

func (r *run) start(ctx context.Context) {
	r.startedAt = time.Now()
	err := r.svc.journal.CreateRun(ctx, &domain.Run{
		TurnID:    r.turnID,
		SessionID: r.sessionID,
		Status:    domain.RunStatusRunning,
		StartedAt: r.startedAt,
	})
	if err != nil {
		r.svc.logger.WarnContext(ctx, "failed to record run", slog.Any("error", err))
	}
}

// emit publishes ev to the session. A publish failure aborts the run.
func (r *run) emit(ctx context.Context, ev domain.AssistantEvent) error {
	if err := r.svc.bus.Publish(r.sessionID, ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Name(), err)
	}
	r.svc.recordEvent(ctx, r.turnID, ev)
	return nil
}

// finish publishes the single error signal of a failed run and closes the
// journal record.
func (r *run) finish(ctx context.Context, err error) {
	elapsed := slog.Duration("elapsed", time.Since(r.startedAt))
	status := domain.RunStatusDone
	msg := ""

	if err != nil {
		status = domain.RunStatusFailed
		msg = err.Error()
		r.svc.logger.ErrorContext(ctx, "run failed", slog.Any("error", err), elapsed)

		ev := domain.Failure(msg)
		if perr := r.svc.bus.Publish(r.sessionID, ev); perr != nil {
			r.svc.logger.WarnContext(ctx, "failed to publish error signal", slog.Any("error", perr))
		} else {
			r.svc.recordEvent(ctx, r.turnID, ev)
		}
	} else {
		r.svc.logger.InfoContext(ctx, "run finished", slog.String("reply", string(r.replyKind)), elapsed)
	}

	if jerr := r.svc.journal.CompleteRun(ctx, r.turnID, status, r.replyKind, msg); jerr != nil {
		r.svc.logger.WarnContext(ctx, "failed to complete run record", slog.Any("error", jerr))
	}
}

func (r *run) execute(ctx context.Context, audio []byte) (err error) {
	ctx, span := tracer.Start(ctx, "assistant run", trace.WithAttributes(
		attribute.String("session_id", r.sessionID),
		attribute.String("turn_id", r.turnID),
	))
	defer func() { endSpan(span, err) }()

	input, err := r.transcribe(ctx, audio)
	if err != nil {
		return err
	}

	choice, err := r.think(ctx, input)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.String("finish_reason", choice.FinishReason))

	switch choice.FinishReason {
	case llm.FinishReasonStop:
		text, err := content(choice)
		if err != nil {
			return err
		}
		if err := r.emit(ctx, domain.Processing(domain.StepSpeech)); err != nil {
			return err
		}
		if err := r.emit(ctx, domain.NewReply(r.turnID, domain.SpeechResult{Text: text})); err != nil {
			return err
		}
		return r.speak(ctx, text)
	case llm.FinishReasonToolCalls:
		return r.callTool(ctx, choice.Message)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedFinishReason, choice.FinishReason)
	}
}

func (r *run) transcribe(ctx context.Context, audio []byte) (text string, err error) {
	if err := r.emit(ctx, domain.Processing(domain.StepTranscription)); err != nil {
		return "", err
	}
	if err := r.emit(ctx, domain.NewInputSkeleton(r.turnID)); err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "transcribe audio", trace.WithAttributes(attribute.Int("audio.bytes", len(audio))))
	text, err = r.svc.transcriber.Transcribe(ctx, audio, transcriptionPrompt)
	endSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}

	if err := r.svc.journal.UpdateRunTranscript(ctx, r.turnID, text); err != nil {
		r.svc.logger.WarnContext(ctx, "failed to record transcript", slog.Any("error", err))
	}
	if err := r.emit(ctx, domain.NewInput(r.turnID, text)); err != nil {
		return "", err
	}
	return text, nil
}

func (r *run) think(ctx context.Context, input string) (*llm.Choice, error) {
	if err := r.emit(ctx, domain.Processing(domain.StepThinking)); err != nil {
		return nil, err
	}
	if err := r.emit(ctx, domain.NewReplySkeleton(r.turnID)); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "tool completion")
	resp, err := r.svc.llmClient.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model:    r.svc.config.ChatModel,
		Messages: []llm.ChatMessage{llm.UserMessage(input)},
		Tools:    r.svc.tools.Definitions(),
	})
	endSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("tool completion: %w", err)
	}
	return lastChoice(resp)
}

func (r *run) callTool(ctx context.Context, msg *llm.ChatMessage) error {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return domain.Upstream("chat completion", errors.New("finish reason is tool_calls but no tool call was returned"))
	}
	fn := msg.ToolCalls[0].Function

	call, err := r.svc.tools.Resolve(fn.Name, fn.Arguments)
	if err != nil {
		return err
	}
	if err := r.checkPolicy(ctx, call); err != nil {
		return err
	}
	r.svc.logger.InfoContext(ctx, "tool selected", slog.String("tool", string(call.Tool)))

	switch call.Tool {
	case tools.DrawImage:
		return r.drawImage(ctx, call.Prompt())
	case tools.WriteCode:
		return r.writeCode(ctx, call.Prompt())
	case tools.Answer:
		return r.answer(ctx, call.Prompt())
	}
	return fmt.Errorf("%w: %s", domain.ErrUnknownTool, call.Tool)
}

func (r *run) checkPolicy(ctx context.Context, call *tools.Call) error {
	if r.svc.policy == nil {
		return nil
	}
	decision, reason, err := r.svc.policy.Evaluate(ctx, policy.Input{
		ToolName:  string(call.Tool),
		SessionID: r.sessionID,
		Args:      call.Input,
	})
	if err != nil {
		return fmt.Errorf("tool policy: %w", err)
	}
	if decision == policy.DecisionBlock {
		return fmt.Errorf("%w: %s: %s", domain.ErrToolBlocked, call.Tool, reason)
	}
	return nil
}

func (r *run) drawImage(ctx context.Context, prompt string) (err error) {
	if err := r.emit(ctx, domain.Processing(tools.DrawImage.Step())); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "draw image")
	defer func() { endSpan(span, err) }()

	img, err := r.svc.llmClient.CreateImage(ctx, &llm.ImageRequest{
		Model:          r.svc.config.ImageModel,
		Prompt:         prompt,
		N:              1,
		ResponseFormat: "b64_json",
	})
	if err != nil {
		return fmt.Errorf("draw image: %w", err)
	}
	artifact, err := r.persist(ctx, domain.ArtifactKindImage, img.Data)
	if err != nil {
		return err
	}

	revised := img.RevisedPrompt
	if revised == "" {
		revised = prompt
	}
	if err := r.emit(ctx, domain.Complete()); err != nil {
		return err
	}
	r.replyKind = domain.ReplyKindImage
	return r.emit(ctx, domain.NewReply(r.turnID, domain.ImageResult{URL: artifact.URL, RevisedPrompt: revised}))
}

func (r *run) writeCode(ctx context.Context, prompt string) (err error) {
	if err := r.emit(ctx, domain.Processing(tools.WriteCode.Step())); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "write code")
	defer func() { endSpan(span, err) }()

	md, err := r.complete(ctx, writeCodePrompt, prompt)
	if err != nil {
		return err
	}
	html, err := r.svc.markdown.ToHTML(md)
	if err != nil {
		return err
	}

	if err := r.emit(ctx, domain.Complete()); err != nil {
		return err
	}
	r.replyKind = domain.ReplyKindMarkdown
	return r.emit(ctx, domain.NewReply(r.turnID, domain.MarkdownResult{HTML: html}))
}

func (r *run) answer(ctx context.Context, prompt string) error {
	if err := r.emit(ctx, domain.Processing(tools.Answer.Step())); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "answer")
	text, err := r.complete(ctx, answerPrompt, prompt)
	endSpan(span, err)
	if err != nil {
		return err
	}

	if err := r.emit(ctx, domain.Complete()); err != nil {
		return err
	}
	if err := r.emit(ctx, domain.NewReply(r.turnID, domain.SpeechResult{Text: text})); err != nil {
		return err
	}
	if err := r.emit(ctx, domain.Processing(domain.StepSpeech)); err != nil {
		return err
	}
	return r.speak(ctx, text)
}

// speak synthesizes text and publishes it again with the audio url.
func (r *run) speak(ctx context.Context, text string) (err error) {
	ctx, span := tracer.Start(ctx, "synthesize speech", trace.WithAttributes(attribute.Int("text.length", len(text))))
	defer func() { endSpan(span, err) }()

	audio, err := r.svc.llmClient.CreateSpeech(ctx, &llm.SpeechRequest{
		Model:          r.svc.config.TTSModel,
		Input:          text,
		Voice:          r.svc.config.TTSVoice,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return fmt.Errorf("synthesize speech: %w", err)
	}
	artifact, err := r.persist(ctx, domain.ArtifactKindAudio, audio)
	if err != nil {
		return err
	}

	if err := r.emit(ctx, domain.Complete()); err != nil {
		return err
	}
	r.replyKind = domain.ReplyKindSpeech
	return r.emit(ctx, domain.NewReply(r.turnID, domain.SpeechResult{Text: text, URL: artifact.URL}))
}

// complete runs a plain completion as the assistant persona.
func (r *run) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := r.svc.llmClient.CreateChatCompletion(ctx, &llm.ChatCompletionRequest{
		Model: r.svc.config.ChatModel,
		Messages: []llm.ChatMessage{
			llm.SystemMessage(system, assistantName),
			llm.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	choice, err := lastChoice(resp)
	if err != nil {
		return "", err
	}
	return content(choice)
}

func (r *run) persist(ctx context.Context, kind domain.ArtifactKind, data []byte) (*domain.Artifact, error) {
	artifact, err := r.svc.artifacts.Save(r.sessionID, kind, data)
	if err != nil {
		return nil, err
	}
	artifact.TurnID = r.turnID
	if err := r.svc.journal.CreateArtifact(ctx, artifact); err != nil {
		r.svc.logger.WarnContext(ctx, "failed to record artifact", slog.Any("error", err))
	}
	return artifact, nil
}

func lastChoice(resp *llm.ChatCompletionResponse) (*llm.Choice, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, domain.Upstream("chat completion", errors.New("expect at least one choice"))
	}
	return &resp.Choices[len(resp.Choices)-1], nil
}

func content(choice *llm.Choice) (string, error) {
	if choice.Message == nil || choice.Message.Content == "" {
		return "", domain.Upstream("chat completion", errors.New("expect content but no content available"))
	}
	return choice.Message.Content, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
