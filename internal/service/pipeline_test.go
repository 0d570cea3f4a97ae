package service_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/ava/internal/adapter/llm"
	"github.com/xiaot623/gogo/ava/internal/adapter/markdown"
	"github.com/xiaot623/gogo/ava/internal/artifact"
	"github.com/xiaot623/gogo/ava/internal/bus"
	"github.com/xiaot623/gogo/ava/internal/config"
	"github.com/xiaot623/gogo/ava/internal/domain"
	"github.com/xiaot623/gogo/ava/internal/policy"
	"github.com/xiaot623/gogo/ava/internal/service"
	"github.com/xiaot623/gogo/ava/internal/tools"
	"github.com/xiaot623/gogo/ava/tests/helpers"
)

type fakeTranscriber struct {
	mu     sync.Mutex
	text   string
	err    error
	prompt string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio []byte, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt = prompt
	return f.text, f.err
}

type fakeLLM struct {
	mu       sync.Mutex
	choice   llm.Choice
	plain    string
	image    *llm.Image
	images   int
	requests []*llm.ChatCompletionRequest
	speech   []*llm.SpeechRequest
	speakErr error
}

func (f *fakeLLM) CreateChatCompletion(ctx context.Context, req *llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(req.Tools) > 0 {
		return &llm.ChatCompletionResponse{Choices: []llm.Choice{f.choice}}, nil
	}
	return &llm.ChatCompletionResponse{Choices: []llm.Choice{{
		Message:      &llm.ChatMessage{Role: llm.RoleAssistant, Content: f.plain},
		FinishReason: llm.FinishReasonStop,
	}}}, nil
}

func (f *fakeLLM) CreateTranscription(ctx context.Context, req *llm.TranscriptionRequest) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeLLM) CreateSpeech(ctx context.Context, req *llm.SpeechRequest) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.speech = append(f.speech, req)
	if f.speakErr != nil {
		return nil, f.speakErr
	}
	return []byte("ID3"), nil
}

func (f *fakeLLM) CreateImage(ctx context.Context, req *llm.ImageRequest) (*llm.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images++
	return f.image, nil
}

func stopChoice(content string) llm.Choice {
	return llm.Choice{
		Message:      &llm.ChatMessage{Role: llm.RoleAssistant, Content: content},
		FinishReason: llm.FinishReasonStop,
	}
}

func toolChoice(name, args string) llm.Choice {
	return llm.Choice{
		Message: &llm.ChatMessage{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID:       "call_1",
			Type:     "function",
			Function: llm.ToolCallFunction{Name: name, Arguments: args},
		}}},
		FinishReason: llm.FinishReasonToolCalls,
	}
}

type harness struct {
	svc         *service.Service
	bus         *bus.Registry
	llm         *fakeLLM
	transcriber *fakeTranscriber
	assetsDir   string
}

func newHarness(t *testing.T, journal service.Journal) *harness {
	t.Helper()

	registry, err := tools.NewRegistry()
	require.NoError(t, err)
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)

	h := &harness{
		bus:         bus.NewRegistry(bus.DefaultCapacity),
		llm:         &fakeLLM{},
		transcriber: &fakeTranscriber{text: "hello"},
		assetsDir:   t.TempDir(),
	}
	h.svc = service.New(service.Dependencies{
		Bus:         h.bus,
		Transcriber: h.transcriber,
		LLM:         h.llm,
		Markdown:    markdown.NewConverter(""),
		Artifacts:   artifact.NewStore(h.assetsDir, "/assets"),
		Tools:       registry,
		Policy:      engine,
		Journal:     journal,
		Config:      config.Default(),
	})
	return h
}

// submit runs one clip to completion and returns every event the session saw.
func (h *harness) submit(t *testing.T, sessionID string) []domain.AssistantEvent {
	t.Helper()

	rx, err := h.bus.Subscribe(sessionID)
	require.NoError(t, err)
	defer rx.Close()

	status, err := h.svc.Submit(context.Background(), sessionID, strings.NewReader("clip"))
	require.NoError(t, err)
	require.Equal(t, domain.SubmitStatusDone, status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Wait(ctx))

	return drain(rx)
}

func drain(rx *bus.Receiver) []domain.AssistantEvent {
	var events []domain.AssistantEvent
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		ev, err := rx.Recv(ctx)
		cancel()
		if err != nil {
			return events
		}
		events = append(events, ev)
	}
}

func describe(ev domain.AssistantEvent) string {
	switch e := ev.(type) {
	case domain.SignalEvent:
		if e.Kind == domain.SignalProcessing {
			return "processing:" + string(e.Step)
		}
		return string(e.Kind)
	case domain.ReplyEvent:
		if sp, ok := e.Data.(domain.SpeechResult); ok && sp.URL != "" {
			return "reply:speech+url"
		}
		return "reply:" + string(e.Data.Kind())
	default:
		return string(ev.Name())
	}
}

func describeAll(events []domain.AssistantEvent) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = describe(ev)
	}
	return out
}

var preamble = []string{
	"processing:upload_audio",
	"processing:transcription",
	"input_skeleton",
	"input",
	"processing:thinking",
	"reply_skeleton",
}

func withPreamble(rest ...string) []string {
	return append(append([]string{}, preamble...), rest...)
}

// assertOneTurn checks that every event carrying a turn id carries the same one.
func assertOneTurn(t *testing.T, events []domain.AssistantEvent) string {
	t.Helper()
	turnID := ""
	for _, ev := range events {
		if ev.TurnID() == "" {
			continue
		}
		if turnID == "" {
			turnID = ev.TurnID()
		}
		assert.Equal(t, turnID, ev.TurnID(), "event %s", ev.Name())
	}
	require.NotEmpty(t, turnID)
	return turnID
}

func TestSubmitStopProducesSpokenReply(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.choice = stopChoice("Hi there")

	events := h.submit(t, "s1")

	assert.Equal(t, withPreamble(
		"processing:speech",
		"reply:speech",
		"complete",
		"reply:speech+url",
	), describeAll(events))
	assertOneTurn(t, events)

	assert.Equal(t, "If audio language is Chinese, please use Simplified Chinese", h.transcriber.prompt)
	assert.Equal(t, "hello", events[3].(domain.InputEvent).Content)

	final := events[len(events)-1].(domain.ReplyEvent).Data.(domain.SpeechResult)
	assert.Equal(t, "Hi there", final.Text)
	assert.True(t, strings.HasPrefix(final.URL, "/assets/audio/s1/"))
	assert.True(t, strings.HasSuffix(final.URL, ".mp3"))

	name := filepath.Base(final.URL)
	data, err := os.ReadFile(filepath.Join(h.assetsDir, "audio", "s1", name))
	require.NoError(t, err)
	assert.Equal(t, "ID3", string(data))

	require.Len(t, h.llm.speech, 1)
	assert.Equal(t, "alloy", h.llm.speech[0].Voice)
	require.NotEmpty(t, h.llm.requests)
	assert.Len(t, h.llm.requests[0].Tools, 3)
	assert.Equal(t, []llm.ChatMessage{llm.UserMessage("hello")}, h.llm.requests[0].Messages)
}

func TestSubmitDrawImage(t *testing.T) {
	tests := []struct {
		name    string
		revised string
		want    string
	}{
		{name: "revised prompt", revised: "a fluffy red cat", want: "a fluffy red cat"},
		{name: "falls back to prompt", revised: "", want: "a red cat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.llm.choice = toolChoice("draw_image", `{"prompt":"a red cat"}`)
			h.llm.image = &llm.Image{Data: []byte("png"), RevisedPrompt: tt.revised}

			events := h.submit(t, "s1")

			assert.Equal(t, withPreamble(
				"processing:draw_image",
				"complete",
				"reply:image",
			), describeAll(events))
			assertOneTurn(t, events)

			img := events[len(events)-1].(domain.ReplyEvent).Data.(domain.ImageResult)
			assert.Equal(t, tt.want, img.RevisedPrompt)
			assert.True(t, strings.HasPrefix(img.URL, "/assets/image/s1/"))
			assert.True(t, strings.HasSuffix(img.URL, ".png"))
		})
	}
}

func TestSubmitWriteCode(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.choice = toolChoice("write_code", `{"prompt":"fibonacci in go"}`)
	h.llm.plain = "```go\nfunc fib(n int) int { return n }\n```"

	events := h.submit(t, "s1")

	assert.Equal(t, withPreamble(
		"processing:write_code",
		"complete",
		"reply:markdown",
	), describeAll(events))

	md := events[len(events)-1].(domain.ReplyEvent).Data.(domain.MarkdownResult)
	assert.Contains(t, md.HTML, "<pre")
	assert.Contains(t, md.HTML, "fib")

	require.Len(t, h.llm.requests, 2)
	plain := h.llm.requests[1]
	assert.Empty(t, plain.Tools)
	assert.Equal(t, []llm.ChatMessage{
		llm.SystemMessage("I'm an expert on coding, I'll write code for you in markdown format based on your prompt", "Ava"),
		llm.UserMessage("fibonacci in go"),
	}, plain.Messages)
}

func TestSubmitAnswer(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.choice = toolChoice("answer", `{"prompt":"why is the sky blue?"}`)
	h.llm.plain = "Rayleigh scattering."

	events := h.submit(t, "s1")

	assert.Equal(t, withPreamble(
		"processing:chat_completion",
		"complete",
		"reply:speech",
		"processing:speech",
		"complete",
		"reply:speech+url",
	), describeAll(events))
	assertOneTurn(t, events)

	require.Len(t, h.llm.requests, 2)
	assert.Equal(t, llm.SystemMessage("I can help answer anything you'd like to chat", "Ava"), h.llm.requests[1].Messages[0])
	final := events[len(events)-1].(domain.ReplyEvent).Data.(domain.SpeechResult)
	assert.Equal(t, "Rayleigh scattering.", final.Text)
}

func TestSubmitFailuresPublishOneError(t *testing.T) {
	tests := []struct {
		name    string
		choice  llm.Choice
		message string
	}{
		{name: "malformed arguments", choice: toolChoice("draw_image", `{"prompt":`), message: domain.ErrInvalidArguments.Error()},
		{name: "missing prompt", choice: toolChoice("write_code", `{}`), message: domain.ErrInvalidArguments.Error()},
		{name: "unknown tool", choice: toolChoice("launch_rocket", `{"prompt":"go"}`), message: domain.ErrUnknownTool.Error()},
		{name: "unsupported finish reason", choice: llm.Choice{Message: &llm.ChatMessage{Content: "cut"}, FinishReason: llm.FinishReasonLength}, message: domain.ErrUnsupportedFinishReason.Error()},
		{name: "stop without content", choice: stopChoice(""), message: "expect content"},
		{name: "policy block", choice: toolChoice("draw_image", fmt.Sprintf(`{"prompt":%q}`, strings.Repeat("a", 4001))), message: domain.ErrToolBlocked.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.llm.choice = tt.choice

			events := h.submit(t, "s1")
			names := describeAll(events)

			assert.Equal(t, withPreamble("error"), names)
			failure := events[len(events)-1].(domain.SignalEvent)
			assert.Contains(t, failure.Message, tt.message)
			assert.Zero(t, h.llm.images)
			assert.Empty(t, h.llm.speech)
		})
	}
}

func TestSubmitFailureAfterTextReply(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, h *harness)
		leading []string
		message string
	}{
		{
			name: "answer speech synthesis",
			setup: func(t *testing.T, h *harness) {
				h.llm.choice = toolChoice("answer", `{"prompt":"why is the sky blue?"}`)
				h.llm.plain = "Rayleigh scattering."
				h.llm.speakErr = errors.New("tts unavailable")
			},
			leading: []string{"processing:chat_completion", "complete", "reply:speech", "processing:speech"},
			message: "tts unavailable",
		},
		{
			name: "stop speech synthesis",
			setup: func(t *testing.T, h *harness) {
				h.llm.choice = stopChoice("Hi there")
				h.llm.speakErr = errors.New("tts unavailable")
			},
			leading: []string{"processing:speech", "reply:speech"},
			message: "tts unavailable",
		},
		{
			name: "audio persist",
			setup: func(t *testing.T, h *harness) {
				h.llm.choice = stopChoice("Hi there")
				blocker := filepath.Join(h.assetsDir, string(domain.ArtifactKindAudio))
				require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o644))
			},
			leading: []string{"processing:speech", "reply:speech"},
			message: domain.ErrIO.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			tt.setup(t, h)

			events := h.submit(t, "s1")
			names := describeAll(events)

			assert.Equal(t, withPreamble(append(tt.leading, "error")...), names)
			errs := 0
			for _, ev := range events {
				if sig, ok := ev.(domain.SignalEvent); ok && sig.Kind == domain.SignalError {
					errs++
				}
				if reply, ok := ev.(domain.ReplyEvent); ok {
					if sp, ok := reply.Data.(domain.SpeechResult); ok {
						assert.Empty(t, sp.URL)
					}
				}
			}
			assert.Equal(t, 1, errs)
			failure := events[len(events)-1].(domain.SignalEvent)
			assert.Contains(t, failure.Message, tt.message)
		})
	}
}

func TestSubmitTranscriptionFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.transcriber.err = domain.Upstream("transcription", errors.New("quota exceeded"))

	events := h.submit(t, "s1")

	assert.Equal(t, []string{
		"processing:upload_audio",
		"processing:transcription",
		"input_skeleton",
		"error",
	}, describeAll(events))
	assert.Contains(t, events[3].(domain.SignalEvent).Message, "quota exceeded")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSubmitReadFailure(t *testing.T) {
	h := newHarness(t, nil)
	rx, err := h.bus.Subscribe("s1")
	require.NoError(t, err)
	defer rx.Close()

	status, err := h.svc.Submit(context.Background(), "s1", failingReader{})
	assert.Equal(t, domain.SubmitStatusError, status)
	assert.ErrorIs(t, err, domain.ErrIO)

	assert.Equal(t, []string{"processing:upload_audio", "error"}, describeAll(drain(rx)))
}

func TestSubmitRequiresSession(t *testing.T) {
	h := newHarness(t, nil)

	status, err := h.svc.Submit(context.Background(), "", strings.NewReader("clip"))
	assert.Equal(t, domain.SubmitStatusError, status)
	assert.Error(t, err)
}

func TestSubmitFreshTurnPerRun(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.choice = stopChoice("ok")

	first := assertOneTurn(t, h.submit(t, "s1"))
	second := assertOneTurn(t, h.submit(t, "s1"))
	assert.NotEqual(t, first, second)
}

func TestSubmitSurvivesCallerCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.choice = stopChoice("still here")

	rx, err := h.bus.Subscribe("s1")
	require.NoError(t, err)
	defer rx.Close()

	ctx, cancel := context.WithCancel(context.Background())
	status, err := h.svc.Submit(ctx, "s1", strings.NewReader("clip"))
	require.NoError(t, err)
	require.Equal(t, domain.SubmitStatusDone, status)
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	require.NoError(t, h.svc.Wait(waitCtx))

	names := describeAll(drain(rx))
	require.NotEmpty(t, names)
	assert.Equal(t, "reply:speech+url", names[len(names)-1])
}

func TestSubmitOtherSessionsUnaffected(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.choice = stopChoice("ok")

	other, err := h.bus.Subscribe("s2")
	require.NoError(t, err)
	defer other.Close()

	h.submit(t, "s1")
	assert.Empty(t, drain(other))
}

func TestSubmitRecordsJournal(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	h := newHarness(t, store)
	h.llm.choice = toolChoice("draw_image", `{"prompt":"a red cat"}`)
	h.llm.image = &llm.Image{Data: []byte("png"), RevisedPrompt: "a red cat"}

	events := h.submit(t, "s1")
	turnID := assertOneTurn(t, events)

	ctx := context.Background()
	run, err := store.GetRun(ctx, turnID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusDone, run.Status)
	assert.Equal(t, domain.ReplyKindImage, run.ReplyKind)
	assert.Equal(t, "hello", run.Transcript)

	recorded, err := store.GetEvents(ctx, turnID, 0, nil, 0)
	require.NoError(t, err)
	require.Len(t, recorded, len(events))
	seen := make(map[string]bool, len(recorded))
	for i := range events {
		assert.Equal(t, events[i].Name(), recorded[i].Type)
		assert.Len(t, recorded[i].EventID, len("evt_")+36)
		assert.False(t, seen[recorded[i].EventID], "duplicate event id %s", recorded[i].EventID)
		seen[recorded[i].EventID] = true
	}

	artifacts, err := store.ListArtifacts(ctx, turnID)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)
	assert.Equal(t, domain.ArtifactKindImage, artifacts[0].Kind)
}

func TestSubmitRecordsFailedRun(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)
	h := newHarness(t, store)
	h.llm.choice = toolChoice("write_code", `not json`)

	turnID := assertOneTurn(t, h.submit(t, "s1"))

	run, err := store.GetRun(context.Background(), turnID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, domain.ErrInvalidArguments.Error())
}

func TestSubmitAfterBusClosed(t *testing.T) {
	h := newHarness(t, nil)
	h.bus.Close()

	status, err := h.svc.Submit(context.Background(), "s1", strings.NewReader("clip"))
	assert.Equal(t, domain.SubmitStatusError, status)
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestWaitHonoursContext(t *testing.T) {
	h := newHarness(t, nil)
	assert.NoError(t, h.svc.Wait(context.Background()))
}
