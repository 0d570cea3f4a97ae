package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	userAvatar      = "https://i.pravatar.cc/128"
	userName        = "User"
	assistantAvatar = "./public/images/ava-small.png"
	assistantName   = "Ava"

	datetimeLayout = "2006-01-02 15:04:05"
)

// displayZone is the fixed offset used for the timestamps shown next to user input.
var displayZone = time.FixedZone("UTC+8", 8*60*60)

// AssistantEvent is one of SignalEvent, InputSkeletonEvent, InputEvent,
// ReplySkeletonEvent or ReplyEvent. The set is closed.
type AssistantEvent interface {
	// Name is the external tag of the variant.
	Name() EventName
	// TurnID is the correlation id, empty for signals.
	TurnID() string

	assistantEvent()
}

// NewTurnID generates the correlation id for a new run.
func NewTurnID() string {
	return uuid.New().String()
}

// SignalEvent marks pipeline lifecycle transitions. It is not tied to a turn.
type SignalEvent struct {
	Kind    SignalKind    `json:"type"`
	Step    AssistantStep `json:"step,omitempty"`
	Message string        `json:"message,omitempty"`
}

// Processing returns the signal published before a step does its work.
func Processing(step AssistantStep) SignalEvent {
	return SignalEvent{Kind: SignalProcessing, Step: step}
}

// Failure returns the signal published when a run aborts.
func Failure(message string) SignalEvent {
	return SignalEvent{Kind: SignalError, Message: message}
}

// Complete returns the signal published once a branch has produced its result.
func Complete() SignalEvent {
	return SignalEvent{Kind: SignalComplete}
}

func (SignalEvent) Name() EventName { return EventNameSignal }
func (SignalEvent) TurnID() string  { return "" }
func (SignalEvent) assistantEvent() {}

// InputSkeletonEvent announces that user input for a turn is forthcoming.
type InputSkeletonEvent struct {
	ID       string `json:"id"`
	Datetime string `json:"datetime"`
	Avatar   string `json:"avatar"`
	UserName string `json:"name"`
}

// NewInputSkeleton stamps the display time and the default user identity.
func NewInputSkeleton(turnID string) InputSkeletonEvent {
	return NewInputSkeletonAt(turnID, time.Now())
}

// NewInputSkeletonAt is NewInputSkeleton with an explicit clock reading.
func NewInputSkeletonAt(turnID string, at time.Time) InputSkeletonEvent {
	return InputSkeletonEvent{
		ID:       turnID,
		Datetime: at.In(displayZone).Format(datetimeLayout),
		Avatar:   userAvatar,
		UserName: userName,
	}
}

func (InputSkeletonEvent) Name() EventName  { return EventNameInputSkeleton }
func (e InputSkeletonEvent) TurnID() string { return e.ID }
func (InputSkeletonEvent) assistantEvent()  {}

// InputEvent carries the transcribed user utterance.
type InputEvent struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func NewInput(turnID, content string) InputEvent {
	return InputEvent{ID: turnID, Content: content}
}

func (InputEvent) Name() EventName  { return EventNameInput }
func (e InputEvent) TurnID() string { return e.ID }
func (InputEvent) assistantEvent()  {}

// ReplySkeletonEvent announces that an assistant reply for a turn is forthcoming.
type ReplySkeletonEvent struct {
	ID        string `json:"id"`
	Avatar    string `json:"avatar"`
	AgentName string `json:"name"`
}

func NewReplySkeleton(turnID string) ReplySkeletonEvent {
	return ReplySkeletonEvent{ID: turnID, Avatar: assistantAvatar, AgentName: assistantName}
}

func (ReplySkeletonEvent) Name() EventName  { return EventNameReplySkeleton }
func (e ReplySkeletonEvent) TurnID() string { return e.ID }
func (ReplySkeletonEvent) assistantEvent()  {}

// ReplyEvent carries an intermediate or final assistant reply.
type ReplyEvent struct {
	ID   string    `json:"id"`
	Data ReplyData `json:"data"`
}

func NewReply(turnID string, data ReplyData) ReplyEvent {
	return ReplyEvent{ID: turnID, Data: data}
}

func (ReplyEvent) Name() EventName  { return EventNameReply }
func (e ReplyEvent) TurnID() string { return e.ID }
func (ReplyEvent) assistantEvent()  {}

// ReplyData is one of SpeechResult, ImageResult or MarkdownResult.
type ReplyData interface {
	Kind() ReplyKind
	replyData()
}

// SpeechResult is spoken text. URL is empty until the audio has been synthesized.
type SpeechResult struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

func (SpeechResult) Kind() ReplyKind { return ReplyKindSpeech }
func (SpeechResult) replyData()      {}

// ImageResult is a generated image.
type ImageResult struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt"`
}

func (ImageResult) Kind() ReplyKind { return ReplyKindImage }
func (ImageResult) replyData()      {}

// MarkdownResult is code rendered from markdown to HTML.
type MarkdownResult struct {
	HTML string `json:"html"`
}

func (MarkdownResult) Kind() ReplyKind { return ReplyKindMarkdown }
func (MarkdownResult) replyData()      {}

// MarshalJSON tags the payload with its kind.
func (e ReplyEvent) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
		fields["type"] = e.Data.Kind()
	}
	return json.Marshal(struct {
		ID   string         `json:"id"`
		Data map[string]any `json:"data"`
	}{ID: e.ID, Data: fields})
}
