// Package domain defines the core domain models for the assistant.
package domain

// AssistantStep is a pipeline stage reported to viewers while a run progresses.
type AssistantStep string

const (
	StepUploadAudio    AssistantStep = "upload_audio"
	StepTranscription  AssistantStep = "transcription"
	StepThinking       AssistantStep = "thinking"
	StepChatCompletion AssistantStep = "chat_completion"
	StepDrawImage      AssistantStep = "draw_image"
	StepWriteCode      AssistantStep = "write_code"
	StepSpeech         AssistantStep = "speech"
)

var stepLabels = map[AssistantStep]string{
	StepUploadAudio:    "Uploading audio",
	StepTranscription:  "Transcribing audio",
	StepThinking:       "Thinking hard",
	StepChatCompletion: "Organizing answer",
	StepDrawImage:      "Drawing image",
	StepWriteCode:      "Writing code",
	StepSpeech:         "Generating speech",
}

// Label returns the human readable progress text for the step.
func (s AssistantStep) Label() string {
	if l, ok := stepLabels[s]; ok {
		return l
	}
	return string(s)
}

// EventName is the external tag of an assistant event variant.
type EventName string

const (
	EventNameSignal        EventName = "signal"
	EventNameInputSkeleton EventName = "input_skeleton"
	EventNameInput         EventName = "input"
	EventNameReplySkeleton EventName = "reply_skeleton"
	EventNameReply         EventName = "reply"
)

// SignalKind distinguishes the lifecycle markers carried by a SignalEvent.
type SignalKind string

const (
	SignalProcessing SignalKind = "processing"
	SignalError      SignalKind = "error"
	SignalComplete   SignalKind = "complete"
)

// ReplyKind identifies the payload carried by a reply.
type ReplyKind string

const (
	ReplyKindSpeech   ReplyKind = "speech"
	ReplyKindImage    ReplyKind = "image"
	ReplyKindMarkdown ReplyKind = "markdown"
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusDone    RunStatus = "DONE"
	RunStatusFailed  RunStatus = "FAILED"
)

// SubmitStatus is the terminal status reported to the caller that triggered a run.
type SubmitStatus string

const (
	SubmitStatusDone  SubmitStatus = "done"
	SubmitStatusError SubmitStatus = "error"
)

// ArtifactKind represents the kind of a persisted artifact.
type ArtifactKind string

const (
	ArtifactKindAudio ArtifactKind = "audio"
	ArtifactKindImage ArtifactKind = "image"
)
