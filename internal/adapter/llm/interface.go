// Package llm provides an abstraction for the OpenAI-compatible model APIs the
// assistant calls: chat completion, transcription, speech and image generation.
package llm

import "context"

// LLMClient defines the interface for model API operations.
type LLMClient interface {
	// CreateChatCompletion sends a chat completion request (non-streaming).
	CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error)

	// CreateTranscription converts audio to text.
	CreateTranscription(ctx context.Context, req *TranscriptionRequest) (string, error)

	// CreateSpeech synthesizes audio for the given text.
	CreateSpeech(ctx context.Context, req *SpeechRequest) ([]byte, error)

	// CreateImage generates one image and returns its decoded bytes.
	CreateImage(ctx context.Context, req *ImageRequest) (*Image, error)
}

// Ensure Client implements LLMClient interface.
var _ LLMClient = (*Client)(nil)
