package service

import (
	"context"

	"github.com/xiaot623/gogo/ava/internal/adapter/llm"
)

// LLMTranscriber transcribes clips with the completion service's speech to
// text endpoint.
type LLMTranscriber struct {
	client llm.LLMClient
	model  string
}

func NewLLMTranscriber(client llm.LLMClient, model string) *LLMTranscriber {
	return &LLMTranscriber{client: client, model: model}
}

func (t *LLMTranscriber) Transcribe(ctx context.Context, audio []byte, prompt string) (string, error) {
	return t.client.CreateTranscription(ctx, &llm.TranscriptionRequest{
		Model:  t.model,
		Prompt: prompt,
		Audio:  audio,
	})
}
