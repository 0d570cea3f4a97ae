package llm

import (
	"log/slog"
	"time"
)

// ModeMock selects the MockClient.
const ModeMock = "MOCK"

// NewLLMClient creates a client based on the configured mode.
// If mode is MOCK, returns a MockClient; otherwise returns a real Client.
func NewLLMClient(mode, baseURL, apiKey string, timeout time.Duration) LLMClient {
	if mode == ModeMock {
		slog.Info("AVA_MODE=MOCK detected, using mock model client")
		return NewMockClient()
	}

	return NewClient(baseURL, apiKey, timeout)
}
