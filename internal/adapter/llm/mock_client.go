package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// mockPNG is a 1x1 transparent PNG.
const mockPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

// MockClient is a deterministic implementation of LLMClient for local runs and tests.
//
// Transcription echoes clips that are valid UTF-8 text, so a text file can
// stand in for a recording. Tool-enabled completions pick a tool from keywords
// in the last user message: "draw" selects draw_image, "code" selects
// write_code, a trailing "?" selects answer. Anything else stops with text.
type MockClient struct{}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements LLMClient interface.
var _ LLMClient = (*MockClient)(nil)

// CreateChatCompletion returns a mock response.
func (m *MockClient) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	prompt := lastUserMessage(req.Messages)

	choice := Choice{Index: 0, FinishReason: FinishReasonStop}
	if call, ok := m.pickTool(req, prompt); ok {
		choice.FinishReason = FinishReasonToolCalls
		choice.Message = &ChatMessage{Role: RoleAssistant, ToolCalls: []ToolCall{call}}
	} else {
		choice.Message = &ChatMessage{Role: RoleAssistant, Content: m.generateMockResponse(req, prompt)}
	}

	return &ChatCompletionResponse{
		ID:                fmt.Sprintf("mock-chatcmpl-%d", time.Now().UnixNano()),
		Object:            "chat.completion",
		Created:           time.Now().Unix(),
		Model:             req.Model,
		Choices:           []Choice{choice},
		Usage:             &Usage{PromptTokens: len(prompt) / 4, CompletionTokens: 8, TotalTokens: len(prompt)/4 + 8},
		SystemFingerprint: "mock-fp",
	}, nil
}

// CreateTranscription returns the clip itself when it is text.
func (m *MockClient) CreateTranscription(ctx context.Context, req *TranscriptionRequest) (string, error) {
	if text := strings.TrimSpace(string(req.Audio)); text != "" && utf8.Valid(req.Audio) {
		return text, nil
	}
	return "Tell me something interesting", nil
}

// CreateSpeech returns a fixed ID3 header in place of an mp3.
func (m *MockClient) CreateSpeech(ctx context.Context, req *SpeechRequest) ([]byte, error) {
	return []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), nil
}

// CreateImage returns a 1x1 PNG.
func (m *MockClient) CreateImage(ctx context.Context, req *ImageRequest) (*Image, error) {
	data, err := base64.StdEncoding.DecodeString(mockPNG)
	if err != nil {
		return nil, err
	}
	return &Image{Data: data, RevisedPrompt: "[MOCK] " + req.Prompt}, nil
}

func (m *MockClient) pickTool(req *ChatCompletionRequest, prompt string) (ToolCall, bool) {
	if len(req.Tools) == 0 {
		return ToolCall{}, false
	}

	lower := strings.ToLower(prompt)
	var name string
	switch {
	case strings.Contains(lower, "draw"):
		name = "draw_image"
	case strings.Contains(lower, "code"):
		name = "write_code"
	case strings.HasSuffix(strings.TrimSpace(lower), "?"):
		name = "answer"
	default:
		return ToolCall{}, false
	}

	for _, t := range req.Tools {
		if t.Function.Name != name {
			continue
		}
		args, _ := json.Marshal(map[string]string{"prompt": prompt})
		return ToolCall{
			ID:       fmt.Sprintf("mock-call-%d", time.Now().UnixNano()),
			Type:     "function",
			Function: ToolCallFunction{Name: name, Arguments: string(args)},
		}, true
	}
	return ToolCall{}, false
}

// generateMockResponse generates a mock response based on the request.
func (m *MockClient) generateMockResponse(req *ChatCompletionRequest, prompt string) string {
	if prompt == "" {
		return "[MOCK] This is a mock response."
	}
	for _, msg := range req.Messages {
		if msg.Role == RoleSystem && strings.Contains(msg.Content, "markdown") {
			return fmt.Sprintf("[MOCK] Here is some code for %q:\n\n```go\nfmt.Println(%q)\n```\n", truncate(prompt, 100), truncate(prompt, 40))
		}
	}
	return fmt.Sprintf("[MOCK] Received your message: %q. This is a mock response.", truncate(prompt, 100))
}

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
