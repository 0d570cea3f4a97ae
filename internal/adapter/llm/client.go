package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

// Client is the OpenAI-compatible HTTP client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new client. baseURL includes the API version, e.g.
// https://api.openai.com/v1.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return "openai " + r.URL.Path
				})),
		},
	}
}

// CreateChatCompletion sends a chat completion request (non-streaming).
func (c *Client) CreateChatCompletion(ctx context.Context, req *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	const service = "chat completion"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.post(ctx, service, "/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.Upstream(service, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if len(result.Choices) == 0 {
		return nil, domain.Upstream(service, errors.New("expect at least one choice"))
	}

	return &result, nil
}

// CreateTranscription uploads the audio as multipart form data.
func (c *Client) CreateTranscription(ctx context.Context, req *TranscriptionRequest) (string, error) {
	const service = "transcription"

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	filename := req.Filename
	if filename == "" {
		filename = "audio.webm"
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return "", fmt.Errorf("failed to write audio: %w", err)
	}
	fields := map[string]string{
		"model":           req.Model,
		"prompt":          req.Prompt,
		"language":        req.Language,
		"response_format": "json",
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	respBody, err := c.post(ctx, service, "/audio/transcriptions", w.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}

	var result TranscriptionResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", domain.Upstream(service, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return result.Text, nil
}

// CreateSpeech returns the synthesized audio bytes.
func (c *Client) CreateSpeech(ctx context.Context, req *SpeechRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.post(ctx, "speech", "/audio/speech", "application/json", bytes.NewReader(body))
}

// CreateImage requests a base64 encoded image and decodes it.
func (c *Client) CreateImage(ctx context.Context, req *ImageRequest) (*Image, error) {
	const service = "image generation"

	if req.ResponseFormat == "" {
		req.ResponseFormat = "b64_json"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.post(ctx, service, "/images/generations", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var result ImageResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.Upstream(service, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	if len(result.Data) == 0 {
		return nil, domain.Upstream(service, errors.New("expect at least one data"))
	}

	img := result.Data[len(result.Data)-1]
	data, err := base64.StdEncoding.DecodeString(img.B64JSON)
	if err != nil {
		return nil, domain.Upstream(service, fmt.Errorf("failed to decode image: %w", err))
	}
	return &Image{Data: data, RevisedPrompt: img.RevisedPrompt}, nil
}

// post sends a request and returns the body of a 200 response. Every failure
// is reported as an upstream error for service.
func (c *Client) post(ctx context.Context, service, path, contentType string, body io.Reader) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.Upstream(service, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Upstream(service, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error != nil {
			return nil, &domain.UpstreamError{
				Service:    service,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type),
			}
		}
		return nil, &domain.UpstreamError{Service: service, StatusCode: resp.StatusCode, Err: errors.New(string(respBody))}
	}

	return respBody, nil
}
