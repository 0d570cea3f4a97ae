// Package deepgram transcribes recorded clips over the Deepgram live
// listen websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

const (
	DefaultURL   = "wss://api.deepgram.com/v1/listen"
	DefaultModel = "nova-3"

	service = "deepgram"
)

// Client is a Deepgram speech-to-text client.
type Client struct {
	url      string
	apiKey   string
	model    string
	language string
	timeout  time.Duration
	dialer   *websocket.Dialer
}

// NewClient creates a client for the listen endpoint at listenURL.
func NewClient(listenURL, apiKey string, timeout time.Duration) *Client {
	if listenURL == "" {
		listenURL = DefaultURL
	}
	return &Client{
		url:      listenURL,
		apiKey:   apiKey,
		model:    DefaultModel,
		language: "multi",
		timeout:  timeout,
		dialer:   websocket.DefaultDialer,
	}
}

// Transcribe streams audio to Deepgram, asks it to flush, and returns the
// final transcripts joined with spaces. Deepgram has no prompt input, so
// prompt is only logged.
func (c *Client) Transcribe(ctx context.Context, audio []byte, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	listenURL, err := c.listenURL()
	if err != nil {
		return "", domain.Upstream(service, err)
	}

	conn, resp, err := c.dialer.DialContext(ctx, listenURL, http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		if resp != nil {
			return "", &domain.UpstreamError{Service: service, StatusCode: resp.StatusCode, Err: err}
		}
		return "", domain.Upstream(service, fmt.Errorf("failed to open socket connection: %w", err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	slog.DebugContext(ctx, "deepgram transcription started", slog.Int("bytes", len(audio)), slog.Bool("prompt_ignored", prompt != ""))

	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return "", domain.Upstream(service, fmt.Errorf("failed to write audio: %w", err))
	}
	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return "", domain.Upstream(service, fmt.Errorf("failed to close stream: %w", err))
	}

	var parts []string
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", domain.Upstream(service, ctxErr)
			}
			return "", domain.Upstream(service, fmt.Errorf("failed to read message: %w", err))
		}
		if msgType == websocket.BinaryMessage {
			continue
		}
		transcript, err := parseMessage(msg)
		if err != nil {
			return "", domain.Upstream(service, err)
		}
		if transcript != "" {
			parts = append(parts, transcript)
		}
	}

	return strings.Join(parts, " "), nil
}

func (c *Client) listenURL() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("invalid listen url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.model)
	q.Set("language", c.language)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// parseMessage returns the final transcript carried by msg, if any.
func parseMessage(msg []byte) (string, error) {
	var head struct {
		Type        string `json:"type"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(msg, &head); err != nil {
		return "", fmt.Errorf("failed to unmarshal message: %w", err)
	}

	switch api.TypeResponse(head.Type) {
	case api.TypeMessageResponse:
		var resp api.MessageResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return "", fmt.Errorf("failed to unmarshal results: %w", err)
		}
		if !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
			return "", nil
		}
		return strings.TrimSpace(resp.Channel.Alternatives[0].Transcript), nil
	case "Error":
		return "", errors.New(head.Description)
	}
	return "", nil
}
