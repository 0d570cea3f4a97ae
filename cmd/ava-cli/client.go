package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/ava/internal/domain"
	"github.com/xiaot623/gogo/ava/internal/transport/http/web"
	"github.com/xiaot623/gogo/ava/internal/transport/ws"
)

// errRunFailed is returned when the run ends with an error signal.
var errRunFailed = errors.New("run failed")

// Client watches one session over the websocket endpoint and submits clips
// for it.
type Client struct {
	baseURL   string
	sessionID string
	http      *http.Client
	conn      *websocket.Conn
}

// NewClient connects to the server's websocket endpoint for sessionID.
func NewClient(ctx context.Context, baseURL, sessionID string) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}

	wsURL := *base
	switch base.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/ws"
	wsURL.RawQuery = url.Values{"session_id": {sessionID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	return &Client{
		baseURL:   base.String(),
		sessionID: sessionID,
		http:      &http.Client{},
		conn:      conn,
	}, nil
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Submit uploads a clip to /assistant as the session's device.
func (c *Client) Submit(ctx context.Context, filename string, audio io.Reader) (domain.SubmitStatus, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("audio", filepath.Base(filename))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", fmt.Errorf("read clip: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assistant", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: web.CookieName, Value: c.sessionID})

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Status domain.SubmitStatus `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out.Status, fmt.Errorf("submit: unexpected status %d", resp.StatusCode)
	}
	return out.Status, nil
}

// Watch passes every message to print until the run's final reply or its
// error signal. Spoken replies are published twice, first as text and again
// once the audio is ready, so a speech reply without a url is not final.
func (c *Client) Watch(print func(ws.Message)) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var msg ws.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		print(msg)

		switch msg.Event {
		case domain.EventNameSignal:
			var signal domain.SignalEvent
			if err := json.Unmarshal(msg.Data, &signal); err != nil {
				continue
			}
			if signal.Kind == domain.SignalError {
				return fmt.Errorf("%w: %s", errRunFailed, signal.Message)
			}
		case domain.EventNameReply:
			if isFinalReply(msg.Data) {
				return nil
			}
		}
	}
}

func isFinalReply(data json.RawMessage) bool {
	var reply struct {
		Data struct {
			Type domain.ReplyKind `json:"type"`
			URL  string           `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return false
	}
	return reply.Data.Type != domain.ReplyKindSpeech || reply.Data.URL != ""
}
