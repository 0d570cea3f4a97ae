// Package ws streams session events to WebSocket viewers. It is an alternate
// live transport next to the SSE endpoint and carries the same events as JSON.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/ava/internal/bus"
	"github.com/xiaot623/gogo/ava/internal/domain"
	"github.com/xiaot623/gogo/ava/internal/logging"
	"github.com/xiaot623/gogo/ava/internal/stream"
)

const (
	maxMessageSize      = 4096
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Subscriber opens live subscriptions on the session bus.
type Subscriber interface {
	Subscribe(sessionID string) (*bus.Receiver, error)
}

// Message is one event as delivered over the socket.
type Message struct {
	Event domain.EventName `json:"event"`
	ID    string           `json:"id,omitempty"`
	Data  json.RawMessage  `json:"data"`
}

// Server handles WebSocket connections.
type Server struct {
	bus          Subscriber
	pingInterval time.Duration
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger

	base context.Context
	stop context.CancelFunc
}

// NewServer creates a new WebSocket server.
func NewServer(b Subscriber, pingInterval, writeTimeout time.Duration, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	base, stop := context.WithCancel(context.Background())
	return &Server{
		bus:          b,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
		base:   base,
		stop:   stop,
	}
}

// RegisterRoutes registers the websocket endpoint with the echo server.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", s.HandleWebSocket)
}

// Close ends every open connection with a going-away close frame.
func (s *Server) Close() {
	s.stop()
}

type connection struct {
	conn      *websocket.Conn
	rx        *bus.Receiver
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.rx.Close()
		c.conn.Close()
	})
}

// HandleWebSocket upgrades the request and streams the session given by the
// session_id query parameter.
func (s *Server) HandleWebSocket(c echo.Context) error {
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}

	rx, err := s.bus.Subscribe(sessionID)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		rx.Close()
		s.logger.Warn("failed to upgrade websocket", slog.Any("error", err))
		return nil
	}

	ctx, cancel := context.WithCancel(logging.WithSessionID(s.base, sessionID))
	conn := &connection{conn: ws, rx: rx, cancel: cancel}

	frames := stream.Open(ctx, rx, jsonRenderer{}, stream.Options{KeepAlive: s.pingInterval, Logger: s.logger})

	go s.writePump(ctx, conn, frames)
	go s.readPump(ctx, conn)

	s.logger.DebugContext(ctx, "websocket viewer connected")
	return nil
}

// readPump drains the connection so control frames are processed. Viewers
// send nothing the server acts on.
func (s *Server) readPump(ctx context.Context, conn *connection) {
	defer conn.close()

	readTimeout := s.pingInterval + s.writeTimeout
	conn.conn.SetReadLimit(maxMessageSize)
	_ = conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := conn.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.DebugContext(ctx, "websocket read failed", slog.Any("error", err))
			}
			return
		}
	}
}

// writePump is the only writer of data frames on the connection.
func (s *Server) writePump(ctx context.Context, conn *connection, frames <-chan stream.Frame) {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		conn.close()
	}()

	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
				_ = conn.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
				return
			}
			if frame.IsKeepAlive() {
				continue
			}

			payload, err := json.Marshal(Message{Event: frame.Event, ID: frame.ID, Data: json.RawMessage(frame.Data)})
			if err != nil {
				s.logger.WarnContext(ctx, "failed to encode frame", slog.Any("error", err))
				continue
			}

			_ = conn.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.logger.DebugContext(ctx, "failed to write frame", slog.Any("error", err))
				return
			}

		case <-ticker.C:
			_ = conn.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type jsonRenderer struct{}

func (jsonRenderer) Render(ev domain.AssistantEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
