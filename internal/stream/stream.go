// Package stream turns a bus subscription into an ordered sequence of
// deliverable frames with periodic keep-alives.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/xiaot623/gogo/ava/internal/bus"
	"github.com/xiaot623/gogo/ava/internal/domain"
)

const (
	// DefaultKeepAlive is the idle interval after which a keep-alive frame is emitted.
	DefaultKeepAlive = time.Second
	// DefaultComment is the text of keep-alive frames.
	DefaultComment = "keep-alive-text"
)

// Renderer serializes an event payload for delivery.
type Renderer interface {
	Render(ev domain.AssistantEvent) (string, error)
}

// Source is the subscription a stream reads from.
type Source interface {
	Recv(ctx context.Context) (domain.AssistantEvent, error)
}

// Frame is one externally deliverable unit. A frame with a Comment and no
// Event is a keep-alive.
type Frame struct {
	Event   domain.EventName
	ID      string
	Data    string
	Comment string
}

// IsKeepAlive reports whether the frame carries no event.
func (f Frame) IsKeepAlive() bool {
	return f.Event == ""
}

// WriteTo encodes the frame in text/event-stream format.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	if f.IsKeepAlive() {
		fmt.Fprintf(&b, ": %s\n\n", f.Comment)
	} else {
		fmt.Fprintf(&b, "event: %s\n", f.Event)
		if f.ID != "" {
			fmt.Fprintf(&b, "id: %s\n", f.ID)
		}
		for _, line := range strings.Split(f.Data, "\n") {
			fmt.Fprintf(&b, "data: %s\n", line)
		}
		b.WriteString("\n")
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// Options tunes a stream.
type Options struct {
	KeepAlive time.Duration
	Comment   string
	Logger    *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.Comment == "" {
		o.Comment = DefaultComment
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Open starts reading src and returns the frame sequence. The sequence is
// unbounded: lag and close notifications are dropped, and keep-alives continue
// until ctx is cancelled, at which point the returned channel is closed.
func Open(ctx context.Context, src Source, r Renderer, opts Options) <-chan Frame {
	opts = opts.withDefaults()

	events := make(chan domain.AssistantEvent)
	go pump(ctx, src, events, opts.Logger)

	out := make(chan Frame)
	go func() {
		defer close(out)

		timer := time.NewTimer(opts.KeepAlive)
		defer timer.Stop()

		for {
			var frame Frame
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				data, err := r.Render(ev)
				if err != nil {
					opts.Logger.Warn("dropping event that failed to render",
						slog.String("event", string(ev.Name())), slog.Any("error", err))
					continue
				}
				frame = Frame{Event: ev.Name(), ID: ev.TurnID(), Data: data}
			case <-timer.C:
				frame = Frame{Comment: opts.Comment}
			}

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(opts.KeepAlive)
		}
	}()

	return out
}

// pump forwards events from src until ctx is done or src is closed.
func pump(ctx context.Context, src Source, events chan<- domain.AssistantEvent, logger *slog.Logger) {
	for {
		ev, err := src.Recv(ctx)
		if err != nil {
			var lagged *bus.LaggedError
			if errors.As(err, &lagged) {
				logger.Debug("subscriber lagged", slog.Uint64("skipped", lagged.Skipped))
				continue
			}
			// Closed or cancelled; keep-alives carry on until ctx is done.
			return
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
