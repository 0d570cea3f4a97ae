// Package render turns assistant events into the HTML fragments pushed to the
// browser over server-sent events.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"strings"

	"github.com/xiaot623/gogo/ava/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// HTML renders events with the embedded fragment templates.
type HTML struct {
	tmpl *template.Template
}

// NewHTML parses the embedded templates.
func NewHTML() (*HTML, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &HTML{tmpl: tmpl}, nil
}

type replyView struct {
	ID       string
	Speech   *domain.SpeechResult
	Image    *domain.ImageResult
	Markdown template.HTML
}

// Render returns the fragment for ev.
func (h *HTML) Render(ev domain.AssistantEvent) (string, error) {
	var data any = ev
	if reply, ok := ev.(domain.ReplyEvent); ok {
		view, err := newReplyView(reply)
		if err != nil {
			return "", err
		}
		data = view
	}

	var b strings.Builder
	if err := h.tmpl.ExecuteTemplate(&b, string(ev.Name()), data); err != nil {
		return "", fmt.Errorf("render %s: %w", ev.Name(), err)
	}
	return b.String(), nil
}

func newReplyView(ev domain.ReplyEvent) (replyView, error) {
	view := replyView{ID: ev.ID}
	switch d := ev.Data.(type) {
	case domain.SpeechResult:
		view.Speech = &d
	case domain.ImageResult:
		view.Image = &d
	case domain.MarkdownResult:
		// Produced by the markdown converter, not by the user.
		view.Markdown = template.HTML(d.HTML)
	default:
		return view, fmt.Errorf("render reply: unsupported data %T", ev.Data)
	}
	return view, nil
}
