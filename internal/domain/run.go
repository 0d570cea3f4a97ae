package domain

import (
	"encoding/json"
	"time"
)

// Run represents a single execution of the pipeline for one submitted clip.
type Run struct {
	TurnID     string     `json:"turn_id"`
	SessionID  string     `json:"session_id"`
	Status     RunStatus  `json:"status"`
	Transcript string     `json:"transcript,omitempty"`
	ReplyKind  ReplyKind  `json:"reply_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
}

// Event is a published assistant event as recorded for replay.
type Event struct {
	EventID string          `json:"event_id"`
	TurnID  string          `json:"turn_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventName       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Artifact is a file produced by a run and served under the assets prefix.
type Artifact struct {
	ArtifactID string       `json:"artifact_id"`
	SessionID  string       `json:"session_id"`
	TurnID     string       `json:"turn_id,omitempty"`
	Kind       ArtifactKind `json:"kind"`
	Path       string       `json:"path"`
	URL        string       `json:"url"`
	CreatedAt  time.Time    `json:"created_at"`
}
