package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/ava/internal/domain"
	"github.com/xiaot623/gogo/ava/internal/repository"
	"github.com/xiaot623/gogo/ava/tests/helpers"
)

func newTestHandler(t *testing.T) (*Handler, *repository.SQLiteStore) {
	t.Helper()
	db := helpers.NewTestSQLiteStore(t)
	return NewHandler(db), db
}

func seedRun(t *testing.T, db *repository.SQLiteStore, sessionID, turnID string, startedAt time.Time) {
	t.Helper()
	run := &domain.Run{TurnID: turnID, SessionID: sessionID, Status: domain.RunStatusRunning, StartedAt: startedAt}
	if err := db.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
}

func TestListSessionRunsPaginates(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		seedRun(t, db, "s1", fmt.Sprintf("turn-%d", i), base.Add(time.Duration(i)*time.Minute))
	}
	seedRun(t, db, "s2", "other", base)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/runs?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("session_id")
	c.SetParamValues("s1")

	if err := h.ListSessionRuns(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Runs    []domain.Run `json:"runs"`
		HasMore bool         `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Runs) != 2 || !resp.HasMore {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Runs[0].TurnID != "turn-2" {
		t.Fatalf("expected newest run first, got %s", resp.Runs[0].TurnID)
	}
}

func TestGetRunIncludesArtifacts(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)
	ctx := context.Background()

	seedRun(t, db, "s1", "turn-1", time.Now())
	if err := db.CompleteRun(ctx, "turn-1", domain.RunStatusDone, domain.ReplyKindImage, ""); err != nil {
		t.Fatalf("CompleteRun failed: %v", err)
	}
	artifact := &domain.Artifact{
		ArtifactID: "a1",
		SessionID:  "s1",
		TurnID:     "turn-1",
		Kind:       domain.ArtifactKindImage,
		Path:       "/tmp/image/s1/a1.png",
		URL:        "/assets/image/s1/a1.png",
		CreatedAt:  time.Now(),
	}
	if err := db.CreateArtifact(ctx, artifact); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/turn-1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("turn_id")
	c.SetParamValues("turn-1")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Run       domain.Run        `json:"run"`
		Artifacts []domain.Artifact `json:"artifacts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Run.Status != domain.RunStatusDone || resp.Run.ReplyKind != domain.ReplyKindImage {
		t.Fatalf("unexpected run: %+v", resp.Run)
	}
	if len(resp.Artifacts) != 1 || resp.Artifacts[0].URL != artifact.URL {
		t.Fatalf("unexpected artifacts: %+v", resp.Artifacts)
	}
}

func TestGetRunNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("turn_id")
	c.SetParamValues("missing")

	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetRunEventsFilters(t *testing.T) {
	e := echo.New()
	h, db := newTestHandler(t)
	ctx := context.Background()

	seedRun(t, db, "s1", "turn-1", time.Now())
	events := []domain.Event{
		{EventID: "e1", TurnID: "turn-1", Ts: 100, Type: domain.EventNameSignal, Payload: json.RawMessage(`{"kind":"processing"}`)},
		{EventID: "e2", TurnID: "turn-1", Ts: 200, Type: domain.EventNameInput, Payload: json.RawMessage(`{"id":"turn-1"}`)},
		{EventID: "e3", TurnID: "turn-1", Ts: 300, Type: domain.EventNameSignal, Payload: json.RawMessage(`{"kind":"complete"}`)},
	}
	for i := range events {
		if err := db.CreateEvent(ctx, &events[i]); err != nil {
			t.Fatalf("CreateEvent failed: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/turn-1/events?after_ts=100&types=signal", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("turn_id")
	c.SetParamValues("turn-1")

	if err := h.GetRunEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Events  []domain.Event `json:"events"`
		HasMore bool           `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Events) != 1 || resp.Events[0].EventID != "e3" || resp.HasMore {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetRunEventsNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/missing/events", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("turn_id")
	c.SetParamValues("missing")

	if err := h.GetRunEvents(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
