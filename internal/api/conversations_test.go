package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lexiqai/playback-sync/internal/drift"
	"github.com/lexiqai/playback-sync/internal/store"
	"github.com/lexiqai/playback-sync/internal/transcript"
)

const whisperxBody = `{
	"segments": [
		{"text": "hello there", "start": 0.0, "end": 1.25, "speaker": "SPEAKER_00"},
		{"text": "general kenobi", "start": 1.25, "end": 3.5005, "speaker": "SPEAKER_01"}
	]
}`

func newTestRouter(t *testing.T) (*mux.Router, *store.Store) {
	t.Helper()
	s, err := store.Open("file::memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	router := mux.NewRouter()
	NewHandlers(s, zerolog.Nop()).Register(router)
	return router, s
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestImportAndGet(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(router, http.MethodPost, "/conversations/call-7", whisperxBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(router, http.MethodGet, "/conversations/call-7", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var conv transcript.Conversation
	if err := json.NewDecoder(rec.Body).Decode(&conv); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(conv.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(conv.Segments))
	}
	if conv.Segments[1].EndMs != 3501 {
		t.Errorf("Expected end 3501, got %d", conv.Segments[1].EndMs)
	}
	if conv.AlignmentStatus != transcript.AlignmentPending {
		t.Errorf("Expected pending status, got '%s'", conv.AlignmentStatus)
	}
}

func TestImport_Malformed(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(router, http.MethodPost, "/conversations/call-7", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestGet_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(router, http.MethodGet, "/conversations/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestRevisionsAndRestore(t *testing.T) {
	router, s := newTestRouter(t)
	ctx := context.Background()

	if rec := do(router, http.MethodPost, "/conversations/call-7", whisperxBody); rec.Code != http.StatusCreated {
		t.Fatalf("Import failed: %d", rec.Code)
	}
	original, err := s.Get(ctx, "call-7")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	rev, err := s.SaveCorrected(ctx, drift.Rescale(original, 2, 7002), original)
	if err != nil {
		t.Fatalf("SaveCorrected failed: %v", err)
	}

	rec := do(router, http.MethodGet, "/conversations/call-7/revisions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var revs []store.Revision
	if err := json.NewDecoder(rec.Body).Decode(&revs); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(revs) != 1 || revs[0].Reason != store.ReasonDriftCorrection {
		t.Errorf("Unexpected revisions: %+v", revs)
	}

	path := "/conversations/call-7/revisions/" + strconv.FormatInt(rev.ID, 10) + "/restore"
	rec = do(router, http.MethodPost, path, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	current, _ := s.Get(ctx, "call-7")
	if current.DurationMs != original.DurationMs {
		t.Errorf("Expected original duration %d restored, got %d", original.DurationMs, current.DurationMs)
	}

	rec = do(router, http.MethodPost, "/conversations/call-7/revisions/abc/restore", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad revision id, got %d", rec.Code)
	}
}
