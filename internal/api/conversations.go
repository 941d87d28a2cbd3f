package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lexiqai/playback-sync/internal/store"
	"github.com/lexiqai/playback-sync/internal/transcript"
)

// maxImportBytes bounds a whisperx upload
const maxImportBytes = 32 << 20

// ConversationStore is the persistence the conversation endpoints need
type ConversationStore interface {
	Save(ctx context.Context, conv transcript.Conversation) error
	Get(ctx context.Context, id string) (transcript.Conversation, error)
	Revisions(ctx context.Context, id string) ([]store.Revision, error)
	Restore(ctx context.Context, id string, revisionID int64) (transcript.Conversation, error)
}

// Handlers serves transcript import and retrieval
type Handlers struct {
	store  ConversationStore
	logger zerolog.Logger
}

// NewHandlers creates the conversation handlers
func NewHandlers(s ConversationStore, logger zerolog.Logger) *Handlers {
	return &Handlers{store: s, logger: logger}
}

// Register mounts the handlers on router
func (h *Handlers) Register(router *mux.Router) {
	router.HandleFunc("/conversations/{id}", h.Import).Methods(http.MethodPost)
	router.HandleFunc("/conversations/{id}", h.Get).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{id}/revisions", h.Revisions).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{id}/revisions/{revision}/restore", h.Restore).Methods(http.MethodPost)
}

// Import parses a whisperx JSON body into a pending conversation and stores it
func (h *Handlers) Import(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conv, err := transcript.ParseWhisperX(http.MaxBytesReader(w, r.Body, maxImportBytes), id)
	if err != nil {
		h.logger.Debug().Err(err).Str("conversation_id", id).Msg("Rejected transcript import")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.store.Save(r.Context(), conv); err != nil {
		h.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to save imported transcript")
		http.Error(w, "Failed to save transcript", http.StatusInternalServerError)
		return
	}

	h.logger.Info().
		Str("conversation_id", id).
		Int("segments", len(conv.Segments)).
		Int64("duration_ms", conv.DurationMs).
		Msg("Transcript imported")
	writeJSON(w, http.StatusCreated, conv)
}

// Get returns the current version of a conversation
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// Revisions lists retained versions of a conversation
func (h *Handlers) Revisions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	revs, err := h.store.Revisions(r.Context(), id)
	if err != nil {
		h.storeError(w, id, err)
		return
	}
	if revs == nil {
		revs = []store.Revision{}
	}
	writeJSON(w, http.StatusOK, revs)
}

// Restore reinstates a revision
func (h *Handlers) Restore(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	revisionID, err := strconv.ParseInt(vars["revision"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid revision id", http.StatusBadRequest)
		return
	}

	conv, err := h.store.Restore(r.Context(), id, revisionID)
	if err != nil {
		h.storeError(w, id, err)
		return
	}

	h.logger.Info().Str("conversation_id", id).Int64("revision_id", revisionID).Msg("Revision restored")
	writeJSON(w, http.StatusOK, conv)
}

func (h *Handlers) storeError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	h.logger.Error().Err(err).Str("conversation_id", id).Msg("Store request failed")
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
