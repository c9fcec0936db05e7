package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"traktbridge/models"
	"traktbridge/services/mediastore"
)

// ItemStore is the slice of the media store the library intake writes to.
type ItemStore interface {
	Upsert(ctx context.Context, item models.MediaItem) (string, error)
	Delete(ctx context.Context, itemID string) error
	Get(ctx context.Context, itemID string) (models.MediaItem, error)
	SetPlayed(ctx context.Context, userID, itemID string, played bool, lastPlayedAt *time.Time) error
}

// LibraryHandler is the intake surface for library and playstate mutations.
// Every accepted mutation is persisted and then published on the hub, where
// the coalescers pick it up.
type LibraryHandler struct {
	store ItemStore
	hub   *models.Hub
}

// NewLibraryHandler creates a new library intake handler.
func NewLibraryHandler(store ItemStore, hub *models.Hub) *LibraryHandler {
	return &LibraryHandler{store: store, hub: hub}
}

type itemMutation struct {
	Item   models.MediaItem `json:"item"`
	UserID string           `json:"userId"`
}

// UpsertItem inserts or updates a library item.
// POST /api/library/items
func (h *LibraryHandler) UpsertItem(w http.ResponseWriter, r *http.Request) {
	var req itemMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	kind := models.LibraryEventAdd
	if req.Item.ID != "" {
		if _, err := h.store.Get(r.Context(), req.Item.ID); err == nil {
			kind = models.LibraryEventUpdate
		}
	}

	id, err := h.store.Upsert(r.Context(), req.Item)
	if err != nil {
		if errors.Is(err, mediastore.ErrNameRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to store item: "+err.Error())
		return
	}
	req.Item.ID = id

	h.hub.PublishLibrary(models.LibraryEvent{Item: req.Item, UserID: req.UserID, Kind: kind})
	writeJSON(w, map[string]any{"id": id, "event": string(kind)})
}

// DeleteItem removes a library item.
// DELETE /api/library/items/{itemID}?userId=...
func (h *LibraryHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["itemID"]
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	item, err := h.store.Get(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err := h.store.Delete(r.Context(), itemID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete item: "+err.Error())
		return
	}

	h.hub.PublishLibrary(models.LibraryEvent{Item: item, UserID: userID, Kind: models.LibraryEventRemove})
	writeJSON(w, map[string]any{"success": true})
}

type playbackMutation struct {
	UserID   string     `json:"userId"`
	State    string     `json:"state"`
	Progress float64    `json:"progress"`
	At       *time.Time `json:"at,omitempty"`
}

// ReportPlayback records a playback session transition for one user and item.
// POST /api/library/items/{itemID}/playback
func (h *LibraryHandler) ReportPlayback(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["itemID"]

	var req playbackMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	var kind models.PlaybackEventKind
	switch req.State {
	case string(models.PlaybackStarted):
		kind = models.PlaybackStarted
	case string(models.PlaybackStopped):
		kind = models.PlaybackStopped
	default:
		writeError(w, http.StatusBadRequest, "state must be started or stopped")
		return
	}
	if req.Progress < 0 || req.Progress > 100 {
		writeError(w, http.StatusBadRequest, "progress must be between 0 and 100")
		return
	}

	item, err := h.store.Get(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}

	occurredAt := time.Now().UTC()
	if req.At != nil {
		occurredAt = req.At.UTC()
	}
	h.hub.PublishPlayback(models.PlaybackEvent{
		Item:       item,
		UserID:     req.UserID,
		Kind:       kind,
		Progress:   req.Progress,
		OccurredAt: occurredAt,
	})
	writeJSON(w, map[string]any{"success": true})
}

type playstateMutation struct {
	UserID   string     `json:"userId"`
	Played   bool       `json:"played"`
	PlayedAt *time.Time `json:"playedAt,omitempty"`
}

// SetPlaystate records a played/unplayed toggle for one user and item.
// POST /api/library/items/{itemID}/playstate
func (h *LibraryHandler) SetPlaystate(w http.ResponseWriter, r *http.Request) {
	itemID := mux.Vars(r)["itemID"]

	var req playstateMutation
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	item, err := h.store.Get(r.Context(), itemID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Item not found")
		return
	}

	occurredAt := time.Now().UTC()
	if req.PlayedAt != nil {
		occurredAt = req.PlayedAt.UTC()
	}
	var lastPlayed *time.Time
	if req.Played {
		lastPlayed = &occurredAt
	}
	if err := h.store.SetPlayed(r.Context(), req.UserID, itemID, req.Played, lastPlayed); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store playstate: "+err.Error())
		return
	}

	h.hub.PublishPlaystate(models.PlaystateEvent{
		Item:       item,
		UserID:     req.UserID,
		Played:     req.Played,
		OccurredAt: occurredAt,
	})
	writeJSON(w, map[string]any{"success": true})
}
