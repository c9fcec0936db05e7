package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"traktbridge/handlers"
	"traktbridge/models"
	"traktbridge/services/mediastore"
)

type fakeItemStore struct {
	items  map[string]models.MediaItem
	played map[string]bool
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{items: map[string]models.MediaItem{}, played: map[string]bool{}}
}

func (f *fakeItemStore) Upsert(ctx context.Context, item models.MediaItem) (string, error) {
	if item.Name == "" {
		return "", mediastore.ErrNameRequired
	}
	if item.ID == "" {
		item.ID = "generated-1"
	}
	f.items[item.ID] = item
	return item.ID, nil
}

func (f *fakeItemStore) Delete(ctx context.Context, itemID string) error {
	if _, ok := f.items[itemID]; !ok {
		return mediastore.ErrItemNotFound
	}
	delete(f.items, itemID)
	return nil
}

func (f *fakeItemStore) Get(ctx context.Context, itemID string) (models.MediaItem, error) {
	item, ok := f.items[itemID]
	if !ok {
		return models.MediaItem{}, mediastore.ErrItemNotFound
	}
	return item, nil
}

func (f *fakeItemStore) SetPlayed(ctx context.Context, userID, itemID string, played bool, lastPlayedAt *time.Time) error {
	if _, ok := f.items[itemID]; !ok {
		return mediastore.ErrItemNotFound
	}
	f.played[userID+"/"+itemID] = played
	return nil
}

type eventRecorder struct {
	mu        sync.Mutex
	library   []models.LibraryEvent
	playstate []models.PlaystateEvent
	playback  []models.PlaybackEvent
}

func (e *eventRecorder) OnLibraryEvent(ev models.LibraryEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.library = append(e.library, ev)
}

func (e *eventRecorder) OnPlaystateEvent(ev models.PlaystateEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playstate = append(e.playstate, ev)
}

func (e *eventRecorder) OnPlaybackEvent(ev models.PlaybackEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playback = append(e.playback, ev)
}

func newLibraryRouter(h *handlers.LibraryHandler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/library/items", h.UpsertItem).Methods(http.MethodPost)
	r.HandleFunc("/api/library/items/{itemID}", h.DeleteItem).Methods(http.MethodDelete)
	r.HandleFunc("/api/library/items/{itemID}/playstate", h.SetPlaystate).Methods(http.MethodPost)
	r.HandleFunc("/api/library/items/{itemID}/playback", h.ReportPlayback).Methods(http.MethodPost)
	return r
}

func TestUpsertNewItemPublishesAddEvent(t *testing.T) {
	store := newFakeItemStore()
	hub := models.NewHub()
	recorder := &eventRecorder{}
	hub.SubscribeLibrary(recorder)
	router := newLibraryRouter(handlers.NewLibraryHandler(store, hub))

	body, _ := json.Marshal(map[string]any{
		"userId": "user-1",
		"item":   models.MediaItem{Kind: models.MediaKindMovie, Name: "Heat"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/library/items", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(recorder.library) != 1 || recorder.library[0].Kind != models.LibraryEventAdd {
		t.Fatalf("expected one add event, got %+v", recorder.library)
	}
	if recorder.library[0].Item.ID == "" {
		t.Error("published event must carry the stored item id")
	}
}

func TestUpsertExistingItemPublishesUpdateEvent(t *testing.T) {
	store := newFakeItemStore()
	store.items["m1"] = models.MediaItem{ID: "m1", Kind: models.MediaKindMovie, Name: "Heat"}
	hub := models.NewHub()
	recorder := &eventRecorder{}
	hub.SubscribeLibrary(recorder)
	router := newLibraryRouter(handlers.NewLibraryHandler(store, hub))

	body, _ := json.Marshal(map[string]any{
		"userId": "user-1",
		"item":   models.MediaItem{ID: "m1", Kind: models.MediaKindMovie, Name: "Heat (4K)"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/library/items", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(recorder.library) != 1 || recorder.library[0].Kind != models.LibraryEventUpdate {
		t.Fatalf("expected one update event, got %+v", recorder.library)
	}
}

func TestDeleteItemPublishesRemoveEvent(t *testing.T) {
	store := newFakeItemStore()
	store.items["m1"] = models.MediaItem{ID: "m1", Kind: models.MediaKindMovie, Name: "Heat"}
	hub := models.NewHub()
	recorder := &eventRecorder{}
	hub.SubscribeLibrary(recorder)
	router := newLibraryRouter(handlers.NewLibraryHandler(store, hub))

	req := httptest.NewRequest(http.MethodDelete, "/api/library/items/m1?userId=user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(recorder.library) != 1 || recorder.library[0].Kind != models.LibraryEventRemove {
		t.Fatalf("expected one remove event, got %+v", recorder.library)
	}
	if recorder.library[0].Item.Name != "Heat" {
		t.Error("remove event should carry the item as it was stored")
	}
}

func TestDeleteUnknownItemIs404(t *testing.T) {
	router := newLibraryRouter(handlers.NewLibraryHandler(newFakeItemStore(), models.NewHub()))

	req := httptest.NewRequest(http.MethodDelete, "/api/library/items/missing?userId=user-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSetPlaystatePersistsAndPublishes(t *testing.T) {
	store := newFakeItemStore()
	store.items["m1"] = models.MediaItem{ID: "m1", Kind: models.MediaKindMovie, Name: "Heat"}
	hub := models.NewHub()
	recorder := &eventRecorder{}
	hub.SubscribePlaystate(recorder)
	router := newLibraryRouter(handlers.NewLibraryHandler(store, hub))

	at := time.Date(2026, 8, 15, 21, 0, 0, 0, time.UTC)
	body, _ := json.Marshal(map[string]any{"userId": "user-1", "played": true, "playedAt": at})
	req := httptest.NewRequest(http.MethodPost, "/api/library/items/m1/playstate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !store.played["user-1/m1"] {
		t.Error("playstate not persisted")
	}
	if len(recorder.playstate) != 1 {
		t.Fatalf("expected one playstate event, got %d", len(recorder.playstate))
	}
	ev := recorder.playstate[0]
	if !ev.Played || !ev.OccurredAt.Equal(at) {
		t.Errorf("event = %+v, want played at %v", ev, at)
	}
}

func TestReportPlaybackPublishesEvent(t *testing.T) {
	store := newFakeItemStore()
	store.items["m1"] = models.MediaItem{ID: "m1", Kind: models.MediaKindMovie, Name: "Heat"}
	hub := models.NewHub()
	recorder := &eventRecorder{}
	hub.SubscribePlayback(recorder)
	router := newLibraryRouter(handlers.NewLibraryHandler(store, hub))

	body, _ := json.Marshal(map[string]any{"userId": "user-1", "state": "stopped", "progress": 96.0})
	req := httptest.NewRequest(http.MethodPost, "/api/library/items/m1/playback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(recorder.playback) != 1 {
		t.Fatalf("expected one playback event, got %d", len(recorder.playback))
	}
	ev := recorder.playback[0]
	if ev.Kind != models.PlaybackStopped || ev.Progress != 96.0 || ev.Item.Name != "Heat" {
		t.Errorf("event = %+v, want stopped at 96%% for Heat", ev)
	}
}

func TestReportPlaybackRejectsBadInput(t *testing.T) {
	store := newFakeItemStore()
	store.items["m1"] = models.MediaItem{ID: "m1", Kind: models.MediaKindMovie, Name: "Heat"}
	router := newLibraryRouter(handlers.NewLibraryHandler(store, models.NewHub()))

	for name, body := range map[string]map[string]any{
		"unknown state":       {"userId": "user-1", "state": "paused"},
		"progress over range": {"userId": "user-1", "state": "stopped", "progress": 101.0},
		"missing user":        {"state": "started"},
	} {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, "/api/library/items/m1/playback", bytes.NewReader(raw))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestSetPlaystateMissingUserIs400(t *testing.T) {
	store := newFakeItemStore()
	store.items["m1"] = models.MediaItem{ID: "m1", Name: "Heat"}
	router := newLibraryRouter(handlers.NewLibraryHandler(store, models.NewHub()))

	body, _ := json.Marshal(map[string]any{"played": true})
	req := httptest.NewRequest(http.MethodPost, "/api/library/items/m1/playstate", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
