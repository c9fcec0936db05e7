package models

import "sync"

// Hub fans library and playstate events out to registered subscribers.
// Publishing never blocks on subscriber work beyond the subscriber's own
// handler; the coalescers hand off to their internal queues immediately.
type Hub struct {
	mu        sync.RWMutex
	library   []LibrarySubscriber
	playstate []PlaystateSubscriber
	playback  []PlaybackSubscriber
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{}
}

// SubscribeLibrary registers a library event subscriber and returns a release
// function. Release is idempotent.
func (h *Hub) SubscribeLibrary(sub LibrarySubscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.library = append(h.library, sub)
	return func() { h.unsubscribeLibrary(sub) }
}

// SubscribePlaystate registers a playstate event subscriber and returns a
// release function.
func (h *Hub) SubscribePlaystate(sub PlaystateSubscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playstate = append(h.playstate, sub)
	return func() { h.unsubscribePlaystate(sub) }
}

// SubscribePlayback registers a playback session subscriber and returns a
// release function.
func (h *Hub) SubscribePlayback(sub PlaybackSubscriber) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playback = append(h.playback, sub)
	return func() { h.unsubscribePlayback(sub) }
}

// PublishLibrary delivers a library mutation to all library subscribers.
func (h *Hub) PublishLibrary(ev LibraryEvent) {
	h.mu.RLock()
	subs := append([]LibrarySubscriber(nil), h.library...)
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.OnLibraryEvent(ev)
	}
}

// PublishPlaystate delivers a played-state toggle to all playstate subscribers.
func (h *Hub) PublishPlaystate(ev PlaystateEvent) {
	h.mu.RLock()
	subs := append([]PlaystateSubscriber(nil), h.playstate...)
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.OnPlaystateEvent(ev)
	}
}

// PublishPlayback delivers a playback session transition to all playback
// subscribers.
func (h *Hub) PublishPlayback(ev PlaybackEvent) {
	h.mu.RLock()
	subs := append([]PlaybackSubscriber(nil), h.playback...)
	h.mu.RUnlock()
	for _, sub := range subs {
		sub.OnPlaybackEvent(ev)
	}
}

func (h *Hub) unsubscribeLibrary(sub LibrarySubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.library {
		if s == sub {
			h.library = append(h.library[:i], h.library[i+1:]...)
			return
		}
	}
}

func (h *Hub) unsubscribePlaystate(sub PlaystateSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.playstate {
		if s == sub {
			h.playstate = append(h.playstate[:i], h.playstate[i+1:]...)
			return
		}
	}
}

func (h *Hub) unsubscribePlayback(sub PlaybackSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.playback {
		if s == sub {
			h.playback = append(h.playback[:i], h.playback[i+1:]...)
			return
		}
	}
}
