package models

import "time"

// LibraryEventKind identifies the kind of library mutation observed.
type LibraryEventKind string

const (
	LibraryEventAdd    LibraryEventKind = "add"
	LibraryEventRemove LibraryEventKind = "remove"
	LibraryEventUpdate LibraryEventKind = "update"
)

// LibraryEvent describes a single library mutation for one user. Events are
// held in memory only; anything queued but unflushed is lost on shutdown.
type LibraryEvent struct {
	Item   MediaItem
	UserID string
	Kind   LibraryEventKind
}

// PlaystateEvent describes a played/unplayed toggle observed from the
// library's user-data store.
type PlaystateEvent struct {
	Item       MediaItem
	UserID     string
	Played     bool
	OccurredAt time.Time
}

// PlaybackEventKind identifies a playback session transition.
type PlaybackEventKind string

const (
	PlaybackStarted PlaybackEventKind = "started"
	PlaybackStopped PlaybackEventKind = "stopped"
)

// PlaybackEvent describes a playback session transition. Progress is the
// percentage of the item's runtime reached, 0 to 100.
type PlaybackEvent struct {
	Item       MediaItem
	UserID     string
	Kind       PlaybackEventKind
	Progress   float64
	OccurredAt time.Time
}

// LibrarySubscriber receives library mutation events from the event hub.
type LibrarySubscriber interface {
	OnLibraryEvent(ev LibraryEvent)
}

// PlaystateSubscriber receives played-state toggle events from the event hub.
type PlaystateSubscriber interface {
	OnPlaystateEvent(ev PlaystateEvent)
}

// PlaybackSubscriber receives playback session events from the event hub.
type PlaybackSubscriber interface {
	OnPlaybackEvent(ev PlaybackEvent)
}
