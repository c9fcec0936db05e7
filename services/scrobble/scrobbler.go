// Package scrobble forwards playback session transitions to the remote
// scrobble endpoints for users that opted in. Unlike the coalescers, scrobble
// calls are live session signals and are never batched or debounced.
package scrobble

import (
	"context"
	"log"
	"sync"
	"time"

	"traktbridge/config"
	"traktbridge/models"
	"traktbridge/services/trakt"
)

// requestTimeout bounds one scrobble delivery end to end.
const requestTimeout = 30 * time.Second

// Remote is the slice of the Trakt client the scrobbler posts through.
type Remote interface {
	ScrobbleStart(ctx context.Context, userID string, item trakt.ScrobbleItem) error
	ScrobbleStop(ctx context.Context, userID string, item trakt.ScrobbleItem) error
}

// SettingsStore provides sync user records for eligibility checks.
type SettingsStore interface {
	Load() (config.Settings, error)
}

// Scrobbler delivers playback transitions to the remote. Deliveries run off
// the publisher's goroutine; failures are logged and dropped, the next
// full sync converges any watched state a lost stop call would have set.
type Scrobbler struct {
	remote   Remote
	settings SettingsStore
	wg       sync.WaitGroup
}

// NewScrobbler creates a scrobbler over the given remote and settings.
func NewScrobbler(remote Remote, settings SettingsStore) *Scrobbler {
	return &Scrobbler{remote: remote, settings: settings}
}

// OnPlaybackEvent forwards the transition without blocking the publisher.
func (s *Scrobbler) OnPlaybackEvent(ev models.PlaybackEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		s.deliver(ctx, ev)
	}()
}

// Wait blocks until all in-flight deliveries finish.
func (s *Scrobbler) Wait() {
	s.wg.Wait()
}

func (s *Scrobbler) deliver(ctx context.Context, ev models.PlaybackEvent) {
	settings, err := s.settings.Load()
	if err != nil {
		log.Printf("[scrobble] load settings: %v", err)
		return
	}
	user := settings.Trakt.GetUserByID(ev.UserID)
	if user == nil || !user.IsAuthorized() || !user.ScrobblingEnabled {
		return
	}
	if user.PathExcluded(ev.Item.Path) || !eligible(ev.Item) {
		return
	}

	item := trakt.ScrobbleItemFromItem(ev.Item, ev.Progress)
	switch ev.Kind {
	case models.PlaybackStarted:
		err = s.remote.ScrobbleStart(ctx, ev.UserID, item)
	case models.PlaybackStopped:
		err = s.remote.ScrobbleStop(ctx, ev.UserID, item)
	default:
		return
	}
	if err != nil {
		log.Printf("[scrobble] %s for user %s, item %s: %v", ev.Kind, ev.UserID, ev.Item.ID, err)
	}
}

func eligible(item models.MediaItem) bool {
	switch item.Kind {
	case models.MediaKindMovie:
		return item.HasAnyProviderID()
	case models.MediaKindEpisode:
		return item.HasAnyProviderID() || item.HasAnySeriesProviderID()
	default:
		return false
	}
}
