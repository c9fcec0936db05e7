package scrobble

import (
	"context"
	"sync"
	"testing"
	"time"

	"traktbridge/config"
	"traktbridge/models"
	"traktbridge/services/trakt"
)

type scrobbleCall struct {
	userID string
	item   trakt.ScrobbleItem
}

type fakeRemote struct {
	mu     sync.Mutex
	starts []scrobbleCall
	stops  []scrobbleCall
}

func (f *fakeRemote) ScrobbleStart(ctx context.Context, userID string, item trakt.ScrobbleItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, scrobbleCall{userID: userID, item: item})
	return nil
}

func (f *fakeRemote) ScrobbleStop(ctx context.Context, userID string, item trakt.ScrobbleItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, scrobbleCall{userID: userID, item: item})
	return nil
}

type fakeSettings struct{ settings config.Settings }

func (f *fakeSettings) Load() (config.Settings, error) { return f.settings, nil }

func scrobblingUser() config.SyncUser {
	return config.SyncUser{
		UserID:            "user-1",
		AccessToken:       "tok",
		ScrobblingEnabled: true,
	}
}

func settingsWith(users ...config.SyncUser) *fakeSettings {
	return &fakeSettings{settings: config.Settings{Trakt: config.TraktSettings{Users: users}}}
}

func movieEvent(kind models.PlaybackEventKind, progress float64) models.PlaybackEvent {
	return models.PlaybackEvent{
		Item: models.MediaItem{
			ID:          "m1",
			Kind:        models.MediaKindMovie,
			Name:        "Heat",
			ProviderIDs: map[string]string{models.ProviderIMDB: "tt0113277"},
		},
		UserID:     "user-1",
		Kind:       kind,
		Progress:   progress,
		OccurredAt: time.Now().UTC(),
	}
}

func TestStartAndStopRouteToEndpoints(t *testing.T) {
	remote := &fakeRemote{}
	s := NewScrobbler(remote, settingsWith(scrobblingUser()))

	s.deliver(context.Background(), movieEvent(models.PlaybackStarted, 0))
	s.deliver(context.Background(), movieEvent(models.PlaybackStopped, 97.5))

	if len(remote.starts) != 1 || len(remote.stops) != 1 {
		t.Fatalf("starts=%d stops=%d, want 1 each", len(remote.starts), len(remote.stops))
	}
	stop := remote.stops[0]
	if stop.userID != "user-1" || stop.item.Progress != 97.5 {
		t.Errorf("stop call = %+v, want user-1 at progress 97.5", stop)
	}
	if stop.item.Movie == nil || stop.item.Movie.IDs.IMDB != "tt0113277" {
		t.Errorf("stop payload should carry the movie ids, got %+v", stop.item.Movie)
	}
}

func TestEpisodePayloadCarriesShowAndNumbering(t *testing.T) {
	remote := &fakeRemote{}
	s := NewScrobbler(remote, settingsWith(scrobblingUser()))

	s.deliver(context.Background(), models.PlaybackEvent{
		Item: models.MediaItem{
			ID:                "e1",
			Kind:              models.MediaKindEpisode,
			SeriesName:        "The Wire",
			SeriesProviderIDs: map[string]string{models.ProviderTVDB: "79126"},
			SeasonNumber:      2,
			EpisodeNumber:     5,
		},
		UserID:   "user-1",
		Kind:     models.PlaybackStarted,
		Progress: 1,
	})

	if len(remote.starts) != 1 {
		t.Fatalf("starts = %d, want 1", len(remote.starts))
	}
	item := remote.starts[0].item
	if item.Show == nil || item.Show.IDs.TVDB != 79126 {
		t.Errorf("payload show = %+v, want tvdb 79126", item.Show)
	}
	if item.Episode == nil || item.Episode.Season != 2 || item.Episode.Number != 5 {
		t.Errorf("payload episode = %+v, want S2E5", item.Episode)
	}
}

func TestIneligibleEventsAreDropped(t *testing.T) {
	remote := &fakeRemote{}
	disabled := scrobblingUser()
	disabled.ScrobblingEnabled = false
	excluding := scrobblingUser()
	excluding.UserID = "user-2"
	excluding.ExcludedPaths = []string{"/mnt/private"}
	s := NewScrobbler(remote, settingsWith(disabled, excluding))

	s.deliver(context.Background(), movieEvent(models.PlaybackStarted, 0))

	excludedEv := movieEvent(models.PlaybackStarted, 0)
	excludedEv.UserID = "user-2"
	excludedEv.Item.Path = "/mnt/private/heat.mkv"
	s.deliver(context.Background(), excludedEv)

	anonymous := movieEvent(models.PlaybackStarted, 0)
	anonymous.UserID = "user-2"
	anonymous.Item.ProviderIDs = map[string]string{models.ProviderIMDB: " "}
	s.deliver(context.Background(), anonymous)

	if len(remote.starts) != 0 || len(remote.stops) != 0 {
		t.Errorf("ineligible events must not reach the remote, got starts=%d stops=%d",
			len(remote.starts), len(remote.stops))
	}
}

func TestOnPlaybackEventDeliversAsync(t *testing.T) {
	remote := &fakeRemote{}
	s := NewScrobbler(remote, settingsWith(scrobblingUser()))

	s.OnPlaybackEvent(movieEvent(models.PlaybackStopped, 100))
	s.Wait()

	if len(remote.stops) != 1 {
		t.Fatalf("stops = %d, want 1", len(remote.stops))
	}
}
