package trakt

import (
	"testing"

	"traktbridge/models"
)

func episode(series, seriesTVDB string, season, number int) models.MediaItem {
	return models.MediaItem{
		ID:                series + "-ep",
		Kind:              models.MediaKindEpisode,
		SeriesID:          series,
		SeriesName:        series,
		SeriesProviderIDs: map[string]string{models.ProviderTVDB: seriesTVDB},
		SeasonNumber:      season,
		EpisodeNumber:     number,
	}
}

func TestGroupEpisodesByShowNeverMixesShows(t *testing.T) {
	episodes := []models.MediaItem{
		episode("show-a", "100", 1, 1),
		episode("show-b", "200", 1, 1),
		episode("show-a", "100", 1, 2),
	}

	shows := GroupEpisodesByShow(episodes, nil)

	if len(shows) != 3 {
		t.Fatalf("got %d show nodes, want 3 (one per contiguous run)", len(shows))
	}
	for _, show := range shows {
		if show.EpisodeCount() != 1 {
			t.Errorf("show node %q has %d episodes, want 1", show.Title, show.EpisodeCount())
		}
	}
	if shows[0].IDs.TVDB != 100 || shows[1].IDs.TVDB != 200 || shows[2].IDs.TVDB != 100 {
		t.Errorf("show node order wrong: %+v", shows)
	}
}

func TestGroupEpisodesByShowGroupsContiguousRun(t *testing.T) {
	episodes := []models.MediaItem{
		episode("show-a", "100", 1, 1),
		episode("show-a", "100", 1, 2),
		episode("show-a", "100", 2, 1),
	}

	shows := GroupEpisodesByShow(episodes, nil)

	if len(shows) != 1 {
		t.Fatalf("got %d show nodes, want 1", len(shows))
	}
	if len(shows[0].Seasons) != 2 {
		t.Fatalf("got %d seasons, want 2", len(shows[0].Seasons))
	}
	if shows[0].EpisodeCount() != 3 {
		t.Errorf("episode count = %d, want 3", shows[0].EpisodeCount())
	}
}

func TestGroupEpisodesExpandsMultiEpisodeFiles(t *testing.T) {
	item := episode("show-a", "100", 1, 5)
	item.EpisodeNumberEnd = 7

	shows := GroupEpisodesByShow([]models.MediaItem{item}, nil)

	if len(shows) != 1 || shows[0].EpisodeCount() != 3 {
		t.Fatalf("multi-episode file not expanded: %+v", shows)
	}
	numbers := []int{}
	for _, ep := range shows[0].Seasons[0].Episodes {
		numbers = append(numbers, ep.Number)
	}
	for i, want := range []int{5, 6, 7} {
		if numbers[i] != want {
			t.Errorf("episode numbers = %v, want [5 6 7]", numbers)
			break
		}
	}
}

func TestGroupEpisodesDecorate(t *testing.T) {
	shows := GroupEpisodesByShow([]models.MediaItem{episode("show-a", "100", 1, 1)},
		func(item models.MediaItem, ep *SyncEpisode) {
			ep.WatchedAt = "2024-01-01T00:00:00Z"
		})

	if got := shows[0].Seasons[0].Episodes[0].WatchedAt; got != "2024-01-01T00:00:00Z" {
		t.Errorf("decorate not applied, watched_at = %q", got)
	}
}

func TestMediaMetadataEqual(t *testing.T) {
	a := MediaMetadata{Resolution: "1080p", Audio: "dts", AudioChannels: "5.1"}
	b := a
	if !a.Equal(b) {
		t.Error("identical metadata compared unequal")
	}
	b.HDR = "hdr10"
	if a.Equal(b) {
		t.Error("differing metadata compared equal")
	}
}
