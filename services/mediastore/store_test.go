package mediastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"traktbridge/internal/database"
	"traktbridge/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func movie(id, name string) models.MediaItem {
	return models.MediaItem{
		ID:          id,
		Kind:        models.MediaKindMovie,
		Name:        name,
		Year:        2020,
		ProviderIDs: map[string]string{models.ProviderIMDB: "tt" + id},
	}
}

func episode(id, series string, season, number int) models.MediaItem {
	return models.MediaItem{
		ID:                id,
		Kind:              models.MediaKindEpisode,
		Name:              "Episode",
		SeriesID:          series,
		SeriesName:        series,
		SeriesProviderIDs: map[string]string{models.ProviderTVDB: "100"},
		SeasonNumber:      season,
		EpisodeNumber:     number,
	}
}

func TestUpsertAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := movie("m1", "Heat")
	item.Streams = models.StreamInfo{Resolution: "1080p", HDR: true, AudioCodec: "dts"}
	if _, err := store.Upsert(ctx, item); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Heat" || got.ProviderIDs[models.ProviderIMDB] != "ttm1" {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Streams.Resolution != "1080p" || !got.Streams.HDR {
		t.Errorf("stream info not persisted: %+v", got.Streams)
	}
}

func TestUpsertGeneratesID(t *testing.T) {
	store := newTestStore(t)
	item := movie("", "Alien")
	id, err := store.Upsert(context.Background(), item)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if id == "" {
		t.Fatal("expected a generated id")
	}
}

func TestUpsertReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, movie("m1", "Heat")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	updated := movie("m1", "Heat (Remastered)")
	if _, err := store.Upsert(ctx, updated); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Heat (Remastered)" {
		t.Errorf("got name %q, want updated name", got.Name)
	}
}

func TestEpisodesForUserOrderedByAirOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, item := range []models.MediaItem{
		episode("e3", "show-b", 1, 1),
		episode("e2", "show-a", 2, 1),
		episode("e1", "show-a", 1, 2),
		episode("e0", "show-a", 1, 1),
	} {
		if _, err := store.Upsert(ctx, item); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	episodes, err := store.EpisodesForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("episodes: %v", err)
	}
	gotOrder := []string{}
	for _, ep := range episodes {
		gotOrder = append(gotOrder, ep.ID)
	}
	want := []string{"e0", "e1", "e2", "e3"}
	for i := range want {
		if gotOrder[i] != want[i] {
			t.Fatalf("order = %v, want %v", gotOrder, want)
		}
	}
}

func TestSetPlayedMergesPerUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, movie("m1", "Heat")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	at := time.Date(2026, 8, 1, 20, 0, 0, 0, time.UTC)
	if err := store.SetPlayed(ctx, "user-1", "m1", true, &at); err != nil {
		t.Fatalf("set played: %v", err)
	}

	forUser1, err := store.MoviesForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("movies: %v", err)
	}
	if !forUser1[0].Played || forUser1[0].PlayCount != 1 {
		t.Errorf("user-1 state = %+v, want played with count 1", forUser1[0])
	}
	if forUser1[0].LastPlayedAt == nil || !forUser1[0].LastPlayedAt.Equal(at) {
		t.Errorf("last played at = %v, want %v", forUser1[0].LastPlayedAt, at)
	}

	forUser2, err := store.MoviesForUser(ctx, "user-2")
	if err != nil {
		t.Fatalf("movies: %v", err)
	}
	if forUser2[0].Played {
		t.Error("user-2 must not inherit user-1's played state")
	}
}

func TestSetPlayedCountOnlyBumpsOnTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, movie("m1", "Heat")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	at := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := store.SetPlayed(ctx, "user-1", "m1", true, &at); err != nil {
			t.Fatalf("set played: %v", err)
		}
	}

	movies, err := store.MoviesForUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("movies: %v", err)
	}
	if movies[0].PlayCount != 1 {
		t.Errorf("play count = %d, want 1 (repeat played writes are idempotent)", movies[0].PlayCount)
	}
}

func TestSetPlayedUnknownItem(t *testing.T) {
	store := newTestStore(t)
	err := store.SetPlayed(context.Background(), "user-1", "missing", true, nil)
	if err != ErrItemNotFound {
		t.Errorf("err = %v, want ErrItemNotFound", err)
	}
}

func TestDeleteCascadesPlaystate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Upsert(ctx, movie("m1", "Heat")); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.SetPlayed(ctx, "user-1", "m1", true, nil); err != nil {
		t.Fatalf("set played: %v", err)
	}
	if err := store.Delete(ctx, "m1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(ctx, "m1"); err != ErrItemNotFound {
		t.Errorf("get after delete = %v, want ErrItemNotFound", err)
	}
	if err := store.Delete(ctx, "m1"); err != ErrItemNotFound {
		t.Errorf("second delete = %v, want ErrItemNotFound", err)
	}
}
