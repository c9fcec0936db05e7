package match

import (
	"testing"

	"traktbridge/models"
	"traktbridge/services/trakt"
)

func TestMovieMatchByIMDB(t *testing.T) {
	item := models.MediaItem{
		Kind:        models.MediaKindMovie,
		ProviderIDs: map[string]string{models.ProviderIMDB: "tt123", models.ProviderTMDB: "555"},
	}
	candidates := []trakt.IDs{
		{IMDB: "tt999", TMDB: 555}, // tmdb collides, imdb wins first
		{IMDB: "tt123", TMDB: 777},
	}

	if got := MovieIndex(item, candidates); got != 1 {
		t.Errorf("MovieIndex = %d, want 1 (imdb match beats tmdb)", got)
	}
}

func TestMovieMatchIgnoresAbsentIDs(t *testing.T) {
	item := models.MediaItem{
		Kind:        models.MediaKindMovie,
		ProviderIDs: map[string]string{models.ProviderIMDB: "tt123"},
	}
	candidates := []trakt.IDs{
		{TMDB: 555}, // no imdb: absent never equals anything
		{IMDB: "tt123"},
	}

	if got := MovieIndex(item, candidates); got != 1 {
		t.Errorf("MovieIndex = %d, want 1", got)
	}
}

func TestMovieNoIdentifiersInCommon(t *testing.T) {
	item := models.MediaItem{
		Kind:        models.MediaKindMovie,
		ProviderIDs: map[string]string{models.ProviderIMDB: "tt123"},
	}
	candidates := []trakt.IDs{{IMDB: "tt555"}, {TMDB: 42}}

	if got := MovieIndex(item, candidates); got != -1 {
		t.Errorf("MovieIndex = %d, want -1", got)
	}
}

func TestMovieNoProviderIDsMatchesNothing(t *testing.T) {
	item := models.MediaItem{Kind: models.MediaKindMovie}
	if got := MovieIndex(item, []trakt.IDs{{IMDB: "tt1"}, {}}); got != -1 {
		t.Errorf("MovieIndex = %d, want -1 for item without identifiers", got)
	}
}

func TestShowPriorityOrder(t *testing.T) {
	providers := map[string]string{
		models.ProviderTVDB: "100",
		models.ProviderIMDB: "tt200",
	}
	candidates := []trakt.IDs{
		{IMDB: "tt200"},       // would match on imdb
		{TVDB: 100, TMDB: 50}, // tvdb outranks imdb
	}

	if got := ShowIndex(providers, candidates); got != 1 {
		t.Errorf("ShowIndex = %d, want 1 (tvdb first)", got)
	}
}

func TestShowNumericComparison(t *testing.T) {
	providers := map[string]string{models.ProviderTVDB: "0100"}
	candidates := []trakt.IDs{{TVDB: 100}}

	if got := ShowIndex(providers, candidates); got != 0 {
		t.Errorf("ShowIndex = %d, want 0 (numeric ids compare as integers)", got)
	}
}

func TestEpisodeMatchByOwnID(t *testing.T) {
	item := models.MediaItem{
		Kind:        models.MediaKindEpisode,
		ProviderIDs: map[string]string{models.ProviderTVDB: "9001"},
	}
	candidates := []EpisodeCandidate{
		{IDs: trakt.IDs{TVDB: 9000}, Season: 1, Number: 1},
		{IDs: trakt.IDs{TVDB: 9001}, Season: 1, Number: 2},
	}

	if got := EpisodeIndex(item, candidates); got != 1 {
		t.Errorf("EpisodeIndex = %d, want 1", got)
	}
}

func TestEpisodeNumberingFallback(t *testing.T) {
	showIDs := trakt.IDs{TVDB: 100}
	item := models.MediaItem{
		Kind:              models.MediaKindEpisode,
		SeriesProviderIDs: map[string]string{models.ProviderTVDB: "100"},
		SeasonNumber:      2,
		EpisodeNumber:     5,
	}
	candidates := []EpisodeCandidate{
		{ShowIDs: showIDs, Season: 2, Number: 6},
		{ShowIDs: showIDs, Season: 2, Number: 5},
		{ShowIDs: trakt.IDs{TVDB: 999}, Season: 2, Number: 5},
	}

	if got := EpisodeIndex(item, candidates); got != 1 {
		t.Errorf("EpisodeIndex = %d, want 1 (season 2 episode 5)", got)
	}
}

func TestEpisodeFallbackRequiresSeasonMatch(t *testing.T) {
	item := models.MediaItem{
		Kind:              models.MediaKindEpisode,
		SeriesProviderIDs: map[string]string{models.ProviderTVDB: "100"},
		SeasonNumber:      2,
		EpisodeNumber:     5,
	}
	candidates := []EpisodeCandidate{
		{ShowIDs: trakt.IDs{TVDB: 100}, Season: 3, Number: 5},
	}

	if got := EpisodeIndex(item, candidates); got != -1 {
		t.Errorf("EpisodeIndex = %d, want -1 (wrong season)", got)
	}
}

func TestEpisodeFallbackSuppressedByCommonIdentifierKind(t *testing.T) {
	// The episode carries a tvdb id that matches no candidate, and a
	// candidate also carries a tvdb id. Falling back to numbering here
	// would fabricate a match out of an explicit id mismatch.
	item := models.MediaItem{
		Kind:              models.MediaKindEpisode,
		ProviderIDs:       map[string]string{models.ProviderTVDB: "9001"},
		SeriesProviderIDs: map[string]string{models.ProviderTVDB: "100"},
		SeasonNumber:      2,
		EpisodeNumber:     5,
	}
	candidates := []EpisodeCandidate{
		{ShowIDs: trakt.IDs{TVDB: 100}, IDs: trakt.IDs{TVDB: 8000}, Season: 2, Number: 5},
	}

	if got := EpisodeIndex(item, candidates); got != -1 {
		t.Errorf("EpisodeIndex = %d, want -1 (identifier kind in common suppresses fallback)", got)
	}
}

func TestEpisodeMultiEpisodeFileFallback(t *testing.T) {
	item := models.MediaItem{
		Kind:              models.MediaKindEpisode,
		SeriesProviderIDs: map[string]string{models.ProviderTVDB: "100"},
		SeasonNumber:      1,
		EpisodeNumber:     3,
		EpisodeNumberEnd:  4,
	}
	candidates := []EpisodeCandidate{
		{ShowIDs: trakt.IDs{TVDB: 100}, Season: 1, Number: 4},
	}

	if got := EpisodeIndex(item, candidates); got != 0 {
		t.Errorf("EpisodeIndex = %d, want 0 (number inside multi-episode range)", got)
	}
}
