// Package match resolves local library items to remote Trakt entities by a
// priority-ordered comparison of external identifiers.
package match

import (
	"strconv"
	"strings"

	"traktbridge/models"
	"traktbridge/services/trakt"
)

// Identifier priority per entity kind. The first kind both sides carry and
// agree on wins; candidates are scanned in list order within each kind.
var (
	moviePriority   = []string{models.ProviderIMDB, models.ProviderTMDB}
	showPriority    = []string{models.ProviderTVDB, models.ProviderTMDB, models.ProviderIMDB, models.ProviderTVRage}
	episodePriority = []string{models.ProviderTVDB, models.ProviderTMDB, models.ProviderIMDB, models.ProviderTVRage}
)

// EpisodeCandidate is one remote episode entry offered for matching: the
// episode's own identifiers plus its position under its show.
type EpisodeCandidate struct {
	ShowIDs trakt.IDs
	IDs     trakt.IDs
	Season  int
	Number  int
}

// MovieIndex returns the index of the first candidate matching the local
// movie by imdb, then tmdb, or -1 when none match.
func MovieIndex(item models.MediaItem, candidates []trakt.IDs) int {
	return indexByPriority(item.ProviderIDs, candidates, moviePriority)
}

// ShowIndex returns the index of the first candidate matching the given
// provider-id set by tvdb, tmdb, imdb, then tvrage, or -1 when none match.
func ShowIndex(providers map[string]string, candidates []trakt.IDs) int {
	return indexByPriority(providers, candidates, showPriority)
}

// EpisodeIndex matches a local episode against remote episode entries by the
// episode's own identifiers first. When the episode shares no identifier
// kind with any candidate, it falls back to matching the owning show plus
// (season, episode) numbering. The fallback is skipped as soon as any
// identifier kind exists on both sides, so an id mismatch is a real
// non-match rather than an invitation to guess by numbering.
func EpisodeIndex(item models.MediaItem, candidates []EpisodeCandidate) int {
	for _, kind := range episodePriority {
		local := strings.TrimSpace(item.ProviderIDs[kind])
		if local == "" {
			continue
		}
		for i, cand := range candidates {
			if idEqual(kind, local, cand.IDs) {
				return i
			}
		}
	}

	if sharesIdentifierKind(item.ProviderIDs, candidates) {
		return -1
	}

	// Numbering fallback: same show, same season, episode number inside the
	// item's (possibly multi-episode) range.
	for i, cand := range candidates {
		if indexByPriority(item.SeriesProviderIDs, []trakt.IDs{cand.ShowIDs}, showPriority) < 0 {
			continue
		}
		if cand.Season != item.SeasonNumber {
			continue
		}
		for _, number := range item.EpisodeNumbers() {
			if cand.Number == number {
				return i
			}
		}
	}
	return -1
}

func indexByPriority(providers map[string]string, candidates []trakt.IDs, priority []string) int {
	for _, kind := range priority {
		local := strings.TrimSpace(providers[kind])
		if local == "" {
			continue
		}
		for i, cand := range candidates {
			if idEqual(kind, local, cand) {
				return i
			}
		}
	}
	return -1
}

// idEqual compares a local identifier string against a candidate's id of the
// same kind. Numeric catalogs compare as parsed integers; absent values are
// never equal to anything, including other absent values.
func idEqual(kind, local string, cand trakt.IDs) bool {
	switch kind {
	case models.ProviderIMDB:
		return cand.IMDB != "" && local == cand.IMDB
	case models.ProviderTMDB:
		return numericEqual(local, cand.TMDB)
	case models.ProviderTVDB:
		return numericEqual(local, cand.TVDB)
	case models.ProviderTVRage:
		return numericEqual(local, cand.TVRage)
	default:
		return false
	}
}

func numericEqual(local string, remote int) bool {
	if remote == 0 {
		return false
	}
	n, err := strconv.Atoi(local)
	if err != nil {
		return false
	}
	return n == remote
}

// sharesIdentifierKind reports whether the episode and at least one
// candidate both carry a value for the same identifier kind.
func sharesIdentifierKind(providers map[string]string, candidates []EpisodeCandidate) bool {
	for _, kind := range episodePriority {
		if strings.TrimSpace(providers[kind]) == "" {
			continue
		}
		for _, cand := range candidates {
			if hasKind(cand.IDs, kind) {
				return true
			}
		}
	}
	return false
}

func hasKind(ids trakt.IDs, kind string) bool {
	switch kind {
	case models.ProviderIMDB:
		return ids.IMDB != ""
	case models.ProviderTMDB:
		return ids.TMDB != 0
	case models.ProviderTVDB:
		return ids.TVDB != 0
	case models.ProviderTVRage:
		return ids.TVRage != 0
	default:
		return false
	}
}
