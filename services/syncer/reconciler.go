// Package syncer runs the full reconciliation between the local library and
// remote Trakt state. A full sync walks every item for every authorized user,
// compares against remote watched and collected snapshots, and converges both
// sides: missing collection entries and watched history flow outward, remote
// watched state flows inward.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"

	"traktbridge/config"
	"traktbridge/models"
	"traktbridge/services/match"
	"traktbridge/services/trakt"
	"traktbridge/utils/progress"
)

// chunkSize caps the number of entries per outbound sync call.
const chunkSize = 100

// Remote is the slice of the Trakt client the reconciler reads snapshots from
// and pushes deltas through.
type Remote interface {
	WatchedMovies(ctx context.Context, userID string) ([]trakt.WatchedMovie, error)
	CollectedMovies(ctx context.Context, userID string) ([]trakt.CollectedMovie, error)
	WatchedShows(ctx context.Context, userID string) ([]trakt.WatchedShow, error)
	CollectedShows(ctx context.Context, userID string) ([]trakt.CollectedShow, error)
	AddToCollection(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
	AddToHistory(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
}

// LibraryStore enumerates library items with one user's played state merged
// in, and accepts played-state writes flowing back from the remote.
type LibraryStore interface {
	MoviesForUser(ctx context.Context, userID string) ([]models.MediaItem, error)
	EpisodesForUser(ctx context.Context, userID string) ([]models.MediaItem, error)
	SetPlayed(ctx context.Context, userID, itemID string, played bool, lastPlayedAt *time.Time) error
}

// SettingsStore provides the sync user roster and policy flags.
type SettingsStore interface {
	Load() (config.Settings, error)
}

// Service orchestrates full syncs.
type Service struct {
	remote   Remote
	store    LibraryStore
	settings SettingsStore
}

// NewService creates a full-sync service.
func NewService(remote Remote, store LibraryStore, settings SettingsStore) *Service {
	return &Service{remote: remote, store: store, settings: settings}
}

// snapshot holds one user's remote state, fetched once per sync run.
type snapshot struct {
	watchedMovies   []trakt.WatchedMovie
	collectedMovies []trakt.CollectedMovie
	watchedShows    []trakt.WatchedShow
	collectedShows  []trakt.CollectedShow
}

// SyncAllUsers runs a full sync for every authorized user. One user's failure
// is logged and does not stop the others; the joined error is returned.
func (s *Service) SyncAllUsers(ctx context.Context, reporter *progress.Reporter) error {
	settings, err := s.settings.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	var users []config.SyncUser
	for _, user := range settings.Trakt.Users {
		if user.IsAuthorized() {
			users = append(users, user)
		}
	}
	if len(users) == 0 {
		log.Printf("[syncer] no authorized users, nothing to sync")
		if reporter != nil {
			reporter.Report(100)
		}
		return nil
	}
	if reporter == nil {
		reporter = progress.NewReporter(nil)
	}

	parts, err := reporter.Split(len(users))
	if err != nil {
		return err
	}

	var errs []error
	for i, user := range users {
		// A successful SyncUser drives its split share to completion itself.
		if err := s.SyncUser(ctx, user, parts[i]); err != nil {
			log.Printf("[syncer] full sync for user %s failed: %v", user.UserID, err)
			errs = append(errs, fmt.Errorf("user %s: %w", user.UserID, err))
		}
	}
	return errors.Join(errs...)
}

// SyncUser reconciles one user's library against their remote state.
func (s *Service) SyncUser(ctx context.Context, user config.SyncUser, reporter *progress.Reporter) error {
	if reporter == nil {
		reporter = progress.NewReporter(nil)
	}
	parts, err := reporter.Split(3)
	if err != nil {
		return err
	}

	start := time.Now()
	snap, err := s.fetchSnapshot(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("fetch remote snapshot: %w", err)
	}
	parts[0].Report(100)

	if err := s.syncMovies(ctx, user, snap, parts[1]); err != nil {
		return fmt.Errorf("movies pass: %w", err)
	}
	if err := s.syncEpisodes(ctx, user, snap, parts[2]); err != nil {
		return fmt.Errorf("episodes pass: %w", err)
	}

	log.Printf("[syncer] full sync for user %s finished in %s", user.UserID, time.Since(start).Round(time.Millisecond))
	return nil
}

// fetchSnapshot pulls the four remote listings concurrently. The client's
// outbound permit still serializes the actual HTTP requests.
func (s *Service) fetchSnapshot(ctx context.Context, userID string) (*snapshot, error) {
	snap := &snapshot{}
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		snap.watchedMovies, err = s.remote.WatchedMovies(ctx, userID)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		snap.collectedMovies, err = s.remote.CollectedMovies(ctx, userID)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		snap.watchedShows, err = s.remote.WatchedShows(ctx, userID)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		snap.collectedShows, err = s.remote.CollectedShows(ctx, userID)
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Service) syncMovies(ctx context.Context, user config.SyncUser, snap *snapshot, reporter *progress.Reporter) error {
	movies, err := s.store.MoviesForUser(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("list movies: %w", err)
	}

	collectedIDs := make([]trakt.IDs, len(snap.collectedMovies))
	for i, entry := range snap.collectedMovies {
		collectedIDs[i] = entry.Movie.IDs
	}
	watchedIDs := make([]trakt.IDs, len(snap.watchedMovies))
	for i, entry := range snap.watchedMovies {
		watchedIDs[i] = entry.Movie.IDs
	}

	var collectQueue, historyQueue []models.MediaItem
	historyAt := map[string]time.Time{}

	for i, item := range movies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if user.PathExcluded(item.Path) || !item.HasAnyProviderID() {
			continue
		}

		if user.SyncCollections {
			collectedIdx := match.MovieIndex(item, collectedIDs)
			if s.needsCollect(user, item, collectedIdx, movieMetadata(snap, collectedIdx)) {
				collectQueue = append(collectQueue, item)
			}
		}

		watchedIdx := match.MovieIndex(item, watchedIDs)
		if watchedIdx >= 0 {
			if !item.Played {
				at := snap.watchedMovies[watchedIdx].LastWatchedAt
				if err := s.store.SetPlayed(ctx, user.UserID, item.ID, true, &at); err != nil {
					log.Printf("[syncer] mark played for item %s: %v", item.ID, err)
				}
			}
		} else if item.Played {
			if user.PostWatchedHistory {
				historyQueue = append(historyQueue, item)
				historyAt[item.ID] = watchedAt(item)
			} else if !user.SkipUnwatchedImport {
				if err := s.store.SetPlayed(ctx, user.UserID, item.ID, false, nil); err != nil {
					log.Printf("[syncer] revert played for item %s: %v", item.ID, err)
				}
			}
		}

		if len(movies) > 0 {
			reporter.Report(float64(i+1) * 90 / float64(len(movies)))
		}
	}

	s.pushMovieCollects(ctx, user, collectQueue)
	s.pushMovieHistory(ctx, user, historyQueue, historyAt)
	reporter.Report(100)
	return nil
}

// needsCollect reports whether an item must be (re)written to the remote
// collection: unmatched, or matched with stale metadata when media-info
// export is on.
func (s *Service) needsCollect(user config.SyncUser, item models.MediaItem, matchIdx int, remoteMeta *trakt.MediaMetadata) bool {
	if matchIdx < 0 {
		return true
	}
	if !user.ExportMediaInfo {
		return false
	}
	localMeta := trakt.MetadataFromStreams(item.Streams)
	if localMeta == nil {
		return false
	}
	if remoteMeta == nil {
		return true
	}
	return !localMeta.Equal(*remoteMeta)
}

func movieMetadata(snap *snapshot, idx int) *trakt.MediaMetadata {
	if idx < 0 || idx >= len(snap.collectedMovies) {
		return nil
	}
	return snap.collectedMovies[idx].Metadata
}

func (s *Service) pushMovieCollects(ctx context.Context, user config.SyncUser, queue []models.MediaItem) {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, chunk := range chunked(queue) {
		items := trakt.SyncItems{}
		for _, item := range chunk {
			movie := trakt.SyncMovieFromItem(item)
			movie.CollectedAt = now
			if user.ExportMediaInfo {
				movie.Metadata = trakt.MetadataFromStreams(item.Streams)
			}
			items.Movies = append(items.Movies, movie)
		}
		if _, err := s.remote.AddToCollection(ctx, user.UserID, items); err != nil {
			log.Printf("[syncer] collect %d movies for user %s: %v", len(chunk), user.UserID, err)
		}
	}
}

func (s *Service) pushMovieHistory(ctx context.Context, user config.SyncUser, queue []models.MediaItem, at map[string]time.Time) {
	for _, chunk := range chunked(queue) {
		items := trakt.SyncItems{}
		for _, item := range chunk {
			movie := trakt.SyncMovieFromItem(item)
			movie.WatchedAt = at[item.ID].Format(time.RFC3339)
			items.Movies = append(items.Movies, movie)
		}
		if _, err := s.remote.AddToHistory(ctx, user.UserID, items); err != nil {
			log.Printf("[syncer] post history for %d movies for user %s: %v", len(chunk), user.UserID, err)
		}
	}
}

// collectedEpisodes flattens the collected show trees into match candidates
// with their attached metadata, index-aligned.
func collectedEpisodes(snap *snapshot) ([]match.EpisodeCandidate, []*trakt.MediaMetadata) {
	var cands []match.EpisodeCandidate
	var meta []*trakt.MediaMetadata
	for _, show := range snap.collectedShows {
		for _, season := range show.Seasons {
			for _, ep := range season.Episodes {
				cands = append(cands, match.EpisodeCandidate{
					ShowIDs: show.Show.IDs,
					Season:  season.Number,
					Number:  ep.Number,
				})
				meta = append(meta, ep.Metadata)
			}
		}
	}
	return cands, meta
}

// watchedOpinion is the remote's verdict on one local episode.
type watchedOpinion int

const (
	opinionUnwatched watchedOpinion = iota
	opinionWatched
	opinionNone
)

// episodeWatched resolves the remote watched verdict for one episode. The
// owning show is matched by identity first; the episode then has to match
// inside the remote season carrying the same number. A matched show whose
// season list lacks the episode's season yields no verdict at all, so the
// local watched state stays untouched either way.
func episodeWatched(item models.MediaItem, shows []trakt.WatchedShow, showIDs []trakt.IDs) (watchedOpinion, time.Time) {
	showIdx := match.ShowIndex(item.SeriesProviderIDs, showIDs)
	if showIdx < 0 {
		return opinionUnwatched, time.Time{}
	}
	show := shows[showIdx]
	for _, season := range show.Seasons {
		if season.Number != item.SeasonNumber {
			continue
		}
		cands := make([]match.EpisodeCandidate, len(season.Episodes))
		for i, ep := range season.Episodes {
			cands[i] = match.EpisodeCandidate{
				ShowIDs: show.Show.IDs,
				Season:  season.Number,
				Number:  ep.Number,
			}
		}
		if idx := match.EpisodeIndex(item, cands); idx >= 0 {
			return opinionWatched, season.Episodes[idx].LastWatchedAt
		}
		return opinionUnwatched, time.Time{}
	}
	return opinionNone, time.Time{}
}

func (s *Service) syncEpisodes(ctx context.Context, user config.SyncUser, snap *snapshot, reporter *progress.Reporter) error {
	episodes, err := s.store.EpisodesForUser(ctx, user.UserID)
	if err != nil {
		return fmt.Errorf("list episodes: %w", err)
	}

	collectedCands, collectedMeta := collectedEpisodes(snap)
	watchedShowIDs := make([]trakt.IDs, len(snap.watchedShows))
	for i, show := range snap.watchedShows {
		watchedShowIDs[i] = show.Show.IDs
	}

	var collectQueue, historyQueue []models.MediaItem
	historyAt := map[string]time.Time{}

	for i, item := range episodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if user.PathExcluded(item.Path) {
			continue
		}
		if !item.HasAnyProviderID() && !item.HasAnySeriesProviderID() {
			continue
		}

		if user.SyncCollections {
			collectedIdx := match.EpisodeIndex(item, collectedCands)
			var remoteMeta *trakt.MediaMetadata
			if collectedIdx >= 0 {
				remoteMeta = collectedMeta[collectedIdx]
			}
			if s.needsCollect(user, item, collectedIdx, remoteMeta) {
				collectQueue = append(collectQueue, item)
			}
		}

		switch opinion, at := episodeWatched(item, snap.watchedShows, watchedShowIDs); opinion {
		case opinionWatched:
			if !item.Played {
				if err := s.store.SetPlayed(ctx, user.UserID, item.ID, true, &at); err != nil {
					log.Printf("[syncer] mark played for item %s: %v", item.ID, err)
				}
			}
		case opinionUnwatched:
			if !item.Played {
				break
			}
			if user.PostWatchedHistory {
				historyQueue = append(historyQueue, item)
				historyAt[item.ID] = watchedAt(item)
			} else if !user.SkipUnwatchedImport {
				if err := s.store.SetPlayed(ctx, user.UserID, item.ID, false, nil); err != nil {
					log.Printf("[syncer] revert played for item %s: %v", item.ID, err)
				}
			}
		}

		if len(episodes) > 0 {
			reporter.Report(float64(i+1) * 90 / float64(len(episodes)))
		}
	}

	s.pushEpisodeCollects(ctx, user, collectQueue)
	s.pushEpisodeHistory(ctx, user, historyQueue, historyAt)
	reporter.Report(100)
	return nil
}

// pushEpisodeCollects sends queued collection adds. The queue arrives in
// series order, so grouping each chunk yields one show node per show.
func (s *Service) pushEpisodeCollects(ctx context.Context, user config.SyncUser, queue []models.MediaItem) {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, chunk := range chunked(queue) {
		shows := trakt.GroupEpisodesByShow(chunk, func(item models.MediaItem, ep *trakt.SyncEpisode) {
			ep.CollectedAt = now
			if user.ExportMediaInfo {
				ep.Metadata = trakt.MetadataFromStreams(item.Streams)
			}
		})
		if _, err := s.remote.AddToCollection(ctx, user.UserID, trakt.SyncItems{Shows: shows}); err != nil {
			log.Printf("[syncer] collect %d episodes for user %s: %v", len(chunk), user.UserID, err)
		}
	}
}

func (s *Service) pushEpisodeHistory(ctx context.Context, user config.SyncUser, queue []models.MediaItem, at map[string]time.Time) {
	for _, chunk := range chunked(queue) {
		shows := trakt.GroupEpisodesByShow(chunk, func(item models.MediaItem, ep *trakt.SyncEpisode) {
			ep.WatchedAt = at[item.ID].Format(time.RFC3339)
		})
		if _, err := s.remote.AddToHistory(ctx, user.UserID, trakt.SyncItems{Shows: shows}); err != nil {
			log.Printf("[syncer] post history for %d episodes for user %s: %v", len(chunk), user.UserID, err)
		}
	}
}

// watchedAt picks the history timestamp for a locally played item: the
// library's record when present, otherwise now.
func watchedAt(item models.MediaItem) time.Time {
	if item.LastPlayedAt != nil {
		return item.LastPlayedAt.UTC()
	}
	return time.Now().UTC()
}

func chunked(items []models.MediaItem) [][]models.MediaItem {
	var chunks [][]models.MediaItem
	for len(items) > chunkSize {
		chunks = append(chunks, items[:chunkSize])
		items = items[chunkSize:]
	}
	if len(items) > 0 {
		chunks = append(chunks, items)
	}
	return chunks
}
