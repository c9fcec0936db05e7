// Package library batches library add/remove/update events into bulk Trakt
// collection updates. Library scans fire mutation events far faster than the
// remote should see writes, so events accumulate over a debounce window and
// flush as one pass over all users.
package library

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"traktbridge/config"
	"traktbridge/models"
	"traktbridge/services/match"
	"traktbridge/services/trakt"
)

const (
	debounceWindow = 10 * time.Second
	eventBuffer    = 512
)

// Remote is the slice of the Trakt client the coalescer needs: the two
// collection write endpoints plus the collected snapshots used to suppress
// duplicate writes.
type Remote interface {
	AddToCollection(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
	RemoveFromCollection(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
	AddToHistory(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
	CollectedMovies(ctx context.Context, userID string) ([]trakt.CollectedMovie, error)
	CollectedShows(ctx context.Context, userID string) ([]trakt.CollectedShow, error)
}

// SettingsStore provides sync user records for eligibility checks.
type SettingsStore interface {
	Load() (config.Settings, error)
}

// Coalescer is a single-goroutine actor owning the pending event queue and
// one shared debounce deadline for all users. Any event re-arms the timer;
// when it fires, everything queued is drained together.
type Coalescer struct {
	remote   Remote
	settings SettingsStore

	events  chan models.LibraryEvent
	done    chan struct{}
	wg      sync.WaitGroup
	pending []models.LibraryEvent
}

// NewCoalescer creates a library event coalescer. Call Start to begin processing.
func NewCoalescer(remote Remote, settings SettingsStore) *Coalescer {
	return &Coalescer{
		remote:   remote,
		settings: settings,
		events:   make(chan models.LibraryEvent, eventBuffer),
		done:     make(chan struct{}),
	}
}

// OnLibraryEvent implements models.LibrarySubscriber. Non-blocking; a full
// queue drops the event, the next full sync re-derives the delta.
func (c *Coalescer) OnLibraryEvent(ev models.LibraryEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		log.Printf("[library] event queue full, dropping %s event for user %s", ev.Kind, ev.UserID)
	}
}

// Start launches the coalescer actor.
func (c *Coalescer) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop shuts the actor down. Queued but unflushed events are discarded.
func (c *Coalescer) Stop() {
	close(c.done)
	c.wg.Wait()
}

func (c *Coalescer) run() {
	defer c.wg.Done()

	ctx := context.Background()
	timer := time.NewTimer(debounceWindow)
	if !timer.Stop() {
		<-timer.C
	}
	var timerC <-chan time.Time

	for {
		select {
		case ev := <-c.events:
			c.pending = append(c.pending, ev)
			if timerC != nil && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(debounceWindow)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			c.flush(ctx)
		case <-c.done:
			return
		}
	}
}

// flush drains the queue and processes every user's events. The queue swap
// is the only critical section; dispatching happens on the snapshot.
func (c *Coalescer) flush(ctx context.Context) {
	events := c.pending
	c.pending = nil
	if len(events) == 0 {
		return
	}

	byUser := make(map[string][]models.LibraryEvent)
	order := []string{}
	for _, ev := range events {
		if _, seen := byUser[ev.UserID]; !seen {
			order = append(order, ev.UserID)
		}
		byUser[ev.UserID] = append(byUser[ev.UserID], ev)
	}

	for _, userID := range order {
		c.flushUser(ctx, userID, byUser[userID])
	}
}

// partitionKey partitions events by entity kind and event kind; each
// partition dispatches independently so one failure cannot block the rest.
type partitionKey struct {
	kind  models.MediaKind
	event models.LibraryEventKind
}

func (c *Coalescer) flushUser(ctx context.Context, userID string, events []models.LibraryEvent) {
	user := c.syncUser(userID)
	if user == nil {
		return
	}

	parts := make(map[partitionKey][]models.MediaItem)
	for _, ev := range events {
		// Eligibility can change between queuing and flushing; stale
		// entries drop silently.
		if !eligible(ev.Item, user) {
			continue
		}
		key := partitionKey{kind: ev.Item.Kind, event: ev.Kind}
		parts[key] = append(parts[key], ev.Item)
	}

	// Update events are accepted but never dispatched: the remote API has
	// no partial collection update.
	c.dispatchMovies(ctx, user, parts[partitionKey{models.MediaKindMovie, models.LibraryEventAdd}], true)
	c.dispatchMovies(ctx, user, parts[partitionKey{models.MediaKindMovie, models.LibraryEventRemove}], false)
	c.dispatchEpisodes(ctx, user, parts[partitionKey{models.MediaKindEpisode, models.LibraryEventAdd}], true)
	c.dispatchEpisodes(ctx, user, parts[partitionKey{models.MediaKindEpisode, models.LibraryEventRemove}], false)
	c.dispatchShows(ctx, user, parts[partitionKey{models.MediaKindSeries, models.LibraryEventAdd}], true)
	c.dispatchShows(ctx, user, parts[partitionKey{models.MediaKindSeries, models.LibraryEventRemove}], false)
}

func (c *Coalescer) dispatchMovies(ctx context.Context, user *config.SyncUser, movies []models.MediaItem, add bool) {
	if len(movies) == 0 {
		return
	}

	if add {
		// Suppress writes for movies the remote already collects.
		collected, err := c.remote.CollectedMovies(ctx, user.UserID)
		if err != nil {
			log.Printf("[library] collected movies snapshot for user %s: %v", user.UserID, err)
			return
		}
		candidateIDs := make([]trakt.IDs, len(collected))
		for i, entry := range collected {
			candidateIDs[i] = entry.Movie.IDs
		}
		kept := movies[:0]
		for _, item := range movies {
			if match.MovieIndex(item, candidateIDs) < 0 {
				kept = append(kept, item)
			}
		}
		movies = kept
		if len(movies) == 0 {
			return
		}
	}

	items := trakt.SyncItems{}
	history := trakt.SyncItems{}
	now := time.Now().UTC().Format(time.RFC3339)
	for _, item := range movies {
		movie := trakt.SyncMovieFromItem(item)
		if add {
			movie.CollectedAt = now
			if user.ExportMediaInfo {
				movie.Metadata = trakt.MetadataFromStreams(item.Streams)
			}
			if item.Played && user.PostWatchedHistory {
				watched := trakt.SyncMovieFromItem(item)
				watched.WatchedAt = playedAt(item, now)
				history.Movies = append(history.Movies, watched)
			}
		}
		items.Movies = append(items.Movies, movie)
	}

	if err := c.sendCollection(ctx, user.UserID, items, add); err != nil {
		log.Printf("[library] movie collection dispatch (add=%v) for user %s failed: %v", add, user.UserID, err)
	}
	if !history.Empty() {
		if _, err := c.remote.AddToHistory(ctx, user.UserID, history); err != nil {
			log.Printf("[library] movie history dispatch for user %s failed: %v", user.UserID, err)
		}
	}
}

func (c *Coalescer) dispatchEpisodes(ctx context.Context, user *config.SyncUser, episodes []models.MediaItem, add bool) {
	if len(episodes) == 0 {
		return
	}

	if add {
		collected, err := c.remote.CollectedShows(ctx, user.UserID)
		if err != nil {
			log.Printf("[library] collected shows snapshot for user %s: %v", user.UserID, err)
			return
		}
		candidates := episodeCandidates(collected)
		kept := episodes[:0]
		for _, item := range episodes {
			if match.EpisodeIndex(item, candidates) < 0 {
				kept = append(kept, item)
			}
		}
		episodes = kept
		if len(episodes) == 0 {
			return
		}
	}

	// Series-name-then-air-order, the enumeration order the library itself
	// uses; grouping then yields one show node per contiguous run.
	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].SeriesName != episodes[j].SeriesName {
			return episodes[i].SeriesName < episodes[j].SeriesName
		}
		if episodes[i].SeasonNumber != episodes[j].SeasonNumber {
			return episodes[i].SeasonNumber < episodes[j].SeasonNumber
		}
		return episodes[i].EpisodeNumber < episodes[j].EpisodeNumber
	})

	now := time.Now().UTC().Format(time.RFC3339)
	shows := trakt.GroupEpisodesByShow(episodes, func(item models.MediaItem, ep *trakt.SyncEpisode) {
		if add {
			ep.CollectedAt = now
			if user.ExportMediaInfo {
				ep.Metadata = trakt.MetadataFromStreams(item.Streams)
			}
		}
	})

	// One remote call per show node: the wire format nests episodes under a
	// single show, so shows are never interleaved in one payload.
	for _, show := range shows {
		items := trakt.SyncItems{Shows: []trakt.SyncShow{show}}
		if err := c.sendCollection(ctx, user.UserID, items, add); err != nil {
			log.Printf("[library] episode collection dispatch (add=%v, show=%q) for user %s failed: %v",
				add, show.Title, user.UserID, err)
		}
	}

	if add && user.PostWatchedHistory {
		var played []models.MediaItem
		for _, item := range episodes {
			if item.Played {
				played = append(played, item)
			}
		}
		if len(played) == 0 {
			return
		}
		watched := trakt.GroupEpisodesByShow(played, func(item models.MediaItem, ep *trakt.SyncEpisode) {
			ep.WatchedAt = playedAt(item, now)
		})
		for _, show := range watched {
			items := trakt.SyncItems{Shows: []trakt.SyncShow{show}}
			if _, err := c.remote.AddToHistory(ctx, user.UserID, items); err != nil {
				log.Printf("[library] episode history dispatch (show=%q) for user %s failed: %v",
					show.Title, user.UserID, err)
			}
		}
	}
}

// playedAt picks a history timestamp for an item the library reports as
// played: its recorded play time when present, otherwise the flush time.
func playedAt(item models.MediaItem, fallback string) string {
	if item.LastPlayedAt != nil {
		return item.LastPlayedAt.UTC().Format(time.RFC3339)
	}
	return fallback
}

func (c *Coalescer) dispatchShows(ctx context.Context, user *config.SyncUser, shows []models.MediaItem, add bool) {
	if len(shows) == 0 {
		return
	}
	items := trakt.SyncItems{}
	for _, item := range shows {
		items.Shows = append(items.Shows, trakt.SyncShow{
			Title: item.Name,
			Year:  item.Year,
			IDs:   trakt.IDsFromProviders(item.ProviderIDs),
		})
	}
	if err := c.sendCollection(ctx, user.UserID, items, add); err != nil {
		log.Printf("[library] show collection dispatch (add=%v) for user %s failed: %v", add, user.UserID, err)
	}
}

func (c *Coalescer) sendCollection(ctx context.Context, userID string, items trakt.SyncItems, add bool) error {
	var err error
	if add {
		_, err = c.remote.AddToCollection(ctx, userID, items)
	} else {
		_, err = c.remote.RemoveFromCollection(ctx, userID, items)
	}
	return err
}

func (c *Coalescer) syncUser(userID string) *config.SyncUser {
	settings, err := c.settings.Load()
	if err != nil {
		log.Printf("[library] load settings: %v", err)
		return nil
	}
	user := settings.Trakt.GetUserByID(userID)
	if user == nil || !user.IsAuthorized() || !user.SyncCollections {
		return nil
	}
	policy := *user
	return &policy
}

func eligible(item models.MediaItem, user *config.SyncUser) bool {
	if user.PathExcluded(item.Path) {
		return false
	}
	if item.Kind == models.MediaKindEpisode {
		return item.HasAnyProviderID() || item.HasAnySeriesProviderID()
	}
	return item.HasAnyProviderID()
}

// episodeCandidates flattens a collected-shows snapshot into per-episode
// match candidates.
func episodeCandidates(collected []trakt.CollectedShow) []match.EpisodeCandidate {
	var candidates []match.EpisodeCandidate
	for _, show := range collected {
		for _, season := range show.Seasons {
			for _, ep := range season.Episodes {
				candidates = append(candidates, match.EpisodeCandidate{
					ShowIDs: show.Show.IDs,
					Season:  season.Number,
					Number:  ep.Number,
				})
			}
		}
	}
	return candidates
}
