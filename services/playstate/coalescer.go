// Package playstate batches played/unplayed toggles into bulk Trakt history
// updates. Raw events can burst (a "mark season watched" fans out into one
// event per episode), so the coalescer accumulates per user and flushes on a
// size threshold or a short debounce window, whichever comes first.
package playstate

import (
	"context"
	"log"
	"sync"
	"time"

	"traktbridge/config"
	"traktbridge/models"
	"traktbridge/services/trakt"
)

const (
	debounceWindow = 5 * time.Second
	flushThreshold = 100
	eventBuffer    = 256
)

// Remote is the slice of the Trakt client the coalescer dispatches through.
type Remote interface {
	AddToHistory(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
	RemoveFromHistory(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
}

// SettingsStore provides sync user records for eligibility checks.
type SettingsStore interface {
	Load() (config.Settings, error)
}

type queuedItem struct {
	item models.MediaItem
	at   time.Time
}

// userBatch accumulates one user's pending playstate updates. Episode queues
// only ever hold one show's episodes; a show switch flushes them first since
// the wire format groups episodes under a single show node.
type userBatch struct {
	seenMovies      []queuedItem
	unseenMovies    []queuedItem
	seenEpisodes    []queuedItem
	unseenEpisodes  []queuedItem
	currentSeriesID string
}

func (b *userBatch) empty() bool {
	return len(b.seenMovies) == 0 && len(b.unseenMovies) == 0 &&
		len(b.seenEpisodes) == 0 && len(b.unseenEpisodes) == 0
}

// Coalescer is a single-goroutine actor owning the pending batches and the
// debounce deadline. Producers hand events over a buffered channel and are
// never blocked by in-flight remote calls.
type Coalescer struct {
	remote   Remote
	settings SettingsStore

	events  chan models.PlaystateEvent
	done    chan struct{}
	wg      sync.WaitGroup
	batches map[string]*userBatch
}

// NewCoalescer creates a playstate coalescer. Call Start to begin processing.
func NewCoalescer(remote Remote, settings SettingsStore) *Coalescer {
	return &Coalescer{
		remote:   remote,
		settings: settings,
		events:   make(chan models.PlaystateEvent, eventBuffer),
		done:     make(chan struct{}),
		batches:  make(map[string]*userBatch),
	}
}

// OnPlaystateEvent implements models.PlaystateSubscriber. Non-blocking; an
// overflowing queue drops the event, the next full sync re-derives the delta.
func (c *Coalescer) OnPlaystateEvent(ev models.PlaystateEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	default:
		log.Printf("[playstate] event queue full, dropping event for user %s", ev.UserID)
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
			c.ingest(ctx, ev)
			if timerC != nil && !timer.Stop() {
				<-timer.C
			}
			timer.Reset(debounceWindow)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			c.flushAll(ctx)
		case <-c.done:
			return
		}
	}
}

// ingest queues one event, flushing early when a queue hits the size
// threshold or an episode event switches shows.
func (c *Coalescer) ingest(ctx context.Context, ev models.PlaystateEvent) {
	user := c.syncUser(ev.UserID)
	if user == nil {
		return
	}
	if !c.eligible(ev.Item, user) {
		return
	}

	batch := c.batches[ev.UserID]
	if batch == nil {
		batch = &userBatch{}
		c.batches[ev.UserID] = batch
	}

	entry := queuedItem{item: ev.Item, at: ev.OccurredAt}

	switch ev.Item.Kind {
	case models.MediaKindMovie:
		if ev.Played {
			batch.seenMovies = append(batch.seenMovies, entry)
			if len(batch.seenMovies) >= flushThreshold {
				c.flushMovies(ctx, ev.UserID, &batch.seenMovies, true)
			}
		} else {
			batch.unseenMovies = append(batch.unseenMovies, entry)
			if len(batch.unseenMovies) >= flushThreshold {
				c.flushMovies(ctx, ev.UserID, &batch.unseenMovies, false)
			}
		}
	case models.MediaKindEpisode:
		key := seriesKey(ev.Item)
		if batch.currentSeriesID != "" && batch.currentSeriesID != key {
			c.flushEpisodes(ctx, ev.UserID, &batch.seenEpisodes, true)
			c.flushEpisodes(ctx, ev.UserID, &batch.unseenEpisodes, false)
		}
		batch.currentSeriesID = key
		if ev.Played {
			batch.seenEpisodes = append(batch.seenEpisodes, entry)
			if len(batch.seenEpisodes) >= flushThreshold {
				c.flushEpisodes(ctx, ev.UserID, &batch.seenEpisodes, true)
			}
		} else {
			batch.unseenEpisodes = append(batch.unseenEpisodes, entry)
			if len(batch.unseenEpisodes) >= flushThreshold {
				c.flushEpisodes(ctx, ev.UserID, &batch.unseenEpisodes, false)
			}
		}
	}
}

// flushAll drains every non-empty queue for every user.
func (c *Coalescer) flushAll(ctx context.Context) {
	for userID, batch := range c.batches {
		c.flushMovies(ctx, userID, &batch.seenMovies, true)
		c.flushMovies(ctx, userID, &batch.unseenMovies, false)
		c.flushEpisodes(ctx, userID, &batch.seenEpisodes, true)
		c.flushEpisodes(ctx, userID, &batch.unseenEpisodes, false)
		if batch.empty() {
			delete(c.batches, userID)
		}
	}
}

// flushMovies sends and clears one movie queue. A failed flush is logged and
// the batch discarded; delivery is at-most-once per coalescing window.
func (c *Coalescer) flushMovies(ctx context.Context, userID string, queue *[]queuedItem, seen bool) {
	if len(*queue) == 0 {
		return
	}
	items := trakt.SyncItems{}
	for _, entry := range *queue {
		movie := trakt.SyncMovieFromItem(entry.item)
		if seen {
			movie.WatchedAt = entry.at.UTC().Format(time.RFC3339)
		}
		items.Movies = append(items.Movies, movie)
	}
	count := len(*queue)
	*queue = nil

	if err := c.send(ctx, userID, items, seen); err != nil {
		log.Printf("[playstate] flush of %d movies (seen=%v) for user %s failed: %v", count, seen, userID, err)
	}
}

// flushEpisodes sends and clears one episode queue. All queued episodes
// belong to one show, so the payload is a single show node.
func (c *Coalescer) flushEpisodes(ctx context.Context, userID string, queue *[]queuedItem, seen bool) {
	if len(*queue) == 0 {
		return
	}
	episodes := make([]models.MediaItem, 0, len(*queue))
	watchedAt := make(map[string]string, len(*queue))
	for _, entry := range *queue {
		episodes = append(episodes, entry.item)
		watchedAt[entry.item.ID] = entry.at.UTC().Format(time.RFC3339)
	}
	count := len(*queue)
	*queue = nil

	shows := trakt.GroupEpisodesByShow(episodes, func(item models.MediaItem, ep *trakt.SyncEpisode) {
		if seen {
			ep.WatchedAt = watchedAt[item.ID]
		}
	})
	if err := c.send(ctx, userID, trakt.SyncItems{Shows: shows}, seen); err != nil {
		log.Printf("[playstate] flush of %d episodes (seen=%v) for user %s failed: %v", count, seen, userID, err)
	}
}

func (c *Coalescer) send(ctx context.Context, userID string, items trakt.SyncItems, seen bool) error {
	var err error
	if seen {
		_, err = c.remote.AddToHistory(ctx, userID, items)
	} else {
		_, err = c.remote.RemoveFromHistory(ctx, userID, items)
	}
	return err
}

func (c *Coalescer) syncUser(userID string) *config.SyncUser {
	settings, err := c.settings.Load()
	if err != nil {
		log.Printf("[playstate] load settings: %v", err)
		return nil
	}
	user := settings.Trakt.GetUserByID(userID)
	if user == nil || !user.IsAuthorized() || !user.ScrobblingEnabled {
		return nil
	}
	policy := *user
	return &policy
}

// eligible filters items that cannot be represented remotely. Eligibility
// can change between queuing and flushing, so failures drop silently.
func (c *Coalescer) eligible(item models.MediaItem, user *config.SyncUser) bool {
	if user.PathExcluded(item.Path) {
		return false
	}
	switch item.Kind {
	case models.MediaKindMovie:
		return item.HasAnyProviderID()
	case models.MediaKindEpisode:
		return item.HasAnyProviderID() || item.HasAnySeriesProviderID()
	default:
		return false
	}
}

func seriesKey(item models.MediaItem) string {
	if item.SeriesID != "" {
		return item.SeriesID
	}
	return item.SeriesName
}
