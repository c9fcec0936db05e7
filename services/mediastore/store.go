// Package mediastore persists the local media library and per-user played
// state in SQLite. It is the source the reconciler enumerates and the sink
// played-state imports write back to.
package mediastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"traktbridge/models"
)

var (
	ErrItemNotFound = errors.New("media item not found")
	ErrNameRequired = errors.New("name is required")
)

// Store manages media items and playstates on top of an open database handle.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-opened and migrated database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts or replaces one media item. A missing ID gets a generated one;
// the (possibly generated) ID is returned.
func (s *Store) Upsert(ctx context.Context, item models.MediaItem) (string, error) {
	if item.Name == "" {
		return "", ErrNameRequired
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	providerIDs, err := json.Marshal(orEmpty(item.ProviderIDs))
	if err != nil {
		return "", fmt.Errorf("encode provider ids: %w", err)
	}
	seriesProviderIDs, err := json.Marshal(orEmpty(item.SeriesProviderIDs))
	if err != nil {
		return "", fmt.Errorf("encode series provider ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO media_items (
			id, kind, name, year, path, provider_ids,
			series_id, series_name, series_provider_ids,
			season_number, episode_number, episode_number_end,
			video_codec, resolution, hdr, audio_codec, audio_channels, is_3d,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			year = excluded.year,
			path = excluded.path,
			provider_ids = excluded.provider_ids,
			series_id = excluded.series_id,
			series_name = excluded.series_name,
			series_provider_ids = excluded.series_provider_ids,
			season_number = excluded.season_number,
			episode_number = excluded.episode_number,
			episode_number_end = excluded.episode_number_end,
			video_codec = excluded.video_codec,
			resolution = excluded.resolution,
			hdr = excluded.hdr,
			audio_codec = excluded.audio_codec,
			audio_channels = excluded.audio_channels,
			is_3d = excluded.is_3d,
			updated_at = CURRENT_TIMESTAMP`,
		item.ID, string(item.Kind), item.Name, item.Year, item.Path, string(providerIDs),
		item.SeriesID, item.SeriesName, string(seriesProviderIDs),
		item.SeasonNumber, item.EpisodeNumber, item.EpisodeNumberEnd,
		item.Streams.VideoCodec, item.Streams.Resolution, item.Streams.HDR,
		item.Streams.AudioCodec, item.Streams.AudioChannels, item.Streams.Is3D,
	)
	if err != nil {
		return "", fmt.Errorf("upsert media item: %w", err)
	}
	return item.ID, nil
}

// Delete removes one media item. Playstates cascade.
func (s *Store) Delete(ctx context.Context, itemID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM media_items WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("delete media item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Get returns one item without playstate.
func (s *Store) Get(ctx context.Context, itemID string) (models.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, itemQuery+` WHERE i.id = ?`, itemID)
	if err != nil {
		return models.MediaItem{}, fmt.Errorf("query media item: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows, false)
	if err != nil {
		return models.MediaItem{}, err
	}
	if len(items) == 0 {
		return models.MediaItem{}, ErrItemNotFound
	}
	return items[0], nil
}

// MoviesForUser returns every movie with the given user's played state merged in.
func (s *Store) MoviesForUser(ctx context.Context, userID string) ([]models.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, userItemQuery+`
		WHERE i.kind = ?
		ORDER BY i.name, i.year`,
		userID, models.MediaKindMovie)
	if err != nil {
		return nil, fmt.Errorf("query movies: %w", err)
	}
	defer rows.Close()
	return scanItems(rows, true)
}

// EpisodesForUser returns every episode with the given user's played state
// merged in, ordered by series name then air order. This enumeration order is
// what keeps same-show episodes contiguous downstream.
func (s *Store) EpisodesForUser(ctx context.Context, userID string) ([]models.MediaItem, error) {
	rows, err := s.db.QueryContext(ctx, userItemQuery+`
		WHERE i.kind = ?
		ORDER BY i.series_name, i.season_number, i.episode_number`,
		userID, models.MediaKindEpisode)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}
	defer rows.Close()
	return scanItems(rows, true)
}

// SetPlayed writes one user's played state for an item. lastPlayedAt may be
// nil for unplayed writes; play count bumps only on an unplayed-to-played
// transition.
func (s *Store) SetPlayed(ctx context.Context, userID, itemID string, played bool, lastPlayedAt *time.Time) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM media_items WHERE id = ?)`, itemID).Scan(&exists); err != nil {
		return fmt.Errorf("check media item: %w", err)
	}
	if !exists {
		return ErrItemNotFound
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playstates (user_id, item_id, played, play_count, last_played_at, updated_at)
		VALUES (?, ?, ?, CASE WHEN ? THEN 1 ELSE 0 END, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id, item_id) DO UPDATE SET
			play_count = CASE WHEN excluded.played AND NOT playstates.played
				THEN playstates.play_count + 1 ELSE playstates.play_count END,
			played = excluded.played,
			last_played_at = COALESCE(excluded.last_played_at, playstates.last_played_at),
			updated_at = CURRENT_TIMESTAMP`,
		userID, itemID, played, played, lastPlayedAt)
	if err != nil {
		return fmt.Errorf("set played state: %w", err)
	}
	return nil
}

const itemQuery = `
	SELECT i.id, i.kind, i.name, i.year, i.path, i.provider_ids,
		i.series_id, i.series_name, i.series_provider_ids,
		i.season_number, i.episode_number, i.episode_number_end,
		i.video_codec, i.resolution, i.hdr, i.audio_codec, i.audio_channels, i.is_3d
	FROM media_items i`

const userItemQuery = `
	SELECT i.id, i.kind, i.name, i.year, i.path, i.provider_ids,
		i.series_id, i.series_name, i.series_provider_ids,
		i.season_number, i.episode_number, i.episode_number_end,
		i.video_codec, i.resolution, i.hdr, i.audio_codec, i.audio_channels, i.is_3d,
		COALESCE(p.played, 0), COALESCE(p.play_count, 0), p.last_played_at
	FROM media_items i
	LEFT JOIN playstates p ON p.item_id = i.id AND p.user_id = ?`

func scanItems(rows *sql.Rows, withPlaystate bool) ([]models.MediaItem, error) {
	var items []models.MediaItem
	for rows.Next() {
		var (
			item              models.MediaItem
			kind              string
			providerIDs       string
			seriesProviderIDs string
			lastPlayedAt      sql.NullTime
		)
		dest := []any{
			&item.ID, &kind, &item.Name, &item.Year, &item.Path, &providerIDs,
			&item.SeriesID, &item.SeriesName, &seriesProviderIDs,
			&item.SeasonNumber, &item.EpisodeNumber, &item.EpisodeNumberEnd,
			&item.Streams.VideoCodec, &item.Streams.Resolution, &item.Streams.HDR,
			&item.Streams.AudioCodec, &item.Streams.AudioChannels, &item.Streams.Is3D,
		}
		if withPlaystate {
			dest = append(dest, &item.Played, &item.PlayCount, &lastPlayedAt)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan media item: %w", err)
		}
		item.Kind = models.MediaKind(kind)
		if lastPlayedAt.Valid {
			t := lastPlayedAt.Time
			item.LastPlayedAt = &t
		}
		if err := json.Unmarshal([]byte(providerIDs), &item.ProviderIDs); err != nil {
			log.Printf("[mediastore] bad provider ids for item %s: %v", item.ID, err)
		}
		if err := json.Unmarshal([]byte(seriesProviderIDs), &item.SeriesProviderIDs); err != nil {
			log.Printf("[mediastore] bad series provider ids for item %s: %v", item.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media items: %w", err)
	}
	return items, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
