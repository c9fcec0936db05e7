package models

import (
	"strconv"
	"strings"
	"time"
)

// MediaKind identifies the kind of library entity an item represents.
type MediaKind string

const (
	MediaKindMovie   MediaKind = "movie"
	MediaKindSeries  MediaKind = "series"
	MediaKindEpisode MediaKind = "episode"
)

// Provider names for external identifier catalogs.
const (
	ProviderIMDB   = "imdb"
	ProviderTMDB   = "tmdb"
	ProviderTVDB   = "tvdb"
	ProviderTVRage = "tvrage"
)

// StreamInfo captures the technical metadata of an item's primary streams,
// used when exporting media info to the remote collection.
type StreamInfo struct {
	VideoCodec    string `json:"videoCodec,omitempty"`
	Resolution    string `json:"resolution,omitempty"` // e.g. "1080p", "2160p"
	HDR           bool   `json:"hdr,omitempty"`
	AudioCodec    string `json:"audioCodec,omitempty"`
	AudioChannels string `json:"audioChannels,omitempty"` // e.g. "5.1", "7.1"
	Is3D          bool   `json:"is3d,omitempty"`
}

// MediaItem is a read-only reference to a movie, series, or episode in the
// local library. The library owns the item; sync components only read it,
// except for played-state writes that go back through the store.
type MediaItem struct {
	ID          string            `json:"id"`
	Kind        MediaKind         `json:"kind"`
	Name        string            `json:"name"`
	Year        int               `json:"year,omitempty"`
	Path        string            `json:"path,omitempty"`
	ProviderIDs map[string]string `json:"providerIds,omitempty"`

	// Playback state as known to the local library.
	Played       bool       `json:"played"`
	PlayCount    int        `json:"playCount,omitempty"`
	LastPlayedAt *time.Time `json:"lastPlayedAt,omitempty"`

	// Hierarchical position, meaningful for episodes only.
	SeriesID          string            `json:"seriesId,omitempty"`
	SeriesName        string            `json:"seriesName,omitempty"`
	SeriesProviderIDs map[string]string `json:"seriesProviderIds,omitempty"`
	SeasonNumber      int               `json:"seasonNumber,omitempty"`
	EpisodeNumber     int               `json:"episodeNumber,omitempty"`
	// EpisodeNumberEnd is set past EpisodeNumber for multi-episode files.
	EpisodeNumberEnd int `json:"episodeNumberEnd,omitempty"`

	Streams StreamInfo `json:"streams,omitempty"`
}

// ProviderID returns the item's identifier for the given provider, or "" when absent.
func (m MediaItem) ProviderID(provider string) string {
	return m.ProviderIDs[provider]
}

// ProviderIDInt returns the item's identifier for the given provider parsed
// as an integer. Returns 0 when absent or non-numeric.
func (m MediaItem) ProviderIDInt(provider string) int {
	raw := strings.TrimSpace(m.ProviderIDs[provider])
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// HasAnyProviderID reports whether the item carries at least one non-empty
// external identifier, the minimum requirement for syncing it anywhere.
func (m MediaItem) HasAnyProviderID() bool {
	for _, v := range m.ProviderIDs {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// HasAnySeriesProviderID reports whether the item's owning series carries at
// least one non-empty external identifier.
func (m MediaItem) HasAnySeriesProviderID() bool {
	for _, v := range m.SeriesProviderIDs {
		if strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

// EpisodeNumbers returns the inclusive range of episode numbers this item
// covers. Single-episode files return a one-element slice.
func (m MediaItem) EpisodeNumbers() []int {
	if m.Kind != MediaKindEpisode {
		return nil
	}
	end := m.EpisodeNumberEnd
	if end < m.EpisodeNumber {
		end = m.EpisodeNumber
	}
	nums := make([]int, 0, end-m.EpisodeNumber+1)
	for n := m.EpisodeNumber; n <= end; n++ {
		nums = append(nums, n)
	}
	return nums
}
