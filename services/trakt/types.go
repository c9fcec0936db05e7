package trakt

import (
	"strconv"
	"time"

	"traktbridge/models"
)

// IDs holds external identifiers for a media item.
type IDs struct {
	Trakt  int    `json:"trakt,omitempty"`
	Slug   string `json:"slug,omitempty"`
	IMDB   string `json:"imdb,omitempty"`
	TMDB   int    `json:"tmdb,omitempty"`
	TVDB   int    `json:"tvdb,omitempty"`
	TVRage int    `json:"tvrage,omitempty"`
}

// Movie represents a Trakt movie.
type Movie struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Show represents a Trakt TV show.
type Show struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Episode represents a Trakt episode.
type Episode struct {
	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	IDs    IDs    `json:"ids"`
}

// DeviceCode is the response from /oauth/device/code.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURL string `json:"verification_url"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// Token is the response from the OAuth token endpoints.
type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"created_at"`
}

// MediaMetadata carries the technical stream details attached to collection
// entries when media-info export is enabled.
type MediaMetadata struct {
	MediaType     string `json:"media_type,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
	HDR           string `json:"hdr,omitempty"`
	Audio         string `json:"audio,omitempty"`
	AudioChannels string `json:"audio_channels,omitempty"`
	Is3D          bool   `json:"3d,omitempty"`
}

// Equal compares metadata field by field.
func (m MediaMetadata) Equal(o MediaMetadata) bool {
	return m.MediaType == o.MediaType &&
		m.Resolution == o.Resolution &&
		m.HDR == o.HDR &&
		m.Audio == o.Audio &&
		m.AudioChannels == o.AudioChannels &&
		m.Is3D == o.Is3D
}

// SyncMovie is a movie entry in a /sync request.
type SyncMovie struct {
	Title       string         `json:"title,omitempty"`
	Year        int            `json:"year,omitempty"`
	IDs         IDs            `json:"ids"`
	WatchedAt   string         `json:"watched_at,omitempty"`   // RFC 3339
	CollectedAt string         `json:"collected_at,omitempty"` // RFC 3339
	Rating      int            `json:"rating,omitempty"`
	Metadata    *MediaMetadata `json:"metadata,omitempty"`
}

// SyncShow is a show node in a /sync request. Episodes nest under seasons;
// the wire format requires all episodes in one node to belong to this show.
type SyncShow struct {
	Title   string       `json:"title,omitempty"`
	Year    int          `json:"year,omitempty"`
	IDs     IDs          `json:"ids"`
	Rating  int          `json:"rating,omitempty"`
	Seasons []SyncSeason `json:"seasons,omitempty"`
}

// SyncSeason groups episodes of one season inside a show node.
type SyncSeason struct {
	Number   int           `json:"number"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// SyncEpisode is an episode entry inside a season node.
type SyncEpisode struct {
	Number      int            `json:"number"`
	WatchedAt   string         `json:"watched_at,omitempty"`
	CollectedAt string         `json:"collected_at,omitempty"`
	Rating      int            `json:"rating,omitempty"`
	Metadata    *MediaMetadata `json:"metadata,omitempty"`
}

// SyncItems is the request body shared by the bulk /sync endpoints.
type SyncItems struct {
	Movies   []SyncMovie   `json:"movies,omitempty"`
	Shows    []SyncShow    `json:"shows,omitempty"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// Empty reports whether the request carries no entities at all.
func (s SyncItems) Empty() bool {
	return len(s.Movies) == 0 && len(s.Shows) == 0 && len(s.Episodes) == 0
}

// EntityCounts reports per-entity-kind counts in a sync response envelope.
type EntityCounts struct {
	Movies   int `json:"movies"`
	Shows    int `json:"shows"`
	Seasons  int `json:"seasons"`
	Episodes int `json:"episodes"`
}

// NotFoundItems lists request entries the remote could not resolve. These
// are expected for unmatched items and logged, never treated as errors.
type NotFoundItems struct {
	Movies   []SyncMovie   `json:"movies,omitempty"`
	Shows    []SyncShow    `json:"shows,omitempty"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// Count returns the total number of unresolved entries.
func (n NotFoundItems) Count() int {
	return len(n.Movies) + len(n.Shows) + len(n.Episodes)
}

// SyncResponse is the envelope returned by the bulk /sync endpoints.
type SyncResponse struct {
	Added    EntityCounts  `json:"added"`
	Deleted  EntityCounts  `json:"deleted"`
	Existing EntityCounts  `json:"existing"`
	NotFound NotFoundItems `json:"not_found"`
}

// WatchedMovie is one entry of the watched-movies snapshot.
type WatchedMovie struct {
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
	Movie         Movie     `json:"movie"`
}

// CollectedMovie is one entry of the collected-movies snapshot.
type CollectedMovie struct {
	CollectedAt time.Time      `json:"collected_at"`
	Movie       Movie          `json:"movie"`
	Metadata    *MediaMetadata `json:"metadata,omitempty"`
}

// WatchedShow is one entry of the watched-shows snapshot.
type WatchedShow struct {
	Plays   int             `json:"plays"`
	Show    Show            `json:"show"`
	Seasons []WatchedSeason `json:"seasons,omitempty"`
}

// WatchedSeason nests watched episodes under their season number.
type WatchedSeason struct {
	Number   int              `json:"number"`
	Episodes []WatchedEpisode `json:"episodes,omitempty"`
}

// WatchedEpisode records plays for one episode number.
type WatchedEpisode struct {
	Number        int       `json:"number"`
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
}

// CollectedShow is one entry of the collected-shows snapshot.
type CollectedShow struct {
	Show    Show              `json:"show"`
	Seasons []CollectedSeason `json:"seasons,omitempty"`
}

// CollectedSeason nests collected episodes under their season number.
type CollectedSeason struct {
	Number   int                `json:"number"`
	Episodes []CollectedEpisode `json:"episodes,omitempty"`
}

// CollectedEpisode records collection state for one episode number.
type CollectedEpisode struct {
	Number      int            `json:"number"`
	CollectedAt time.Time      `json:"collected_at"`
	Metadata    *MediaMetadata `json:"metadata,omitempty"`
}

// IDsFromProviders converts a local provider-id map into Trakt sync IDs.
// Non-numeric values for numeric catalogs are dropped.
func IDsFromProviders(providers map[string]string) IDs {
	ids := IDs{IMDB: providers[models.ProviderIMDB]}
	if n, err := strconv.Atoi(providers[models.ProviderTMDB]); err == nil {
		ids.TMDB = n
	}
	if n, err := strconv.Atoi(providers[models.ProviderTVDB]); err == nil {
		ids.TVDB = n
	}
	if n, err := strconv.Atoi(providers[models.ProviderTVRage]); err == nil {
		ids.TVRage = n
	}
	return ids
}

// SyncMovieFromItem builds a sync entry for a local movie.
func SyncMovieFromItem(item models.MediaItem) SyncMovie {
	return SyncMovie{
		Title: item.Name,
		Year:  item.Year,
		IDs:   IDsFromProviders(item.ProviderIDs),
	}
}

// MetadataFromStreams converts local stream details to collection metadata.
// Returns nil when nothing usable is present.
func MetadataFromStreams(s models.StreamInfo) *MediaMetadata {
	if s == (models.StreamInfo{}) {
		return nil
	}
	hdr := ""
	if s.HDR {
		hdr = "hdr10"
	}
	return &MediaMetadata{
		MediaType:     "digital",
		Resolution:    s.Resolution,
		HDR:           hdr,
		Audio:         s.AudioCodec,
		AudioChannels: s.AudioChannels,
		Is3D:          s.Is3D,
	}
}

// ScrobbleItem is the request body for the /scrobble endpoints. Exactly one
// of Movie or Show+Episode is set.
type ScrobbleItem struct {
	Movie    *SyncMovie `json:"movie,omitempty"`
	Show     *SyncShow  `json:"show,omitempty"`
	Episode  *Episode   `json:"episode,omitempty"`
	Progress float64    `json:"progress"`
}

// ScrobbleItemFromItem builds a scrobble payload for a local movie or episode.
func ScrobbleItemFromItem(item models.MediaItem, progress float64) ScrobbleItem {
	s := ScrobbleItem{Progress: progress}
	if item.Kind == models.MediaKindEpisode {
		s.Show = &SyncShow{
			Title: item.SeriesName,
			IDs:   IDsFromProviders(item.SeriesProviderIDs),
		}
		s.Episode = &Episode{
			Season: item.SeasonNumber,
			Number: item.EpisodeNumber,
			IDs:    IDsFromProviders(item.ProviderIDs),
		}
		return s
	}
	m := SyncMovieFromItem(item)
	s.Movie = &m
	return s
}

// GroupEpisodesByShow builds show nodes from episode items in arrival order,
// one node per contiguous run of same-show episodes. Episodes of two shows
// are never merged into one node; interleaved arrivals yield multiple nodes
// for the same show. decorate, when non-nil, fills per-episode fields such
// as watched_at or metadata.
func GroupEpisodesByShow(episodes []models.MediaItem, decorate func(item models.MediaItem, ep *SyncEpisode)) []SyncShow {
	var shows []SyncShow
	var current *SyncShow
	currentSeries := ""

	for _, item := range episodes {
		if item.Kind != models.MediaKindEpisode {
			continue
		}
		seriesKey := item.SeriesID
		if seriesKey == "" {
			seriesKey = item.SeriesName
		}
		if current == nil || seriesKey != currentSeries {
			shows = append(shows, SyncShow{
				Title: item.SeriesName,
				IDs:   IDsFromProviders(item.SeriesProviderIDs),
			})
			current = &shows[len(shows)-1]
			currentSeries = seriesKey
		}

		season := findOrAddSeason(current, item.SeasonNumber)
		for _, number := range item.EpisodeNumbers() {
			ep := SyncEpisode{Number: number}
			if decorate != nil {
				decorate(item, &ep)
			}
			season.Episodes = append(season.Episodes, ep)
		}
	}

	return shows
}

func findOrAddSeason(show *SyncShow, number int) *SyncSeason {
	for i := range show.Seasons {
		if show.Seasons[i].Number == number {
			return &show.Seasons[i]
		}
	}
	show.Seasons = append(show.Seasons, SyncSeason{Number: number})
	return &show.Seasons[len(show.Seasons)-1]
}

// EpisodeCount returns the number of episode entries across a show node.
func (s SyncShow) EpisodeCount() int {
	total := 0
	for _, season := range s.Seasons {
		total += len(season.Episodes)
	}
	return total
}
