package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/semaphore"

	"traktbridge/config"
)

const (
	apiBaseURL = "https://api.trakt.tv"
	apiVersion = "2"

	// Fixed 3-attempt policy with a flat delay. The API has generous rate
	// limits but occasional transient hiccups; exponential backoff buys
	// nothing here.
	retryAttempts = 3
	retryDelay    = 500 * time.Millisecond

	requestTimeout = 120 * time.Second
)

// SettingsStore provides access to Trakt credentials and per-user sync
// records. Satisfied by config.Manager.
type SettingsStore interface {
	Load() (config.Settings, error)
	UpdateUser(userID string, fn func(*config.SyncUser)) error
}

// Client handles all outbound HTTP to the Trakt API: request building,
// bearer tokens, token refresh, and the retry policy. A process-wide permit
// serializes every call so concurrent coalescers and sync jobs never burst
// against the remote rate limiter.
type Client struct {
	httpClient *http.Client
	baseURL    string
	settings   SettingsStore
	permit     *semaphore.Weighted
}

// NewClient creates a Trakt API client backed by the given settings store.
func NewClient(settings SettingsStore) *Client {
	return NewClientWithBaseURL(settings, apiBaseURL)
}

// NewClientWithBaseURL creates a client against an explicit base URL.
func NewClientWithBaseURL(settings SettingsStore, baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    baseURL,
		settings:   settings,
		permit:     semaphore.NewWeighted(1),
	}
}

// Get performs an authenticated GET when userID is non-empty, or an
// anonymous one otherwise, and returns the raw response body.
func (c *Client) Get(ctx context.Context, path string, userID string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, userID)
}

// Post performs a POST with a JSON body and returns the raw response body.
func (c *Client) Post(ctx context.Context, path string, body any, userID string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body, userID)
}

func (c *Client) do(ctx context.Context, method, path string, body any, userID string) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal body: %v", ErrInvalidArgument, err)
		}
		payload = data
	}

	settings, err := c.settings.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	clientID := settings.Trakt.ClientID

	if err := c.permit.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.permit.Release(1)

	token := ""
	if userID != "" {
		token, err = c.accessToken(ctx, settings, userID)
		if err != nil {
			return nil, err
		}
	}

	refreshed := false
	var out []byte
	err = retry.Do(
		func() error {
			data, err := c.once(ctx, method, path, payload, clientID, token)
			if err != nil {
				if errors.Is(err, ErrUnauthorized) && userID != "" && !refreshed {
					refreshed = true
					fresh, rerr := c.refreshUser(ctx, settings.Trakt, userID)
					if rerr != nil {
						return retry.Unrecoverable(err)
					}
					token = fresh
					return err
				}
				if !retryable(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			out = data
			return nil
		},
		retry.Attempts(retryAttempts),
		retry.Delay(retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return out, nil
}

// once performs a single HTTP attempt and classifies failures.
func (c *Client) once(ctx context.Context, method, path string, payload []byte, clientID, token string) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, clientID, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransient, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyStatus(resp.StatusCode)
	}
	return data, nil
}

// setHeaders adds the bearer token plus the two fixed API identity headers.
func (c *Client) setHeaders(req *http.Request, clientID, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", clientID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// accessToken returns a usable token for the user, refreshing and persisting
// it first when expired. Callers must hold the permit.
func (c *Client) accessToken(ctx context.Context, settings config.Settings, userID string) (string, error) {
	user := settings.Trakt.GetUserByID(userID)
	if user == nil || user.AccessToken == "" {
		return "", fmt.Errorf("%w: no token for user %s", ErrUnauthorized, userID)
	}
	if user.TokenExpired() && user.RefreshToken != "" {
		return c.refreshUser(ctx, settings.Trakt, userID)
	}
	return user.AccessToken, nil
}

// refreshUser exchanges the stored refresh token for a new token pair and
// persists it before returning. Callers must hold the permit.
func (c *Client) refreshUser(ctx context.Context, traktSettings config.TraktSettings, userID string) (string, error) {
	user := traktSettings.GetUserByID(userID)
	if user == nil || user.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token for user %s", ErrUnauthorized, userID)
	}

	payload, err := json.Marshal(map[string]string{
		"refresh_token": user.RefreshToken,
		"client_id":     traktSettings.ClientID,
		"client_secret": traktSettings.ClientSecret,
		"redirect_uri":  "urn:ietf:wg:oauth:2.0:oob",
		"grant_type":    "refresh_token",
	})
	if err != nil {
		return "", fmt.Errorf("marshal refresh request: %w", err)
	}

	data, err := c.once(ctx, http.MethodPost, "/oauth/token", payload, traktSettings.ClientID, "")
	if err != nil {
		return "", fmt.Errorf("token refresh: %w", err)
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return "", fmt.Errorf("%w: token refresh: %v", ErrMalformed, err)
	}

	if err := c.StoreToken(userID, &token); err != nil {
		return "", err
	}
	log.Printf("[trakt] refreshed access token for user %s", userID)
	return token.AccessToken, nil
}

// StoreToken persists a granted token pair onto the user's sync record.
func (c *Client) StoreToken(userID string, token *Token) error {
	return c.settings.UpdateUser(userID, func(u *config.SyncUser) {
		u.AccessToken = token.AccessToken
		u.RefreshToken = token.RefreshToken
		u.ExpiresAt = token.CreatedAt + int64(token.ExpiresIn)
	})
}

// RequestDeviceCode initiates the device authorization flow. The caller
// shows the user code and polls PollForToken at the returned interval.
func (c *Client) RequestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	settings, err := c.settings.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	payload, err := json.Marshal(map[string]string{"client_id": settings.Trakt.ClientID})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := c.permit.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.permit.Release(1)

	data, err := c.once(ctx, http.MethodPost, "/oauth/device/code", payload, settings.Trakt.ClientID, "")
	if err != nil {
		return nil, fmt.Errorf("device code: %w", err)
	}

	var code DeviceCode
	if err := json.Unmarshal(data, &code); err != nil {
		return nil, fmt.Errorf("%w: device code: %v", ErrMalformed, err)
	}
	return &code, nil
}

// PollForToken polls the token endpoint once for the given device code.
// Returns (nil, nil) while the user has not authorized yet, and
// ErrDeviceCodeExpired once the code's deadline passed.
func (c *Client) PollForToken(ctx context.Context, deviceCode string) (*Token, error) {
	settings, err := c.settings.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	payload, err := json.Marshal(map[string]string{
		"code":          deviceCode,
		"client_id":     settings.Trakt.ClientID,
		"client_secret": settings.Trakt.ClientSecret,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := c.permit.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.permit.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/device/token", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req, settings.Trakt.ClientID, "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var token Token
		if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
			return nil, fmt.Errorf("%w: token poll: %v", ErrMalformed, err)
		}
		return &token, nil
	case http.StatusBadRequest:
		// Still waiting for the user to enter the code.
		return nil, nil
	case http.StatusGone:
		return nil, ErrDeviceCodeExpired
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: device code already used", ErrInvalidArgument)
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: polling too fast", ErrRateLimited)
	default:
		return nil, classifyStatus(resp.StatusCode)
	}
}

// WatchedMovies fetches the user's full watched-movies snapshot.
func (c *Client) WatchedMovies(ctx context.Context, userID string) ([]WatchedMovie, error) {
	data, err := c.Get(ctx, "/sync/watched/movies", userID)
	if err != nil {
		return nil, err
	}
	var items []WatchedMovie
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: watched movies: %v", ErrMalformed, err)
	}
	return items, nil
}

// CollectedMovies fetches the user's full collected-movies snapshot.
func (c *Client) CollectedMovies(ctx context.Context, userID string) ([]CollectedMovie, error) {
	data, err := c.Get(ctx, "/sync/collection/movies?extended=metadata", userID)
	if err != nil {
		return nil, err
	}
	var items []CollectedMovie
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: collected movies: %v", ErrMalformed, err)
	}
	return items, nil
}

// WatchedShows fetches the user's full watched-shows snapshot.
func (c *Client) WatchedShows(ctx context.Context, userID string) ([]WatchedShow, error) {
	data, err := c.Get(ctx, "/sync/watched/shows", userID)
	if err != nil {
		return nil, err
	}
	var items []WatchedShow
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: watched shows: %v", ErrMalformed, err)
	}
	return items, nil
}

// CollectedShows fetches the user's full collected-shows snapshot.
func (c *Client) CollectedShows(ctx context.Context, userID string) ([]CollectedShow, error) {
	data, err := c.Get(ctx, "/sync/collection/shows?extended=metadata", userID)
	if err != nil {
		return nil, err
	}
	var items []CollectedShow
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: collected shows: %v", ErrMalformed, err)
	}
	return items, nil
}

// AddToCollection adds entities to the user's remote collection.
func (c *Client) AddToCollection(ctx context.Context, userID string, items SyncItems) (*SyncResponse, error) {
	return c.postSync(ctx, "/sync/collection", userID, items)
}

// RemoveFromCollection removes entities from the user's remote collection.
func (c *Client) RemoveFromCollection(ctx context.Context, userID string, items SyncItems) (*SyncResponse, error) {
	return c.postSync(ctx, "/sync/collection/remove", userID, items)
}

// AddToHistory adds entities to the user's remote watched history.
func (c *Client) AddToHistory(ctx context.Context, userID string, items SyncItems) (*SyncResponse, error) {
	return c.postSync(ctx, "/sync/history", userID, items)
}

// RemoveFromHistory removes entities from the user's remote watched history.
func (c *Client) RemoveFromHistory(ctx context.Context, userID string, items SyncItems) (*SyncResponse, error) {
	return c.postSync(ctx, "/sync/history/remove", userID, items)
}

// AddRatings submits ratings for entities.
func (c *Client) AddRatings(ctx context.Context, userID string, items SyncItems) (*SyncResponse, error) {
	return c.postSync(ctx, "/sync/ratings", userID, items)
}

// RemoveRatings clears ratings for entities.
func (c *Client) RemoveRatings(ctx context.Context, userID string, items SyncItems) (*SyncResponse, error) {
	return c.postSync(ctx, "/sync/ratings/remove", userID, items)
}

func (c *Client) postSync(ctx context.Context, path, userID string, items SyncItems) (*SyncResponse, error) {
	data, err := c.Post(ctx, path, items, userID)
	if err != nil {
		return nil, err
	}
	var resp SyncResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	if n := resp.NotFound.Count(); n > 0 {
		// Expected for entries the remote cannot resolve; partial success.
		log.Printf("[trakt] %s: %d entries not found for user %s", path, n, userID)
	}
	return &resp, nil
}

// ScrobbleStart reports the start of a playback session.
func (c *Client) ScrobbleStart(ctx context.Context, userID string, item ScrobbleItem) error {
	_, err := c.Post(ctx, "/scrobble/start", item, userID)
	return err
}

// ScrobbleStop closes a playback session. The remote records watched history
// itself when the reported progress crosses its completion threshold.
func (c *Client) ScrobbleStop(ctx context.Context, userID string, item ScrobbleItem) error {
	_, err := c.Post(ctx, "/scrobble/stop", item, userID)
	return err
}

// RecommendedMovies fetches personalized movie recommendations.
func (c *Client) RecommendedMovies(ctx context.Context, userID string) ([]Movie, error) {
	data, err := c.Get(ctx, "/recommendations/movies", userID)
	if err != nil {
		return nil, err
	}
	var items []Movie
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: recommended movies: %v", ErrMalformed, err)
	}
	return items, nil
}

// RecommendedShows fetches personalized show recommendations.
func (c *Client) RecommendedShows(ctx context.Context, userID string) ([]Show, error) {
	data, err := c.Get(ctx, "/recommendations/shows", userID)
	if err != nil {
		return nil, err
	}
	var items []Show
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: recommended shows: %v", ErrMalformed, err)
	}
	return items, nil
}
