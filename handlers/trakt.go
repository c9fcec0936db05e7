package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"traktbridge/config"
	"traktbridge/services/trakt"
)

// TraktClient is the slice of the remote client the handler drives: device
// authorization, ratings, and recommendations.
type TraktClient interface {
	RequestDeviceCode(ctx context.Context) (*trakt.DeviceCode, error)
	PollForToken(ctx context.Context, deviceCode string) (*trakt.Token, error)
	StoreToken(userID string, token *trakt.Token) error
	AddRatings(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
	RemoveRatings(ctx context.Context, userID string, items trakt.SyncItems) (*trakt.SyncResponse, error)
	RecommendedMovies(ctx context.Context, userID string) ([]trakt.Movie, error)
	RecommendedShows(ctx context.Context, userID string) ([]trakt.Show, error)
}

// TraktHandler exposes the Trakt account surface: device authorization,
// deauthorization, ratings, and recommendations.
type TraktHandler struct {
	configManager *config.Manager
	client        TraktClient
}

// NewTraktHandler creates a new Trakt handler.
func NewTraktHandler(configManager *config.Manager, client TraktClient) *TraktHandler {
	return &TraktHandler{configManager: configManager, client: client}
}

// Authorize starts the device authorization flow for a local user.
// POST /api/trakt/users/{userID}/authorize
func (h *TraktHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	code, err := h.client.RequestDeviceCode(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "Failed to request device code: "+err.Error())
		return
	}

	// Make sure a sync record exists so the grant has somewhere to land.
	if err := h.ensureSyncUser(userID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to prepare sync user: "+err.Error())
		return
	}

	go h.pollForGrant(userID, code)

	writeJSON(w, map[string]any{
		"userCode":        code.UserCode,
		"verificationUrl": code.VerificationURL,
		"expiresIn":       code.ExpiresIn,
		"interval":        code.Interval,
	})
}

// pollForGrant polls the token endpoint at the code's interval until the user
// authorizes, the code expires, or the deadline passes.
func (h *TraktHandler) pollForGrant(userID string, code *trakt.DeviceCode) {
	interval := time.Duration(code.Interval) * time.Second
	if interval < time.Second {
		interval = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(code.ExpiresIn)*time.Second)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[trakt] device authorization for user %s timed out", userID)
			return
		case <-ticker.C:
			token, err := h.client.PollForToken(ctx, code.DeviceCode)
			if err != nil {
				if errors.Is(err, trakt.ErrDeviceCodeExpired) {
					log.Printf("[trakt] device code for user %s expired", userID)
					return
				}
				if errors.Is(err, trakt.ErrRateLimited) {
					continue
				}
				log.Printf("[trakt] token poll for user %s: %v", userID, err)
				return
			}
			if token == nil {
				continue
			}
			if err := h.client.StoreToken(userID, token); err != nil {
				log.Printf("[trakt] store token for user %s: %v", userID, err)
				return
			}
			log.Printf("[trakt] user %s authorized", userID)
			return
		}
	}
}

// Status reports whether the user currently holds an access token.
// GET /api/trakt/users/{userID}/status
func (h *TraktHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	settings, err := h.configManager.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings: "+err.Error())
		return
	}

	user := settings.Trakt.GetUserByID(userID)
	authorized := user != nil && user.IsAuthorized()
	resp := map[string]any{"authorized": authorized}
	if authorized {
		resp["username"] = user.Username
	}
	writeJSON(w, resp)
}

// Deauthorize clears the user's token state. The sync record and its policy
// flags stay in place for a later re-authorization.
// DELETE /api/trakt/users/{userID}
func (h *TraktHandler) Deauthorize(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	err := h.configManager.UpdateUser(userID, func(u *config.SyncUser) {
		u.AccessToken = ""
		u.RefreshToken = ""
		u.ExpiresAt = 0
	})
	if err != nil {
		writeError(w, http.StatusNotFound, "Sync user not found")
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

// rateRequest identifies one entity and the rating to apply. Rating 0 clears.
type rateRequest struct {
	MediaType         string            `json:"mediaType"` // movie, show, episode
	Title             string            `json:"title,omitempty"`
	Year              int               `json:"year,omitempty"`
	ProviderIDs       map[string]string `json:"providerIds,omitempty"`
	SeriesProviderIDs map[string]string `json:"seriesProviderIds,omitempty"`
	Season            int               `json:"season,omitempty"`
	Number            int               `json:"number,omitempty"`
	Rating            int               `json:"rating"`
}

// Rate submits or clears a rating for a movie, show, or episode.
// POST /api/trakt/users/{userID}/rate
func (h *TraktHandler) Rate(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req rateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Rating < 0 || req.Rating > 10 {
		writeError(w, http.StatusBadRequest, "Rating must be between 0 and 10")
		return
	}

	items := trakt.SyncItems{}
	switch req.MediaType {
	case "movie":
		items.Movies = []trakt.SyncMovie{{
			Title:  req.Title,
			Year:   req.Year,
			IDs:    trakt.IDsFromProviders(req.ProviderIDs),
			Rating: req.Rating,
		}}
	case "show":
		items.Shows = []trakt.SyncShow{{
			Title:  req.Title,
			Year:   req.Year,
			IDs:    trakt.IDsFromProviders(req.ProviderIDs),
			Rating: req.Rating,
		}}
	case "episode":
		items.Shows = []trakt.SyncShow{{
			IDs: trakt.IDsFromProviders(req.SeriesProviderIDs),
			Seasons: []trakt.SyncSeason{{
				Number:   req.Season,
				Episodes: []trakt.SyncEpisode{{Number: req.Number, Rating: req.Rating}},
			}},
		}}
	default:
		writeError(w, http.StatusBadRequest, "mediaType must be movie, show, or episode")
		return
	}

	var resp *trakt.SyncResponse
	var err error
	if req.Rating == 0 {
		resp, err = h.client.RemoveRatings(r.Context(), userID, items)
	} else {
		resp, err = h.client.AddRatings(r.Context(), userID, items)
	}
	if err != nil {
		writeError(w, remoteStatus(err), "Rating failed: "+err.Error())
		return
	}

	// Entities the remote cannot resolve come back in the not_found
	// envelope; that is an empty success for the caller, not an error.
	writeJSON(w, map[string]any{
		"success":  true,
		"notFound": resp.NotFound.Count(),
	})
}

// RecommendedMovies returns the user's personalized movie recommendations.
// GET /api/trakt/users/{userID}/recommendations/movies
func (h *TraktHandler) RecommendedMovies(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	movies, err := h.client.RecommendedMovies(r.Context(), userID)
	if err != nil {
		writeError(w, remoteStatus(err), "Failed to fetch recommendations: "+err.Error())
		return
	}
	writeJSON(w, map[string]any{"movies": movies})
}

// RecommendedShows returns the user's personalized show recommendations.
// GET /api/trakt/users/{userID}/recommendations/shows
func (h *TraktHandler) RecommendedShows(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	shows, err := h.client.RecommendedShows(r.Context(), userID)
	if err != nil {
		writeError(w, remoteStatus(err), "Failed to fetch recommendations: "+err.Error())
		return
	}
	writeJSON(w, map[string]any{"shows": shows})
}

func (h *TraktHandler) ensureSyncUser(userID string) error {
	settings, err := h.configManager.Load()
	if err != nil {
		return err
	}
	if settings.Trakt.GetUserByID(userID) != nil {
		return nil
	}
	settings.Trakt.UpdateUser(config.SyncUser{
		UserID:             userID,
		SyncCollections:    true,
		ScrobblingEnabled:  true,
		PostWatchedHistory: true,
	})
	return h.configManager.Save(settings)
}

// remoteStatus maps client error classes onto HTTP statuses.
func remoteStatus(err error) int {
	switch {
	case errors.Is(err, trakt.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, trakt.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trakt.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, trakt.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": message})
}
