package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server   ServerSettings   `json:"server"`
	Database DatabaseSettings `json:"database"`
	Trakt    TraktSettings    `json:"trakt"`
	Sync     SyncSettings     `json:"sync"`
	Log      LogConfig        `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DatabaseSettings defines the local library store location.
type DatabaseSettings struct {
	Path string `json:"path"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// SyncSettings tunes the background reconciliation tasks.
type SyncSettings struct {
	CheckIntervalSeconds int             `json:"checkIntervalSeconds"`
	Tasks                []ScheduledTask `json:"tasks,omitempty"`
}

// ScheduledTaskFrequency enumerates supported task intervals.
type ScheduledTaskFrequency string

const (
	ScheduledTaskFrequencyHourly  ScheduledTaskFrequency = "hourly"
	ScheduledTaskFrequency6Hours  ScheduledTaskFrequency = "6h"
	ScheduledTaskFrequency12Hours ScheduledTaskFrequency = "12h"
	ScheduledTaskFrequencyDaily   ScheduledTaskFrequency = "daily"
)

// ScheduledTaskStatus enumerates task run outcomes.
type ScheduledTaskStatus string

const (
	ScheduledTaskStatusSuccess ScheduledTaskStatus = "success"
	ScheduledTaskStatusError   ScheduledTaskStatus = "error"
	ScheduledTaskStatusRunning ScheduledTaskStatus = "running"
)

// ScheduledTaskType enumerates supported task types.
type ScheduledTaskType string

const (
	// ScheduledTaskTypeFullSync reconciles the whole library against Trakt
	// for every authorized user.
	ScheduledTaskTypeFullSync ScheduledTaskType = "trakt-full-sync"
)

// ScheduledTask describes one recurring background job.
type ScheduledTask struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Type       ScheduledTaskType      `json:"type"`
	Frequency  ScheduledTaskFrequency `json:"frequency"`
	Enabled    bool                   `json:"enabled"`
	LastRunAt  *time.Time             `json:"lastRunAt,omitempty"`
	LastStatus ScheduledTaskStatus    `json:"lastStatus,omitempty"`
	LastError  string                 `json:"lastError,omitempty"`
}

// SyncUser represents one authorized Trakt identity bound to a local user.
// Tokens are refreshed in place; policy flags steer what gets synced.
type SyncUser struct {
	UserID       string `json:"userId"` // local library user id
	Username     string `json:"username,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresAt    int64  `json:"expiresAt,omitempty"` // unix seconds

	ExportMediaInfo     bool     `json:"exportMediaInfo"`
	SyncCollections     bool     `json:"syncCollections"`
	ScrobblingEnabled   bool     `json:"scrobblingEnabled"`
	PostWatchedHistory  bool     `json:"postWatchedHistory"`
	SkipUnwatchedImport bool     `json:"skipUnwatchedImport"`
	ExcludedPaths       []string `json:"excludedPaths,omitempty"`
}

// IsAuthorized reports whether the user holds an access token.
func (u SyncUser) IsAuthorized() bool {
	return u.AccessToken != ""
}

// TokenExpired reports whether the access token is past (or within an hour
// of) its expiry.
func (u SyncUser) TokenExpired() bool {
	if u.ExpiresAt == 0 {
		return false
	}
	return u.ExpiresAt-time.Now().Unix() < 3600
}

// PathExcluded reports whether the given library path falls under one of the
// user's excluded location prefixes.
func (u SyncUser) PathExcluded(path string) bool {
	for _, prefix := range u.ExcludedPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// TraktSettings defines the Trakt integration configuration.
type TraktSettings struct {
	ClientID     string     `json:"clientId"`
	ClientSecret string     `json:"clientSecret"`
	Users        []SyncUser `json:"users,omitempty"`
}

// GetUserByID returns a sync user by local user id, or nil if not found.
func (t *TraktSettings) GetUserByID(userID string) *SyncUser {
	for i := range t.Users {
		if t.Users[i].UserID == userID {
			return &t.Users[i]
		}
	}
	return nil
}

// UpdateUser updates an existing sync user or adds it if not found.
func (t *TraktSettings) UpdateUser(user SyncUser) {
	for i := range t.Users {
		if t.Users[i].UserID == user.UserID {
			t.Users[i] = user
			return
		}
	}
	t.Users = append(t.Users, user)
}

// RemoveUser removes a sync user by local user id.
func (t *TraktSettings) RemoveUser(userID string) bool {
	for i := range t.Users {
		if t.Users[i].UserID == userID {
			t.Users = append(t.Users[:i], t.Users[i+1:]...)
			return true
		}
	}
	return false
}

// DefaultSettings returns the settings written on first start.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Host: "0.0.0.0", Port: 8674},
		Database: DatabaseSettings{Path: filepath.Join("cache", "library.db")},
		Sync: SyncSettings{
			CheckIntervalSeconds: 60,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    20,
			MaxAge:     14,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// Manager loads and saves the settings file. Reads and writes go through an
// afero filesystem so tests can run against an in-memory fs.
type Manager struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
}

// NewManager creates a settings manager for the given path on the OS filesystem.
func NewManager(configPath string) *Manager {
	return NewManagerWithFs(afero.NewOsFs(), configPath)
}

// NewManagerWithFs creates a settings manager over an explicit filesystem.
func NewManagerWithFs(fsys afero.Fs, configPath string) *Manager {
	return &Manager{fs: fsys, path: configPath}
}

// EnsureDir ensures the parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return m.fs.MkdirAll(dir, 0o755)
}

// Load reads the settings file or creates it with defaults if missing.
func (m *Manager) Load() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

func (m *Manager) load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := m.fs.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	f, err := m.fs.Open(m.path)
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save writes settings atomically via a temp file rename.
func (m *Manager) Save(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save(s)
}

func (m *Manager) save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := m.fs.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		f.Close()
		_ = m.fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = m.fs.Remove(tmp)
		return err
	}
	return m.fs.Rename(tmp, m.path)
}

// UpdateUser applies fn to the stored sync user record and persists the
// result. Used by the remote client to write back refreshed tokens.
func (m *Manager) UpdateUser(userID string, fn func(*SyncUser)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings, err := m.load()
	if err != nil {
		return err
	}
	user := settings.Trakt.GetUserByID(userID)
	if user == nil {
		return errors.New("sync user not found: " + userID)
	}
	fn(user)
	return m.save(settings)
}
