package config

import (
	"testing"

	"github.com/spf13/afero"
)

func TestLoadCreatesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManagerWithFs(fs, "cache/settings.json")

	settings, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if settings.Server.Port != 8674 {
		t.Errorf("default port = %d, want 8674", settings.Server.Port)
	}

	exists, err := afero.Exists(fs, "cache/settings.json")
	if err != nil || !exists {
		t.Errorf("settings file not created on first load (exists=%v, err=%v)", exists, err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	m := NewManagerWithFs(afero.NewMemMapFs(), "settings.json")

	settings := DefaultSettings()
	settings.Trakt.ClientID = "cid"
	settings.Trakt.UpdateUser(SyncUser{
		UserID:             "user-1",
		AccessToken:        "token",
		PostWatchedHistory: true,
		ExcludedPaths:      []string{"/media/kids"},
	})
	if err := m.Save(settings); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	user := loaded.Trakt.GetUserByID("user-1")
	if user == nil {
		t.Fatal("saved user not found after reload")
	}
	if !user.PostWatchedHistory || user.AccessToken != "token" {
		t.Errorf("user round trip mismatch: %+v", user)
	}
}

func TestUpdateUserPersistsTokens(t *testing.T) {
	m := NewManagerWithFs(afero.NewMemMapFs(), "settings.json")

	settings := DefaultSettings()
	settings.Trakt.UpdateUser(SyncUser{UserID: "user-1"})
	if err := m.Save(settings); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	err := m.UpdateUser("user-1", func(u *SyncUser) {
		u.AccessToken = "fresh"
		u.RefreshToken = "refresh"
	})
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	loaded, _ := m.Load()
	user := loaded.Trakt.GetUserByID("user-1")
	if user == nil || user.AccessToken != "fresh" {
		t.Errorf("token update not persisted: %+v", user)
	}
}

func TestUpdateUserUnknownUser(t *testing.T) {
	m := NewManagerWithFs(afero.NewMemMapFs(), "settings.json")
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := m.UpdateUser("missing", func(u *SyncUser) {}); err == nil {
		t.Error("UpdateUser() on unknown user expected error, got nil")
	}
}

func TestPathExcluded(t *testing.T) {
	u := SyncUser{ExcludedPaths: []string{"/media/kids", "/media/private"}}

	if !u.PathExcluded("/media/kids/show/ep1.mkv") {
		t.Error("path under excluded prefix should be excluded")
	}
	if u.PathExcluded("/media/movies/film.mkv") {
		t.Error("path outside excluded prefixes should not be excluded")
	}
}
