package vconfig

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	want := Config{
		APIHost:    "https://api.example.com",
		DeviceName: "laptop-1",
		DeviceAuth: Auth{Name: "abc1234567890123", Password: "secretpass"},
		CachePath:  "/var/lib/vaultup/cache.db",
		Workers:    3,
		Filter: Filter{
			IncludedPaths: []string{"/home/user"},
			ExcludedPaths: []string{"/home/user/.cache"},
		},
		CDPDelay: 2 * time.Second,
		Roots:    []string{"/home/user", "/srv/data"},
	}

	require.NoError(t, Save(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadAppliesDefaultWorkers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, Save(path, Config{APIHost: "https://x"}))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, got.Workers)
}

func TestEnsureDefaultRefusesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, EnsureDefault(path))

	err := EnsureDefault(path)
	assert.Error(t, err)
}
