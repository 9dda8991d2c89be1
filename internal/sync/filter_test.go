package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/icloud"
)

func testAlbums() []icloud.Album {
	return []icloud.Album{
		{Name: "Family", Kind: icloud.KindPersonal},
		{Name: "Vacation", Kind: icloud.KindPersonal},
		{Name: "Trips", Kind: icloud.KindShared},
		{Name: "Friends", Kind: icloud.KindShared},
	}
}

func filterConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.SyncDirectory = "/tmp/photos"

	return cfg
}

func TestFilterAlbums_AllEnabled(t *testing.T) {
	selected, err := FilterAlbums(filterConfig(), testAlbums())
	require.NoError(t, err)
	assert.Len(t, selected, 4)

	// Personal first, then shared, names ascending.
	assert.Equal(t, "Family", selected[0].Name)
	assert.Equal(t, "Vacation", selected[1].Name)
	assert.Equal(t, "Friends", selected[2].Name)
	assert.Equal(t, "Trips", selected[3].Name)
}

func TestFilterAlbums_KindDisabled(t *testing.T) {
	cfg := filterConfig()
	cfg.IncludeSharedAlbums = false

	selected, err := FilterAlbums(cfg, testAlbums())
	require.NoError(t, err)
	require.Len(t, selected, 2)

	for _, a := range selected {
		assert.Equal(t, icloud.KindPersonal, a.Kind)
	}
}

func TestFilterAlbums_Allowlist(t *testing.T) {
	cfg := filterConfig()
	cfg.PersonalAlbumNames = []string{"Family"}
	cfg.SharedAlbumNames = []string{"Trips"}

	selected, err := FilterAlbums(cfg, testAlbums())
	require.NoError(t, err)
	require.Len(t, selected, 2)

	assert.Equal(t, "Family", selected[0].Name)
	assert.Equal(t, "Trips", selected[1].Name)
}

func TestFilterAlbums_MissingConfiguredAlbumIsFatal(t *testing.T) {
	cfg := filterConfig()
	cfg.PersonalAlbumNames = []string{"Family", "Nonexistent"}

	_, err := FilterAlbums(cfg, testAlbums())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguredAlbumMissing)
	assert.Contains(t, err.Error(), "Nonexistent")
}

func TestFilterAlbums_MissingSharedAlbum(t *testing.T) {
	cfg := filterConfig()
	cfg.SharedAlbumNames = []string{"Gone"}

	_, err := FilterAlbums(cfg, testAlbums())
	assert.ErrorIs(t, err, ErrConfiguredAlbumMissing)
}

func TestFilterAlbums_AllowlistIsExactMatch(t *testing.T) {
	cfg := filterConfig()
	cfg.PersonalAlbumNames = []string{"family"} // case differs

	_, err := FilterAlbums(cfg, testAlbums())
	assert.ErrorIs(t, err, ErrConfiguredAlbumMissing)
}
