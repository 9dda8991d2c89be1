package sync

import (
	"fmt"
	"sort"

	"github.com/icloudsync/iphoto-downloader/internal/config"
	"github.com/icloudsync/iphoto-downloader/internal/icloud"
)

// FilterAlbums selects the albums a cycle will process, honoring the
// per-kind enable flags and optional allowlists. An allowlisted name that
// does not exist remotely is fatal: silently skipping it would look like a
// successful sync that quietly covered less than the user asked for.
func FilterAlbums(cfg *config.Config, albums []icloud.Album) ([]icloud.Album, error) {
	personalWanted := allowSet(cfg.PersonalAlbumNames)
	sharedWanted := allowSet(cfg.SharedAlbumNames)

	var selected []icloud.Album

	for _, album := range albums {
		switch album.Kind {
		case icloud.KindPersonal:
			if !cfg.IncludePersonalAlbums {
				continue
			}

			if personalWanted != nil {
				if _, ok := personalWanted[album.Name]; !ok {
					continue
				}

				delete(personalWanted, album.Name)
			}
		case icloud.KindShared:
			if !cfg.IncludeSharedAlbums {
				continue
			}

			if sharedWanted != nil {
				if _, ok := sharedWanted[album.Name]; !ok {
					continue
				}

				delete(sharedWanted, album.Name)
			}
		}

		selected = append(selected, album)
	}

	if cfg.IncludePersonalAlbums {
		for _, name := range cfg.PersonalAlbumNames {
			if _, missing := personalWanted[name]; missing {
				return nil, fmt.Errorf("%w: personal album %q", ErrConfiguredAlbumMissing, name)
			}
		}
	}

	if cfg.IncludeSharedAlbums {
		for _, name := range cfg.SharedAlbumNames {
			if _, missing := sharedWanted[name]; missing {
				return nil, fmt.Errorf("%w: shared album %q", ErrConfiguredAlbumMissing, name)
			}
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].Kind != selected[j].Kind {
			return selected[i].Kind < selected[j].Kind
		}

		return selected[i].Name < selected[j].Name
	})

	return selected, nil
}

// allowSet returns nil for an empty allowlist, meaning "all albums".
func allowSet(names []string) map[string]struct{} {
	if len(names) == 0 {
		return nil
	}

	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	return set
}
