package sync

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// fallbackAlbumDir is used when sanitization strips an album name down to
// nothing.
const fallbackAlbumDir = "Unknown_Album"

// NormalizeFilename maps a remote filename to the form used for tracker
// keys and on-disk names: Unicode NFC, path separators and NUL replaced
// with underscores, trailing dots and spaces trimmed. Deterministic, so
// the same remote name always lands on the same local path.
func NormalizeFilename(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}

		return r
	}, name)

	return strings.TrimRight(name, ". ")
}

// SanitizeAlbumName maps an album name to a directory name. Same rules as
// NormalizeFilename, plus characters Windows rejects in directory names,
// with a fixed fallback when nothing survives.
func SanitizeAlbumName(name string) string {
	name = norm.NFC.String(name)
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}

		if r < 0x20 {
			return '_'
		}

		return r
	}, name)

	name = strings.TrimRight(name, ". ")
	name = strings.TrimSpace(name)

	if name == "" || strings.Trim(name, "_") == "" {
		return fallbackAlbumDir
	}

	return name
}
