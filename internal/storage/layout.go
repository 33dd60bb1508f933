// Package storage describes where cached tracks, album art and offline
// playlists live on disk.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/offtrack/offtrack-core/internal/catalog"
)

const (
	partialInfix  = ".partial."
	completeInfix = ".complete."

	// AlbumArtMarker is the per-album cover file written next to the tracks
	AlbumArtMarker = "cover.jpg"
)

// Layout is the on-disk arrangement of the cache
type Layout struct {
	Root         string
	ArtworkDir   string
	PlaylistsDir string
}

// NewLayout places artwork and playlists next to the music root so the
// cleaner never walks them
func NewLayout(root string) Layout {
	root = filepath.Clean(root)
	parent := filepath.Dir(root)
	return Layout{
		Root:         root,
		ArtworkDir:   filepath.Join(parent, "artwork"),
		PlaylistsDir: filepath.Join(parent, "playlists"),
	}
}

// SongFiles are the three names a cached track can have
type SongFiles struct {
	// Save is the pinned location
	Save     string
	Complete string
	Partial  string
}

// SongFiles returns the paths used for song
func (l Layout) SongFiles(song catalog.Song) SongFiles {
	save := filepath.Join(l.Root, songRelPath(song))
	return SongFiles{
		Save:     save,
		Complete: withInfix(save, completeInfix),
		Partial:  withInfix(save, partialInfix),
	}
}

// AlbumDir returns the directory holding song
func (l Layout) AlbumDir(song catalog.Song) string {
	return filepath.Dir(l.SongFiles(song).Save)
}

// AlbumArtMarkerPath returns the cover file for an album directory
func AlbumArtMarkerPath(dir string) string {
	return filepath.Join(dir, AlbumArtMarker)
}

// IsPartial reports whether name is an in-progress download
func IsPartial(name string) bool {
	return strings.Contains(filepath.Base(name), partialInfix)
}

// IsComplete reports whether name is a finished, unpinned download
func IsComplete(name string) bool {
	return strings.Contains(filepath.Base(name), completeInfix)
}

// IsCacheArtifact reports whether the cleaner may consider name
func IsCacheArtifact(name string) bool {
	return IsPartial(name) || IsComplete(name)
}

// withInfix turns dir/name.ext into dir/name<infix>ext
func withInfix(path, infix string) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return base + infix + strings.TrimPrefix(ext, ".")
}

func songRelPath(song catalog.Song) string {
	suffix := song.StreamSuffix()

	if song.Path != "" {
		parts := strings.Split(filepath.ToSlash(song.Path), "/")
		for i, p := range parts {
			parts[i] = sanitize(p)
		}
		last := len(parts) - 1
		parts[last] = strings.TrimSuffix(parts[last], filepath.Ext(parts[last])) + "." + suffix
		return filepath.Join(parts...)
	}

	artist := sanitize(song.Artist)
	album := sanitize(song.Album)
	name := sanitize(song.Title)
	if name == unknown {
		name = sanitize(song.ID)
	}
	if song.Track > 0 {
		name = fmt.Sprintf("%02d - %s", song.Track, name)
	}
	return filepath.Join(artist, album, name+"."+suffix)
}

const unknown = "Unknown"

var fileNameReplacer = strings.NewReplacer(
	"/", "-", "\\", "-", ":", "-", "*", "-", "?", "-",
	"\"", "'", "<", "-", ">", "-", "|", "-",
)

func sanitize(s string) string {
	s = fileNameReplacer.Replace(s)
	s = strings.Trim(s, " .")
	if s == "" {
		return unknown
	}
	return s
}
