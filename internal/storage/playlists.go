package storage

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/offtrack/offtrack-core/internal/catalog"
	apperrors "github.com/offtrack/offtrack-core/internal/errors"
)

const playlistExt = ".m3u"

// PlaylistStore saves playlists as m3u files pointing at cached tracks,
// one directory per server
type PlaylistStore struct {
	layout Layout
}

// NewPlaylistStore creates a store rooted at layout.PlaylistsDir
func NewPlaylistStore(layout Layout) *PlaylistStore {
	return &PlaylistStore{layout: layout}
}

func (s *PlaylistStore) path(server, name string) string {
	return filepath.Join(s.layout.PlaylistsDir, sanitize(server), sanitize(name)+playlistExt)
}

// SavePlaylist writes playlist for server, replacing any earlier copy
func (s *PlaylistStore) SavePlaylist(server string, playlist *catalog.Playlist) error {
	if playlist == nil || playlist.Name == "" {
		return apperrors.NewValidationError("playlist name is required")
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, song := range playlist.Entries {
		if song.IsDir {
			continue
		}
		fmt.Fprintf(&b, "#EXTINF:%d,%s - %s\n", song.Duration, song.Artist, song.Title)
		b.WriteString(s.layout.SongFiles(song).Save)
		b.WriteByte('\n')
	}
	return writeAtomic(s.path(server, playlist.Name), []byte(b.String()))
}

// LoadPlaylist returns the track paths of a saved playlist in order
func (s *PlaylistStore) LoadPlaylist(server, name string) ([]string, error) {
	f, err := os.Open(s.path(server, name))
	if os.IsNotExist(err) {
		return nil, apperrors.NewNotFoundError("playlist not saved: " + name)
	}
	if err != nil {
		return nil, apperrors.NewFileSystemError("failed to open playlist", err)
	}
	defer f.Close()

	var paths []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.NewFileSystemError("failed to read playlist", err)
	}
	return paths, nil
}

// ListPlaylists returns the names of playlists saved for server
func (s *PlaylistStore) ListPlaylists(server string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.layout.PlaylistsDir, sanitize(server)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewFileSystemError("failed to list playlists", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), playlistExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), playlistExt))
	}
	sort.Strings(names)
	return names, nil
}

// DeletePlaylist removes a saved playlist
func (s *PlaylistStore) DeletePlaylist(server, name string) error {
	if err := os.Remove(s.path(server, name)); err != nil && !os.IsNotExist(err) {
		return apperrors.NewFileSystemError("failed to delete playlist", err)
	}
	return nil
}
