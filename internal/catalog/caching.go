package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/offtrack/offtrack-core/internal/cache"
	apperrors "github.com/offtrack/offtrack-core/internal/errors"
	"github.com/offtrack/offtrack-core/internal/monitoring"
	"github.com/offtrack/offtrack-core/internal/worker"
)

// TTLs holds how long each kind of catalog result stays fresh
type TTLs struct {
	MusicFolders   time.Duration
	Indexes        time.Duration
	MusicDirectory time.Duration
	LicenseValid   time.Duration
	LicenseInvalid time.Duration
	Playlists      time.Duration
	Genres         time.Duration
	User           time.Duration
	Videos         time.Duration
}

// DefaultTTLs returns the TTLs used when none are configured
func DefaultTTLs() TTLs {
	return TTLs{
		MusicFolders:   10 * time.Hour,
		Indexes:        time.Hour,
		MusicDirectory: 5 * time.Minute,
		LicenseValid:   30 * time.Minute,
		LicenseInvalid: 2 * time.Minute,
		Playlists:      time.Hour,
		Genres:         10 * time.Hour,
		User:           time.Hour,
		Videos:         time.Hour,
	}
}

func (t TTLs) withDefaults() TTLs {
	d := DefaultTTLs()
	fill := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&t.MusicFolders, d.MusicFolders)
	fill(&t.Indexes, d.Indexes)
	fill(&t.MusicDirectory, d.MusicDirectory)
	fill(&t.LicenseValid, d.LicenseValid)
	fill(&t.LicenseInvalid, d.LicenseInvalid)
	fill(&t.Playlists, d.Playlists)
	fill(&t.Genres, d.Genres)
	fill(&t.User, d.User)
	fill(&t.Videos, d.Videos)
	return t
}

// PlaylistArchive keeps a copy of fetched playlists for offline use
type PlaylistArchive interface {
	SavePlaylist(server string, playlist *Playlist) error
}

// Options configures a CachingClient
type Options struct {
	TTLs TTLs
	// DirectoryCacheSize bounds each of the per-id directory, artist and album caches
	DirectoryCacheSize int
	// TaskWorkers is the number of goroutines running star/unstar/scrobble calls
	TaskWorkers int
	Playlists   PlaylistArchive
	// Clock replaces time.Now for every cache; tests only
	Clock func() time.Time
}

const indexesCacheSize = 8

// CachingClient fronts a remote Client with time-limited caches. All cached
// reads are keyed by the active server; switching servers drops everything.
type CachingClient struct {
	factory   Factory
	ttls      TTLs
	playlists PlaylistArchive
	logger    *zap.Logger

	mu         sync.RWMutex
	server     ServerContext
	lastURL    string
	remote     Client
	generation uint64

	group singleflight.Group

	musicFolders *cache.Cell[[]MusicFolder]
	license      *cache.Cell[*License]
	playlistList *cache.Cell[[]Playlist]
	genres       *cache.Cell[[]Genre]
	videos       *cache.Cell[*Directory]
	indexes      *cache.LRU[string, *Indexes]
	directories  *cache.LRU[string, *Directory]
	artists      *cache.LRU[string, *Directory]
	albums       *cache.LRU[string, *Directory]
	users        *cache.LRU[string, *User]

	tasks *worker.WorkerPool
	seq   uint64
	done  chan struct{}
}

// NewCachingClient builds the remote client for server and wraps it
func NewCachingClient(server ServerContext, factory Factory, opts Options, logger *zap.Logger) (*CachingClient, error) {
	if factory == nil {
		return nil, apperrors.NewValidationError("catalog client factory is required")
	}
	remote, err := factory(server)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog client for %s: %w", server.URL, err)
	}

	ttls := opts.TTLs.withDefaults()
	size := opts.DirectoryCacheSize
	if size <= 0 {
		size = 20
	}

	logger = monitoring.Component(logger, "catalog")
	c := &CachingClient{
		factory:      factory,
		ttls:         ttls,
		playlists:    opts.Playlists,
		logger:       logger,
		server:       server,
		lastURL:      server.URL,
		remote:       remote,
		musicFolders: cache.NewCell[[]MusicFolder](ttls.MusicFolders),
		license:      cache.NewCell[*License](ttls.LicenseValid),
		playlistList: cache.NewCell[[]Playlist](ttls.Playlists),
		genres:       cache.NewCell[[]Genre](ttls.Genres),
		videos:       cache.NewCell[*Directory](ttls.Videos),
		indexes:      cache.NewLRU[string, *Indexes](indexesCacheSize, ttls.Indexes),
		directories:  cache.NewLRU[string, *Directory](size, ttls.MusicDirectory),
		artists:      cache.NewLRU[string, *Directory](size, ttls.MusicDirectory),
		albums:       cache.NewLRU[string, *Directory](size, ttls.MusicDirectory),
		users:        cache.NewLRU[string, *User](size, ttls.User),
		tasks:        worker.NewWorkerPool(opts.TaskWorkers, worker.RunTask, logger.Named("tasks")),
	}

	if opts.Clock != nil {
		c.musicFolders.SetClock(opts.Clock)
		c.license.SetClock(opts.Clock)
		c.playlistList.SetClock(opts.Clock)
		c.genres.SetClock(opts.Clock)
		c.videos.SetClock(opts.Clock)
		c.indexes.SetClock(opts.Clock)
		c.directories.SetClock(opts.Clock)
		c.artists.SetClock(opts.Clock)
		c.albums.SetClock(opts.Clock)
		c.users.SetClock(opts.Clock)
	}

	return c, nil
}

// Server returns the active server context
func (c *CachingClient) Server() ServerContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// SetServer replaces the active server context. Caches are dropped by the
// next catalog call if the URL differs from the last one seen.
func (c *CachingClient) SetServer(server ServerContext) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server = server
}

// ClearAll drops every cached result
func (c *CachingClient) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *CachingClient) clearLocked() {
	c.generation++
	c.musicFolders.Clear()
	c.license.Clear()
	c.playlistList.Clear()
	c.genres.Clear()
	c.videos.Clear()
	c.indexes.Clear()
	c.directories.Clear()
	c.artists.Clear()
	c.albums.Clear()
	c.users.Clear()
}

// checkSettingsChanged compares the configured server URL with the last one
// seen and, on change, clears all caches and rebuilds the remote client. It
// returns the client and cache generation the caller must use.
func (c *CachingClient) checkSettingsChanged() (Client, uint64, string, error) {
	c.mu.RLock()
	if c.server.URL == c.lastURL && c.remote != nil {
		remote, gen, url := c.remote, c.generation, c.lastURL
		c.mu.RUnlock()
		return remote, gen, url, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server.URL != c.lastURL || c.remote == nil {
		c.logger.Info("server changed, clearing catalog caches",
			zap.String("from", c.lastURL),
			zap.String("to", c.server.URL))
		c.clearLocked()
		c.lastURL = c.server.URL
		c.remote = nil

		remote, err := c.factory(c.server)
		if err != nil {
			return nil, 0, "", fmt.Errorf("failed to create catalog client for %s: %w", c.server.URL, err)
		}
		c.remote = remote
	}
	return c.remote, c.generation, c.lastURL, nil
}

// passThrough returns the current remote for uncached calls
func (c *CachingClient) passThrough() (Client, error) {
	remote, _, _, err := c.checkSettingsChanged()
	return remote, err
}

// slot is one cache location a lookup reads and fills
type slot[T any] interface {
	Get() (T, bool)
	Set(T)
	Clear()
}

type keyedSlot[T any] struct {
	lru *cache.LRU[string, T]
	key string
}

func (s keyedSlot[T]) Get() (T, bool) { return s.lru.Get(s.key) }
func (s keyedSlot[T]) Set(v T)        { s.lru.Put(s.key, v) }
func (s keyedSlot[T]) Clear()         { s.lru.Remove(s.key) }

// licenseSlot caches invalid licenses for a shorter time so a fixed license
// is noticed sooner
type licenseSlot struct {
	cell    *cache.Cell[*License]
	invalid time.Duration
}

func (s licenseSlot) Get() (*License, bool) { return s.cell.Get() }
func (s licenseSlot) Clear()                { s.cell.Clear() }
func (s licenseSlot) Set(l *License) {
	if l != nil && !l.Valid {
		s.cell.SetWithTTL(l, s.invalid)
		return
	}
	s.cell.Set(l)
}

// lookup serves op from s, fetching from the remote on a miss. Concurrent
// misses for the same key share one remote call. Results fetched under a
// previous cache generation are returned but not stored.
func lookup[T any](ctx context.Context, c *CachingClient, op, id string, s slot[T], refresh bool,
	fetch func(ctx context.Context, remote Client) (T, error)) (T, error) {
	var zero T

	remote, gen, url, err := c.checkSettingsChanged()
	if err != nil {
		return zero, err
	}

	if refresh {
		s.Clear()
	}
	if v, ok := s.Get(); ok {
		monitoring.RecordCatalogHit(op)
		return v, nil
	}

	key := fmt.Sprintf("%d|%s|%s|%s", gen, url, op, id)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		start := time.Now()
		v, err := fetch(context.WithoutCancel(ctx), remote)
		monitoring.RecordCatalogMiss(op, time.Since(start), err)
		if err != nil {
			return nil, err
		}

		c.mu.RLock()
		if c.generation == gen {
			s.Set(v)
		}
		c.mu.RUnlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Debug("catalog call failed", zap.String("op", op), zap.String("id", id), zap.Error(res.Err))
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Ping checks the server is reachable
func (c *CachingClient) Ping(ctx context.Context) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	return remote.Ping(ctx)
}

// GetLicense returns the server license
func (c *CachingClient) GetLicense(ctx context.Context, refresh bool) (*License, error) {
	s := licenseSlot{cell: c.license, invalid: c.ttls.LicenseInvalid}
	return lookup[*License](ctx, c, "license", "", s, refresh, func(ctx context.Context, r Client) (*License, error) {
		return r.GetLicense(ctx)
	})
}

// GetMusicFolders returns the library roots
func (c *CachingClient) GetMusicFolders(ctx context.Context, refresh bool) ([]MusicFolder, error) {
	return lookup[[]MusicFolder](ctx, c, "music_folders", "", c.musicFolders, refresh, func(ctx context.Context, r Client) ([]MusicFolder, error) {
		return r.GetMusicFolders(ctx)
	})
}

// GetIndexes returns the folder-browsing index for musicFolderID ("" for all folders)
func (c *CachingClient) GetIndexes(ctx context.Context, musicFolderID string, refresh bool) (*Indexes, error) {
	s := keyedSlot[*Indexes]{lru: c.indexes, key: "indexes:" + musicFolderID}
	return lookup[*Indexes](ctx, c, "indexes", musicFolderID, s, refresh, func(ctx context.Context, r Client) (*Indexes, error) {
		return r.GetIndexes(ctx, musicFolderID)
	})
}

// GetArtists returns the ID3 artist index for musicFolderID
func (c *CachingClient) GetArtists(ctx context.Context, musicFolderID string, refresh bool) (*Indexes, error) {
	s := keyedSlot[*Indexes]{lru: c.indexes, key: "artists:" + musicFolderID}
	return lookup[*Indexes](ctx, c, "artists", musicFolderID, s, refresh, func(ctx context.Context, r Client) (*Indexes, error) {
		return r.GetArtists(ctx, musicFolderID)
	})
}

// GetMusicDirectory returns one folder
func (c *CachingClient) GetMusicDirectory(ctx context.Context, id string, refresh bool) (*Directory, error) {
	s := keyedSlot[*Directory]{lru: c.directories, key: id}
	return lookup[*Directory](ctx, c, "music_directory", id, s, refresh, func(ctx context.Context, r Client) (*Directory, error) {
		return r.GetMusicDirectory(ctx, id)
	})
}

// GetArtist returns an ID3 artist and its albums
func (c *CachingClient) GetArtist(ctx context.Context, id string, refresh bool) (*Directory, error) {
	s := keyedSlot[*Directory]{lru: c.artists, key: id}
	return lookup[*Directory](ctx, c, "artist", id, s, refresh, func(ctx context.Context, r Client) (*Directory, error) {
		return r.GetArtist(ctx, id)
	})
}

// GetAlbum returns an ID3 album and its songs
func (c *CachingClient) GetAlbum(ctx context.Context, id string, refresh bool) (*Directory, error) {
	s := keyedSlot[*Directory]{lru: c.albums, key: id}
	return lookup[*Directory](ctx, c, "album", id, s, refresh, func(ctx context.Context, r Client) (*Directory, error) {
		return r.GetAlbum(ctx, id)
	})
}

// GetPlaylists returns the playlists visible to the user
func (c *CachingClient) GetPlaylists(ctx context.Context, refresh bool) ([]Playlist, error) {
	return lookup[[]Playlist](ctx, c, "playlists", "", c.playlistList, refresh, func(ctx context.Context, r Client) ([]Playlist, error) {
		return r.GetPlaylists(ctx)
	})
}

// GetGenres returns all genres
func (c *CachingClient) GetGenres(ctx context.Context, refresh bool) ([]Genre, error) {
	return lookup[[]Genre](ctx, c, "genres", "", c.genres, refresh, func(ctx context.Context, r Client) ([]Genre, error) {
		return r.GetGenres(ctx)
	})
}

// GetUser returns account details for username
func (c *CachingClient) GetUser(ctx context.Context, username string, refresh bool) (*User, error) {
	s := keyedSlot[*User]{lru: c.users, key: username}
	return lookup[*User](ctx, c, "user", username, s, refresh, func(ctx context.Context, r Client) (*User, error) {
		return r.GetUser(ctx, username)
	})
}

// GetVideos returns the video listing
func (c *CachingClient) GetVideos(ctx context.Context, refresh bool) (*Directory, error) {
	return lookup[*Directory](ctx, c, "videos", "", c.videos, refresh, func(ctx context.Context, r Client) (*Directory, error) {
		return r.GetVideos(ctx)
	})
}

// GetPlaylist fetches one playlist. It is never served from memory; a
// successful result is archived for offline playback.
func (c *CachingClient) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	p, err := remote.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.playlists != nil {
		if err := c.playlists.SavePlaylist(c.Server().Name, p); err != nil {
			c.logger.Warn("failed to archive playlist", zap.String("playlist", p.Name), zap.Error(err))
		}
	}
	return p, nil
}

// CreatePlaylist creates a playlist and invalidates the playlist listing
func (c *CachingClient) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*Playlist, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	p, err := remote.CreatePlaylist(ctx, name, songIDs)
	if err != nil {
		return nil, err
	}
	c.playlistList.Clear()
	return p, nil
}

// UpdatePlaylist edits a playlist and invalidates the playlist listing
func (c *CachingClient) UpdatePlaylist(ctx context.Context, id string, update PlaylistUpdate) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	if err := remote.UpdatePlaylist(ctx, id, update); err != nil {
		return err
	}
	c.playlistList.Clear()
	return nil
}

// DeletePlaylist deletes a playlist and invalidates the playlist listing
func (c *CachingClient) DeletePlaylist(ctx context.Context, id string) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	if err := remote.DeletePlaylist(ctx, id); err != nil {
		return err
	}
	c.playlistList.Clear()
	return nil
}

// Star marks id as starred and drops any cached copy of it
func (c *CachingClient) Star(ctx context.Context, id string) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	if err := remote.Star(ctx, id); err != nil {
		return err
	}
	c.forget(id)
	return nil
}

// Unstar clears the star on id and drops any cached copy of it
func (c *CachingClient) Unstar(ctx context.Context, id string) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	if err := remote.Unstar(ctx, id); err != nil {
		return err
	}
	c.forget(id)
	return nil
}

func (c *CachingClient) forget(id string) {
	c.directories.Remove(id)
	c.artists.Remove(id)
	c.albums.Remove(id)
}

// Scrobble registers a play of id
func (c *CachingClient) Scrobble(ctx context.Context, id string, at time.Time, submission bool) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	return remote.Scrobble(ctx, id, at, submission)
}

// GetAlbumList returns a paged album list
func (c *CachingClient) GetAlbumList(ctx context.Context, listType string, size, offset int) ([]Song, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.GetAlbumList(ctx, listType, size, offset)
}

// GetRandomSongs returns up to size random songs, optionally of one genre
func (c *CachingClient) GetRandomSongs(ctx context.Context, size int, genre string) ([]Song, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.GetRandomSongs(ctx, size, genre)
}

// GetSongsByGenre returns a page of songs for genre
func (c *CachingClient) GetSongsByGenre(ctx context.Context, genre string, count, offset int) ([]Song, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.GetSongsByGenre(ctx, genre, count, offset)
}

// Search runs a catalog search
func (c *CachingClient) Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.Search(ctx, criteria)
}

// GetStarred returns everything the user starred
func (c *CachingClient) GetStarred(ctx context.Context) (*SearchResult, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.GetStarred(ctx)
}

// GetBookmarks returns saved play positions
func (c *CachingClient) GetBookmarks(ctx context.Context) ([]Bookmark, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.GetBookmarks(ctx)
}

// CreateBookmark saves a play position in milliseconds
func (c *CachingClient) CreateBookmark(ctx context.Context, id string, position int64, comment string) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	return remote.CreateBookmark(ctx, id, position, comment)
}

// DeleteBookmark removes a saved play position
func (c *CachingClient) DeleteBookmark(ctx context.Context, id string) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	return remote.DeleteBookmark(ctx, id)
}

// GetShares returns the user's shares
func (c *CachingClient) GetShares(ctx context.Context) ([]Share, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.GetShares(ctx)
}

// CreateShare creates a public link to ids
func (c *CachingClient) CreateShare(ctx context.Context, ids []string, description string, expires time.Time) (*Share, error) {
	remote, err := c.passThrough()
	if err != nil {
		return nil, err
	}
	return remote.CreateShare(ctx, ids, description, expires)
}

// DeleteShare removes a share
func (c *CachingClient) DeleteShare(ctx context.Context, id string) error {
	remote, err := c.passThrough()
	if err != nil {
		return err
	}
	return remote.DeleteShare(ctx, id)
}
