package catalog

import (
	"context"
	"time"
)

// ServerContext identifies the server and account every catalog call is
// made against. It is replaced wholesale when the user switches servers.
type ServerContext struct {
	Name     string
	URL      string
	Username string
	Password string
}

// Client is the remote catalog API. Implementations are synchronous and
// safe for concurrent use; this package never retries their calls.
type Client interface {
	Ping(ctx context.Context) error
	GetLicense(ctx context.Context) (*License, error)
	GetMusicFolders(ctx context.Context) ([]MusicFolder, error)
	GetIndexes(ctx context.Context, musicFolderID string) (*Indexes, error)
	GetMusicDirectory(ctx context.Context, id string) (*Directory, error)
	GetArtists(ctx context.Context, musicFolderID string) (*Indexes, error)
	GetArtist(ctx context.Context, id string) (*Directory, error)
	GetAlbum(ctx context.Context, id string) (*Directory, error)
	GetAlbumList(ctx context.Context, listType string, size, offset int) ([]Song, error)
	GetRandomSongs(ctx context.Context, size int, genre string) ([]Song, error)
	GetPlaylists(ctx context.Context) ([]Playlist, error)
	GetPlaylist(ctx context.Context, id string) (*Playlist, error)
	CreatePlaylist(ctx context.Context, name string, songIDs []string) (*Playlist, error)
	UpdatePlaylist(ctx context.Context, id string, update PlaylistUpdate) error
	DeletePlaylist(ctx context.Context, id string) error
	GetGenres(ctx context.Context) ([]Genre, error)
	GetSongsByGenre(ctx context.Context, genre string, count, offset int) ([]Song, error)
	Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error)
	GetStarred(ctx context.Context) (*SearchResult, error)
	Star(ctx context.Context, id string) error
	Unstar(ctx context.Context, id string) error
	Scrobble(ctx context.Context, id string, at time.Time, submission bool) error
	GetBookmarks(ctx context.Context) ([]Bookmark, error)
	CreateBookmark(ctx context.Context, id string, position int64, comment string) error
	DeleteBookmark(ctx context.Context, id string) error
	GetShares(ctx context.Context) ([]Share, error)
	CreateShare(ctx context.Context, ids []string, description string, expires time.Time) (*Share, error)
	DeleteShare(ctx context.Context, id string) error
	GetUser(ctx context.Context, username string) (*User, error)
	GetVideos(ctx context.Context) (*Directory, error)
}

// Factory builds a Client bound to one server
type Factory func(server ServerContext) (Client, error)
