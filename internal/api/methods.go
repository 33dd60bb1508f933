package api

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/offtrack/offtrack-core/internal/catalog"
)

func idParams(id string) url.Values {
	params := url.Values{}
	params.Set("id", id)
	return params
}

// Ping checks connectivity and credentials
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, "", nil)
}

// GetLicense returns the server license
func (c *Client) GetLicense(ctx context.Context) (*catalog.License, error) {
	var w wireLicense
	if err := c.call(ctx, "getLicense", nil, "license", &w); err != nil {
		return nil, err
	}
	return &catalog.License{Valid: w.Valid, Email: w.Email, Expires: w.LicenseExpires.Time}, nil
}

// GetMusicFolders returns the configured library roots
func (c *Client) GetMusicFolders(ctx context.Context) ([]catalog.MusicFolder, error) {
	var w struct {
		MusicFolder []wireFolder `json:"musicFolder"`
	}
	if err := c.call(ctx, "getMusicFolders", nil, "musicFolders", &w); err != nil {
		return nil, err
	}
	folders := make([]catalog.MusicFolder, 0, len(w.MusicFolder))
	for _, f := range w.MusicFolder {
		folders = append(folders, catalog.MusicFolder{ID: f.ID.String(), Name: f.Name})
	}
	return folders, nil
}

func folderParams(musicFolderID string) url.Values {
	params := url.Values{}
	if musicFolderID != "" {
		params.Set("musicFolderId", musicFolderID)
	}
	return params
}

// GetIndexes returns the folder-based artist index
func (c *Client) GetIndexes(ctx context.Context, musicFolderID string) (*catalog.Indexes, error) {
	var w wireIndexes
	if err := c.call(ctx, "getIndexes", folderParams(musicFolderID), "indexes", &w); err != nil {
		return nil, err
	}
	return w.toIndexes(), nil
}

// GetArtists returns the tag-based artist index
func (c *Client) GetArtists(ctx context.Context, musicFolderID string) (*catalog.Indexes, error) {
	var w wireIndexes
	if err := c.call(ctx, "getArtists", folderParams(musicFolderID), "artists", &w); err != nil {
		return nil, err
	}
	return w.toIndexes(), nil
}

// GetMusicDirectory returns the children of a folder
func (c *Client) GetMusicDirectory(ctx context.Context, id string) (*catalog.Directory, error) {
	var w wireDirectory
	if err := c.call(ctx, "getMusicDirectory", idParams(id), "directory", &w); err != nil {
		return nil, err
	}
	return &catalog.Directory{
		ID:       w.ID.String(),
		Parent:   w.Parent.String(),
		Name:     w.Name,
		Children: toSongs(w.Child),
	}, nil
}

// GetArtist returns an artist with its albums as directory children
func (c *Client) GetArtist(ctx context.Context, id string) (*catalog.Directory, error) {
	var w wireArtistDetail
	if err := c.call(ctx, "getArtist", idParams(id), "artist", &w); err != nil {
		return nil, err
	}
	return &catalog.Directory{
		ID:       w.ID.String(),
		Name:     w.Name,
		Children: albumsToSongs(w.Album),
	}, nil
}

// GetAlbum returns an album with its songs
func (c *Client) GetAlbum(ctx context.Context, id string) (*catalog.Directory, error) {
	var w wireAlbumDetail
	if err := c.call(ctx, "getAlbum", idParams(id), "album", &w); err != nil {
		return nil, err
	}
	return &catalog.Directory{
		ID:       w.ID.String(),
		Parent:   w.ArtistID.String(),
		Name:     w.Name,
		Children: toSongs(w.Song),
	}, nil
}

// GetAlbumList returns albums ordered by listType (random, newest, starred...)
func (c *Client) GetAlbumList(ctx context.Context, listType string, size, offset int) ([]catalog.Song, error) {
	params := url.Values{}
	params.Set("type", listType)
	params.Set("size", strconv.Itoa(size))
	params.Set("offset", strconv.Itoa(offset))

	var w struct {
		Album []wireChild `json:"album"`
	}
	if err := c.call(ctx, "getAlbumList", params, "albumList", &w); err != nil {
		return nil, err
	}
	return albumsToSongs(w.Album), nil
}

// GetRandomSongs returns up to size random songs, optionally of one genre
func (c *Client) GetRandomSongs(ctx context.Context, size int, genre string) ([]catalog.Song, error) {
	params := url.Values{}
	params.Set("size", strconv.Itoa(size))
	if genre != "" {
		params.Set("genre", genre)
	}

	var w struct {
		Song []wireChild `json:"song"`
	}
	if err := c.call(ctx, "getRandomSongs", params, "randomSongs", &w); err != nil {
		return nil, err
	}
	return toSongs(w.Song), nil
}

// GetPlaylists returns the playlists visible to the user, without entries
func (c *Client) GetPlaylists(ctx context.Context) ([]catalog.Playlist, error) {
	var w struct {
		Playlist []wirePlaylist `json:"playlist"`
	}
	if err := c.call(ctx, "getPlaylists", nil, "playlists", &w); err != nil {
		return nil, err
	}
	playlists := make([]catalog.Playlist, 0, len(w.Playlist))
	for _, p := range w.Playlist {
		playlists = append(playlists, p.toPlaylist())
	}
	return playlists, nil
}

// GetPlaylist returns one playlist with its entries
func (c *Client) GetPlaylist(ctx context.Context, id string) (*catalog.Playlist, error) {
	var w wirePlaylist
	if err := c.call(ctx, "getPlaylist", idParams(id), "playlist", &w); err != nil {
		return nil, err
	}
	p := w.toPlaylist()
	return &p, nil
}

// CreatePlaylist creates a playlist holding songIDs
func (c *Client) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*catalog.Playlist, error) {
	params := url.Values{}
	params.Set("name", name)
	for _, id := range songIDs {
		params.Add("songId", id)
	}

	var w wirePlaylist
	if err := c.call(ctx, "createPlaylist", params, "playlist", &w); err != nil {
		return nil, err
	}
	// older servers answer with an empty body
	if w.ID == "" {
		return &catalog.Playlist{Name: name, SongCount: len(songIDs)}, nil
	}
	p := w.toPlaylist()
	return &p, nil
}

// UpdatePlaylist applies update to the playlist id
func (c *Client) UpdatePlaylist(ctx context.Context, id string, update catalog.PlaylistUpdate) error {
	params := url.Values{}
	params.Set("playlistId", id)
	if update.Name != "" {
		params.Set("name", update.Name)
	}
	if update.Comment != "" {
		params.Set("comment", update.Comment)
	}
	if update.Public != nil {
		params.Set("public", strconv.FormatBool(*update.Public))
	}
	for _, songID := range update.SongIDsToAdd {
		params.Add("songIdToAdd", songID)
	}
	for _, index := range update.IndexesToDrop {
		params.Add("songIndexToRemove", strconv.Itoa(index))
	}
	return c.call(ctx, "updatePlaylist", params, "", nil)
}

// DeletePlaylist removes the playlist id
func (c *Client) DeletePlaylist(ctx context.Context, id string) error {
	return c.call(ctx, "deletePlaylist", idParams(id), "", nil)
}

// GetGenres returns all genres with counts
func (c *Client) GetGenres(ctx context.Context) ([]catalog.Genre, error) {
	var w struct {
		Genre []wireGenre `json:"genre"`
	}
	if err := c.call(ctx, "getGenres", nil, "genres", &w); err != nil {
		return nil, err
	}
	genres := make([]catalog.Genre, 0, len(w.Genre))
	for _, g := range w.Genre {
		genres = append(genres, catalog.Genre{Name: g.Value, SongCount: g.SongCount, AlbumCount: g.AlbumCount})
	}
	return genres, nil
}

// GetSongsByGenre pages through the songs of genre
func (c *Client) GetSongsByGenre(ctx context.Context, genre string, count, offset int) ([]catalog.Song, error) {
	params := url.Values{}
	params.Set("genre", genre)
	params.Set("count", strconv.Itoa(count))
	params.Set("offset", strconv.Itoa(offset))

	var w struct {
		Song []wireChild `json:"song"`
	}
	if err := c.call(ctx, "getSongsByGenre", params, "songsByGenre", &w); err != nil {
		return nil, err
	}
	return toSongs(w.Song), nil
}

// Search runs a tag-based search
func (c *Client) Search(ctx context.Context, criteria catalog.SearchCriteria) (*catalog.SearchResult, error) {
	params := url.Values{}
	params.Set("query", criteria.Query)
	setCount := func(key string, n int) {
		if n > 0 {
			params.Set(key, strconv.Itoa(n))
		}
	}
	setCount("artistCount", criteria.ArtistCount)
	setCount("albumCount", criteria.AlbumCount)
	setCount("songCount", criteria.SongCount)
	if criteria.Offset > 0 {
		offset := strconv.Itoa(criteria.Offset)
		params.Set("artistOffset", offset)
		params.Set("albumOffset", offset)
		params.Set("songOffset", offset)
	}

	var w wireSearchResult
	if err := c.call(ctx, "search3", params, "searchResult3", &w); err != nil {
		return nil, err
	}
	return w.toSearchResult(), nil
}

// GetStarred returns everything the user has starred
func (c *Client) GetStarred(ctx context.Context) (*catalog.SearchResult, error) {
	var w wireSearchResult
	if err := c.call(ctx, "getStarred", nil, "starred", &w); err != nil {
		return nil, err
	}
	return w.toSearchResult(), nil
}

// Star marks id as starred
func (c *Client) Star(ctx context.Context, id string) error {
	return c.call(ctx, "star", idParams(id), "", nil)
}

// Unstar removes the star from id
func (c *Client) Unstar(ctx context.Context, id string) error {
	return c.call(ctx, "unstar", idParams(id), "", nil)
}

// Scrobble registers a play of id at the given time
func (c *Client) Scrobble(ctx context.Context, id string, at time.Time, submission bool) error {
	params := idParams(id)
	params.Set("time", strconv.FormatInt(at.UnixMilli(), 10))
	params.Set("submission", strconv.FormatBool(submission))
	return c.call(ctx, "scrobble", params, "", nil)
}

// GetBookmarks returns the saved play positions of the user
func (c *Client) GetBookmarks(ctx context.Context) ([]catalog.Bookmark, error) {
	var w struct {
		Bookmark []wireBookmark `json:"bookmark"`
	}
	if err := c.call(ctx, "getBookmarks", nil, "bookmarks", &w); err != nil {
		return nil, err
	}
	bookmarks := make([]catalog.Bookmark, 0, len(w.Bookmark))
	for _, b := range w.Bookmark {
		bookmarks = append(bookmarks, catalog.Bookmark{
			Entry:    b.Entry.toSong(),
			Position: b.Position,
			Comment:  b.Comment,
			Created:  b.Created.Time,
			Changed:  b.Changed.Time,
		})
	}
	return bookmarks, nil
}

// CreateBookmark saves position (milliseconds) for id
func (c *Client) CreateBookmark(ctx context.Context, id string, position int64, comment string) error {
	params := idParams(id)
	params.Set("position", strconv.FormatInt(position, 10))
	if comment != "" {
		params.Set("comment", comment)
	}
	return c.call(ctx, "createBookmark", params, "", nil)
}

// DeleteBookmark removes the bookmark of id
func (c *Client) DeleteBookmark(ctx context.Context, id string) error {
	return c.call(ctx, "deleteBookmark", idParams(id), "", nil)
}

// GetShares returns the shares of the user
func (c *Client) GetShares(ctx context.Context) ([]catalog.Share, error) {
	var w struct {
		Share []wireShare `json:"share"`
	}
	if err := c.call(ctx, "getShares", nil, "shares", &w); err != nil {
		return nil, err
	}
	shares := make([]catalog.Share, 0, len(w.Share))
	for _, s := range w.Share {
		shares = append(shares, s.toShare())
	}
	return shares, nil
}

// CreateShare publishes ids. A zero expires never expires.
func (c *Client) CreateShare(ctx context.Context, ids []string, description string, expires time.Time) (*catalog.Share, error) {
	params := url.Values{}
	for _, id := range ids {
		params.Add("id", id)
	}
	if description != "" {
		params.Set("description", description)
	}
	if !expires.IsZero() {
		params.Set("expires", strconv.FormatInt(expires.UnixMilli(), 10))
	}

	var w struct {
		Share []wireShare `json:"share"`
	}
	if err := c.call(ctx, "createShare", params, "shares", &w); err != nil {
		return nil, err
	}
	if len(w.Share) == 0 {
		return &catalog.Share{Description: description, Expires: expires}, nil
	}
	s := w.Share[0].toShare()
	return &s, nil
}

// DeleteShare removes the share id
func (c *Client) DeleteShare(ctx context.Context, id string) error {
	return c.call(ctx, "deleteShare", idParams(id), "", nil)
}

// GetUser returns the account username
func (c *Client) GetUser(ctx context.Context, username string) (*catalog.User, error) {
	params := url.Values{}
	params.Set("username", username)

	var w wireUser
	if err := c.call(ctx, "getUser", params, "user", &w); err != nil {
		return nil, err
	}
	return &catalog.User{
		Username:       w.Username,
		Email:          w.Email,
		AdminRole:      w.AdminRole,
		DownloadRole:   w.DownloadRole,
		StreamRole:     w.StreamRole,
		PlaylistRole:   w.PlaylistRole,
		ShareRole:      w.ShareRole,
		CommentRole:    w.CommentRole,
		ScrobblingRole: w.ScrobblingRole,
	}, nil
}

// GetVideos returns all videos as the children of a synthetic directory
func (c *Client) GetVideos(ctx context.Context) (*catalog.Directory, error) {
	var w struct {
		Video []wireChild `json:"video"`
	}
	if err := c.call(ctx, "getVideos", nil, "videos", &w); err != nil {
		return nil, err
	}
	videos := toSongs(w.Video)
	for i := range videos {
		videos[i].IsVideo = true
	}
	return &catalog.Directory{ID: "videos", Name: "Videos", Children: videos}, nil
}
