package catalog

import "time"

// MusicFolder is a top-level library root on the server
type MusicFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Artist is an index entry or an ID3 artist
type Artist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CoverArt   string `json:"cover_art,omitempty"`
	AlbumCount int    `json:"album_count,omitempty"`
	Starred    bool   `json:"starred,omitempty"`
}

// Index groups artists under a letter
type Index struct {
	Name    string   `json:"name"`
	Artists []Artist `json:"artists"`
}

// Indexes is the folder-browsing root listing
type Indexes struct {
	LastModified time.Time `json:"last_modified"`
	Shortcuts    []Artist  `json:"shortcuts,omitempty"`
	Indexes      []Index   `json:"indexes"`
	Songs        []Song    `json:"songs,omitempty"`
}

// Song is a playable track (or video) as described by the catalog
type Song struct {
	ID          string `json:"id"`
	Parent      string `json:"parent,omitempty"`
	Title       string `json:"title"`
	Album       string `json:"album,omitempty"`
	AlbumID     string `json:"album_id,omitempty"`
	Artist      string `json:"artist,omitempty"`
	ArtistID    string `json:"artist_id,omitempty"`
	Track       int    `json:"track,omitempty"`
	DiscNumber  int    `json:"disc_number,omitempty"`
	Year        int    `json:"year,omitempty"`
	Genre       string `json:"genre,omitempty"`
	CoverArt    string `json:"cover_art,omitempty"`
	Size        int64  `json:"size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Suffix      string `json:"suffix,omitempty"`
	// TranscodedSuffix is set when the server streams a different format than it stores
	TranscodedSuffix string `json:"transcoded_suffix,omitempty"`
	Duration         int    `json:"duration,omitempty"` // seconds
	BitRate          int    `json:"bit_rate,omitempty"`
	Path             string `json:"path,omitempty"`
	IsDir            bool   `json:"is_dir,omitempty"`
	IsVideo          bool   `json:"is_video,omitempty"`
	Starred          bool   `json:"starred,omitempty"`
}

// StreamSuffix returns the file extension of the bytes the server will send
func (s Song) StreamSuffix() string {
	if s.TranscodedSuffix != "" {
		return s.TranscodedSuffix
	}
	if s.Suffix != "" {
		return s.Suffix
	}
	return "mp3"
}

// Directory is the content of a folder, artist or album
type Directory struct {
	ID       string `json:"id"`
	Parent   string `json:"parent,omitempty"`
	Name     string `json:"name"`
	Children []Song `json:"children"`
}

// Songs returns the non-directory children
func (d *Directory) Songs() []Song {
	var songs []Song
	for _, c := range d.Children {
		if !c.IsDir {
			songs = append(songs, c)
		}
	}
	return songs
}

// Playlist is a server-side playlist
type Playlist struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	Public    bool      `json:"public,omitempty"`
	SongCount int       `json:"song_count"`
	Duration  int       `json:"duration,omitempty"`
	Created   time.Time `json:"created,omitempty"`
	Changed   time.Time `json:"changed,omitempty"`
	Entries   []Song    `json:"entries,omitempty"`
}

// PlaylistUpdate describes an edit to an existing playlist
type PlaylistUpdate struct {
	Name          string   `json:"name,omitempty"`
	Comment       string   `json:"comment,omitempty"`
	Public        *bool    `json:"public,omitempty"`
	SongIDsToAdd  []string `json:"song_ids_to_add,omitempty"`
	IndexesToDrop []int    `json:"indexes_to_drop,omitempty"`
}

// Genre is a tag value with counts
type Genre struct {
	Name       string `json:"name"`
	SongCount  int    `json:"song_count"`
	AlbumCount int    `json:"album_count"`
}

// License reports whether the server accepts this client
type License struct {
	Valid   bool      `json:"valid"`
	Email   string    `json:"email,omitempty"`
	Expires time.Time `json:"expires,omitempty"`
}

// User describes an account and its permissions
type User struct {
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	AdminRole      bool   `json:"admin_role"`
	DownloadRole   bool   `json:"download_role"`
	StreamRole     bool   `json:"stream_role"`
	PlaylistRole   bool   `json:"playlist_role"`
	ShareRole      bool   `json:"share_role"`
	CommentRole    bool   `json:"comment_role"`
	ScrobblingRole bool   `json:"scrobbling_role"`
}

// SearchCriteria selects what Search returns
type SearchCriteria struct {
	Query       string
	ArtistCount int
	AlbumCount  int
	SongCount   int
	Offset      int
}

// SearchResult holds the matches of a search
type SearchResult struct {
	Artists []Artist `json:"artists"`
	Albums  []Song   `json:"albums"`
	Songs   []Song   `json:"songs"`
}

// Bookmark is a saved play position
type Bookmark struct {
	Entry    Song      `json:"entry"`
	Position int64     `json:"position"` // milliseconds
	Comment  string    `json:"comment,omitempty"`
	Created  time.Time `json:"created"`
	Changed  time.Time `json:"changed"`
}

// Share is a public link to a set of entries
type Share struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Description string    `json:"description,omitempty"`
	Expires     time.Time `json:"expires,omitempty"`
	Entries     []Song    `json:"entries,omitempty"`
}
