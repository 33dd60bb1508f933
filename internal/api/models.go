package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/offtrack/offtrack-core/internal/catalog"
)

// FlexibleID accepts ids sent as JSON strings or numbers
type FlexibleID string

// UnmarshalJSON implements custom unmarshaling for FlexibleID
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleID(n.String())
		return nil
	}

	return fmt.Errorf("FlexibleID must be a string or number")
}

// String returns the string representation
func (f FlexibleID) String() string {
	return string(f)
}

// FlexibleTime is a type that can unmarshal from multiple time formats
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for FlexibleTime
func (ft *FlexibleTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return nil
	}

	// epoch milliseconds
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		ft.Time = time.UnixMilli(ms).UTC()
		return nil
	}

	formats := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			ft.Time = t
			return nil
		}
	}

	return fmt.Errorf("unable to parse time: %s", s)
}

// apiError is the error object of a failed response
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type wireFolder struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
}

type wireArtist struct {
	ID         FlexibleID `json:"id"`
	Name       string     `json:"name"`
	CoverArt   FlexibleID `json:"coverArt"`
	AlbumCount int        `json:"albumCount"`
	Starred    string     `json:"starred"`
}

func (a wireArtist) toArtist() catalog.Artist {
	return catalog.Artist{
		ID:         a.ID.String(),
		Name:       a.Name,
		CoverArt:   a.CoverArt.String(),
		AlbumCount: a.AlbumCount,
		Starred:    a.Starred != "",
	}
}

type wireIndex struct {
	Name   string       `json:"name"`
	Artist []wireArtist `json:"artist"`
}

type wireIndexes struct {
	LastModified FlexibleTime `json:"lastModified"`
	Shortcut     []wireArtist `json:"shortcut"`
	Index        []wireIndex  `json:"index"`
	Child        []wireChild  `json:"child"`
}

func (w wireIndexes) toIndexes() *catalog.Indexes {
	out := &catalog.Indexes{LastModified: w.LastModified.Time}
	for _, s := range w.Shortcut {
		out.Shortcuts = append(out.Shortcuts, s.toArtist())
	}
	for _, idx := range w.Index {
		index := catalog.Index{Name: idx.Name}
		for _, a := range idx.Artist {
			index.Artists = append(index.Artists, a.toArtist())
		}
		out.Indexes = append(out.Indexes, index)
	}
	out.Songs = toSongs(w.Child)
	return out
}

// wireChild is a song, video, folder or ID3 album
type wireChild struct {
	ID               FlexibleID `json:"id"`
	Parent           FlexibleID `json:"parent"`
	IsDir            bool       `json:"isDir"`
	Title            string     `json:"title"`
	Name             string     `json:"name"`
	Album            string     `json:"album"`
	AlbumID          FlexibleID `json:"albumId"`
	Artist           string     `json:"artist"`
	ArtistID         FlexibleID `json:"artistId"`
	Track            int        `json:"track"`
	DiscNumber       int        `json:"discNumber"`
	Year             int        `json:"year"`
	Genre            string     `json:"genre"`
	CoverArt         FlexibleID `json:"coverArt"`
	Size             int64      `json:"size"`
	ContentType      string     `json:"contentType"`
	Suffix           string     `json:"suffix"`
	TranscodedSuffix string     `json:"transcodedSuffix"`
	Duration         int        `json:"duration"`
	BitRate          int        `json:"bitRate"`
	Path             string     `json:"path"`
	IsVideo          bool       `json:"isVideo"`
	Starred          string     `json:"starred"`
}

func (c wireChild) toSong() catalog.Song {
	title := c.Title
	if title == "" {
		title = c.Name
	}
	return catalog.Song{
		ID:               c.ID.String(),
		Parent:           c.Parent.String(),
		Title:            title,
		Album:            c.Album,
		AlbumID:          c.AlbumID.String(),
		Artist:           c.Artist,
		ArtistID:         c.ArtistID.String(),
		Track:            c.Track,
		DiscNumber:       c.DiscNumber,
		Year:             c.Year,
		Genre:            c.Genre,
		CoverArt:         c.CoverArt.String(),
		Size:             c.Size,
		ContentType:      c.ContentType,
		Suffix:           c.Suffix,
		TranscodedSuffix: c.TranscodedSuffix,
		Duration:         c.Duration,
		BitRate:          c.BitRate,
		Path:             c.Path,
		IsDir:            c.IsDir,
		IsVideo:          c.IsVideo,
		Starred:          c.Starred != "",
	}
}

func toSongs(children []wireChild) []catalog.Song {
	if len(children) == 0 {
		return nil
	}
	songs := make([]catalog.Song, 0, len(children))
	for _, c := range children {
		songs = append(songs, c.toSong())
	}
	return songs
}

func albumsToSongs(albums []wireChild) []catalog.Song {
	songs := toSongs(albums)
	for i := range songs {
		songs[i].IsDir = true
	}
	return songs
}

type wireDirectory struct {
	ID     FlexibleID  `json:"id"`
	Parent FlexibleID  `json:"parent"`
	Name   string      `json:"name"`
	Child  []wireChild `json:"child"`
}

type wireArtistDetail struct {
	ID    FlexibleID  `json:"id"`
	Name  string      `json:"name"`
	Album []wireChild `json:"album"`
}

type wireAlbumDetail struct {
	ID       FlexibleID  `json:"id"`
	Name     string      `json:"name"`
	ArtistID FlexibleID  `json:"artistId"`
	Song     []wireChild `json:"song"`
}

type wirePlaylist struct {
	ID        FlexibleID   `json:"id"`
	Name      string       `json:"name"`
	Owner     string       `json:"owner"`
	Comment   string       `json:"comment"`
	Public    bool         `json:"public"`
	SongCount int          `json:"songCount"`
	Duration  int          `json:"duration"`
	Created   FlexibleTime `json:"created"`
	Changed   FlexibleTime `json:"changed"`
	Entry     []wireChild  `json:"entry"`
}

func (p wirePlaylist) toPlaylist() catalog.Playlist {
	return catalog.Playlist{
		ID:        p.ID.String(),
		Name:      p.Name,
		Owner:     p.Owner,
		Comment:   p.Comment,
		Public:    p.Public,
		SongCount: p.SongCount,
		Duration:  p.Duration,
		Created:   p.Created.Time,
		Changed:   p.Changed.Time,
		Entries:   toSongs(p.Entry),
	}
}

type wireGenre struct {
	Value      string `json:"value"`
	SongCount  int    `json:"songCount"`
	AlbumCount int    `json:"albumCount"`
}

type wireLicense struct {
	Valid          bool         `json:"valid"`
	Email          string       `json:"email"`
	LicenseExpires FlexibleTime `json:"licenseExpires"`
}

type wireUser struct {
	Username       string `json:"username"`
	Email          string `json:"email"`
	AdminRole      bool   `json:"adminRole"`
	DownloadRole   bool   `json:"downloadRole"`
	StreamRole     bool   `json:"streamRole"`
	PlaylistRole   bool   `json:"playlistRole"`
	ShareRole      bool   `json:"shareRole"`
	CommentRole    bool   `json:"commentRole"`
	ScrobblingRole bool   `json:"scrobblingRole"`
}

type wireSearchResult struct {
	Artist []wireArtist `json:"artist"`
	Album  []wireChild  `json:"album"`
	Song   []wireChild  `json:"song"`
}

func (r wireSearchResult) toSearchResult() *catalog.SearchResult {
	out := &catalog.SearchResult{
		Albums: albumsToSongs(r.Album),
		Songs:  toSongs(r.Song),
	}
	for _, a := range r.Artist {
		out.Artists = append(out.Artists, a.toArtist())
	}
	return out
}

type wireBookmark struct {
	Position int64        `json:"position"`
	Comment  string       `json:"comment"`
	Created  FlexibleTime `json:"created"`
	Changed  FlexibleTime `json:"changed"`
	Entry    wireChild    `json:"entry"`
}

type wireShare struct {
	ID          FlexibleID   `json:"id"`
	URL         string       `json:"url"`
	Description string       `json:"description"`
	Expires     FlexibleTime `json:"expires"`
	Entry       []wireChild  `json:"entry"`
}

func (s wireShare) toShare() catalog.Share {
	return catalog.Share{
		ID:          s.ID.String(),
		URL:         s.URL,
		Description: s.Description,
		Expires:     s.Expires.Time,
		Entries:     toSongs(s.Entry),
	}
}
