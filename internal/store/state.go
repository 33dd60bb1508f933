package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/offtrack/offtrack-core/internal/catalog"
)

const (
	keyCurrent  = "current_index"
	keyPosition = "position_ms"
	keyServer   = "server"
)

// QueueState is the persisted part of the download manager
type QueueState struct {
	Songs      []catalog.Song
	Background []catalog.Song
	// Current is the playing index into Songs, -1 when nothing is selected
	Current  int
	Position int64 // milliseconds
	Server   string
	// Pinned lists the ids of songs exempt from eviction
	Pinned []string
}

// IsPinned reports whether the song with id is pinned
func (q QueueState) IsPinned(id string) bool {
	for _, p := range q.Pinned {
		if p == id {
			return true
		}
	}
	return false
}

// HistoryEntry is one finished download
type HistoryEntry struct {
	SongID       string    `json:"song_id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album"`
	FilePath     string    `json:"file_path"`
	FileSize     int64     `json:"file_size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// StateStore persists the play queue and player position
type StateStore struct {
	db *sql.DB
	mu sync.Mutex // serializes queue rewrites
}

// NewStateStore creates a new StateStore
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// SaveQueue replaces the stored queue with state
func (s *StateStore) SaveQueue(state QueueState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM play_queue"); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO play_queue (background, position, song_id, song_json, pinned) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	insert := func(background bool, songs []catalog.Song) error {
		for i, song := range songs {
			data, err := json.Marshal(song)
			if err != nil {
				return fmt.Errorf("failed to encode song %s: %w", song.ID, err)
			}
			if _, err := stmt.Exec(background, i, song.ID, string(data), state.IsPinned(song.ID)); err != nil {
				return fmt.Errorf("failed to insert song %s: %w", song.ID, err)
			}
		}
		return nil
	}
	if err := insert(false, state.Songs); err != nil {
		return err
	}
	if err := insert(true, state.Background); err != nil {
		return err
	}

	values := map[string]string{
		keyCurrent:  strconv.Itoa(state.Current),
		keyPosition: strconv.FormatInt(state.Position, 10),
		keyServer:   state.Server,
	}
	for k, v := range values {
		if err := setValue(tx, k, v); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit queue: %w", err)
	}
	return nil
}

// SavePosition updates only the player position
func (s *StateStore) SavePosition(positionMS int64) error {
	return setValue(s.db, keyPosition, strconv.FormatInt(positionMS, 10))
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func setValue(e execer, key, value string) error {
	_, err := e.Exec(`
		INSERT INTO player_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *StateStore) getValue(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM player_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

// LoadQueue returns the stored queue. An empty store yields Current -1.
func (s *StateStore) LoadQueue() (QueueState, error) {
	state := QueueState{Current: -1}

	rows, err := s.db.Query("SELECT background, song_json, pinned FROM play_queue ORDER BY background, position")
	if err != nil {
		return state, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var background, pinned bool
		var data string
		if err := rows.Scan(&background, &data, &pinned); err != nil {
			return state, fmt.Errorf("failed to scan queue row: %w", err)
		}
		var song catalog.Song
		if err := json.Unmarshal([]byte(data), &song); err != nil {
			return state, fmt.Errorf("failed to decode song: %w", err)
		}
		if pinned && !state.IsPinned(song.ID) {
			state.Pinned = append(state.Pinned, song.ID)
		}
		if background {
			state.Background = append(state.Background, song)
		} else {
			state.Songs = append(state.Songs, song)
		}
	}
	if err := rows.Err(); err != nil {
		return state, err
	}

	if v, err := s.getValue(keyCurrent); err != nil {
		return state, err
	} else if v != "" {
		if n, err := strconv.Atoi(v); err == nil && n < len(state.Songs) {
			state.Current = n
		}
	}
	if v, err := s.getValue(keyPosition); err != nil {
		return state, err
	} else if v != "" {
		state.Position, _ = strconv.ParseInt(v, 10, 64)
	}
	server, err := s.getValue(keyServer)
	if err != nil {
		return state, err
	}
	state.Server = server

	return state, nil
}

// QueueSize returns the number of stored songs in both lists
func (s *StateStore) QueueSize() (int, error) {
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM play_queue").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return count, nil
}

// AddToHistory records a finished download
func (s *StateStore) AddToHistory(song catalog.Song, filePath string, fileSize int64) error {
	_, err := s.db.Exec(`
		INSERT INTO download_history (song_id, title, artist, album, file_path, file_size)
		VALUES (?, ?, ?, ?, ?, ?)
	`, song.ID, song.Title, song.Artist, song.Album, filePath, fileSize)
	if err != nil {
		return fmt.Errorf("failed to add to history: %w", err)
	}
	return nil
}

// GetHistory returns the most recent downloads first
func (s *StateStore) GetHistory(limit int) ([]HistoryEntry, error) {
	rows, err := s.db.Query(`
		SELECT song_id, title, COALESCE(artist, ''), COALESCE(album, ''),
		       COALESCE(file_path, ''), COALESCE(file_size, 0), downloaded_at
		FROM download_history
		ORDER BY downloaded_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.SongID, &h.Title, &h.Artist, &h.Album, &h.FilePath, &h.FileSize, &h.DownloadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// GetDB returns the underlying database connection
func (s *StateStore) GetDB() *sql.DB {
	return s.db
}
