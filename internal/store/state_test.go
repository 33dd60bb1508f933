package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/offtrack/offtrack-core/internal/catalog"
)

func setupTestDB(t *testing.T) *StateStore {
	t.Helper()
	db, err := InitDB(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStateStore(db)
}

func TestLoadQueueEmpty(t *testing.T) {
	s := setupTestDB(t)

	state, err := s.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if state.Current != -1 {
		t.Errorf("Expected current -1, got %d", state.Current)
	}
	if len(state.Songs) != 0 || len(state.Background) != 0 {
		t.Errorf("Expected empty queue, got %d/%d", len(state.Songs), len(state.Background))
	}
}

func TestSaveAndLoadQueue(t *testing.T) {
	s := setupTestDB(t)

	saved := QueueState{
		Songs: []catalog.Song{
			{ID: "a", Title: "A", Duration: 120, Suffix: "mp3"},
			{ID: "b", Title: "B", Duration: 180, Suffix: "flac"},
			{ID: "c", Title: "C", Duration: 90},
		},
		Background: []catalog.Song{{ID: "z", Title: "Z"}},
		Current:    1,
		Position:   42000,
		Server:     "home",
	}
	if err := s.SaveQueue(saved); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}

	loaded, err := s.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if len(loaded.Songs) != 3 {
		t.Fatalf("Expected 3 songs, got %d", len(loaded.Songs))
	}
	for i, id := range []string{"a", "b", "c"} {
		if loaded.Songs[i].ID != id {
			t.Errorf("Expected song %d to be %s, got %s", i, id, loaded.Songs[i].ID)
		}
	}
	if loaded.Songs[1].Suffix != "flac" || loaded.Songs[1].Duration != 180 {
		t.Errorf("Song fields not preserved: %+v", loaded.Songs[1])
	}
	if len(loaded.Background) != 1 || loaded.Background[0].ID != "z" {
		t.Errorf("Unexpected background list %+v", loaded.Background)
	}
	if loaded.Current != 1 {
		t.Errorf("Expected current 1, got %d", loaded.Current)
	}
	if loaded.Position != 42000 {
		t.Errorf("Expected position 42000, got %d", loaded.Position)
	}
	if loaded.Server != "home" {
		t.Errorf("Expected server home, got %s", loaded.Server)
	}

	size, err := s.QueueSize()
	if err != nil {
		t.Fatalf("QueueSize failed: %v", err)
	}
	if size != 4 {
		t.Errorf("Expected queue size 4, got %d", size)
	}
}

func TestSaveQueueReplaces(t *testing.T) {
	s := setupTestDB(t)

	s.SaveQueue(QueueState{Songs: []catalog.Song{{ID: "a"}, {ID: "b"}}, Current: 1})
	if err := s.SaveQueue(QueueState{Songs: []catalog.Song{{ID: "c"}}, Current: 0}); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}

	loaded, err := s.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if len(loaded.Songs) != 1 || loaded.Songs[0].ID != "c" {
		t.Errorf("Expected only song c, got %+v", loaded.Songs)
	}
	if loaded.Current != 0 {
		t.Errorf("Expected current 0, got %d", loaded.Current)
	}
}

func TestSavePosition(t *testing.T) {
	s := setupTestDB(t)

	s.SaveQueue(QueueState{Songs: []catalog.Song{{ID: "a"}}, Current: 0, Position: 10})
	if err := s.SavePosition(9000); err != nil {
		t.Fatalf("SavePosition failed: %v", err)
	}

	loaded, _ := s.LoadQueue()
	if loaded.Position != 9000 {
		t.Errorf("Expected position 9000, got %d", loaded.Position)
	}
}

func TestSaveQueuePinned(t *testing.T) {
	s := setupTestDB(t)

	err := s.SaveQueue(QueueState{
		Songs:      []catalog.Song{{ID: "a"}, {ID: "b"}},
		Background: []catalog.Song{{ID: "c"}},
		Current:    0,
		Pinned:     []string{"b", "c"},
	})
	if err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}

	loaded, err := s.LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if len(loaded.Pinned) != 2 {
		t.Fatalf("Expected 2 pinned songs, got %v", loaded.Pinned)
	}
	tests := []struct {
		id     string
		pinned bool
	}{
		{"a", false},
		{"b", true},
		{"c", true},
	}
	for _, tt := range tests {
		if got := loaded.IsPinned(tt.id); got != tt.pinned {
			t.Errorf("IsPinned(%q): expected %v, got %v", tt.id, tt.pinned, got)
		}
	}
}

func TestPersistenceAcrossConnections(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state.db")

	db1, err := InitDB(dbPath)
	if err != nil {
		t.Fatalf("Failed to initialize database: %v", err)
	}
	if err := NewStateStore(db1).SaveQueue(QueueState{Songs: []catalog.Song{{ID: "a"}}, Current: 0}); err != nil {
		t.Fatalf("SaveQueue failed: %v", err)
	}
	db1.Close()

	db2, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen database: %v", err)
	}
	defer db2.Close()

	loaded, err := NewStateStore(db2).LoadQueue()
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	if len(loaded.Songs) != 1 || loaded.Current != 0 {
		t.Errorf("Expected persisted queue, got %+v", loaded)
	}

	version, err := getCurrentVersion(db2)
	if err != nil {
		t.Fatalf("getCurrentVersion failed: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("Expected schema version %d, got %d", len(migrations), version)
	}
}

func TestHistory(t *testing.T) {
	s := setupTestDB(t)

	s.AddToHistory(catalog.Song{ID: "a", Title: "A", Artist: "X"}, "/music/a.mp3", 100)
	s.AddToHistory(catalog.Song{ID: "b", Title: "B"}, "/music/b.mp3", 200)

	history, err := s.GetHistory(10)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(history))
	}
	if history[0].SongID != "b" {
		t.Errorf("Expected newest first, got %s", history[0].SongID)
	}
	if history[1].Artist != "X" || history[1].FileSize != 100 {
		t.Errorf("Unexpected entry %+v", history[1])
	}

	limited, _ := s.GetHistory(1)
	if len(limited) != 1 {
		t.Errorf("Expected 1 entry with limit, got %d", len(limited))
	}
}
