package download

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/offtrack/offtrack-core/internal/catalog"
	apperrors "github.com/offtrack/offtrack-core/internal/errors"
	"github.com/offtrack/offtrack-core/internal/storage"
)

func testEntry(t *testing.T) *Entry {
	t.Helper()
	layout := storage.NewLayout(filepath.Join(t.TempDir(), "music"))
	song := catalog.Song{ID: "A", Title: "Song A", Artist: "Artist", Album: "Album", Suffix: "mp3"}
	files := layout.SongFiles(song)
	if err := os.MkdirAll(filepath.Dir(files.Partial), 0755); err != nil {
		t.Fatalf("Failed to create album dir: %v", err)
	}
	return newEntry(song, files)
}

func TestPinFailedRenameLeavesEntryUnpinned(t *testing.T) {
	e := testEntry(t)
	files := e.Files()
	os.WriteFile(files.Complete, []byte("done"), 0644)
	// a directory in the way makes the rename fail
	os.MkdirAll(filepath.Join(files.Save, "blocker"), 0755)

	err := e.Pin()
	if err == nil {
		t.Fatal("Expected Pin to fail")
	}
	if apperrors.GetErrorType(err) != apperrors.ErrTypeFileSystem {
		t.Errorf("Expected filesystem error, got %v", err)
	}
	if e.IsPinned() {
		t.Error("Expected entry to stay unpinned after a failed rename")
	}
	if _, err := os.Stat(files.Complete); err != nil {
		t.Errorf("Expected complete file kept: %v", err)
	}
}

func TestPinWithoutFile(t *testing.T) {
	e := testEntry(t)

	if err := e.Pin(); err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	if !e.IsPinned() {
		t.Error("Expected entry to be pinned")
	}
}

func TestFinishAfterCancel(t *testing.T) {
	e := testEntry(t)
	files := e.Files()
	os.WriteFile(files.Partial, []byte("0123456789"), 0644)
	e.begin()

	e.Cancel()
	err := e.finish()
	if !apperrors.IsCancelled(err) {
		t.Fatalf("Expected cancelled error, got %v", err)
	}
	if _, err := os.Stat(files.Complete); !os.IsNotExist(err) {
		t.Error("Expected no complete file after cancel")
	}
	if _, err := os.Stat(files.Partial); err != nil {
		t.Errorf("Expected partial file kept: %v", err)
	}
	if e.State() == StateComplete {
		t.Error("Expected cancelled entry not to complete")
	}
}

func TestFinishRenamesPartial(t *testing.T) {
	e := testEntry(t)
	files := e.Files()
	os.WriteFile(files.Partial, []byte("0123456789"), 0644)
	e.begin()

	if err := e.finish(); err != nil {
		t.Fatalf("finish failed: %v", err)
	}
	if e.State() != StateComplete {
		t.Errorf("Expected state %s, got %s", StateComplete, e.State())
	}
	if _, err := os.Stat(files.Complete); err != nil {
		t.Errorf("Expected complete file: %v", err)
	}
}
