package download

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/offtrack/offtrack-core/internal/catalog"
	apperrors "github.com/offtrack/offtrack-core/internal/errors"
	"github.com/offtrack/offtrack-core/internal/storage"
)

// State is the fetch state of an Entry. Pinning is tracked separately.
type State int

const (
	StateIdle State = iota
	StateDownloading
	StateComplete
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDownloading:
		return "downloading"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Entry is the download state of one song
type Entry struct {
	song  catalog.Song
	files storage.SongFiles

	mu         sync.RWMutex
	state      State
	pinned     bool
	expected   int64 // -1 when unknown
	retryCount int
	lastError  error
	failedAt   time.Time

	transferred atomic.Int64
	cancelled   atomic.Bool
	// preempted marks a fetch stopped to make room for the playing entry
	preempted atomic.Bool
}

// newEntry builds the entry for song and picks up any files already on disk
func newEntry(song catalog.Song, files storage.SongFiles) *Entry {
	e := &Entry{
		song:     song,
		files:    files,
		state:    StateIdle,
		expected: -1,
	}
	// transcoded streams differ in size from the stored original
	if song.Size > 0 && song.TranscodedSuffix == "" {
		e.expected = song.Size
	}

	switch {
	case fileExists(files.Save):
		e.pinned = true
		e.state = StateComplete
		e.expected = fileSize(files.Save)
		e.transferred.Store(e.expected)
	case fileExists(files.Complete):
		e.state = StateComplete
		e.expected = fileSize(files.Complete)
		e.transferred.Store(e.expected)
	case fileExists(files.Partial):
		e.transferred.Store(fileSize(files.Partial))
	}
	return e
}

// ID returns the song id
func (e *Entry) ID() string { return e.song.ID }

// Song returns the catalog song this entry downloads
func (e *Entry) Song() catalog.Song { return e.song }

// Files returns the paths the entry may occupy
func (e *Entry) Files() storage.SongFiles { return e.files }

// State returns the current fetch state
func (e *Entry) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsPinned reports whether the entry is exempt from eviction
func (e *Entry) IsPinned() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pinned
}

// IsDownloading reports whether a worker currently owns the entry
func (e *Entry) IsDownloading() bool {
	return e.State() == StateDownloading
}

// IsPending reports whether more bytes may still arrive: the entry is being
// fetched, waiting for a worker, or failed and will be retried
func (e *Entry) IsPending() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case StateIdle, StateDownloading:
		return !e.cancelled.Load()
	case StateFailed:
		return apperrors.IsRetryable(e.lastError)
	default:
		return false
	}
}

// IsWorkDone reports whether the fetch has finished successfully
func (e *Entry) IsWorkDone() bool {
	return e.State() == StateComplete
}

// IsCompleteFileAvailable reports whether a finished file is on disk
func (e *Entry) IsCompleteFileAvailable() bool {
	return fileExists(e.files.Save) || fileExists(e.files.Complete)
}

// PlayablePath returns the best file to read from: the pinned file, the
// complete file, then the partial file. It is empty when none exist.
func (e *Entry) PlayablePath() string {
	for _, p := range []string{e.files.Save, e.files.Complete, e.files.Partial} {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

// CompletePath returns the finished file on disk, or "" while not finished
func (e *Entry) CompletePath() string {
	if fileExists(e.files.Save) {
		return e.files.Save
	}
	if fileExists(e.files.Complete) {
		return e.files.Complete
	}
	return ""
}

// Progress returns the bytes written so far and the expected size (-1 when
// unknown)
func (e *Entry) Progress() (int64, int64) {
	e.mu.RLock()
	expected := e.expected
	e.mu.RUnlock()
	return e.transferred.Load(), expected
}

// ExpectedSize returns the final size when known, otherwise -1
func (e *Entry) ExpectedSize() int64 {
	_, expected := e.Progress()
	return expected
}

// RetryCount returns the number of failed attempts since the last success
func (e *Entry) RetryCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.retryCount
}

// LastError returns the error of the last failed attempt
func (e *Entry) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastError
}

// Cancel asks the worker to stop between chunks. An entry that is not being
// fetched becomes Cancelled at once. The partial file is kept.
func (e *Entry) Cancel() {
	e.cancelled.Store(true)
	e.mu.Lock()
	if e.state == StateIdle || e.state == StateFailed {
		e.state = StateCancelled
	}
	e.mu.Unlock()
}

func (e *Entry) isCancelled() bool {
	return e.cancelled.Load()
}

// Pin exempts the entry from eviction, moving a complete file to the plain
// save name
func (e *Entry) Pin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fileExists(e.files.Complete) {
		if err := os.Rename(e.files.Complete, e.files.Save); err != nil {
			return apperrors.NewFileSystemError("failed to pin "+e.song.ID, err)
		}
	}
	e.pinned = true
	return nil
}

// Unpin makes the entry evictable again. The file is kept.
func (e *Entry) Unpin() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned = false
	if fileExists(e.files.Save) {
		if err := os.Rename(e.files.Save, e.files.Complete); err != nil {
			return apperrors.NewFileSystemError("failed to unpin "+e.song.ID, err)
		}
	}
	return nil
}

// Delete removes every file of the entry, pinned or not, and leaves it
// Cancelled so the dispatcher does not fetch it again
func (e *Entry) Delete() error {
	e.cancelled.Store(true)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pinned = false
	if e.state != StateDownloading {
		e.state = StateCancelled
	}
	e.transferred.Store(0)
	return removeFiles(e.files.Partial, e.files.Complete, e.files.Save)
}

// cleanup removes the cache artifacts of an unpinned entry dropped from the
// queue
func (e *Entry) cleanup() error {
	e.mu.RLock()
	pinned := e.pinned
	e.mu.RUnlock()
	if pinned {
		return nil
	}
	return removeFiles(e.files.Partial, e.files.Complete)
}

// requeue makes a cancelled or failed entry eligible again
func (e *Entry) requeue() {
	e.cancelled.Store(false)
	e.revalidate()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateCancelled || e.state == StateFailed {
		e.state = StateIdle
		e.retryCount = 0
		e.lastError = nil
	}
}

// revalidate turns a Complete entry whose file was evicted back to Idle
func (e *Entry) revalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateComplete && !fileExists(e.files.Save) && !fileExists(e.files.Complete) {
		e.state = StateIdle
		e.transferred.Store(fileSize(e.files.Partial))
	}
}

// eligible reports whether the dispatcher may start a fetch now
func (e *Entry) eligible(now time.Time, maxRetries int, backoff func(int) time.Duration) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	switch e.state {
	case StateIdle:
		return true
	case StateFailed:
		if e.retryCount > maxRetries || !apperrors.IsRetryable(e.lastError) {
			return false
		}
		return !now.Before(e.failedAt.Add(backoff(e.retryCount - 1)))
	default:
		return false
	}
}

func (e *Entry) begin() {
	e.mu.Lock()
	e.state = StateDownloading
	e.mu.Unlock()
	e.preempted.Store(false)
}

func (e *Entry) setExpected(total int64) {
	if total < 0 {
		return
	}
	e.mu.Lock()
	e.expected = total
	e.mu.Unlock()
}

// finish moves the partial file to its final name. The rename happens under
// the entry lock so a concurrent Pin or Unpin sees one consistent name.
func (e *Entry) finish() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancelled.Load() {
		return apperrors.NewCancelledError("download cancelled")
	}
	dest := e.files.Complete
	if e.pinned {
		dest = e.files.Save
	}
	if err := os.Rename(e.files.Partial, dest); err != nil {
		return apperrors.NewFileSystemError("failed to finalize "+e.song.ID, err)
	}
	e.state = StateComplete
	e.expected = e.transferred.Load()
	e.retryCount = 0
	e.lastError = nil
	return nil
}

// stopped records the end of an unsuccessful fetch
func (e *Entry) stopped(err error, now time.Time) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.cancelled.Load():
		e.state = StateCancelled
	case e.preempted.Load() || apperrors.IsCancelled(err):
		// shut down or pushed aside; the partial is resumed later
		e.state = StateIdle
	default:
		e.state = StateFailed
		e.retryCount++
		e.lastError = err
		e.failedAt = now
	}
	return e.state
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func removeFiles(paths ...string) error {
	var firstErr error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = apperrors.NewFileSystemError("failed to delete "+filepath.Base(p), err)
		}
	}
	return firstErr
}
