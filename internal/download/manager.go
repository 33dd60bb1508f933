// Package download keeps the play queue and fetches its songs into the
// local cache, the playing song first.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/offtrack/offtrack-core/internal/catalog"
	apperrors "github.com/offtrack/offtrack-core/internal/errors"
	"github.com/offtrack/offtrack-core/internal/monitoring"
	"github.com/offtrack/offtrack-core/internal/storage"
	"github.com/offtrack/offtrack-core/internal/store"
	"github.com/offtrack/offtrack-core/internal/worker"
)

const (
	jobKindDownload  = "download"
	chunkSize        = 64 * 1024
	dispatchInterval = time.Second
)

// StateStore persists the queue between runs
type StateStore interface {
	SaveQueue(state store.QueueState) error
	LoadQueue() (store.QueueState, error)
	SavePosition(positionMS int64) error
	AddToHistory(song catalog.Song, filePath string, fileSize int64) error
}

// Options configures a Manager
type Options struct {
	Layout       storage.Layout
	Workers      int
	PreloadCount int
	// MaxRetries bounds the retries of a failed entry; Retry.Backoff spaces them
	MaxRetries int
	Retry      apperrors.RetryConfig
	// State is optional
	State StateStore
	// Server names the server the queue belongs to; a stored queue of
	// another server is not restored
	Server string
	// OnComplete runs on the worker after a song finished downloading
	OnComplete func(ctx context.Context, e *Entry)
	Clock      func() time.Time
}

// DownloadOptions controls how Download adds songs
type DownloadOptions struct {
	// Save pins the songs
	Save bool
	// Autoplay makes the first added song the playing one
	Autoplay bool
	// PlayNext inserts after the playing song instead of appending
	PlayNext bool
	// Background adds the songs to the save-only list, not the play list
	Background bool
}

// Stats is a snapshot of the manager for status reporting
type Stats struct {
	PlayList   int `json:"play_list"`
	Background int `json:"background"`
	Active     int `json:"active"`
	Complete   int `json:"complete"`
	Failed     int `json:"failed"`
	MaxWorkers int `json:"max_workers"`
}

// Manager coordinates the play queue and its downloads
type Manager struct {
	opts    Options
	fetcher Fetcher
	logger  *zap.Logger
	pool    *worker.WorkerPool

	mu         sync.RWMutex
	playlist   []*Entry
	background []*Entry
	current    int
	position   int64
	revision   uint64
	inflight   map[string]*Entry
	started    bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	persistMu sync.Mutex
	wake      chan struct{}
}

// NewManager creates a new download manager
func NewManager(fetcher Fetcher, opts Options, logger *zap.Logger) (*Manager, error) {
	if fetcher == nil {
		return nil, apperrors.NewValidationError("fetcher is required")
	}
	if opts.Layout.Root == "" {
		return nil, apperrors.NewValidationError("cache root is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.PreloadCount < 0 {
		opts.PreloadCount = 0
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Retry.InitialBackoff <= 0 {
		opts.Retry = apperrors.DefaultRetryConfig()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger = monitoring.Component(logger, "download")

	m := &Manager{
		opts:     opts,
		fetcher:  fetcher,
		logger:   logger,
		current:  -1,
		inflight: make(map[string]*Entry),
		wake:     make(chan struct{}, 1),
	}
	m.pool = worker.NewWorkerPool(opts.Workers, m.handleJob, logger.Named("pool"))
	return m, nil
}

// Start restores the stored queue and starts the workers
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("download manager already started")
	}

	if err := m.restoreLocked(); err != nil {
		m.logger.Warn("failed to restore queue", zap.Error(err))
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := m.pool.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	m.cancel = cancel
	m.started = true

	m.wg.Add(2)
	go m.processResults(m.pool.Results())
	go m.dispatch(runCtx)

	m.logger.Info("download manager started",
		zap.Int("workers", m.opts.Workers),
		zap.Int("preload", m.opts.PreloadCount),
		zap.Int("queued", len(m.playlist)+len(m.background)))
	return nil
}

// Stop cancels running downloads, waits for the workers and saves the queue.
// Interrupted entries go back to Idle and resume from their partial file.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.pool.Stop()
	m.wg.Wait()

	m.mu.Lock()
	m.inflight = make(map[string]*Entry)
	m.mu.Unlock()

	m.persist()
	m.logger.Info("download manager stopped")
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dispatch hands eligible entries to free workers until ctx ends. The ticker
// picks up failed entries whose backoff elapsed.
func (m *Manager) dispatch(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		m.fill()
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}
	}
}

func (m *Manager) fill() {
	for {
		m.mu.Lock()
		if !m.started {
			m.mu.Unlock()
			return
		}
		e := m.selectNextLocked()
		if e == nil {
			m.preemptForCurrentLocked()
			m.mu.Unlock()
			return
		}
		e.begin()
		m.inflight[e.ID()] = e
		m.mu.Unlock()

		if err := m.pool.Submit(&worker.Job{ID: e.ID(), Kind: jobKindDownload}); err != nil {
			m.mu.Lock()
			delete(m.inflight, e.ID())
			m.mu.Unlock()
			e.stopped(apperrors.NewCancelledError("worker pool unavailable"), m.opts.Clock())
			m.logger.Debug("failed to submit download", zap.String("id", e.ID()), zap.Error(err))
			return
		}
	}
}

// candidatesLocked lists the entries in service order: the playing entry,
// the preload window after it, pinned entries outside the window, then the
// background list
func (m *Manager) candidatesLocked() []*Entry {
	seen := make(map[string]bool)
	var out []*Entry
	add := func(e *Entry) {
		if !seen[e.ID()] {
			seen[e.ID()] = true
			out = append(out, e)
		}
	}

	start := m.current
	if start < 0 {
		start = 0
	}
	end := start + m.opts.PreloadCount
	if end >= len(m.playlist) {
		end = len(m.playlist) - 1
	}
	for i := start; i <= end; i++ {
		add(m.playlist[i])
	}
	for _, e := range m.playlist {
		if e.IsPinned() {
			add(e)
		}
	}
	for _, e := range m.background {
		add(e)
	}
	return out
}

func (m *Manager) selectNextLocked() *Entry {
	if len(m.inflight) >= m.opts.Workers {
		return nil
	}
	now := m.opts.Clock()
	for _, e := range m.candidatesLocked() {
		if _, busy := m.inflight[e.ID()]; busy {
			continue
		}
		e.revalidate()
		if e.eligible(now, m.opts.MaxRetries, m.opts.Retry.Backoff) {
			return e
		}
	}
	return nil
}

// preemptForCurrentLocked frees a worker for the playing entry when every
// worker is busy with look-ahead work
func (m *Manager) preemptForCurrentLocked() {
	if len(m.inflight) < m.opts.Workers || m.current < 0 || m.current >= len(m.playlist) {
		return
	}
	cur := m.playlist[m.current]
	if _, busy := m.inflight[cur.ID()]; busy {
		return
	}
	cur.revalidate()
	if !cur.eligible(m.opts.Clock(), m.opts.MaxRetries, m.opts.Retry.Backoff) {
		return
	}
	for _, e := range m.inflight {
		if e.preempted.Load() {
			return
		}
	}
	for id, e := range m.inflight {
		e.preempted.Store(true)
		m.pool.CancelJob(id)
		m.logger.Debug("preempted download for playing entry",
			zap.String("preempted", id),
			zap.String("playing", cur.ID()))
		return
	}
}

// handleJob runs one download on a worker
func (m *Manager) handleJob(ctx context.Context, job *worker.Job) error {
	m.mu.RLock()
	e := m.inflight[job.ID]
	m.mu.RUnlock()
	if e == nil {
		return fmt.Errorf("no entry for job %s", job.ID)
	}

	start := m.opts.Clock()
	monitoring.RecordDownloadStart()

	n, err := m.fetchEntry(ctx, e)
	if err != nil {
		switch e.stopped(err, m.opts.Clock()) {
		case StateFailed:
			monitoring.RecordDownloadFailed(string(apperrors.GetErrorType(err)))
		default:
			monitoring.RecordDownloadCancelled()
		}
		return err
	}

	monitoring.RecordDownloadComplete(m.opts.Clock().Sub(start), n)
	m.recordHistory(e)
	if m.opts.OnComplete != nil {
		m.opts.OnComplete(ctx, e)
	}
	return nil
}

// fetchEntry streams the song into its partial file, resuming from the
// bytes already there, and renames it once complete. It returns the bytes
// transferred by this attempt.
func (m *Manager) fetchEntry(ctx context.Context, e *Entry) (int64, error) {
	if e.isCancelled() {
		return 0, apperrors.NewCancelledError("download cancelled")
	}

	files := e.Files()
	if err := os.MkdirAll(filepath.Dir(files.Partial), 0755); err != nil {
		return 0, apperrors.NewFileSystemError("failed to create album directory", err)
	}
	offset := fileSize(files.Partial)

	stream, err := m.fetcher.Fetch(ctx, e.Song(), offset)
	if err != nil {
		return 0, err
	}
	defer stream.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if stream.Resumed() {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(files.Partial, flags, 0644)
	if err != nil {
		return 0, apperrors.NewFileSystemError("failed to open partial file", err)
	}

	e.transferred.Store(stream.Offset)
	e.setExpected(stream.Total)

	written := stream.Offset
	buf := make([]byte, chunkSize)
	for {
		if e.isCancelled() || e.preempted.Load() {
			f.Close()
			return written - stream.Offset, apperrors.NewCancelledError("download cancelled")
		}

		n, rerr := stream.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				f.Close()
				return written - stream.Offset, apperrors.NewFileSystemError("failed to write partial file", werr)
			}
			written += int64(n)
			e.transferred.Store(written)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			f.Close()
			if ctx.Err() != nil {
				return written - stream.Offset, apperrors.NewCancelledError("download cancelled")
			}
			return written - stream.Offset, apperrors.NewNetworkError("failed to read stream", rerr)
		}
	}

	if err := f.Close(); err != nil {
		return written - stream.Offset, apperrors.NewFileSystemError("failed to close partial file", err)
	}
	if stream.Total >= 0 && written != stream.Total {
		return written - stream.Offset, apperrors.NewNetworkError("download incomplete",
			fmt.Errorf("got %d of %d bytes", written, stream.Total))
	}
	if e.isCancelled() {
		return written - stream.Offset, apperrors.NewCancelledError("download cancelled")
	}
	if err := e.finish(); err != nil {
		return written - stream.Offset, err
	}
	return written - stream.Offset, nil
}

func (m *Manager) recordHistory(e *Entry) {
	if m.opts.State == nil {
		return
	}
	path := e.CompletePath()
	if err := m.opts.State.AddToHistory(e.Song(), path, fileSize(path)); err != nil {
		m.logger.Warn("failed to record download history", zap.String("id", e.ID()), zap.Error(err))
	}
}

// processResults releases worker slots and logs outcomes
func (m *Manager) processResults(results <-chan *worker.Result) {
	defer m.wg.Done()
	for r := range results {
		m.mu.Lock()
		e := m.inflight[r.JobID]
		delete(m.inflight, r.JobID)
		m.mu.Unlock()

		if e != nil {
			switch {
			case r.Success:
				transferred, _ := e.Progress()
				m.logger.Info("download complete",
					zap.String("id", e.ID()),
					zap.String("title", e.Song().Title),
					zap.Int64("bytes", transferred))
			case e.State() == StateFailed:
				m.logger.Warn("download failed",
					zap.String("id", e.ID()),
					zap.Int("attempt", e.RetryCount()),
					zap.Int("max_retries", m.opts.MaxRetries),
					zap.Bool("retryable", apperrors.IsRetryable(r.Error)),
					zap.Error(r.Error))
			default:
				m.logger.Debug("download stopped",
					zap.String("id", e.ID()),
					zap.String("state", e.State().String()))
			}
		}
		m.signal()
	}
}

// entryForLocked returns the queued entry of song, or a new one
func (m *Manager) entryForLocked(song catalog.Song) *Entry {
	if e := m.lookupLocked(song.ID); e != nil {
		return e
	}
	return newEntry(song, m.opts.Layout.SongFiles(song))
}

func (m *Manager) lookupLocked(id string) *Entry {
	for _, e := range m.playlist {
		if e.ID() == id {
			return e
		}
	}
	for _, e := range m.background {
		if e.ID() == id {
			return e
		}
	}
	return nil
}

func (m *Manager) referencedLocked(e *Entry) bool {
	for _, o := range m.playlist {
		if o == e {
			return true
		}
	}
	for _, o := range m.background {
		if o == e {
			return true
		}
	}
	return false
}

func (m *Manager) changedLocked() {
	m.revision++
	monitoring.UpdateQueueSize(len(m.playlist) + len(m.background))
}

// Download adds songs to the play list (or the background list) and wakes
// the workers. Directories are skipped.
func (m *Manager) Download(songs []catalog.Song, opts DownloadOptions) error {
	var errs []error

	m.mu.Lock()
	var added []*Entry
	for _, song := range songs {
		if song.IsDir {
			continue
		}
		e := m.entryForLocked(song)
		e.requeue()
		if opts.Save {
			if err := e.Pin(); err != nil {
				errs = append(errs, err)
			}
		}
		added = append(added, e)
	}
	if len(added) == 0 {
		m.mu.Unlock()
		return errors.Join(errs...)
	}

	switch {
	case opts.Background:
		for _, e := range added {
			if !containsEntry(m.background, e) {
				m.background = append(m.background, e)
			}
		}
	case opts.PlayNext:
		at := m.current + 1
		if at < 0 {
			at = 0
		}
		rest := append([]*Entry{}, m.playlist[at:]...)
		m.playlist = append(append(m.playlist[:at], added...), rest...)
		if opts.Autoplay {
			m.current = at
		}
	default:
		at := len(m.playlist)
		m.playlist = append(m.playlist, added...)
		if opts.Autoplay {
			m.current = at
		}
	}
	m.changedLocked()
	m.mu.Unlock()

	m.persist()
	m.signal()
	return errors.Join(errs...)
}

func containsEntry(list []*Entry, e *Entry) bool {
	for _, o := range list {
		if o == e {
			return true
		}
	}
	return false
}

// Play makes the entry at index the playing one and moves it to the front
// of the download priority
func (m *Manager) Play(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.playlist) {
		m.mu.Unlock()
		return apperrors.NewValidationError(fmt.Sprintf("index %d out of range", index))
	}
	m.current = index
	m.position = 0
	m.playlist[index].requeue()
	m.changedLocked()
	m.mu.Unlock()

	m.persist()
	m.signal()
	return nil
}

// Next plays the following entry
func (m *Manager) Next() error {
	m.mu.RLock()
	next := m.current + 1
	m.mu.RUnlock()
	return m.Play(next)
}

// Previous plays the preceding entry
func (m *Manager) Previous() error {
	m.mu.RLock()
	prev := m.current - 1
	m.mu.RUnlock()
	return m.Play(prev)
}

// CurrentPlaying returns the playing entry, or nil
func (m *Manager) CurrentPlaying() *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current < 0 || m.current >= len(m.playlist) {
		return nil
	}
	return m.playlist[m.current]
}

// CurrentPlayingIndex returns the playing index, -1 when nothing plays
func (m *Manager) CurrentPlayingIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// PlayList returns a snapshot of the play list
func (m *Manager) PlayList() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Entry(nil), m.playlist...)
}

// Downloads returns the play list followed by the background list
func (m *Manager) Downloads() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.playlist)+len(m.background))
	out = append(out, m.playlist...)
	for _, e := range m.background {
		if !containsEntry(out, e) {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the queued entry with the given song id, or nil
func (m *Manager) Lookup(id string) *Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(id)
}

// Remove drops e from both lists. An entry no longer queued stops
// downloading and, unless pinned, loses its partial and complete files.
func (m *Manager) Remove(e *Entry) error {
	if e == nil {
		return apperrors.NewValidationError("entry is required")
	}

	m.mu.Lock()
	found := false
	for i := 0; i < len(m.playlist); i++ {
		if m.playlist[i] != e {
			continue
		}
		found = true
		m.playlist = append(m.playlist[:i], m.playlist[i+1:]...)
		switch {
		case i < m.current:
			m.current--
		case i == m.current:
			m.current = -1
		}
		i--
	}
	for i := 0; i < len(m.background); i++ {
		if m.background[i] == e {
			found = true
			m.background = append(m.background[:i], m.background[i+1:]...)
			i--
		}
	}
	if !found {
		m.mu.Unlock()
		return apperrors.NewNotFoundError("entry not queued: " + e.ID())
	}
	m.changedLocked()
	m.mu.Unlock()

	e.Cancel()
	m.pool.CancelJob(e.ID())
	if err := e.cleanup(); err != nil {
		m.logger.Warn("failed to clean up removed entry", zap.String("id", e.ID()), zap.Error(err))
	}

	m.persist()
	m.signal()
	return nil
}

// Delete removes the files of songs, pinned ones included. Queued songs stay
// in the queue but are not fetched again until re-added.
func (m *Manager) Delete(songs []catalog.Song) error {
	var errs []error
	for _, song := range songs {
		m.mu.RLock()
		e := m.entryForLocked(song)
		m.mu.RUnlock()

		if err := e.Delete(); err != nil {
			errs = append(errs, err)
		}
		m.pool.CancelJob(e.ID())
	}
	m.persist()
	return errors.Join(errs...)
}

// Pin exempts songs from eviction
func (m *Manager) Pin(songs []catalog.Song) error {
	var errs []error
	for _, song := range songs {
		m.mu.RLock()
		e := m.entryForLocked(song)
		m.mu.RUnlock()
		if err := e.Pin(); err != nil {
			errs = append(errs, err)
		}
	}
	m.persist()
	m.signal()
	return errors.Join(errs...)
}

// Unpin makes songs evictable again, keeping their files
func (m *Manager) Unpin(songs []catalog.Song) error {
	var errs []error
	for _, song := range songs {
		m.mu.RLock()
		e := m.entryForLocked(song)
		m.mu.RUnlock()
		if err := e.Unpin(); err != nil {
			errs = append(errs, err)
		}
	}
	m.persist()
	return errors.Join(errs...)
}

// Clear empties the play list. Files are kept; background downloads go on.
func (m *Manager) Clear() {
	m.mu.Lock()
	dropped := m.playlist
	m.playlist = nil
	m.current = -1
	m.position = 0
	m.changedLocked()
	for _, e := range dropped {
		if !containsEntry(m.background, e) && m.pool.IsJobActive(e.ID()) {
			m.pool.CancelJob(e.ID())
		}
	}
	m.mu.Unlock()

	m.persist()
}

// SetPlayerPosition records the playback position in milliseconds
func (m *Manager) SetPlayerPosition(ms int64) {
	m.mu.Lock()
	m.position = ms
	m.mu.Unlock()

	if m.opts.State == nil {
		return
	}
	if err := m.opts.State.SavePosition(ms); err != nil {
		m.logger.Warn("failed to save player position", zap.Error(err))
	}
}

// PlayerPosition returns the playback position in milliseconds
func (m *Manager) PlayerPosition() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.position
}

// PlayListUpdateRevision increases on every structural change of the queue
func (m *Manager) PlayListUpdateRevision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// TotalDuration sums the durations of the play list
func (m *Manager) TotalDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var total time.Duration
	for _, e := range m.playlist {
		total += time.Duration(e.Song().Duration) * time.Second
	}
	return total
}

// InUseFiles returns the files of in-flight entries and of the playing entry.
// The cleaner must not delete them.
func (m *Manager) InUseFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	add := func(e *Entry) {
		f := e.Files()
		out = append(out, f.Partial, f.Complete, f.Save)
	}
	for _, e := range m.inflight {
		add(e)
	}
	if m.current >= 0 && m.current < len(m.playlist) {
		add(m.playlist[m.current])
	}
	return out
}

// PinnedFiles returns the files of pinned queued entries
func (m *Manager) PinnedFiles() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, list := range [][]*Entry{m.playlist, m.background} {
		for _, e := range list {
			if e.IsPinned() {
				f := e.Files()
				out = append(out, f.Save, f.Complete, f.Partial)
			}
		}
	}
	return out
}

// Stats returns a snapshot of the queue
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		PlayList:   len(m.playlist),
		Background: len(m.background),
		Active:     len(m.inflight),
		MaxWorkers: m.pool.GetMaxWorkers(),
	}
	seen := make(map[*Entry]bool)
	for _, list := range [][]*Entry{m.playlist, m.background} {
		for _, e := range list {
			if seen[e] {
				continue
			}
			seen[e] = true
			switch e.State() {
			case StateComplete:
				s.Complete++
			case StateFailed:
				s.Failed++
			}
		}
	}
	return s
}

// persist saves the queue; failures are logged
func (m *Manager) persist() {
	if m.opts.State == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.RLock()
	state := store.QueueState{
		Songs:      songsOf(m.playlist),
		Background: songsOf(m.background),
		Current:    m.current,
		Position:   m.position,
		Server:     m.opts.Server,
		Pinned:     pinnedIDs(m.playlist, m.background),
	}
	m.mu.RUnlock()

	if err := m.opts.State.SaveQueue(state); err != nil {
		m.logger.Warn("failed to save queue", zap.Error(err))
	}
}

func pinnedIDs(lists ...[]*Entry) []string {
	var ids []string
	for _, list := range lists {
		for _, e := range list {
			if e.IsPinned() {
				ids = append(ids, e.ID())
			}
		}
	}
	return ids
}

func songsOf(entries []*Entry) []catalog.Song {
	songs := make([]catalog.Song, 0, len(entries))
	for _, e := range entries {
		songs = append(songs, e.Song())
	}
	return songs
}

// restoreLocked loads the stored queue when the manager holds none
func (m *Manager) restoreLocked() error {
	if m.opts.State == nil || len(m.playlist) > 0 || len(m.background) > 0 {
		return nil
	}
	state, err := m.opts.State.LoadQueue()
	if err != nil {
		return err
	}
	if state.Server != "" && m.opts.Server != "" && state.Server != m.opts.Server {
		m.logger.Info("stored queue belongs to another server",
			zap.String("stored", state.Server),
			zap.String("server", m.opts.Server))
		return nil
	}

	for _, song := range state.Songs {
		m.playlist = append(m.playlist, m.entryForLocked(song))
	}
	for _, song := range state.Background {
		m.background = append(m.background, m.entryForLocked(song))
	}
	for _, list := range [][]*Entry{m.playlist, m.background} {
		for _, e := range list {
			if !state.IsPinned(e.ID()) || e.IsPinned() {
				continue
			}
			if err := e.Pin(); err != nil {
				m.logger.Warn("failed to restore pin", zap.String("id", e.ID()), zap.Error(err))
			}
		}
	}
	if state.Current >= 0 && state.Current < len(m.playlist) {
		m.current = state.Current
		m.position = state.Position
	}
	if len(state.Songs)+len(state.Background) > 0 {
		m.changedLocked()
	}
	return nil
}
