// Package proxy serves cached and still-downloading songs to a local player
// over a minimal loopback HTTP server.
package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/offtrack/offtrack-core/internal/download"
	"github.com/offtrack/offtrack-core/internal/monitoring"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultStallTimeout = 60 * time.Second
	requestReadTimeout  = 10 * time.Second
	chunkSize           = 64 * 1024
)

// Session outcomes reported to metrics
const (
	OutcomeCompleted  = "completed"
	OutcomeNotFound   = "not_found"
	OutcomeBadRequest = "bad_request"
	OutcomeReplaced   = "replaced"
	OutcomeAborted    = "aborted"
)

// Source is the file state of one song as seen by the proxy
type Source interface {
	// PlayablePath returns the best file to read from, or "" when none exists
	PlayablePath() string
	// CompletePath returns the finished file, or "" while not finished
	CompletePath() string
	// ExpectedSize returns the final size when known, otherwise -1
	ExpectedSize() int64
	// IsPending reports whether more bytes may still arrive
	IsPending() bool
}

// Resolver finds the source for a song id
type Resolver func(id string) (Source, bool)

// ManagerResolver resolves ids against the songs queued in a download manager
func ManagerResolver(m *download.Manager) Resolver {
	return func(id string) (Source, bool) {
		e := m.Lookup(id)
		if e == nil {
			return nil, false
		}
		return e, true
	}
}

// Options configures a Proxy
type Options struct {
	// Addr to listen on; defaults to an ephemeral loopback port
	Addr string
	// PollInterval between checks for new bytes of a growing file
	PollInterval time.Duration
	// StallTimeout ends a session when a pending file stops growing
	StallTimeout time.Duration
}

// Proxy serves one player session at a time. A new connection replaces the
// active session.
type Proxy struct {
	listener net.Listener
	resolve  Resolver
	opts     Options
	logger   *zap.Logger

	mu     sync.Mutex
	active *session
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

type session struct {
	id       string
	ctx      context.Context
	conn     net.Conn
	cancel   context.CancelFunc
	done     chan struct{}
	replaced bool
}

// New binds the listener. Call Start to begin accepting players.
func New(resolve Resolver, opts Options, logger *zap.Logger) (*Proxy, error) {
	if resolve == nil {
		return nil, errors.New("proxy: resolver is required")
	}
	if opts.Addr == "" {
		opts.Addr = "127.0.0.1:0"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StallTimeout <= 0 {
		opts.StallTimeout = defaultStallTimeout
	}

	listener, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: failed to listen on %s: %w", opts.Addr, err)
	}

	return &Proxy{
		listener: listener,
		resolve:  resolve,
		opts:     opts,
		logger:   monitoring.Component(logger, "proxy"),
		stop:     make(chan struct{}),
	}, nil
}

// Port returns the bound TCP port
func (p *Proxy) Port() int {
	if addr, ok := p.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// URL returns the address a player uses to stream song id
func (p *Proxy) URL(id string) string {
	return fmt.Sprintf("http://127.0.0.1:%d/stream?id=%s", p.Port(), url.QueryEscape(id))
}

// Start accepts connections until ctx is done or Close is called
func (p *Proxy) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.acceptLoop(ctx)

	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.stop:
		}
	}()

	p.logger.Info("Proxy listening", zap.Int("port", p.Port()))
}

// Close stops accepting, ends the active session and waits for it
func (p *Proxy) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stop)
	active := p.active
	p.mu.Unlock()

	err := p.listener.Close()
	if active != nil {
		active.cancel()
		active.conn.Close()
	}
	p.wg.Wait()
	return err
}

func (p *Proxy) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Proxy) acceptLoop(ctx context.Context) {
	defer p.wg.Done()

	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if p.isClosed() || errors.Is(err, net.ErrClosed) {
				return
			}
			p.logger.Warn("Accept failed", zap.Error(err))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s := p.replace(ctx, conn)
		if s == nil {
			conn.Close()
			return
		}
		p.wg.Add(1)
		go p.run(s)
	}
}

// replace cancels the active session and installs a new one for conn. The
// previous session has finished when replace returns.
func (p *Proxy) replace(ctx context.Context, conn net.Conn) *session {
	sctx, cancel := context.WithCancel(ctx)
	next := &session{
		id:     uuid.New().String(),
		ctx:    sctx,
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return nil
	}
	prev := p.active
	p.active = next
	if prev != nil {
		prev.replaced = true
	}
	p.mu.Unlock()

	if prev != nil {
		prev.cancel()
		prev.conn.Close()
		<-prev.done
	}
	return next
}

func (p *Proxy) run(s *session) {
	defer p.wg.Done()
	defer close(s.done)
	defer s.conn.Close()
	defer s.cancel()

	logger := p.logger.With(zap.String("session", s.id))
	outcome, id, sent := p.serve(s.ctx, s.conn, logger)

	p.mu.Lock()
	if s.replaced && outcome == OutcomeAborted {
		outcome = OutcomeReplaced
	}
	if p.active == s {
		p.active = nil
	}
	p.mu.Unlock()

	monitoring.RecordProxySession(outcome, sent)
	logger.Debug("Session ended",
		zap.String("id", id),
		zap.String("outcome", outcome),
		zap.Int64("bytes", sent))
}

// serve handles one request: it parses the request line and headers, then
// streams the song file from the requested offset
func (p *Proxy) serve(ctx context.Context, conn net.Conn, logger *zap.Logger) (string, string, int64) {
	conn.SetReadDeadline(time.Now().Add(requestReadTimeout))
	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		logger.Debug("Bad request", zap.Error(err))
		return OutcomeBadRequest, "", 0
	}
	conn.SetReadDeadline(time.Time{})

	id := songID(req.URL)
	src, ok := p.resolve(id)
	if !ok {
		return OutcomeNotFound, id, 0
	}
	path := src.PlayablePath()
	if path == "" {
		return OutcomeNotFound, id, 0
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Warn("Failed to open song file", zap.String("path", path), zap.Error(err))
		return OutcomeNotFound, id, 0
	}
	defer f.Close()

	size := src.ExpectedSize()
	if complete := src.CompletePath(); complete != "" {
		if info, err := os.Stat(complete); err == nil {
			size = info.Size()
		}
	}

	start := parseRangeStart(req.Header.Get("Range"))
	if size < 0 {
		// offsets cannot be answered without a total
		start = 0
	}
	if start > 0 && start >= size {
		writeHeader(conn, "416 Range Not Satisfiable", []string{
			fmt.Sprintf("Content-Range: bytes */%d", size),
			"Content-Length: 0",
		})
		return OutcomeBadRequest, id, 0
	}

	headers := []string{
		"Content-Type: " + contentType(path),
		"Accept-Ranges: bytes",
	}
	status := "200 OK"
	if start > 0 {
		status = "206 Partial Content"
		headers = append(headers, fmt.Sprintf("Content-Range: bytes %d-%d/%d", start, size-1, size))
	}
	if size >= 0 {
		headers = append(headers, "Content-Length: "+strconv.FormatInt(size-start, 10))
	}
	if err := writeHeader(conn, status, headers); err != nil {
		return OutcomeAborted, id, 0
	}
	if req.Method == http.MethodHead {
		return OutcomeCompleted, id, 0
	}

	sent, err := p.stream(ctx, conn, f, src, start)
	if err != nil {
		logger.Debug("Stream ended early", zap.String("id", id), zap.Error(err))
		return OutcomeAborted, id, sent
	}
	return OutcomeCompleted, id, sent
}

// stream copies f to w from offset. While the source is pending it waits for
// the file to grow; it stops once everything on disk has been sent and no
// more bytes are expected.
func (p *Proxy) stream(ctx context.Context, w io.Writer, f *os.File, src Source, offset int64) (int64, error) {
	buf := make([]byte, chunkSize)
	var sent int64
	lastProgress := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		n, err := f.ReadAt(buf, offset)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return sent, werr
			}
			offset += int64(n)
			sent += int64(n)
			lastProgress = time.Now()
			continue
		}
		if err != nil && err != io.EOF {
			return sent, err
		}

		if src.IsPending() {
			if time.Since(lastProgress) > p.opts.StallTimeout {
				return sent, errors.New("download stalled")
			}
			if err := sleep(ctx, p.opts.PollInterval); err != nil {
				return sent, err
			}
			continue
		}

		// the last chunk may have landed between the read and the check
		if complete := src.CompletePath(); complete != "" {
			if info, err := os.Stat(complete); err == nil && offset < info.Size() {
				continue
			}
		}
		return sent, nil
	}
}

// songID takes the id from the query string, falling back to the last path
// segment
func songID(u *url.URL) string {
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

// parseRangeStart returns N from "bytes=N-", or 0 when absent or malformed
func parseRangeStart(header string) int64 {
	bounds, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return 0
	}
	from, _, ok := strings.Cut(bounds, "-")
	if !ok {
		return 0
	}
	start, err := strconv.ParseInt(strings.TrimSpace(from), 10, 64)
	if err != nil || start < 0 {
		return 0
	}
	return start
}

func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func writeHeader(w io.Writer, status string, headers []string) error {
	var b strings.Builder
	b.WriteString("HTTP/1.1 " + status + "\r\n")
	for _, h := range headers {
		b.WriteString(h + "\r\n")
	}
	b.WriteString("Connection: close\r\n\r\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
