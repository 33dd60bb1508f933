package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeSource struct {
	mu       sync.Mutex
	partial  string
	complete string
	expected int64
	pending  bool
}

func (s *fakeSource) PlayablePath() string {
	if p := s.CompletePath(); p != "" {
		return p
	}
	if _, err := os.Stat(s.partial); err == nil {
		return s.partial
	}
	return ""
}

func (s *fakeSource) CompletePath() string {
	if _, err := os.Stat(s.complete); err == nil {
		return s.complete
	}
	return ""
}

func (s *fakeSource) ExpectedSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expected
}

func (s *fakeSource) IsPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *fakeSource) setPending(v bool) {
	s.mu.Lock()
	s.pending = v
	s.mu.Unlock()
}

func newSource(t *testing.T, name string) *fakeSource {
	dir := t.TempDir()
	return &fakeSource{
		partial:  filepath.Join(dir, name+".partial.mp3"),
		complete: filepath.Join(dir, name+".complete.mp3"),
		expected: -1,
	}
}

func writeFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
	return data
}

func newTestProxy(t *testing.T, sources map[string]*fakeSource) *Proxy {
	t.Helper()
	resolve := func(id string) (Source, bool) {
		s, ok := sources[id]
		if !ok {
			return nil, false
		}
		return s, true
	}
	p, err := New(resolve, Options{PollInterval: 20 * time.Millisecond, StallTimeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	p.Start(context.Background())
	t.Cleanup(func() { p.Close() })
	return p
}

var testClient = &http.Client{Timeout: 10 * time.Second}

func TestNewRequiresResolver(t *testing.T) {
	if _, err := New(nil, Options{}, nil); err == nil {
		t.Error("Expected error for nil resolver")
	}
}

func TestUnknownSongClosesWithoutBytes(t *testing.T) {
	p := newTestProxy(t, map[string]*fakeSource{})

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", p.Port()))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, "GET /stream?id=missing HTTP/1.1\r\nHost: localhost\r\n\r\n"); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, _ := io.ReadAll(conn)
	if len(data) != 0 {
		t.Errorf("Expected no bytes, got %d", len(data))
	}
}

func TestSongWithoutFilesIsNotFound(t *testing.T) {
	src := newSource(t, "a")
	p := newTestProxy(t, map[string]*fakeSource{"a": src})

	_, err := testClient.Get(p.URL("a"))
	if err == nil {
		t.Error("Expected the connection to close without a response")
	}
}

func TestServeCompleteFile(t *testing.T) {
	src := newSource(t, "a")
	want := writeFile(t, src.complete, 1000)
	p := newTestProxy(t, map[string]*fakeSource{"a": src})

	resp, err := testClient.Get(p.URL("a"))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if resp.ContentLength != 1000 {
		t.Errorf("Expected Content-Length 1000, got %d", resp.ContentLength)
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		t.Errorf("Expected Accept-Ranges bytes, got %q", resp.Header.Get("Accept-Ranges"))
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Expected %d matching bytes, got %d", len(want), len(got))
	}
}

func TestServeRange(t *testing.T) {
	src := newSource(t, "a")
	want := writeFile(t, src.complete, 1000)
	p := newTestProxy(t, map[string]*fakeSource{"a": src})

	req, _ := http.NewRequest(http.MethodGet, p.URL("a"), nil)
	req.Header.Set("Range", "bytes=100-")
	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent {
		t.Errorf("Expected 206, got %d", resp.StatusCode)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "bytes 100-999/1000" {
		t.Errorf("Expected Content-Range bytes 100-999/1000, got %q", cr)
	}
	got, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(got, want[100:]) {
		t.Errorf("Expected 900 matching bytes, got %d", len(got))
	}
}

func TestRangePastEnd(t *testing.T) {
	src := newSource(t, "a")
	writeFile(t, src.complete, 100)
	p := newTestProxy(t, map[string]*fakeSource{"a": src})

	req, _ := http.NewRequest(http.MethodGet, p.URL("a"), nil)
	req.Header.Set("Range", "bytes=100-")
	resp, err := testClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		t.Errorf("Expected 416, got %d", resp.StatusCode)
	}
}

func TestStreamWhileDownloading(t *testing.T) {
	src := newSource(t, "a")
	src.expected = 1000
	src.pending = true
	full := writeFile(t, src.complete+".tmp", 1000)
	if err := os.WriteFile(src.partial, full[:500], 0644); err != nil {
		t.Fatal(err)
	}
	p := newTestProxy(t, map[string]*fakeSource{"a": src})

	resp, err := testClient.Get(p.URL("a"))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.ContentLength != 1000 {
		t.Errorf("Expected Content-Length 1000, got %d", resp.ContentLength)
	}

	go func() {
		time.Sleep(200 * time.Millisecond)
		f, err := os.OpenFile(src.partial, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		f.Write(full[500:])
		f.Close()
		os.Rename(src.partial, src.complete)
		src.setPending(false)
	}()

	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, full) {
		t.Errorf("Expected 1000 matching bytes, got %d", len(got))
	}
}

func TestNewSessionReplacesActive(t *testing.T) {
	slow := newSource(t, "slow")
	slow.expected = 1000
	slow.pending = true
	writeFile(t, slow.partial, 100)

	fast := newSource(t, "fast")
	writeFile(t, fast.complete, 300)

	p := newTestProxy(t, map[string]*fakeSource{"slow": slow, "fast": fast})

	first, err := testClient.Get(p.URL("slow"))
	if err != nil {
		t.Fatalf("first GET failed: %v", err)
	}
	defer first.Body.Close()

	firstDone := make(chan int, 1)
	go func() {
		data, _ := io.ReadAll(first.Body)
		firstDone <- len(data)
	}()

	second, err := testClient.Get(p.URL("fast"))
	if err != nil {
		t.Fatalf("second GET failed: %v", err)
	}
	data, _ := io.ReadAll(second.Body)
	second.Body.Close()
	if len(data) != 300 {
		t.Errorf("Expected 300 bytes from second session, got %d", len(data))
	}

	select {
	case n := <-firstDone:
		if n >= 1000 {
			t.Errorf("Expected first session to be cut short, got %d bytes", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first session was not closed")
	}
}

func TestCloseEndsActiveSession(t *testing.T) {
	src := newSource(t, "a")
	src.expected = 1000
	src.pending = true
	writeFile(t, src.partial, 10)
	p := newTestProxy(t, map[string]*fakeSource{"a": src})

	resp, err := testClient.Get(p.URL("a"))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	done := make(chan struct{})
	go func() {
		io.ReadAll(resp.Body)
		close(done)
	}()

	if err := p.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session still open after Close")
	}
}

func TestParseRangeStart(t *testing.T) {
	tests := []struct {
		header string
		want   int64
	}{
		{"", 0},
		{"bytes=0-", 0},
		{"bytes=100-", 100},
		{"bytes=100-199", 100},
		{"bytes=-500", 0},
		{"items=5-", 0},
		{"bytes=abc-", 0},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			if got := parseRangeStart(tt.header); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestURLEscapesID(t *testing.T) {
	p := newTestProxy(t, map[string]*fakeSource{})
	want := fmt.Sprintf("http://127.0.0.1:%d/stream?id=a+b%%2Fc", p.Port())
	if got := p.URL("a b/c"); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}
