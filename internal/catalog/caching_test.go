package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu      sync.Mutex
	server  ServerContext
	calls   map[string]int
	fail    map[string]error
	license License
	block   chan struct{}
}

func newFakeClient(server ServerContext) *fakeClient {
	return &fakeClient{
		server:  server,
		calls:   make(map[string]int),
		fail:    make(map[string]error),
		license: License{Valid: true},
	}
}

func (f *fakeClient) record(op string) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.fail[op]
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeClient) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeClient) setFail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] = err
}

func (f *fakeClient) Ping(ctx context.Context) error { return f.record("ping") }
func (f *fakeClient) GetLicense(ctx context.Context) (*License, error) {
	if err := f.record("license"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.license
	return &l, nil
}
func (f *fakeClient) GetMusicFolders(ctx context.Context) ([]MusicFolder, error) {
	if err := f.record("music_folders"); err != nil {
		return nil, err
	}
	return []MusicFolder{{ID: "1", Name: "Music"}}, nil
}
func (f *fakeClient) GetIndexes(ctx context.Context, musicFolderID string) (*Indexes, error) {
	if err := f.record("indexes"); err != nil {
		return nil, err
	}
	return &Indexes{Indexes: []Index{{Name: f.server.URL}}}, nil
}
func (f *fakeClient) GetMusicDirectory(ctx context.Context, id string) (*Directory, error) {
	if err := f.record("music_directory"); err != nil {
		return nil, err
	}
	return &Directory{ID: id, Name: "dir " + id}, nil
}
func (f *fakeClient) GetArtists(ctx context.Context, musicFolderID string) (*Indexes, error) {
	if err := f.record("artists"); err != nil {
		return nil, err
	}
	return &Indexes{}, nil
}
func (f *fakeClient) GetArtist(ctx context.Context, id string) (*Directory, error) {
	if err := f.record("artist"); err != nil {
		return nil, err
	}
	return &Directory{ID: id}, nil
}
func (f *fakeClient) GetAlbum(ctx context.Context, id string) (*Directory, error) {
	if err := f.record("album"); err != nil {
		return nil, err
	}
	return &Directory{ID: id}, nil
}
func (f *fakeClient) GetAlbumList(ctx context.Context, listType string, size, offset int) ([]Song, error) {
	return nil, f.record("album_list")
}
func (f *fakeClient) GetRandomSongs(ctx context.Context, size int, genre string) ([]Song, error) {
	return nil, f.record("random")
}
func (f *fakeClient) GetPlaylists(ctx context.Context) ([]Playlist, error) {
	if err := f.record("playlists"); err != nil {
		return nil, err
	}
	return []Playlist{{ID: "p1", Name: "Road"}}, nil
}
func (f *fakeClient) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	if err := f.record("playlist"); err != nil {
		return nil, err
	}
	return &Playlist{ID: id, Name: "Road", Entries: []Song{{ID: "s1", Title: "One"}}}, nil
}
func (f *fakeClient) CreatePlaylist(ctx context.Context, name string, songIDs []string) (*Playlist, error) {
	return &Playlist{ID: "new", Name: name}, f.record("create_playlist")
}
func (f *fakeClient) UpdatePlaylist(ctx context.Context, id string, update PlaylistUpdate) error {
	return f.record("update_playlist")
}
func (f *fakeClient) DeletePlaylist(ctx context.Context, id string) error {
	return f.record("delete_playlist")
}
func (f *fakeClient) GetGenres(ctx context.Context) ([]Genre, error) {
	if err := f.record("genres"); err != nil {
		return nil, err
	}
	return []Genre{{Name: "Jazz"}}, nil
}
func (f *fakeClient) GetSongsByGenre(ctx context.Context, genre string, count, offset int) ([]Song, error) {
	return nil, f.record("songs_by_genre")
}
func (f *fakeClient) Search(ctx context.Context, criteria SearchCriteria) (*SearchResult, error) {
	return &SearchResult{}, f.record("search")
}
func (f *fakeClient) GetStarred(ctx context.Context) (*SearchResult, error) {
	return &SearchResult{}, f.record("starred")
}
func (f *fakeClient) Star(ctx context.Context, id string) error   { return f.record("star") }
func (f *fakeClient) Unstar(ctx context.Context, id string) error { return f.record("unstar") }
func (f *fakeClient) Scrobble(ctx context.Context, id string, at time.Time, submission bool) error {
	return f.record("scrobble")
}
func (f *fakeClient) GetBookmarks(ctx context.Context) ([]Bookmark, error) {
	return nil, f.record("bookmarks")
}
func (f *fakeClient) CreateBookmark(ctx context.Context, id string, position int64, comment string) error {
	return f.record("create_bookmark")
}
func (f *fakeClient) DeleteBookmark(ctx context.Context, id string) error {
	return f.record("delete_bookmark")
}
func (f *fakeClient) GetShares(ctx context.Context) ([]Share, error) {
	return nil, f.record("shares")
}
func (f *fakeClient) CreateShare(ctx context.Context, ids []string, description string, expires time.Time) (*Share, error) {
	return &Share{}, f.record("create_share")
}
func (f *fakeClient) DeleteShare(ctx context.Context, id string) error {
	return f.record("delete_share")
}
func (f *fakeClient) GetUser(ctx context.Context, username string) (*User, error) {
	if err := f.record("user"); err != nil {
		return nil, err
	}
	return &User{Username: username}, nil
}
func (f *fakeClient) GetVideos(ctx context.Context) (*Directory, error) {
	if err := f.record("videos"); err != nil {
		return nil, err
	}
	return &Directory{}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeFactory hands out one fakeClient per server URL
type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
	builds  int
}

func (f *fakeFactory) build(server ServerContext) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	if f.clients == nil {
		f.clients = make(map[string]*fakeClient)
	}
	c, ok := f.clients[server.URL]
	if !ok {
		c = newFakeClient(server)
		f.clients[server.URL] = c
	}
	return c, nil
}

func (f *fakeFactory) client(url string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[url]
}

func newTestClient(t *testing.T, opts Options) (*CachingClient, *fakeFactory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	opts.Clock = clock.Now
	factory := &fakeFactory{}
	c, err := NewCachingClient(ServerContext{Name: "home", URL: "http://a.example"}, factory.build, opts, nil)
	if err != nil {
		t.Fatalf("Failed to create caching client: %v", err)
	}
	return c, factory, clock
}

func TestCachedCallsHitOnce(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{})
	ctx := context.Background()
	remote := factory.client("http://a.example")

	for i := 0; i < 3; i++ {
		if _, err := c.GetMusicFolders(ctx, false); err != nil {
			t.Fatalf("GetMusicFolders failed: %v", err)
		}
		if _, err := c.GetIndexes(ctx, "", false); err != nil {
			t.Fatalf("GetIndexes failed: %v", err)
		}
		if _, err := c.GetGenres(ctx, false); err != nil {
			t.Fatalf("GetGenres failed: %v", err)
		}
		if _, err := c.GetMusicDirectory(ctx, "d1", false); err != nil {
			t.Fatalf("GetMusicDirectory failed: %v", err)
		}
		if _, err := c.GetUser(ctx, "alice", false); err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
	}

	for _, op := range []string{"music_folders", "indexes", "genres", "music_directory", "user"} {
		if got := remote.count(op); got != 1 {
			t.Errorf("Expected 1 remote %s call, got %d", op, got)
		}
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{})
	ctx := context.Background()
	remote := factory.client("http://a.example")

	c.GetPlaylists(ctx, false)
	c.GetPlaylists(ctx, true)
	c.GetPlaylists(ctx, false)

	if got := remote.count("playlists"); got != 2 {
		t.Errorf("Expected 2 remote playlists calls, got %d", got)
	}
}

func TestServerSwitchClearsCaches(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{})
	ctx := context.Background()

	first, err := c.GetIndexes(ctx, "", false)
	if err != nil {
		t.Fatalf("GetIndexes failed: %v", err)
	}
	c.GetMusicDirectory(ctx, "d1", false)

	c.SetServer(ServerContext{Name: "work", URL: "http://b.example"})

	second, err := c.GetIndexes(ctx, "", false)
	if err != nil {
		t.Fatalf("GetIndexes after switch failed: %v", err)
	}
	if second.Indexes[0].Name != "http://b.example" {
		t.Errorf("Expected indexes from new server, got %s", second.Indexes[0].Name)
	}
	if first.Indexes[0].Name == second.Indexes[0].Name {
		t.Error("Expected different results across servers")
	}

	remoteB := factory.client("http://b.example")
	if got := remoteB.count("indexes"); got != 1 {
		t.Errorf("Expected 1 indexes call on new server, got %d", got)
	}

	c.GetMusicDirectory(ctx, "d1", false)
	if got := remoteB.count("music_directory"); got != 1 {
		t.Errorf("Expected directory cache cleared by switch, got %d calls", got)
	}

	// Switching back is a change too
	c.SetServer(ServerContext{Name: "home", URL: "http://a.example"})
	c.GetIndexes(ctx, "", false)
	if got := factory.client("http://a.example").count("indexes"); got != 2 {
		t.Errorf("Expected 2 indexes calls on first server, got %d", got)
	}
}

func TestSameURLKeepsCaches(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{})
	ctx := context.Background()

	c.GetGenres(ctx, false)
	c.SetServer(ServerContext{Name: "renamed", URL: "http://a.example"})
	c.GetGenres(ctx, false)

	if got := factory.client("http://a.example").count("genres"); got != 1 {
		t.Errorf("Expected 1 genres call, got %d", got)
	}
	if factory.builds != 1 {
		t.Errorf("Expected client built once, got %d", factory.builds)
	}
}

func TestTTLExpiry(t *testing.T) {
	c, factory, clock := newTestClient(t, Options{})
	ctx := context.Background()
	remote := factory.client("http://a.example")

	c.GetMusicDirectory(ctx, "d1", false)
	clock.Advance(4 * time.Minute)
	c.GetMusicDirectory(ctx, "d1", false)
	if got := remote.count("music_directory"); got != 1 {
		t.Errorf("Expected cached directory within TTL, got %d calls", got)
	}

	clock.Advance(2 * time.Minute)
	c.GetMusicDirectory(ctx, "d1", false)
	if got := remote.count("music_directory"); got != 2 {
		t.Errorf("Expected refetch after TTL, got %d calls", got)
	}
}

func TestLicenseNegativeTTL(t *testing.T) {
	c, factory, clock := newTestClient(t, Options{})
	ctx := context.Background()
	remote := factory.client("http://a.example")

	remote.mu.Lock()
	remote.license = License{Valid: false}
	remote.mu.Unlock()

	l, err := c.GetLicense(ctx, false)
	if err != nil {
		t.Fatalf("GetLicense failed: %v", err)
	}
	if l.Valid {
		t.Error("Expected invalid license")
	}

	clock.Advance(time.Minute)
	c.GetLicense(ctx, false)
	if got := remote.count("license"); got != 1 {
		t.Errorf("Expected invalid license cached for 1m, got %d calls", got)
	}

	clock.Advance(90 * time.Second)
	remote.mu.Lock()
	remote.license = License{Valid: true}
	remote.mu.Unlock()

	l, _ = c.GetLicense(ctx, false)
	if !l.Valid {
		t.Error("Expected valid license after negative TTL")
	}
	if got := remote.count("license"); got != 2 {
		t.Errorf("Expected 2 license calls, got %d", got)
	}

	clock.Advance(20 * time.Minute)
	c.GetLicense(ctx, false)
	if got := remote.count("license"); got != 2 {
		t.Errorf("Expected valid license cached for 30m, got %d calls", got)
	}
}

func TestErrorsAreNotCached(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{})
	ctx := context.Background()
	remote := factory.client("http://a.example")

	boom := errors.New("server unavailable")
	remote.setFail("genres", boom)

	if _, err := c.GetGenres(ctx, false); !errors.Is(err, boom) {
		t.Fatalf("Expected remote error, got %v", err)
	}

	remote.setFail("genres", nil)
	genres, err := c.GetGenres(ctx, false)
	if err != nil {
		t.Fatalf("GetGenres failed: %v", err)
	}
	if len(genres) != 1 {
		t.Errorf("Expected 1 genre, got %d", len(genres))
	}
	if got := remote.count("genres"); got != 2 {
		t.Errorf("Expected 2 genres calls, got %d", got)
	}
}

func TestDirectoryCacheEviction(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{DirectoryCacheSize: 2})
	ctx := context.Background()
	remote := factory.client("http://a.example")

	c.GetMusicDirectory(ctx, "a", false)
	c.GetMusicDirectory(ctx, "b", false)
	c.GetMusicDirectory(ctx, "a", false) // a is now most recent
	c.GetMusicDirectory(ctx, "c", false) // evicts b

	c.GetMusicDirectory(ctx, "a", false)
	if got := remote.count("music_directory"); got != 3 {
		t.Errorf("Expected a to stay cached, got %d calls", got)
	}
	c.GetMusicDirectory(ctx, "b", false)
	if got := remote.count("music_directory"); got != 4 {
		t.Errorf("Expected b to be evicted, got %d calls", got)
	}
}

func TestMutationsInvalidate(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{})
	ctx := context.Background()
	remote := factory.client("http://a.example")

	c.GetPlaylists(ctx, false)
	if _, err := c.CreatePlaylist(ctx, "New", []string{"s1"}); err != nil {
		t.Fatalf("CreatePlaylist failed: %v", err)
	}
	c.GetPlaylists(ctx, false)
	if got := remote.count("playlists"); got != 2 {
		t.Errorf("Expected playlists refetched after create, got %d calls", got)
	}

	c.GetAlbum(ctx, "al1", false)
	if err := c.Star(ctx, "al1"); err != nil {
		t.Fatalf("Star failed: %v", err)
	}
	c.GetAlbum(ctx, "al1", false)
	if got := remote.count("album"); got != 2 {
		t.Errorf("Expected album refetched after star, got %d calls", got)
	}
}

func TestConcurrentMissesShareOneCall(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{})
	remote := factory.client("http://a.example")

	release := make(chan struct{})
	remote.mu.Lock()
	remote.block = release
	remote.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetMusicFolders(context.Background(), false)
			errs <- err
		}()
	}

	// let every caller reach the in-flight call
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Expected no error, got %v", err)
		}
	}
	if got := remote.count("music_folders"); got != 1 {
		t.Errorf("Expected 1 remote call, got %d", got)
	}
}

type memArchive struct {
	mu    sync.Mutex
	saved map[string]string
}

func (a *memArchive) SavePlaylist(server string, p *Playlist) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saved == nil {
		a.saved = make(map[string]string)
	}
	a.saved[server] = p.Name
	return nil
}

func TestGetPlaylistArchives(t *testing.T) {
	archive := &memArchive{}
	c, _, _ := newTestClient(t, Options{Playlists: archive})

	if _, err := c.GetPlaylist(context.Background(), "p1"); err != nil {
		t.Fatalf("GetPlaylist failed: %v", err)
	}
	if archive.saved["home"] != "Road" {
		t.Errorf("Expected playlist archived under server name, got %v", archive.saved)
	}
}

func TestBackgroundTasks(t *testing.T) {
	c, factory, _ := newTestClient(t, Options{TaskWorkers: 2})
	remote := factory.client("http://a.example")

	if err := c.StarAsync("s1"); err == nil {
		t.Error("Expected error submitting before Start, got nil")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	remote.setFail("scrobble", errors.New("offline"))
	if err := c.StarAsync("s1"); err != nil {
		t.Fatalf("StarAsync failed: %v", err)
	}
	if err := c.UnstarAsync("s2"); err != nil {
		t.Fatalf("UnstarAsync failed: %v", err)
	}
	if err := c.ScrobbleAsync("s1", true); err != nil {
		t.Fatalf("ScrobbleAsync failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if remote.count("star") == 1 && remote.count("unstar") == 1 && remote.count("scrobble") == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.Close()

	if remote.count("star") != 1 || remote.count("unstar") != 1 || remote.count("scrobble") != 1 {
		t.Errorf("Expected one call each, got star=%d unstar=%d scrobble=%d",
			remote.count("star"), remote.count("unstar"), remote.count("scrobble"))
	}
}

func TestFactoryRequired(t *testing.T) {
	if _, err := NewCachingClient(ServerContext{URL: "http://a.example"}, nil, Options{}, nil); err == nil {
		t.Error("Expected error for nil factory, got nil")
	}
}
