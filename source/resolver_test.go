package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHost struct {
	name    string
	tracks  []Track
	video   Track
	err     error
	searchN atomic.Int32
	videoN  atomic.Int32
}

func (h *fakeHost) Name() string { return h.name }

func (h *fakeHost) Search(_ context.Context, _ string, max int) ([]Track, error) {
	h.searchN.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	if len(h.tracks) > max {
		return h.tracks[:max], nil
	}
	return h.tracks, nil
}

func (h *fakeHost) Video(_ context.Context, id string) (Track, error) {
	h.videoN.Add(1)
	if h.err != nil {
		return Track{}, h.err
	}
	t := h.video
	t.ID = id
	return t, nil
}

type memCache struct {
	mu     sync.Mutex
	tracks map[string]Track
}

func newMemCache() *memCache { return &memCache{tracks: map[string]Track{}} }

func (c *memCache) Get(_ context.Context, id string) (Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tracks[id]
	return t, ok
}

func (c *memCache) Put(_ context.Context, t Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks[t.ID] = t
	return nil
}

type fakeExtractor struct {
	stdout, stderr string
	err            error
	calls          atomic.Int32
}

func (e *fakeExtractor) Extract(context.Context, string) (string, string, error) {
	e.calls.Add(1)
	return e.stdout, e.stderr, e.err
}

func TestSearchFailoverPromotes(t *testing.T) {
	down := &fakeHost{name: "a", err: errors.New("boom")}
	up := &fakeHost{name: "b", tracks: []Track{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	r := NewResolver(NewHostPool(down, up), nil, nil, time.Second)

	got := r.Search(context.Background(), "q", 2)
	if len(got) != 2 || got[0].ID != "1" {
		t.Fatalf("unexpected results: %+v", got)
	}
	if names := r.Pool().Names(); names[0] != "b" || names[1] != "a" {
		t.Errorf("pool order = %v, want [b a]", names)
	}

	r.Search(context.Background(), "q", 2)
	if n := down.searchN.Load(); n != 1 {
		t.Errorf("failed host asked %d times, want 1 after promotion", n)
	}
}

func TestSearchAllHostsDown(t *testing.T) {
	r := NewResolver(NewHostPool(
		&fakeHost{name: "a", err: errors.New("x")},
		&fakeHost{name: "b", err: errors.New("y")},
	), nil, nil, time.Second)

	got := r.Search(context.Background(), "q", 6)
	if got == nil || len(got) != 0 {
		t.Fatalf("got %v, want empty non-nil slice", got)
	}
	if names := r.Pool().Names(); len(names) != 2 || names[0] != "a" {
		t.Errorf("pool changed on total failure: %v", names)
	}
}

func TestBuildFailoverPromotesAndCaches(t *testing.T) {
	unsupported := &fakeHost{name: "search-only", err: ErrUnsupported}
	down := &fakeHost{name: "a", err: errors.New("timeout")}
	up := &fakeHost{name: "b", video: Track{Title: "song", AudioURL: "http://audio"}}
	cache := newMemCache()
	r := NewResolver(NewHostPool(unsupported, down, up), cache, nil, time.Second)

	got, ok := r.Build(context.Background(), "xyz")
	if !ok {
		t.Fatal("Build failed")
	}
	if got.ID != "xyz" || got.Title != "song" || got.Host != "b" {
		t.Errorf("unexpected track: %+v", got)
	}
	if _, ok := cache.Get(context.Background(), "xyz"); !ok {
		t.Error("built track was not cached")
	}
	if r.Pool().Names()[0] != "b" {
		t.Errorf("winning host not promoted: %v", r.Pool().Names())
	}
}

func TestBuildCacheHitSkipsHosts(t *testing.T) {
	host := &fakeHost{name: "a", err: errors.New("must not be called")}
	cache := newMemCache()
	_ = cache.Put(context.Background(), Track{ID: "cached", Title: "from disk"})
	r := NewResolver(NewHostPool(host), cache, nil, time.Second)

	got, ok := r.Build(context.Background(), "cached")
	if !ok || got.Title != "from disk" {
		t.Fatalf("got %+v, %v", got, ok)
	}
	if n := host.videoN.Load(); n != 0 {
		t.Errorf("host called %d times on cache hit", n)
	}
}

func TestBuildAllHostsDown(t *testing.T) {
	r := NewResolver(NewHostPool(&fakeHost{name: "a", err: errors.New("x")}), newMemCache(), nil, time.Second)
	if _, ok := r.Build(context.Background(), "gone"); ok {
		t.Fatal("expected none when every host fails")
	}
}

func TestEnsureSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/live" && r.Header.Get("Range") == "bytes=0-0" {
			w.WriteHeader(http.StatusPartialContent)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	tests := []struct {
		name      string
		audioURL  string
		extractor *fakeExtractor
		want      string
		wantOK    bool
		wantCalls int32
	}{
		{"reachable url kept", srv.URL + "/live", &fakeExtractor{stdout: "http://other"}, srv.URL + "/live", true, 0},
		{"expired url re-extracted", srv.URL + "/expired", &fakeExtractor{stdout: "\nhttp://fresh\nhttp://second\n"}, "http://fresh", true, 1},
		{"no url at all", "", &fakeExtractor{stdout: "http://fresh"}, "http://fresh", true, 1},
		{"extractor empty", srv.URL + "/expired", &fakeExtractor{stderr: "ERROR: Video unavailable"}, "", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(NewHostPool(), nil, tt.extractor, time.Second)
			got, ok := r.EnsureSource(context.Background(), Track{ID: "id", AudioURL: tt.audioURL}, true)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("EnsureSource = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
			if n := tt.extractor.calls.Load(); n != tt.wantCalls {
				t.Errorf("extractor calls = %d, want %d", n, tt.wantCalls)
			}
		})
	}
}

func TestWarmupSortsByLatency(t *testing.T) {
	slow := &fakeHost{name: "slow"}
	fast := &fakeHost{name: "fast"}
	broken := &fakeHost{name: "broken"}
	pool := NewHostPool(broken, slow, fast)

	delays := map[string]time.Duration{"slow": 60 * time.Millisecond, "fast": time.Millisecond}
	probe := func(ctx context.Context, h Host) error {
		if h.Name() == "broken" {
			return errors.New("down")
		}
		time.Sleep(delays[h.Name()])
		return nil
	}

	got := pool.Warmup(context.Background(), probe, 3)
	want := []string{"fast", "slow", "broken"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Warmup order = %v, want %v", got, want)
		}
	}
	if names := pool.Names(); names[0] != "fast" || pool.Len() != 3 {
		t.Errorf("pool not reordered: %v", names)
	}
}

func TestPromoteUnknownHost(t *testing.T) {
	pool := NewHostPool(&fakeHost{name: "a"}, &fakeHost{name: "b"})
	if pool.Promote("zzz") {
		t.Error("Promote reported success for unknown host")
	}
	if !pool.Promote("b") || pool.Names()[0] != "b" || pool.Len() != 2 {
		t.Errorf("unexpected pool after promote: %v", pool.Names())
	}
}
