package fetch

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leeineian/haruka/source"
)

type staticSource struct {
	url string
	ok  bool
}

func (s staticSource) EnsureSource(context.Context, source.Track, bool) (string, bool) {
	return s.url, s.ok
}

type gatedTranscoder struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
	err     error
}

func newGatedTranscoder() *gatedTranscoder {
	return &gatedTranscoder{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedTranscoder) Transcode(ctx context.Context, _, dst string) error {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	if g.err != nil {
		return g.err
	}
	return os.WriteFile(dst, []byte("ID3"), 0644)
}

func TestFetchAtMostOnce(t *testing.T) {
	tc := newGatedTranscoder()
	c, err := NewCoordinator(t.TempDir(), "http://host/", staticSource{"http://src", true}, tc)
	if err != nil {
		t.Fatal(err)
	}

	const callers = 8
	var wg sync.WaitGroup
	urls := make([]string, callers)
	oks := make([]bool, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			urls[i], oks[i] = c.Fetch(context.Background(), source.Track{ID: "abc"})
		}()
	}

	<-tc.started
	time.Sleep(50 * time.Millisecond)
	if n := c.InFlight(); n != 1 {
		t.Errorf("InFlight = %d during transcode, want 1", n)
	}
	close(tc.release)
	wg.Wait()

	if n := tc.calls.Load(); n != 1 {
		t.Fatalf("transcoder ran %d times, want 1", n)
	}
	for i := range callers {
		if !oks[i] || urls[i] != "http://host/audio/abc.mp3" {
			t.Errorf("caller %d got %q, %v", i, urls[i], oks[i])
		}
	}
	if n := c.InFlight(); n != 0 {
		t.Errorf("lock table not emptied: %d", n)
	}
}

func TestFetchCacheHit(t *testing.T) {
	tc := newGatedTranscoder()
	c, _ := NewCoordinator(t.TempDir(), "http://host", staticSource{"http://src", true}, tc)
	if err := os.WriteFile(c.Path("cached"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	u, ok := c.Fetch(context.Background(), source.Track{ID: "cached"})
	if !ok || !strings.HasSuffix(u, "/audio/cached.mp3") {
		t.Fatalf("Fetch = %q, %v", u, ok)
	}
	if tc.calls.Load() != 0 {
		t.Error("transcoder invoked on cache hit")
	}
}

func TestFetchFailureReleasesLock(t *testing.T) {
	tc := newGatedTranscoder()
	tc.err = errors.New("exit status 1")
	close(tc.release)
	c, _ := NewCoordinator(t.TempDir(), "http://host", staticSource{"http://src", true}, tc)

	if _, ok := c.Fetch(context.Background(), source.Track{ID: "bad"}); ok {
		t.Fatal("expected failure")
	}
	if c.InFlight() != 0 {
		t.Error("failed fetch left an entry behind")
	}
	if _, ok := c.Fetch(context.Background(), source.Track{ID: "bad"}); ok {
		t.Fatal("expected failure on retry")
	}
	if n := tc.calls.Load(); n != 2 {
		t.Errorf("retry did not re-run transcoder: %d calls", n)
	}
}

func TestFetchNoSource(t *testing.T) {
	tc := newGatedTranscoder()
	c, _ := NewCoordinator(t.TempDir(), "http://host", staticSource{}, tc)
	if _, ok := c.Fetch(context.Background(), source.Track{ID: "x"}); ok {
		t.Fatal("expected failure without a source")
	}
	if tc.calls.Load() != 0 {
		t.Error("transcoder ran without a source")
	}
}

func TestFetchWaiterCancelled(t *testing.T) {
	tc := newGatedTranscoder()
	c, _ := NewCoordinator(t.TempDir(), "http://host", staticSource{"http://src", true}, tc)

	owner := make(chan bool)
	go func() {
		_, ok := c.Fetch(context.Background(), source.Track{ID: "slow"})
		owner <- ok
	}()
	<-tc.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := c.Fetch(ctx, source.Track{ID: "slow"}); ok {
		t.Error("cancelled waiter reported success")
	}
	close(tc.release)
	if !<-owner {
		t.Error("owner fetch failed after waiter gave up")
	}
}

func TestFetchAll(t *testing.T) {
	tc := newGatedTranscoder()
	close(tc.release)
	c, _ := NewCoordinator(t.TempDir(), "http://host", staticSource{"http://src", true}, tc)

	tracks := []source.Track{{ID: "a"}, {ID: "b"}, {ID: "a"}}
	urls := c.FetchAll(context.Background(), tracks, 2)
	for i, u := range urls {
		if u != c.URL(tracks[i].ID) {
			t.Errorf("url %d = %q", i, u)
		}
	}
	if n := tc.calls.Load(); n != 2 {
		t.Errorf("transcoder ran %d times for 2 distinct ids", n)
	}
}

func TestFetchRejectsMalformedIDs(t *testing.T) {
	tc := newGatedTranscoder()
	close(tc.release)
	c, _ := NewCoordinator(t.TempDir(), "http://host", staticSource{"http://src", true}, tc)

	for _, id := range []string{"", "../escape", "a/b", "a.b", "id with space"} {
		if u, ok := c.Fetch(context.Background(), source.Track{ID: id}); ok || u != "" {
			t.Errorf("Fetch(%q) = %q, %v", id, u, ok)
		}
	}
	if n := tc.calls.Load(); n != 0 {
		t.Errorf("transcoder ran %d times for malformed ids", n)
	}

	if !ValidID("dQw4w9WgXcQ") || !ValidID("a_b-c") {
		t.Error("valid id rejected")
	}
	if got, want := c.URL("x/abc"), "http://host/audio/abc.mp3"; got != want {
		t.Errorf("URL = %q, want %q", got, want)
	}
	if !strings.HasSuffix(c.Path("x/abc"), "/abc.mp3") {
		t.Errorf("Path = %q", c.Path("x/abc"))
	}
}
