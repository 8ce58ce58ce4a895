package fetch

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
	"golang.org/x/sync/errgroup"
)

// idPattern matches the ids the dashboard's audio route serves.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidID reports whether id can be stored and served as an audio file.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// SourceEnsurer yields a currently readable audio URL for a track.
type SourceEnsurer interface {
	EnsureSource(ctx context.Context, t source.Track, ignoreStderr bool) (string, bool)
}

// Transcoder writes the audio behind src to the file dst.
type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

// Coordinator materializes tracks as files under dir, running at most one
// transcode per track id at a time. Concurrent callers for the same id wait
// for the running one and share its result.
type Coordinator struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}

	dir        string
	publicURL  string
	sources    SourceEnsurer
	transcoder Transcoder
}

func NewCoordinator(dir, publicURL string, sources SourceEnsurer, transcoder Transcoder) (*Coordinator, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Coordinator{
		inflight:   make(map[string]chan struct{}),
		dir:        dir,
		publicURL:  strings.TrimRight(publicURL, "/"),
		sources:    sources,
		transcoder: transcoder,
	}, nil
}

func (c *Coordinator) Dir() string { return c.dir }

func fileName(id string) string {
	return filepath.Base(id) + ".mp3"
}

func (c *Coordinator) Path(id string) string {
	return filepath.Join(c.dir, fileName(id))
}

func (c *Coordinator) URL(id string) string {
	return c.publicURL + "/audio/" + fileName(id)
}

// InFlight reports how many materializations are outstanding.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *Coordinator) exists(id string) bool {
	info, err := os.Stat(c.Path(id))
	return err == nil && info.Mode().IsRegular()
}

func (c *Coordinator) Fetch(ctx context.Context, t source.Track) (string, bool) {
	if !ValidID(t.ID) {
		sys.LogFetch(sys.MsgFetchBadID, t.ID)
		return "", false
	}
	c.mu.Lock()
	if done, ok := c.inflight[t.ID]; ok {
		c.mu.Unlock()
		sys.LogFetch(sys.MsgFetchJoinedRun, t.ID)
		select {
		case <-done:
		case <-ctx.Done():
			return "", false
		}
		if c.exists(t.ID) {
			return c.URL(t.ID), true
		}
		return "", false
	}
	if c.exists(t.ID) {
		c.mu.Unlock()
		sys.LogFetch(sys.MsgFetchCacheHit, t.ID)
		return c.URL(t.ID), true
	}
	done := make(chan struct{})
	c.inflight[t.ID] = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, t.ID)
		c.mu.Unlock()
		close(done)
	}()

	if ctx.Err() != nil {
		return "", false
	}

	src, ok := c.sources.EnsureSource(ctx, t, false)
	if !ok {
		sys.LogFetch(sys.MsgFetchNoSource, t.ID)
		return "", false
	}

	sys.LogFetch(sys.MsgFetchStarted, t.ID)
	start := time.Now()
	if err := c.transcoder.Transcode(ctx, src, c.Path(t.ID)); err != nil {
		sys.LogFetch(sys.MsgFetchFailed, t.ID, err)
		return "", false
	}

	size := "?"
	if info, err := os.Stat(c.Path(t.ID)); err == nil {
		size = humanize.Bytes(uint64(info.Size()))
	}
	sys.LogFetch(sys.MsgFetchDone, t.ID, size, time.Since(start).Round(time.Millisecond))
	return c.URL(t.ID), true
}

// FetchAll materializes tracks with at most limit transcodes running. The
// returned URLs line up with tracks; failures are left empty.
func (c *Coordinator) FetchAll(ctx context.Context, tracks []source.Track, limit int) []string {
	urls := make([]string, len(tracks))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, t := range tracks {
		g.Go(func() error {
			if u, ok := c.Fetch(gctx, t); ok {
				urls[i] = u
			}
			return nil
		})
	}
	_ = g.Wait()
	return urls
}
