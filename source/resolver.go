package source

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/leeineian/haruka/sys"
)

const (
	DefaultMaxResults  = 6
	DefaultHostTimeout = 15 * time.Second
	checkTimeout       = 15 * time.Second
)

// Resolver turns queries and ids into tracks, failing over across the pool.
// None of its methods return errors: every failure degrades to an empty
// result and a log line.
type Resolver struct {
	pool      *HostPool
	cache     MetadataCache
	extractor Extractor
	client    *http.Client
	timeout   time.Duration
}

func NewResolver(pool *HostPool, cache MetadataCache, extractor Extractor, hostTimeout time.Duration) *Resolver {
	if hostTimeout <= 0 {
		hostTimeout = DefaultHostTimeout
	}
	return &Resolver{
		pool:      pool,
		cache:     cache,
		extractor: extractor,
		client:    &http.Client{Timeout: checkTimeout},
		timeout:   hostTimeout,
	}
}

// NewPool builds the default pool: one Invidious host per mirror, followed by
// the scraping hosts when fallback is enabled.
func NewPool(mirrors []string, fallback bool, proxy string) *HostPool {
	client := &http.Client{Timeout: DefaultHostTimeout}
	hosts := make([]Host, 0, len(mirrors)+3)
	for _, m := range mirrors {
		if m = strings.TrimSpace(m); m != "" {
			hosts = append(hosts, NewInvidiousHost(m, client))
		}
	}
	if fallback {
		hosts = append(hosts, YTMusicHost{}, YTSearchHost{}, &YtdlpHost{Proxy: proxy})
	}
	return NewHostPool(hosts...)
}

func (r *Resolver) Pool() *HostPool { return r.pool }

func (r *Resolver) Search(ctx context.Context, query string, max int) []Track {
	if max <= 0 {
		max = DefaultMaxResults
	}
	hosts := r.pool.Snapshot()
	for _, h := range hosts {
		hctx, cancel := context.WithTimeout(ctx, r.timeout)
		tracks, err := h.Search(hctx, query, max)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return []Track{}
			}
			sys.LogSource(sys.MsgSourceHostFailed, h.Name(), err)
			continue
		}
		if len(tracks) > max {
			tracks = tracks[:max]
		}
		r.promote(h)
		return tracks
	}
	sys.LogSource(sys.MsgSourceAllHostsDown, len(hosts), query)
	return []Track{}
}

// Cached looks id up in the metadata cache only.
func (r *Resolver) Cached(ctx context.Context, id string) (Track, bool) {
	if r.cache == nil {
		return Track{}, false
	}
	return r.cache.Get(ctx, id)
}

func (r *Resolver) Build(ctx context.Context, id string) (Track, bool) {
	if r.cache != nil {
		if t, ok := r.cache.Get(ctx, id); ok {
			return t, true
		}
	}

	hosts := r.pool.Snapshot()
	for _, h := range hosts {
		hctx, cancel := context.WithTimeout(ctx, r.timeout)
		t, err := h.Video(hctx, id)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return Track{}, false
			}
			if !errors.Is(err, ErrUnsupported) {
				sys.LogSource(sys.MsgSourceHostFailed, h.Name(), err)
			}
			continue
		}
		if t.ID == "" {
			t.ID = id
		}
		t.Host = h.Name()
		if r.cache != nil {
			if err := r.cache.Put(ctx, t); err != nil {
				sys.LogSource("Caching %s failed: %v", id, err)
			}
		}
		r.promote(h)
		return t, true
	}
	sys.LogSource(sys.MsgSourceAllHostsDown, len(hosts), id)
	return Track{}, false
}

func (r *Resolver) promote(h Host) {
	if names := r.pool.Names(); len(names) > 0 && names[0] == h.Name() {
		return
	}
	if r.pool.Promote(h.Name()) {
		sys.LogSource(sys.MsgSourcePromoted, h.Name())
	}
}

// EnsureSource returns a URL the audio can be read from right now. The
// track's own AudioURL is kept when it still answers; otherwise the extractor
// produces a fresh one. ignoreStderr silences extractor diagnostics.
func (r *Resolver) EnsureSource(ctx context.Context, t Track, ignoreStderr bool) (string, bool) {
	if t.AudioURL != "" && r.reachable(ctx, t.AudioURL) {
		return t.AudioURL, true
	}
	if r.extractor == nil {
		return "", false
	}

	stdout, stderr, err := r.extractor.Extract(ctx, t.WatchURL())
	for _, line := range strings.Split(stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, true
		}
	}
	if !ignoreStderr {
		detail := strings.TrimSpace(stderr)
		if detail == "" && err != nil {
			detail = err.Error()
		}
		sys.LogSource(sys.MsgSourceExtractFailed, t.ID, detail)
	}
	return "", false
}

func (r *Resolver) reachable(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Probe is the Prober used at startup: a cheap search against each host.
func Probe(ctx context.Context, h Host) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultHostTimeout)
	defer cancel()
	_, err := h.Search(ctx, "music", 1)
	return err
}
