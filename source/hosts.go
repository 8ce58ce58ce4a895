package source

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leeineian/haruka/sys"
	"golang.org/x/sync/errgroup"
)

// ErrUnsupported is returned by hosts that cannot serve an operation.
var ErrUnsupported = errors.New("operation not supported by host")

// Host is one interchangeable backend able to answer search and build
// requests.
type Host interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]Track, error)
	Video(ctx context.Context, id string) (Track, error)
}

// HostPool is an ordered set of hosts, most recently successful first.
// Hosts are only ever reordered, never removed.
type HostPool struct {
	mu    sync.Mutex
	hosts []Host
}

func NewHostPool(hosts ...Host) *HostPool {
	return &HostPool{hosts: slices.Clone(hosts)}
}

// Snapshot returns the current order. Callers iterate the copy, so a
// concurrent Promote never shows them a half-updated list.
func (p *HostPool) Snapshot() []Host {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.hosts)
}

func (p *HostPool) Names() []string {
	hosts := p.Snapshot()
	names := make([]string, len(hosts))
	for i, h := range hosts {
		names[i] = h.Name()
	}
	return names
}

func (p *HostPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.hosts)
}

// Promote moves the host with the given name to the front.
func (p *HostPool) Promote(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := slices.IndexFunc(p.hosts, func(h Host) bool { return h.Name() == name })
	if idx < 0 {
		return false
	}
	if idx == 0 {
		return true
	}

	next := make([]Host, 0, len(p.hosts))
	next = append(next, p.hosts[idx])
	next = append(next, p.hosts[:idx]...)
	next = append(next, p.hosts[idx+1:]...)
	p.hosts = next
	return true
}

// Prober measures one host. A nil error means healthy.
type Prober func(ctx context.Context, h Host) error

// Warmup probes every host concurrently and reorders the pool by ascending
// latency, unhealthy hosts last. Relative order is kept among ties.
func (p *HostPool) Warmup(ctx context.Context, probe Prober, limit int) []string {
	hosts := p.Snapshot()
	type result struct {
		latency time.Duration
		ok      bool
	}
	results := make([]result, len(hosts))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, h := range hosts {
		g.Go(func() error {
			start := time.Now()
			err := probe(gctx, h)
			results[i] = result{latency: time.Since(start), ok: err == nil}
			return nil
		})
	}
	_ = g.Wait()

	order := make([]int, len(hosts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := results[order[a]], results[order[b]]
		if ra.ok != rb.ok {
			return ra.ok
		}
		if !ra.ok {
			return false
		}
		return ra.latency < rb.latency
	})

	sorted := make([]Host, len(hosts))
	names := make([]string, len(hosts))
	for i, idx := range order {
		sorted[i] = hosts[idx]
		names[i] = hosts[idx].Name()
	}

	p.mu.Lock()
	p.hosts = sorted
	p.mu.Unlock()

	sys.LogSource(sys.MsgSourceWarmupDone, len(names), strings.Join(names, ", "))
	return names
}
