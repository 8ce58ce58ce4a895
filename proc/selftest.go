package proc

import (
	"context"
	"fmt"

	"github.com/leeineian/haruka/fetch"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

type trackBuilder interface {
	Build(ctx context.Context, id string) (source.Track, bool)
}

type trackFetcher interface {
	Fetch(ctx context.Context, t source.Track) (string, bool)
}

// SelfTest runs one track through build, source lookup and transcoding
// without a Discord connection. It returns the track and its download URL.
func SelfTest(ctx context.Context, cfg *sys.Config, id string) (source.Track, string, error) {
	m, err := newMedia(ctx, cfg)
	if err != nil {
		return source.Track{}, "", err
	}
	defer m.close()

	return selfTest(ctx, m.resolver, m.resolver, m.fetcher, id)
}

// selfTest checks the source with host stderr ignored before fetching, so a
// noisy but working host does not fail the run.
func selfTest(ctx context.Context, b trackBuilder, sources fetch.SourceEnsurer, f trackFetcher, id string) (source.Track, string, error) {
	t, ok := b.Build(ctx, id)
	if !ok {
		return source.Track{}, "", fmt.Errorf("no host could build %s", id)
	}
	if _, ok := sources.EnsureSource(ctx, t, true); !ok {
		return t, "", fmt.Errorf("no readable source for %s", id)
	}
	url, ok := f.Fetch(ctx, t)
	if !ok {
		return t, "", fmt.Errorf("could not materialize %s", id)
	}
	return t, url, nil
}
