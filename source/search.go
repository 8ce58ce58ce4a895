package source

import (
	"context"
	"strings"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// YTSearchHost scrapes YouTube search results. It has no video endpoint.
type YTSearchHost struct{}

func (YTSearchHost) Name() string { return "ytsearch" }

func (YTSearchHost) Search(ctx context.Context, query string, max int) ([]Track, error) {
	res, err := ytsearch.NewClient(nil).Search(ctx, query)
	if err != nil {
		return nil, err
	}
	var tracks []Track
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		tracks = append(tracks, Track{ID: v.VideoID, Title: v.Title})
		if len(tracks) >= max {
			break
		}
	}
	return tracks, nil
}

func (YTSearchHost) Video(context.Context, string) (Track, error) {
	return Track{}, ErrUnsupported
}

// YTMusicHost searches YouTube Music tracks.
type YTMusicHost struct{}

func (YTMusicHost) Name() string { return "ytmusic" }

func (YTMusicHost) Search(ctx context.Context, query string, max int) ([]Track, error) {
	type outcome struct {
		tracks []Track
		err    error
	}
	// The ytmusic client takes no context, so the call is raced against ctx.
	done := make(chan outcome, 1)
	go func() {
		r, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			done <- outcome{err: err}
			return
		}
		var tracks []Track
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			var artists []string
			for _, a := range v.Artists {
				artists = append(artists, a.Name)
			}
			tracks = append(tracks, Track{ID: v.VideoID, Title: v.Title, Channel: strings.Join(artists, ", ")})
			if len(tracks) >= max {
				break
			}
		}
		done <- outcome{tracks: tracks}
	}()

	select {
	case o := <-done:
		return o.tracks, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (YTMusicHost) Video(context.Context, string) (Track, error) {
	return Track{}, ErrUnsupported
}
