package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// InvidiousHost talks to one Invidious mirror over its v1 API.
type InvidiousHost struct {
	base   string
	client *http.Client
}

func NewInvidiousHost(base string, client *http.Client) *InvidiousHost {
	if client == nil {
		client = http.DefaultClient
	}
	return &InvidiousHost{base: strings.TrimRight(base, "/"), client: client}
}

func (h *InvidiousHost) Name() string { return h.base }

type invidiousThumbnail struct {
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

type invidiousFormat struct {
	URL      string `json:"url"`
	Encoding string `json:"encoding"`
}

type invidiousVideo struct {
	Type            string               `json:"type"`
	VideoID         string               `json:"videoId"`
	Title           string               `json:"title"`
	Author          string               `json:"author"`
	LengthSeconds   int                  `json:"lengthSeconds"`
	Description     string               `json:"description"`
	VideoThumbnails []invidiousThumbnail `json:"videoThumbnails"`
	AdaptiveFormats []invidiousFormat    `json:"adaptiveFormats"`
}

func (h *InvidiousHost) Search(ctx context.Context, query string, max int) ([]Track, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("page", "0")
	q.Set("type", "video")

	var items []invidiousVideo
	if err := h.get(ctx, "/api/v1/search?"+q.Encode(), &items); err != nil {
		return nil, err
	}

	tracks := make([]Track, 0, min(max, len(items)))
	for _, it := range items {
		if len(tracks) >= max {
			break
		}
		if it.VideoID == "" || (it.Type != "" && it.Type != "video") {
			continue
		}
		t := h.toTrack(it)
		t.AudioURL = ""
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (h *InvidiousHost) Video(ctx context.Context, id string) (Track, error) {
	var v invidiousVideo
	if err := h.get(ctx, "/api/v1/videos/"+url.PathEscape(id), &v); err != nil {
		return Track{}, err
	}
	if v.VideoID == "" {
		v.VideoID = id
	}
	return h.toTrack(v), nil
}

func (h *InvidiousHost) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", h.base, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (h *InvidiousHost) toTrack(v invidiousVideo) Track {
	t := Track{
		ID:          v.VideoID,
		Title:       v.Title,
		Channel:     v.Author,
		Duration:    v.LengthSeconds,
		Description: v.Description,
		Thumbnail:   h.pickThumbnail(v.VideoThumbnails),
	}
	for _, f := range v.AdaptiveFormats {
		if f.Encoding == "opus" {
			t.AudioURL = f.URL
			break
		}
	}
	return t
}

// pickThumbnail prefers a maxres thumbnail, falling back to the last one.
func (h *InvidiousHost) pickThumbnail(thumbs []invidiousThumbnail) string {
	if len(thumbs) == 0 {
		return ""
	}
	chosen := thumbs[len(thumbs)-1].URL
	for _, th := range thumbs {
		if strings.Contains(th.Quality, "maxres") {
			chosen = th.URL
			break
		}
	}
	if strings.HasPrefix(chosen, "/") {
		chosen = h.base + chosen
	}
	return chosen
}
