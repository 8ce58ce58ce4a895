package source

import (
	"fmt"
	"time"
)

const watchPrefix = "https://www.youtube.com/watch?v="

// Track is an immutable snapshot of a piece of audio content. A track with an
// empty AudioURL is partial: it carries display metadata only, which is all a
// search listing needs.
type Track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Channel     string `json:"channel"`
	Duration    int    `json:"duration"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail"`
	AudioURL    string `json:"audio_url,omitempty"`
	Host        string `json:"api_url,omitempty"`
}

func (t Track) Partial() bool {
	return t.AudioURL == ""
}

func (t Track) WatchURL() string {
	return WatchURL(t.ID)
}

func (t Track) Length() time.Duration {
	return time.Duration(t.Duration) * time.Second
}

// WithAudioURL returns a copy of t pointing at url.
func (t Track) WithAudioURL(url string) Track {
	t.AudioURL = url
	return t
}

func WatchURL(id string) string {
	return watchPrefix + id
}

// FormatDuration renders seconds as m:ss or h:mm:ss.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h, m, s := seconds/3600, (seconds/60)%60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
