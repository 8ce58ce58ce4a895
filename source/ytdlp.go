package source

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leeineian/haruka/sys"
	"github.com/lrstanley/go-ytdlp"
)

const ytdlpTemplate = "%(id)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s"

func newYtdlp(proxy string) *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()

	if proxy != "" {
		cmd.Proxy(proxy)
	}
	return cmd
}

func commonArgs() []string {
	return []string{
		"--no-check-certificates",
		"--extractor-args", "youtube:player_client=android,web",
		"--socket-timeout", "30",
		"--retries", "10",
	}
}

func stderrOf(res *ytdlp.Result) string {
	if res == nil {
		return ""
	}
	return strings.TrimSpace(res.Stderr)
}

// parseTemplateLine reads one line printed with ytdlpTemplate.
func parseTemplateLine(line string) (Track, bool) {
	ps := strings.Split(line, "\t")
	if len(ps) < 4 || ps[0] == "" || ps[0] == "NA" {
		return Track{}, false
	}
	t := Track{ID: ps[0], Title: ps[1], Channel: ps[2]}
	if d, err := strconv.ParseFloat(ps[3], 64); err == nil {
		t.Duration = int(d)
	}
	if len(ps) >= 5 && ps[4] != "NA" {
		t.Thumbnail = ps[4]
	}
	return t, true
}

// YtdlpHost asks yt-dlp directly. It is slow but independent of any mirror.
type YtdlpHost struct {
	Proxy string
}

func (h *YtdlpHost) Name() string { return "yt-dlp" }

func (h *YtdlpHost) Search(ctx context.Context, query string, max int) ([]Track, error) {
	res, err := newYtdlp(h.Proxy).
		FlatPlaylist().
		Print(ytdlpTemplate).
		Run(ctx, append(commonArgs(), fmt.Sprintf("ytsearch%d:%s", max, query))...)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp search: %w: %s", err, stderrOf(res))
	}

	var tracks []Track
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if t, ok := parseTemplateLine(l); ok {
			tracks = append(tracks, t)
		}
		if len(tracks) >= max {
			break
		}
	}
	return tracks, nil
}

func (h *YtdlpHost) Video(ctx context.Context, id string) (Track, error) {
	args := append(commonArgs(), "-f", "bestaudio[acodec=opus]/bestaudio/best", "--skip-download")
	res, err := newYtdlp(h.Proxy).
		Print(ytdlpTemplate+"\t%(url)s").
		Run(ctx, append(args, WatchURL(id))...)
	if err != nil {
		return Track{}, fmt.Errorf("yt-dlp video: %w: %s", err, stderrOf(res))
	}

	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		t, ok := parseTemplateLine(l)
		if !ok {
			continue
		}
		if ps := strings.Split(l, "\t"); len(ps) >= 6 && strings.HasPrefix(ps[5], "http") {
			t.AudioURL = ps[5]
		}
		return t, nil
	}
	return Track{}, errors.New("yt-dlp video: no metadata printed")
}

// PlaylistIDs lists up to max video ids of a playlist without resolving them.
func PlaylistIDs(ctx context.Context, proxy, url string, max int) ([]string, error) {
	res, err := newYtdlp(proxy).
		FlatPlaylist().
		Print("%(id)s").
		PlaylistItems(fmt.Sprintf("1-%d", max)).
		Run(ctx, append(commonArgs(), "--yes-playlist", url)...)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp playlist: %w: %s", err, stderrOf(res))
	}

	var ids []string
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		l = strings.TrimSpace(l)
		if l == "" || l == "NA" {
			continue
		}
		ids = append(ids, l)
	}
	sys.LogSource("Playlist %s expanded to %d ids", url, len(ids))
	return ids, nil
}

// Extractor resolves a watch URL to a direct audio URL.
type Extractor interface {
	Extract(ctx context.Context, watchURL string) (stdout, stderr string, err error)
}

// YtdlpExtractor is the Extractor backed by the yt-dlp binary.
type YtdlpExtractor struct {
	Proxy string
}

func (e *YtdlpExtractor) Extract(ctx context.Context, watchURL string) (string, string, error) {
	res, err := newYtdlp(e.Proxy).Run(ctx,
		"--get-url",
		"--extract-audio",
		"--audio-format", "opus",
		"--rm-cache-dir",
		"--force-ipv4",
		watchURL,
	)
	if res == nil {
		return "", "", err
	}
	return res.Stdout, res.Stderr, err
}
