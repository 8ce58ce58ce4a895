package proc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/leeineian/haruka/sys"
)

func testConfig(t *testing.T) *sys.Config {
	dir := t.TempDir()
	return &sys.Config{
		FetchDir:      filepath.Join(dir, "audio"),
		TrackCacheDir: filepath.Join(dir, "tracks"),
		PublicURL:     "http://example.test",
		FFmpegPath:    "ffmpeg",
		FallbackHosts: true,
	}
}

func TestNewMediaCreatesDirectories(t *testing.T) {
	cfg := testConfig(t)

	m, err := newMedia(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer m.close()

	for _, dir := range []string{cfg.FetchDir, cfg.TrackCacheDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
	if m.redis != nil {
		t.Error("redis client opened without REDIS_ADDR")
	}
	if got := m.fetcher.URL("abc"); got != "http://example.test/audio/abc.mp3" {
		t.Errorf("URL = %q", got)
	}
	if m.resolver.Pool().Len() == 0 {
		t.Error("empty host pool")
	}
}

func TestNewEngineRequiresConfigAndDatabase(t *testing.T) {
	if _, err := newEngine(context.Background(), nil, nil); err == nil {
		t.Error("engine built without config")
	}
	if sys.DB == nil {
		if _, err := newEngine(context.Background(), testConfig(t), nil); err == nil {
			t.Error("engine built without database")
		}
	}
}
