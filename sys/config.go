package sys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultInvidiousURLs is the mirror list the host pool starts from.
var DefaultInvidiousURLs = []string{
	"https://invidious.snopyta.org",
	"https://invidio.xamh.de",
	"https://yewtu.be",
	"https://vid.puffyan.us",
	"https://invidious-us.kavin.rocks",
	"https://inv.riverside.rocks",
	"https://vid.mint.lgbt",
	"https://invidious-jp.kavin.rocks",
	"https://invidious.osi.kr",
	"https://yt.artemislena.eu",
	"https://youtube.076.ne.jp",
	"https://invidious.namazso.eu",
	"https://invidious.kavin.rocks",
}

type Config struct {
	Token        string `env:"DISCORD_TOKEN"`
	GuildID      string `env:"GUILD_ID"`
	DatabasePath string `env:"DATABASE_PATH"`
	Silent       bool   `env:"SILENT"`
	LogFile      string `env:"LOG_FILE"`

	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	WebAddr   string `env:"WEB_ADDR" envDefault:":8080"`

	FetchDir      string        `env:"FETCH_DIR" envDefault:"./server/audio"`
	TrackCacheDir string        `env:"TRACK_CACHE_DIR" envDefault:"./tracks"`
	InvidiousURLs []string      `env:"INVIDIOUS_URLS" envSeparator:","`
	FallbackHosts bool          `env:"FALLBACK_HOSTS" envDefault:"true"`
	HostTimeout   time.Duration `env:"HOST_TIMEOUT" envDefault:"15s"`
	FFmpegPath    string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	YoutubeProxy  string        `env:"YOUTUBE_PROXY"`
	IdleTimeout   time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisTTL      time.Duration `env:"REDIS_TTL" envDefault:"24h"`
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from .env and the environment.
func LoadConfig() (*Config, error) {
	cfg, err := LoadOfflineConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Token == "" {
		return nil, errors.New(MsgConfigMissingToken)
	}
	return cfg, nil
}

// LoadOfflineConfig is LoadConfig without the Discord credentials check,
// for tooling that never opens a gateway.
func LoadOfflineConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf(MsgConfigFailedToLoad, err)
	}

	if cfg.DatabasePath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		cfg.DatabasePath = filepath.Join(folder, GetProjectName()+".db")
	}
	if !strings.Contains(cfg.DatabasePath, "?") {
		cfg.DatabasePath = fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000", cfg.DatabasePath)
	}
	if len(cfg.InvidiousURLs) == 0 {
		cfg.InvidiousURLs = append([]string(nil), DefaultInvidiousURLs...)
	}
	for i := range cfg.InvidiousURLs {
		cfg.InvidiousURLs[i] = strings.TrimRight(strings.TrimSpace(cfg.InvidiousURLs[i]), "/")
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = &cfg
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return errors.New("invalid GUILD_ID: must be a valid Snowflake")
	}
	if c.HostTimeout <= 0 {
		return fmt.Errorf("invalid HOST_TIMEOUT: %v", c.HostTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("invalid IDLE_TIMEOUT: %v", c.IdleTimeout)
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "haruka"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}
