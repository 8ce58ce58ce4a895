package proc

import (
	"context"
	"fmt"
	"sync"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/bridge"
	"github.com/leeineian/haruka/fetch"
	"github.com/leeineian/haruka/player"
	"github.com/leeineian/haruka/queue"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
	"github.com/leeineian/haruka/web"
	"github.com/redis/go-redis/v9"
)

// Engine ties the playback stack together for the command and web layers.
type Engine struct {
	cfg      *sys.Config
	Manager  *player.Manager
	Tokens   *bridge.Bridge[web.Player]
	Resolver *source.Resolver
	Queue    *queue.Store
	Catalog  *queue.Catalog
	Fetcher  *fetch.Coordinator
	Web      *web.Server
	redis    *redis.Client
}

var (
	engine     *Engine
	engineErr  error
	engineOnce sync.Once
)

// GetEngine returns the running engine, or nil before the client is ready.
func GetEngine() *Engine {
	return engine
}

// InitEngine builds the engine once. Later calls return the first result.
func InitEngine(ctx context.Context, cfg *sys.Config, client *bot.Client) (*Engine, error) {
	engineOnce.Do(func() {
		engine, engineErr = newEngine(ctx, cfg, client)
	})
	return engine, engineErr
}

// media is the part of the engine that needs no Discord client.
type media struct {
	resolver *source.Resolver
	fetcher  *fetch.Coordinator
	redis    *redis.Client
}

func newMedia(ctx context.Context, cfg *sys.Config) (*media, error) {
	disk, err := source.NewDiskCache(cfg.TrackCacheDir)
	if err != nil {
		return nil, fmt.Errorf("track cache: %w", err)
	}

	m := &media{}
	var cache source.MetadataCache = disk
	if cfg.RedisAddr != "" {
		rdb, err := source.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			sys.LogWarn("Redis unavailable, caching tracks on disk only: %v", err)
		} else {
			m.redis = rdb
			cache = source.NewTieredCache(source.NewRedisCache(rdb, cfg.RedisTTL), disk)
		}
	}

	pool := source.NewPool(cfg.InvidiousURLs, cfg.FallbackHosts, cfg.YoutubeProxy)
	m.resolver = source.NewResolver(pool, cache, &source.YtdlpExtractor{Proxy: cfg.YoutubeProxy}, cfg.HostTimeout)

	m.fetcher, err = fetch.NewCoordinator(cfg.FetchDir, cfg.PublicURL, m.resolver, &fetch.FFmpeg{Bin: cfg.FFmpegPath})
	if err != nil {
		m.close()
		return nil, fmt.Errorf("fetch dir: %w", err)
	}
	return m, nil
}

func (m *media) close() {
	if m.redis != nil {
		_ = m.redis.Close()
	}
}

func newEngine(ctx context.Context, cfg *sys.Config, client *bot.Client) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("engine: no configuration loaded")
	}
	if sys.DB == nil {
		return nil, fmt.Errorf("engine: database not initialized")
	}

	m, err := newMedia(ctx, cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		Resolver: m.resolver,
		Fetcher:  m.fetcher,
		Queue:    queue.NewStore(sys.DB),
		Tokens:   bridge.New[web.Player](),
		redis:    m.redis,
	}
	e.Catalog = queue.NewCatalog(sys.DB, e.Queue)
	e.Manager = player.NewManager(ctx, player.Config{
		Dialer:      &player.VoiceDialer{Client: client},
		Queue:       e.Queue,
		Resolver:    e.Resolver,
		Notifier:    &player.DiscordNotifier{Client: client},
		IdleTimeout: cfg.IdleTimeout,
	})
	e.Manager.OnDisconnect(func(s *player.Session) {
		e.Tokens.UnregisterSession(s)
	})
	e.Web = web.New(ctx, web.Options{
		Tokens:         e.Tokens,
		Control:        e,
		AudioDir:       cfg.FetchDir,
		ControlTimeout: player.ConnectTimeout,
	})
	return e, nil
}

func (e *Engine) Config() *sys.Config { return e.cfg }

// Skip restarts the guild's session on the next track. A dashboard key
// issued for the old session keeps working for the new one.
func (e *Engine) Skip(ctx context.Context, guildID snowflake.ID) error {
	old, ok := e.Manager.Session(guildID)
	if !ok {
		return player.ErrNoSession
	}
	token, registered := e.Tokens.Token(old)

	s, err := e.Manager.Skip(ctx, guildID)
	if err != nil {
		return err
	}
	if registered {
		e.Tokens.Adopt(token, s)
	}
	return nil
}

func (e *Engine) Stop(ctx context.Context, guildID snowflake.ID) error {
	return e.Manager.Stop(ctx, guildID)
}

// DashboardURL registers the session with the bridge and returns its link.
func (e *Engine) DashboardURL(s *player.Session) string {
	return e.cfg.PublicURL + "/audio-control?key=" + e.Tokens.Register(s)
}

func (e *Engine) Close(ctx context.Context) {
	e.Manager.Shutdown(ctx)
	if e.redis != nil {
		_ = e.redis.Close()
	}
}
