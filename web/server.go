package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/leeineian/haruka/bridge"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
	"golang.org/x/time/rate"
)

const (
	DefaultRequestsPerSecond = 5
	DefaultBurst             = 10
	DefaultPollInterval      = 2 * time.Second
	DefaultControlTimeout    = 30 * time.Second

	skipTimeout    = time.Minute
	writeTimeout   = 10 * time.Second
	shutdownWait   = 5 * time.Second
	visitorTTL     = 10 * time.Minute
	visitorSweepAt = 1024
)

// Player is the part of a playback session the dashboard drives.
type Player interface {
	bridge.Session
	Guild() snowflake.ID
	Current() (source.Track, bool)
	Pause(ctx context.Context) (bool, error)
	Resume(ctx context.Context) (bool, error)
	SwitchShuffle(ctx context.Context) (bool, error)
	SwitchRepeat(ctx context.Context) (bool, error)
	SwitchStopAfter(ctx context.Context) (bool, error)
	Notify(ctx context.Context, content string)
}

// Controller tears a guild's session down or restarts it on the next track.
type Controller interface {
	Skip(ctx context.Context, guildID snowflake.ID) error
	Stop(ctx context.Context, guildID snowflake.ID) error
}

type Options struct {
	Tokens            *bridge.Bridge[Player]
	Control           Controller
	AudioDir          string
	RequestsPerSecond float64
	Burst             int
	PollInterval      time.Duration
	// ControlTimeout bounds how long a control waits for playback to start.
	ControlTimeout time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type Server struct {
	router   *mux.Router
	tokens   *bridge.Bridge[Player]
	control  Controller
	audioDir string
	base     context.Context
	poll     time.Duration
	wait     time.Duration
	upgrader websocket.Upgrader

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	visitors map[string]*visitor
}

type nowPlaying struct {
	Thumbnail   string `json:"thumbnail"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

func New(ctx context.Context, opts Options) *Server {
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = DefaultControlTimeout
	}

	s := &Server{
		tokens:   opts.Tokens,
		control:  opts.Control,
		audioDir: opts.AudioDir,
		base:     ctx,
		poll:     opts.PollInterval,
		wait:     opts.ControlTimeout,
		limit:    rate.Limit(opts.RequestsPerSecond),
		burst:    opts.Burst,
		visitors: make(map[string]*visitor),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.Use(s.rateLimit)
	r.HandleFunc("/", s.index).Methods(http.MethodGet)
	r.HandleFunc("/pause", s.withPlayer(s.pause)).Methods(http.MethodGet)
	r.HandleFunc("/resume", s.withPlayer(s.resume)).Methods(http.MethodGet)
	r.HandleFunc("/skip", s.withPlayer(s.skip)).Methods(http.MethodGet)
	r.HandleFunc("/stop", s.withPlayer(s.stop)).Methods(http.MethodGet)
	r.HandleFunc("/shuffle", s.withPlayer(s.shuffle)).Methods(http.MethodGet)
	r.HandleFunc("/repeat", s.withPlayer(s.repeat)).Methods(http.MethodGet)
	r.HandleFunc("/stopafter", s.withPlayer(s.stopAfter)).Methods(http.MethodGet)
	r.HandleFunc("/audio-control", s.withPlayer(s.audioControl)).Methods(http.MethodGet)
	r.HandleFunc("/audio-control/playing", s.withPlayer(s.playing)).Methods(http.MethodGet)
	r.HandleFunc("/audio-control/thumbnail", s.withPlayer(s.thumbnail)).Methods(http.MethodGet)
	r.HandleFunc("/audio-control/ws", s.withPlayer(s.feed)).Methods(http.MethodGet)
	r.HandleFunc("/audio/{id:[A-Za-z0-9_-]+}.mp3", s.audio).Methods(http.MethodGet, http.MethodHead)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sys.LogWeb(sys.MsgWebListening, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter(ip).Allow() {
			sys.LogWeb(sys.MsgWebRateLimited, ip)
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiter(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if len(s.visitors) >= visitorSweepAt {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(s.visitors, k)
			}
		}
	}

	v, ok := s.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withPlayer resolves ?key= and answers 400 for anything it cannot resolve.
func (s *Server) withPlayer(h func(http.ResponseWriter, *http.Request, Player)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		p, ok := s.tokens.Resolve(key)
		if key == "" || !ok {
			sys.LogWeb(sys.MsgWebBadKey, r.URL.Path, clientIP(r))
			http.Error(w, "invalid key", http.StatusBadRequest)
			return
		}
		h(w, r, p)
	}
}

// controlContext bounds the operable wait of a control.
func (s *Server) controlContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.wait)
}

func controlFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		http.Error(w, sys.ErrNotPlayingYet, http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request, p Player) {
	ctx, cancel := s.controlContext(r)
	defer cancel()
	changed, err := p.Pause(ctx)
	if err != nil {
		controlFailed(w, err)
		return
	}
	if changed {
		p.Notify(r.Context(), fmt.Sprintf(sys.MsgPaused, "web"))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request, p Player) {
	ctx, cancel := s.controlContext(r)
	defer cancel()
	changed, err := p.Resume(ctx)
	if err != nil {
		controlFailed(w, err)
		return
	}
	if changed {
		p.Notify(r.Context(), fmt.Sprintf(sys.MsgResumed, "web"))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) skip(w http.ResponseWriter, r *http.Request, p Player) {
	guildID := p.Guild()
	sys.SafeGo(func() {
		ctx, cancel := context.WithTimeout(s.base, skipTimeout)
		defer cancel()
		if err := s.control.Skip(ctx, guildID); err != nil {
			sys.LogWeb(sys.MsgWebSkipFailed, err)
		}
	})
	p.Notify(r.Context(), fmt.Sprintf(sys.MsgSkipped, "web"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request, p Player) {
	ctx, cancel := s.controlContext(r)
	defer cancel()
	if err := s.control.Stop(ctx, p.Guild()); err != nil {
		controlFailed(w, err)
		return
	}
	p.Notify(r.Context(), fmt.Sprintf(sys.MsgStopped, "web"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggle(w http.ResponseWriter, r *http.Request, p Player, flip func(context.Context) (bool, error), on, off string) {
	ctx, cancel := s.controlContext(r)
	defer cancel()
	enabled, err := flip(ctx)
	if err != nil {
		controlFailed(w, err)
		return
	}
	msg := off
	if enabled {
		msg = on
	}
	p.Notify(r.Context(), msg)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) shuffle(w http.ResponseWriter, r *http.Request, p Player) {
	s.toggle(w, r, p, p.SwitchShuffle, sys.MsgShuffleOn, sys.MsgShuffleOff)
}

func (s *Server) repeat(w http.ResponseWriter, r *http.Request, p Player) {
	s.toggle(w, r, p, p.SwitchRepeat, sys.MsgRepeatOne, sys.MsgRepeatAll)
}

func (s *Server) stopAfter(w http.ResponseWriter, r *http.Request, p Player) {
	s.toggle(w, r, p, p.SwitchStopAfter, sys.MsgStopAfterOn, sys.MsgStopAfterOff)
}

func (s *Server) audioControl(w http.ResponseWriter, r *http.Request, _ Player) {
	target := "/?audio-control=1&key=" + url.QueryEscape(r.URL.Query().Get("key"))
	http.Redirect(w, r, target, http.StatusFound)
}

func snapshot(p Player) (nowPlaying, bool) {
	t, ok := p.Current()
	if !ok {
		return nowPlaying{}, false
	}
	return nowPlaying{Thumbnail: t.Thumbnail, Title: t.Title, Description: t.Description}, true
}

func (s *Server) playing(w http.ResponseWriter, r *http.Request, p Player) {
	np, ok := snapshot(p)
	if !ok {
		http.Error(w, "nothing is playing", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(np)
}

func (s *Server) thumbnail(w http.ResponseWriter, r *http.Request, p Player) {
	np, ok := snapshot(p)
	if !ok || np.Thumbnail == "" {
		http.Error(w, "no thumbnail", http.StatusNotFound)
		return
	}
	http.Redirect(w, r, np.Thumbnail, http.StatusFound)
}

// feed pushes the now-playing JSON whenever it changes; null means idle.
func (s *Server) feed(w http.ResponseWriter, r *http.Request, p Player) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sys.LogWeb(sys.MsgWebUpgradeFail, err)
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	var last *nowPlaying
	sent := false
	for {
		if !p.Connected() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "disconnected")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
			return
		}

		var cur *nowPlaying
		if np, ok := snapshot(p); ok {
			cur = &np
		}
		if !sent || !samePlaying(last, cur) {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(cur); err != nil {
				return
			}
			last, sent = cur, true
		}

		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-s.base.Done():
			return
		}
	}
}

func samePlaying(a, b *nowPlaying) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Server) audio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	w.Header().Set("Content-Type", "audio/mpeg")
	http.ServeFile(w, r, filepath.Join(s.audioDir, id+".mp3"))
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardPage))
}
