package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/sys"
)

const (
	ConnectTimeout     = 30 * time.Second
	DefaultIdleTimeout = 5 * time.Minute
	connectAttempts    = 5
)

type Config struct {
	Dialer      Dialer
	Queue       Queue
	Resolver    Resolver
	Loader      SliceLoader
	Notifier    Notifier
	IdleTimeout time.Duration
}

// Manager owns at most one Session per guild.
type Manager struct {
	mu         sync.Mutex
	sessions   map[snowflake.ID]*Session
	connecting map[snowflake.ID]struct{}
	hooks      []func(*Session)

	base        context.Context
	dialer      Dialer
	deps        sessionDeps
	idleTimeout time.Duration
	backoff     func(attempt int) time.Duration
}

func NewManager(ctx context.Context, cfg Config) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Loader == nil {
		cfg.Loader = AstiavSliceLoader{}
	}
	return &Manager{
		sessions:   make(map[snowflake.ID]*Session),
		connecting: make(map[snowflake.ID]struct{}),
		base:       ctx,
		dialer:     cfg.Dialer,
		deps: sessionDeps{
			queue:    cfg.Queue,
			resolver: cfg.Resolver,
			loader:   cfg.Loader,
			notifier: cfg.Notifier,
		},
		idleTimeout: cfg.IdleTimeout,
		backoff: func(i int) time.Duration {
			return time.Duration(1<<uint(i-1)) * time.Second
		},
	}
}

// OnDisconnect registers a hook fired once for every session torn down.
func (m *Manager) OnDisconnect(fn func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, fn)
}

func (m *Manager) Session(guildID snowflake.ID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[guildID]
	return s, ok
}

func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Connect joins the voice channel and starts playing its queue.
func (m *Manager) Connect(ctx context.Context, guildID, channelID, textID snowflake.ID) (*Session, error) {
	return m.connect(ctx, guildID, channelID, textID, Flags{})
}

func (m *Manager) connect(ctx context.Context, guildID, channelID, textID snowflake.ID, flags Flags) (*Session, error) {
	m.mu.Lock()
	_, active := m.sessions[guildID]
	_, pending := m.connecting[guildID]
	if active || pending {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	m.connecting[guildID] = struct{}{}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.connecting, guildID)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	sys.LogVoice(sys.MsgVoiceJoining, channelID, guildID)

	var (
		transport Transport
		lastErr   error
	)
dial:
	for i := range connectAttempts {
		if i > 0 {
			wait := m.backoff(i)
			sys.LogVoice(sys.MsgVoiceJoinRetry, wait, i+1, connectAttempts)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break dial
			}
		}
		transport, lastErr = m.dialer.Dial(ctx, guildID, channelID)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		sys.LogVoice(sys.MsgVoiceJoinFailed, guildID, connectAttempts, lastErr)
		return nil, fmt.Errorf("connect to voice: %w", lastErr)
	}

	deps := m.deps
	deps.transport = transport
	s := newSession(m.base, guildID, channelID, textID, deps, flags)
	s.release = func() { m.release(context.Background(), s) }

	m.mu.Lock()
	m.sessions[guildID] = s
	m.mu.Unlock()

	sys.SafeGo(func() {
		defer close(s.stopped)
		s.Play(s.ctx)
	})
	return s, nil
}

// release tears a session down exactly once. Safe to call from inside the
// session's own loop.
func (m *Manager) release(ctx context.Context, s *Session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.GuildID]; !ok || cur != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.GuildID)
	hooks := append([]func(*Session)(nil), m.hooks...)
	m.mu.Unlock()

	s.mu.Lock()
	s.state = StateDisconnecting
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
	s.mu.Unlock()

	s.cancel()
	s.transport.Close(ctx)

	s.mu.Lock()
	s.state = StateDisconnected
	s.current = nil
	s.mu.Unlock()

	for _, h := range hooks {
		h(s)
	}
	sys.LogVoice(sys.MsgVoiceDisconnected, s.GuildID)
}

func (m *Manager) Disconnect(ctx context.Context, guildID snowflake.ID) error {
	s, ok := m.Session(guildID)
	if !ok {
		return ErrNoSession
	}
	m.release(ctx, s)
	return nil
}

func (m *Manager) Stop(ctx context.Context, guildID snowflake.ID) error {
	return m.Disconnect(ctx, guildID)
}

// Skip drops the current track by reconnecting: the old session is torn
// down and a fresh one resumes the queue with the same shuffle setting.
func (m *Manager) Skip(ctx context.Context, guildID snowflake.ID) (*Session, error) {
	s, ok := m.Session(guildID)
	if !ok {
		return nil, ErrNoSession
	}
	flags := Flags{Shuffle: s.Flags().Shuffle}

	m.release(ctx, s)
	select {
	case <-s.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return m.connect(ctx, guildID, s.ChannelID, s.TextChannelID, flags)
}

// Shutdown disconnects every session concurrently.
func (m *Manager) Shutdown(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range m.Sessions() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.release(ctx, s)
		}()
	}
	wg.Wait()
}
