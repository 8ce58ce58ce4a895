package player

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/dustin/go-humanize"
	"github.com/leeineian/haruka/sys"
)

// ListenersChanged is fed the number of non-bot members left in the
// session's voice channel. An empty channel pauses playback and arms the
// idle timer; anyone joining disarms it and resumes.
func (m *Manager) ListenersChanged(guildID snowflake.ID, listeners int) {
	s, ok := m.Session(guildID)
	if !ok {
		return
	}

	s.mu.Lock()
	prev := s.listeners
	s.listeners = listeners
	armed := s.idle != nil
	if listeners > 0 && armed {
		s.idle.Stop()
		s.idle = nil
	}
	if listeners == 0 && !armed {
		s.idle = time.AfterFunc(m.idleTimeout, func() { m.idleExpired(s) })
	}
	s.mu.Unlock()

	switch {
	case listeners == 0 && !armed:
		sys.SafeGo(func() { m.autoPause(s) })
	case listeners > 0 && prev == 0:
		sys.SafeGo(func() { m.autoResume(s) })
	}
}

func (m *Manager) autoPause(s *Session) {
	ctx, cancel := context.WithTimeout(s.ctx, m.idleTimeout)
	defer cancel()

	paused, err := s.Pause(ctx)
	if err != nil || !paused {
		return
	}
	sys.LogVoice(sys.MsgVoiceAutoPause, s.GuildID)
	s.Notify(ctx, fmt.Sprintf(sys.MsgAllMembersLeft, s.ChannelID))
}

func (m *Manager) autoResume(s *Session) {
	ctx, cancel := context.WithTimeout(s.ctx, ConnectTimeout)
	defer cancel()

	if _, err := s.Resume(ctx); err != nil {
		sys.LogDebug("auto resume in guild %s: %v", s.GuildID, err)
	}
}

func (m *Manager) idleExpired(s *Session) {
	s.mu.Lock()
	s.idle = nil
	empty := s.listeners == 0
	s.mu.Unlock()

	if !empty || s.ctx.Err() != nil {
		return
	}
	sys.LogVoice(sys.MsgVoiceIdleTimeout, s.ChannelID, m.idleTimeout)
	m.release(context.Background(), s)
	s.Notify(context.Background(), fmt.Sprintf(sys.MsgIdleDisconnect, s.ChannelID, humanDuration(m.idleTimeout)))
}

func humanDuration(d time.Duration) string {
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now, now.Add(d), "", ""))
}
