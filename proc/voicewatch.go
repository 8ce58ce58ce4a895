package proc

import (
	"context"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/player"
	"github.com/leeineian/haruka/sys"
)

func (e *Engine) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	guildID := event.VoiceState.GuildID
	s, ok := e.Manager.Session(guildID)
	if !ok {
		return
	}

	if event.VoiceState.UserID == event.Client().ID() {
		e.handleBotVoiceStateUpdate(event, s)
		return
	}

	e.Manager.ListenersChanged(guildID, countListeners(event.Client(), guildID, s.ChannelID))
}

func (e *Engine) handleBotVoiceStateUpdate(event *events.GuildVoiceStateUpdate, s *player.Session) {
	if event.VoiceState.ChannelID != nil {
		return
	}
	// The leave of a skipped session can arrive while its successor dials.
	if s.State() == player.StateConnecting {
		return
	}
	sys.LogVoice("Bot disconnected by external event in guild %s", s.GuildID)
	_ = e.Manager.Disconnect(context.Background(), s.GuildID)
}

// countListeners counts the members in channelID that are not bots.
func countListeners(client *bot.Client, guildID, channelID snowflake.ID) int {
	n := 0
	for state := range client.Caches.VoiceStates(guildID) {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == client.ID() {
			continue
		}
		if m, ok := client.Caches.Member(guildID, state.UserID); ok && m.User.Bot {
			continue
		}
		n++
	}
	return n
}
