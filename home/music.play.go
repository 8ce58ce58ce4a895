package home

import (
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/player"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/sys"
)

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	guildID := *event.GuildID()
	if _, ok := e.Manager.Session(guildID); ok {
		replyEphemeral(event, sys.ErrAlreadyPlaying)
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	ids, err := e.Queue.Read(ctx, channelID.String())
	if err != nil {
		followUp(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	if len(ids) == 0 {
		followUp(event, sys.ErrQueueEmpty)
		return
	}

	if _, err := e.Manager.Connect(ctx, guildID, channelID, event.Channel().ID()); err != nil {
		if errors.Is(err, player.ErrAlreadyConnected) {
			followUp(event, sys.ErrAlreadyPlaying)
			return
		}
		followUp(event, fmt.Sprintf(sys.ErrVoiceConnect, err))
		return
	}
	followUp(event, fmt.Sprintf(sys.MsgPlayStarted, channelID, len(ids)))
}
