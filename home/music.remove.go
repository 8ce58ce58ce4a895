package home

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/sys"
)

func handleMusicRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	arg, _ := data.OptString("position")
	arg = strings.TrimSpace(arg)

	ctx, cancel := commandContext()
	defer cancel()

	if strings.EqualFold(arg, "all") {
		if err := e.Queue.Clear(ctx, channelID.String()); err != nil {
			replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
			return
		}
		reply(event, fmt.Sprintf(sys.MsgQueueCleared, channelID))
		return
	}

	pos, err := strconv.Atoi(arg)
	if err != nil || pos < 1 {
		replyEphemeral(event, sys.ErrBadPosition)
		return
	}
	id, ok, err := e.Queue.RemoveAt(ctx, channelID.String(), pos)
	if err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	if !ok {
		replyEphemeral(event, sys.ErrBadPosition)
		return
	}
	reply(event, fmt.Sprintf(sys.MsgTrackRemoved, pos, queueLine(e, id)))
}

func handleMusicRotate(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	index, _ := data.OptInt("index")

	ctx, cancel := commandContext()
	defer cancel()

	ids, err := e.Queue.Read(ctx, channelID.String())
	if err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	if len(ids) == 0 {
		replyEphemeral(event, sys.ErrQueueEmpty)
		return
	}
	if index < 1 || index > len(ids) {
		replyEphemeral(event, fmt.Sprintf(sys.ErrBadIndex, len(ids)))
		return
	}
	// The song at index becomes the first; index 1 leaves the queue as is.
	if index > 1 {
		if err := e.Queue.Rotate(ctx, channelID.String(), index-1); err != nil {
			replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
			return
		}
	}
	reply(event, fmt.Sprintf(sys.MsgQueueRotated, index))
}
