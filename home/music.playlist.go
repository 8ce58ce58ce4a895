package home

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

func handleMusicPlaylist(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	arg, _ := data.OptString("url")
	target, ok := playlistURL(arg)
	if !ok {
		replyEphemeral(event, sys.ErrBadPlaylist)
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	queued, err := e.Queue.Read(ctx, channelID.String())
	if err != nil {
		followUp(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	room := e.Queue.Max() - len(queued)
	if room <= 0 {
		followUp(event, fmt.Sprintf(sys.ErrQueueFull, e.Queue.Max()))
		return
	}

	ids, err := source.PlaylistIDs(ctx, e.Config().YoutubeProxy, target, room)
	if err != nil || len(ids) == 0 {
		sys.LogSource("Playlist %s failed: %v", target, err)
		followUp(event, sys.ErrPlaylistNotFound)
		return
	}
	if len(ids) > room {
		ids = ids[:room]
	}

	n, err := e.Queue.Append(ctx, channelID.String(), ids...)
	if err != nil {
		followUp(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	followUp(event, fmt.Sprintf(sys.MsgPlaylistLoaded, len(ids), channelID, n))
}

// playlistURL accepts a playlist URL carrying ?list= or a bare playlist id.
func playlistURL(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", false
	}
	if !strings.Contains(arg, "://") {
		return "https://www.youtube.com/playlist?list=" + url.QueryEscape(arg), true
	}
	u, err := url.Parse(arg)
	if err != nil {
		return "", false
	}
	list := u.Query().Get("list")
	if list == "" {
		return "", false
	}
	return "https://www.youtube.com/playlist?list=" + url.QueryEscape(list), true
}
