package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

const queuePageSize = 8

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	page := 1
	if p, ok := data.OptInt("page"); ok && p > 0 {
		page = p
	}

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

	pages := (len(ids) + queuePageSize - 1) / queuePageSize
	page = min(page, pages)
	start := (page - 1) * queuePageSize
	end := min(start+queuePageSize, len(ids))

	var b strings.Builder
	for i, id := range ids[start:end] {
		fmt.Fprintf(&b, "`%d.` %s\n", start+i+1, queueLine(e, id))
	}

	embed := discord.Embed{
		Title:       fmt.Sprintf("Queue of <#%s>", channelID),
		Description: b.String(),
		Color:       0x5865F2,
		Footer: &discord.EmbedFooter{
			Text: fmt.Sprintf("Page %d/%d | %d/%d tracks", page, pages, len(ids), e.Queue.Max()),
		},
	}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())
}

// queueLine describes an id from the metadata cache without touching hosts.
func queueLine(e *proc.Engine, id string) string {
	ctx, cancel := commandContext()
	defer cancel()

	t, ok := e.Resolver.Cached(ctx, id)
	if !ok || t.Title == "" {
		return fmt.Sprintf("[*Unknown track*](%s)", source.WatchURL(id))
	}
	return fmt.Sprintf("[%s](%s) `%s`", t.Title, t.WatchURL(), source.FormatDuration(t.Duration))
}
