package home

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/queue"
	"github.com/leeineian/haruka/sys"
)

const publishedColor = 0x2ECC71

func handleMusicPublish(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	title, _ := data.OptString("title")
	description, _ := data.OptString("description")

	ctx, cancel := commandContext()
	defer cancel()

	p, err := e.Catalog.Publish(ctx, event.User().ID.String(), channelID.String(), title, description)
	if err != nil {
		replyEphemeral(event, catalogError(err, 0))
		return
	}

	embed := playlistEmbed(p)
	embed.Author = &discord.EmbedAuthor{Name: "Published music queue"}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(fmt.Sprintf(sys.MsgPublished, channelID, len(p.Tracks))).
		SetEmbeds(embed).
		Build())
}

func handleMusicUnpublish(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	id, _ := data.OptInt("id")

	ctx, cancel := commandContext()
	defer cancel()

	p, err := e.Catalog.Unpublish(ctx, int64(id), event.User().ID.String())
	if err != nil {
		replyEphemeral(event, catalogError(err, id))
		return
	}
	embed := playlistEmbed(p)
	embed.Author = &discord.EmbedAuthor{Name: sys.MsgUnpublished}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetEmbeds(embed).Build())
}

func handleMusicMyPlaylists(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) {
	ctx, cancel := commandContext()
	defer cancel()

	mine, err := e.Catalog.Mine(ctx, event.User().ID.String())
	if err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	if len(mine) == 0 {
		replyEphemeral(event, sys.ErrNoPublished)
		return
	}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetEmbeds(playlistEmbeds(mine)...).
		SetEphemeral(true).
		Build())
}

func handleMusicBrowse(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	query, _ := data.OptString("query")

	ctx, cancel := commandContext()
	defer cancel()

	found, err := e.Catalog.Search(ctx, query)
	if err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	if len(found) == 0 {
		replyEphemeral(event, sys.ErrBrowseEmpty)
		return
	}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetEmbeds(playlistEmbeds(found)...).Build())
}

func handleMusicLoad(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	id, _ := data.OptInt("id")

	ctx, cancel := commandContext()
	defer cancel()

	p, err := e.Catalog.Load(ctx, int64(id), channelID.String())
	if err != nil {
		replyEphemeral(event, catalogError(err, id))
		return
	}
	reply(event, fmt.Sprintf(sys.MsgPublishedLoaded, p.ID, channelID, min(len(p.Tracks), e.Queue.Max())))
}

// catalogError turns a catalog failure into the message shown to the user.
func catalogError(err error, id int) string {
	switch {
	case errors.Is(err, queue.ErrTooFewTracks):
		return fmt.Sprintf(sys.ErrPublishTooFew, queue.MinPublishTracks)
	case errors.Is(err, queue.ErrEmptyTitle), errors.Is(err, queue.ErrTitleTooLong):
		return fmt.Sprintf(sys.ErrPublishTitle, queue.MaxTitleLength)
	case errors.Is(err, queue.ErrTooManyPublished):
		return fmt.Sprintf(sys.ErrPublishLimit, queue.MaxPerAuthor)
	case errors.Is(err, queue.ErrNotFound):
		return fmt.Sprintf(sys.ErrPublishedNotFound, id)
	case errors.Is(err, queue.ErrNotOwner):
		return sys.ErrPublishedNotOwner
	}
	return fmt.Sprintf(sys.ErrQueueStore, err)
}

func playlistEmbed(p queue.Playlist) discord.Embed {
	return discord.Embed{
		Title:       p.Title,
		Description: p.Description,
		Color:       publishedColor,
		Fields: []discord.EmbedField{
			{Name: "Playlist ID", Value: strconv.FormatInt(p.ID, 10)},
			{Name: "Author", Value: "<@" + p.AuthorID + ">", Inline: inline()},
			{Name: "Tracks count", Value: strconv.Itoa(len(p.Tracks)), Inline: inline()},
			{Name: "Usage count", Value: strconv.Itoa(p.UseCount), Inline: inline()},
		},
		Timestamp: timePtr(p.CreatedAt),
	}
}

func playlistEmbeds(list []queue.Playlist) []discord.Embed {
	embeds := make([]discord.Embed, 0, min(len(list), embedsPerMessage))
	for i, p := range list {
		if i == embedsPerMessage {
			break
		}
		embed := playlistEmbed(p)
		embed.Footer = &discord.EmbedFooter{Text: fmt.Sprintf("Playlist %d/%d", i+1, len(list))}
		embeds = append(embeds, embed)
	}
	return embeds
}

func inline() *bool {
	b := true
	return &b
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() || t.Unix() == 0 {
		return nil
	}
	return &t
}
