package home

import (
	"context"
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
	"golang.org/x/sync/errgroup"
)

const (
	maxDownloadTracks  = 6
	downloadParallel   = 3
	downloadTimeout    = 10 * time.Minute
	embedsPerMessage   = 10
	downloadEmbedColor = 0x57F287
)

func handleMusicDownload(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}

	ctx, cancel := commandContext()
	ids, err := e.Queue.Read(ctx, channelID.String())
	cancel()
	if err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	if len(ids) == 0 {
		replyEphemeral(event, sys.ErrQueueEmpty)
		return
	}
	if len(ids) > maxDownloadTracks {
		replyEphemeral(event, fmt.Sprintf(sys.ErrDownloadTooMany, maxDownloadTracks))
		return
	}

	_ = event.DeferCreateMessage(false)
	dctx, dcancel := context.WithTimeout(sys.AppContext, downloadTimeout)
	defer dcancel()

	tracks := make([]source.Track, len(ids))
	built := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(dctx)
	g.SetLimit(downloadParallel)
	for i, id := range ids {
		g.Go(func() error {
			tracks[i], built[i] = e.Resolver.Build(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var ready []source.Track
	for i, ok := range built {
		if ok {
			ready = append(ready, tracks[i])
		}
	}
	urls := e.Fetcher.FetchAll(dctx, ready, downloadParallel)
	links := make(map[string]string, len(ready))
	for i, t := range ready {
		links[t.ID] = urls[i]
	}

	embeds := make([]discord.Embed, 0, len(ids))
	for i, id := range ids {
		link := links[id]
		if !built[i] || link == "" {
			embeds = append(embeds, discord.Embed{
				Description: sys.ErrTrackDeleted,
				Color:       0xED4245,
				Fields: []discord.EmbedField{
					{Name: "YouTube URL", Value: source.WatchURL(id)},
				},
			})
			continue
		}
		t := tracks[i]
		embed := discord.Embed{
			Title:       t.Title,
			URL:         link,
			Description: fmt.Sprintf("[Download](%s) | [YouTube](%s)", link, t.WatchURL()),
			Color:       downloadEmbedColor,
			Author:      &discord.EmbedAuthor{Name: orDash(t.Channel)},
			Footer:      &discord.EmbedFooter{Text: source.FormatDuration(t.Duration)},
		}
		if t.Thumbnail != "" {
			embed.Thumbnail = &discord.EmbedResource{URL: t.Thumbnail}
		}
		embeds = append(embeds, embed)
	}
	if len(embeds) > embedsPerMessage {
		embeds = embeds[:embedsPerMessage]
	}

	_, err = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(fmt.Sprintf(sys.MsgDownloadReady, channelID)).
		SetEmbeds(embeds...).
		Build())
	if err != nil {
		sys.LogDebug("Failed to send download links: %v", err)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
