package player

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

// Notifier posts player messages to a text channel. Delivery failures are
// logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, channelID snowflake.ID, content string)
	NowPlaying(ctx context.Context, channelID snowflake.ID, t source.Track, shuffle, repeat bool)
}

type DiscordNotifier struct {
	Client *bot.Client
}

func (n *DiscordNotifier) Notify(ctx context.Context, channelID snowflake.ID, content string) {
	n.send(ctx, channelID, discord.MessageCreate{Content: content})
}

func (n *DiscordNotifier) NowPlaying(ctx context.Context, channelID snowflake.ID, t source.Track, shuffle, repeat bool) {
	n.send(ctx, channelID, discord.MessageCreate{Embeds: []discord.Embed{NowPlayingEmbed(t, shuffle, repeat)}})
}

func (n *DiscordNotifier) send(ctx context.Context, channelID snowflake.ID, msg discord.MessageCreate) {
	if _, err := n.Client.Rest.CreateMessage(channelID, msg, rest.WithCtx(ctx)); err != nil {
		sys.LogVoice(sys.MsgVoiceNotifyFailed, channelID, err)
	}
}

func NowPlayingEmbed(t source.Track, shuffle, repeat bool) discord.Embed {
	inline := true
	e := discord.Embed{
		Title:       t.Title,
		URL:         t.WatchURL(),
		Description: truncate(t.Description, 300),
		Color:       0xe91e63,
		Author:      &discord.EmbedAuthor{Name: "Now playing"},
		Fields: []discord.EmbedField{
			{Name: "Channel", Value: orUnknown(t.Channel), Inline: &inline},
			{Name: "Duration", Value: source.FormatDuration(t.Duration), Inline: &inline},
		},
		Footer: &discord.EmbedFooter{Text: fmt.Sprintf("Shuffle: %s | Repeat one: %s", onOff(shuffle), onOff(repeat))},
	}
	if t.Thumbnail != "" {
		e.Thumbnail = &discord.EmbedResource{URL: t.Thumbnail}
	}
	return e
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
