package home

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/queue"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

func handleMusicAdd(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	query, _ := data.OptString("query")
	channelID, ok := voiceChannel(event)
	if !ok {
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
	if len(ids) >= e.Queue.Max() {
		followUp(event, fmt.Sprintf(sys.ErrQueueFull, e.Queue.Max()))
		return
	}

	t, ok := lookupTrack(e, query)
	if !ok {
		followUp(event, fmt.Sprintf(sys.ErrNoResults, query))
		return
	}

	n, err := e.Queue.Append(ctx, channelID.String(), t.ID)
	if errors.Is(err, queue.ErrFull) {
		followUp(event, fmt.Sprintf(sys.ErrQueueFull, e.Queue.Max()))
		return
	}
	if err != nil {
		followUp(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	sys.LogQueue("Added %s to channel %s (%d queued)", t.ID, channelID, n)
	followUp(event, fmt.Sprintf(sys.MsgTrackAdded, t.Title, t.WatchURL(), source.FormatDuration(t.Duration), n))
}

// lookupTrack builds a video id directly and searches anything else, taking
// the first result.
func lookupTrack(e *proc.Engine, query string) (source.Track, bool) {
	ctx, cancel := commandContext()
	defer cancel()

	if videoIDPattern.MatchString(query) {
		if t, ok := e.Resolver.Build(ctx, query); ok {
			return t, true
		}
	}
	results := e.Resolver.Search(ctx, query, source.DefaultMaxResults)
	if len(results) == 0 {
		return source.Track{}, false
	}
	return e.Resolver.Build(ctx, results[0].ID)
}

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := focused.String()
	e := proc.GetEngine()
	if query == "" || e == nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	ctx, cancel := commandContext()
	defer cancel()

	var choices []discord.AutocompleteChoice
	for _, t := range e.Resolver.Search(ctx, query, source.DefaultMaxResults) {
		name := fmt.Sprintf("%s (%s)", t.Title, source.FormatDuration(t.Duration))
		if len(name) > 100 {
			name = name[:97] + "..."
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  name,
			Value: t.ID,
		})
	}
	_ = event.AutocompleteResult(choices)
}
