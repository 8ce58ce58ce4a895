package home

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/sys"
)

const maxImportBytes = 64 << 10

func handleMusicExport(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
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

	raw, err := json.Marshal(ids)
	if err != nil {
		replyEphemeral(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(sys.MsgQueueExported).
		AddFiles(discord.NewFile("queue.json", "Music queue", bytes.NewReader(raw))).
		Build())
}

func handleMusicImport(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, e *proc.Engine) {
	channelID, ok := voiceChannel(event)
	if !ok {
		return
	}
	attachment, ok := data.OptAttachment("file")
	if !ok {
		replyEphemeral(event, sys.ErrImportMissing)
		return
	}
	if attachment.Size > maxImportBytes {
		replyEphemeral(event, sys.ErrImportInvalid)
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := commandContext()
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, attachment.URL, nil)
	if err != nil {
		followUp(event, sys.ErrImportInvalid)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		followUp(event, fmt.Sprintf(sys.ErrImportDownload, err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		followUp(event, fmt.Sprintf(sys.ErrImportDownload, resp.Status))
		return
	}

	ids, err := parseQueueFile(io.LimitReader(resp.Body, maxImportBytes), e.Queue.Max())
	if err != nil {
		followUp(event, err.Error())
		return
	}
	if err := e.Queue.Replace(ctx, channelID.String(), ids); err != nil {
		followUp(event, fmt.Sprintf(sys.ErrQueueStore, err))
		return
	}
	sys.LogQueue("Imported %d tracks into channel %s", len(ids), channelID)
	followUp(event, fmt.Sprintf(sys.MsgQueueImported, len(ids), channelID))
}

// parseQueueFile reads an exported queue: a non-empty JSON array of at most
// limit ids. The returned error text is shown to the user.
func parseQueueFile(r io.Reader, limit int) ([]string, error) {
	var ids []string
	if err := json.NewDecoder(r).Decode(&ids); err != nil {
		return nil, errors.New(sys.ErrImportInvalid)
	}
	out := ids[:0]
	for _, id := range ids {
		if videoIDPattern.MatchString(id) {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil, errors.New(sys.ErrImportEmpty)
	}
	if len(out) > limit {
		return nil, fmt.Errorf(sys.ErrQueueFull, limit)
	}
	return out, nil
}
