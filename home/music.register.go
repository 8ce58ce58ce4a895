package home

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/player"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/sys"
)

func handleMusicRegister(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) {
	s, ok := session(event, e)
	if !ok {
		return
	}
	if !s.Connected() {
		replyEphemeral(event, sys.ErrNoPlayer)
		return
	}
	replyEphemeral(event, fmt.Sprintf(sys.MsgDashboardLink, e.DashboardURL(s)))
}

func handleMusicUnregister(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) {
	s, ok := session(event, e)
	if !ok {
		return
	}
	if !e.Tokens.UnregisterSession(s) {
		replyEphemeral(event, sys.ErrNotRegistered)
		return
	}
	reply(event, sys.MsgDashboardRevoked)
}

func handleMusicPing(event *events.ApplicationCommandInteractionCreate, e *proc.Engine) {
	s, ok := session(event, e)
	if !ok {
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(sys.AppContext, player.ConnectTimeout)
	defer cancel()

	latency, err := s.Latency(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		followUp(event, sys.ErrNotPlayingYet)
	case err != nil:
		followUp(event, sys.ErrNoPlayer)
	default:
		followUp(event, fmt.Sprintf(sys.MsgVoiceLatency, latency.Milliseconds()))
	}
}

func handleMusicAdmin(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}
	e := proc.GetEngine()
	if e == nil {
		replyEphemeral(event, sys.ErrEngineStarting)
		return
	}

	if *data.SubCommandName == "status" {
		replyEphemeral(event, fmt.Sprintf(sys.MsgEngineStatus,
			len(e.Manager.Sessions()), e.Fetcher.InFlight(), e.Tokens.Len()))
		return
	}

	names := e.Resolver.Pool().Names()
	var b strings.Builder
	for i, n := range names {
		fmt.Fprintf(&b, "`%d.` %s\n", i+1, n)
	}
	replyEphemeral(event, fmt.Sprintf(sys.MsgHostOrder, len(names), b.String()))
}
