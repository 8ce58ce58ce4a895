package home

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/haruka/player"
	"github.com/leeineian/haruka/proc"
	"github.com/leeineian/haruka/sys"
)

// handleMusicControl runs one of the playback controls shared with the web
// dashboard. Controls wait until a song is actually playing.
func handleMusicControl(event *events.ApplicationCommandInteractionCreate, sub string, e *proc.Engine) {
	s, ok := session(event, e)
	if !ok {
		return
	}

	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(sys.AppContext, player.ConnectTimeout)
	defer cancel()

	msg, err := runControl(ctx, sub, s, e)
	switch {
	case errors.Is(err, player.ErrNotConnected), errors.Is(err, player.ErrNoSession):
		followUp(event, sys.ErrNoPlayer)
	case errors.Is(err, context.DeadlineExceeded):
		followUp(event, sys.ErrNotPlayingYet)
	case err != nil:
		followUp(event, fmt.Sprintf(sys.ErrControlFailed, err))
	default:
		followUp(event, msg)
	}
}

func runControl(ctx context.Context, sub string, s *player.Session, e *proc.Engine) (string, error) {
	by := "command"
	switch sub {
	case "pause":
		changed, err := s.Pause(ctx)
		if err != nil {
			return "", err
		}
		if !changed {
			return sys.MsgAlreadyPaused, nil
		}
		return fmt.Sprintf(sys.MsgPaused, by), nil
	case "resume":
		changed, err := s.Resume(ctx)
		if err != nil {
			return "", err
		}
		if !changed {
			return sys.MsgNotPaused, nil
		}
		return fmt.Sprintf(sys.MsgResumed, by), nil
	case "skip":
		if err := e.Skip(ctx, s.GuildID); err != nil {
			return "", err
		}
		return fmt.Sprintf(sys.MsgSkipped, by), nil
	case "stop":
		if err := e.Stop(ctx, s.GuildID); err != nil {
			return "", err
		}
		return fmt.Sprintf(sys.MsgStopped, by), nil
	case "shuffle":
		on, err := s.SwitchShuffle(ctx)
		return modeMessage(on, err, sys.MsgShuffleOn, sys.MsgShuffleOff)
	case "repeat":
		on, err := s.SwitchRepeat(ctx)
		return modeMessage(on, err, sys.MsgRepeatOne, sys.MsgRepeatAll)
	case "stopafter":
		on, err := s.SwitchStopAfter(ctx)
		return modeMessage(on, err, sys.MsgStopAfterOn, sys.MsgStopAfterOff)
	}
	return "", fmt.Errorf("unknown control %q", sub)
}

func modeMessage(on bool, err error, onMsg, offMsg string) (string, error) {
	if err != nil {
		return "", err
	}
	if on {
		return onMsg, nil
	}
	return offMsg, nil
}
