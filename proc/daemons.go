package proc

import (
	"context"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

const (
	warmupConcurrency = 4
	engineCloseWait   = 10 * time.Second
)

func init() {
	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		e, err := InitEngine(ctx, sys.GlobalConfig, client)
		if err != nil {
			sys.LogError("Playback engine unavailable: %v", err)
			return
		}

		sys.RegisterDaemon(sys.LogSource, func(ctx context.Context) (bool, func(), func()) {
			return startHostWarmup(ctx, e)
		})
		sys.RegisterDaemon(sys.LogVoice, func(ctx context.Context) (bool, func(), func()) {
			return startVoiceWatch(e)
		})
		sys.RegisterDaemon(sys.LogWeb, func(ctx context.Context) (bool, func(), func()) {
			return startWebServer(ctx, e)
		})
	})
}

// startHostWarmup sorts the host pool by probe latency once.
func startHostWarmup(ctx context.Context, e *Engine) (bool, func(), func()) {
	return true, func() {
		e.Resolver.Pool().Warmup(ctx, source.Probe, warmupConcurrency)
	}, nil
}

func startVoiceWatch(e *Engine) (bool, func(), func()) {
	sys.RegisterVoiceStateUpdateHandler(e.onVoiceStateUpdate)
	return true, func() {}, func() {
		sys.LogVoice("Shutting down playback sessions...")
		ctx, cancel := context.WithTimeout(context.Background(), engineCloseWait)
		defer cancel()
		e.Close(ctx)
	}
}

func startWebServer(ctx context.Context, e *Engine) (bool, func(), func()) {
	addr := e.cfg.WebAddr
	if addr == "" {
		return false, nil, nil
	}
	return true, func() {
		if err := e.Web.ListenAndServe(ctx, addr); err != nil {
			sys.LogWeb(sys.MsgWebServeFailed, err)
		}
	}, nil
}
