package player

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/sys"
)

// OpusSilence is a single silent opus frame.
var OpusSilence = []byte{0xf8, 0xff, 0xfe}

const silenceTail = 5

// Transport plays slices into a voice channel.
type Transport interface {
	Connected() bool
	// Play starts the slice and returns a channel closed once its last frame
	// was handed out or the transport closed.
	Play(s *Slice) <-chan struct{}
	Pause() bool
	Resume() bool
	Playing() bool
	Paused() bool
	Latency() time.Duration
	Close(ctx context.Context)
}

// Dialer opens a transport to a voice channel. One call is one attempt.
type Dialer interface {
	Dial(ctx context.Context, guildID, channelID snowflake.ID) (Transport, error)
}

// VoiceDialer opens disgo voice connections.
type VoiceDialer struct {
	Client *bot.Client
}

func (d *VoiceDialer) Dial(ctx context.Context, guildID, channelID snowflake.ID) (Transport, error) {
	conn := d.Client.VoiceManager.CreateConn(guildID)
	if err := conn.Open(ctx, channelID, false, false); err != nil {
		conn.Close(ctx)
		return nil, err
	}

	t := &voiceTransport{conn: conn, provider: newFrameProvider()}
	t.connected.Store(true)
	conn.SetOpusFrameProvider(t.provider)
	if err := conn.SetSpeaking(ctx, voice.SpeakingFlagMicrophone); err != nil {
		sys.LogVoice("SetSpeaking failed in guild %s: %v", guildID, err)
	}
	return t, nil
}

type voiceTransport struct {
	conn      voice.Conn
	provider  *frameProvider
	connected atomic.Bool
	closeOnce sync.Once
}

func (t *voiceTransport) Connected() bool             { return t.connected.Load() }
func (t *voiceTransport) Play(s *Slice) <-chan struct{} { return t.provider.load(s) }
func (t *voiceTransport) Pause() bool                 { return t.provider.pause() }
func (t *voiceTransport) Resume() bool                { return t.provider.resume() }
func (t *voiceTransport) Playing() bool               { return t.provider.playing() }
func (t *voiceTransport) Paused() bool                { return t.provider.isPaused() }

func (t *voiceTransport) Latency() time.Duration {
	if gw := t.conn.Gateway(); gw != nil {
		return gw.Latency()
	}
	return 0
}

func (t *voiceTransport) Close(ctx context.Context) {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.provider.stop()
		t.conn.SetOpusFrameProvider(nil)
		t.conn.Close(ctx)
	})
}

// frameProvider is the voice.OpusFrameProvider fed one slice at a time.
// pauseChan is closed while playback may proceed.
type frameProvider struct {
	mu        sync.Mutex
	frames    [][]byte
	pos       int
	done      chan struct{}
	pauseChan chan struct{}
	stopped   chan struct{}
	silence   int
}

func newFrameProvider() *frameProvider {
	p := &frameProvider{
		pauseChan: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	close(p.pauseChan)
	return p
}

func (p *frameProvider) load(s *Slice) <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finishLocked()
	p.frames, p.pos, p.silence = s.Frames, 0, 0
	p.done = make(chan struct{})
	select {
	case <-p.stopped:
		p.finishLocked()
		return closedChan()
	default:
	}
	done := p.done
	if len(p.frames) == 0 {
		p.finishLocked()
	}
	return done
}

func (p *frameProvider) finishLocked() {
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.frames = nil
}

func (p *frameProvider) ProvideOpusFrame() ([]byte, error) {
	select {
	case <-p.stopped:
		return nil, io.EOF
	default:
	}

	p.mu.Lock()
	gate := p.pauseChan
	p.mu.Unlock()

	select {
	case <-gate:
	case <-p.stopped:
		return nil, io.EOF
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pos < len(p.frames) {
		f := p.frames[p.pos]
		p.pos++
		if p.pos == len(p.frames) {
			p.finishLocked()
		}
		return f, nil
	}
	if p.silence < silenceTail {
		p.silence++
		return OpusSilence, nil
	}
	return nil, nil
}

func (p *frameProvider) Close() {}

func (p *frameProvider) pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.pauseChan:
		p.pauseChan = make(chan struct{})
		return true
	default:
		return false
	}
}

func (p *frameProvider) resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.pauseChan:
		return false
	default:
		close(p.pauseChan)
		return true
	}
}

func (p *frameProvider) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.pauseChan:
		return false
	default:
		return true
	}
}

func (p *frameProvider) playing() bool {
	p.mu.Lock()
	active := p.done != nil
	p.mu.Unlock()
	return active && !p.isPaused()
}

func (p *frameProvider) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.stopped:
	default:
		close(p.stopped)
	}
	p.finishLocked()
}

func closedChan() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
