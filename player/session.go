package player

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

// RandomPosition asks Queue.RemoveAt for a random entry.
const RandomPosition = -1

// Queue is the persisted per-channel list of track ids.
type Queue interface {
	RemoveAt(ctx context.Context, channelID string, pos int) (string, bool, error)
	// Requeue puts a popped id back at the end regardless of the size cap.
	Requeue(ctx context.Context, channelID string, id string) (int, error)
}

// Resolver builds tracks and finds a playable URL for them.
type Resolver interface {
	Build(ctx context.Context, id string) (source.Track, bool)
	EnsureSource(ctx context.Context, t source.Track, ignoreStderr bool) (string, bool)
}

type Flags struct {
	Shuffle   bool
	Repeat    bool
	StopAfter bool
}

// Session plays the queue of one voice channel. It lives from connect to
// disconnect; a reconnect creates a new Session.
type Session struct {
	GuildID       snowflake.ID
	ChannelID     snowflake.ID
	TextChannelID snowflake.ID

	queue     Queue
	resolver  Resolver
	loader    SliceLoader
	transport Transport
	notifier  Notifier

	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	stopped chan struct{}

	mu        sync.Mutex
	state     State
	flags     Flags
	current   *source.Track
	repeatID  string
	part      int
	remaining int
	operable  chan struct{}
	idle      *time.Timer
	listeners int
}

type sessionDeps struct {
	queue     Queue
	resolver  Resolver
	loader    SliceLoader
	transport Transport
	notifier  Notifier
}

func newSession(parent context.Context, guildID, channelID, textID snowflake.ID, deps sessionDeps, flags Flags) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		GuildID:       guildID,
		ChannelID:     channelID,
		TextChannelID: textID,
		queue:         deps.queue,
		resolver:      deps.resolver,
		loader:        deps.loader,
		transport:     deps.transport,
		notifier:      deps.notifier,
		ctx:           ctx,
		cancel:        cancel,
		release:       cancel,
		stopped:       make(chan struct{}),
		state:         StateConnecting,
		flags:         flags,
		operable:      make(chan struct{}),
		listeners:     -1,
	}
}

func (s *Session) queueKey() string { return s.ChannelID.String() }

func (s *Session) Guild() snowflake.ID { return s.GuildID }

// Connected reports whether the session can still play.
func (s *Session) Connected() bool {
	return s.ctx.Err() == nil && s.transport.Connected()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateDisconnecting && s.state != StateDisconnected {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Session) Flags() Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

// Current returns the track being played, if any.
func (s *Session) Current() (source.Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return source.Track{}, false
	}
	return *s.current, true
}

// Done is closed once the playback loop has returned.
func (s *Session) Done() <-chan struct{} { return s.stopped }

func (s *Session) Notify(ctx context.Context, content string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, s.TextChannelID, content)
	}
}

// Play runs the playback loop until the queue is exhausted, stop-after
// fires, or the session is disconnected.
func (s *Session) Play(ctx context.Context) {
	for {
		if ctx.Err() != nil || !s.transport.Connected() {
			return
		}

		s.setState(StateLoading)
		id, popped, ok := s.next(ctx)
		if !ok {
			if ctx.Err() == nil {
				sys.LogVoice("Queue of %s exhausted", s.ChannelID)
				s.release()
			}
			return
		}

		track, ok := s.resolver.Build(ctx, id)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			s.forget(id, popped)
			s.Notify(ctx, sys.ErrTrackUnavailable+"\n"+source.WatchURL(id))
			continue
		}

		flags := s.Flags()
		if s.notifier != nil {
			s.notifier.NowPlaying(ctx, s.TextChannelID, track, flags.Shuffle, flags.Repeat)
		}

		src, ok := s.resolver.EnsureSource(ctx, track, false)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			s.forget(id, popped)
			s.Notify(ctx, fmt.Sprintf(sys.ErrAudioUnavailable, id))
			continue
		}

		s.mu.Lock()
		s.repeatID = id
		s.current = &track
		s.mu.Unlock()

		if popped {
			if _, err := s.queue.Requeue(ctx, s.queueKey(), id); err != nil {
				sys.LogVoice(sys.MsgVoiceQueueFailed, s.ChannelID, err)
			}
		}

		sys.LogVoice(sys.MsgVoicePlaybackStart, track.Title, track.ID, s.ChannelID)
		if !s.stream(ctx, track, src) {
			return
		}

		s.mu.Lock()
		s.current = nil
		stopAfter := s.flags.StopAfter
		s.mu.Unlock()

		if stopAfter {
			s.release()
			s.Notify(context.WithoutCancel(ctx), sys.MsgStopAfterDone)
			return
		}
	}
}

// next picks the id to play. popped reports whether it was taken off the
// queue.
func (s *Session) next(ctx context.Context) (id string, popped bool, ok bool) {
	s.mu.Lock()
	repeat, shuffle, last := s.flags.Repeat, s.flags.Shuffle, s.repeatID
	s.mu.Unlock()

	if repeat && last != "" {
		return last, false, true
	}

	pos := 1
	if shuffle {
		pos = RandomPosition
	}
	id, ok, err := s.queue.RemoveAt(ctx, s.queueKey(), pos)
	if err != nil {
		sys.LogVoice(sys.MsgVoiceQueueFailed, s.ChannelID, err)
		return "", false, false
	}
	return id, true, ok
}

// forget drops a failing id so repeat mode cannot spin on it.
func (s *Session) forget(id string, popped bool) {
	s.mu.Lock()
	if !popped && s.repeatID == id {
		s.repeatID = ""
	}
	s.mu.Unlock()
}

// stream plays the track slice by slice. The buffer holds at most one slice
// and the next load starts only after the previous slice started playing.
// It returns false when the session went away mid-track.
func (s *Session) stream(ctx context.Context, track source.Track, src string) bool {
	s.mu.Lock()
	s.part = 0
	s.remaining = track.Duration
	if s.remaining <= 0 {
		// Unknown length: keep loading until the source reports its end.
		s.remaining = math.MaxInt32
	}
	s.mu.Unlock()

	buffer := make(chan *Slice, 1)

	first := s.loadNext(ctx, track, src, buffer)
	select {
	case <-first:
	case <-ctx.Done():
		return false
	}

	for {
		var slice *Slice
		select {
		case slice = <-buffer:
		default:
			return true
		}
		if slice == nil {
			return true
		}

		s.openGate()
		finished := s.transport.Play(slice)

		var loading <-chan struct{}
		if s.hasMore() {
			loading = s.loadNext(ctx, track, src, buffer)
		}

		select {
		case <-finished:
		case <-ctx.Done():
			s.closeGate()
			return false
		}
		s.closeGate()

		if !s.transport.Connected() {
			return false
		}
		if loading != nil {
			select {
			case <-loading:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (s *Session) hasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining > 0
}

// loadNext loads the next slice on its own goroutine and puts it into
// buffer, nil marking the end of the track.
func (s *Session) loadNext(ctx context.Context, track source.Track, src string, buffer chan<- *Slice) <-chan struct{} {
	s.mu.Lock()
	part := s.part
	s.part++
	s.remaining -= SliceSeconds
	s.mu.Unlock()

	done := make(chan struct{})
	sys.SafeGo(func() {
		defer close(done)

		slice, err := s.loader.Load(ctx, src, part)
		if err != nil {
			if ctx.Err() == nil {
				sys.LogVoice(sys.MsgVoiceSliceFailed, part, track.ID, err)
				if part == 0 {
					s.Notify(ctx, fmt.Sprintf(sys.ErrAudioUnavailable, track.ID))
				}
			}
			slice = nil
		}
		if slice != nil && len(slice.Frames) == 0 {
			slice = nil
		}
		if slice == nil || slice.Last {
			s.mu.Lock()
			s.remaining = 0
			s.mu.Unlock()
		}

		select {
		case buffer <- slice:
		case <-ctx.Done():
		}
	})
	return done
}

func (s *Session) openGate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.operable:
	default:
		close(s.operable)
	}
	if s.state == StateLoading || s.state == StateConnecting {
		s.state = StatePlaying
	}
}

func (s *Session) closeGate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.operable:
		s.operable = make(chan struct{})
	default:
	}
}

// awaitOperable blocks until a slice is playing.
func (s *Session) awaitOperable(ctx context.Context) error {
	s.mu.Lock()
	gate := s.operable
	s.mu.Unlock()

	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrNotConnected
	}
}

// Pause pauses playback and reports whether anything changed.
func (s *Session) Pause(ctx context.Context) (bool, error) {
	if err := s.awaitOperable(ctx); err != nil {
		return false, err
	}
	if !s.transport.Playing() || !s.transport.Pause() {
		return false, nil
	}
	s.setState(StatePaused)
	return true, nil
}

func (s *Session) Resume(ctx context.Context) (bool, error) {
	if err := s.awaitOperable(ctx); err != nil {
		return false, err
	}
	if !s.transport.Paused() || !s.transport.Resume() {
		return false, nil
	}
	s.setState(StatePlaying)
	return true, nil
}

func (s *Session) SwitchRepeat(ctx context.Context) (bool, error) {
	return s.toggle(ctx, func(f *Flags) *bool { return &f.Repeat })
}

func (s *Session) SwitchShuffle(ctx context.Context) (bool, error) {
	return s.toggle(ctx, func(f *Flags) *bool { return &f.Shuffle })
}

func (s *Session) SwitchStopAfter(ctx context.Context) (bool, error) {
	return s.toggle(ctx, func(f *Flags) *bool { return &f.StopAfter })
}

func (s *Session) toggle(ctx context.Context, field func(*Flags) *bool) (bool, error) {
	if err := s.awaitOperable(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := field(&s.flags)
	*p = !*p
	return *p, nil
}

// Latency reports the voice gateway round trip once something is playing.
func (s *Session) Latency(ctx context.Context) (time.Duration, error) {
	if err := s.awaitOperable(ctx); err != nil {
		return 0, err
	}
	return s.transport.Latency(), nil
}
