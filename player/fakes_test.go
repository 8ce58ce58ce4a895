package player

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/haruka/source"
)

type memQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *memQueue) RemoveAt(_ context.Context, _ string, pos int) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ids) == 0 {
		return "", false, nil
	}
	idx := pos - 1
	if pos == RandomPosition {
		idx = len(q.ids) - 1
	}
	if idx < 0 || idx >= len(q.ids) {
		return "", false, nil
	}
	id := q.ids[idx]
	q.ids = slices.Delete(q.ids, idx, idx+1)
	return id, true, nil
}

func (q *memQueue) Requeue(_ context.Context, _ string, id string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return len(q.ids), nil
}

func (q *memQueue) snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.ids)
}

// fakeResolver knows every id except those prefixed "gone" (no metadata)
// or "mute" (no audio).
type fakeResolver struct {
	duration int
}

func (r fakeResolver) Build(_ context.Context, id string) (source.Track, bool) {
	if strings.HasPrefix(id, "gone") {
		return source.Track{}, false
	}
	return source.Track{ID: id, Title: "title " + id, Duration: r.duration}, true
}

func (r fakeResolver) EnsureSource(_ context.Context, t source.Track, _ bool) (string, bool) {
	if strings.HasPrefix(t.ID, "mute") {
		return "", false
	}
	return "src:" + t.ID, true
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, v ...any) {
	l.mu.Lock()
	l.events = append(l.events, fmt.Sprintf(format, v...))
	l.mu.Unlock()
}

func (l *eventLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Index(l.events, e)
}

type fakeLoader struct {
	log      *eventLog
	active   atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
	failPart int
}

func (l *fakeLoader) Load(ctx context.Context, url string, part int) (*Slice, error) {
	n := l.active.Add(1)
	defer l.active.Add(-1)
	for {
		m := l.maxSeen.Load()
		if n <= m || l.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if l.log != nil {
		l.log.add("load %s %d", url, part)
	}
	if l.delay > 0 {
		select {
		case <-time.After(l.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.failPart > 0 && part == l.failPart {
		return nil, fmt.Errorf("decode error")
	}
	return &Slice{Index: part, Frames: [][]byte{[]byte(fmt.Sprintf("%s#%d", url, part))}}, nil
}

type fakeTransport struct {
	log       *eventLog
	connected atomic.Bool
	paused    atomic.Bool
	playing   atomic.Bool

	mu      sync.Mutex
	played  []string
	onPlay  func(n int)
	hold    chan struct{}
	started chan struct{}
}

func newFakeTransport() *fakeTransport {
	t := &fakeTransport{started: make(chan struct{}, 64)}
	t.connected.Store(true)
	return t
}

func (t *fakeTransport) Connected() bool { return t.connected.Load() }

func (t *fakeTransport) Play(s *Slice) <-chan struct{} {
	frame := string(s.Frames[0])
	t.mu.Lock()
	t.played = append(t.played, frame)
	n := len(t.played)
	hold, onPlay := t.hold, t.onPlay
	t.mu.Unlock()

	if t.log != nil {
		t.log.add("play %s", frame)
	}
	t.playing.Store(true)
	select {
	case t.started <- struct{}{}:
	default:
	}

	done := make(chan struct{})
	go func() {
		if hold != nil {
			<-hold
		}
		t.playing.Store(false)
		if onPlay != nil {
			onPlay(n)
		}
		close(done)
	}()
	return done
}

func (t *fakeTransport) Pause() bool {
	return t.paused.CompareAndSwap(false, true)
}

func (t *fakeTransport) Resume() bool {
	return t.paused.CompareAndSwap(true, false)
}

func (t *fakeTransport) Playing() bool { return t.playing.Load() && !t.paused.Load() }
func (t *fakeTransport) Paused() bool  { return t.paused.Load() }

func (t *fakeTransport) Latency() time.Duration { return 42 * time.Millisecond }

func (t *fakeTransport) Close(context.Context) { t.connected.Store(false) }

func (t *fakeTransport) playedFrames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.played)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	playing  []string
}

func (n *fakeNotifier) Notify(_ context.Context, _ snowflake.ID, content string) {
	n.mu.Lock()
	n.messages = append(n.messages, content)
	n.mu.Unlock()
}

func (n *fakeNotifier) NowPlaying(_ context.Context, _ snowflake.ID, t source.Track, _, _ bool) {
	n.mu.Lock()
	n.playing = append(n.playing, t.ID)
	n.mu.Unlock()
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.messages)
}

type fakeDialer struct {
	fails     atomic.Int32
	calls     atomic.Int32
	transport func() *fakeTransport
}

func (d *fakeDialer) Dial(context.Context, snowflake.ID, snowflake.ID) (Transport, error) {
	d.calls.Add(1)
	if d.fails.Load() > 0 {
		d.fails.Add(-1)
		return nil, fmt.Errorf("voice server unavailable")
	}
	return d.transport(), nil
}
