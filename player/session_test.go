package player

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leeineian/haruka/source"
	"github.com/leeineian/haruka/sys"
)

func newTestSession(q *memQueue, tr *fakeTransport, loader SliceLoader, res Resolver) (*Session, *fakeNotifier) {
	n := &fakeNotifier{}
	s := newSession(context.Background(), 1, 2, 3, sessionDeps{
		queue:     q,
		resolver:  res,
		loader:    loader,
		transport: tr,
		notifier:  n,
	}, Flags{})
	return s, n
}

func cancelAfter(s *Session, tr *fakeTransport, plays int) {
	tr.onPlay = func(n int) {
		if n == plays {
			s.cancel()
		}
	}
}

func runPlay(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Play(s.ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Play did not return")
	}
}

func TestPlayQueueIsCircular(t *testing.T) {
	q := &memQueue{ids: []string{"a", "b", "c"}}
	tr := newFakeTransport()
	s, _ := newTestSession(q, tr, &fakeLoader{}, fakeResolver{duration: 30})
	cancelAfter(s, tr, 6)

	runPlay(t, s)

	want := []string{"src:a#0", "src:b#0", "src:c#0", "src:a#0", "src:b#0", "src:c#0"}
	if got := tr.playedFrames(); !slices.Equal(got, want) {
		t.Errorf("played %v, want %v", got, want)
	}
	if got := q.snapshot(); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("queue after two rounds = %v", got)
	}
}

func TestPlayRepeatOne(t *testing.T) {
	q := &memQueue{ids: []string{"a", "b"}}
	tr := newFakeTransport()
	s, _ := newTestSession(q, tr, &fakeLoader{}, fakeResolver{duration: 30})
	s.flags.Repeat = true
	cancelAfter(s, tr, 4)

	runPlay(t, s)

	for i, f := range tr.playedFrames() {
		if f != "src:a#0" {
			t.Errorf("play %d = %q, want the repeated track", i, f)
		}
	}
	if got := q.snapshot(); !slices.Equal(got, []string{"b", "a"}) {
		t.Errorf("queue = %v, want [b a]", got)
	}
}

func TestPlaySkipsBadEntries(t *testing.T) {
	q := &memQueue{ids: []string{"gone1", "mute1", "a"}}
	tr := newFakeTransport()
	s, n := newTestSession(q, tr, &fakeLoader{}, fakeResolver{duration: 30})
	cancelAfter(s, tr, 1)

	runPlay(t, s)

	if got := tr.playedFrames(); !slices.Equal(got, []string{"src:a#0"}) {
		t.Errorf("played %v", got)
	}
	if got := q.snapshot(); !slices.Equal(got, []string{"a"}) {
		t.Errorf("bad entries not dropped: %v", got)
	}
	want := []string{
		sys.ErrTrackUnavailable + "\n" + source.WatchURL("gone1"),
		fmt.Sprintf(sys.ErrAudioUnavailable, "mute1"),
	}
	if got := n.sent(); !slices.Equal(got, want) {
		t.Errorf("notifications = %q, want %q", got, want)
	}
}

func TestPlayStopAfter(t *testing.T) {
	q := &memQueue{ids: []string{"a", "b"}}
	tr := newFakeTransport()
	s, n := newTestSession(q, tr, &fakeLoader{}, fakeResolver{duration: 30})
	s.flags.StopAfter = true
	var released atomic.Bool
	s.release = func() {
		released.Store(true)
		s.cancel()
	}

	runPlay(t, s)

	if !released.Load() {
		t.Fatal("session not released after stop-after")
	}
	if got := tr.playedFrames(); !slices.Equal(got, []string{"src:a#0"}) {
		t.Errorf("played %v", got)
	}
	if msgs := n.sent(); len(msgs) != 1 || msgs[0] != sys.MsgStopAfterDone {
		t.Errorf("notifications = %q", msgs)
	}
}

func TestPlayExhaustedQueueReleases(t *testing.T) {
	tr := newFakeTransport()
	s, _ := newTestSession(&memQueue{}, tr, &fakeLoader{}, fakeResolver{duration: 30})
	var released atomic.Bool
	s.release = func() { released.Store(true) }

	runPlay(t, s)

	if !released.Load() {
		t.Error("empty queue did not release the session")
	}
	if len(tr.playedFrames()) != 0 {
		t.Error("played something from an empty queue")
	}
}

func TestSliceBuffering(t *testing.T) {
	log := &eventLog{}
	q := &memQueue{ids: []string{"a"}}
	tr := newFakeTransport()
	tr.log = log
	loader := &fakeLoader{log: log, delay: 5 * time.Millisecond}
	s, _ := newTestSession(q, tr, loader, fakeResolver{duration: 95})
	cancelAfter(s, tr, 4)

	runPlay(t, s)

	want := []string{"src:a#0", "src:a#1", "src:a#2", "src:a#3"}
	if got := tr.playedFrames(); !slices.Equal(got, want) {
		t.Fatalf("played %v, want %v", got, want)
	}
	for k := 1; k < 4; k++ {
		load := log.index(fmt.Sprintf("load src:a %d", k))
		prev := log.index(fmt.Sprintf("play src:a#%d", k-1))
		if load < 0 || prev < 0 || load < prev {
			t.Errorf("slice %d loaded at %d before slice %d played at %d", k, load, k-1, prev)
		}
	}
	if log.index("load src:a 4") >= 0 {
		t.Error("loaded a slice past the end of the track")
	}
	if m := loader.maxSeen.Load(); m > 1 {
		t.Errorf("%d slice loads ran concurrently", m)
	}
}

func TestSliceFailureEndsTrack(t *testing.T) {
	q := &memQueue{ids: []string{"a"}}
	tr := newFakeTransport()
	s, _ := newTestSession(q, tr, &fakeLoader{failPart: 2}, fakeResolver{duration: 95})
	cancelAfter(s, tr, 3)

	runPlay(t, s)

	want := []string{"src:a#0", "src:a#1", "src:a#0"}
	if got := tr.playedFrames(); !slices.Equal(got, want) {
		t.Errorf("played %v, want %v", got, want)
	}
}

func TestControlsWhilePlaying(t *testing.T) {
	q := &memQueue{ids: []string{"a"}}
	tr := newFakeTransport()
	tr.hold = make(chan struct{})
	s, _ := newTestSession(q, tr, &fakeLoader{}, fakeResolver{duration: 30})

	done := make(chan struct{})
	go func() {
		s.Play(s.ctx)
		close(done)
	}()
	defer func() {
		s.cancel()
		close(tr.hold)
		<-done
	}()

	select {
	case <-tr.started:
	case <-time.After(5 * time.Second):
		t.Fatal("nothing started playing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if cur, ok := s.Current(); !ok || cur.ID != "a" {
		t.Errorf("Current = %+v, %v", cur, ok)
	}
	if ok, err := s.Pause(ctx); !ok || err != nil {
		t.Fatalf("Pause = %v, %v", ok, err)
	}
	if s.State() != StatePaused {
		t.Errorf("state = %s after pause", s.State())
	}
	if ok, _ := s.Pause(ctx); ok {
		t.Error("second Pause reported a change")
	}
	if ok, err := s.Resume(ctx); !ok || err != nil {
		t.Fatalf("Resume = %v, %v", ok, err)
	}
	if on, _ := s.SwitchRepeat(ctx); !on {
		t.Error("repeat not switched on")
	}
	if on, _ := s.SwitchShuffle(ctx); !on {
		t.Error("shuffle not switched on")
	}
	if on, _ := s.SwitchStopAfter(ctx); !on {
		t.Error("stop-after not switched on")
	}
	if on, _ := s.SwitchStopAfter(ctx); on {
		t.Error("stop-after not switched back off")
	}
	if f := s.Flags(); !f.Repeat || !f.Shuffle || f.StopAfter {
		t.Errorf("flags = %+v", f)
	}
	if l, err := s.Latency(ctx); err != nil || l != 42*time.Millisecond {
		t.Errorf("Latency = %v, %v", l, err)
	}
}

func TestControlsWaitForPlayback(t *testing.T) {
	s, _ := newTestSession(&memQueue{}, newFakeTransport(), &fakeLoader{}, fakeResolver{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := s.Pause(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pause without playback = %v, want deadline exceeded", err)
	}

	s.cancel()
	if _, err := s.SwitchShuffle(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("control on dead session = %v", err)
	}
}
