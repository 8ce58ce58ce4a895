package player

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/leeineian/haruka/sys"
)

type managerFixture struct {
	m          *Manager
	dialer     *fakeDialer
	notifier   *fakeNotifier
	hold       chan struct{}
	mu         sync.Mutex
	transports []*fakeTransport
}

func newManagerFixture(t *testing.T, ids ...string) *managerFixture {
	t.Helper()
	f := &managerFixture{notifier: &fakeNotifier{}, hold: make(chan struct{})}
	f.dialer = &fakeDialer{transport: func() *fakeTransport {
		tr := newFakeTransport()
		tr.hold = f.hold
		f.mu.Lock()
		f.transports = append(f.transports, tr)
		f.mu.Unlock()
		return tr
	}}
	f.m = NewManager(context.Background(), Config{
		Dialer:      f.dialer,
		Queue:       &memQueue{ids: ids},
		Resolver:    fakeResolver{duration: 30},
		Loader:      &fakeLoader{},
		Notifier:    f.notifier,
		IdleTimeout: 80 * time.Millisecond,
	})
	f.m.backoff = func(int) time.Duration { return time.Millisecond }
	t.Cleanup(func() {
		f.m.Shutdown(context.Background())
		close(f.hold)
	})
	return f
}

func (f *managerFixture) transport(i int) *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transports[i]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	f := newManagerFixture(t, "a")
	f.dialer.fails.Store(2)

	s, err := f.m.Connect(context.Background(), 1, 2, 3)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if n := f.dialer.calls.Load(); n != 3 {
		t.Errorf("dial attempts = %d, want 3", n)
	}
	if got, ok := f.m.Session(1); !ok || got != s {
		t.Error("session not registered")
	}
	if _, err := f.m.Connect(context.Background(), 1, 2, 3); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v", err)
	}
}

func TestConnectGivesUp(t *testing.T) {
	f := newManagerFixture(t, "a")
	f.dialer.fails.Store(100)

	if _, err := f.m.Connect(context.Background(), 1, 2, 3); err == nil {
		t.Fatal("expected failure")
	}
	if n := f.dialer.calls.Load(); n != connectAttempts {
		t.Errorf("dial attempts = %d, want %d", n, connectAttempts)
	}
	if _, ok := f.m.Session(1); ok {
		t.Error("failed connect left a session behind")
	}
}

func TestDisconnectFiresHooksOnce(t *testing.T) {
	f := newManagerFixture(t, "a")
	var fired []uint64
	var mu sync.Mutex
	f.m.OnDisconnect(func(s *Session) {
		mu.Lock()
		fired = append(fired, uint64(s.GuildID))
		mu.Unlock()
	})

	s, err := f.m.Connect(context.Background(), 7, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.m.Disconnect(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if err := f.m.Disconnect(context.Background(), 7); !errors.Is(err, ErrNoSession) {
		t.Errorf("second Disconnect = %v", err)
	}
	<-s.Done()

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(fired, []uint64{7}) {
		t.Errorf("hooks fired for %v", fired)
	}
	if s.Connected() || s.State() != StateDisconnected {
		t.Errorf("session still live: state %s", s.State())
	}
}

func TestSkipReconnectsWithShuffle(t *testing.T) {
	f := newManagerFixture(t, "a", "b")

	first, err := f.m.Connect(context.Background(), 1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first track", func() bool { return len(f.transport(0).playedFrames()) == 1 })

	first.mu.Lock()
	first.flags.Shuffle = true
	first.flags.Repeat = true
	first.mu.Unlock()

	second, err := f.m.Skip(context.Background(), 1)
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if second == first {
		t.Fatal("Skip reused the old session")
	}
	if f.transport(0).Connected() {
		t.Error("old transport still open")
	}
	if fl := second.Flags(); !fl.Shuffle || fl.Repeat {
		t.Errorf("flags after skip = %+v, want shuffle only", fl)
	}
	if second.ChannelID != 2 || second.TextChannelID != 3 {
		t.Errorf("skip moved the session: %d/%d", second.ChannelID, second.TextChannelID)
	}
	waitFor(t, "next track", func() bool { return len(f.transport(1).playedFrames()) == 1 })
}

func TestAutoPauseAndIdleDisconnect(t *testing.T) {
	f := newManagerFixture(t, "a")
	s, err := f.m.Connect(context.Background(), 1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	tr := f.transport(0)
	waitFor(t, "playback", tr.Playing)

	f.m.ListenersChanged(1, 0)
	waitFor(t, "auto pause", tr.Paused)
	waitFor(t, "idle disconnect", func() bool { _, ok := f.m.Session(1); return !ok })

	want := []string{
		fmt.Sprintf(sys.MsgAllMembersLeft, s.ChannelID),
		fmt.Sprintf(sys.MsgIdleDisconnect, s.ChannelID, humanDuration(80*time.Millisecond)),
	}
	waitFor(t, "notifications", func() bool { return len(f.notifier.sent()) == 2 })
	if got := f.notifier.sent(); !slices.Equal(got, want) {
		t.Errorf("notifications = %q, want %q", got, want)
	}
}

func TestListenerReturnCancelsIdle(t *testing.T) {
	f := newManagerFixture(t, "a")
	if _, err := f.m.Connect(context.Background(), 1, 2, 3); err != nil {
		t.Fatal(err)
	}
	tr := f.transport(0)
	waitFor(t, "playback", tr.Playing)

	f.m.ListenersChanged(1, 0)
	waitFor(t, "auto pause", tr.Paused)
	f.m.ListenersChanged(1, 2)
	waitFor(t, "auto resume", func() bool { return !tr.Paused() })

	time.Sleep(150 * time.Millisecond)
	if _, ok := f.m.Session(1); !ok {
		t.Error("session disconnected although a listener came back")
	}
}

func TestHumanDuration(t *testing.T) {
	if got := humanDuration(5 * time.Minute); got != "5 minutes" {
		t.Errorf("humanDuration(5m) = %q", got)
	}
}
