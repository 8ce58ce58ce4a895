package player

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestFrameProviderPlaysSlice(t *testing.T) {
	p := newFrameProvider()
	done := p.load(&Slice{Frames: [][]byte{{1}, {2}, {3}}})

	for i := 1; i <= 3; i++ {
		f, err := p.ProvideOpusFrame()
		if err != nil || !bytes.Equal(f, []byte{byte(i)}) {
			t.Fatalf("frame %d = %v, %v", i, f, err)
		}
	}
	select {
	case <-done:
	default:
		t.Fatal("done not closed after the last frame")
	}

	for range silenceTail {
		if f, _ := p.ProvideOpusFrame(); !bytes.Equal(f, OpusSilence) {
			t.Fatalf("expected silence between slices, got %v", f)
		}
	}
	if f, err := p.ProvideOpusFrame(); f != nil || err != nil {
		t.Errorf("after silence tail = %v, %v", f, err)
	}
}

func TestFrameProviderPause(t *testing.T) {
	p := newFrameProvider()
	p.load(&Slice{Frames: [][]byte{{9}}})

	if !p.pause() || !p.isPaused() || p.playing() {
		t.Fatal("pause did not take effect")
	}

	got := make(chan []byte, 1)
	go func() {
		f, _ := p.ProvideOpusFrame()
		got <- f
	}()
	select {
	case <-got:
		t.Fatal("frame handed out while paused")
	case <-time.After(30 * time.Millisecond):
	}

	if !p.resume() || p.resume() {
		t.Fatal("resume should succeed exactly once")
	}
	select {
	case f := <-got:
		if !bytes.Equal(f, []byte{9}) {
			t.Errorf("frame after resume = %v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("provider stayed blocked after resume")
	}
}

func TestFrameProviderStop(t *testing.T) {
	p := newFrameProvider()
	done := p.load(&Slice{Frames: [][]byte{{1}, {2}}})
	p.stop()

	select {
	case <-done:
	default:
		t.Error("stop left the slice waiting")
	}
	if _, err := p.ProvideOpusFrame(); err != io.EOF {
		t.Errorf("ProvideOpusFrame after stop = %v", err)
	}
	select {
	case <-p.load(&Slice{Frames: [][]byte{{3}}}):
	default:
		t.Error("load on a stopped provider should complete immediately")
	}
}
