package player

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/asticode/go-astiav"
)

const (
	SliceSeconds   = 30
	FrameDuration  = 20 * time.Millisecond
	FramesPerSlice = SliceSeconds * int(time.Second/FrameDuration)

	sampleRate   = 48000
	frameSamples = 960
)

// Slice is a window of encoded opus frames starting at Index*SliceSeconds.
// Last is set when the source ended inside the window.
type Slice struct {
	Index  int
	Frames [][]byte
	Last   bool
}

func (s *Slice) Duration() time.Duration {
	return time.Duration(len(s.Frames)) * FrameDuration
}

// SliceLoader produces the slice with the given index from an audio URL.
type SliceLoader interface {
	Load(ctx context.Context, url string, part int) (*Slice, error)
}

// AstiavSliceLoader decodes the source with libav, seeks to the slice offset
// and re-encodes 48kHz stereo opus frames.
type AstiavSliceLoader struct{}

func (AstiavSliceLoader) Load(ctx context.Context, url string, part int) (s *Slice, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("slice transcoder panic: %v", r)
		}
	}()

	t := newSliceTranscoder(int64(part) * SliceSeconds * sampleRate)
	defer t.close()

	if err := t.openInput(url); err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	if err := t.setupDecoder(); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}
	if err := t.setupEncoder(); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	if part > 0 {
		if err := t.seek(); err != nil {
			return nil, fmt.Errorf("seek to %ds: %w", part*SliceSeconds, err)
		}
	}

	eof, err := t.transcode(ctx)
	if err != nil {
		return nil, err
	}
	return &Slice{Index: part, Frames: t.frames, Last: eof}, nil
}

var errSliceFull = errors.New("slice full")

type sliceTranscoder struct {
	input            *astiav.FormatContext
	decoder, encoder *astiav.CodecContext
	stream           int
	packet           *astiav.Packet
	frame, resampled *astiav.Frame
	resampler        *astiav.SoftwareResampleContext
	fifo             *astiav.AudioFifo

	offset  int64 // first wanted sample, at 48kHz
	emitted int64
	frames  [][]byte
}

func newSliceTranscoder(offset int64) *sliceTranscoder {
	return &sliceTranscoder{
		packet:    astiav.AllocPacket(),
		frame:     astiav.AllocFrame(),
		resampled: astiav.AllocFrame(),
		offset:    offset,
	}
}

func (t *sliceTranscoder) openInput(url string) error {
	t.input = astiav.AllocFormatContext()
	if t.input == nil {
		return errors.New("failed to alloc ctx")
	}

	var opts *astiav.Dictionary
	if strings.HasPrefix(url, "http") {
		opts = astiav.NewDictionary()
		defer opts.Free()
		opts.Set("reconnect", "1", 0)
		opts.Set("reconnect_streamed", "1", 0)
		opts.Set("reconnect_delay_max", "1", 0)
		opts.Set("timeout", "30000000", 0)
	}
	if err := t.input.OpenInput(url, nil, opts); err != nil {
		return err
	}
	if err := t.input.FindStreamInfo(nil); err != nil {
		return err
	}

	t.stream = -1
	for _, s := range t.input.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.stream = s.Index()
			break
		}
	}
	if t.stream == -1 {
		return errors.New("no audio")
	}
	return nil
}

func (t *sliceTranscoder) setupDecoder() error {
	p := t.input.Streams()[t.stream].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoder = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoder)
	return t.decoder.Open(d, nil)
}

func (t *sliceTranscoder) setupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoder = astiav.AllocCodecContext(e)
	t.encoder.SetBitRate(128000)
	t.encoder.SetSampleRate(sampleRate)
	t.encoder.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoder.SetSampleFormat(astiav.SampleFormatS16)
	t.encoder.SetTimeBase(astiav.NewRational(1, sampleRate))

	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoder.Open(e, o); err != nil {
		return err
	}

	t.resampler = astiav.AllocSoftwareResampleContext()
	if t.resampler == nil {
		return errors.New("failed to allocate resampler")
	}
	t.fifo = astiav.AllocAudioFifo(t.encoder.SampleFormat(), t.encoder.ChannelLayout().Channels(), frameSamples*2)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	return nil
}

// seek jumps to the keyframe at or before offset. Frames decoded before the
// offset are dropped in push.
func (t *sliceTranscoder) seek() error {
	tb := t.input.Streams()[t.stream].TimeBase()
	ts := astiav.RescaleQ(t.offset, astiav.NewRational(1, sampleRate), tb)
	return t.input.SeekFrame(t.stream, ts, astiav.SeekFlags(astiav.SeekFlagBackward))
}

// transcode fills t.frames until the slice is full or the input ends. It
// reports whether the input ended.
func (t *sliceTranscoder) transcode(ctx context.Context) (bool, error) {
	eof := false
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		t.packet.Unref()
		if err := t.input.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				eof = true
				break
			}
			return false, err
		}
		if t.packet.StreamIndex() != t.stream {
			continue
		}
		if err := t.decoder.SendPacket(t.packet); err != nil {
			return false, err
		}

		full, err := t.drainDecoder()
		if err != nil {
			return false, err
		}
		if full {
			break
		}
	}

	if eof {
		_ = t.decoder.SendPacket(nil)
		if _, err := t.drainDecoder(); err != nil {
			return false, err
		}
		if err := t.processFifo(true); err != nil && !errors.Is(err, errSliceFull) {
			return false, err
		}
	}

	_ = t.encoder.SendFrame(nil)
	for {
		t.packet.Unref()
		if t.encoder.ReceivePacket(t.packet) != nil {
			break
		}
		t.emit()
	}
	return eof, nil
}

func (t *sliceTranscoder) drainDecoder() (bool, error) {
	for {
		if err := t.decoder.ReceiveFrame(t.frame); err != nil {
			return false, nil
		}
		err := t.push()
		t.frame.Unref()
		if errors.Is(err, errSliceFull) {
			return true, nil
		}
		if err != nil {
			return false, err
		}
	}
}

func (t *sliceTranscoder) push() error {
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, sampleRate)))
	if nb <= 0 {
		return nil
	}

	if t.offset > 0 {
		if pts := t.frame.Pts(); pts >= 0 {
			start := astiav.RescaleQ(pts, t.input.Streams()[t.stream].TimeBase(), astiav.NewRational(1, sampleRate))
			if start+int64(nb) <= t.offset {
				return nil
			}
		}
	}

	t.resampled.Unref()
	t.resampled.SetChannelLayout(t.encoder.ChannelLayout())
	t.resampled.SetSampleFormat(t.encoder.SampleFormat())
	t.resampled.SetSampleRate(t.encoder.SampleRate())
	t.resampled.SetNbSamples(nb)
	_ = t.resampled.AllocBuffer(0)
	if t.resampler.ConvertFrame(t.frame, t.resampled) != nil {
		return nil
	}
	_, _ = t.fifo.Write(t.resampled)
	return t.processFifo(false)
}

func (t *sliceTranscoder) processFifo(drain bool) error {
	limit := int64(SliceSeconds * sampleRate)
	for {
		if t.emitted >= limit {
			return errSliceFull
		}
		sz := frameSamples
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}

		t.resampled.Unref()
		t.resampled.SetNbSamples(sz)
		t.resampled.SetChannelLayout(t.encoder.ChannelLayout())
		t.resampled.SetSampleFormat(t.encoder.SampleFormat())
		t.resampled.SetSampleRate(t.encoder.SampleRate())
		_ = t.resampled.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampled)

		t.resampled.SetPts(t.emitted)
		t.emitted += int64(sz)
		if err := t.encoder.SendFrame(t.resampled); err != nil {
			return err
		}
		for {
			t.packet.Unref()
			if t.encoder.ReceivePacket(t.packet) != nil {
				break
			}
			t.emit()
		}
	}
}

func (t *sliceTranscoder) emit() {
	d := t.packet.Data()
	fd := make([]byte, len(d))
	copy(fd, d)
	t.frames = append(t.frames, fd)
}

func (t *sliceTranscoder) close() {
	if t.fifo != nil {
		t.fifo.Free()
	}
	if t.resampler != nil {
		t.resampler.Free()
	}
	if t.resampled != nil {
		t.resampled.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoder != nil {
		t.decoder.Free()
	}
	if t.encoder != nil {
		t.encoder.Free()
	}
	if t.input != nil {
		t.input.CloseInput()
		t.input.Free()
	}
}
