package audio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/murmurlabs/murmur/internal/config"
)

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %g", got)
	}
	if got := RMS([]int16{0, 0, 0}); got != 0 {
		t.Fatalf("RMS(zeros) = %g", got)
	}
	got := RMS([]int16{math.MaxInt16, math.MaxInt16})
	if math.Abs(got-1) > 1e-9 {
		t.Fatalf("RMS(full scale) = %g, want 1", got)
	}
}

func TestPeak(t *testing.T) {
	if got := Peak([]int16{0, -5, 3}); got != 5.0/math.MaxInt16 {
		t.Fatalf("Peak = %g", got)
	}
	if got := Peak([]int16{math.MinInt16}); got != 1 {
		t.Fatalf("Peak(min int16) = %g, want 1", got)
	}
}

func writeTestWAV(t *testing.T, path string, sampleRate int, samples []int16) {
	t.Helper()
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	writeWAVDepth(t, path, sampleRate, 16, data)
}

func writeWAVDepth(t *testing.T, path string, sampleRate, bitDepth int, data []int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func captureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		SampleRate:      16000,
		Channels:        1,
		FrameDurationMS: 20,
		BufferFrames:    64,
	}
}

func TestFixtureSourceFraming(t *testing.T) {
	cfg := captureConfig()
	// 100ms of audio at 16kHz, 20ms frames: exactly five frames.
	samples := make([]int16, cfg.SampleRate/10)
	for i := range samples {
		samples[i] = 1000
	}
	path := filepath.Join(t.TempDir(), "fixture.wav")
	writeTestWAV(t, path, cfg.SampleRate, samples)

	src := NewFixtureSource(cfg, path, false)
	defer src.Close()

	frames, err := src.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	frameSamples := cfg.SampleRate * cfg.FrameDurationMS / 1000
	var got []Frame
	for f := range frames {
		got = append(got, f)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(got))
	}
	for i, f := range got {
		if f.Seq != uint64(i) {
			t.Fatalf("frame %d has seq %d", i, f.Seq)
		}
		if len(f.Samples) != frameSamples {
			t.Fatalf("frame %d has %d samples, want %d", i, len(f.Samples), frameSamples)
		}
	}
}

func TestFixtureSourceRejectsRateMismatch(t *testing.T) {
	cfg := captureConfig()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	writeTestWAV(t, path, 44100, make([]int16, 441))

	src := NewFixtureSource(cfg, path, false)
	if _, err := src.Start(context.Background()); err == nil {
		t.Fatal("expected sample-rate mismatch error")
	}
}

func TestFixtureSourceScalesDeepSamples(t *testing.T) {
	cfg := captureConfig()
	data := make([]int, cfg.SampleRate/10)
	for i := range data {
		data[i] = 1000 << 16
	}
	path := filepath.Join(t.TempDir(), "deep.wav")
	writeWAVDepth(t, path, cfg.SampleRate, 32, data)

	samples, err := decodeWAV(path, cfg.SampleRate)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != len(data) {
		t.Fatalf("expected %d samples, got %d", len(data), len(samples))
	}
	for i, s := range samples {
		if s != 1000 {
			t.Fatalf("sample %d = %d, want 1000", i, s)
		}
	}
}

func TestFixtureSourceRejectsUnsupportedBitDepth(t *testing.T) {
	cfg := captureConfig()
	data := make([]int, cfg.SampleRate/10)
	for i := range data {
		data[i] = 128
	}
	path := filepath.Join(t.TempDir(), "shallow.wav")
	writeWAVDepth(t, path, cfg.SampleRate, 8, data)

	if _, err := decodeWAV(path, cfg.SampleRate); err == nil {
		t.Fatal("expected bit-depth error")
	}
}

func TestFixtureSourceMissingFile(t *testing.T) {
	src := NewFixtureSource(captureConfig(), filepath.Join(t.TempDir(), "missing.wav"), false)
	if _, err := src.Start(context.Background()); err == nil {
		t.Fatal("expected error for missing fixture")
	}
}

func TestFixtureSourceStopsOnCancel(t *testing.T) {
	cfg := captureConfig()
	cfg.BufferFrames = 1
	samples := make([]int16, cfg.SampleRate) // one second of audio
	path := filepath.Join(t.TempDir(), "fixture.wav")
	writeTestWAV(t, path, cfg.SampleRate, samples)

	ctx, cancel := context.WithCancel(context.Background())
	src := NewFixtureSource(cfg, path, false)
	defer src.Close()

	frames, err := src.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-frames
	cancel()

	// The channel closes without delivering the full fixture.
	count := 0
	for range frames {
		count++
	}
	if count >= 49 {
		t.Fatalf("cancel did not stop playback, drained %d frames", count)
	}
}

// stubReader fills the capture buffer the way a PortAudio stream would.
type stubReader struct {
	buf []int16
}

func (r *stubReader) Read() error {
	for i := range r.buf {
		r.buf[i] = 512
	}
	time.Sleep(time.Millisecond)
	return nil
}

func TestMicPumpStopsCleanlyOnClose(t *testing.T) {
	buf := make([]int16, 32)
	m := &MicSource{
		cfg:    captureConfig(),
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		done:   make(chan struct{}),
		pumped: make(chan struct{}),
	}

	out := make(chan Frame, 2)
	go m.pump(context.Background(), &stubReader{buf: buf}, buf, out)

	// No consumer yet: the bounded channel forces drop-oldest evictions.
	time.Sleep(50 * time.Millisecond)

	drained := make(chan struct{})
	go func() {
		for range out {
		}
		close(drained)
	}()

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-drained:
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not exit after close")
	}
	if m.dropped == 0 {
		t.Fatal("expected drop-oldest evictions while unconsumed")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
