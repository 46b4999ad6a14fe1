package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/murmurlabs/murmur/internal/config"
)

// FixtureSource replays a WAV file as capture frames. Used by
// start_dictation(fixture) and by tests; frames are shaped exactly like mic
// frames so the rest of the pipeline cannot tell the difference.
type FixtureSource struct {
	cfg   config.CaptureConfig
	path  string
	paced bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

func NewFixtureSource(cfg config.CaptureConfig, path string, paced bool) *FixtureSource {
	return &FixtureSource{cfg: cfg, path: path, paced: paced}
}

func (f *FixtureSource) Start(ctx context.Context) (<-chan Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil, errors.New("fixture already started")
	}
	if f.path == "" {
		return nil, fmt.Errorf("%w: no fixture path configured", ErrDeviceUnavailable)
	}

	samples, err := decodeWAV(f.path, f.cfg.SampleRate)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.started = true

	frameSamples := f.cfg.SampleRate * f.cfg.FrameDurationMS / 1000
	out := make(chan Frame, f.cfg.BufferFrames)

	go func() {
		defer close(out)
		var seq uint64
		interval := time.Duration(f.cfg.FrameDurationMS) * time.Millisecond
		for off := 0; off < len(samples); off += frameSamples {
			end := off + frameSamples
			if end > len(samples) {
				end = len(samples)
			}
			block := make([]int16, frameSamples)
			copy(block, samples[off:end])
			frame := Frame{Seq: seq, Samples: block, Captured: time.Now()}
			seq++
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
			if f.paced {
				select {
				case <-time.After(interval):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (f *FixtureSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.started = false
	return nil
}

func decodeWAV(path string, wantRate int) ([]int16, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode fixture wav: %w", err)
	}
	if buf.Format == nil {
		return nil, errors.New("fixture wav has no format header")
	}
	if buf.Format.SampleRate != wantRate {
		return nil, fmt.Errorf("fixture sample rate %d does not match configured %d", buf.Format.SampleRate, wantRate)
	}

	// Deeper samples are shifted down to 16 bits; anything else would wrap
	// silently in the int16 conversion below.
	var shift uint
	switch dec.BitDepth {
	case 16:
	case 24, 32:
		shift = uint(dec.BitDepth - 16)
	default:
		return nil, fmt.Errorf("fixture bit depth %d is not supported, use 16, 24, or 32", dec.BitDepth)
	}

	mono := buf.Data
	if buf.Format.NumChannels > 1 {
		ch := buf.Format.NumChannels
		mono = make([]int, 0, len(buf.Data)/ch)
		for i := 0; i+ch <= len(buf.Data); i += ch {
			mono = append(mono, buf.Data[i])
		}
	}

	samples := make([]int16, len(mono))
	for i, v := range mono {
		samples[i] = int16(v >> shift)
	}
	return samples, nil
}
