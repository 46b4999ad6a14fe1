package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/murmurlabs/murmur/internal/config"
)

// Capture failure modes surfaced to the session as actionable errors.
var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrPermissionDenied  = errors.New("microphone permission denied")
)

// Source produces a stream of capture frames. Start may be called once per
// Source; Close releases the device on every exit path.
type Source interface {
	Start(ctx context.Context) (<-chan Frame, error)
	Close() error
}

// MicSource captures from a PortAudio input device. The frame channel is
// bounded; when the consumer falls behind the oldest unread frame is dropped
// so capture never stalls.
type MicSource struct {
	cfg config.CaptureConfig
	log *slog.Logger

	mu      sync.Mutex
	stream  *portaudio.Stream
	started bool
	closed  bool
	done    chan struct{}
	pumped  chan struct{}
	dropped uint64
}

// frameReader is the slice of the PortAudio stream the pump needs: each Read
// fills the buffer the stream was opened over.
type frameReader interface {
	Read() error
}

func NewMicSource(cfg config.CaptureConfig, log *slog.Logger) *MicSource {
	return &MicSource{cfg: cfg, log: log, done: make(chan struct{})}
}

func (m *MicSource) Start(ctx context.Context) (<-chan Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil, errors.New("capture already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, classifyCaptureErr(err)
	}

	frameSamples := m.cfg.SampleRate * m.cfg.FrameDurationMS / 1000
	buf := make([]int16, frameSamples)

	stream, err := m.openStream(buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, classifyCaptureErr(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, classifyCaptureErr(err)
	}

	m.stream = stream
	m.started = true
	m.pumped = make(chan struct{})

	out := make(chan Frame, m.cfg.BufferFrames)
	go m.pump(ctx, stream, buf, out)
	return out, nil
}

func (m *MicSource) openStream(buf []int16) (*portaudio.Stream, error) {
	if m.cfg.Device == "" || m.cfg.Device == "default" {
		return portaudio.OpenDefaultStream(m.cfg.Channels, 0, float64(m.cfg.SampleRate), len(buf), buf)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(dev.Name, m.cfg.Device) {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: m.cfg.Channels,
					Latency:  dev.DefaultLowInputLatency,
				},
				SampleRate:      float64(m.cfg.SampleRate),
				FramesPerBuffer: len(buf),
			}
			return portaudio.OpenStream(params, buf)
		}
	}
	return nil, fmt.Errorf("%w: no input device matching %q", ErrDeviceUnavailable, m.cfg.Device)
}

// pump reads frames until the context or the source is closed. It holds the
// stream as a local so teardown in Close never races a Read in flight; Close
// waits on m.pumped before touching the stream.
func (m *MicSource) pump(ctx context.Context, stream frameReader, buf []int16, out chan Frame) {
	defer close(m.pumped)
	defer close(out)
	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// Overflow means the device outpaced us; keep reading.
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			m.log.Warn("capture read failed", slog.String("error", err.Error()))
			return
		}

		samples := make([]int16, len(buf))
		copy(samples, buf)
		frame := Frame{Seq: seq, Samples: samples, Captured: time.Now()}
		seq++

		select {
		case out <- frame:
		default:
			// Consumer is behind: evict the oldest frame, then retry once.
			select {
			case <-out:
				m.dropped++
			default:
			}
			select {
			case out <- frame:
			default:
			}
		}
	}
}

func (m *MicSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	stream := m.stream
	m.stream = nil
	started := m.started
	m.started = false
	pumped := m.pumped
	m.mu.Unlock()

	// The pump must be out of its last Read before the stream is torn down.
	if pumped != nil {
		<-pumped
	}
	if stream != nil {
		_ = stream.Stop()
		_ = stream.Close()
	}
	if started {
		if m.dropped > 0 {
			m.log.Debug("capture dropped frames", slog.Uint64("dropped", m.dropped))
		}
		return portaudio.Terminate()
	}
	return nil
}

func classifyCaptureErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access denied") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
}
