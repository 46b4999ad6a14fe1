// Package vad segments a capture frame stream into utterances using
// energy-based voice activity detection with hysteresis.
package vad

import (
	"time"

	"github.com/google/uuid"
	"github.com/murmurlabs/murmur/internal/audio"
	"github.com/murmurlabs/murmur/internal/config"
)

// State is the segmenter position in the utterance state machine.
type State int

const (
	StateSilence State = iota
	StateSpeaking
	StateTrailing
)

func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeaking:
		return "speaking"
	case StateTrailing:
		return "trailing"
	default:
		return "unknown"
	}
}

// SealReason records why a segment was sealed.
type SealReason string

const (
	SealSilence     SealReason = "silence"
	SealMaxDuration SealReason = "max_duration"
	SealStop        SealReason = "stop"
	SealWatchdog    SealReason = "watchdog"
)

// Tunables are the runtime-adjustable segmentation parameters. A snapshot is
// taken per segment; mid-segment changes apply to the next one.
type Tunables struct {
	Threshold    float64
	ReleaseRatio float64
	StartFrames  int
	ReleaseTail  time.Duration
	MaxUtterance time.Duration
	Smoothing    float64
}

// FromConfig converts the static config section into tunables.
func FromConfig(cfg config.VADConfig) Tunables {
	return Tunables{
		Threshold:    cfg.Threshold,
		ReleaseRatio: cfg.ReleaseRatio,
		StartFrames:  cfg.StartFrames,
		ReleaseTail:  time.Duration(cfg.ReleaseTailMS) * time.Millisecond,
		MaxUtterance: time.Duration(cfg.MaxUtteranceMS) * time.Millisecond,
		Smoothing:    cfg.Smoothing,
	}
}

// Recommended returns the shipped defaults. Exposed so a user who mistuned
// the threshold into an unusable state can recover.
func Recommended() Tunables {
	return FromConfig(config.Default().VAD)
}

// Segment is a sealed utterance: ordered frames plus release-tail padding.
// Immutable once returned by the segmenter.
type Segment struct {
	ID         string
	Frames     []audio.Frame
	SampleRate int
	Duration   time.Duration
	Reason     SealReason
	StartedAt  time.Time
}

// PCM concatenates the segment frames into one sample slice.
func (s *Segment) PCM() []int16 {
	if s == nil {
		return nil
	}
	total := 0
	for _, f := range s.Frames {
		total += len(f.Samples)
	}
	out := make([]int16, 0, total)
	for _, f := range s.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Segmenter consumes frames and emits at most one segment per utterance.
// Not safe for concurrent use; the session owns exactly one segmentation
// goroutine.
type Segmenter struct {
	tun        Tunables
	sampleRate int
	frameDur   time.Duration

	state       State
	smoothed    float64
	hits        int
	trailingFor time.Duration
	frames      []audio.Frame
	preroll     []audio.Frame
	startedAt   time.Time
}

func NewSegmenter(tun Tunables, sampleRate int, frameDur time.Duration) *Segmenter {
	return &Segmenter{
		tun:        tun,
		sampleRate: sampleRate,
		frameDur:   frameDur,
		state:      StateSilence,
	}
}

func (s *Segmenter) State() State { return s.state }

// Process consumes one frame. It returns a sealed segment when the utterance
// completed (trailing tail elapsed or the hard duration cap was hit), nil
// otherwise.
func (s *Segmenter) Process(frame audio.Frame) *Segment {
	level := audio.RMS(frame.Samples)
	s.smoothed = s.tun.Smoothing*level + (1-s.tun.Smoothing)*s.smoothed

	switch s.state {
	case StateSilence:
		// Keep a short pre-roll so the utterance onset is not clipped.
		s.preroll = append(s.preroll, frame)
		if over := len(s.preroll) - s.tun.StartFrames; over > 0 {
			s.preroll = s.preroll[over:]
		}
		if s.smoothed >= s.tun.Threshold {
			s.hits++
			if s.hits >= s.tun.StartFrames {
				s.state = StateSpeaking
				s.startedAt = frame.Captured
				s.frames = append(s.frames, s.preroll...)
				s.preroll = nil
				s.hits = 0
			}
		} else {
			s.hits = 0
		}
		return nil

	case StateSpeaking:
		s.frames = append(s.frames, frame)
		if s.duration() >= s.tun.MaxUtterance {
			return s.seal(SealMaxDuration)
		}
		if s.smoothed < s.tun.Threshold*s.tun.ReleaseRatio {
			s.state = StateTrailing
			s.trailingFor = 0
		}
		return nil

	case StateTrailing:
		s.frames = append(s.frames, frame)
		if s.duration() >= s.tun.MaxUtterance {
			return s.seal(SealMaxDuration)
		}
		if s.smoothed >= s.tun.Threshold {
			// Speech resumed before the tail elapsed.
			s.state = StateSpeaking
			s.trailingFor = 0
			return nil
		}
		s.trailingFor += s.frameDur
		if s.trailingFor >= s.tun.ReleaseTail {
			return s.seal(SealSilence)
		}
		return nil
	}
	return nil
}

// ForceSeal seals whatever audio exists regardless of state. Returns nil
// when no speech was ever captured.
func (s *Segmenter) ForceSeal(reason SealReason) *Segment {
	if len(s.frames) == 0 {
		s.Reset()
		return nil
	}
	return s.seal(reason)
}

// Reset returns the segmenter to silence and discards buffered audio.
func (s *Segmenter) Reset() {
	s.state = StateSilence
	s.smoothed = 0
	s.hits = 0
	s.trailingFor = 0
	s.frames = nil
	s.preroll = nil
	s.startedAt = time.Time{}
}

func (s *Segmenter) duration() time.Duration {
	return time.Duration(len(s.frames)) * s.frameDur
}

func (s *Segmenter) seal(reason SealReason) *Segment {
	frames := s.frames
	// Hard cap: never hand off more audio than the configured maximum.
	if max := int(s.tun.MaxUtterance / s.frameDur); max > 0 && len(frames) > max {
		frames = frames[:max]
	}
	seg := &Segment{
		ID:         uuid.NewString(),
		Frames:     frames,
		SampleRate: s.sampleRate,
		Duration:   time.Duration(len(frames)) * s.frameDur,
		Reason:     reason,
		StartedAt:  s.startedAt,
	}
	s.Reset()
	return seg
}
