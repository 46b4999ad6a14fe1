// Package settings holds the runtime-adjustable tuning state shared between
// the control surface and the session controller. Changes take effect at the
// next segment boundary; the active segment keeps the snapshot it started
// with.
package settings

import (
	"fmt"
	"sync"
	"time"

	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/vad"
)

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

// Snapshot is one consistent view of the tunable state.
type Snapshot struct {
	VAD     vad.Tunables
	Quality string
}

// Store guards the tunables behind a RWMutex so the control server can
// adjust them while a session is running.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewStore(cfg config.Config) *Store {
	return &Store{snap: Snapshot{
		VAD:     vad.FromConfig(cfg.VAD),
		Quality: cfg.Decode.Quality,
	}}
}

// Snapshot returns the current tunables by value.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Update applies the non-nil fields of the patch after validation.
type Patch struct {
	Threshold      *float64 `json:"threshold,omitempty"`
	ReleaseRatio   *float64 `json:"release_ratio,omitempty"`
	StartFrames    *int     `json:"start_frames,omitempty"`
	ReleaseTailMS  *int     `json:"release_tail_ms,omitempty"`
	MaxUtteranceMS *int     `json:"max_utterance_ms,omitempty"`
	Smoothing      *float64 `json:"smoothing,omitempty"`
	Quality        *string  `json:"quality,omitempty"`
}

func (s *Store) Update(p Patch) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap
	if p.Threshold != nil {
		if *p.Threshold <= 0 || *p.Threshold >= 1 {
			return s.snap, fmt.Errorf("threshold must be between 0 and 1 exclusive, got %g", *p.Threshold)
		}
		next.VAD.Threshold = *p.Threshold
	}
	if p.ReleaseRatio != nil {
		if *p.ReleaseRatio <= 0 || *p.ReleaseRatio > 1 {
			return s.snap, fmt.Errorf("release ratio must be in (0, 1], got %g", *p.ReleaseRatio)
		}
		next.VAD.ReleaseRatio = *p.ReleaseRatio
	}
	if p.StartFrames != nil {
		if *p.StartFrames <= 0 {
			return s.snap, fmt.Errorf("start frames must be positive, got %d", *p.StartFrames)
		}
		next.VAD.StartFrames = *p.StartFrames
	}
	if p.ReleaseTailMS != nil {
		if *p.ReleaseTailMS < 0 {
			return s.snap, fmt.Errorf("release tail must be >= 0, got %d", *p.ReleaseTailMS)
		}
		next.VAD.ReleaseTail = msDuration(*p.ReleaseTailMS)
	}
	if p.MaxUtteranceMS != nil {
		if *p.MaxUtteranceMS <= 0 {
			return s.snap, fmt.Errorf("max utterance must be positive, got %d", *p.MaxUtteranceMS)
		}
		next.VAD.MaxUtterance = msDuration(*p.MaxUtteranceMS)
	}
	if p.Smoothing != nil {
		if *p.Smoothing <= 0 || *p.Smoothing > 1 {
			return s.snap, fmt.Errorf("smoothing must be in (0, 1], got %g", *p.Smoothing)
		}
		next.VAD.Smoothing = *p.Smoothing
	}
	if p.Quality != nil {
		switch *p.Quality {
		case "fast", "balanced", "accurate":
		default:
			return s.snap, fmt.Errorf("quality must be one of fast|balanced|accurate, got %q", *p.Quality)
		}
		next.Quality = *p.Quality
	}

	s.snap = next
	return next, nil
}

// ResetRecommended restores the shipped defaults, discarding any tuning.
func (s *Store) ResetRecommended() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = Snapshot{
		VAD:     vad.Recommended(),
		Quality: config.Default().Decode.Quality,
	}
	return s.snap
}
