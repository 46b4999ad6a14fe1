// Package decode turns sealed utterance segments into transcript updates.
// It owns backend selection, the warm decode worker, partial streaming, and
// the low-coherence retry policy.
package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/vad"
)

// Update is one element of a job's finite, non-restartable output sequence.
// Zero or more partials precede exactly one final update or one terminal
// error. Elapsed times are monotonically non-decreasing within a job.
type Update struct {
	Text      string
	Final     bool
	ElapsedMS int64
	Err       error
}

var (
	ErrJobInFlight = errors.New("a decode job is already in flight")
	ErrNoAudio     = errors.New("segment contains no audio")
)

type job struct {
	ctx     context.Context
	seg     *vad.Segment
	updates chan Update
}

// Orchestrator submits cancellable decode jobs to a single warm worker.
// At most one job runs at a time; the session state machine guarantees
// callers never overlap submissions.
type Orchestrator struct {
	cfg         config.DecodeConfig
	log         *slog.Logger
	transcriber Transcriber

	base        Profile
	accelerated *Profile
	strict      Profile
	fellBack    bool

	mu     sync.Mutex
	active bool
	closed bool
	jobs   chan *job
	wg     sync.WaitGroup
}

// NewOrchestrator builds the backend for the configured mode. In exec mode
// with accelerated args configured, the accelerated path is probed once with
// a short silence clip; on probe failure the orchestrator silently falls
// back to the baseline path and records the fallback for diagnostics.
func NewOrchestrator(cfg config.DecodeConfig, modelPath string, log *slog.Logger) (*Orchestrator, error) {
	var transcriber Transcriber
	switch cfg.Mode {
	case "mock":
		transcriber = NewMockTranscriber()
	case "exec":
		t, err := NewExecTranscriber(cfg, modelPath)
		if err != nil {
			return nil, err
		}
		transcriber = t
	default:
		return nil, fmt.Errorf("unknown decode mode %q", cfg.Mode)
	}

	o, err := newOrchestrator(cfg, transcriber, log)
	if err != nil {
		return nil, err
	}

	if cfg.Mode == "exec" && o.accelerated != nil {
		o.probeAccelerated()
	}
	return o, nil
}

// NewOrchestratorWithTranscriber injects a transcriber directly. Used by
// tests and by callers that manage backend construction themselves.
func NewOrchestratorWithTranscriber(cfg config.DecodeConfig, transcriber Transcriber, log *slog.Logger) (*Orchestrator, error) {
	return newOrchestrator(cfg, transcriber, log)
}

func newOrchestrator(cfg config.DecodeConfig, transcriber Transcriber, log *slog.Logger) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:         cfg,
		log:         log,
		transcriber: transcriber,
		base:        Profile{Name: cfg.Quality},
		strict:      Profile{Name: "strict"},
		jobs:        make(chan *job, 1),
	}

	parser := shellwords.NewParser()
	if cfg.AcceleratedArgs != "" {
		args, err := parser.Parse(cfg.AcceleratedArgs)
		if err != nil {
			return nil, fmt.Errorf("parse accelerated args: %w", err)
		}
		o.accelerated = &Profile{Name: cfg.Quality + "+accel", Args: args}
	}
	if cfg.StrictArgs != "" {
		args, err := parser.Parse(cfg.StrictArgs)
		if err != nil {
			return nil, fmt.Errorf("parse strict args: %w", err)
		}
		o.strict.Args = args
	}

	o.wg.Add(1)
	go o.workerLoop()
	return o, nil
}

func (o *Orchestrator) probeAccelerated() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// 200ms of silence is enough to exercise backend initialization.
	silence := make([]int16, 3200)
	if _, err := o.transcriber.Transcribe(ctx, silence, 16000, *o.accelerated); err != nil {
		o.log.Warn("accelerated decode path unavailable, falling back",
			slog.String("error", err.Error()))
		o.accelerated = nil
		o.fellBack = true
	}
}

// FellBack reports whether the accelerated path failed its startup probe.
func (o *Orchestrator) FellBack() bool {
	return o.fellBack
}

// Submit schedules a decode job for the segment on the warm worker and
// returns its update stream. The stream is always closed: after the final
// update, after a terminal error, or promptly after ctx cancellation with no
// further updates.
func (o *Orchestrator) Submit(ctx context.Context, seg *vad.Segment) (<-chan Update, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, errors.New("orchestrator closed")
	}
	if o.active {
		o.mu.Unlock()
		return nil, ErrJobInFlight
	}
	o.active = true
	o.mu.Unlock()

	j := &job{ctx: ctx, seg: seg, updates: make(chan Update, 4)}
	o.jobs <- j
	return j.updates, nil
}

// Close drains the worker. No jobs may be submitted afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	close(o.jobs)
	o.wg.Wait()
}

func (o *Orchestrator) workerLoop() {
	defer o.wg.Done()
	for j := range o.jobs {
		o.run(j)
		o.mu.Lock()
		o.active = false
		o.mu.Unlock()
	}
}

func (o *Orchestrator) run(j *job) {
	defer close(j.updates)

	start := time.Now()
	pcm := j.seg.PCM()
	if len(pcm) == 0 {
		o.emit(j, Update{Err: ErrNoAudio, ElapsedMS: 0})
		return
	}
	rate := j.seg.SampleRate
	profile := o.selectProfile()

	// Interim pass: decode the head of long segments with the baseline
	// profile so the UI sees text before the full decode lands.
	headSamples := rate * o.cfg.InterimHeadMS / 1000
	if o.cfg.PublishInterim && headSamples > 0 && len(pcm) > 2*headSamples {
		if res, err := o.transcriber.Transcribe(j.ctx, pcm[:headSamples], rate, o.base); err == nil && res.Text != "" {
			if !o.emit(j, Update{Text: res.Text, ElapsedMS: time.Since(start).Milliseconds()}) {
				return
			}
		} else if j.ctx.Err() != nil {
			return
		}
	}

	res, err := o.transcriber.Transcribe(j.ctx, pcm, rate, profile)
	if err != nil {
		if j.ctx.Err() != nil {
			// Canceled: the closed channel is the acknowledgment.
			return
		}
		o.emit(j, Update{Err: err, ElapsedMS: time.Since(start).Milliseconds()})
		return
	}

	if o.cfg.RetryLowCoherence && o.lowCoherence(res) {
		o.log.Info("low-coherence decode, retrying with strict profile",
			slog.String("segment", j.seg.ID),
			slog.Float64("no_speech_prob", res.NoSpeechProb))
		if retry, rerr := o.transcriber.Transcribe(j.ctx, pcm, rate, o.strict); rerr == nil {
			res = retry
		} else if j.ctx.Err() != nil {
			return
		}
	}

	o.emit(j, Update{Text: res.Text, Final: true, ElapsedMS: time.Since(start).Milliseconds()})
}

func (o *Orchestrator) emit(j *job, u Update) bool {
	select {
	case j.updates <- u:
		return true
	case <-j.ctx.Done():
		return false
	}
}

// selectProfile prefers the accelerated path for non-fast quality when its
// startup probe succeeded; lightweight decodes always take the fast local
// path.
func (o *Orchestrator) selectProfile() Profile {
	if o.cfg.Quality != "fast" && o.accelerated != nil {
		return *o.accelerated
	}
	return o.base
}

func (o *Orchestrator) lowCoherence(res Result) bool {
	if res.NoSpeechProb > o.cfg.NoSpeechThreshold {
		return true
	}
	if o.cfg.RepetitionRatioMax > 0 && repetitionRatio(res.Text) > o.cfg.RepetitionRatioMax {
		return true
	}
	return false
}
