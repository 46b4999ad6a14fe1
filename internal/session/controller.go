// Package session drives the dictation lifecycle: capture, segmentation,
// decoding, sanitization, and insertion. The controller is the only writer
// of session state; every other component reacts to it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/beeep"
	"github.com/murmurlabs/murmur/internal/audio"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/decode"
	"github.com/murmurlabs/murmur/internal/eventstore"
	"github.com/murmurlabs/murmur/internal/hotkey"
	"github.com/murmurlabs/murmur/internal/insert"
	"github.com/murmurlabs/murmur/internal/model"
	"github.com/murmurlabs/murmur/internal/protocol"
	"github.com/murmurlabs/murmur/internal/sanitize"
	"github.com/murmurlabs/murmur/internal/settings"
	"github.com/murmurlabs/murmur/internal/vad"
)

var (
	ErrSessionActive = errors.New("a dictation session is already active")
	ErrNoSession     = errors.New("no dictation session is active")
)

// SourceFactory builds the capture source for a session mode ("mic" or
// "fixture"). Injectable so tests drive sessions from canned audio.
type SourceFactory func(mode string) (audio.Source, error)

// Deps are the collaborators the controller coordinates.
type Deps struct {
	Source   SourceFactory
	Sink     EventSink
	Store    *eventstore.Store
	Registry *model.Registry
	Settings *settings.Store
	Orch     *decode.Orchestrator
	Engine   *insert.Engine
	Log      *slog.Logger
}

// Controller owns the idle -> listening -> transcribing -> inserted|error
// state machine. At most one session runs at a time.
type Controller struct {
	cfg     config.Config
	deps    Deps
	log     *slog.Logger
	metrics *sessionMetrics

	nextID atomic.Uint64

	mu        sync.Mutex
	state     State
	sessionID uint64
	lastMsg   string
	cancel    context.CancelFunc
	stopCh    chan struct{}
	done      chan struct{}
}

func NewController(cfg config.Config, deps Deps) *Controller {
	c := &Controller{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Log.With(slog.String("component", "session")),
		metrics: newSessionMetrics(),
	}
	if c.deps.Source == nil {
		c.deps.Source = c.defaultSource
	}
	return c
}

func (c *Controller) defaultSource(mode string) (audio.Source, error) {
	switch mode {
	case "", "mic", "microphone":
		return audio.NewMicSource(c.cfg.Capture, c.log), nil
	case "fixture":
		if c.cfg.Capture.FixturePath == "" {
			return nil, errors.New("no capture fixture path configured")
		}
		return audio.NewFixtureSource(c.cfg.Capture, c.cfg.Capture.FixturePath, true), nil
	default:
		return nil, fmt.Errorf("unknown capture mode %q", mode)
	}
}

// Start begins a dictation session. Allowed from idle or error; any other
// state returns ErrSessionActive.
func (c *Controller) Start(mode string) (uint64, error) {
	c.mu.Lock()
	if c.state != StateIdle && c.state != StateError {
		c.mu.Unlock()
		return 0, ErrSessionActive
	}

	modelID := c.deps.Registry.ActiveModelID()
	if c.cfg.Decode.Mode == "exec" {
		if err := c.deps.Registry.Ready(modelID); err != nil {
			c.mu.Unlock()
			c.toError(0, fmt.Sprintf("model not usable: %v", err))
			return 0, err
		}
	}

	source, err := c.deps.Source(mode)
	if err != nil {
		c.mu.Unlock()
		c.toError(0, fmt.Sprintf("capture source: %v", err))
		return 0, err
	}

	id := c.nextID.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	c.sessionID = id
	c.cancel = cancel
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	done := c.done
	stopCh := c.stopCh
	c.state = StateListening
	c.lastMsg = ""
	c.mu.Unlock()

	tun := c.deps.Settings.Snapshot()
	c.metrics.sessionStarted()
	// The session row must exist before any event references it; the event
	// store enforces the foreign key.
	c.recordSession(id, modelID, tun.Quality)
	c.publishState(id, StateListening, "")

	go c.run(ctx, id, source, stopCh, done, tun)
	return id, nil
}

// Stop ends capture gracefully: buffered speech is sealed and decoded. Safe
// to call from any state; without a session it returns ErrNoSession.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateListening {
		return ErrNoSession
	}
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	return nil
}

// Cancel abandons the session immediately. Captured audio is discarded and
// any in-flight decode is cancelled without producing output.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateListening && c.state != StateTranscribing {
		return ErrNoSession
	}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Status reports the controller snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:       c.state.String(),
		SessionID:   c.sessionID,
		Model:       c.deps.Registry.ActiveModelID(),
		Quality:     c.deps.Settings.Snapshot().Quality,
		DecodeMode:  c.cfg.Decode.Mode,
		FellBack:    c.deps.Orch.FellBack(),
		LastMessage: c.lastMsg,
	}
}

// InsertText delivers arbitrary text through the insertion chain, outside
// any dictation session. Used by the control surface.
func (c *Controller) InsertText(ctx context.Context, text string) (insert.Transaction, error) {
	return c.deps.Engine.Insert(ctx, sanitize.Sanitize(text), "")
}

// UndoLast reverses the most recent insertion.
func (c *Controller) UndoLast(ctx context.Context) insert.UndoResult {
	return c.deps.Engine.UndoLast(ctx)
}

// Recent lists recent insertion transactions, newest first.
func (c *Controller) Recent(limit int) []insert.Transaction {
	return c.deps.Engine.Recent(limit)
}

// Run drains trigger events until ctx is done: press starts a mic session,
// release stops it. Session errors are reported through the sink, never
// returned here.
func (c *Controller) Run(ctx context.Context, trigger *hotkey.Trigger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-trigger.Events():
			switch ev {
			case hotkey.EventPress:
				if _, err := c.Start("mic"); err != nil && !errors.Is(err, ErrSessionActive) {
					c.log.Warn("trigger start failed", slog.String("error", err.Error()))
				}
			case hotkey.EventRelease:
				if err := c.Stop(); err != nil && !errors.Is(err, ErrNoSession) {
					c.log.Warn("trigger stop failed", slog.String("error", err.Error()))
				}
			}
		}
	}
}

// Close cancels any running session and waits for it to unwind.
func (c *Controller) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// run is the per-session goroutine: it owns capture, segmentation, and the
// handoff to the decoder.
func (c *Controller) run(ctx context.Context, id uint64, source audio.Source, stopCh, done chan struct{}, tun settings.Snapshot) {
	defer close(done)
	defer source.Close()

	frames, err := source.Start(ctx)
	if err != nil {
		c.toError(id, captureMessage(err))
		return
	}

	frameDur := time.Duration(c.cfg.Capture.FrameDurationMS) * time.Millisecond
	seg := vad.NewSegmenter(tun.VAD, c.cfg.Capture.SampleRate, frameDur)

	watchdog := time.NewTimer(time.Duration(c.cfg.Watchdog.ListenWindowMS) * time.Millisecond)
	defer watchdog.Stop()

	levelEvery := time.Duration(c.cfg.Capture.LevelEveryMS) * time.Millisecond
	var lastLevel time.Time

	var sealed *vad.Segment
capture:
	for {
		select {
		case <-ctx.Done():
			c.toIdle(id, "session cancelled")
			return

		case <-stopCh:
			sealed = seg.ForceSeal(vad.SealStop)
			break capture

		case <-watchdog.C:
			if sealed = seg.ForceSeal(vad.SealWatchdog); sealed != nil {
				c.log.Warn("listen window expired mid-utterance", slog.Uint64("session", id))
				break capture
			}
			c.toIdle(id, "no speech detected before the listen window expired")
			return

		case frame, ok := <-frames:
			if !ok {
				// Source drained (fixture end or device failure).
				sealed = seg.ForceSeal(vad.SealStop)
				break capture
			}
			if levelEvery > 0 && time.Since(lastLevel) >= levelEvery {
				lastLevel = time.Now()
				c.deps.Sink.Level(protocol.LevelSample{
					RMS:       audio.RMS(frame.Samples),
					Peak:      audio.Peak(frame.Samples),
					Timestamp: time.Now(),
				})
			}
			if sealed = seg.Process(frame); sealed != nil {
				break capture
			}
		}
	}

	if sealed == nil {
		c.toIdle(id, "no speech captured")
		return
	}

	// Release the device before the decode starts; transcription can take
	// longer than any capture buffer.
	source.Close()
	c.transcribe(ctx, id, sealed)
}

// transcribe submits the sealed segment and walks its update stream.
func (c *Controller) transcribe(ctx context.Context, id uint64, seg *vad.Segment) {
	c.setState(id, StateTranscribing, "")

	updates, err := c.deps.Orch.Submit(ctx, seg)
	if err != nil {
		c.toError(id, fmt.Sprintf("decode submit: %v", err))
		return
	}

	var final *decode.Update
	var lastPartial string
	for u := range updates {
		if u.Err != nil {
			// Whatever partial text arrived before the failure survives in
			// the ledger.
			if text := sanitize.Sanitize(lastPartial); text != "" {
				c.deps.Engine.Preserve(text)
			}
			c.toError(id, fmt.Sprintf("decode failed: %v", u.Err))
			return
		}
		if !u.Final {
			lastPartial = u.Text
		}
		tr := protocol.Transcript{
			SessionID: id,
			SegmentID: seg.ID,
			Text:      u.Text,
			Partial:   !u.Final,
			ElapsedMS: u.ElapsedMS,
			Timestamp: time.Now(),
		}
		c.deps.Sink.Transcript(tr)
		if u.Final {
			u := u
			final = &u
			c.metrics.decoded(time.Duration(u.ElapsedMS)*time.Millisecond, seg.Duration)
			c.recordEvent(id, "transcript.final", tr)
		}
	}

	if final == nil {
		// Stream closed without a final update: the job was cancelled.
		c.toIdle(id, "session cancelled")
		return
	}

	text := sanitize.Sanitize(final.Text)
	if text == "" {
		c.toIdle(id, "transcript was empty after sanitization")
		return
	}
	c.insertFinal(ctx, id, text)
}

// insertFinal pushes sanitized text through the insertion chain and ends
// the session.
func (c *Controller) insertFinal(ctx context.Context, id uint64, text string) {
	tx, err := c.deps.Engine.Insert(ctx, text, "")
	if err != nil {
		c.toError(id, fmt.Sprintf("insertion: %v", err))
		return
	}

	result := protocol.InsertionResult{
		TransactionID: tx.ID,
		SessionID:     id,
		Text:          tx.Text,
		TargetApp:     tx.TargetApp,
		Method:        string(tx.Method),
		Success:       tx.Success,
		Timestamp:     tx.Timestamp,
	}
	c.deps.Sink.InsertionResult(result)
	c.metrics.insertion(string(tx.Method), tx.Success)
	c.recordEvent(id, "insert.result", result)

	c.setState(id, StateInserted, string(tx.Method))
	c.toIdle(id, "")
}

func (c *Controller) setState(id uint64, state State, msg string) {
	c.mu.Lock()
	c.setStateLocked(id, state, msg)
	c.mu.Unlock()
}

// setStateLocked publishes the transition while holding the state lock so
// observers never see transitions out of order.
func (c *Controller) setStateLocked(id uint64, state State, msg string) {
	c.state = state
	c.lastMsg = msg
	c.publishState(id, state, msg)
}

func (c *Controller) publishState(id uint64, state State, msg string) {
	sc := protocol.StateChange{
		SessionID: id,
		State:     state.String(),
		Message:   msg,
		Timestamp: time.Now(),
	}
	c.deps.Sink.StateChanged(sc)
	c.recordEvent(id, "session.state", sc)
	c.log.Info("session state",
		slog.Uint64("session", id),
		slog.String("state", state.String()))
}

func (c *Controller) toIdle(id uint64, msg string) {
	c.setState(id, StateIdle, msg)
}

func (c *Controller) toError(id uint64, msg string) {
	c.log.Error("session error", slog.Uint64("session", id), slog.String("error", msg))
	c.metrics.sessionErrored()
	c.setState(id, StateError, msg)
	if c.cfg.Notify.Enabled {
		if err := beeep.Notify("Dictation failed", msg, ""); err != nil {
			c.log.Debug("notification failed", slog.String("error", err.Error()))
		}
	}
}

func (c *Controller) recordSession(id uint64, modelID, quality string) {
	if c.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := c.deps.Store.AppendSession(ctx, eventstore.Session{
		ID:      id,
		ModelID: modelID,
		Quality: quality,
	})
	if err != nil {
		c.log.Warn("record session failed", slog.String("error", err.Error()))
	}
}

func (c *Controller) recordEvent(id uint64, eventType string, payload any) {
	if c.deps.Store == nil || id == 0 {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.deps.Store.AppendEvent(ctx, eventstore.Event{
		SessionID: id,
		Type:      eventType,
		Payload:   data,
	}); err != nil {
		c.log.Warn("record event failed", slog.String("error", err.Error()))
	}
}

func captureMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "microphone permission denied, grant input access and retry"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return fmt.Sprintf("audio device unavailable: %v", err)
	default:
		return fmt.Sprintf("capture failed: %v", err)
	}
}
