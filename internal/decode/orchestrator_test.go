package decode

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/murmurlabs/murmur/internal/audio"
	"github.com/murmurlabs/murmur/internal/config"
	"github.com/murmurlabs/murmur/internal/vad"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeSegment(ms int) *vad.Segment {
	const rate = 16000
	samples := make([]int16, rate*ms/1000)
	for i := range samples {
		samples[i] = 1000
	}
	return &vad.Segment{
		ID:         "seg-test",
		Frames:     []audio.Frame{{Samples: samples}},
		SampleRate: rate,
		Duration:   time.Duration(ms) * time.Millisecond,
	}
}

type fakeTranscriber struct {
	calls   atomic.Int64
	results []Result
	errs    []error
	block   chan struct{}
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []int16, rate int, profile Profile) (Result, error) {
	n := int(f.calls.Add(1)) - 1
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if n < len(f.errs) && f.errs[n] != nil {
		return Result{}, f.errs[n]
	}
	if n < len(f.results) {
		return f.results[n], nil
	}
	return Result{Text: "fallthrough"}, nil
}

func baseConfig() config.DecodeConfig {
	cfg := config.Default().Decode
	cfg.PublishInterim = false
	cfg.RetryLowCoherence = false
	return cfg
}

func TestSubmitDeliversSingleFinal(t *testing.T) {
	ft := &fakeTranscriber{results: []Result{{Text: "hello world", Confidence: 0.9}}}
	o, err := NewOrchestratorWithTranscriber(baseConfig(), ft, newLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	updates, err := o.Submit(context.Background(), makeSegment(2000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var finals int
	var lastElapsed int64 = -1
	for u := range updates {
		if u.Err != nil {
			t.Fatalf("unexpected error update: %v", u.Err)
		}
		if u.ElapsedMS < lastElapsed {
			t.Fatalf("elapsed went backwards: %d < %d", u.ElapsedMS, lastElapsed)
		}
		lastElapsed = u.ElapsedMS
		if u.Final {
			finals++
			if u.Text != "hello world" {
				t.Fatalf("unexpected final text %q", u.Text)
			}
		}
	}
	if finals != 1 {
		t.Fatalf("expected exactly one final update, got %d", finals)
	}
}

func TestInterimPrecedesFinal(t *testing.T) {
	cfg := baseConfig()
	cfg.PublishInterim = true
	cfg.InterimHeadMS = 1000
	ft := &fakeTranscriber{results: []Result{{Text: "partial head"}, {Text: "full transcript"}}}
	o, err := NewOrchestratorWithTranscriber(cfg, ft, newLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	updates, err := o.Submit(context.Background(), makeSegment(5000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	var got []Update
	for u := range updates {
		got = append(got, u)
	}
	if len(got) != 2 {
		t.Fatalf("expected partial then final, got %d updates", len(got))
	}
	if got[0].Final || got[0].Text != "partial head" {
		t.Fatalf("expected partial first, got %+v", got[0])
	}
	if !got[1].Final || got[1].Text != "full transcript" {
		t.Fatalf("expected final last, got %+v", got[1])
	}
}

func TestCancelSuppressesUpdates(t *testing.T) {
	ft := &fakeTranscriber{block: make(chan struct{})}
	o, err := NewOrchestratorWithTranscriber(baseConfig(), ft, newLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := o.Submit(ctx, makeSegment(2000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cancel()

	// The closed channel acknowledges cancellation; no update may arrive.
	select {
	case u, ok := <-updates:
		if ok {
			t.Fatalf("received update after cancel: %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update stream not closed after cancel")
	}
}

func TestSingleJobInFlight(t *testing.T) {
	ft := &fakeTranscriber{block: make(chan struct{})}
	o, err := NewOrchestratorWithTranscriber(baseConfig(), ft, newLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := o.Submit(ctx, makeSegment(1000)); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := o.Submit(ctx, makeSegment(1000)); !errors.Is(err, ErrJobInFlight) {
		t.Fatalf("expected ErrJobInFlight, got %v", err)
	}
	close(ft.block)
}

func TestLowCoherenceRetry(t *testing.T) {
	cfg := baseConfig()
	cfg.RetryLowCoherence = true
	cfg.NoSpeechThreshold = 0.6
	ft := &fakeTranscriber{results: []Result{
		{Text: "garbled", NoSpeechProb: 0.9},
		{Text: "clean retry", NoSpeechProb: 0.1},
	}}
	o, err := NewOrchestratorWithTranscriber(cfg, ft, newLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	updates, err := o.Submit(context.Background(), makeSegment(2000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var final Update
	for u := range updates {
		if u.Final {
			final = u
		}
	}
	if final.Text != "clean retry" {
		t.Fatalf("expected retried text, got %q", final.Text)
	}
	if ft.calls.Load() != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", ft.calls.Load())
	}
}

func TestRepetitionRatio(t *testing.T) {
	if r := repetitionRatio("the the the the the the"); r < 0.5 {
		t.Fatalf("expected high repetition ratio, got %f", r)
	}
	if r := repetitionRatio("each word here is distinct entirely"); r != 0 {
		t.Fatalf("expected zero repetition ratio, got %f", r)
	}
	if r := repetitionRatio("too short"); r != 0 {
		t.Fatalf("short text should not be flagged, got %f", r)
	}
}

func TestDecodeFailureSurfaces(t *testing.T) {
	ft := &fakeTranscriber{errs: []error{errors.New("backend exploded")}}
	o, err := NewOrchestratorWithTranscriber(baseConfig(), ft, newLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(o.Close)

	updates, err := o.Submit(context.Background(), makeSegment(2000))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	var sawErr bool
	for u := range updates {
		if u.Err != nil {
			sawErr = true
		}
		if u.Final {
			t.Fatal("failed job must not emit a final update")
		}
	}
	if !sawErr {
		t.Fatal("expected terminal error update")
	}
}
