package vad

import (
	"testing"
	"time"

	"github.com/murmurlabs/murmur/internal/audio"
)

const (
	testSampleRate = 16000
	testFrameDur   = 20 * time.Millisecond
)

func testTunables() Tunables {
	return Tunables{
		Threshold:    0.015,
		ReleaseRatio: 0.6,
		StartFrames:  3,
		ReleaseTail:  100 * time.Millisecond,
		MaxUtterance: time.Second,
		Smoothing:    0.3,
	}
}

// toneFrame builds a frame of constant amplitude whose RMS equals level.
func toneFrame(seq uint64, level float64) audio.Frame {
	samples := make([]int16, testSampleRate/50)
	amp := int16(level * 32767)
	for i := range samples {
		samples[i] = amp
	}
	return audio.Frame{Seq: seq, Samples: samples, Captured: time.Now()}
}

func feed(t *testing.T, s *Segmenter, level float64, n int, seq *uint64) *Segment {
	t.Helper()
	for i := 0; i < n; i++ {
		*seq++
		if seg := s.Process(toneFrame(*seq, level)); seg != nil {
			return seg
		}
	}
	return nil
}

func TestSilenceNeverSeals(t *testing.T) {
	s := NewSegmenter(testTunables(), testSampleRate, testFrameDur)
	var seq uint64
	if seg := feed(t, s, 0.001, 100, &seq); seg != nil {
		t.Fatalf("silence produced a segment: %+v", seg)
	}
	if s.State() != StateSilence {
		t.Fatalf("state = %s, want silence", s.State())
	}
}

func TestUtteranceSealsAfterReleaseTail(t *testing.T) {
	s := NewSegmenter(testTunables(), testSampleRate, testFrameDur)
	var seq uint64

	if seg := feed(t, s, 0.2, 10, &seq); seg != nil {
		t.Fatalf("sealed during speech: %+v", seg)
	}
	if s.State() != StateSpeaking {
		t.Fatalf("state = %s, want speaking", s.State())
	}

	seg := feed(t, s, 0.0, 40, &seq)
	if seg == nil {
		t.Fatal("expected a sealed segment after the release tail")
	}
	if seg.Reason != SealSilence {
		t.Fatalf("reason = %s, want silence", seg.Reason)
	}
	if len(seg.Frames) == 0 {
		t.Fatal("segment has no frames")
	}
	if seg.SampleRate != testSampleRate {
		t.Fatalf("sample rate = %d", seg.SampleRate)
	}
	if seg.ID == "" {
		t.Fatal("segment id is empty")
	}
	// The segmenter is reusable after sealing.
	if s.State() != StateSilence {
		t.Fatalf("state after seal = %s, want silence", s.State())
	}
}

func TestPrerollKeepsUtteranceOnset(t *testing.T) {
	tun := testTunables()
	s := NewSegmenter(tun, testSampleRate, testFrameDur)
	var seq uint64

	feed(t, s, 0.001, 20, &seq)
	feed(t, s, 0.2, 5, &seq)
	seg := feed(t, s, 0.0, 40, &seq)
	if seg == nil {
		t.Fatal("expected a sealed segment")
	}
	// The onset frames that triggered the transition are part of the segment.
	if len(seg.Frames) < tun.StartFrames {
		t.Fatalf("segment dropped the onset: %d frames", len(seg.Frames))
	}
}

func TestMaxUtteranceHardCap(t *testing.T) {
	tun := testTunables()
	s := NewSegmenter(tun, testSampleRate, testFrameDur)
	var seq uint64

	seg := feed(t, s, 0.2, 200, &seq)
	if seg == nil {
		t.Fatal("expected the hard cap to seal the segment")
	}
	if seg.Reason != SealMaxDuration {
		t.Fatalf("reason = %s, want max_duration", seg.Reason)
	}
	if seg.Duration > tun.MaxUtterance {
		t.Fatalf("duration %v exceeds cap %v", seg.Duration, tun.MaxUtterance)
	}
}

func TestSpeechResumesDuringTrailing(t *testing.T) {
	s := NewSegmenter(testTunables(), testSampleRate, testFrameDur)
	var seq uint64

	feed(t, s, 0.2, 10, &seq)
	// Drop into trailing, but not long enough to seal.
	for s.State() != StateTrailing {
		if seg := feed(t, s, 0.0, 1, &seq); seg != nil {
			t.Fatalf("sealed before trailing resumed: %+v", seg)
		}
	}
	if seg := feed(t, s, 0.2, 5, &seq); seg != nil {
		t.Fatalf("sealed despite resumed speech: %+v", seg)
	}
	if s.State() != StateSpeaking {
		t.Fatalf("state = %s, want speaking", s.State())
	}
}

func TestForceSealWithoutSpeech(t *testing.T) {
	s := NewSegmenter(testTunables(), testSampleRate, testFrameDur)
	var seq uint64
	feed(t, s, 0.001, 10, &seq)
	if seg := s.ForceSeal(SealStop); seg != nil {
		t.Fatalf("force seal without speech returned %+v", seg)
	}
}

func TestForceSealMidUtterance(t *testing.T) {
	s := NewSegmenter(testTunables(), testSampleRate, testFrameDur)
	var seq uint64
	feed(t, s, 0.2, 10, &seq)
	seg := s.ForceSeal(SealStop)
	if seg == nil {
		t.Fatal("expected a segment from force seal")
	}
	if seg.Reason != SealStop {
		t.Fatalf("reason = %s, want stop", seg.Reason)
	}
	if s.State() != StateSilence {
		t.Fatalf("state after force seal = %s", s.State())
	}
}

func TestSegmentPCMConcatenatesFrames(t *testing.T) {
	seg := &Segment{
		Frames: []audio.Frame{
			{Samples: []int16{1, 2}},
			{Samples: []int16{3, 4}},
		},
	}
	pcm := seg.PCM()
	if len(pcm) != 4 || pcm[0] != 1 || pcm[3] != 4 {
		t.Fatalf("unexpected pcm: %v", pcm)
	}
}
