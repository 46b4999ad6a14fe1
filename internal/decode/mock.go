package decode

import (
	"context"
	"fmt"
)

type mockTranscriber struct{}

// NewMockTranscriber returns a transcriber that fabricates plausible text
// proportional to the audio length. Used in mock mode and by tests.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(ctx context.Context, pcm []int16, sampleRate int, profile Profile) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(pcm) == 0 || sampleRate <= 0 {
		return Result{NoSpeechProb: 1}, nil
	}
	ms := len(pcm) * 1000 / sampleRate
	return Result{
		Text:       fmt.Sprintf("mock %s transcript covering %d milliseconds", profile.Name, ms),
		Confidence: 0.9,
	}, nil
}
