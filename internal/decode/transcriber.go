package decode

import (
	"context"
)

// Result captures one transcriber pass over a segment's audio.
type Result struct {
	Text         string
	Confidence   float64
	NoSpeechProb float64
}

// Profile names a decode quality configuration and the extra command
// arguments that select it.
type Profile struct {
	Name string
	Args []string
}

// Transcriber abstracts decode backends. Implementations must stop promptly
// when ctx is canceled and must hold no cross-call state, so a canceled job
// cannot corrupt the next one.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []int16, sampleRate int, profile Profile) (Result, error)
}
