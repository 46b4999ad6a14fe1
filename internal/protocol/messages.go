package protocol

import "time"

// StateChange announces a session lifecycle transition.
type StateChange struct {
	SessionID uint64    `json:"session_id"`
	State     string    `json:"state"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript carries decoded text for one utterance segment.
type Transcript struct {
	SessionID uint64    `json:"session_id"`
	SegmentID string    `json:"segment_id"`
	Text      string    `json:"text"`
	Partial   bool      `json:"partial"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// InsertionResult mirrors the ledger transaction for one delivery attempt chain.
type InsertionResult struct {
	TransactionID string    `json:"transaction_id"`
	SessionID     uint64    `json:"session_id,omitempty"`
	Text          string    `json:"text"`
	TargetApp     string    `json:"target_app,omitempty"`
	Method        string    `json:"method"`
	Success       bool      `json:"success"`
	Timestamp     time.Time `json:"timestamp"`
}

// LevelSample is a live microphone level reading for UI feedback.
type LevelSample struct {
	RMS       float64   `json:"rms"`
	Peak      float64   `json:"peak"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectSessionState      = "session.state"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectInsertResult      = "insert.result"
	SubjectAudioLevel        = "audio.level"
)
