package control

import (
	"encoding/json"

	"github.com/murmurlabs/murmur/internal/insert"
	"github.com/murmurlabs/murmur/internal/model"
	"github.com/murmurlabs/murmur/internal/session"
	"github.com/murmurlabs/murmur/internal/settings"
)

// Command is one NDJSON request from a client.
type Command struct {
	Cmd    string          `json:"cmd"`
	Mode   string          `json:"mode,omitempty"`
	Text   string          `json:"text,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Model  string          `json:"model,omitempty"`
	Tuning *settings.Patch `json:"tuning,omitempty"`
}

// Response answers one command.
type Response struct {
	OK          bool                 `json:"ok"`
	Error       string               `json:"error,omitempty"`
	SessionID   uint64               `json:"session_id,omitempty"`
	Status      *session.Status      `json:"status,omitempty"`
	Transaction *insert.Transaction  `json:"transaction,omitempty"`
	Undo        *insert.UndoResult   `json:"undo,omitempty"`
	Recent      []insert.Transaction `json:"recent,omitempty"`
	Tuning      *TuningView          `json:"tuning,omitempty"`
	Models      []model.Info         `json:"models,omitempty"`
}

// Event is streamed to subscribed clients. Payload carries the bus message
// verbatim.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TuningView is the wire shape of the tunable snapshot, durations in ms.
type TuningView struct {
	Threshold      float64 `json:"threshold"`
	ReleaseRatio   float64 `json:"release_ratio"`
	StartFrames    int     `json:"start_frames"`
	ReleaseTailMS  int64   `json:"release_tail_ms"`
	MaxUtteranceMS int64   `json:"max_utterance_ms"`
	Smoothing      float64 `json:"smoothing"`
	Quality        string  `json:"quality"`
}

func tuningView(s settings.Snapshot) *TuningView {
	return &TuningView{
		Threshold:      s.VAD.Threshold,
		ReleaseRatio:   s.VAD.ReleaseRatio,
		StartFrames:    s.VAD.StartFrames,
		ReleaseTailMS:  s.VAD.ReleaseTail.Milliseconds(),
		MaxUtteranceMS: s.VAD.MaxUtterance.Milliseconds(),
		Smoothing:      s.VAD.Smoothing,
		Quality:        s.Quality,
	}
}
