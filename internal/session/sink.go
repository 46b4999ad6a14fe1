package session

import (
	"github.com/murmurlabs/murmur/internal/bus"
	"github.com/murmurlabs/murmur/internal/protocol"
)

// EventSink receives session lifecycle events. The controller publishes
// through this interface so tests can collect events without a bus.
type EventSink interface {
	StateChanged(protocol.StateChange)
	Transcript(protocol.Transcript)
	InsertionResult(protocol.InsertionResult)
	Level(protocol.LevelSample)
}

// BusSink publishes session events on the message bus.
type BusSink struct {
	client *bus.Client
}

func NewBusSink(client *bus.Client) *BusSink {
	return &BusSink{client: client}
}

func (b *BusSink) StateChanged(sc protocol.StateChange) {
	b.client.PublishJSON(protocol.SubjectSessionState, sc)
}

func (b *BusSink) Transcript(tr protocol.Transcript) {
	subject := protocol.SubjectTranscriptFinal
	if tr.Partial {
		subject = protocol.SubjectTranscriptPartial
	}
	b.client.PublishJSON(subject, tr)
}

func (b *BusSink) InsertionResult(ir protocol.InsertionResult) {
	b.client.PublishJSON(protocol.SubjectInsertResult, ir)
}

func (b *BusSink) Level(ls protocol.LevelSample) {
	b.client.PublishJSON(protocol.SubjectAudioLevel, ls)
}
