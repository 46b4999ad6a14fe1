// Package hotkey bridges press/release style triggers into the session
// controller. The daemon itself does not grab a global hotkey; the control
// socket (or a platform-specific companion) reports presses here.
package hotkey

// Event is a trigger transition.
type Event int

const (
	EventPress Event = iota
	EventRelease
)

// Trigger fans trigger transitions into a channel the session controller
// drains. Sends never block: if a session is still tearing down when the
// next press arrives, the press is dropped rather than queued.
type Trigger struct {
	events chan Event
}

func NewTrigger() *Trigger {
	return &Trigger{events: make(chan Event, 1)}
}

// Events is the stream the session controller consumes.
func (t *Trigger) Events() <-chan Event { return t.events }

// Press reports the trigger being activated (hotkey down or toggle on).
func (t *Trigger) Press() { t.offer(EventPress) }

// Release reports the trigger being deactivated.
func (t *Trigger) Release() { t.offer(EventRelease) }

func (t *Trigger) offer(ev Event) {
	select {
	case t.events <- ev:
	default:
	}
}
