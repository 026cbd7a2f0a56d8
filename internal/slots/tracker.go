// Package slots tracks this ground station's uplink timeslot on a payload.
//
// A station starts Unassigned, asks the payload for a slot whenever the
// payload opens slot 0 (subject to a holdoff), and becomes Assigned once the
// payload answers with a slot id for its callsign. It falls back to
// Unassigned if the payload's telemetry shows fewer slots in use than the one
// held, which means the payload has rebooted or reset its slot table.
package slots

import "math/rand/v2"

const (
	// Unassigned is the slot id of a station without an uplink slot.
	Unassigned = -1
	// RequestHoldoff is the number of slot-0 openings skipped after a request.
	RequestHoldoff = 2
	maxBackoff     = 3
)

type Phase int

const (
	PhaseUnassigned Phase = iota
	PhaseRequesting
	PhaseAssigned
)

func (p Phase) String() string {
	switch p {
	case PhaseUnassigned:
		return "unassigned"
	case PhaseRequesting:
		return "requesting"
	case PhaseAssigned:
		return "assigned"
	default:
		return "unknown"
	}
}

// Tracker is a value type owned by the radio loop.
type Tracker struct {
	Slot    int
	Holdoff int
}

func New() Tracker { return Tracker{Slot: Unassigned} }

func (t Tracker) Assigned() bool { return t.Slot != Unassigned }

func (t Tracker) Phase() Phase {
	switch {
	case t.Assigned():
		return PhaseAssigned
	case t.Holdoff > 0:
		return PhaseRequesting
	default:
		return PhaseUnassigned
	}
}

// CanRequest reports whether a slot request may go out now.
func (t Tracker) CanRequest() bool { return !t.Assigned() && t.Holdoff == 0 }

// Stale reports whether telemetry with usedTimeslots proves the held slot
// no longer exists.
func (t Tracker) Stale(usedTimeslots int) bool {
	return t.Assigned() && usedTimeslots < t.Slot
}

// InSlot reports whether the payload's current timeslot is ours.
func (t Tracker) InSlot(currentTimeslot int) bool {
	return t.Assigned() && currentTimeslot == t.Slot
}

// MarkRequested records that a request was sent.
func (t *Tracker) MarkRequested() { t.Holdoff = RequestHoldoff }

// Tick consumes one holdoff cycle.
func (t *Tracker) Tick() {
	if t.Holdoff > 0 {
		t.Holdoff--
	}
}

func (t *Tracker) Adopt(slot int) { t.Slot = slot }

// Release drops the held slot and keeps the current holdoff.
func (t *Tracker) Release() { t.Slot = Unassigned }

// Reset drops any slot and allows an immediate re-request.
func (t *Tracker) Reset() {
	t.Slot = Unassigned
	t.Holdoff = 0
}

// Backoff delays the next request by n cycles.
func (t *Tracker) Backoff(n int) { t.Holdoff = n }

// RandomBackoff picks a holdoff in 1..3 so competing stations desynchronise.
func RandomBackoff(r *rand.Rand) int { return r.IntN(maxBackoff) + 1 }
