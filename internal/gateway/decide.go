package gateway

import (
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
)

// Timing holds the settle delays between hearing a payload and answering it.
type Timing struct {
	// TxAfterRx is waited before a reserved reply.
	TxAfterRx time.Duration
	// LowPriority is waited before slot requests and low-priority frames.
	LowPriority time.Duration
}

var DefaultTiming = Timing{
	TxAfterRx:   200 * time.Millisecond,
	LowPriority: 2350 * time.Millisecond,
}

// Observation is one received frame as seen by the decision logic.
type Observation struct {
	Payload []byte
	CRCOK   bool
	At      time.Time
}

// telemetry decodes the frame if it is an intact telemetry frame.
func (o Observation) telemetry() (packets.Telemetry, bool) {
	if !o.CRCOK {
		return packets.Telemetry{}, false
	}
	t, err := packets.DecodeTelemetry(o.Payload)
	if err != nil {
		return packets.Telemetry{}, false
	}
	return t, true
}

type Action int

const (
	ActionNone Action = iota
	// ActionReply sends the reserved frame and clears the reservation.
	ActionReply
	ActionKeepReservation
	// ActionExpireReservation drops the reservation and reports it.
	ActionExpireReservation
	ActionRequestSlot
	// ActionHoldoff consumes one holdoff cycle.
	ActionHoldoff
	ActionReleaseSlot
	ActionSendLowPriority
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionReply:
		return "reply"
	case ActionKeepReservation:
		return "keep_reservation"
	case ActionExpireReservation:
		return "expire_reservation"
	case ActionRequestSlot:
		return "request_slot"
	case ActionHoldoff:
		return "holdoff"
	case ActionReleaseSlot:
		return "release_slot"
	case ActionSendLowPriority:
		return "send_low_priority"
	default:
		return "unknown"
	}
}

// Decision is what the radio loop should do after a received frame.
// Frame, when set, is transmitted after Delay.
type Decision struct {
	Action Action
	Delay  time.Duration
	Frame  []byte
}

// Decide picks at most one transmit source for a received frame. Rules are
// evaluated in priority order and the first one whose preconditions hold
// wins: a pending reservation, then a slot request, then the low-priority
// frame. Decide does not modify its arguments.
func Decide(st State, res *Reservation, obs Observation, timing Timing) Decision {
	tlm, isTelemetry := obs.telemetry()
	if !isTelemetry {
		return Decision{}
	}

	if res != nil {
		switch {
		case res.Destination.Matches(tlm.PayloadID):
			return Decision{Action: ActionReply, Delay: timing.TxAfterRx, Frame: res.Payload}
		case res.Expired(obs.At):
			return Decision{Action: ActionExpireReservation}
		default:
			return Decision{Action: ActionKeepReservation}
		}
	}

	if !st.Slots.Assigned() && st.Callsign != "" &&
		st.fromDestination(tlm.PayloadID) && tlm.CurrentTimeslot() == 0 {
		if !st.Slots.CanRequest() {
			return Decision{Action: ActionHoldoff}
		}
		return Decision{
			Action: ActionRequestSlot,
			Delay:  timing.LowPriority,
			Frame:  packets.EncodeSlotRequest(st.Destination, st.Callsign),
		}
	}

	if st.Slots.Assigned() && len(st.LowPriority) > 0 && st.fromDestination(tlm.PayloadID) {
		switch {
		case st.Slots.Stale(tlm.UsedTimeslots()):
			return Decision{Action: ActionReleaseSlot}
		case st.Slots.InSlot(tlm.CurrentTimeslot()):
			return Decision{Action: ActionSendLowPriority, Delay: timing.LowPriority, Frame: st.LowPriority}
		}
	}
	return Decision{}
}

type SlotOutcome int

const (
	SlotIgnored SlotOutcome = iota
	// SlotAdopted means the payload granted us a slot.
	SlotAdopted
	// SlotContended means the payload granted a slot to another station.
	SlotContended
)

// ObserveSlotResponse inspects a received frame for a slot grant from the
// configured destination. It runs after Decide regardless of its outcome.
func ObserveSlotResponse(st State, obs Observation) (SlotOutcome, int) {
	if !obs.CRCOK {
		return SlotIgnored, 0
	}
	resp, err := packets.DecodeSlotRequest(obs.Payload)
	if err != nil || !resp.IsResponse() || !st.fromDestination(resp.SourceID) {
		return SlotIgnored, 0
	}
	if st.Callsign != "" && resp.Callsign == st.Callsign {
		return SlotAdopted, int(resp.SlotID)
	}
	return SlotContended, 0
}
