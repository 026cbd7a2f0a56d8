package gateway

import (
	"errors"
	"time"

	"github.com/projecthorus/horus-utils/internal/metrics"
	"github.com/projecthorus/horus-utils/internal/packets"
)

// Error texts are broadcast verbatim in ERROR messages.
var (
	ErrTxQueueFull        = errors.New("TX Queue is full.")
	ErrReservationFull    = errors.New("TX-after-RX Queue is full.")
	ErrReservationTimeout = errors.New("TX-after-RX packet timed-out.")
	ErrSettingsQueueFull  = errors.New("Settings Queue is full.")
	ErrInvalidFrequency   = errors.New("Invalid operating frequency.")
	ErrInvalidDestination = errors.New("Invalid destination.")
	ErrEmptyPayload       = errors.New("Empty TX payload.")
)

// Enqueue appends a frame to the immediate TX queue and returns the new
// queue size.
func (a *Arbiter) Enqueue(payload []byte) (int, error) {
	if len(payload) == 0 {
		return len(a.txq), ErrEmptyPayload
	}
	select {
	case a.txq <- clone(payload):
		metrics.TxQueueDepth.Set(float64(len(a.txq)))
		return len(a.txq), nil
	default:
		metrics.QueueDrops.WithLabelValues("tx").Inc()
		return len(a.txq), ErrTxQueueFull
	}
}

// Reserve holds payload until the next telemetry frame from dest, for at
// most timeout. Only one reservation is held at a time.
func (a *Arbiter) Reserve(payload []byte, dest int, timeout time.Duration) (int, error) {
	if len(payload) == 0 {
		return len(a.txq), ErrEmptyPayload
	}
	if dest < 0 || dest >= packets.BroadcastID {
		return len(a.txq), ErrInvalidDestination
	}
	d, err := packets.Specific(uint8(dest))
	if err != nil {
		return len(a.txq), ErrInvalidDestination
	}
	ok := a.reservation.Offer(Reservation{
		Payload:     clone(payload),
		Destination: d,
		Deadline:    a.opts.Now().Add(timeout),
	})
	if !ok {
		metrics.QueueDrops.WithLabelValues("reservation").Inc()
		return len(a.txq), ErrReservationFull
	}
	return len(a.txq), nil
}

// StageFrequency queues a frequency change. The range is checked when the
// radio loop applies it.
func (a *Arbiter) StageFrequency(mhz float64) error {
	return a.stage(frequencyChange{mhz: mhz})
}

// LowPriorityUpdate changes any subset of the uplink settings. Nil fields
// are left alone.
type LowPriorityUpdate struct {
	Callsign *string
	// Destination is a payload id, 255 for broadcast or -1 to clear.
	Destination *int
	Payload     *[]byte
	// Reset drops any held slot and allows an immediate re-request.
	Reset bool
}

func (a *Arbiter) StageLowPriority(u LowPriorityUpdate) error {
	c := lowPriorityChange{reset: u.Reset}
	if u.Callsign != nil {
		cs := normalizeCallsign(*u.Callsign)
		c.callsign = &cs
	}
	if u.Destination != nil {
		d, has, err := parseUplinkDestination(*u.Destination)
		if err != nil {
			return err
		}
		c.setDestination = true
		c.destination = d
		c.hasDestination = has
	}
	if u.Payload != nil {
		p := clone(*u.Payload)
		c.payload = &p
	}
	return a.stage(c)
}

func (a *Arbiter) stage(s setting) error {
	select {
	case a.settings <- s:
		return nil
	default:
		metrics.QueueDrops.WithLabelValues("settings").Inc()
		return ErrSettingsQueueFull
	}
}

// QueueSize is the number of frames waiting in the TX queue.
func (a *Arbiter) QueueSize() int { return len(a.txq) }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
