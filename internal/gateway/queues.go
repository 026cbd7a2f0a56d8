package gateway

import (
	"sync"
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
)

// Reservation is a frame to send right after the next telemetry frame heard
// from Destination, provided that happens before Deadline.
type Reservation struct {
	Payload     []byte
	Destination packets.Destination
	Deadline    time.Time
}

func (r Reservation) Expired(now time.Time) bool { return now.After(r.Deadline) }

// reservationSlot holds at most one Reservation.
type reservationSlot struct {
	mu sync.Mutex
	r  *Reservation
}

// Offer stores r unless a reservation is already held.
func (s *reservationSlot) Offer(r Reservation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r != nil {
		return false
	}
	s.r = &r
	return true
}

func (s *reservationSlot) Peek() (Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == nil {
		return Reservation{}, false
	}
	return *s.r, true
}

func (s *reservationSlot) Clear() {
	s.mu.Lock()
	s.r = nil
	s.mu.Unlock()
}

// setting is a runtime change applied by the radio loop between polls.
type setting interface {
	apply(a *Arbiter)
}

type frequencyChange struct {
	mhz float64
}

type lowPriorityChange struct {
	callsign       *string
	setDestination bool
	destination    packets.Destination
	hasDestination bool
	payload        *[]byte
	reset          bool
}
