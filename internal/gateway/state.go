package gateway

import (
	"strings"

	"github.com/projecthorus/horus-utils/internal/packets"
	"github.com/projecthorus/horus-utils/internal/slots"
)

// unsetCallsign is accepted from clients as an alias for no callsign.
const unsetCallsign = "blank"

// State is the uplink state owned by the radio loop.
type State struct {
	Frequency float64
	Slots     slots.Tracker
	// Callsign is empty while unset.
	Callsign string
	// Destination is the payload low-priority traffic and slot requests go
	// to. Only meaningful when HasDestination is set.
	Destination    packets.Destination
	HasDestination bool
	// LowPriority is sent in our uplink slot. Empty inhibits sending.
	LowPriority []byte
}

// UplinkDestination is the destination as reported on the bus, -1 when unset.
func (s State) UplinkDestination() int {
	if !s.HasDestination {
		return -1
	}
	return int(s.Destination.Byte())
}

// fromDestination reports whether a frame sent by payload id came from the
// configured destination.
func (s State) fromDestination(id byte) bool {
	return s.HasDestination && s.Destination.Matches(id)
}

func normalizeCallsign(c string) string {
	c = strings.TrimSpace(c)
	if c == unsetCallsign {
		return ""
	}
	return c
}

// parseUplinkDestination maps a client supplied destination to state.
// -1 clears it, 0..255 sets it, anything else is rejected.
func parseUplinkDestination(n int) (packets.Destination, bool, error) {
	if n == -1 {
		return packets.Destination{}, false, nil
	}
	d, err := packets.ParseDestination(n)
	if err != nil {
		return packets.Destination{}, false, ErrInvalidDestination
	}
	return d, true, nil
}
