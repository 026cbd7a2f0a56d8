package packets

import (
	"fmt"
	"strings"
)

const (
	slotRequestLen = 13
	callsignLen    = 9
)

// SlotRequest asks a payload for an uplink timeslot. The payload answers
// with the same frame carrying a non-zero SlotID.
type SlotRequest struct {
	Flags Flags
	// SourceID is the destination of a request, or the granting payload of
	// a response.
	SourceID uint8
	Callsign string
	SlotID   uint8
}

func (s SlotRequest) IsResponse() bool { return s.SlotID != 0 }

// EncodeSlotRequest builds a request for a slot from dest.
func EncodeSlotRequest(dest Destination, callsign string) []byte {
	return EncodeSlotResponse(dest, callsign, 0)
}

// EncodeSlotResponse builds the reply granting slot to callsign.
func EncodeSlotResponse(dest Destination, callsign string, slot uint8) []byte {
	b := make([]byte, slotRequestLen)
	b[0] = byte(TypeSlotRequest)
	b[2] = dest.Byte()
	putCallsign(b[3:3+callsignLen], callsign)
	b[12] = slot
	return b
}

func DecodeSlotRequest(b []byte) (SlotRequest, error) {
	if err := expectType(b, TypeSlotRequest); err != nil {
		return SlotRequest{}, fmt.Errorf("slot request: %w", err)
	}
	if err := expectLen("slot request", b, slotRequestLen); err != nil {
		return SlotRequest{}, err
	}
	return SlotRequest{
		Flags:    ParseFlags(b[1]),
		SourceID: b[2],
		Callsign: trimCallsign(b[3 : 3+callsignLen]),
		SlotID:   b[12],
	}, nil
}

// putCallsign copies up to len(dst) bytes of s, zero filling the rest.
func putCallsign(dst []byte, s string) {
	n := copy(dst, s)
	clear(dst[n:])
}

func trimCallsign(b []byte) string {
	return strings.TrimRight(string(b), " \t\r\n\x00")
}
