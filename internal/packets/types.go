// Package packets encodes and decodes the binary frames exchanged with
// Horus payloads over LoRa.
//
// Every frame starts with a type byte and a flags byte. Most frame types
// carry a payload (or destination) id in the third byte.
package packets

import (
	"fmt"
	"strconv"
)

// MaxPayloadLength is the largest frame the radio can carry.
const MaxPayloadLength = 255

// PacketType is the first byte of every frame.
type PacketType uint8

const (
	TypeTelemetry      PacketType = 0
	TypeTextMessage    PacketType = 1
	TypeCutdown        PacketType = 2
	TypeParamChange    PacketType = 3
	TypeCommandAck     PacketType = 4
	TypeShortTelemetry PacketType = 5
	TypeSlotRequest    PacketType = 6
	TypeCarTelemetry   PacketType = 7
	TypeSSDVFEC        PacketType = 0x66
	TypeSSDVNoFEC      PacketType = 0x67
)

func (t PacketType) String() string {
	switch t {
	case TypeTelemetry:
		return "telemetry"
	case TypeTextMessage:
		return "text_message"
	case TypeCutdown:
		return "cutdown"
	case TypeParamChange:
		return "param_change"
	case TypeCommandAck:
		return "command_ack"
	case TypeShortTelemetry:
		return "short_telemetry"
	case TypeSlotRequest:
		return "slot_request"
	case TypeCarTelemetry:
		return "car_telemetry"
	case TypeSSDVFEC:
		return "ssdv_fec"
	case TypeSSDVNoFEC:
		return "ssdv_nofec"
	default:
		return "unknown(" + strconv.Itoa(int(t)) + ")"
	}
}

// Payload parameters addressable by a ParamChange command.
const (
	ParamPing        uint8 = 0
	ParamListenTime  uint8 = 1
	ParamTDMAMode    uint8 = 2
	ParamTDMASlot    uint8 = 3
	ParamPayloadID   uint8 = 4
	ParamNumPayloads uint8 = 5
	ParamResetSlots  uint8 = 6
)

// Flags is the second byte of every frame.
type Flags struct {
	// RepeaterID is set by a payload that repeated the frame.
	RepeaterID uint8
	Repeated   bool
}

// ParseFlags splits a flags byte into its fields.
func ParseFlags(b byte) Flags {
	return Flags{
		RepeaterID: b >> 4,
		Repeated:   b&0x01 == 1,
	}
}

// Byte packs the flags back into their wire form.
func (f Flags) Byte() byte {
	b := (f.RepeaterID & 0x0F) << 4
	if f.Repeated {
		b |= 0x01
	}
	return b
}

// BroadcastID is the destination byte addressing every payload.
const BroadcastID = 255

// Destination addresses a frame either to one payload or to all of them.
// The zero value is Specific(0).
type Destination struct {
	id        uint8
	broadcast bool
}

// Broadcast addresses every payload.
var Broadcast = Destination{id: BroadcastID, broadcast: true}

// Specific addresses a single payload. Id 255 is reserved for broadcast.
func Specific(id uint8) (Destination, error) {
	if id == BroadcastID {
		return Destination{}, fmt.Errorf("destination %d is the broadcast id", id)
	}
	return Destination{id: id}, nil
}

// ParseDestination validates an integer from an external source (config, bus).
func ParseDestination(n int) (Destination, error) {
	switch {
	case n == BroadcastID:
		return Broadcast, nil
	case n < 0 || n > BroadcastID:
		return Destination{}, fmt.Errorf("destination %d out of range 0..255", n)
	default:
		return Destination{id: uint8(n)}, nil
	}
}

// DestinationFromByte interprets a wire byte.
func DestinationFromByte(b byte) Destination {
	if b == BroadcastID {
		return Broadcast
	}
	return Destination{id: b}
}

func (d Destination) IsBroadcast() bool { return d.broadcast }

// ID returns the payload id, or false for Broadcast.
func (d Destination) ID() (uint8, bool) {
	if d.broadcast {
		return 0, false
	}
	return d.id, true
}

// Byte returns the wire encoding.
func (d Destination) Byte() byte {
	if d.broadcast {
		return BroadcastID
	}
	return d.id
}

// Matches reports whether a frame sent by payload id came from d.
// Broadcast never matches a received id.
func (d Destination) Matches(id byte) bool {
	return !d.broadcast && id != BroadcastID && d.id == id
}

func (d Destination) String() string {
	if d.broadcast {
		return "broadcast"
	}
	return "#" + strconv.Itoa(int(d.id))
}
