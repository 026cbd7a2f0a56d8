package packets

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	telemetryLen      = 26
	shortTelemetryLen = 16

	// rssiOffset converts the raw RSSI byte reported by a payload to dBm.
	rssiOffset = 164
)

// Telemetry is the full payload telemetry frame (26 bytes, little-endian).
type Telemetry struct {
	Flags       Flags
	PayloadID   uint8
	Counter     uint16
	Hour        uint8
	Minute      uint8
	Second      uint8
	Latitude    float32
	Longitude   float32
	Altitude    uint16
	Speed       uint8
	Sats        uint8
	Temp        uint8
	BatteryRaw  uint8
	PyroRaw     uint8
	RxPktCount  uint8
	RSSIRaw     uint8
	UplinkSlots uint8
}

// UsedTimeslots is the number of uplink slots the payload has handed out.
func (t Telemetry) UsedTimeslots() int { return int(t.UplinkSlots >> 4) }

// CurrentTimeslot is the uplink slot open right after this frame.
func (t Telemetry) CurrentTimeslot() int { return int(t.UplinkSlots & 0x0F) }

func (t Telemetry) BatteryVoltage() float64 { return 0.5 + 1.5*float64(t.BatteryRaw)/255.0 }

func (t Telemetry) PyroVoltage() float64 { return 5.0 * float64(t.PyroRaw) / 255.0 }

// RSSI is the payload's view of the uplink channel in dBm.
func (t Telemetry) RSSI() int { return int(t.RSSIRaw) - rssiOffset }

func (t Telemetry) SecondsInDay() int {
	return int(t.Hour)*3600 + int(t.Minute)*60 + int(t.Second)
}

// Time formats the GPS time as HH:MM:SS.
func (t Telemetry) Time() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// SlotByte packs used/current timeslot nibbles.
func SlotByte(used, current int) uint8 {
	return uint8(used&0x0F)<<4 | uint8(current&0x0F)
}

func DecodeTelemetry(b []byte) (Telemetry, error) {
	if err := expectType(b, TypeTelemetry); err != nil {
		return Telemetry{}, fmt.Errorf("telemetry: %w", err)
	}
	if err := expectLen("telemetry", b, telemetryLen); err != nil {
		return Telemetry{}, err
	}
	le := binary.LittleEndian
	return Telemetry{
		Flags:       ParseFlags(b[1]),
		PayloadID:   b[2],
		Counter:     le.Uint16(b[3:5]),
		Hour:        b[5],
		Minute:      b[6],
		Second:      b[7],
		Latitude:    math.Float32frombits(le.Uint32(b[8:12])),
		Longitude:   math.Float32frombits(le.Uint32(b[12:16])),
		Altitude:    le.Uint16(b[16:18]),
		Speed:       b[18],
		Sats:        b[19],
		Temp:        b[20],
		BatteryRaw:  b[21],
		PyroRaw:     b[22],
		RxPktCount:  b[23],
		RSSIRaw:     b[24],
		UplinkSlots: b[25],
	}, nil
}

func EncodeTelemetry(t Telemetry) []byte {
	le := binary.LittleEndian
	b := make([]byte, telemetryLen)
	b[0] = byte(TypeTelemetry)
	b[1] = t.Flags.Byte()
	b[2] = t.PayloadID
	le.PutUint16(b[3:5], t.Counter)
	b[5], b[6], b[7] = t.Hour, t.Minute, t.Second
	le.PutUint32(b[8:12], math.Float32bits(t.Latitude))
	le.PutUint32(b[12:16], math.Float32bits(t.Longitude))
	le.PutUint16(b[16:18], t.Altitude)
	b[18] = t.Speed
	b[19] = t.Sats
	b[20] = t.Temp
	b[21] = t.BatteryRaw
	b[22] = t.PyroRaw
	b[23] = t.RxPktCount
	b[24] = t.RSSIRaw
	b[25] = t.UplinkSlots
	return b
}

// ShortTelemetry is the compact frame sent by swarm trackers (16 bytes).
type ShortTelemetry struct {
	PayloadID  uint8
	Hour       uint8
	Minute     uint8
	Second     uint8
	Latitude   float32
	Longitude  float32
	Speed      uint8
	BatteryRaw uint8
	Sats       uint8
}

func (t ShortTelemetry) BatteryVoltage() float64 { return 0.5 + 1.5*float64(t.BatteryRaw)/255.0 }

func (t ShortTelemetry) Time() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

func DecodeShortTelemetry(b []byte) (ShortTelemetry, error) {
	if err := expectType(b, TypeShortTelemetry); err != nil {
		return ShortTelemetry{}, fmt.Errorf("short telemetry: %w", err)
	}
	if err := expectLen("short telemetry", b, shortTelemetryLen); err != nil {
		return ShortTelemetry{}, err
	}
	le := binary.LittleEndian
	return ShortTelemetry{
		PayloadID:  b[1],
		Hour:       b[2],
		Minute:     b[3],
		Second:     b[4],
		Latitude:   math.Float32frombits(le.Uint32(b[5:9])),
		Longitude:  math.Float32frombits(le.Uint32(b[9:13])),
		Speed:      b[13],
		BatteryRaw: b[14],
		Sats:       b[15],
	}, nil
}
