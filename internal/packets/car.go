package packets

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

const (
	carBodyLen = 21
	// CarMessageMaxLen bounds the free-text tail of a car telemetry frame.
	CarMessageMaxLen = 20
	// CarMaxSpeed is in kph.
	CarMaxSpeed = 110
)

// CarTelemetry is a chase car position report, relayed by payloads.
type CarTelemetry struct {
	Flags     Flags
	SourceID  uint8
	Callsign  string
	Latitude  float32
	Longitude float32
	Speed     uint8
	Message   string
}

// EncodeCarTelemetry clamps speed to 0..110 kph and the message to 20 bytes.
// An empty message is sent as a single space.
func EncodeCarTelemetry(dest Destination, callsign string, lat, lon float32, speed int, message string) []byte {
	msg := []byte(message)
	switch {
	case len(msg) > CarMessageMaxLen:
		msg = msg[:CarMessageMaxLen]
	case len(msg) == 0:
		msg = []byte(" ")
	}
	be := binary.BigEndian
	b := make([]byte, carBodyLen, carBodyLen+len(msg))
	b[0] = byte(TypeCarTelemetry)
	b[2] = dest.Byte()
	putCallsign(b[3:3+callsignLen], callsign)
	be.PutUint32(b[12:16], math.Float32bits(lat))
	be.PutUint32(b[16:20], math.Float32bits(lon))
	b[20] = clampByte(speed, CarMaxSpeed)
	return append(b, msg...)
}

func DecodeCarTelemetry(b []byte) (CarTelemetry, error) {
	if err := expectType(b, TypeCarTelemetry); err != nil {
		return CarTelemetry{}, fmt.Errorf("car telemetry: %w", err)
	}
	if len(b) < carBodyLen+1 {
		return CarTelemetry{}, fmt.Errorf("car telemetry: %w: got %d bytes", ErrTruncated, len(b))
	}
	be := binary.BigEndian
	return CarTelemetry{
		Flags:     ParseFlags(b[1]),
		SourceID:  b[2],
		Callsign:  trimCallsign(b[3 : 3+callsignLen]),
		Latitude:  math.Float32frombits(be.Uint32(b[12:16])),
		Longitude: math.Float32frombits(be.Uint32(b[16:20])),
		Speed:     b[20],
		Message:   strings.TrimRight(string(b[carBodyLen:]), "\t\r\n\x00"),
	}, nil
}
