package types

import (
	"strings"
	"testing"
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
	"github.com/projecthorus/horus-utils/internal/radio"
)

func TestTelemetryFromRx(t *testing.T) {
	frame := packets.EncodeTelemetry(packets.Telemetry{
		PayloadID:   4,
		Counter:     321,
		Hour:        1,
		Minute:      2,
		Second:      3,
		Latitude:    -34.5,
		Longitude:   138.5,
		Altitude:    12000,
		Sats:        9,
		Temp:        236,
		UplinkSlots: packets.SlotByte(3, 1),
	})
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	got, ok := TelemetryFromRx(RxPacket{Payload: frame, RSSI: -97, SNR: 8}, at)
	if !ok {
		t.Fatal("TelemetryFromRx() ok = false")
	}
	if got.PayloadID != 4 || got.Counter != 321 || got.Time != "01:02:03" || got.Temp != 236 {
		t.Errorf("decoded = %+v", got)
	}
	if got.UsedTimeslots != 3 || got.CurrentTimeslot != 1 {
		t.Errorf("slots = %d/%d", got.UsedTimeslots, got.CurrentTimeslot)
	}
	if got.RSSI != -97 || got.SNR != 8 || !got.ReceivedAt.Equal(at) {
		t.Errorf("reception fields = %d/%v/%v", got.RSSI, got.SNR, got.ReceivedAt)
	}
	if !strings.HasPrefix(got.Sentence, "$$HORUSLORA4,321,01:02:03,") {
		t.Errorf("sentence = %q", got.Sentence)
	}

	if _, ok := TelemetryFromRx(RxPacket{Payload: frame, PktFlags: radio.IRQFlags{CRCError: 1}}, at); ok {
		t.Error("accepted a frame with a CRC error")
	}
	if _, ok := TelemetryFromRx(RxPacket{Payload: []byte{1, 0, 4}}, at); ok {
		t.Error("accepted a non telemetry frame")
	}
}
