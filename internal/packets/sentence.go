package packets

import (
	"fmt"
	"strconv"

	"github.com/projecthorus/horus-utils/internal/utils"
)

// CRC16CCITT is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection.
func CRC16CCITT(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for range 8 {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// TelemetrySentence renders t as a UKHAS style ASCII sentence terminated by
// "*CRC\n". A negative payloadID is left out of the callsign.
func TelemetrySentence(t Telemetry, callsign string, payloadID int) string {
	id := ""
	if payloadID >= 0 {
		id = strconv.Itoa(payloadID)
	}
	body := fmt.Sprintf("%s%s,%d,%s,%.5f,%.5f,%d,%d,%d,%.2f,%.2f,%d,%d",
		callsign, id, t.Counter, t.Time(), t.Latitude, t.Longitude, t.Altitude,
		t.Speed, t.Sats, t.BatteryVoltage(), t.PyroVoltage(), t.RSSI(), t.RxPktCount)
	return "$$" + body + "*" + utils.Hex4(CRC16CCITT([]byte(body))) + "\n"
}
