package types

import (
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
)

// SentenceCallsign prefixes the payload id in telemetry sentences.
const SentenceCallsign = "HORUSLORA"

// Telemetry is a decoded payload telemetry frame as published to the MQTT
// mirror and the last-known state store.
type Telemetry struct {
	PayloadID       int       `json:"payload_id"`
	ReceivedAt      time.Time `json:"received_at"`
	Counter         int       `json:"counter"`
	Time            string    `json:"time"`
	Latitude        float64   `json:"latitude"`
	Longitude       float64   `json:"longitude"`
	Altitude        int       `json:"altitude"`
	Speed           int       `json:"speed"`
	Sats            int       `json:"sats"`
	Temp            int       `json:"temp"`
	BatteryVoltage  float64   `json:"battery_voltage"`
	PyroVoltage     float64   `json:"pyro_voltage"`
	RxPktCount      int       `json:"rx_pkt_count"`
	UplinkRSSI      int       `json:"uplink_rssi"`
	UsedTimeslots   int       `json:"used_timeslots"`
	CurrentTimeslot int       `json:"current_timeslot"`
	RSSI            int       `json:"rssi"`
	SNR             float64   `json:"snr"`
	Sentence        string    `json:"sentence"`
}

// TelemetryFromRx decodes an RXPKT carrying an intact telemetry frame.
func TelemetryFromRx(rx RxPacket, receivedAt time.Time) (Telemetry, bool) {
	if !rx.PktFlags.CRCOK() {
		return Telemetry{}, false
	}
	t, err := packets.DecodeTelemetry(rx.Payload)
	if err != nil {
		return Telemetry{}, false
	}
	return Telemetry{
		PayloadID:       int(t.PayloadID),
		ReceivedAt:      receivedAt.UTC(),
		Counter:         int(t.Counter),
		Time:            t.Time(),
		Latitude:        float64(t.Latitude),
		Longitude:       float64(t.Longitude),
		Altitude:        int(t.Altitude),
		Speed:           int(t.Speed),
		Sats:            int(t.Sats),
		Temp:            int(t.Temp),
		BatteryVoltage:  t.BatteryVoltage(),
		PyroVoltage:     t.PyroVoltage(),
		RxPktCount:      int(t.RxPktCount),
		UplinkRSSI:      t.RSSI(),
		UsedTimeslots:   t.UsedTimeslots(),
		CurrentTimeslot: t.CurrentTimeslot(),
		RSSI:            rx.RSSI,
		SNR:             rx.SNR,
		Sentence:        packets.TelemetrySentence(t, SentenceCallsign, int(t.PayloadID)),
	}, true
}
