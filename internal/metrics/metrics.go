// Package metrics exposes Prometheus instruments for the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PacketsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "horus_lora_rx_packets_total",
		Help: "Frames received by the radio, by CRC result.",
	}, []string{"crc"})
	PacketsTransmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "horus_lora_tx_packets_total",
		Help: "Frames transmitted, by source.",
	}, []string{"source"})
	TransmitErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "horus_lora_tx_errors_total",
		Help: "Transmissions that failed or timed out.",
	})
	DecodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "horus_lora_decode_errors_total",
		Help: "Received frames that could not be decoded.",
	}, []string{"type"})
	QueueDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "horus_lora_queue_drops_total",
		Help: "Items dropped because a queue was full.",
	}, []string{"queue"})
	ReservationTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "horus_lora_reservation_timeouts_total",
		Help: "TX-after-RX reservations that expired.",
	})
	ChannelBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "horus_lora_channel_busy_total",
		Help: "Queued transmissions deferred because the channel was busy.",
	})
	BusCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "horus_bus_commands_total",
		Help: "Inbound UDP bus commands, by type.",
	}, []string{"type"})
	BusInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "horus_bus_invalid_datagrams_total",
		Help: "Inbound UDP datagrams that were not valid commands.",
	})
	SinkDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "horus_sink_drops_total",
		Help: "Bus events dropped before reaching the async sinks.",
	})
	RSSI = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "horus_lora_rssi_dbm",
		Help: "Channel RSSI at the last status poll.",
	})
	PacketRSSI = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "horus_lora_packet_rssi_dbm",
		Help: "RSSI of the last received frame.",
	})
	PacketSNR = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "horus_lora_packet_snr_db",
		Help: "SNR of the last received frame.",
	})
	UplinkSlot = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "horus_uplink_slot",
		Help: "Uplink timeslot held by this station, -1 when unassigned.",
	})
	TxQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "horus_lora_tx_queue_depth",
		Help: "Frames waiting in the TX queue.",
	})
	TransmitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "horus_lora_tx_duration_seconds",
		Help:    "Time from FIFO write to TX complete.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
	})
)

func ObserveTransmit(start time.Time) {
	TransmitDuration.Observe(time.Since(start).Seconds())
}

func crcLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveReceive records one received frame.
func ObserveReceive(crcOK bool, rssi int, snr float64) {
	PacketsReceived.WithLabelValues(crcLabel(crcOK)).Inc()
	PacketRSSI.Set(float64(rssi))
	PacketSNR.Set(snr)
}
