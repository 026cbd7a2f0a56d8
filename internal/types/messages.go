// Package types holds the JSON messages carried on the UDP bus. Field names
// and units are a contract with every bus consumer.
package types

import (
	"encoding/json"
	"time"

	"github.com/projecthorus/horus-utils/internal/radio"
)

// Message type tags.
const (
	TypeTxPacket    = "TXPKT"
	TypeTxQueued    = "TXQUEUED"
	TypeTxDone      = "TXDONE"
	TypeStatus      = "STATUS"
	TypeRxPacket    = "RXPKT"
	TypePing        = "PING"
	TypePong        = "PONG"
	TypeRF          = "RF"
	TypeLowPriority = "LOWPRIORITY"
	TypeError       = "ERROR"
)

// TimestampLayout is naive UTC ISO-8601 with microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000"

func Timestamp(t time.Time) string { return t.UTC().Format(TimestampLayout) }

// Message is any outbound bus message.
type Message interface {
	MessageType() string
}

// Envelope is decoded first to route an inbound datagram.
type Envelope struct {
	Type string `json:"type"`
}

type Status struct {
	Type              string            `json:"type"`
	Timestamp         string            `json:"timestamp"`
	RSSI              int               `json:"rssi"`
	Status            radio.ModemStatus `json:"status"`
	TxQueueSize       int               `json:"txqueuesize"`
	Frequency         float64           `json:"frequency"`
	UplinkCallsign    string            `json:"uplink_callsign"`
	UplinkSlotID      int               `json:"uplink_slot_id"`
	UplinkDestination int               `json:"uplink_destination"`
	UplinkHoldoff     int               `json:"uplink_holdoff"`
}

func (Status) MessageType() string { return TypeStatus }

func (m Status) MarshalJSON() ([]byte, error) {
	type alias Status
	m.Type = TypeStatus
	return json.Marshal(alias(m))
}

type RxPacket struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	Payload   Payload        `json:"payload"`
	SNR       float64        `json:"snr"`
	RSSI      int            `json:"rssi"`
	PktFlags  radio.IRQFlags `json:"pkt_flags"`
	FreqError int            `json:"freq_error"`
}

func (RxPacket) MessageType() string { return TypeRxPacket }

func (m RxPacket) MarshalJSON() ([]byte, error) {
	type alias RxPacket
	m.Type = TypeRxPacket
	return json.Marshal(alias(m))
}

// TxQueued and TxDone share a shape.
type TxQueued struct {
	Type        string  `json:"type"`
	Timestamp   string  `json:"timestamp"`
	Payload     Payload `json:"payload"`
	TxQueueSize int     `json:"txqueuesize"`
}

func (TxQueued) MessageType() string { return TypeTxQueued }

func (m TxQueued) MarshalJSON() ([]byte, error) {
	type alias TxQueued
	m.Type = TypeTxQueued
	return json.Marshal(alias(m))
}

type TxDone struct {
	Type        string  `json:"type"`
	Timestamp   string  `json:"timestamp"`
	Payload     Payload `json:"payload"`
	TxQueueSize int     `json:"txqueuesize"`
}

func (TxDone) MessageType() string { return TypeTxDone }

func (m TxDone) MarshalJSON() ([]byte, error) {
	type alias TxDone
	m.Type = TypeTxDone
	return json.Marshal(alias(m))
}

type Error struct {
	Type string `json:"type"`
	Str  string `json:"str"`
}

func NewError(s string) Error { return Error{Type: TypeError, Str: s} }

func (Error) MessageType() string { return TypeError }

func (m Error) MarshalJSON() ([]byte, error) {
	type alias Error
	m.Type = TypeError
	return json.Marshal(alias(m))
}

type Pong struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (Pong) MessageType() string { return TypePong }

func (m Pong) MarshalJSON() ([]byte, error) {
	type alias Pong
	m.Type = TypePong
	if len(m.Data) == 0 {
		m.Data = json.RawMessage("null")
	}
	return json.Marshal(alias(m))
}

// Inbound messages. Optional fields are pointers so presence can be told
// apart from zero values.

type TxPacket struct {
	Payload     Payload  `json:"payload"`
	Destination *int     `json:"destination,omitempty"`
	Timeout     *float64 `json:"timeout,omitempty"`
}

type Ping struct {
	Data json.RawMessage `json:"data"`
}

type RF struct {
	Frequency *float64 `json:"frequency"`
}

type LowPriority struct {
	Callsign    *string         `json:"callsign,omitempty"`
	Destination *int            `json:"destination,omitempty"`
	Payload     *Payload        `json:"payload,omitempty"`
	Reset       json.RawMessage `json:"reset,omitempty"`
}

// HasReset reports whether the reset field was present with any value.
func (m LowPriority) HasReset() bool { return len(m.Reset) > 0 }
