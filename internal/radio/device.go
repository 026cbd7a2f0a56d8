// Package radio abstracts the half-duplex LoRa transceiver owned by the
// gateway. The gateway only talks to a Device; the chip driver behind it is
// chosen at startup.
package radio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnknownDriver   = errors.New("unknown radio driver")
	ErrNotTransmitting = errors.New("radio is not transmitting")
	ErrTxTimeout       = errors.New("transmit did not complete")
	ErrClosed          = errors.New("radio closed")
)

type Mode uint8

const (
	ModeSleep Mode = iota
	ModeStandby
	ModeRXContinuous
	ModeTX
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "sleep"
	case ModeStandby:
		return "standby"
	case ModeRXContinuous:
		return "rx_continuous"
	case ModeTX:
		return "tx"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Device exposes the register level primitives of an SX127x style modem.
// A Device is owned by a single goroutine and is not safe for concurrent use
// unless the implementation says otherwise.
type Device interface {
	Configure(cfg ModemConfig, freqMHz float64) error
	SetMode(m Mode) error
	SetFrequency(mhz float64) error

	// RSSI is the current channel RSSI in dBm.
	RSSI() (int, error)
	ModemStatus() (ModemStatus, error)

	// RxDone reports whether a received frame is waiting in the FIFO.
	RxDone() (bool, error)
	IRQFlags() (IRQFlags, error)
	ClearIRQFlags() error
	PacketSNR() (float64, error)
	PacketRSSI() (int, error)
	// FEI is the raw frequency error indicator register of the last frame.
	FEI() (uint32, error)
	ReadPayload() ([]byte, error)

	WritePayload(b []byte) error
	// AwaitTxComplete blocks until the frame started by SetMode(ModeTX) has
	// left the antenna, ctx is done, or timeout elapses.
	AwaitTxComplete(ctx context.Context, timeout time.Duration) error

	Close() error
}

// ModemStatus mirrors RegModemStat. Field names are part of the STATUS
// broadcast.
type ModemStatus struct {
	RxCodingRate    int `json:"rx_coding_rate"`
	ModemClear      int `json:"modem_clear"`
	HeaderInfoValid int `json:"header_info_valid"`
	RxOngoing       int `json:"rx_ongoing"`
	SignalSync      int `json:"signal_sync"`
	SignalDetected  int `json:"signal_detected"`
}

func ParseModemStatus(reg byte) ModemStatus {
	return ModemStatus{
		RxCodingRate:    int(reg>>5) & 0x07,
		ModemClear:      int(reg>>4) & 0x01,
		HeaderInfoValid: int(reg>>3) & 0x01,
		RxOngoing:       int(reg>>2) & 0x01,
		SignalSync:      int(reg>>1) & 0x01,
		SignalDetected:  int(reg) & 0x01,
	}
}

func (s ModemStatus) Busy() bool { return s.SignalDetected == 1 }

// IRQFlags mirrors RegIrqFlags. It is published verbatim as RXPKT pkt_flags.
type IRQFlags struct {
	RxTimeout    int `json:"rx_timeout"`
	RxDone       int `json:"rx_done"`
	CRCError     int `json:"crc_error"`
	ValidHeader  int `json:"valid_header"`
	TxDone       int `json:"tx_done"`
	CadDone      int `json:"cad_done"`
	FhssChangeCh int `json:"fhss_change_ch"`
	CadDetected  int `json:"cad_detected"`
}

func ParseIRQFlags(reg byte) IRQFlags {
	bit := func(n uint) int { return int(reg>>n) & 0x01 }
	return IRQFlags{
		RxTimeout:    bit(7),
		RxDone:       bit(6),
		CRCError:     bit(5),
		ValidHeader:  bit(4),
		TxDone:       bit(3),
		CadDone:      bit(2),
		FhssChangeCh: bit(1),
		CadDetected:  bit(0),
	}
}

func (f IRQFlags) CRCOK() bool { return f.CRCError == 0 }

// FreqErrorHz converts a raw FEI register value into the frequency error
// reported on the bus.
func FreqErrorHz(fei uint32) int {
	return -1 * int((float64(fei&0x0FFFFF)*(1<<24)/32e6)*(125e6/500e6))
}

// Open returns the Device for a configured driver name.
func Open(driver string, sim SimOptions) (Device, error) {
	switch driver {
	case "sim":
		return NewSim(sim), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, driver)
	}
}
