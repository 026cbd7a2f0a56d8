package radio

import (
	"fmt"
	"time"
)

// Bandwidth in Hz.
type Bandwidth int64

const (
	BW125k Bandwidth = 125_000
	BW250k Bandwidth = 250_000
	BW500k Bandwidth = 500_000
)

// CodingRate n means 4/(4+n).
type CodingRate uint8

const (
	CR4_5 CodingRate = 1
	CR4_6 CodingRate = 2
	CR4_7 CodingRate = 3
	CR4_8 CodingRate = 4
)

type SpreadFactor uint8

func (sf SpreadFactor) ChipsPerSymbol() int64 { return 1 << sf }

// ModemConfig is the channel setup shared with the payloads.
type ModemConfig struct {
	Bandwidth      Bandwidth
	SpreadFactor   SpreadFactor
	CodingRate     CodingRate
	LDRO           bool
	CRC            bool
	ExplicitHeader bool
	PreambleLength uint16
	MaxPayload     int
	// TxSettle is how long the modem needs in TX before completion can be
	// polled reliably.
	TxSettle time.Duration
}

// Preset returns one of the three channel modes flown by Horus payloads:
// 0 slow, 1 fast, 2 really fast.
func Preset(mode int) (ModemConfig, error) {
	cfg := ModemConfig{
		Bandwidth:      BW125k,
		CodingRate:     CR4_8,
		CRC:            true,
		ExplicitHeader: true,
		PreambleLength: 8,
		MaxPayload:     255,
	}
	switch mode {
	case 0:
		cfg.SpreadFactor, cfg.LDRO, cfg.TxSettle = 10, true, 500*time.Millisecond
	case 1:
		cfg.SpreadFactor, cfg.LDRO, cfg.TxSettle = 8, true, 1200*time.Millisecond
	case 2:
		cfg.Bandwidth = BW250k
		cfg.SpreadFactor, cfg.LDRO, cfg.TxSettle = 7, false, 400*time.Millisecond
	default:
		return ModemConfig{}, fmt.Errorf("unknown radio mode %d (allowed: 0, 1, 2)", mode)
	}
	return cfg, nil
}

// TimeOnAir estimates the airtime of an n byte frame (SX1276 datasheet
// formula, rounded up).
func (c ModemConfig) TimeOnAir(n int) time.Duration {
	if c.Bandwidth == 0 {
		return 0
	}
	b2i := func(b bool) int64 {
		if b {
			return 1
		}
		return 0
	}
	sf := int64(c.SpreadFactor)
	implicit := 1 - b2i(c.ExplicitHeader)
	symbols := 8*int64(n) - 4*sf + 28 + 16*b2i(c.CRC) - 20*implicit
	div := 4 * (sf - 2*b2i(c.LDRO))
	if symbols < 0 || div <= 0 {
		symbols = 0
	} else {
		symbols = (symbols + div - 1) / div * (int64(c.CodingRate) + 4)
	}
	symbols += 8 + int64(c.PreambleLength) + 5
	return time.Second * time.Duration(symbols*c.SpreadFactor.ChipsPerSymbol()) / time.Duration(c.Bandwidth)
}

// TxTimeout bounds AwaitTxComplete for an n byte frame.
func (c ModemConfig) TxTimeout(n int) time.Duration {
	return c.TxSettle + 2*c.TimeOnAir(n) + time.Second
}
