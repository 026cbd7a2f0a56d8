package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/projecthorus/horus-utils/internal/packets"
)

// SimOptions configures the emulated payload behind a Sim.
type SimOptions struct {
	// PayloadID is the id the emulated payload beacons with.
	PayloadID uint8
	// Period between telemetry beacons. Zero disables beaconing.
	Period time.Duration
	// Latitude and Longitude of the emulated payload.
	Latitude  float32
	Longitude float32
	Now       func() time.Time
}

type simFrame struct {
	payload  []byte
	crcError bool
}

// Sim is an in-memory Device that plays the part of an airborne payload: it
// beacons telemetry advertising its uplink slots, grants slots to ground
// stations that ask for one and acknowledges commands addressed to it.
//
// Sim is safe for concurrent use so tests can inject frames while the radio
// loop owns it.
type Sim struct {
	mu   sync.Mutex
	opts SimOptions

	cfg  ModemConfig
	freq float64
	mode Mode
	busy bool

	queue   []simFrame
	latched *simFrame
	irq     IRQFlags
	fifo    []byte
	sent    [][]byte
	closed  bool

	nextBeacon  time.Time
	counter     uint16
	slots       []string
	currentSlot int
}

func NewSim(opts SimOptions) *Sim {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sim{opts: opts, mode: ModeSleep}
}

func (s *Sim) Configure(cfg ModemConfig, freqMHz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.cfg = cfg
	s.freq = freqMHz
	s.mode = ModeStandby
	return nil
}

func (s *Sim) SetMode(m Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.mode = m
	if m == ModeTX {
		s.transmitLocked()
	}
	return nil
}

func (s *Sim) SetFrequency(mhz float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freq = mhz
	return nil
}

// Frequency returns the last frequency set on the device.
func (s *Sim) Frequency() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freq
}

func (s *Sim) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Sim) RSSI() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return -80, nil
	}
	return -120, nil
}

func (s *Sim) ModemStatus() (ModemStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := ModemStatus{ModemClear: 1}
	if s.busy {
		st = ModemStatus{RxOngoing: 1, SignalDetected: 1}
	}
	return st, nil
}

func (s *Sim) RxDone() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if s.mode != ModeRXContinuous {
		return false, nil
	}
	if s.latched == nil {
		s.latchLocked()
	}
	return s.latched != nil, nil
}

func (s *Sim) latchLocked() {
	if len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		s.latched = &f
	} else if s.opts.Period > 0 {
		now := s.opts.Now()
		if s.nextBeacon.IsZero() || !now.Before(s.nextBeacon) {
			s.nextBeacon = now.Add(s.opts.Period)
			s.latched = &simFrame{payload: s.beaconLocked(now)}
		}
	}
	if s.latched != nil {
		s.irq = IRQFlags{RxDone: 1, ValidHeader: 1}
		if s.latched.crcError {
			s.irq.CRCError = 1
		}
	}
}

func (s *Sim) beaconLocked(now time.Time) []byte {
	now = now.UTC()
	s.counter++
	used := len(s.slots)
	t := packets.Telemetry{
		PayloadID:   s.opts.PayloadID,
		Counter:     s.counter,
		Hour:        uint8(now.Hour()),
		Minute:      uint8(now.Minute()),
		Second:      uint8(now.Second()),
		Latitude:    s.opts.Latitude,
		Longitude:   s.opts.Longitude,
		Altitude:    1000,
		Sats:        8,
		BatteryRaw:  200,
		RSSIRaw:     uint8(164 - 110),
		UplinkSlots: packets.SlotByte(used, s.currentSlot),
	}
	s.currentSlot = (s.currentSlot + 1) % (used + 1)
	return packets.EncodeTelemetry(t)
}

func (s *Sim) IRQFlags() (IRQFlags, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.irq, nil
}

func (s *Sim) ClearIRQFlags() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq = IRQFlags{}
	return nil
}

func (s *Sim) PacketSNR() (float64, error) { return 9.5, nil }

func (s *Sim) PacketRSSI() (int, error) { return -97, nil }

func (s *Sim) FEI() (uint32, error) { return 0, nil }

func (s *Sim) ReadPayload() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latched == nil {
		return nil, fmt.Errorf("read payload: fifo empty")
	}
	b := s.latched.payload
	s.latched = nil
	return b, nil
}

func (s *Sim) WritePayload(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.fifo = append(s.fifo[:0], b...)
	return nil
}

func (s *Sim) AwaitTxComplete(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeTX {
		return ErrNotTransmitting
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mode = ModeStandby
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.mode = ModeSleep
	return nil
}

// transmitLocked handles a frame as the emulated payload would hear it.
func (s *Sim) transmitLocked() {
	frame := append([]byte(nil), s.fifo...)
	s.sent = append(s.sent, frame)
	s.irq = IRQFlags{TxDone: 1}

	t, err := packets.DecodeType(frame)
	if err != nil {
		return
	}
	switch t {
	case packets.TypeSlotRequest:
		req, err := packets.DecodeSlotRequest(frame)
		if err != nil || req.IsResponse() || req.SourceID != s.opts.PayloadID {
			return
		}
		slot := s.grantLocked(req.Callsign)
		self, _ := packets.Specific(s.opts.PayloadID)
		s.queue = append(s.queue, simFrame{payload: packets.EncodeSlotResponse(self, req.Callsign, slot)})
	case packets.TypeCutdown, packets.TypeParamChange:
		cmd, err := packets.DecodeCommand(frame)
		if err != nil || cmd.Destination != s.opts.PayloadID {
			return
		}
		if cmd.Type == packets.TypeParamChange && cmd.Arg1 == packets.ParamResetSlots {
			s.slots = nil
			s.currentSlot = 0
		}
		s.queue = append(s.queue, simFrame{payload: packets.EncodeCommandAck(s.opts.PayloadID, -97, 9.5, cmd)})
	}
}

func (s *Sim) grantLocked(callsign string) uint8 {
	for i, c := range s.slots {
		if c == callsign {
			return uint8(i + 1)
		}
	}
	if len(s.slots) >= 15 {
		// Low nibble of the slot byte is exhausted; hand out the last slot again.
		return 15
	}
	s.slots = append(s.slots, callsign)
	return uint8(len(s.slots))
}

// Inject queues a frame for reception.
func (s *Sim) Inject(payload []byte, crcError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, simFrame{payload: append([]byte(nil), payload...), crcError: crcError})
}

// SetBusy makes the channel look occupied to ModemStatus.
func (s *Sim) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
}

// Transmitted returns a copy of every frame sent so far.
func (s *Sim) Transmitted() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	for i, f := range s.sent {
		out[i] = append([]byte(nil), f...)
	}
	return out
}
