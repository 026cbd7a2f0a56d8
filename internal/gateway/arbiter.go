// Package gateway runs the radio loop: it owns the LoRa device, publishes
// what it hears and decides which pending frame, if any, goes on air next.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/projecthorus/horus-utils/internal/metrics"
	"github.com/projecthorus/horus-utils/internal/packets"
	"github.com/projecthorus/horus-utils/internal/radio"
	"github.com/projecthorus/horus-utils/internal/slots"
	"github.com/projecthorus/horus-utils/internal/types"
	"github.com/projecthorus/horus-utils/internal/utils"
)

// Emitter receives every message the gateway broadcasts.
type Emitter interface {
	Emit(types.Message)
}

const (
	DefaultPollInterval      = 50 * time.Millisecond
	DefaultStatusThrottle    = 20
	DefaultTxQueueSize       = 32
	DefaultSettingsQueueSize = 10

	maxSenseJitter = 200 * time.Millisecond
)

type Options struct {
	Device  radio.Device
	Modem   radio.ModemConfig
	Emitter Emitter
	Logger  *slog.Logger

	Frequency float64
	// Frequencies outside (FreqMin, FreqMax) are refused.
	FreqMin float64
	FreqMax float64

	Callsign string
	// Destination is the uplink payload id, -1 for none.
	Destination int

	PollInterval      time.Duration
	StatusThrottle    int
	TxQueueSize       int
	SettingsQueueSize int
	// SenseChecks is how many times the channel must look idle before a
	// queued frame is sent.
	SenseChecks int
	Timing      Timing

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	Rand  *rand.Rand
}

// Arbiter is the single owner of the radio and of State. Its command methods
// are safe to call from other goroutines.
type Arbiter struct {
	opts Options
	dev  radio.Device
	emit Emitter
	log  *slog.Logger

	state       State
	txq         chan []byte
	reservation reservationSlot
	settings    chan setting

	polls    int
	lastPoll atomic.Int64
}

func New(opts Options) (*Arbiter, error) {
	if opts.Device == nil {
		return nil, errors.New("gateway: nil device")
	}
	if opts.Emitter == nil {
		return nil, errors.New("gateway: nil emitter")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StatusThrottle <= 0 {
		opts.StatusThrottle = DefaultStatusThrottle
	}
	if opts.TxQueueSize <= 0 {
		opts.TxQueueSize = DefaultTxQueueSize
	}
	if opts.SettingsQueueSize <= 0 {
		opts.SettingsQueueSize = DefaultSettingsQueueSize
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if !opts.frequencyOK(opts.Frequency) {
		return nil, fmt.Errorf("gateway: frequency %.3f MHz: %w", opts.Frequency, ErrInvalidFrequency)
	}
	dest, hasDest, err := parseUplinkDestination(opts.Destination)
	if err != nil {
		return nil, fmt.Errorf("gateway: uplink destination %d: %w", opts.Destination, err)
	}

	return &Arbiter{
		opts: opts,
		dev:  opts.Device,
		emit: opts.Emitter,
		log:  opts.Logger.With("component", "radio"),
		state: State{
			Frequency:      opts.Frequency,
			Slots:          slots.New(),
			Callsign:       normalizeCallsign(opts.Callsign),
			Destination:    dest,
			HasDestination: hasDest,
		},
		txq:      make(chan []byte, opts.TxQueueSize),
		settings: make(chan setting, opts.SettingsQueueSize),
	}, nil
}

func (o Options) frequencyOK(mhz float64) bool {
	return mhz > o.FreqMin && mhz < o.FreqMax
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LastPoll is the time the radio loop last polled the device. The zero time
// means the loop has not started.
func (a *Arbiter) LastPoll() time.Time {
	ns := a.lastPoll.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Run configures the device and polls it until ctx is cancelled. The device
// is left in sleep mode on return.
func (a *Arbiter) Run(ctx context.Context) error {
	if err := a.start(); err != nil {
		return err
	}
	defer a.stop()

	a.log.Info("radio loop started",
		"frequency", a.state.Frequency,
		"callsign", a.state.Callsign,
		"uplink_destination", a.state.UplinkDestination(),
	)
	for {
		if err := a.opts.Sleep(ctx, a.opts.PollInterval); err != nil {
			a.log.Info("radio loop stopping")
			return nil
		}
		if err := a.step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (a *Arbiter) start() error {
	if err := a.dev.Configure(a.opts.Modem, a.state.Frequency); err != nil {
		return fmt.Errorf("configure radio: %w", err)
	}
	if err := a.dev.SetMode(radio.ModeRXContinuous); err != nil {
		return fmt.Errorf("enter rx mode: %w", err)
	}
	metrics.UplinkSlot.Set(float64(a.state.Slots.Slot))
	return nil
}

func (a *Arbiter) stop() {
	if err := a.dev.SetMode(radio.ModeSleep); err != nil {
		a.log.Warn("failed to put radio to sleep", "error", err)
	}
}

// step is one poll of the radio loop. Only a closed device is fatal; other
// device errors are logged and the next poll retries.
func (a *Arbiter) step(ctx context.Context) error {
	a.lastPoll.Store(a.opts.Now().UnixNano())

	rssi, err := a.dev.RSSI()
	if err != nil {
		return a.deviceError("read rssi", err)
	}
	status, err := a.dev.ModemStatus()
	if err != nil {
		return a.deviceError("read modem status", err)
	}
	metrics.RSSI.Set(float64(rssi))

	a.polls++
	if a.polls >= a.opts.StatusThrottle {
		a.polls = 0
		a.emitStatus(rssi, status)
	}

	done, err := a.dev.RxDone()
	if err != nil {
		return a.deviceError("check rx done", err)
	}
	if done {
		if err := a.receive(ctx); err != nil {
			return err
		}
	}

	if len(a.txq) > 0 {
		a.attemptTX(ctx)
	}
	a.applySetting()
	a.sweep()
	return nil
}

func (a *Arbiter) deviceError(op string, err error) error {
	if errors.Is(err, radio.ErrClosed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	a.log.Warn("radio error", "op", op, "error", err)
	return nil
}

func (a *Arbiter) emitStatus(rssi int, status radio.ModemStatus) {
	a.emit.Emit(types.Status{
		Timestamp:         types.Timestamp(a.opts.Now()),
		RSSI:              rssi,
		Status:            status,
		TxQueueSize:       len(a.txq),
		Frequency:         a.state.Frequency,
		UplinkCallsign:    a.state.Callsign,
		UplinkSlotID:      a.state.Slots.Slot,
		UplinkDestination: a.state.UplinkDestination(),
		UplinkHoldoff:     a.state.Slots.Holdoff,
	})
}

// receive drains one frame from the device, publishes it and acts on it.
func (a *Arbiter) receive(ctx context.Context) error {
	irq, err := a.dev.IRQFlags()
	if err != nil {
		return a.deviceError("read irq flags", err)
	}
	snr, _ := a.dev.PacketSNR()
	pktRSSI, _ := a.dev.PacketRSSI()
	fei, _ := a.dev.FEI()
	payload, err := a.dev.ReadPayload()
	if err != nil {
		return a.deviceError("read payload", err)
	}
	if err := a.dev.ClearIRQFlags(); err != nil {
		a.log.Warn("failed to clear irq flags", "error", err)
	}
	// Cycle through sleep to reset the FIFO pointer.
	if err := a.dev.SetMode(radio.ModeSleep); err != nil {
		return a.deviceError("enter sleep mode", err)
	}
	if err := a.dev.SetMode(radio.ModeRXContinuous); err != nil {
		return a.deviceError("enter rx mode", err)
	}

	now := a.opts.Now()
	a.emit.Emit(types.RxPacket{
		Timestamp: types.Timestamp(now),
		Payload:   payload,
		SNR:       snr,
		RSSI:      pktRSSI,
		PktFlags:  irq,
		FreqError: radio.FreqErrorHz(fei),
	})
	metrics.ObserveReceive(irq.CRCOK(), pktRSSI, snr)
	a.log.Debug("rx packet",
		"crc_ok", irq.CRCOK(),
		"rssi", pktRSSI,
		"snr", snr,
		"summary", packets.Describe(payload),
		"data", utils.BytesToHex(payload),
	)

	obs := Observation{Payload: payload, CRCOK: irq.CRCOK(), At: now}
	var res *Reservation
	if r, ok := a.reservation.Peek(); ok {
		res = &r
	}
	a.apply(ctx, Decide(a.state, res, obs, a.opts.Timing))

	switch outcome, slot := ObserveSlotResponse(a.state, obs); outcome {
	case SlotAdopted:
		a.state.Slots.Adopt(slot)
		metrics.UplinkSlot.Set(float64(slot))
		a.log.Info("uplink slot assigned", "slot", slot)
	case SlotContended:
		n := slots.RandomBackoff(a.opts.Rand)
		a.state.Slots.Backoff(n)
		a.log.Debug("slot granted to another station", "holdoff", n)
	}
	return nil
}

func (a *Arbiter) apply(ctx context.Context, d Decision) {
	if d.Action != ActionNone {
		a.log.Debug("decision", "action", d.Action.String(), "delay", d.Delay)
	}
	switch d.Action {
	case ActionReply:
		a.reservation.Clear()
		a.transmitAfter(ctx, d.Delay, d.Frame, "reservation")
	case ActionExpireReservation:
		a.reservation.Clear()
		a.expired()
	case ActionRequestSlot:
		a.state.Slots.MarkRequested()
		a.transmitAfter(ctx, d.Delay, d.Frame, "slot_request")
	case ActionHoldoff:
		a.state.Slots.Tick()
	case ActionReleaseSlot:
		a.state.Slots.Release()
		metrics.UplinkSlot.Set(slots.Unassigned)
		a.log.Info("uplink slot released, payload reports fewer used slots")
	case ActionSendLowPriority:
		a.transmitAfter(ctx, d.Delay, d.Frame, "low_priority")
	}
}

func (a *Arbiter) expired() {
	metrics.ReservationTimeouts.Inc()
	a.log.Warn("tx-after-rx reservation timed out")
	a.emit.Emit(types.NewError(ErrReservationTimeout.Error()))
}

func (a *Arbiter) transmitAfter(ctx context.Context, d time.Duration, frame []byte, source string) {
	if err := a.opts.Sleep(ctx, d); err != nil {
		return
	}
	a.transmit(ctx, frame, source)
}

// attemptTX sends the head of the TX queue unless channel sensing finds the
// channel busy, in which case the frame stays queued for the next poll.
func (a *Arbiter) attemptTX(ctx context.Context) {
	for range a.opts.SenseChecks {
		status, err := a.dev.ModemStatus()
		if err != nil {
			a.log.Warn("radio error", "op", "sense channel", "error", err)
			return
		}
		if status.Busy() {
			metrics.ChannelBusy.Inc()
			a.log.Debug("channel busy, deferring tx")
			return
		}
		jitter := time.Duration(a.opts.Rand.Int64N(int64(maxSenseJitter)))
		if err := a.opts.Sleep(ctx, jitter); err != nil {
			return
		}
	}
	select {
	case frame := <-a.txq:
		metrics.TxQueueDepth.Set(float64(len(a.txq)))
		a.transmit(ctx, frame, "queue")
	default:
	}
}

// transmit puts one frame on air and returns the radio to RX.
func (a *Arbiter) transmit(ctx context.Context, frame []byte, source string) {
	if len(frame) > packets.MaxPayloadLength {
		frame = frame[:packets.MaxPayloadLength]
	}
	log := a.log.With("source", source, "len", len(frame))

	if err := a.dev.SetMode(radio.ModeStandby); err != nil {
		a.txFailed(log, "enter standby", err)
		return
	}
	if err := a.dev.WritePayload(frame); err != nil {
		a.txFailed(log, "write payload", err)
		return
	}
	start := time.Now()
	if err := a.dev.ClearIRQFlags(); err != nil {
		log.Warn("failed to clear irq flags", "error", err)
	}
	if err := a.dev.SetMode(radio.ModeTX); err != nil {
		a.txFailed(log, "enter tx mode", err)
		return
	}
	txErr := a.dev.AwaitTxComplete(ctx, a.opts.Modem.TxTimeout(len(frame)))
	if err := a.dev.ClearIRQFlags(); err != nil {
		log.Warn("failed to clear irq flags", "error", err)
	}
	if err := a.dev.SetMode(radio.ModeRXContinuous); err != nil {
		log.Warn("failed to return to rx mode", "error", err)
	}
	if txErr != nil {
		a.txFailed(log, "await tx complete", txErr)
		return
	}

	metrics.ObserveTransmit(start)
	metrics.PacketsTransmitted.WithLabelValues(source).Inc()
	log.Info("tx packet", "summary", packets.Describe(frame))
	a.emit.Emit(types.TxDone{
		Timestamp:   types.Timestamp(a.opts.Now()),
		Payload:     frame,
		TxQueueSize: len(a.txq),
	})
}

func (a *Arbiter) txFailed(log *slog.Logger, op string, err error) {
	metrics.TransmitErrors.Inc()
	log.Error("tx failed", "op", op, "error", err)
}

// applySetting applies at most one staged setting per poll.
func (a *Arbiter) applySetting() {
	select {
	case s := <-a.settings:
		s.apply(a)
	default:
	}
}

func (c frequencyChange) apply(a *Arbiter) {
	if !a.opts.frequencyOK(c.mhz) {
		a.emit.Emit(types.NewError(ErrInvalidFrequency.Error()))
		return
	}
	if err := a.dev.SetMode(radio.ModeStandby); err != nil {
		a.log.Warn("radio error", "op", "enter standby", "error", err)
		return
	}
	if err := a.dev.SetFrequency(c.mhz); err != nil {
		a.log.Error("failed to change frequency", "frequency", c.mhz, "error", err)
	} else {
		a.state.Frequency = c.mhz
		a.log.Info("frequency changed", "frequency", c.mhz)
	}
	if err := a.dev.SetMode(radio.ModeRXContinuous); err != nil {
		a.log.Warn("radio error", "op", "enter rx mode", "error", err)
	}
}

func (c lowPriorityChange) apply(a *Arbiter) {
	if c.callsign != nil {
		a.state.Callsign = *c.callsign
	}
	if c.setDestination {
		a.state.Destination = c.destination
		a.state.HasDestination = c.hasDestination
	}
	if c.payload != nil {
		a.state.LowPriority = *c.payload
	}
	if c.reset {
		a.state.Slots.Reset()
		metrics.UplinkSlot.Set(slots.Unassigned)
	}
	a.log.Info("uplink settings updated",
		"callsign", a.state.Callsign,
		"uplink_destination", a.state.UplinkDestination(),
		"low_priority_len", len(a.state.LowPriority),
		"reset", c.reset,
	)
}

// sweep expires a reservation whose deadline passed without the
// destination being heard.
func (a *Arbiter) sweep() {
	r, ok := a.reservation.Peek()
	if !ok || !r.Expired(a.opts.Now()) {
		return
	}
	a.reservation.Clear()
	a.expired()
}
