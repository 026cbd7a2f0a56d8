package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/projecthorus/horus-utils/internal/gateway"
	"github.com/projecthorus/horus-utils/internal/metrics"
	"github.com/projecthorus/horus-utils/internal/types"
)

const (
	// DefaultTxTimeout applies to TXPKT reservations without a timeout.
	DefaultTxTimeout = 15 * time.Second
	// MaxTxTimeout caps the timeout a client may request.
	MaxTxTimeout = 24 * time.Hour
)

// Commands is the part of the radio loop the bus can drive.
type Commands interface {
	Enqueue(payload []byte) (int, error)
	Reserve(payload []byte, dest int, timeout time.Duration) (int, error)
	StageFrequency(mhz float64) error
	StageLowPriority(u gateway.LowPriorityUpdate) error
}

type DispatcherOptions struct {
	TxTimeout time.Duration
	Now       func() time.Time
	Logger    *slog.Logger
}

// Dispatcher turns inbound datagrams into radio loop commands.
type Dispatcher struct {
	cmds      Commands
	emit      gateway.Emitter
	txTimeout time.Duration
	now       func() time.Time
	log       *slog.Logger
}

func NewDispatcher(cmds Commands, emit gateway.Emitter, opts DispatcherOptions) *Dispatcher {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultTxTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		cmds:      cmds,
		emit:      emit,
		txTimeout: opts.TxTimeout,
		now:       opts.Now,
		log:       opts.Logger.With("component", "dispatcher"),
	}
}

// Run handles datagrams from in until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, in <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-in:
			d.Handle(b)
		}
	}
}

// Handle processes one datagram. Anything that is not a well formed
// command is logged and discarded; the gateway's own broadcasts arrive here
// too.
func (d *Dispatcher) Handle(b []byte) {
	var env types.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		d.invalid("malformed json", err)
		return
	}

	switch env.Type {
	case types.TypeTxPacket:
		var m types.TxPacket
		if !d.decode(b, &m) {
			return
		}
		d.txPacket(m)
	case types.TypePing:
		var m types.Ping
		if !d.decode(b, &m) {
			return
		}
		d.emit.Emit(types.Pong{Data: m.Data})
	case types.TypeRF:
		var m types.RF
		if !d.decode(b, &m) || m.Frequency == nil {
			return
		}
		if err := d.cmds.StageFrequency(*m.Frequency); err != nil {
			d.reject(err)
		}
	case types.TypeLowPriority:
		var m types.LowPriority
		if !d.decode(b, &m) {
			return
		}
		d.lowPriority(m)
	case types.TypeStatus, types.TypeRxPacket, types.TypeTxQueued, types.TypeTxDone,
		types.TypePong, types.TypeError:
		return
	default:
		d.invalid("unknown message type", nil, "type", env.Type)
		return
	}
	metrics.BusCommands.WithLabelValues(env.Type).Inc()
}

func (d *Dispatcher) decode(b []byte, v any) bool {
	if err := json.Unmarshal(b, v); err != nil {
		d.invalid("bad message fields", err)
		return false
	}
	return true
}

func (d *Dispatcher) invalid(msg string, err error, args ...any) {
	metrics.BusInvalid.Inc()
	if err != nil {
		args = append(args, "error", err)
	}
	d.log.Debug(msg, args...)
}

func (d *Dispatcher) reject(err error) {
	d.log.Warn("command rejected", "error", err)
	d.emit.Emit(types.NewError(err.Error()))
}

func (d *Dispatcher) txPacket(m types.TxPacket) {
	var (
		size int
		err  error
	)
	if len(m.Payload) == 0 {
		d.invalid("tx packet without payload", nil)
		return
	}
	if m.Destination != nil {
		timeout := d.txTimeout
		if m.Timeout != nil {
			var ok bool
			if timeout, ok = txTimeout(*m.Timeout); !ok {
				d.invalid("bad tx timeout", nil, "timeout", *m.Timeout)
				return
			}
		}
		size, err = d.cmds.Reserve(m.Payload, *m.Destination, timeout)
	} else {
		size, err = d.cmds.Enqueue(m.Payload)
	}
	if err != nil {
		d.reject(err)
		return
	}
	d.log.Debug("tx packet queued", "len", len(m.Payload), "reserved", m.Destination != nil)
	d.emit.Emit(types.TxQueued{
		Timestamp:   types.Timestamp(d.now()),
		Payload:     m.Payload,
		TxQueueSize: size,
	})
}

// txTimeout converts a timeout in seconds, rejecting values that are not
// positive and finite.
func txTimeout(sec float64) (time.Duration, bool) {
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec <= 0 {
		return 0, false
	}
	if sec >= MaxTxTimeout.Seconds() {
		return MaxTxTimeout, true
	}
	return time.Duration(sec * float64(time.Second)), true
}

func (d *Dispatcher) lowPriority(m types.LowPriority) {
	u := gateway.LowPriorityUpdate{
		Callsign:    m.Callsign,
		Destination: m.Destination,
		Reset:       m.HasReset(),
	}
	if m.Payload != nil {
		p := []byte(*m.Payload)
		u.Payload = &p
	}
	if err := d.cmds.StageLowPriority(u); err != nil {
		d.reject(err)
	}
}
