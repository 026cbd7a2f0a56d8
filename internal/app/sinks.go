package app

import (
	"context"
	"log/slog"

	"github.com/projecthorus/horus-utils/internal/gateway"
	"github.com/projecthorus/horus-utils/internal/metrics"
	"github.com/projecthorus/horus-utils/internal/types"
)

const sinkQueueSize = 256

// sink is a secondary consumer of bus messages.
type sink struct {
	name   string
	record func(ctx context.Context, m types.Message) error
}

// fanout delivers every message to the UDP bus in the caller's goroutine
// and queues it for the secondary sinks. A full queue drops the message so
// the radio loop never waits on MQTT, SQLite, Redis or WebSocket clients.
type fanout struct {
	bus    gateway.Emitter
	sinks  []sink
	events chan types.Message
	log    *slog.Logger
}

func newFanout(bus gateway.Emitter, logger *slog.Logger, sinks ...sink) *fanout {
	return &fanout{
		bus:    bus,
		sinks:  sinks,
		events: make(chan types.Message, sinkQueueSize),
		log:    logger.With("component", "sinks"),
	}
}

func (f *fanout) Emit(m types.Message) {
	f.bus.Emit(m)
	if len(f.sinks) == 0 {
		return
	}
	select {
	case f.events <- m:
	default:
		metrics.SinkDrops.Inc()
	}
}

// Run drains the queue into the sinks until ctx is cancelled.
func (f *fanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-f.events:
			for _, s := range f.sinks {
				if err := s.record(ctx, m); err != nil {
					f.log.Warn("sink failed", "sink", s.name, "type", m.MessageType(), "error", err)
				}
			}
		}
	}
}
