// Package httpapi serves the gateway's local HTTP surface: liveness,
// Prometheus metrics, a WebSocket feed of bus messages and read-only views
// of the packet log and last-known state.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/projecthorus/horus-utils/internal/db"
)

// Liveness reports when the radio loop last polled the device.
type Liveness interface {
	LastPoll() time.Time
}

// StateReader returns the last STATUS kept in the state store.
type StateReader interface {
	LatestStatus(ctx context.Context) (json.RawMessage, error)
}

type Deps struct {
	Radio Liveness
	// MaxPollAge is how stale LastPoll may be before /healthz fails.
	MaxPollAge time.Duration
	// Packets and State are optional; their routes answer 503 when nil.
	Packets db.PacketRepository
	State   StateReader
	Hub     *Hub
	Now     func() time.Time
}

func NewMux(deps Deps) *http.ServeMux {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	mux := http.NewServeMux()
	registerHealthcheck(mux, deps.Radio, deps.MaxPollAge, deps.Now)
	registerPackets(mux, deps.Packets, deps.State)
	mux.Handle("GET /metrics", promhttp.Handler())
	if deps.Hub != nil {
		mux.Handle("GET /ws", deps.Hub)
	}
	return mux
}
