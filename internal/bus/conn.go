// Package bus bridges the gateway to the local UDP broadcast bus. Every
// message is a single JSON object per datagram with a mandatory "type".
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/projecthorus/horus-utils/internal/gateway"
	"github.com/projecthorus/horus-utils/internal/metrics"
	"github.com/projecthorus/horus-utils/internal/types"
)

const (
	DefaultPort          = 55672
	DefaultBroadcastAddr = "255.255.255.255"
	// MaxDatagram is the largest inbound datagram accepted.
	MaxDatagram      = 2048
	InboundQueueSize = 128

	readTimeout = time.Second
	// dropReportInterval limits ERROR broadcasts for inbound drops.
	dropReportInterval = time.Second
)

var ErrInboundQueueFull = errors.New("UDP inbound queue is full.")

type Config struct {
	Port          int
	BroadcastAddr string
	Logger        *slog.Logger
}

// Conn owns the sending and listening sockets of the bus.
type Conn struct {
	send     net.PacketConn
	recv     net.PacketConn
	target   *net.UDPAddr
	fallback *net.UDPAddr
	log      *slog.Logger
}

// Open binds both bus sockets. Port 0 binds an ephemeral listening port,
// which tests use; broadcasts then go to that same port.
func Open(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.BroadcastAddr == "" {
		cfg.BroadcastAddr = DefaultBroadcastAddr
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	lc := listenConfig()

	recv, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("bus: listen on port %d: %w", cfg.Port, err)
	}
	port := recv.LocalAddr().(*net.UDPAddr).Port

	send, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		_ = recv.Close()
		return nil, fmt.Errorf("bus: open broadcast socket: %w", err)
	}

	target, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.BroadcastAddr, strconv.Itoa(port)))
	if err != nil {
		_ = recv.Close()
		_ = send.Close()
		return nil, fmt.Errorf("bus: resolve broadcast address: %w", err)
	}

	return &Conn{
		send:     send,
		recv:     recv,
		target:   target,
		fallback: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		log:      cfg.Logger.With("component", "bus"),
	}, nil
}

// Port is the bus port the listener is bound to.
func (c *Conn) Port() int { return c.fallback.Port }

// Emit broadcasts m. If the broadcast cannot be sent the message goes to
// the loopback address instead so local clients still see it.
func (c *Conn) Emit(m types.Message) {
	b, err := json.Marshal(m)
	if err != nil {
		c.log.Error("failed to encode bus message", "type", m.MessageType(), "error", err)
		return
	}
	if err := c.Send(b); err != nil {
		c.log.Warn("bus send failed", "type", m.MessageType(), "error", err)
	}
}

// Send writes one raw datagram to the bus.
func (c *Conn) Send(b []byte) error {
	_, err := c.send.WriteTo(b, c.target)
	if err == nil {
		return nil
	}
	c.log.Debug("broadcast failed, using loopback", "error", err)
	if _, err := c.send.WriteTo(b, c.fallback); err != nil {
		return fmt.Errorf("send to %s: %w", c.fallback, err)
	}
	return nil
}

// Listen reads datagrams into out until ctx is cancelled. Datagrams that do
// not fit in out are dropped and reported on emit as an ERROR, at most once
// per second. emit may be nil.
func (c *Conn) Listen(ctx context.Context, out chan<- []byte, emit gateway.Emitter) error {
	buf := make([]byte, MaxDatagram)
	var lastReport time.Time
	c.log.Info("bus listener started", "addr", c.recv.LocalAddr().String())
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.recv.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("bus: set read deadline: %w", err)
		}
		n, _, err := c.recv.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("bus: read: %w", err)
		}
		datagram := append([]byte(nil), buf[:n]...)
		select {
		case out <- datagram:
		default:
			metrics.QueueDrops.WithLabelValues("inbound").Inc()
			c.log.Warn("inbound queue full, datagram dropped", "len", n)
			if emit != nil && time.Since(lastReport) >= dropReportInterval {
				lastReport = time.Now()
				emit.Emit(types.NewError(ErrInboundQueueFull.Error()))
			}
		}
	}
}

func (c *Conn) Close() error {
	return errors.Join(c.recv.Close(), c.send.Close())
}
