// Package app wires the radio loop, the UDP bus and the optional sinks into
// one gateway process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/projecthorus/horus-utils/internal/bus"
	"github.com/projecthorus/horus-utils/internal/config"
	"github.com/projecthorus/horus-utils/internal/db"
	"github.com/projecthorus/horus-utils/internal/gateway"
	"github.com/projecthorus/horus-utils/internal/httpapi"
	"github.com/projecthorus/horus-utils/internal/mqtt"
	"github.com/projecthorus/horus-utils/internal/radio"
	"github.com/projecthorus/horus-utils/internal/store"
	"github.com/projecthorus/horus-utils/internal/types"
)

const shutdownTimeout = 5 * time.Second

// Run blocks until ctx is cancelled or a component fails. Radio faults at
// startup are returned as errors.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("initializing gateway",
		"radio_driver", cfg.RadioDriver,
		"radio_mode", cfg.RadioMode,
		"frequency", cfg.FrequencyMHz,
		"udp_port", cfg.UDPPort,
		"http_addr", cfg.HTTPAddr,
	)

	modem, err := radio.Preset(cfg.RadioMode)
	if err != nil {
		return err
	}
	dev, err := radio.Open(cfg.RadioDriver, radio.SimOptions{
		PayloadID: uint8(cfg.SimPayloadID),
		Period:    cfg.SimPeriod,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			logger.Warn("failed to close radio", "error", err)
		}
	}()

	conn, err := bus.Open(ctx, bus.Config{
		Port:          cfg.UDPPort,
		BroadcastAddr: cfg.UDPBroadcastAddr,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	var (
		sinks  []sink
		closer []func()
		repo   db.PacketRepository
		state  httpapi.StateReader
	)
	defer func() {
		for i := len(closer) - 1; i >= 0; i-- {
			closer[i]()
		}
	}()

	var mqttClient *mqtt.Client
	if cfg.MQTTBroker != "" {
		mqttClient, err = mqtt.NewClient(cfg, logger)
		if err != nil {
			return err
		}
		closer = append(closer, mqttClient.Disconnect)
		sinks = append(sinks, sink{name: "mqtt", record: func(_ context.Context, m types.Message) error {
			if !mqttClient.IsConnected() {
				return nil
			}
			return mqttClient.Publish(m)
		}})
	}

	if cfg.SQLitePath != "" {
		sqlDB, err := db.Open(ctx, db.Options{
			Path:   cfg.SQLitePath,
			LogSQL: cfg.LogLevel <= slog.LevelDebug,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		closer = append(closer, func() { _ = db.Close(sqlDB) })
		repo = db.NewRepository(sqlDB)
		sinks = append(sinks, sink{name: "sqlite", record: repo.Record})
	}

	if cfg.RedisAddr != "" {
		st, err := store.NewStore(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return err
		}
		closer = append(closer, func() { _ = st.Close() })
		state = st
		sinks = append(sinks, sink{name: "redis", record: st.Record})
	}

	var hub *httpapi.Hub
	if cfg.HTTPAddr != "" {
		hub = httpapi.NewHub(logger)
		closer = append(closer, hub.Close)
		sinks = append(sinks, sink{name: "ws", record: func(_ context.Context, m types.Message) error {
			hub.Emit(m)
			return nil
		}})
	}

	events := newFanout(conn, logger, sinks...)

	arbiter, err := gateway.New(gateway.Options{
		Device:         dev,
		Modem:          modem,
		Emitter:        events,
		Logger:         logger,
		Frequency:      cfg.FrequencyMHz,
		FreqMin:        cfg.FreqMinMHz,
		FreqMax:        cfg.FreqMaxMHz,
		Callsign:       cfg.UplinkCallsign,
		Destination:    cfg.UplinkPayloadID,
		PollInterval:   cfg.PollInterval,
		StatusThrottle: cfg.StatusThrottle,
		TxQueueSize:    cfg.TxQueueSize,
		SenseChecks:    cfg.SenseChecks,
	})
	if err != nil {
		return err
	}

	dispatcher := bus.NewDispatcher(arbiter, events, bus.DispatcherOptions{
		TxTimeout: cfg.TxTimeout,
		Logger:    logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	inbound := make(chan []byte, bus.InboundQueueSize)

	g.Go(func() error { return arbiter.Run(gctx) })
	g.Go(func() error { return conn.Listen(gctx, inbound, events) })
	g.Go(func() error { return dispatcher.Run(gctx, inbound) })
	g.Go(func() error { return events.Run(gctx) })

	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.Connect(gctx); err != nil && gctx.Err() == nil {
				logger.Error("mqtt connect failed; continuing without mirror", "error", err)
			}
			return nil
		})
	}

	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(cfg.HTTPAddr, httpapi.NewMux(httpapi.Deps{
			Radio:      arbiter,
			MaxPollAge: maxPollAge(cfg, modem),
			Packets:    repo,
			State:      state,
			Hub:        hub,
		}))
		g.Go(func() error {
			logger.Info("http listening", "addr", cfg.HTTPAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			hub.Close()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("gateway shutting down")
	return err
}

// maxPollAge allows for the longest transmit the radio loop can block on.
func maxPollAge(cfg config.Config, modem radio.ModemConfig) time.Duration {
	return modem.TxTimeout(modem.MaxPayload) + 10*cfg.PollInterval
}
