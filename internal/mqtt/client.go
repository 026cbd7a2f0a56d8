// Package mqtt mirrors bus traffic to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/projecthorus/horus-utils/internal/config"
	"github.com/projecthorus/horus-utils/internal/types"
)

const publishTimeout = 5 * time.Second

type Client struct {
	client    mqtt.Client
	cfg       config.Config
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.MQTTBroker == "" {
		return nil, fmt.Errorf("mqtt: no broker configured")
	}
	c := &Client{
		cfg:    cfg,
		logger: logger.With("component", "mqtt"),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort))
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		c.logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		c.logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect waits for the initial broker connection. It respects ctx and
// Disconnect; reconnects after that are handled by paho.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.client.Connect()
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// Publish mirrors one bus message. Messages are dropped while the broker is
// unreachable.
func (c *Client) Publish(m types.Message) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt client not connected")
	}
	pubs, err := Route(c.cfg.MQTTTopicPrefix, m, time.Now())
	if err != nil {
		return err
	}
	for _, p := range pubs {
		token := c.client.Publish(p.Topic, 1, p.Retained, p.Body)
		if !token.WaitTimeout(publishTimeout) {
			return fmt.Errorf("publish timeout for topic %s", p.Topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish %s: %w", p.Topic, err)
		}
		c.logger.Debug("published", "topic", p.Topic, "retained", p.Retained)
	}
	return nil
}

// Publication is one MQTT message derived from a bus message.
type Publication struct {
	Topic    string
	Body     []byte
	Retained bool
}

// Route maps a bus message to its MQTT publications. RXPKT frames holding
// intact telemetry also produce a decoded record under the payload's topic.
func Route(prefix string, m types.Message, now time.Time) ([]Publication, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.MessageType(), err)
	}

	var pubs []Publication
	switch msg := m.(type) {
	case types.RxPacket:
		pubs = append(pubs, Publication{Topic: prefix + "/rx", Body: body})
		if tlm, ok := types.TelemetryFromRx(msg, now); ok {
			b, err := json.Marshal(tlm)
			if err != nil {
				return nil, fmt.Errorf("marshal telemetry: %w", err)
			}
			pubs = append(pubs, Publication{
				Topic:    fmt.Sprintf("%s/payloads/%d/telemetry", prefix, tlm.PayloadID),
				Body:     b,
				Retained: true,
			})
		}
	case types.TxQueued, types.TxDone:
		pubs = append(pubs, Publication{Topic: prefix + "/tx", Body: body})
	case types.Status:
		pubs = append(pubs, Publication{Topic: prefix + "/status", Body: body, Retained: true})
	case types.Error:
		pubs = append(pubs, Publication{Topic: prefix + "/error", Body: body})
	}
	return pubs, nil
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect is idempotent. Connect returns an error afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	if c.client != nil {
		c.client.Disconnect(250)
	}
	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
