package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level

	RadioDriver  string
	RadioMode    int
	FrequencyMHz float64
	FreqMinMHz   float64
	FreqMaxMHz   float64

	UplinkCallsign  string
	UplinkPayloadID int

	UDPPort          int
	UDPBroadcastAddr string

	PollInterval   time.Duration
	StatusThrottle int
	TxQueueSize    int
	TxTimeout      time.Duration
	SenseChecks    int

	SimPayloadID int
	SimPeriod    time.Duration

	// HTTPAddr is empty when the HTTP API is disabled.
	HTTPAddr string

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string

	SQLitePath string

	RedisAddr string
	RedisDB   int
	RedisTTL  time.Duration
}

// source resolves a key from the environment first, then from the optional
// INI file named by CONFIG_FILE. INI keys are the lower-cased variable
// names and may sit in any section.
type source struct {
	file *ini.File
}

func newSource() (source, error) {
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		return source{}, nil
	}
	f, err := ini.Load(path)
	if err != nil {
		return source{}, fmt.Errorf("CONFIG_FILE %q: %w", path, err)
	}
	return source{file: f}, nil
}

func (s source) lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v), true
	}
	if s.file == nil {
		return "", false
	}
	name := strings.ToLower(key)
	for _, sec := range s.file.Sections() {
		if sec.HasKey(name) {
			return strings.TrimSpace(sec.Key(name).String()), true
		}
	}
	return "", false
}

func (s source) str(key, def string) string {
	if v, _ := s.lookup(key); v != "" {
		return v
	}
	return def
}

func (s source) intValue(key string, def int) (int, error) {
	v := s.str(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func (s source) floatValue(key string, def float64) (float64, error) {
	v := s.str(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return f, nil
}

func (s source) duration(key string, def time.Duration) (time.Duration, error) {
	v := s.str(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func LoadFromEnv() (Config, error) {
	src, err := newSource()
	if err != nil {
		return Config{}, err
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		AppEnv:           src.str("APP_ENV", "dev"),
		RadioDriver:      src.str("RADIO_DRIVER", "sim"),
		UplinkCallsign:   src.str("UPLINK_CALLSIGN", ""),
		UDPBroadcastAddr: src.str("UDP_BROADCAST_ADDR", "255.255.255.255"),
		MQTTBroker:       src.str("MQTT_BROKER", ""),
		MQTTClientID:     src.str("MQTT_CLIENT_ID", "horus-lora-gateway"),
		MQTTTopicPrefix:  src.str("MQTT_TOPIC_PREFIX", "horus"),
		SQLitePath:       src.str("SQLITE_PATH", ""),
		RedisAddr:        src.str("REDIS_ADDR", ""),
	}
	switch cfg.AppEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", cfg.AppEnv)
	}

	cfg.LogLevel, err = parseLogLevel(src.str("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	// An explicitly empty HTTP_ADDR turns the HTTP API off.
	if v, ok := src.lookup("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	} else {
		cfg.HTTPAddr = ":8080"
	}

	cfg.RadioMode, err = src.intValue("RADIO_MODE", 0)
	check(err)
	cfg.FrequencyMHz, err = src.floatValue("FREQUENCY_MHZ", 431.650)
	check(err)
	cfg.FreqMinMHz, err = src.floatValue("FREQ_MIN_MHZ", 430)
	check(err)
	cfg.FreqMaxMHz, err = src.floatValue("FREQ_MAX_MHZ", 450)
	check(err)
	cfg.UplinkPayloadID, err = src.intValue("UPLINK_PAYLOAD_ID", -1)
	check(err)
	cfg.UDPPort, err = src.intValue("UDP_PORT", 55672)
	check(err)
	cfg.PollInterval, err = src.duration("POLL_INTERVAL", 50*time.Millisecond)
	check(err)
	cfg.StatusThrottle, err = src.intValue("STATUS_THROTTLE", 20)
	check(err)
	cfg.TxQueueSize, err = src.intValue("TX_QUEUE_SIZE", 32)
	check(err)
	cfg.TxTimeout, err = src.duration("TX_TIMEOUT", 15*time.Second)
	check(err)
	cfg.SenseChecks, err = src.intValue("SENSE_CHECKS", 0)
	check(err)
	cfg.SimPayloadID, err = src.intValue("SIM_PAYLOAD_ID", 1)
	check(err)
	cfg.SimPeriod, err = src.duration("SIM_PERIOD", 5*time.Second)
	check(err)
	cfg.MQTTPort, err = src.intValue("MQTT_PORT", 1883)
	check(err)
	cfg.RedisDB, err = src.intValue("REDIS_DB", 0)
	check(err)
	cfg.RedisTTL, err = src.duration("REDIS_TTL", 10*time.Minute)
	check(err)
	if len(errs) > 0 {
		return Config{}, errs[0]
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.RadioMode < 0 || c.RadioMode > 2:
		return fmt.Errorf("invalid RADIO_MODE %d (allowed: 0, 1, 2)", c.RadioMode)
	case c.FreqMinMHz >= c.FreqMaxMHz:
		return fmt.Errorf("FREQ_MIN_MHZ %.3f must be below FREQ_MAX_MHZ %.3f", c.FreqMinMHz, c.FreqMaxMHz)
	case c.FrequencyMHz <= c.FreqMinMHz || c.FrequencyMHz >= c.FreqMaxMHz:
		return fmt.Errorf("FREQUENCY_MHZ %.3f outside (%.3f, %.3f)", c.FrequencyMHz, c.FreqMinMHz, c.FreqMaxMHz)
	case c.UplinkPayloadID < -1 || c.UplinkPayloadID > 255:
		return fmt.Errorf("invalid UPLINK_PAYLOAD_ID %d (allowed: -1..255)", c.UplinkPayloadID)
	case c.UDPPort < 1 || c.UDPPort > 65535:
		return fmt.Errorf("invalid UDP_PORT %d", c.UDPPort)
	case c.StatusThrottle <= 0:
		return fmt.Errorf("STATUS_THROTTLE must be positive, got %d", c.StatusThrottle)
	case c.TxQueueSize <= 0:
		return fmt.Errorf("TX_QUEUE_SIZE must be positive, got %d", c.TxQueueSize)
	case c.SenseChecks < 0:
		return fmt.Errorf("SENSE_CHECKS must not be negative, got %d", c.SenseChecks)
	case c.SimPayloadID < 0 || c.SimPayloadID > 254:
		return fmt.Errorf("invalid SIM_PAYLOAD_ID %d (allowed: 0..254)", c.SimPayloadID)
	case c.MQTTPort < 1 || c.MQTTPort > 65535:
		return fmt.Errorf("invalid MQTT_PORT %d", c.MQTTPort)
	case c.RedisDB < 0:
		return fmt.Errorf("invalid REDIS_DB %d", c.RedisDB)
	}
	return nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
