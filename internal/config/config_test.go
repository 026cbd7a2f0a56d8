package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var envKeys = []string{
	"CONFIG_FILE", "APP_ENV", "LOG_LEVEL", "RADIO_DRIVER", "RADIO_MODE", "FREQUENCY_MHZ",
	"FREQ_MIN_MHZ", "FREQ_MAX_MHZ", "UPLINK_CALLSIGN", "UPLINK_PAYLOAD_ID", "UDP_PORT",
	"UDP_BROADCAST_ADDR", "POLL_INTERVAL", "STATUS_THROTTLE", "TX_QUEUE_SIZE", "TX_TIMEOUT",
	"SENSE_CHECKS", "SIM_PAYLOAD_ID", "SIM_PERIOD", "HTTP_ADDR", "MQTT_BROKER", "MQTT_PORT",
	"MQTT_CLIENT_ID", "MQTT_TOPIC_PREFIX", "SQLITE_PATH", "REDIS_ADDR", "REDIS_DB", "REDIS_TTL",
}

// clearEnv unsets every variable LoadFromEnv reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v, want nil", err)
	}

	want := Config{
		AppEnv:           "dev",
		LogLevel:         slog.LevelInfo,
		RadioDriver:      "sim",
		FrequencyMHz:     431.650,
		FreqMinMHz:       430,
		FreqMaxMHz:       450,
		UplinkPayloadID:  -1,
		UDPPort:          55672,
		UDPBroadcastAddr: "255.255.255.255",
		PollInterval:     50 * time.Millisecond,
		StatusThrottle:   20,
		TxQueueSize:      32,
		TxTimeout:        15 * time.Second,
		SimPayloadID:     1,
		SimPeriod:        5 * time.Second,
		HTTPAddr:         ":8080",
		MQTTPort:         1883,
		MQTTClientID:     "horus-lora-gateway",
		MQTTTopicPrefix:  "horus",
		RedisTTL:         10 * time.Minute,
	}
	if got != want {
		t.Errorf("LoadFromEnv() =\n%+v\nwant\n%+v", got, want)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", " prod ")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RADIO_MODE", "2")
	t.Setenv("FREQUENCY_MHZ", "434.2")
	t.Setenv("UPLINK_CALLSIGN", "VK5QI")
	t.Setenv("UPLINK_PAYLOAD_ID", "5")
	t.Setenv("TX_TIMEOUT", "30s")
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("MQTT_BROKER", "broker.local")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if got.AppEnv != "prod" || got.LogLevel != slog.LevelDebug {
		t.Errorf("AppEnv/LogLevel = %q/%v", got.AppEnv, got.LogLevel)
	}
	if got.RadioMode != 2 || got.FrequencyMHz != 434.2 {
		t.Errorf("RadioMode/FrequencyMHz = %d/%v", got.RadioMode, got.FrequencyMHz)
	}
	if got.UplinkCallsign != "VK5QI" || got.UplinkPayloadID != 5 {
		t.Errorf("uplink = %q/%d", got.UplinkCallsign, got.UplinkPayloadID)
	}
	if got.TxTimeout != 30*time.Second {
		t.Errorf("TxTimeout = %v", got.TxTimeout)
	}
	if got.HTTPAddr != "" {
		t.Errorf("HTTPAddr = %q, want disabled", got.HTTPAddr)
	}
	if got.MQTTBroker != "broker.local" {
		t.Errorf("MQTTBroker = %q", got.MQTTBroker)
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"app env", "APP_ENV", "staging"},
		{"uppercase app env", "APP_ENV", "DEV"},
		{"log level", "LOG_LEVEL", "verbose"},
		{"radio mode", "RADIO_MODE", "3"},
		{"frequency not a number", "FREQUENCY_MHZ", "fast"},
		{"frequency out of band", "FREQUENCY_MHZ", "450"},
		{"payload id", "UPLINK_PAYLOAD_ID", "256"},
		{"udp port", "UDP_PORT", "70000"},
		{"poll interval", "POLL_INTERVAL", "50"},
		{"negative poll interval", "POLL_INTERVAL", "-1s"},
		{"status throttle", "STATUS_THROTTLE", "0"},
		{"queue size", "TX_QUEUE_SIZE", "-1"},
		{"sense checks", "SENSE_CHECKS", "-2"},
		{"sim payload", "SIM_PAYLOAD_ID", "255"},
		{"mqtt port", "MQTT_PORT", "x"},
		{"missing config file", "CONFIG_FILE", "/nonexistent/horus.ini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFromEnv(); err == nil {
				t.Fatalf("LoadFromEnv() with %s=%q: error = nil, want non-nil", tt.key, tt.val)
			}
		})
	}
}

func TestLoadFromEnv_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "gateway.ini")
	contents := `
[radio]
frequency_mhz = 434.650
radio_mode = 1

[uplink]
uplink_callsign = VK5QI
uplink_payload_id = 3

[bus]
udp_port = 55690
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("UDP_PORT", "55700")

	got, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if got.FrequencyMHz != 434.650 || got.RadioMode != 1 {
		t.Errorf("radio = %v/%d", got.FrequencyMHz, got.RadioMode)
	}
	if got.UplinkCallsign != "VK5QI" || got.UplinkPayloadID != 3 {
		t.Errorf("uplink = %q/%d", got.UplinkCallsign, got.UplinkPayloadID)
	}
	if got.UDPPort != 55700 {
		t.Errorf("UDPPort = %d, want env to win over file", got.UDPPort)
	}
}
